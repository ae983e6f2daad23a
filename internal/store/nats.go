package store

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/logfields"
)

// NATSStore keeps records in a JetStream key-value bucket so several machines
// can share one build cache. Snapshots live in a sibling bucket keyed by hash.
type NATSStore struct {
	conn      *nats.Conn
	records   jetstream.KeyValue
	snapshots jetstream.KeyValue
	timeout   time.Duration
}

// NewNATSStore connects to url and opens (creating if needed) bucket and
// bucket+"_snapshots".
func NewNATSStore(ctx context.Context, url, bucket string) (*NATSStore, error) {
	conn, err := nats.Connect(url, nats.Name("docstage"))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "connect to NATS").WithContext("url", url).Build()
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapError(err, errors.CategoryStore, "create JetStream context").Build()
	}

	records, err := openBucket(ctx, js, bucket, "docstage stage fingerprint records")
	if err != nil {
		conn.Close()
		return nil, err
	}
	snapshots, err := openBucket(ctx, js, bucket+"_snapshots", "docstage artifact snapshots")
	if err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("NATS fingerprint store ready", logfields.Backend("nats"), slog.String("url", url), slog.String("bucket", bucket))
	return &NATSStore{conn: conn, records: records, snapshots: snapshots, timeout: 5 * time.Second}, nil
}

func openBucket(ctx context.Context, js jetstream.JetStream, name, description string) (jetstream.KeyValue, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !stderrors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, errors.WrapError(err, errors.CategoryStore, "open KV bucket").WithContext("bucket", name).Build()
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "create KV bucket").WithContext("bucket", name).Build()
	}
	return kv, nil
}

// recordKey encodes a stage ID into the key alphabet NATS accepts.
func recordKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func (s *NATSStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the record for id.
func (s *NATSStore) Get(ctx context.Context, id string) (Record, bool, error) {
	return lenient(s.VerifyGet(ctx, id))
}

// VerifyGet reads and verifies the record for id.
func (s *NATSStore) VerifyGet(ctx context.Context, id string) (Record, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.records.Get(ctx, recordKey(id))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, errors.WrapError(err, errors.CategoryStore, "get record").WithContext("stage", id).Build()
	}
	r, err := decode(id, entry.Value())
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// Put replaces the record. A KV put is a single message, so readers never
// observe a partial value.
func (s *NATSStore) Put(ctx context.Context, r Record) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.records.Put(ctx, recordKey(r.StageID), data); err != nil {
		return errors.WrapError(err, errors.CategoryStore, "put record").WithContext("stage", r.StageID).Build()
	}
	return nil
}

// List returns every valid record sorted by stage ID.
func (s *NATSStore) List(ctx context.Context) ([]Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	keys, err := s.records.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, errors.WrapError(err, errors.CategoryStore, "list records").Build()
	}
	var out []Record
	for _, k := range keys {
		raw, err := base64.RawURLEncoding.DecodeString(k)
		if err != nil {
			continue
		}
		r, ok, err := s.Get(ctx, string(raw))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageID < out[j].StageID })
	return out, nil
}

// Delete removes the record for id.
func (s *NATSStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.records.Delete(ctx, recordKey(id)); err != nil && !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return errors.WrapError(err, errors.CategoryStore, "delete record").WithContext("stage", id).Build()
	}
	return nil
}

// PutSnapshot stores data under its content hash.
func (s *NATSStore) PutSnapshot(ctx context.Context, data []byte) (string, error) {
	hash := HashBytes(data)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.snapshots.Create(ctx, hash, data); err != nil && !stderrors.Is(err, jetstream.ErrKeyExists) {
		return "", errors.WrapError(err, errors.CategoryStore, "put snapshot").WithContext("hash", hash).Build()
	}
	return hash, nil
}

// GetSnapshot reads the bytes stored under hash.
func (s *NATSStore) GetSnapshot(ctx context.Context, hash string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	entry, err := s.snapshots.Get(ctx, hash)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("snapshot %s: %w", hash, ErrNotFound)
		}
		return nil, errors.WrapError(err, errors.CategoryStore, "get snapshot").WithContext("hash", hash).Build()
	}
	return entry.Value(), nil
}

// Close drains the connection.
func (s *NATSStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
