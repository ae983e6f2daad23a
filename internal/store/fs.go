package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/fsutil"
	"git.home.luguber.info/inful/docstage/internal/logfields"
)

// FSStore keeps records as individual files:
//
//	<state>/
//	  records/
//	    guides%2Fintro.json
//	  objects/
//	    ab/
//	      cd1234... (first 2 chars = subdir, rest = filename)
type FSStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFSStore creates the directory layout under basePath and removes leftovers
// of writers that crashed mid-update.
func NewFSStore(basePath string) (*FSStore, error) {
	for _, dir := range []string{
		filepath.Join(basePath, "records"),
		filepath.Join(basePath, "objects"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.WrapError(err, errors.CategoryStore, "create state directory").
				WithContext("path", dir).Build()
		}
	}
	s := &FSStore{basePath: basePath}
	if n, err := fsutil.RemoveStaleTemps(s.recordsDir()); err == nil && n > 0 {
		slog.Warn("Removed interrupted record writes", logfields.Path(s.recordsDir()), slog.Int("count", n))
	}
	return s, nil
}

func (s *FSStore) recordsDir() string { return filepath.Join(s.basePath, "records") }

func (s *FSStore) recordPath(id string) string {
	return filepath.Join(s.recordsDir(), url.PathEscape(id)+".json")
}

func (s *FSStore) objectPath(hash string) string {
	if len(hash) < 3 {
		return filepath.Join(s.basePath, "objects", hash)
	}
	return filepath.Join(s.basePath, "objects", hash[:2], hash[2:])
}

// Get returns the record for id.
func (s *FSStore) Get(ctx context.Context, id string) (Record, bool, error) {
	return lenient(s.VerifyGet(ctx, id))
}

// VerifyGet reads and verifies the record for id.
func (s *FSStore) VerifyGet(_ context.Context, id string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// #nosec G304 -- the path is derived from an escaped stage id under the state dir.
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, errors.WrapError(err, errors.CategoryStore, "read record").WithContext("stage", id).Build()
	}
	r, err := decode(id, data)
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// Put atomically replaces the record.
func (s *FSStore) Put(_ context.Context, r Record) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fsutil.WriteFileAtomic(s.recordPath(r.StageID), data, 0o600); err != nil {
		return errors.WrapError(err, errors.CategoryStore, "write record").WithContext("stage", r.StageID).Build()
	}
	return nil
}

// List returns every valid record sorted by stage ID. Corrupt records are skipped.
func (s *FSStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	entries, err := os.ReadDir(s.recordsDir())
	s.mu.RUnlock()
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "list records").Build()
	}

	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		r, ok, err := s.Get(ctx, id)
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

// Delete removes the record for id. Deleting an absent record is not an error.
func (s *FSStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return errors.WrapError(err, errors.CategoryStore, "delete record").WithContext("stage", id).Build()
	}
	return nil
}

// PutSnapshot stores data under its content hash.
func (s *FSStore) PutSnapshot(_ context.Context, data []byte) (string, error) {
	hash := HashBytes(data)
	p := s.objectPath(hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(p); err == nil {
		return hash, nil
	}
	if err := fsutil.WriteFileAtomic(p, data, 0o600); err != nil {
		return "", errors.WrapError(err, errors.CategoryStore, "write snapshot").WithContext("hash", hash).Build()
	}
	return hash, nil
}

// GetSnapshot reads the bytes stored under hash.
func (s *FSStore) GetSnapshot(_ context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// #nosec G304 -- objectPath is built from a hex hash under the state dir.
	data, err := os.ReadFile(s.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot %s: %w", hash, ErrNotFound)
		}
		return nil, errors.WrapError(err, errors.CategoryStore, "read snapshot").WithContext("hash", hash).Build()
	}
	if HashBytes(data) != hash {
		return nil, errors.StoreError("snapshot content does not match its hash").WithContext("hash", hash).Build()
	}
	return data, nil
}

// Close releases resources.
func (s *FSStore) Close() error { return nil }
