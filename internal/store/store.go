// Package store persists one fingerprint record per stage, the only state
// that survives between runs. Every backend replaces records atomically and
// never exposes a partially written record.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/stage"
)

// ErrNotFound is returned by GetSnapshot for unknown hashes.
var ErrNotFound = stderrors.New("not found")

// CodeRecordCorrupt marks a record whose checksum does not match its content.
const CodeRecordCorrupt errors.Code = "RecordCorrupt"

// Record is the state of a stage at its last successful build.
type Record struct {
	StageID                string           `json:"stage_id"`
	SourceFingerprint      string           `json:"source_fingerprint"`
	InstructionFingerprint string           `json:"instruction_fingerprint"`
	OutputHash             string           `json:"output_hash"`
	Commit                 string           `json:"commit"`
	BuiltAt                time.Time        `json:"built_at"`
	Action                 stage.ActionKind `json:"action"`
	RunID                  string           `json:"run_id,omitempty"`
	// Inputs maps each resolved input ("file:<path>" or "stage:<id>") to the
	// hash it had when the stage was built. Used to tell which inputs changed.
	Inputs map[string]string `json:"inputs,omitempty"`
}

// Checksum hashes the record fields in a fixed order.
func (r Record) Checksum() string {
	h := sha256.New()
	for _, f := range []string{
		r.StageID,
		r.SourceFingerprint,
		r.InstructionFingerprint,
		r.OutputHash,
		r.Commit,
		r.BuiltAt.UTC().Format(time.RFC3339Nano),
		r.Action.String(),
		r.RunID,
	} {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	keys := make([]string, 0, len(r.Inputs))
	for k := range r.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k + "=" + r.Inputs[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store is the fingerprint store.
type Store interface {
	// Get returns the record for id. A record that fails its integrity check
	// is reported as absent so the stage is rebuilt rather than trusted.
	Get(ctx context.Context, id string) (Record, bool, error)
	// VerifyGet is Get that reports integrity failures as RecordCorrupt errors.
	VerifyGet(ctx context.Context, id string) (Record, bool, error)
	// Put atomically replaces the record for r.StageID.
	Put(ctx context.Context, r Record) error
	// List returns every readable record sorted by stage ID.
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, id string) error

	// PutSnapshot stores content-addressed bytes and returns their hash.
	PutSnapshot(ctx context.Context, data []byte) (string, error)
	// GetSnapshot returns bytes stored under hash or ErrNotFound.
	GetSnapshot(ctx context.Context, hash string) ([]byte, error)

	Close() error
}

// envelope is the serialized form shared by all backends.
type envelope struct {
	Record   Record `json:"record"`
	Checksum string `json:"checksum"`
}

func encode(r Record) ([]byte, error) {
	if strings.TrimSpace(r.StageID) == "" {
		return nil, errors.StoreError("record has no stage id").Build()
	}
	if !r.Action.Valid() {
		return nil, errors.StoreError("record has no valid action").WithContext("stage", r.StageID).Build()
	}
	r.BuiltAt = r.BuiltAt.UTC()
	data, err := json.MarshalIndent(envelope{Record: r, Checksum: r.Checksum()}, "", "  ")
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "encode record").WithContext("stage", r.StageID).Build()
	}
	return data, nil
}

// decode parses and verifies a stored record.
func decode(id string, data []byte) (Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Record{}, corrupt(id, "unreadable record", err)
	}
	if env.Record.StageID != id {
		return Record{}, corrupt(id, "record belongs to stage "+env.Record.StageID, nil)
	}
	if env.Checksum != env.Record.Checksum() {
		return Record{}, corrupt(id, "checksum mismatch", nil)
	}
	return env.Record, nil
}

func corrupt(id, msg string, cause error) error {
	b := errors.StoreError("record for stage "+id+" is corrupt: "+msg).
		WithCode(CodeRecordCorrupt).
		WithContext("stage", id)
	if cause != nil {
		b = b.WithCause(cause)
	}
	return b.Build()
}

// IsCorrupt reports whether err is a record integrity failure.
func IsCorrupt(err error) bool {
	return errors.HasCode(err, CodeRecordCorrupt)
}

// HashBytes returns the lowercase hex SHA-256 used for snapshot addressing.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// lenient turns integrity failures into absence; used by Get implementations.
func lenient(r Record, ok bool, err error) (Record, bool, error) {
	if err != nil && IsCorrupt(err) {
		return Record{}, false, nil
	}
	return r, ok, err
}
