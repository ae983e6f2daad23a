package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

// SQLiteStore keeps records in a SQLite database, one row per stage. A Put is
// a single upsert inside a transaction, so readers see either the previous or
// the new row.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, errors.WrapError(err, errors.CategoryStore, "create database directory").WithContext("path", dbPath).Build()
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "open sqlite database").WithContext("path", dbPath).Build()
	}
	// a single connection keeps ":memory:" databases shared and writes serialized
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, errors.WrapError(err, errors.CategoryStore, "initialize schema").Build()
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	PRAGMA journal_mode=WAL;
	CREATE TABLE IF NOT EXISTS stage_records (
		stage_id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS snapshots (
		hash TEXT PRIMARY KEY,
		data BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the record for id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, bool, error) {
	return lenient(s.VerifyGet(ctx, id))
}

// VerifyGet reads and verifies the record for id.
func (s *SQLiteStore) VerifyGet(ctx context.Context, id string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM stage_records WHERE stage_id = ?", id).Scan(&payload)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.WrapError(err, errors.CategoryStore, "query record").WithContext("stage", id).Build()
	}
	r, err := decode(id, payload)
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// Put upserts the record in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, r Record) error {
	payload, err := encode(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, errors.CategoryStore, "begin transaction").WithContext("stage", r.StageID).Build()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO stage_records (stage_id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(stage_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		r.StageID, payload, r.BuiltAt.Unix(),
	)
	if err != nil {
		_ = tx.Rollback()
		return errors.WrapError(err, errors.CategoryStore, "upsert record").WithContext("stage", r.StageID).Build()
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapError(err, errors.CategoryStore, "commit record").WithContext("stage", r.StageID).Build()
	}
	return nil
}

// List returns every valid record sorted by stage ID.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT stage_id, payload FROM stage_records ORDER BY stage_id")
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "query records").Build()
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, errors.WrapError(err, errors.CategoryStore, "scan record").Build()
		}
		r, err := decode(id, payload)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "iterate records").Build()
	}
	return out, nil
}

// Delete removes the record for id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM stage_records WHERE stage_id = ?", id); err != nil {
		return errors.WrapError(err, errors.CategoryStore, "delete record").WithContext("stage", id).Build()
	}
	return nil
}

// PutSnapshot stores data under its content hash.
func (s *SQLiteStore) PutSnapshot(ctx context.Context, data []byte) (string, error) {
	hash := HashBytes(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO snapshots (hash, data) VALUES (?, ?)", hash, data); err != nil {
		return "", errors.WrapError(err, errors.CategoryStore, "insert snapshot").WithContext("hash", hash).Build()
	}
	return hash, nil
}

// GetSnapshot reads the bytes stored under hash.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM snapshots WHERE hash = ?", hash).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryStore, "query snapshot").WithContext("hash", hash).Build()
	}
	return data, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
