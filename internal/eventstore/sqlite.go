package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS run_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	recorded_at INTEGER NOT NULL,
	payload     BLOB    NOT NULL,
	metadata    TEXT
);
CREATE INDEX IF NOT EXISTS run_events_run ON run_events(run_id, seq);
CREATE INDEX IF NOT EXISTS run_events_time ON run_events(recorded_at);
`

const selectEvents = `SELECT seq, run_id, kind, recorded_at, payload, metadata FROM run_events `

// SQLiteStore keeps the run history in a SQLite database. A single connection
// serializes all access, so concurrent emitters need no further locking.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the history at dbPath. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, errors.WrapError(err, errors.CategoryEventStore, "create history directory").
				WithContext("path", dbPath).Build()
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryEventStore, "open run history").
			WithContext("path", dbPath).Build()
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(historySchema); err != nil {
		_ = db.Close()
		return nil, errors.WrapError(err, errors.CategoryEventStore, "initialize run history schema").
			WithContext("path", dbPath).Build()
	}
	return &SQLiteStore{db: db}, nil
}

// Append records one event.
func (s *SQLiteStore) Append(ctx context.Context, runID, eventType string, payload []byte, metadata map[string]string) error {
	var meta []byte
	if len(metadata) > 0 {
		var err error
		if meta, err = json.Marshal(metadata); err != nil {
			return errors.WrapError(err, errors.CategoryEventStore, "encode event metadata").Build()
		}
	}
	if payload == nil {
		payload = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, kind, recorded_at, payload, metadata) VALUES (?, ?, ?, ?, ?)`,
		runID, eventType, time.Now().UnixNano(), payload, meta)
	if err != nil {
		return errors.WrapError(err, errors.CategoryEventStore, "append event").
			WithContext("run_id", runID).WithContext("type", eventType).Build()
	}
	return nil
}

// GetByRunID returns the events of one run in append order.
func (s *SQLiteStore) GetByRunID(ctx context.Context, runID string) ([]Event, error) {
	return s.query(ctx, `WHERE run_id = ? ORDER BY seq`, runID)
}

// GetRange returns events recorded within [start, end] in append order.
func (s *SQLiteStore) GetRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	return s.query(ctx, `WHERE recorded_at BETWEEN ? AND ? ORDER BY seq`, start.UnixNano(), end.UnixNano())
}

// RecentRuns returns up to limit run IDs, most recently started first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM run_events WHERE run_id <> '' GROUP BY run_id ORDER BY MIN(seq) DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryEventStore, "list runs").Build()
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.WrapError(err, errors.CategoryEventStore, "scan run id").Build()
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryEventStore, "list runs").Build()
	}
	return ids, nil
}

func (s *SQLiteStore) query(ctx context.Context, clause string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+clause, args...)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryEventStore, "query events").Build()
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e    BaseEvent
			ns   int64
			meta []byte
		)
		if err := rows.Scan(&e.EventID, &e.EventRunID, &e.EventType, &ns, &e.EventPayload, &meta); err != nil {
			return nil, errors.WrapError(err, errors.CategoryEventStore, "scan event").Build()
		}
		e.EventTimestamp = time.Unix(0, ns)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.EventMetadata); err != nil {
				return nil, errors.WrapError(err, errors.CategoryEventStore, "decode event metadata").
					WithContext("seq", e.EventID).Build()
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryEventStore, "query events").Build()
	}
	return out, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
