// Package eventstore keeps an append-only history of build runs. The history
// is for inspection only; build state is never reconstructed from it.
package eventstore

import (
	"context"
	"time"
)

// Store persists run events.
type Store interface {
	Append(ctx context.Context, runID, eventType string, payload []byte, metadata map[string]string) error
	// GetByRunID returns the events of one run in append order.
	GetByRunID(ctx context.Context, runID string) ([]Event, error)
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)
	// RecentRuns lists run IDs, most recently started first. limit <= 0 means all.
	RecentRuns(ctx context.Context, limit int) ([]string, error)
	Close() error
}
