package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyStage      = "stage"
	KeyAction     = "action"
	KeyOutcome    = "outcome"
	KeyAttempt    = "attempt"
	KeyRank       = "rank"
	KeyPath       = "path"
	KeyPattern    = "pattern"
	KeyCommit     = "commit"
	KeyDurationMS = "duration_ms"
	KeyWorkers    = "workers"
	KeyBackend    = "backend"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func Stage(id string) slog.Attr        { return slog.String(KeyStage, id) }
func Action(a string) slog.Attr        { return slog.String(KeyAction, a) }
func Outcome(o string) slog.Attr       { return slog.String(KeyOutcome, o) }
func Attempt(n int) slog.Attr          { return slog.Int(KeyAttempt, n) }
func Rank(n int) slog.Attr             { return slog.Int(KeyRank, n) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Pattern(p string) slog.Attr       { return slog.String(KeyPattern, p) }
func Commit(c string) slog.Attr        { return slog.String(KeyCommit, c) }
func Workers(n int) slog.Attr          { return slog.Int(KeyWorkers, n) }
func Backend(b string) slog.Attr       { return slog.String(KeyBackend, b) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Duration(d time.Duration) slog.Attr {
	return DurationMS(float64(d.Microseconds()) / 1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
