package eventstore

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

const (
	runStatusRunning   = "running"
	runStatusCompleted = "completed"
)

// RunSummary is the read model of one run.
type RunSummary struct {
	RunID       string              `json:"run_id"`
	Status      string              `json:"status"`
	StartedAt   time.Time           `json:"started_at"`
	Version     string              `json:"version,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Started     RunStartedMeta      `json:"started"`
	Finished    *RunFinishedMeta    `json:"finished,omitempty"`
	Stages      []StageFinishedMeta `json:"stages,omitempty"`
}

// History reconstructs summaries of the most recent runs, newest first. A run
// without a RunFinished event stays "running" (it crashed or is in progress).
func History(ctx context.Context, store Store, limit int) ([]*RunSummary, error) {
	ids, err := store.RecentRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	return summarize(ctx, store, ids)
}

// HistorySince is History restricted to runs that recorded an event at or
// after since. Runs are ordered by their first event in that window, newest
// first; each summary still covers the whole run.
func HistorySince(ctx context.Context, store Store, since time.Time, limit int) ([]*RunSummary, error) {
	events, err := store.GetRange(ctx, since, time.Now())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, ev := range events {
		id := ev.RunID()
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	slices.Reverse(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return summarize(ctx, store, ids)
}

func summarize(ctx context.Context, store Store, ids []string) ([]*RunSummary, error) {
	out := make([]*RunSummary, 0, len(ids))
	for _, id := range ids {
		events, err := store.GetByRunID(ctx, id)
		if err != nil {
			return nil, err
		}
		runs := make(map[string]*RunSummary, 1)
		for _, ev := range events {
			if err := apply(runs, ev); err != nil {
				return nil, err
			}
		}
		if r, ok := runs[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func apply(runs map[string]*RunSummary, ev Event) error {
	runID := ev.RunID()
	if runID == "" {
		return nil
	}
	summary, ok := runs[runID]
	if !ok {
		summary = &RunSummary{RunID: runID, Status: runStatusRunning, StartedAt: ev.Timestamp()}
		runs[runID] = summary
	}

	var target any
	switch ev.Type() {
	case TypeRunStarted:
		summary.StartedAt = ev.Timestamp()
		summary.Version = ev.Metadata()[MetaVersion]
		target = &summary.Started
	case TypeStageFinished:
		var meta StageFinishedMeta
		if err := decode(ev, &meta); err != nil {
			return err
		}
		summary.Stages = append(summary.Stages, meta)
		return nil
	case TypeRunFinished:
		summary.Finished = &RunFinishedMeta{}
		summary.Status = runStatusCompleted
		ts := ev.Timestamp()
		summary.CompletedAt = &ts
		target = summary.Finished
	default:
		return nil
	}
	return decode(ev, target)
}

func decode(ev Event, v any) error {
	if err := json.Unmarshal(ev.Payload(), v); err != nil {
		return errors.EventStoreError("failed to unmarshal event payload").
			WithCause(err).
			WithContext("run_id", ev.RunID()).
			WithContext("type", ev.Type()).
			Build()
	}
	return nil
}
