package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
	"git.home.luguber.info/inful/docstage/internal/logfields"
	"git.home.luguber.info/inful/docstage/internal/version"
)

// MetaVersion is the metadata key holding the docstage version that wrote an event.
const MetaVersion = "docstage_version"

// Event type names.
const (
	TypeRunStarted    = "RunStarted"
	TypeStageFinished = "StageFinished"
	TypeRunFinished   = "RunFinished"
)

// RunStartedMeta describes a run as it starts.
type RunStartedMeta struct {
	Stages  int    `json:"stages"`
	Workers int    `json:"workers"`
	Commit  string `json:"commit"`
	Force   bool   `json:"force,omitempty"`
}

// StageFinishedMeta is the terminal state of one stage.
type StageFinishedMeta struct {
	Stage      string `json:"stage"`
	Action     string `json:"action"`
	Outcome    string `json:"outcome"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RunFinishedMeta summarizes a completed run.
type RunFinishedMeta struct {
	Outcomes        map[string]int `json:"outcomes"`
	GenerationCalls int            `json:"generation_calls"`
	ExitCode        int            `json:"exit_code"`
	DurationMS      int64          `json:"duration_ms"`
}

// NewEvent builds an event with a JSON payload.
func NewEvent(runID, eventType string, payload any) (*BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal "+eventType+" payload").
			WithCause(err).
			WithContext("run_id", runID).
			Build()
	}
	return &BaseEvent{
		EventRunID:     runID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   data,
	}, nil
}

// Emitter appends run events to a Store. A failing history write is logged
// and never fails the run.
type Emitter struct {
	store    Store
	metadata map[string]string
}

// NewEmitter returns an emitter writing to store. Every event is stamped with
// the running docstage version.
func NewEmitter(store Store) *Emitter {
	ver, _ := version.Info()
	return &Emitter{store: store, metadata: map[string]string{MetaVersion: ver}}
}

func (e *Emitter) emit(ctx context.Context, runID, eventType string, payload any) {
	ev, err := NewEvent(runID, eventType, payload)
	if err == nil {
		// history outlives the run context so a canceled run is still recorded
		err = e.store.Append(context.WithoutCancel(ctx), runID, ev.Type(), ev.Payload(), e.metadata)
	}
	if err != nil {
		slog.Warn("Failed to record run event", logfields.RunID(runID), slog.String("type", eventType), logfields.Error(err))
	}
}

// RunStarted records the start of a run.
func (e *Emitter) RunStarted(ctx context.Context, runID string, meta RunStartedMeta) {
	e.emit(ctx, runID, TypeRunStarted, meta)
}

// StageFinished records one stage outcome.
func (e *Emitter) StageFinished(ctx context.Context, runID string, meta StageFinishedMeta) {
	e.emit(ctx, runID, TypeStageFinished, meta)
}

// RunFinished records the end of a run.
func (e *Emitter) RunFinished(ctx context.Context, runID string, meta RunFinishedMeta) {
	e.emit(ctx, runID, TypeRunFinished, meta)
}
