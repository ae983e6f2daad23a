package metrics

import "time"

// BuildOutcomeLabel enumerates run-level outcomes.
type BuildOutcomeLabel string

const (
	BuildOutcomeSuccess  BuildOutcomeLabel = "success"
	BuildOutcomePartial  BuildOutcomeLabel = "partial"
	BuildOutcomeFailed   BuildOutcomeLabel = "failed"
	BuildOutcomeCanceled BuildOutcomeLabel = "canceled"
)

// Recorder defines observability hooks for runs and stages. Stage metrics are
// labelled by action kind and outcome, never by stage ID, to keep cardinality
// bounded.
type Recorder interface {
	ObserveStageDuration(action string, d time.Duration)
	IncStageResult(action, outcome string)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome BuildOutcomeLabel)
	IncGeneratorCall(action string)
	IncGenerationRetry(kind string)
	IncGenerationRetryExhausted(kind string)
	SetWorkers(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, string)              {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)         {}
func (NoopRecorder) IncBuildOutcome(BuildOutcomeLabel)          {}
func (NoopRecorder) IncGeneratorCall(string)                    {}
func (NoopRecorder) IncGenerationRetry(string)                  {}
func (NoopRecorder) IncGenerationRetryExhausted(string)         {}
func (NoopRecorder) SetWorkers(int)                             {}
