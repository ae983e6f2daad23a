// Package metrics records run and stage metrics.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no call site needs a nil check:
//
//	orch := orchestrator.New(deps) // NoopRecorder unless deps.Recorder is set
//
// The CLI swaps in a PrometheusRecorder when metrics.textfile is configured
// (the exposition is written after every run) or when watch serves /metrics.
package metrics
