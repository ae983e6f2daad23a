package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration    *prom.HistogramVec
	stageResults     *prom.CounterVec
	buildDuration    prom.Histogram
	buildOutcome     *prom.CounterVec
	generatorCalls   *prom.CounterVec
	retries          *prom.CounterVec
	retriesExhausted *prom.CounterVec
	workers          prom.Gauge
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil reg gets a fresh private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "docstage",
			Name:      "stage_duration_seconds",
			Help:      "Duration of stage execution including generation and commit",
			Buckets:   prom.ExponentialBuckets(0.05, 2, 12),
		}, []string{"action"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docstage",
			Name:      "stage_results_total",
			Help:      "Stage outcomes by action kind",
		}, []string{"action", "outcome"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "docstage",
			Name:      "build_duration_seconds",
			Help:      "Total run duration",
			Buckets:   prom.ExponentialBuckets(0.1, 2, 14),
		}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docstage",
			Name:      "build_outcomes_total",
			Help:      "Runs by final status",
		}, []string{"outcome"}),
		generatorCalls: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docstage",
			Name:      "generator_calls_total",
			Help:      "Calls made to the generation service",
		}, []string{"action"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docstage",
			Name:      "generation_retries_total",
			Help:      "Retries of transient generation failures",
		}, []string{"kind"}),
		retriesExhausted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docstage",
			Name:      "generation_retry_exhausted_total",
			Help:      "Stages that failed after exhausting their retries",
		}, []string{"kind"}),
		workers: prom.NewGauge(prom.GaugeOpts{
			Namespace: "docstage",
			Name:      "workers",
			Help:      "Configured generation worker limit of the last run",
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.buildDuration, pr.buildOutcome,
		pr.generatorCalls, pr.retries, pr.retriesExhausted, pr.workers)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(action string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(action, outcome string) {
	if p == nil {
		return
	}
	p.stageResults.WithLabelValues(action, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcomeLabel) {
	if p == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncGeneratorCall(action string) {
	if p == nil {
		return
	}
	p.generatorCalls.WithLabelValues(action).Inc()
}

func (p *PrometheusRecorder) IncGenerationRetry(kind string) {
	if p == nil {
		return
	}
	p.retries.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncGenerationRetryExhausted(kind string) {
	if p == nil {
		return
	}
	p.retriesExhausted.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) SetWorkers(n int) {
	if p == nil {
		return
	}
	p.workers.Set(float64(n))
}
