// Package metrics exposes Prometheus collectors for pipeline runs, remote
// calls and side effects.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "amhs"

type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	steps       *prometheus.CounterVec
	stepSeconds *prometheus.HistogramVec
	sideEffects *prometheus.CounterVec
	seedSaves   *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Pipeline runs by final state.",
			},
			[]string{"pipeline", "state"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_steps_total",
				Help:      "Executed pipeline steps by outcome.",
			},
			[]string{"pipeline", "step", "succeeded"},
		),
		stepSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_step_duration_seconds",
				Help:      "Duration of pipeline steps.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"pipeline", "step"},
		),
		sideEffects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "side_effects_total",
				Help:      "Detached side effects by outcome.",
			},
			[]string{"endpoint", "succeeded"},
		),
		seedSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "seed_saves_total",
				Help:      "Layout seed saves by source and outcome.",
			},
			[]string{"source", "succeeded"},
		),
	}

	m.registry.MustRegister(m.runs, m.steps, m.stepSeconds, m.sideEffects, m.seedSaves)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RunFinished(pipeline, state string) {
	m.runs.WithLabelValues(pipeline, state).Inc()
}

func (m *Metrics) StepFinished(pipeline, step string, succeeded bool, duration time.Duration) {
	m.steps.WithLabelValues(pipeline, step, strconv.FormatBool(succeeded)).Inc()
	m.stepSeconds.WithLabelValues(pipeline, step).Observe(duration.Seconds())
}

func (m *Metrics) SideEffectFinished(endpoint string, succeeded bool) {
	m.sideEffects.WithLabelValues(endpoint, strconv.FormatBool(succeeded)).Inc()
}

func (m *Metrics) SeedSaved(source string, succeeded bool) {
	m.seedSaves.WithLabelValues(source, strconv.FormatBool(succeeded)).Inc()
}
