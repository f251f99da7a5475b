// Package metrics holds the Prometheus collectors for the generation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for RequestsTotal.
const (
	OutcomeNotFound   = "not_found"
	OutcomeFeatureOff = "feature_off"
	OutcomeCacheHit   = "cache_hit"
	OutcomeGenerated  = "generated"
	OutcomeDegraded   = "degraded"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	GenerationFailures *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	StartersGenerated  prometheus.Counter
	CacheWriteFailures prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolintel_requests_total",
				Help: "Intelligence requests by outcome",
			},
			[]string{"outcome"},
		),
		GenerationFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolintel_generation_failures_total",
				Help: "Failed model generations by cause",
			},
			[]string{"cause"},
		),
		GenerationDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "schoolintel_generation_duration_seconds",
				Help:    "Duration of model generations in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
			},
		),
		StartersGenerated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "schoolintel_starters_generated_total",
				Help: "Conversation starters returned by fresh generations",
			},
		),
		CacheWriteFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "schoolintel_cache_write_failures_total",
				Help: "Generation results that could not be cached",
			},
		),
	}
}

// Request counts one request outcome.
func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// Generated records a successful generation.
func (m *Metrics) Generated(seconds float64, items int) {
	if m == nil {
		return
	}
	m.GenerationDuration.Observe(seconds)
	m.StartersGenerated.Add(float64(items))
}

// GenerationFailed records a failed generation.
func (m *Metrics) GenerationFailed(seconds float64, cause string) {
	if m == nil {
		return
	}
	m.GenerationDuration.Observe(seconds)
	m.GenerationFailures.WithLabelValues(cause).Inc()
}

// CacheWriteFailed counts a dropped cache write.
func (m *Metrics) CacheWriteFailed() {
	if m == nil {
		return
	}
	m.CacheWriteFailures.Inc()
}
