// Package metrics exposes analysis counters and latencies to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "roomcleaner"

	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics groups the collectors the analyzer reports to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// AnalysesTotal counts Analyze calls by backend and outcome.
	AnalysesTotal *prometheus.CounterVec

	// AnalysisDurationSeconds is the end-to-end time of successful analyses.
	AnalysisDurationSeconds *prometheus.HistogramVec

	// ImageCacheTotal counts governor cache lookups labeled hit or miss.
	ImageCacheTotal *prometheus.CounterVec

	// ProviderErrorsTotal counts failures by backend and error kind.
	ProviderErrorsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which suits tests.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of room analyses, labeled by backend and outcome.",
		}, []string{"backend", "outcome"}),

		AnalysisDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time from receiving an image to returning its task list.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"backend"}),

		ImageCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_cache_total",
			Help:      "Governed image cache lookups, labeled by result (hit or miss).",
		}, []string{"result"}),

		ProviderErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Failed analyses, labeled by backend and error kind.",
		}, []string{"backend", "kind"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.AnalysesTotal,
			m.AnalysisDurationSeconds,
			m.ImageCacheTotal,
			m.ProviderErrorsTotal,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ObserveAnalysis records a finished analysis. kind is empty on success.
func (m *Metrics) ObserveAnalysis(backend, kind string, took time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		m.AnalysesTotal.WithLabelValues(backend, OutcomeOK).Inc()
		m.AnalysisDurationSeconds.WithLabelValues(backend).Observe(took.Seconds())
		return
	}
	m.AnalysesTotal.WithLabelValues(backend, OutcomeError).Inc()
	m.ProviderErrorsTotal.WithLabelValues(backend, kind).Inc()
}

// ObserveCache records one image cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ImageCacheTotal.WithLabelValues(result).Inc()
}
