// Package metrics exposes Prometheus collectors for the tracker, the result
// cache and the provider pipeline. Methods on a nil *Metrics are no-ops so
// components can run uninstrumented.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all netpulse collectors.
type Metrics struct {
	TrackerEvents    *prometheus.CounterVec
	TrackedTabs      prometheus.Gauge
	CacheLookups     *prometheus.CounterVec
	ProviderAttempts *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TrackerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netpulse_tracker_events_total",
			Help: "Browser lifecycle events applied to the tracker, by kind and outcome",
		}, []string{"kind", "outcome"}),
		TrackedTabs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netpulse_tracker_tabs",
			Help: "Tabs holding in-memory request records",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netpulse_cache_lookups_total",
			Help: "Analysis cache lookups, by result (hit, miss, expired)",
		}, []string{"result"}),
		ProviderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netpulse_provider_attempts_total",
			Help: "HTTP attempts against AI provider endpoints, by provider and outcome",
		}, []string{"provider", "outcome"}),
		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netpulse_analysis_duration_seconds",
			Help:    "End-to-end analysis latency, by provider and mode (send, stream, replay)",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider", "mode"}),
	}
	reg.MustRegister(m.TrackerEvents, m.TrackedTabs, m.CacheLookups, m.ProviderAttempts, m.AnalysisDuration)
	return m
}

// TrackerEvent counts one applied event.
func (m *Metrics) TrackerEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.TrackerEvents.WithLabelValues(kind, outcome).Inc()
}

// SetTrackedTabs sets the in-memory tab gauge.
func (m *Metrics) SetTrackedTabs(n int) {
	if m == nil {
		return
	}
	m.TrackedTabs.Set(float64(n))
}

// CacheLookup counts one cache lookup.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ProviderAttempt counts one provider HTTP attempt.
func (m *Metrics) ProviderAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(provider, outcome).Inc()
}

// ObserveAnalysis records how long an analysis took since start.
func (m *Metrics) ObserveAnalysis(provider, mode string, start time.Time) {
	if m == nil {
		return
	}
	m.AnalysisDuration.WithLabelValues(provider, mode).Observe(time.Since(start).Seconds())
}
