// Package metrics provides index statistics and Prometheus metrics for fsindex.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fsindex"

// IndexMetrics records walk, event, search and checkpoint activity.
// All methods are nil-safe: calls on a nil *IndexMetrics are no-ops.
type IndexMetrics struct {
	// WalksTotal counts full and subtree walks.
	// Label values: "full", "subtree".
	WalksTotal *prometheus.CounterVec

	// WalkDuration observes full walk wall time.
	WalkDuration prometheus.Histogram

	// EventsTotal counts change notifications by outcome.
	// Label values: "applied", "skipped", "ignored".
	EventsTotal *prometheus.CounterVec

	// SearchesTotal counts searches by outcome.
	// Label values: "ok", "cancelled", "error".
	SearchesTotal *prometheus.CounterVec

	// SearchDuration observes completed search wall time.
	SearchDuration prometheus.Histogram

	// CheckpointsTotal counts checkpoint attempts.
	// Label values: "saved", "skipped", "error".
	CheckpointsTotal *prometheus.CounterVec

	// Nodes tracks the number of indexed entries per file type.
	Nodes *prometheus.GaugeVec
}

// NewIndexMetrics creates and registers index metrics with the given
// registerer. If reg is nil, metrics are created but not registered.
func NewIndexMetrics(reg prometheus.Registerer) *IndexMetrics {
	m := &IndexMetrics{
		WalksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "walks_total",
			Help:      "Total number of filesystem walks by scope",
		}, []string{"scope"}),
		WalkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "walk_duration_seconds",
			Help:      "Full walk duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of change notifications by outcome",
		}, []string{"outcome"}),
		SearchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of searches by outcome",
		}, []string{"outcome"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Completed search duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CheckpointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoint attempts by outcome",
		}, []string{"outcome"}),
		Nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Number of indexed entries by file type",
		}, []string{"type"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.WalksTotal,
			m.WalkDuration,
			m.EventsTotal,
			m.SearchesTotal,
			m.SearchDuration,
			m.CheckpointsTotal,
			m.Nodes,
		)
	}
	return m
}

// RecordWalk counts a walk; the duration is observed for full walks only.
func (m *IndexMetrics) RecordWalk(full bool, d time.Duration) {
	if m == nil {
		return
	}
	if full {
		m.WalksTotal.WithLabelValues("full").Inc()
		m.WalkDuration.Observe(d.Seconds())
		return
	}
	m.WalksTotal.WithLabelValues("subtree").Inc()
}

// RecordEvents adds n events with the given outcome.
func (m *IndexMetrics) RecordEvents(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsTotal.WithLabelValues(outcome).Add(float64(n))
}

// RecordSearch counts a search and observes its duration when it completed.
func (m *IndexMetrics) RecordSearch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.SearchDuration.Observe(d.Seconds())
	}
}

// RecordCheckpoint counts a checkpoint attempt.
func (m *IndexMetrics) RecordCheckpoint(outcome string) {
	if m == nil {
		return
	}
	m.CheckpointsTotal.WithLabelValues(outcome).Inc()
}

// SetNodeCounts publishes the per-type gauges from a stats snapshot.
func (m *IndexMetrics) SetNodeCounts(st *IndexStats) {
	if m == nil || st == nil {
		return
	}
	m.Nodes.WithLabelValues("file").Set(float64(st.Files))
	m.Nodes.WithLabelValues("dir").Set(float64(st.Dirs))
	m.Nodes.WithLabelValues("symlink").Set(float64(st.Symlinks))
	m.Nodes.WithLabelValues("unknown").Set(float64(st.Unknown))
}

// Handler returns the HTTP handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
