// Package metrics exposes Prometheus collectors for the time-series
// ingestion chain.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "strata"

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	PointsIngested *prometheus.CounterVec
	BucketsFlushed *prometheus.CounterVec
	FlushDuration  *prometheus.HistogramVec
	FlushErrors    *prometheus.CounterVec
	PendingGroups  *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg. Registering twice
// on the same registerer panics, as with promauto.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	labels := []string{"resolution"}

	return &Metrics{
		PointsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeseries",
			Name:      "points_ingested_total",
			Help:      "Total number of points and upstream buckets ingested",
		}, labels),
		BucketsFlushed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeseries",
			Name:      "buckets_flushed_total",
			Help:      "Total number of buckets persisted by flushes",
		}, labels),
		FlushDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "timeseries",
			Name:      "flush_duration_seconds",
			Help:      "Flush duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, labels),
		FlushErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeseries",
			Name:      "flush_errors_total",
			Help:      "Total number of failed flushes",
		}, labels),
		PendingGroups: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "timeseries",
			Name:      "pending_groups",
			Help:      "Number of timestamp groups held in memory",
		}, labels),
	}
}

// Pipeline is the set of collectors curried for one resolution. The zero
// value records nothing.
type Pipeline struct {
	ingested prometheus.Counter
	flushed  prometheus.Counter
	duration prometheus.Observer
	errors   prometheus.Counter
	pending  prometheus.Gauge
}

// ForResolution returns the collectors labelled with res.
func (m *Metrics) ForResolution(res time.Duration) Pipeline {
	if m == nil {
		return Pipeline{}
	}
	label := res.String()
	return Pipeline{
		ingested: m.PointsIngested.WithLabelValues(label),
		flushed:  m.BucketsFlushed.WithLabelValues(label),
		duration: m.FlushDuration.WithLabelValues(label),
		errors:   m.FlushErrors.WithLabelValues(label),
		pending:  m.PendingGroups.WithLabelValues(label),
	}
}

// Ingested counts one ingested point or bucket.
func (p Pipeline) Ingested() {
	if p.ingested != nil {
		p.ingested.Inc()
	}
}

// Flushed records a completed flush of n buckets.
func (p Pipeline) Flushed(n int, took time.Duration) {
	if p.flushed == nil {
		return
	}
	p.flushed.Add(float64(n))
	p.duration.Observe(took.Seconds())
}

// FlushFailed counts a failed flush.
func (p Pipeline) FlushFailed() {
	if p.errors != nil {
		p.errors.Inc()
	}
}

// Pending sets the number of open timestamp groups.
func (p Pipeline) Pending(n int) {
	if p.pending != nil {
		p.pending.Set(float64(n))
	}
}
