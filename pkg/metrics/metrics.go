package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Peer roster metrics
	PeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "peervault_peers_total",
			Help: "Total number of roster peers by state",
		},
		[]string{"state"},
	)

	// Sync metrics
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peervault_sync_duration_seconds",
			Help:    "Time taken to complete a sync session by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	SyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peervault_syncs_total",
			Help: "Total number of sync sessions by outcome",
		},
		[]string{"outcome"},
	)

	// Blob transfer metrics
	BlobBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peervault_blob_bytes_total",
			Help: "Total blob bytes transferred by direction",
		},
		[]string{"direction"},
	)

	// Conflict metrics
	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peervault_conflicts_total",
			Help: "Total number of detected conflicts by kind",
		},
		[]string{"kind"},
	)

	// Garbage collection metrics
	GCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "peervault_gc_duration_seconds",
			Help:    "Time taken for a garbage collection run in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	GCRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "peervault_gc_runs_total",
			Help: "Total number of completed garbage collection runs",
		},
	)

	GCBytesReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "peervault_gc_bytes_reclaimed_total",
			Help: "Total bytes reclaimed by garbage collection",
		},
	)

	// Document metrics
	DocumentSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "peervault_document_size_bytes",
			Help: "Size in bytes of the current exported operation log",
		},
	)

	// Migration metrics
	MigrationsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peervault_migrations_applied_total",
			Help: "Total number of schema migrations applied by target version",
		},
		[]string{"to_version"},
	)
)

func init() {
	prometheus.MustRegister(PeersTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(SyncsTotal)
	prometheus.MustRegister(BlobBytesTotal)
	prometheus.MustRegister(ConflictsTotal)
	prometheus.MustRegister(GCDuration)
	prometheus.MustRegister(GCRunsTotal)
	prometheus.MustRegister(GCBytesReclaimed)
	prometheus.MustRegister(DocumentSizeBytes)
	prometheus.MustRegister(MigrationsAppliedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
