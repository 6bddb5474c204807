package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the point ledger.
type Metrics struct {
	// --- Counter increments ---
	IncrementsApplied  *prometheus.CounterVec
	IncrementsRejected *prometheus.CounterVec
	IncrementDuration  prometheus.Histogram

	// --- Daily sampling ---
	SamplerRuns      *prometheus.CounterVec
	SamplerAccounts  prometheus.Counter
	SamplerDuration  prometheus.Histogram
	SnapshotWrites   prometheus.Counter
	SnapshotWriteErr prometheus.Counter

	// --- Window delta engine ---
	NegativeDeltasClamped prometheus.Counter
	SeriesGapDays         prometheus.Counter

	// --- Leaderboard builder ---
	BuilderRuns           *prometheus.CounterVec
	BuilderDuration       *prometheus.HistogramVec
	BuilderAccountsFailed prometheus.Counter
	BuilderEntries        *prometheus.GaugeVec

	// --- Backfill ---
	BackfillRowsWritten prometheus.Counter
	BackfillRepairs     prometheus.Counter
	BackfillBatches     prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	queryBuckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0}
	jobBuckets := []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0}

	return &Metrics{
		IncrementsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "points_increments_applied_total",
			Help: "Counter increments successfully applied",
		}, []string{"source"}),

		IncrementsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "points_increments_rejected_total",
			Help: "Activity events rejected (parse, validation, store)",
		}, []string{"reason"}),

		IncrementDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "points_increment_duration_seconds",
			Help:    "Time to apply a single atomic increment",
			Buckets: queryBuckets,
		}),

		SamplerRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "points_sampler_runs_total",
			Help: "Daily sampler runs",
		}, []string{"status"}),

		SamplerAccounts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "points_sampler_accounts_total",
			Help: "Accounts sampled into daily snapshots",
		}),

		SamplerDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "points_sampler_duration_seconds",
			Help:    "Time to sample all accounts",
			Buckets: jobBuckets,
		}),

		SnapshotWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "points_snapshot_writes_total",
			Help: "Daily snapshot rows upserted",
		}),

		SnapshotWriteErr: promauto.NewCounter(prometheus.CounterOpts{
			Name: "points_snapshot_write_errors_total",
			Help: "Daily snapshot write failures",
		}),

		NegativeDeltasClamped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "points_negative_deltas_clamped_total",
			Help: "Window deltas clamped to zero after a recorded decrease",
		}),

		SeriesGapDays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "points_series_gap_days_total",
			Help: "Chart days degraded to zero gain due to missing snapshots",
		}),

		BuilderRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "points_builder_runs_total",
			Help: "Leaderboard builder runs",
		}, []string{"kind", "status"}),

		BuilderDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "points_builder_duration_seconds",
			Help:    "Time to build one leaderboard snapshot",
			Buckets: jobBuckets,
		}, []string{"kind"}),

		BuilderAccountsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "points_builder_accounts_failed_total",
			Help: "Accounts excluded from a run by fail-soft handling",
		}),

		BuilderEntries: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "points_builder_entries",
			Help: "Entries in the last written snapshot",
		}, []string{"kind"}),

		BackfillRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "points_backfill_rows_written_total",
			Help: "Snapshot rows synthesized or repaired by backfill",
		}),

		BackfillRepairs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "points_backfill_repairs_total",
			Help: "Existing rows raised to the carried cumulative",
		}),

		BackfillBatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "points_backfill_batches_total",
			Help: "Bounded write batches flushed by backfill",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "points_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "points_query_duration_seconds",
			Help:    "Query latency",
			Buckets: queryBuckets,
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "points_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}
