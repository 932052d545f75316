package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Datastore metrics
	TxCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spacetimed_tx_commit_duration_seconds",
			Help:    "Time to commit a mutating transaction, from BeginMut to Commit returning",
			Buckets: prometheus.DefBuckets,
		},
	)

	TxCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacetimed_tx_commits_total",
			Help: "Total transactions resolved by outcome",
		},
		[]string{"outcome"}, // "committed", "rolled_back"
	)

	TxLockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spacetimed_tx_lock_wait_duration_seconds",
			Help:    "Time a BeginMut caller waited for the single-writer lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reducer host metrics
	ReducerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spacetimed_reducer_call_duration_seconds",
			Help:    "Reducer/procedure dispatch duration by name and outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"name", "state"}, // state: committed, failed, out_of_energy
	)

	ReducerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacetimed_reducer_calls_total",
			Help: "Total reducer/procedure dispatches by name and outcome",
		},
		[]string{"name", "state"},
	)

	EnergyChargedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spacetimed_energy_charged_quanta_total",
			Help: "Cumulative energy quanta charged across all identities",
		},
	)

	OutOfEnergyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spacetimed_out_of_energy_total",
			Help: "Total reducer calls aborted for exceeding their budget",
		},
	)

	// Scheduler metrics
	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spacetimed_scheduler_tick_duration_seconds",
			Help:    "Time to scan bound tables, fire due rows, and commit their retirement",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScheduledFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacetimed_scheduled_fired_total",
			Help: "Total scheduled reducer firings by outcome",
		},
		[]string{"outcome"}, // "ok", "failed", "out_of_energy"
	)

	ScheduledLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spacetimed_scheduled_latency_seconds",
			Help:    "Delay between a scheduled row's sched_at and the tick that fired it",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Commitlog / snapshot metrics
	CommitlogAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spacetimed_commitlog_append_duration_seconds",
			Help:    "Time to append one committed transaction's record to the segment log",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommitlogSegmentRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spacetimed_commitlog_segment_rotations_total",
			Help: "Total commitlog segment rotations",
		},
	)

	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spacetimed_snapshot_duration_seconds",
			Help:    "Time to take and persist one full snapshot",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	SnapshotBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spacetimed_snapshot_bytes_total",
			Help: "Cumulative bytes written across all snapshots, pre-compression",
		},
	)

	// Subscription / gateway metrics
	SubscriptionEvaluateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spacetimed_subscription_evaluate_duration_seconds",
			Help:    "Time to diff one committed TxData against all registered queries",
			Buckets: prometheus.DefBuckets,
		},
	)

	GatewayConnectionsCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spacetimed_gateway_connections_current",
			Help: "Currently open WebSocket connections",
		},
	)

	GatewayBackpressureDisconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spacetimed_gateway_backpressure_disconnects_total",
			Help: "Total connections closed for exceeding their send queue's hard watermark",
		},
	)

	// Control plane metrics
	DatabasesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spacetimed_databases_total",
			Help: "Total published databases hosted by this node",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TxCommitDuration,
		TxCommitsTotal,
		TxLockWaitDuration,
		ReducerCallDuration,
		ReducerCallsTotal,
		EnergyChargedTotal,
		OutOfEnergyTotal,
		SchedulerTickDuration,
		ScheduledFiredTotal,
		ScheduledLatency,
		CommitlogAppendDuration,
		CommitlogSegmentRotationsTotal,
		SnapshotDuration,
		SnapshotBytesTotal,
		SubscriptionEvaluateDuration,
		GatewayConnectionsCurrent,
		GatewayBackpressureDisconnectsTotal,
		DatabasesTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording their duration to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
