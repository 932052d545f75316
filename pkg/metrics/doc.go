/*
Package metrics defines and registers the Prometheus collectors exposed by a
spacetimed node: transaction throughput and lock contention, reducer dispatch
outcomes and energy spend, scheduler tick latency, commitlog/snapshot I/O,
and gateway connection counts. All metrics are package-level vars registered
at init(), following the library's usual "MustRegister once, update from
anywhere" pattern.

# Usage

	timer := metrics.NewTimer()
	result := host.Dispatch(...)
	state := "committed" // or "failed" / "out_of_energy", from result.State
	timer.ObserveDurationVec(metrics.ReducerCallDuration, name, state)
	metrics.ReducerCallsTotal.WithLabelValues(name, state).Inc()

	http.Handle("/metrics", metrics.Handler())

Health and readiness are tracked separately (see health.go): components
report in with RegisterComponent/UpdateComponent, and /health, /ready, /live
render the aggregate.

Label cardinality is kept low by design: reducer/table names are
bounded by the published schema, never raw identities or row keys.
*/
package metrics
