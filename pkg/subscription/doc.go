// Package subscription evaluates per-connection queries against a
// transaction's changes and produces the delta (deletes before inserts,
// per table) each subscribed connection should receive, plus the initial
// synthetic update a newly-subscribed query gets against already-committed
// state.
package subscription
