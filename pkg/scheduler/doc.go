// Package scheduler drives one-shot and repeating scheduled reducers: it
// ticks on a fixed interval, finds every scheduled-table row whose sched_at
// has arrived, and dispatches the bound reducer for each in non-decreasing
// sched_at order (ties broken by scheduled_id).
//
// It applies the same reconcile-on-a-ticker idiom used for other periodic
// work in this codebase, here applied to scheduled rows.
package scheduler
