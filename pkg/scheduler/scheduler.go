package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/datastore"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/log"
	"github.com/cuemby/spacetimed/pkg/metrics"
	"github.com/cuemby/spacetimed/pkg/reducerhost"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

// systemIdentity is the caller identity scheduler-fired reducers run under.
// Its claims are fixed and never correspond to a real bearer token, so it
// can't be forged by a connecting client.
var systemIdentity = identity.Derive(identity.Claims{Issuer: "spacetimed", Subject: "scheduler"})

// dueRow is one scheduled row that has arrived, carrying enough to both
// invoke its reducer and mutate the row afterward.
type dueRow struct {
	binding Binding
	ptr     page.Pointer
	row     algebra.ProductValue
	fireAt  int64 // micros; orders this tick's batch and becomes an Interval row's new prev
}

// Scheduler drives every bound scheduled table on a fixed tick, firing each
// due row's reducer and retiring (one-shot) or advancing (repeating) the row
// in the same transaction as the reducer's own effects. It follows the same
// fixed-interval reconcile-loop idiom used elsewhere for periodic work,
// applied here to scheduled rows instead of arbitrary resources.
type Scheduler struct {
	ds       *datastore.Datastore
	host     *reducerhost.Host
	bindings []Binding
	budget   energy.ReducerBudget
	onCommit func(datastore.TxData)
	logger   zerolog.Logger
}

// New constructs a Scheduler over ds and host, retrying each due reducer
// call with budget as its energy ceiling.
func New(ds *datastore.Datastore, host *reducerhost.Host, budget energy.ReducerBudget, bindings ...Binding) *Scheduler {
	return &Scheduler{
		ds:       ds,
		host:     host,
		bindings: bindings,
		budget:   budget,
		logger:   log.WithComponent("scheduler"),
	}
}

// SetOnCommit installs a hook receiving every TxData a firing commits, so
// the subscription engine sees scheduler-driven commits the same way it
// sees client-driven ones.
func (s *Scheduler) SetOnCommit(fn func(datastore.TxData)) { s.onCommit = fn }

// Run ticks every interval until ctx is canceled, firing every row that has
// come due on each tick.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick collects every due row across all bindings, orders them by
// (sched_at, scheduled_id) ascending, and fires each in turn.
func (s *Scheduler) tick(now time.Time) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulerTickDuration)
	due, err := s.collectDue(now)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduler: collecting due rows failed")
		return
	}
	for _, d := range due {
		metrics.ScheduledLatency.Observe(float64(now.UnixMicro()-d.fireAt) / 1e6)
		_, _ = s.fire(now, d)
	}
}

func (s *Scheduler) collectDue(now time.Time) ([]dueRow, error) {
	nowMicros := now.UnixMicro()
	var due []dueRow
	rtx := s.ds.BeginRead()
	defer rtx.Release()

	for _, b := range s.bindings {
		err := rtx.Scan(b.Table, func(ptr page.Pointer, row algebra.ProductValue) error {
			sv := row.Elems[b.SchedAtC].Sum
			var fireAt int64
			switch sv.Tag {
			case TagTime:
				fireAt = sv.Payload.I64
			case TagInterval:
				fireAt = row.Elems[b.PrevC].I64 + sv.Payload.I64
			default:
				return nil
			}
			if fireAt <= nowMicros {
				due = append(due, dueRow{binding: b, ptr: ptr, row: row, fireAt: fireAt})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].fireAt != due[j].fireAt {
			return due[i].fireAt < due[j].fireAt
		}
		return due[i].binding.scheduledID(due[i].row) < due[j].binding.scheduledID(due[j].row)
	})
	return due, nil
}

// fire invokes d's reducer and retires/advances its row atomically. A
// failure (including out-of-energy) rolls the whole transaction back and
// leaves the row in place for the next tick to retry. It returns the
// committed TxData (zero value on any early return) so callers that care
// about exactly what became visible to subscribers can inspect it.
func (s *Scheduler) fire(now time.Time, d dueRow) (datastore.TxData, error) {
	b := d.binding
	tx := s.ds.BeginMut(systemIdentity)

	args := algebra.ProductValue{Elems: append([]algebra.Value(nil), d.row.Elems...)}
	spent, err, oom, found := s.host.InvokeForSchedule(tx, systemIdentity, now, s.budget, b.ReducerName, args)
	if !found {
		_ = tx.Rollback()
		s.logger.Error().Str("reducer", b.ReducerName).Msg("scheduler: bound reducer not found")
		return datastore.TxData{}, fmt.Errorf("scheduler: bound reducer %q not found", b.ReducerName)
	}
	if oom {
		_ = tx.Rollback()
		s.host.Charge(systemIdentity, spent)
		metrics.ScheduledFiredTotal.WithLabelValues("out_of_energy").Inc()
		s.logger.Warn().Str("reducer", b.ReducerName).Uint64("scheduled_id", b.scheduledID(d.row)).Msg("scheduler: reducer ran out of energy, will retry")
		return datastore.TxData{}, fmt.Errorf("scheduler: reducer %q ran out of energy", b.ReducerName)
	}
	if err != nil {
		_ = tx.Rollback()
		metrics.ScheduledFiredTotal.WithLabelValues("failed").Inc()
		s.logger.Error().Err(err).Str("reducer", b.ReducerName).Uint64("scheduled_id", b.scheduledID(d.row)).Msg("scheduler: reducer failed, will retry")
		return datastore.TxData{}, err
	}

	if err := s.retireRow(tx, b, d); err != nil {
		_ = tx.Rollback()
		s.logger.Error().Err(err).Msg("scheduler: retiring scheduled row failed")
		return datastore.TxData{}, err
	}

	txd, err := tx.Commit()
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduler: commit failed")
		return datastore.TxData{}, err
	}
	s.host.Charge(systemIdentity, spent)
	metrics.ScheduledFiredTotal.WithLabelValues("ok").Inc()
	if s.onCommit != nil {
		s.onCommit(txd)
	}
	return txd, nil
}

// retireRow deletes a one-shot row once it fires, or advances a repeating
// one's prev to this firing in place, within tx so it lands in the same
// commit as the reducer's own effects. An Interval row is never visibly
// deleted: it survives at the same pointer, so it never appears in the
// committed TxData at all.
func (s *Scheduler) retireRow(tx *datastore.MutTx, b Binding, d dueRow) error {
	if d.row.Elems[b.SchedAtC].Sum.Tag != TagInterval {
		return tx.Delete(b.Table, d.ptr)
	}
	next := algebra.ProductValue{Elems: append([]algebra.Value(nil), d.row.Elems...)}
	next.Elems[b.PrevC] = algebra.I64Value(d.fireAt)
	return tx.Update(b.Table, d.ptr, next)
}
