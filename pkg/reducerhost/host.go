package reducerhost

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/bsatn"
	"github.com/cuemby/spacetimed/pkg/datastore"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/log"
	"github.com/cuemby/spacetimed/pkg/metrics"
)

// State is where a single invocation landed in its state machine:
// Queued -> Running -> {Committed, Failed, OutOfEnergy}.
// Only Committed carries a TxData; the host never exposes "Queued"/
// "Running" to callers since Dispatch runs the call to one of the three
// terminal states synchronously.
type State uint8

const (
	StateCommitted State = iota
	StateFailed
	StateOutOfEnergy
)

// DispatchResult is the outcome of one reducer or procedure invocation.
type DispatchResult struct {
	State      State
	TxData     datastore.TxData
	EnergyUsed energy.Quanta
	Err        error
	Return     []byte // procedure return value BSATN, when State == StateCommitted
}

// Host loads a single module and dispatches calls against it. A Host owns
// exactly one Datastore and one Accountant; hosting several independent
// databases in one process means constructing one Host per database, never
// a shared global.
type Host struct {
	ds         *datastore.Datastore
	accountant *energy.Accountant
	module     *Module
	generation generationCounter
	wallCap    time.Duration
	logger     zerolog.Logger
}

// DefaultWallClockCap bounds how long a single invocation may run before it
// is aborted as out of energy, regardless of its quanta budget.
const DefaultWallClockCap = 500 * time.Millisecond

// New constructs a Host serving module against ds, charging calls to
// accountant.
func New(ds *datastore.Datastore, accountant *energy.Accountant, module *Module) *Host {
	return &Host{
		ds:         ds,
		accountant: accountant,
		module:     module,
		wallCap:    DefaultWallClockCap,
		logger:     log.WithComponent("reducerhost"),
	}
}

// SetWallClockCap overrides the per-invocation wall-time cap; zero disables
// it. Scheduled reducers are the usual reason to raise it.
func (h *Host) SetWallClockCap(d time.Duration) { h.wallCap = d }

// Module returns the host's export table.
func (h *Host) Module() *Module { return h.module }

func (h *Host) schemaOf(id datastore.TableId) algebra.ProductType {
	return h.ds.Schema(id)
}

// Dispatch resolves name against the module's reducers, decodes argsBSATN
// against its argument type, and runs it to completion inside a fresh
// mutating transaction with budget as its energy ceiling. name may not be
// one of the four reserved lifecycle names — those are fired internally via
// FireInit/FireClientConnected/FireClientDisconnected/FireUpdate.
func (h *Host) Dispatch(callerID identity.Identity, ts time.Time, connID *uuid.UUID, name string, argsBSATN []byte, budget energy.ReducerBudget) DispatchResult {
	export, ok := h.module.Lookup(name)
	if !ok {
		return DispatchResult{State: StateFailed, Err: h.module.notFoundError(name)}
	}
	if export.Kind != KindReducer {
		return DispatchResult{State: StateFailed, Err: &ErrWrongKind{Name: name, Want: KindReducer, Got: export.Kind}}
	}
	if export.Lifecycle != LifecycleNone {
		return DispatchResult{State: StateFailed, Err: &ErrLifecycleReserved{Name: name}}
	}
	if h.accountant.Balance(callerID).IsNegative() {
		return DispatchResult{State: StateOutOfEnergy, Err: ErrInsufficientBalance}
	}
	args, _, err := bsatn.DecodeProduct(export.ArgsType, argsBSATN)
	if err != nil {
		return DispatchResult{State: StateFailed, Err: fmt.Errorf("reducerhost: decode args for %q: %w", name, err)}
	}
	return h.runTransactional(callerID, ts, connID, budget, export, args)
}

// CallProcedure is Dispatch's counterpart for procedures: on success the
// procedure's return value is BSATN-encoded into DispatchResult.Return.
func (h *Host) CallProcedure(callerID identity.Identity, ts time.Time, connID *uuid.UUID, name string, argsBSATN []byte, budget energy.ReducerBudget) DispatchResult {
	export, ok := h.module.Lookup(name)
	if !ok {
		return DispatchResult{State: StateFailed, Err: h.module.notFoundError(name)}
	}
	if export.Kind != KindProcedure {
		return DispatchResult{State: StateFailed, Err: &ErrWrongKind{Name: name, Want: KindProcedure, Got: export.Kind}}
	}
	if h.accountant.Balance(callerID).IsNegative() {
		return DispatchResult{State: StateOutOfEnergy, Err: ErrInsufficientBalance}
	}
	args, _, err := bsatn.DecodeProduct(export.ArgsType, argsBSATN)
	if err != nil {
		return DispatchResult{State: StateFailed, Err: fmt.Errorf("reducerhost: decode args for %q: %w", name, err)}
	}
	return h.runTransactional(callerID, ts, connID, budget, export, args)
}

// CallView invokes a pure read view against committed state. Callers with
// authenticated false may only call a public view.
func (h *Host) CallView(callerID identity.Identity, name string, argsBSATN []byte, authenticated bool) ([]byte, error) {
	export, ok := h.module.Lookup(name)
	if !ok {
		return nil, h.module.notFoundError(name)
	}
	if export.Kind != KindView {
		return nil, &ErrWrongKind{Name: name, Want: KindView, Got: export.Kind}
	}
	if !export.Public && !authenticated {
		return nil, fmt.Errorf("reducerhost: view %q is not public", name)
	}
	args, _, err := bsatn.DecodeProduct(export.ArgsType, argsBSATN)
	if err != nil {
		return nil, fmt.Errorf("reducerhost: decode args for %q: %w", name, err)
	}
	rtx := h.ds.BeginRead()
	defer rtx.Release()
	result, err := export.View(&ViewContext{rtx: rtx}, args)
	if err != nil {
		return nil, err
	}
	return bsatn.EncodeProduct(export.ReturnType, result)
}

// fireLifecycle dispatches one of the four reserved reducers if the module
// registered it; it is a no-op (not an error) if the module declares none,
// since lifecycle hooks are optional.
func (h *Host) fireLifecycle(name string, callerID identity.Identity, ts time.Time, connID *uuid.UUID, args algebra.ProductValue) DispatchResult {
	export, ok := h.module.Lookup(name)
	if !ok {
		return DispatchResult{State: StateCommitted}
	}
	return h.runTransactional(callerID, ts, connID, energy.DefaultReducerBudget, export, args)
}

// FireInit dispatches __init__, exactly once, when a database is first
// published.
func (h *Host) FireInit(callerID identity.Identity, ts time.Time) DispatchResult {
	return h.fireLifecycle(NameInit, callerID, ts, nil, algebra.ProductValue{})
}

// FireClientConnected dispatches __identity_connected__ on WebSocket
// accept.
func (h *Host) FireClientConnected(callerID identity.Identity, ts time.Time, connID uuid.UUID) DispatchResult {
	return h.fireLifecycle(NameIdentityConnected, callerID, ts, &connID, algebra.ProductValue{})
}

// FireClientDisconnected dispatches __identity_disconnected__ on WebSocket
// close.
func (h *Host) FireClientDisconnected(callerID identity.Identity, ts time.Time, connID uuid.UUID) DispatchResult {
	return h.fireLifecycle(NameIdentityDisconnect, callerID, ts, &connID, algebra.ProductValue{})
}

// FireUpdate dispatches __update__ on migration.
func (h *Host) FireUpdate(callerID identity.Identity, ts time.Time) DispatchResult {
	return h.fireLifecycle(NameUpdate, callerID, ts, nil, algebra.ProductValue{})
}

// runTransactional opens a mutating transaction, runs export's body inside
// the energy meter, and commits or rolls back based on the outcome.
func (h *Host) runTransactional(callerID identity.Identity, ts time.Time, connID *uuid.UUID, budget energy.ReducerBudget, export *Export, args algebra.ProductValue) (result DispatchResult) {
	timer := metrics.NewTimer()
	defer func() {
		state := stateLabel(result.State)
		timer.ObserveDurationVec(metrics.ReducerCallDuration, export.Name, state)
		metrics.ReducerCallsTotal.WithLabelValues(export.Name, state).Inc()
	}()

	tx := h.ds.BeginMut(callerID)
	spent, retBytes, err, oom := h.invoke(tx, callerID, ts, connID, budget, export, args)
	if oom {
		_ = tx.Rollback()
		h.accountant.Charge(callerID, spent)
		metrics.OutOfEnergyTotal.Inc()
		metrics.EnergyChargedTotal.Add(float64(spent.Int64()))
		h.logger.Warn().Str("reducer", export.Name).Msg("out of energy")
		return DispatchResult{State: StateOutOfEnergy, EnergyUsed: spent, Err: fmt.Errorf("reducerhost: %q exceeded its energy budget", export.Name)}
	}
	if err != nil {
		_ = tx.Rollback()
		return DispatchResult{State: StateFailed, Err: err}
	}
	txd, err := tx.Commit()
	if err != nil {
		return DispatchResult{State: StateFailed, Err: err}
	}
	// The commit itself charged the compute-duration cost; the metered
	// host-call cost is charged on top, so the balance always drops by at
	// least the EnergyUsed reported to the caller.
	h.accountant.Charge(callerID, spent)
	metrics.EnergyChargedTotal.Add(float64(spent.Int64()))
	return DispatchResult{State: StateCommitted, TxData: txd, EnergyUsed: spent, Return: retBytes}
}

func stateLabel(s State) string {
	switch s {
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "out_of_energy"
	}
}

// invoke runs export's body inside tx, recovering an OutOfEnergy panic from
// ReducerContext.spend into the oom return rather than letting it escape
// the dispatcher — the closest Go analogue to a sandboxed host-call ABI
// trapping mid-execution.
func (h *Host) invoke(tx *datastore.MutTx, callerID identity.Identity, ts time.Time, connID *uuid.UUID, budget energy.ReducerBudget, export *Export, args algebra.ProductValue) (spent energy.Quanta, retBytes []byte, err error, oom bool) {
	h.generation.advance()
	ctx := &ReducerContext{
		tx:           tx,
		host:         h,
		identity:     callerID,
		timestamp:    ts,
		connectionID: connID,
		rng:          newRNGHandle(&h.generation, ts.UnixMicro()),
		budget:       budget,
		started:      time.Now(),
		wallCap:      h.wallCap,
	}
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(outOfEnergySentinel); ok {
				spent = ctx.spent
				oom = true
				return
			}
			panic(r)
		}
	}()

	switch export.Kind {
	case KindReducer:
		err = export.Reducer(ctx, args)
	case KindProcedure:
		var ret algebra.ProductValue
		ret, err = export.Procedure(ctx, args)
		if err == nil {
			retBytes, err = bsatn.EncodeProduct(export.ReturnType, ret)
		}
	default:
		err = fmt.Errorf("reducerhost: export %q is not invocable", export.Name)
	}
	spent = ctx.spent
	return
}

// InvokeForSchedule runs export's body inside an already-open transaction
// without managing its lifecycle — the caller (the scheduler) commits or
// rolls back tx itself so that the scheduled row's own deletion/advance can
// be folded into the same commit as the reducer's effects, so a one-shot
// row is deleted atomically with the reducer that fired it.
func (h *Host) InvokeForSchedule(tx *datastore.MutTx, callerID identity.Identity, ts time.Time, budget energy.ReducerBudget, name string, args algebra.ProductValue) (spent energy.Quanta, err error, oom bool, found bool) {
	export, ok := h.module.Lookup(name)
	if !ok {
		return energy.ZeroQuanta(), h.module.notFoundError(name), false, false
	}
	spent, _, err, oom = h.invoke(tx, callerID, ts, nil, budget, export, args)
	return spent, err, oom, true
}

// Charge debits spent quanta from callerID's balance, used by the
// scheduler after InvokeForSchedule commits.
func (h *Host) Charge(callerID identity.Identity, spent energy.Quanta) {
	h.accountant.Charge(callerID, spent)
}
