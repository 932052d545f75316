package controlplane

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/spacetimed/pkg/datastore"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/log"
	"github.com/cuemby/spacetimed/pkg/metrics"
	"github.com/cuemby/spacetimed/pkg/reducerhost"
	"github.com/cuemby/spacetimed/pkg/scheduler"
	"github.com/cuemby/spacetimed/pkg/snapshot"
	"github.com/cuemby/spacetimed/pkg/subscription"
)

// DefaultSchedulerInterval is how often a published database's Scheduler
// scans for due rows, absent an override in PublishSpec.
const DefaultSchedulerInterval = 100 * time.Millisecond

// DefaultSnapshotInterval is how often a published database's snapshot
// worker materializes committed state, absent an override in PublishSpec.
const DefaultSnapshotInterval = 5 * time.Minute

type entry struct {
	record  Record
	runtime *Runtime
	cancel  context.CancelFunc
}

// Registry owns every database this node has published: it is the single
// authority for identity→database resolution, and — because distributed
// consensus is out of scope here — the trivial leader for all of them.
type Registry struct {
	mu sync.RWMutex

	byID   map[identity.Identity]*entry
	byName map[string]identity.Identity // owner.String()+"/"+name -> id

	dataDir string
	logger  zerolog.Logger
}

// New constructs an empty Registry rooted at dataDir; each published
// database gets its own subdirectory for its commitlog and snapshots.
func New(dataDir string) *Registry {
	metrics.RegisterComponent("controlplane", true, "ready")
	return &Registry{
		byID:    make(map[identity.Identity]*entry),
		byName:  make(map[string]identity.Identity),
		dataDir: dataDir,
		logger:  log.WithComponent("controlplane"),
	}
}

// PublishSpec is everything Publish needs to stand up a new database.
type PublishSpec struct {
	Owner             identity.Identity
	Name              string
	Tables            []TableSpec
	Module            *reducerhost.Module
	Budget            energy.ReducerBudget
	SchedulerInterval time.Duration
	SnapshotInterval  time.Duration
}

// databaseID derives a database's identity deterministically from its
// owner and name, so republishing under the same (owner, name) after a
// restart resolves to the same identity.
func databaseID(owner identity.Identity, name string) identity.Identity {
	return identity.Derive(identity.Claims{
		Issuer:  "database",
		Subject: owner.String() + "/" + name,
	})
}

func nameKey(owner identity.Identity, name string) string {
	return owner.String() + "/" + name
}

// Publish creates a new database: its own Datastore (and on-disk commitlog
// directory), energy Accountant, reducer Host bound to module, subscription
// Broker, and — if any table carries a ScheduledSpec — a Scheduler, then
// fires the module's __init__ lifecycle reducer unless state from a prior
// run was restored. Every table in spec.Tables is created fresh on each
// publish; there is no schema migration against a previously published
// schema.
func (r *Registry) Publish(spec PublishSpec) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey(spec.Owner, spec.Name)
	if _, exists := r.byName[key]; exists {
		return nil, ErrNameTaken
	}

	id := databaseID(spec.Owner, spec.Name)
	budget := spec.Budget
	if budget == 0 {
		budget = energy.DefaultReducerBudget
	}
	interval := spec.SchedulerInterval
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	snapInterval := spec.SnapshotInterval
	if snapInterval <= 0 {
		snapInterval = DefaultSnapshotInterval
	}

	dir := filepath.Join(r.dataDir, id.String())
	accountant := energy.NewAccountant()
	ds, err := datastore.Open(dir, accountant)
	if err != nil {
		return nil, fmt.Errorf("controlplane: open datastore for %q: %w", spec.Name, err)
	}

	module := spec.Module
	if module == nil {
		module = reducerhost.NewModule()
	}
	host := reducerhost.New(ds, accountant, module)
	broker := subscription.NewBroker()

	tableByName := make(map[string]datastore.TableId, len(spec.Tables))
	publicTable := make(map[string]bool, len(spec.Tables))
	var bindings []scheduler.Binding
	for i, ts := range spec.Tables {
		tid := datastore.TableId(i + 1)
		if _, err := buildTable(ds, tid, ts); err != nil {
			return nil, err
		}
		tableByName[ts.Name] = tid
		publicTable[ts.Name] = ts.Public
		if ts.Scheduled != nil {
			b, err := scheduler.NewBinding(tid, ts.Schema, ts.Scheduled.ReducerName)
			if err != nil {
				return nil, fmt.Errorf("controlplane: scheduled table %q: %w", ts.Name, err)
			}
			bindings = append(bindings, b)
		}
	}

	// Restore state this database already accumulated on a prior run (dir
	// is deterministic from owner+name) before deciding whether to fire
	// __init__: the newest snapshot is loaded and only the commitlog
	// suffix past its offset replayed, so a restart doesn't pay for a full
	// replay. Init only runs when a database is first published, so a
	// republish that recovers existing state must not re-run it.
	snapWorker := snapshot.NewWorker(filepath.Join(dir, "snapshots"))
	if err := ds.RestoreFromSnapshot(snapWorker); err != nil {
		return nil, fmt.Errorf("controlplane: restore datastore for %q: %w", spec.Name, err)
	}
	_, hadPriorCommits := ds.CommittedOffset()
	metrics.UpdateComponent("datastore", true, "ready")

	rt := &Runtime{
		Datastore:   ds,
		Accountant:  accountant,
		Module:      module,
		Host:        host,
		Broker:      broker,
		Snapshots:   snapWorker,
		TableByName: tableByName,
		PublicTable: publicTable,
	}

	ctx, cancel := context.WithCancel(context.Background())
	if len(bindings) > 0 {
		sched := scheduler.New(ds, host, budget, bindings...)
		// Scheduler-driven commits fan out to subscribers exactly like
		// client-driven ones: a one-shot row's insert and delete both
		// reach anyone subscribed to the scheduled table.
		sched.SetOnCommit(func(txd datastore.TxData) {
			broker.Publish(subscription.Evaluate(txd, broker.Subscriptions()))
		})
		rt.Scheduler = sched
		go sched.Run(ctx, interval)
	}
	go snapshotLoop(ctx, spec.Name, ds, snapWorker, snapInterval)

	rec := Record{
		ID:        id,
		Name:      spec.Name,
		Owner:     spec.Owner,
		CreatedAt: time.Now(),
		Tables:    tableNames(spec.Tables),
	}

	if !hadPriorCommits {
		host.FireInit(spec.Owner, rec.CreatedAt)
	}

	r.byID[id] = &entry{record: rec, runtime: rt, cancel: cancel}
	r.byName[key] = id
	metrics.DatabasesTotal.Set(float64(len(r.byID)))

	r.logger.Info().Str("database", spec.Name).Str("id", id.Abbreviate()).Msg("controlplane: database published")
	return &rec, nil
}

// snapshotLoop periodically materializes name's committed state and
// compresses everything but the newest snapshot, until ctx is canceled. An
// empty database is skipped quietly; TakeSnapshot already logs the refusal.
func snapshotLoop(ctx context.Context, name string, ds *datastore.Datastore, worker *snapshot.Worker, interval time.Duration) {
	logger := log.WithDatabase(name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := worker.TakeSnapshot(ds); err != nil {
				if err != snapshot.ErrEmptyDatabase {
					logger.Error().Err(err).Msg("controlplane: periodic snapshot failed")
				}
				continue
			}
			if err := worker.CompressOlderSnapshots(); err != nil {
				logger.Error().Err(err).Msg("controlplane: compressing older snapshots failed")
			}
		}
	}
}

func tableNames(specs []TableSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

// Shutdown stops every published database's Scheduler and closes its
// Datastore (flushing and closing the commitlog), one database at a time in
// unspecified (map iteration) order. It is idempotent-ish: callers should not publish/resolve
// through this Registry afterward.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, e := range r.byID {
		e.cancel()
		// A parting snapshot keeps the next boot's commitlog replay to the
		// suffix written after it.
		if _, err := e.runtime.Snapshots.TakeSnapshot(e.runtime.Datastore); err != nil && err != snapshot.ErrEmptyDatabase && firstErr == nil {
			firstErr = fmt.Errorf("controlplane: final snapshot for %q: %w", e.record.Name, err)
		}
		if err := e.runtime.Datastore.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("controlplane: close datastore for %q: %w", e.record.Name, err)
		}
	}
	return firstErr
}

// Delete tears down a published database. Only its owner may delete it.
func (r *Registry) Delete(caller, id identity.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if e.record.Owner != caller {
		return ErrNotOwner
	}
	e.cancel()
	delete(r.byID, id)
	delete(r.byName, nameKey(e.record.Owner, e.record.Name))
	metrics.DatabasesTotal.Set(float64(len(r.byID)))
	r.logger.Info().Str("database", e.record.Name).Str("id", id.Abbreviate()).Msg("controlplane: database deleted")
	return nil
}

// Migrate applies fn to a published database's live Datastore under the
// registry lock, so no publish/delete races with it. This hook is where a
// real migration planner would reconcile the desired schema against ds's
// current tables. Only the owner may migrate.
func (r *Registry) Migrate(caller, id identity.Identity, fn func(*datastore.Datastore) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if e.record.Owner != caller {
		return ErrNotOwner
	}
	return fn(e.runtime.Datastore)
}

// Resolve looks up a published database's live Runtime by its identity.
func (r *Registry) Resolve(id identity.Identity) (*Runtime, Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, Record{}, false
	}
	return e.runtime, e.record, true
}

// ResolveByName looks up a published database by (owner, name).
func (r *Registry) ResolveByName(owner identity.Identity, name string) (*Runtime, Record, bool) {
	r.mu.RLock()
	id, ok := r.byName[nameKey(owner, name)]
	r.mu.RUnlock()
	if !ok {
		return nil, Record{}, false
	}
	return r.Resolve(id)
}

// List returns every published database's Record.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.record)
	}
	return out
}

// IsLeader reports whether this node is the leader replica for id.
// Distributed replica sets are not implemented; every locally published
// database is trivially its own leader, satisfying "one is the leader at
// any instant" for a single-replica database.
func (r *Registry) IsLeader(id identity.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}
