package controlplane

import (
	"fmt"
	"time"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/datastore"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/reducerhost"
	"github.com/cuemby/spacetimed/pkg/scheduler"
	"github.com/cuemby/spacetimed/pkg/snapshot"
	"github.com/cuemby/spacetimed/pkg/storage/table"
	"github.com/cuemby/spacetimed/pkg/subscription"
)

// IndexKind selects which of storage/table's two index structures a
// published table's index uses.
type IndexKind uint8

const (
	IndexBTree IndexKind = iota
	IndexDirect
)

// IndexSpec describes one secondary index over a published table.
type IndexSpec struct {
	Name    string
	Columns []int
	Unique  bool
	Kind    IndexKind
	// KeyType is required for IndexBTree (the BTree needs to compare keys);
	// IndexDirect ignores it.
	KeyType algebra.Type
}

// ScheduledSpec marks a published table as a scheduled table: its rows are
// driven by the Scheduler, which invokes ReducerName on every due row. The
// table's schema must already carry scheduled_id/prev/sched_at columns; see
// scheduler.NewBinding for the exact shape required.
type ScheduledSpec struct {
	ReducerName string
}

// TableSpec describes one table to create as part of publishing a database.
type TableSpec struct {
	Name      string
	Schema    algebra.ProductType
	Public    bool
	Indexes   []IndexSpec
	Scheduled *ScheduledSpec
}

// Record is a published database's lifecycle metadata, independent of its
// live runtime state.
type Record struct {
	ID        identity.Identity
	Name      string
	Owner     identity.Identity
	CreatedAt time.Time
	Tables    []string
}

// Runtime bundles the live components backing one published database.
type Runtime struct {
	Datastore   *datastore.Datastore
	Accountant  *energy.Accountant
	Module      *reducerhost.Module
	Host        *reducerhost.Host
	Broker      *subscription.Broker
	Scheduler   *scheduler.Scheduler
	Snapshots   *snapshot.Worker
	TableByName map[string]datastore.TableId
	PublicTable map[string]bool
}

// Resolve looks up a table by name the way gateway.TableResolver expects.
func (rt *Runtime) Resolve(name string) (datastore.TableId, bool, bool) {
	id, ok := rt.TableByName[name]
	if !ok {
		return 0, false, false
	}
	return id, rt.PublicTable[name], true
}

func buildTable(ds *datastore.Datastore, id datastore.TableId, spec TableSpec) (*table.Table, error) {
	tbl := ds.CreateTable(id, spec.Name, spec.Schema)
	for _, is := range spec.Indexes {
		var idx table.Index
		switch is.Kind {
		case IndexBTree:
			idx = table.NewBTreeIndex(is.Name, is.KeyType, is.Unique)
		case IndexDirect:
			idx = table.NewDirectIndex(is.Name, is.Unique)
		default:
			return nil, fmt.Errorf("controlplane: unknown index kind %d for %q", is.Kind, is.Name)
		}
		tbl.AddIndex(idx, is.Columns)
	}
	return tbl, nil
}
