package datastore

import (
	"fmt"
	"time"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/metrics"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

// ReadTx is a read-only view over the datastore's committed state. It holds
// the datastore's read lock until Release is called.
type ReadTx struct {
	ds       *Datastore
	released bool
}

// Get resolves ptr within table id.
func (tx *ReadTx) Get(id TableId, ptr page.Pointer) (algebra.ProductValue, error) {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return algebra.ProductValue{}, fmt.Errorf("datastore: unknown table %d", id)
	}
	return tbl.Get(ptr)
}

// Scan visits every live row of table id.
func (tx *ReadTx) Scan(id TableId, fn func(ptr page.Pointer, row algebra.ProductValue) error) error {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return fmt.Errorf("datastore: unknown table %d", id)
	}
	return tbl.Scan(fn)
}

// IndexScanPoint looks up table id's named index for an exact key match.
func (tx *ReadTx) IndexScanPoint(id TableId, indexName string, key algebra.Value) ([]algebra.ProductValue, error) {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return nil, fmt.Errorf("datastore: unknown table %d", id)
	}
	return tbl.IndexScanPoint(indexName, key)
}

// IndexScanRange looks up table id's named index over a key range.
func (tx *ReadTx) IndexScanRange(id TableId, indexName string, lo, hi *algebra.Value, loIncl, hiIncl bool) ([]algebra.ProductValue, error) {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return nil, fmt.Errorf("datastore: unknown table %d", id)
	}
	return tbl.IndexScanRange(indexName, lo, hi, loIncl, hiIncl)
}

// Release ends the read transaction, unblocking any pending writer.
func (tx *ReadTx) Release() {
	if tx.released {
		return
	}
	tx.released = true
	tx.ds.mu.RUnlock()
}

// undoKind distinguishes the three physical operations Rollback can unwind.
type undoKind int

const (
	undoInsert undoKind = iota
	undoDelete
	undoUpdate
)

type undoOp struct {
	kind  undoKind
	table TableId
	ptr   page.Pointer
	row   algebra.ProductValue // undoDelete: the row to reinsert. undoUpdate: the row to restore.
}

// rowKey identifies a row inserted earlier in the same transaction, so a
// later Delete of that same pointer can net the pair out of the committed
// TxData instead of reporting a row that never became visible outside the
// transaction.
type rowKey struct {
	table TableId
	ptr   page.Pointer
}

// MutTx is a mutating transaction: it holds the datastore's write lock for
// its duration, excluding every reader and other writer, and accumulates a
// TxData of every row it touches to hand to the subscription engine and the
// commitlog on commit.
type MutTx struct {
	ds        *Datastore
	identity  identity.Identity
	startedAt time.Time

	changes    []RowChange
	changeDrop []bool         // parallel to changes; true once netted out by a same-tx delete
	pendingIns map[rowKey]int // table+ptr -> index into changes, for inserts not yet matched by a delete
	undo       []undoOp
	done       bool
}

// Get resolves ptr within table id.
func (tx *MutTx) Get(id TableId, ptr page.Pointer) (algebra.ProductValue, error) {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return algebra.ProductValue{}, fmt.Errorf("datastore: unknown table %d", id)
	}
	return tbl.Get(ptr)
}

// Scan visits every live row of table id.
func (tx *MutTx) Scan(id TableId, fn func(ptr page.Pointer, row algebra.ProductValue) error) error {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return fmt.Errorf("datastore: unknown table %d", id)
	}
	return tbl.Scan(fn)
}

// IndexScanPoint looks up table id's named index for an exact key match.
func (tx *MutTx) IndexScanPoint(id TableId, indexName string, key algebra.Value) ([]algebra.ProductValue, error) {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return nil, fmt.Errorf("datastore: unknown table %d", id)
	}
	return tbl.IndexScanPoint(indexName, key)
}

// IndexScanRange looks up table id's named index over a key range.
func (tx *MutTx) IndexScanRange(id TableId, indexName string, lo, hi *algebra.Value, loIncl, hiIncl bool) ([]algebra.ProductValue, error) {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return nil, fmt.Errorf("datastore: unknown table %d", id)
	}
	return tbl.IndexScanRange(indexName, lo, hi, loIncl, hiIncl)
}

// Insert adds row to table id.
func (tx *MutTx) Insert(id TableId, row algebra.ProductValue) (page.Pointer, error) {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return page.Pointer{}, fmt.Errorf("datastore: unknown table %d", id)
	}
	ptr, err := tbl.Insert(row)
	if err != nil {
		return page.Pointer{}, err
	}
	tx.changes = append(tx.changes, RowChange{Table: id, Op: OpInsert, Row: row})
	tx.changeDrop = append(tx.changeDrop, false)
	if tx.pendingIns == nil {
		tx.pendingIns = make(map[rowKey]int)
	}
	tx.pendingIns[rowKey{table: id, ptr: ptr}] = len(tx.changes) - 1
	tx.undo = append(tx.undo, undoOp{kind: undoInsert, table: id, ptr: ptr})
	return ptr, nil
}

// Update overwrites the row at ptr in place with newRow. Unlike Insert and
// Delete, Update never appends to the committed TxData: it exists for
// advancing rows whose identity and visibility to subscribers must not
// change, such as a repeating scheduled row whose next firing time moves
// forward without the row itself appearing to be removed and reinserted.
func (tx *MutTx) Update(id TableId, ptr page.Pointer, newRow algebra.ProductValue) error {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return fmt.Errorf("datastore: unknown table %d", id)
	}
	oldRow, err := tbl.Get(ptr)
	if err != nil {
		return err
	}
	if err := tbl.Update(ptr, newRow); err != nil {
		return err
	}
	tx.undo = append(tx.undo, undoOp{kind: undoUpdate, table: id, ptr: ptr, row: oldRow})
	return nil
}

// Delete removes the row at ptr from table id. If ptr was inserted earlier
// in this same transaction, the earlier Insert is netted out and no Delete
// is recorded either: the row never became visible outside the
// transaction, so TxData must not mention it.
func (tx *MutTx) Delete(id TableId, ptr page.Pointer) error {
	tbl := tx.ds.tables[id]
	if tbl == nil {
		return fmt.Errorf("datastore: unknown table %d", id)
	}
	row, err := tbl.Get(ptr)
	if err != nil {
		return err
	}
	if err := tbl.Delete(ptr); err != nil {
		return err
	}

	key := rowKey{table: id, ptr: ptr}
	if insIdx, ok := tx.pendingIns[key]; ok {
		delete(tx.pendingIns, key)
		tx.changeDrop[insIdx] = true
	} else {
		tx.changes = append(tx.changes, RowChange{Table: id, Op: OpDelete, Row: row})
		tx.changeDrop = append(tx.changeDrop, false)
	}
	tx.undo = append(tx.undo, undoOp{kind: undoDelete, table: id, row: row})
	return nil
}

// visibleChanges returns tx.changes with every netted-out insert/delete
// pair removed, preserving the relative order of what remains.
func (tx *MutTx) visibleChanges() []RowChange {
	out := make([]RowChange, 0, len(tx.changes))
	for i, c := range tx.changes {
		if tx.changeDrop[i] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Commit appends the transaction's changes to the commitlog, charges the
// caller's identity for the compute time spent, and releases the write
// lock. The returned TxData is what the subscription engine diffs.
func (tx *MutTx) Commit() (TxData, error) {
	if tx.done {
		return TxData{}, fmt.Errorf("datastore: transaction already finished")
	}
	defer tx.finish()

	changes := tx.visibleChanges()
	payload, err := EncodeTxData(tx.ds.schemas, TxData{Changes: changes})
	if err != nil {
		return TxData{}, fmt.Errorf("datastore: encode tx: %w", err)
	}
	offset, err := tx.ds.log.Append(payload)
	if err != nil {
		return TxData{}, fmt.Errorf("datastore: append to commitlog: %w", err)
	}
	if err := tx.ds.log.Flush(); err != nil {
		return TxData{}, fmt.Errorf("datastore: flush commitlog: %w", err)
	}

	tx.ds.hasCommitted = true
	tx.ds.committedOffset = offset

	if tx.ds.accountant != nil {
		cost := energy.FromDatastoreComputeDuration(time.Since(tx.startedAt))
		// Disk rent for the bytes this commit persisted, billed one second
		// up front at commit time.
		cost = cost.Add(energy.FromDiskUsage(int64(len(payload)), time.Second))
		tx.ds.accountant.Charge(tx.identity, cost)
	}

	metrics.TxCommitDuration.Observe(time.Since(tx.startedAt).Seconds())
	metrics.TxCommitsTotal.WithLabelValues("committed").Inc()
	return TxData{Offset: offset, Changes: changes}, nil
}

// Rollback undoes every change the transaction made and releases the write
// lock without writing to the commitlog.
func (tx *MutTx) Rollback() error {
	if tx.done {
		return nil
	}
	defer tx.finish()
	metrics.TxCommitsTotal.WithLabelValues("rolled_back").Inc()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		op := tx.undo[i]
		tbl := tx.ds.tables[op.table]
		if tbl == nil {
			continue
		}
		switch op.kind {
		case undoInsert:
			if err := tbl.Delete(op.ptr); err != nil {
				return fmt.Errorf("datastore: rollback undo insert: %w", err)
			}
		case undoDelete:
			if _, err := tbl.Insert(op.row); err != nil {
				return fmt.Errorf("datastore: rollback undo delete: %w", err)
			}
		case undoUpdate:
			if err := tbl.Update(op.ptr, op.row); err != nil {
				return fmt.Errorf("datastore: rollback undo update: %w", err)
			}
		}
	}
	return nil
}

func (tx *MutTx) finish() {
	tx.done = true
	tx.ds.mu.Unlock()
}
