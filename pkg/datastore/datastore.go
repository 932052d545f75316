package datastore

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/commitlog"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/log"
	"github.com/cuemby/spacetimed/pkg/metrics"
	"github.com/cuemby/spacetimed/pkg/storage/page"
	"github.com/cuemby/spacetimed/pkg/storage/table"
)

// TableId identifies one of a database's tables.
type TableId uint32

// Op discriminates a single row mutation within a transaction.
type Op uint8

const (
	OpInsert Op = iota
	OpDelete
)

// RowChange is one row insert or delete recorded by a mutating transaction.
type RowChange struct {
	Table TableId
	Op    Op
	Row   algebra.ProductValue
}

// TxData is everything a committed mutating transaction produced: the
// commitlog offset it was assigned and every row it inserted or deleted, in
// application order. The subscription engine diffs query results against
// this to compute per-connection updates.
type TxData struct {
	Offset  uint64
	Changes []RowChange
}

// Datastore is the single-writer, many-reader transaction layer over a set
// of tables. Reads (BeginRead) take the store's RWMutex for reading and
// never block each other; a mutation (BeginMut) takes it for writing and
// excludes every reader and every other writer for its duration, matching
// the single-writer/many-reader model.
type Datastore struct {
	mu sync.RWMutex

	tables  map[TableId]*table.Table
	schemas map[TableId]algebra.ProductType

	log        *commitlog.Log
	accountant *energy.Accountant

	hasCommitted    bool
	committedOffset uint64

	logger zerolog.Logger
}

// Open constructs a Datastore backed by a commitlog rooted at dir.
func Open(dir string, accountant *energy.Accountant) (*Datastore, error) {
	l, err := commitlog.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("datastore: open commitlog: %w", err)
	}
	return &Datastore{
		tables:     make(map[TableId]*table.Table),
		schemas:    make(map[TableId]algebra.ProductType),
		log:        l,
		accountant: accountant,
		logger:     log.WithComponent("datastore"),
	}, nil
}

// CreateTable registers a new table under id with the given schema. It is
// the caller's responsibility to keep ids stable across restarts.
func (d *Datastore) CreateTable(id TableId, name string, schema algebra.ProductType) *table.Table {
	d.mu.Lock()
	defer d.mu.Unlock()
	tbl := table.New(name, schema)
	d.tables[id] = tbl
	d.schemas[id] = schema
	return tbl
}

// Table returns the table registered under id, or nil.
func (d *Datastore) Table(id TableId) *table.Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tables[id]
}

// Schema returns the product type table id was registered with.
func (d *Datastore) Schema(id TableId) algebra.ProductType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.schemas[id]
}

// Recover replays every committed transaction from the commitlog into the
// already-registered tables, restoring the datastore to its
// last-committed state. Tables must be created (via CreateTable) with the
// schemas they were written with before calling Recover.
func (d *Datastore) Recover() error { return d.RecoverFrom(0) }

// RecoverFrom replays commitlog transactions with offset >= from, used
// after LoadTables has already materialized the state up to a snapshot's
// offset.
func (d *Datastore) RecoverFrom(from uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var lastOffset uint64
	var any bool
	err := d.log.TransactionsFrom(from, func(offset uint64, payload []byte) error {
		txd, err := DecodeTxData(d.schemas, payload)
		if err != nil {
			return fmt.Errorf("datastore: decode tx %d: %w", offset, err)
		}
		for _, ch := range txd.Changes {
			tbl, ok := d.tables[ch.Table]
			if !ok {
				return fmt.Errorf("datastore: unknown table %d in recovered tx %d", ch.Table, offset)
			}
			switch ch.Op {
			case OpInsert:
				if _, err := tbl.Insert(ch.Row); err != nil {
					return fmt.Errorf("datastore: replay insert in tx %d: %w", offset, err)
				}
			case OpDelete:
				// Deletes are replayed by re-scanning for the matching row,
				// since recovery doesn't have the original Pointer.
				if err := deleteMatching(tbl, ch.Row); err != nil {
					return fmt.Errorf("datastore: replay delete in tx %d: %w", offset, err)
				}
			}
		}
		lastOffset = offset
		any = true
		return nil
	})
	if err != nil {
		return err
	}
	if any {
		d.hasCommitted = true
		d.committedOffset = lastOffset
	}
	d.logger.Info().Uint64("offset", lastOffset).Bool("recovered", any).Msg("datastore recovery complete")
	return nil
}

// deleteMatching finds the first row structurally equal to row and deletes
// it, used during recovery replay where the original Pointer isn't known.
func deleteMatching(tbl *table.Table, row algebra.ProductValue) error {
	rowType := algebra.Type{Kind: algebra.KindProduct, Product: tbl.Schema}
	var target *page.Pointer
	err := tbl.Scan(func(ptr page.Pointer, candidate algebra.ProductValue) error {
		if target != nil {
			return nil
		}
		if algebra.Equal(rowType, algebra.Value{Product: row}, algebra.Value{Product: candidate}) {
			p := ptr
			target = &p
		}
		return nil
	})
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("datastore: no matching row found to delete during replay")
	}
	return tbl.Delete(*target)
}

// BeginRead starts a read-only transaction, blocking only if a mutation is
// currently in progress.
func (d *Datastore) BeginRead() *ReadTx {
	d.mu.RLock()
	return &ReadTx{ds: d}
}

// BeginMut starts a mutating transaction on behalf of id, excluding every
// reader and other writer until Commit or Rollback releases it.
func (d *Datastore) BeginMut(id identity.Identity) *MutTx {
	waitStart := time.Now()
	d.mu.Lock()
	metrics.TxLockWaitDuration.Observe(time.Since(waitStart).Seconds())
	return &MutTx{ds: d, identity: id, startedAt: time.Now()}
}

// CommittedOffset reports the most recently committed transaction's offset
// and whether the datastore has ever committed anything, satisfying the
// snapshot.Source contract's "no committed offset" refusal case.
func (d *Datastore) CommittedOffset() (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.committedOffset, d.hasCommitted
}

// Close flushes and closes the underlying commitlog.
func (d *Datastore) Close() error {
	return d.log.Close()
}
