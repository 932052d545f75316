package table

import (
	"fmt"
	"sync"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

// Table is one table's row store: a schema, the pages holding its rows, and
// the secondary indexes built over it. A Table holds its own RWMutex for
// the duration of each method call; grouping several calls into one
// transaction is left to callers (the datastore's transaction layer).
type Table struct {
	mu sync.RWMutex

	Name   string
	Schema algebra.ProductType
	layout layout

	pages []*page.Page

	indexes map[string]Index
	// indexCols maps an index name to the column(s) it's built over, used to
	// project a row down to the key value(s) an index expects.
	indexCols map[string][]int
}

// New constructs an empty table for the given schema.
func New(name string, schema algebra.ProductType) *Table {
	return &Table{
		Name:      name,
		Schema:    schema,
		layout:    newLayout(schema),
		indexes:   make(map[string]Index),
		indexCols: make(map[string][]int),
	}
}

// AddIndex registers idx over the given columns (by position in Schema).
// The caller is responsible for choosing BTree vs Direct based on the
// column's type and cardinality expectations.
func (t *Table) AddIndex(idx Index, cols []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indexes[idx.Name()] = idx
	t.indexCols[idx.Name()] = cols
}

func (t *Table) indexKey(cols []int, row algebra.ProductValue) algebra.Value {
	if len(cols) == 1 {
		return row.Elems[cols[0]]
	}
	return algebra.Value{Product: row.Project(cols)}
}

// Insert stores row, updating every registered index. If any unique index
// would be violated the table is left unchanged and a *ConstraintError is
// returned.
func (t *Table) Insert(row algebra.ProductValue) (page.Pointer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Pre-check uniqueness before touching any page, so a violation never
	// leaves a partially-written row or index behind.
	for name, idx := range t.indexes {
		if !idx.Unique() {
			continue
		}
		key := t.indexKey(t.indexCols[name], row)
		if held := idx.PointScan(key); len(held) > 0 {
			return page.Pointer{}, &ConstraintError{Index: name, Key: key.KeyString(t.keyTypeFor(name)), Existing: held[0]}
		}
	}

	ptr, err := t.insertIntoPage(row)
	if err != nil {
		return page.Pointer{}, err
	}

	for name, idx := range t.indexes {
		key := t.indexKey(t.indexCols[name], row)
		// Uniqueness already verified above; ignore the error, which cannot
		// recur here except under concurrent mutation the caller must
		// prevent.
		_ = idx.Insert(key, ptr)
	}
	return ptr, nil
}

func (t *Table) keyTypeFor(indexName string) algebra.Type {
	cols := t.indexCols[indexName]
	if len(cols) == 1 {
		return t.Schema.Fields[cols[0]].Type
	}
	fields := make([]algebra.Field, len(cols))
	for i, c := range cols {
		fields[i] = t.Schema.Fields[c]
	}
	return algebra.Type{Kind: algebra.KindProduct, Product: algebra.ProductType{Fields: fields}}
}

// insertIntoPage encodes and allocates row into the table's current last
// page, growing a fresh page and retrying once if that page has no room
// left — in its fixed-row region or its var-len heap. A page that can't
// take one more row is never fatal, only a reason to allocate another one.
func (t *Table) insertIntoPage(row algebra.ProductValue) (page.Pointer, error) {
	pg, pgIdx := t.pageForInsert()
	ptr, err := t.tryInsert(pg, pgIdx, row)
	if err == page.ErrPageFull {
		pg, pgIdx = t.growPage()
		ptr, err = t.tryInsert(pg, pgIdx, row)
	}
	return ptr, err
}

// tryInsert attempts a single encode+allocate against pg. If the fixed-row
// region turns out to be full after the var-len columns were already
// written to pg's heap, it frees that now-orphaned var-len storage before
// reporting page.ErrPageFull, so a retry against a different page leaves no
// garbage behind in this one.
func (t *Table) tryInsert(pg *page.Page, pgIdx uint32, row algebra.ProductValue) (page.Pointer, error) {
	fixed, err := encodeRow(t.layout, pg, row)
	if err != nil {
		return page.Pointer{}, err
	}
	off, err := pg.AllocateRow(fixed)
	if err != nil {
		if err == page.ErrPageFull {
			freeRowVarLen(t.layout, pg, fixed)
		}
		return page.Pointer{}, err
	}
	return page.Pointer{PageIndex: pgIdx, Offset: off}, nil
}

func (t *Table) pageForInsert() (*page.Page, uint32) {
	if len(t.pages) > 0 {
		return t.pages[len(t.pages)-1], uint32(len(t.pages) - 1)
	}
	return t.growPage()
}

func (t *Table) growPage() (*page.Page, uint32) {
	pg := page.New(t.layout.rowWidth, page.DefaultRowCapacity, page.DefaultGranuleCapacity)
	t.pages = append(t.pages, pg)
	return pg, uint32(len(t.pages) - 1)
}

// Update rewrites the row at ptr to newRow in place: ptr and every index
// entry for newRow's unique/non-unique columns are left untouched except for
// the columns that actually changed. The old row's var-len storage is freed
// and newRow's own var-len columns are written fresh, but the row never
// moves to a different page or slot.
func (t *Table) Update(ptr page.Pointer, newRow algebra.ProductValue) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pg, err := t.pageAt(ptr.PageIndex)
	if err != nil {
		return err
	}
	oldFixed, err := pg.ReadRow(ptr.Offset)
	if err != nil {
		return err
	}
	oldRow, err := decodeRow(t.layout, pg, oldFixed)
	if err != nil {
		return err
	}

	newFixed, err := encodeRow(t.layout, pg, newRow)
	if err != nil {
		return err
	}
	freeRowVarLen(t.layout, pg, oldFixed)
	if err := pg.WriteRow(ptr.Offset, newFixed); err != nil {
		return err
	}

	for name, idx := range t.indexes {
		cols := t.indexCols[name]
		oldKey := t.indexKey(cols, oldRow)
		newKey := t.indexKey(cols, newRow)
		idx.Delete(oldKey, ptr)
		_ = idx.Insert(newKey, ptr)
	}
	return nil
}

// Get resolves ptr back to its decoded row.
func (t *Table) Get(ptr page.Pointer) (algebra.ProductValue, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pg, err := t.pageAt(ptr.PageIndex)
	if err != nil {
		return algebra.ProductValue{}, err
	}
	fixed, err := pg.ReadRow(ptr.Offset)
	if err != nil {
		return algebra.ProductValue{}, err
	}
	return decodeRow(t.layout, pg, fixed)
}

func (t *Table) pageAt(i uint32) (*page.Page, error) {
	if int(i) >= len(t.pages) {
		return nil, fmt.Errorf("table: page %d out of range", i)
	}
	return t.pages[i], nil
}

// Delete removes the row at ptr, freeing its var-len storage and removing
// it from every index.
func (t *Table) Delete(ptr page.Pointer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pg, err := t.pageAt(ptr.PageIndex)
	if err != nil {
		return err
	}
	fixed, err := pg.ReadRow(ptr.Offset)
	if err != nil {
		return err
	}
	row, err := decodeRow(t.layout, pg, fixed)
	if err != nil {
		return err
	}
	for name, idx := range t.indexes {
		idx.Delete(t.indexKey(t.indexCols[name], row), ptr)
	}
	freeRowVarLen(t.layout, pg, fixed)
	return pg.FreeRow(ptr.Offset)
}

// Scan calls fn for every live row in the table, in page/slot order.
func (t *Table) Scan(fn func(ptr page.Pointer, row algebra.ProductValue) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for pIdx, pg := range t.pages {
		err := pg.LiveRows(func(off page.RowOffset, fixed []byte) error {
			row, err := decodeRow(t.layout, pg, fixed)
			if err != nil {
				return err
			}
			return fn(page.Pointer{PageIndex: uint32(pIdx), Offset: off}, row)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// IndexScanPoint returns every row whose indexed key equals key.
func (t *Table) IndexScanPoint(indexName string, key algebra.Value) ([]algebra.ProductValue, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("table: no such index %q", indexName)
	}
	return t.resolveAll(idx.PointScan(key))
}

// IndexScanRange returns every row whose indexed key falls within [lo, hi].
func (t *Table) IndexScanRange(indexName string, lo, hi *algebra.Value, loIncl, hiIncl bool) ([]algebra.ProductValue, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("table: no such index %q", indexName)
	}
	return t.resolveAll(idx.RangeScan(lo, hi, loIncl, hiIncl))
}

func (t *Table) resolveAll(ptrs []page.Pointer) ([]algebra.ProductValue, error) {
	out := make([]algebra.ProductValue, 0, len(ptrs))
	for _, ptr := range ptrs {
		pg, err := t.pageAt(ptr.PageIndex)
		if err != nil {
			return nil, err
		}
		fixed, err := pg.ReadRow(ptr.Offset)
		if err != nil {
			return nil, err
		}
		row, err := decodeRow(t.layout, pg, fixed)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// RowCount returns the number of live rows across all pages.
func (t *Table) RowCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, pg := range t.pages {
		_ = pg.LiveRows(func(page.RowOffset, []byte) error {
			n++
			return nil
		})
	}
	return n
}
