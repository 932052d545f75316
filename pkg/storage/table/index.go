package table

import (
	"fmt"
	"sort"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

// ConstraintError is returned when an insert or update would violate a
// unique index. Existing is the pointer of the live row already holding the
// key, so callers can resolve it and format a diagnostic naming the
// offending row.
type ConstraintError struct {
	Index    string
	Key      string
	Existing page.Pointer
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("table: unique constraint %q violated for key %s (held by row %s)", e.Index, e.Key, e.Existing)
}

// Index is a secondary (or primary-key) lookup structure over one or more
// of a table's columns.
type Index interface {
	Name() string
	Unique() bool
	Insert(key algebra.Value, ptr page.Pointer) error
	Delete(key algebra.Value, ptr page.Pointer)
	PointScan(key algebra.Value) []page.Pointer
	RangeScan(lo, hi *algebra.Value, loIncl, hiIncl bool) []page.Pointer
	// Entries calls fn for every key in index order with the pointers
	// stored under it, stopping early if fn returns false.
	Entries(fn func(key algebra.Value, ptrs []page.Pointer) bool)
}

// MergeCheck verifies that merging src's entries into dst would violate no
// unique constraint: for the first key both indexes hold, the pointer in
// dst holding it is reported. Pointers for which ignore returns true are
// skipped, giving update semantics where a row being replaced may collide
// with itself. Returns the zero Pointer and false when the merge is clean
// or dst is not unique.
func MergeCheck(dst, src Index, ignore func(page.Pointer) bool) (page.Pointer, bool) {
	if !dst.Unique() {
		return page.Pointer{}, false
	}
	var offending page.Pointer
	found := false
	src.Entries(func(key algebra.Value, _ []page.Pointer) bool {
		for _, p := range dst.PointScan(key) {
			if ignore != nil && ignore(p) {
				continue
			}
			offending = p
			found = true
			return false
		}
		return true
	})
	return offending, found
}

// BTreeIndex keeps two structures over the same keys, mirroring the
// upstream btree index design: a sorted slice for ordered range scans and a
// hash map from key string to row pointers for O(1) point lookups and
// uniqueness checks.
type BTreeIndex struct {
	name    string
	keyType algebra.Type
	unique  bool

	sortedKeys []algebra.Value // kept sorted by algebra.Compare
	hashIdx    map[string][]page.Pointer
}

// NewBTreeIndex constructs an empty BTree index over columns of keyType.
func NewBTreeIndex(name string, keyType algebra.Type, unique bool) *BTreeIndex {
	return &BTreeIndex{
		name:    name,
		keyType: keyType,
		unique:  unique,
		hashIdx: make(map[string][]page.Pointer),
	}
}

func (b *BTreeIndex) Name() string   { return b.name }
func (b *BTreeIndex) Unique() bool   { return b.unique }

func (b *BTreeIndex) keyString(key algebra.Value) string { return key.KeyString(b.keyType) }

// Insert adds ptr under key, returning a *ConstraintError if the index is
// unique and key already has an entry.
func (b *BTreeIndex) Insert(key algebra.Value, ptr page.Pointer) error {
	ks := b.keyString(key)
	existing, present := b.hashIdx[ks]
	if b.unique && present && len(existing) > 0 {
		return &ConstraintError{Index: b.name, Key: ks, Existing: existing[0]}
	}
	if !present {
		b.insertSorted(key)
	}
	b.hashIdx[ks] = append(existing, ptr)
	return nil
}

func (b *BTreeIndex) insertSorted(key algebra.Value) {
	i := sort.Search(len(b.sortedKeys), func(i int) bool {
		return algebra.Compare(b.keyType, b.sortedKeys[i], key) >= 0
	})
	b.sortedKeys = append(b.sortedKeys, algebra.Value{})
	copy(b.sortedKeys[i+1:], b.sortedKeys[i:])
	b.sortedKeys[i] = key
}

// Delete removes ptr from key's entry, dropping the key from the sorted set
// entirely once its pointer list becomes empty.
func (b *BTreeIndex) Delete(key algebra.Value, ptr page.Pointer) {
	ks := b.keyString(key)
	ptrs, ok := b.hashIdx[ks]
	if !ok {
		return
	}
	out := ptrs[:0]
	for _, p := range ptrs {
		if p != ptr {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		delete(b.hashIdx, ks)
		b.removeSorted(key)
		return
	}
	b.hashIdx[ks] = out
}

func (b *BTreeIndex) removeSorted(key algebra.Value) {
	i := sort.Search(len(b.sortedKeys), func(i int) bool {
		return algebra.Compare(b.keyType, b.sortedKeys[i], key) >= 0
	})
	if i < len(b.sortedKeys) && algebra.Equal(b.keyType, b.sortedKeys[i], key) {
		b.sortedKeys = append(b.sortedKeys[:i], b.sortedKeys[i+1:]...)
	}
}

// PointScan returns every pointer stored under key.
func (b *BTreeIndex) PointScan(key algebra.Value) []page.Pointer {
	return b.hashIdx[b.keyString(key)]
}

// RangeScan returns every pointer whose key falls within [lo, hi] (bounds
// inclusive per loIncl/hiIncl; a nil bound is unbounded on that side).
func (b *BTreeIndex) RangeScan(lo, hi *algebra.Value, loIncl, hiIncl bool) []page.Pointer {
	start := 0
	if lo != nil {
		start = sort.Search(len(b.sortedKeys), func(i int) bool {
			c := algebra.Compare(b.keyType, b.sortedKeys[i], *lo)
			if loIncl {
				return c >= 0
			}
			return c > 0
		})
	}
	var out []page.Pointer
	for i := start; i < len(b.sortedKeys); i++ {
		k := b.sortedKeys[i]
		if hi != nil {
			c := algebra.Compare(b.keyType, k, *hi)
			if (hiIncl && c > 0) || (!hiIncl && c >= 0) {
				break
			}
		}
		out = append(out, b.hashIdx[b.keyString(k)]...)
	}
	return out
}

// Entries walks keys in sorted order.
func (b *BTreeIndex) Entries(fn func(key algebra.Value, ptrs []page.Pointer) bool) {
	for _, k := range b.sortedKeys {
		if !fn(k, b.hashIdx[b.keyString(k)]) {
			return
		}
	}
}

// DirectIndex is a direct-addressed index for small non-negative integer
// keys (typically an autoinc primary key), avoiding the BTree's comparison
// and hashing overhead for the common case of a dense identity column.
type DirectIndex struct {
	name   string
	unique bool
	slots  [][]page.Pointer
}

// NewDirectIndex constructs an empty Direct index.
func NewDirectIndex(name string, unique bool) *DirectIndex {
	return &DirectIndex{name: name, unique: unique}
}

func (d *DirectIndex) Name() string { return d.name }
func (d *DirectIndex) Unique() bool { return d.unique }

func (d *DirectIndex) Insert(key algebra.Value, ptr page.Pointer) error {
	idx := int(key.U64)
	for len(d.slots) <= idx {
		d.slots = append(d.slots, nil)
	}
	if d.unique && len(d.slots[idx]) > 0 {
		return &ConstraintError{Index: d.name, Key: fmt.Sprintf("%d", key.U64), Existing: d.slots[idx][0]}
	}
	d.slots[idx] = append(d.slots[idx], ptr)
	return nil
}

func (d *DirectIndex) Delete(key algebra.Value, ptr page.Pointer) {
	idx := int(key.U64)
	if idx < 0 || idx >= len(d.slots) {
		return
	}
	out := d.slots[idx][:0]
	for _, p := range d.slots[idx] {
		if p != ptr {
			out = append(out, p)
		}
	}
	d.slots[idx] = out
}

func (d *DirectIndex) PointScan(key algebra.Value) []page.Pointer {
	idx := int(key.U64)
	if idx < 0 || idx >= len(d.slots) {
		return nil
	}
	return d.slots[idx]
}

// Entries walks occupied slots in key order.
func (d *DirectIndex) Entries(fn func(key algebra.Value, ptrs []page.Pointer) bool) {
	for i, ptrs := range d.slots {
		if len(ptrs) == 0 {
			continue
		}
		if !fn(algebra.U64Value(uint64(i)), ptrs) {
			return
		}
	}
}

// RangeScan on a Direct index walks slots in key order; lo/hi bounds are
// interpreted as unsigned integer keys.
func (d *DirectIndex) RangeScan(lo, hi *algebra.Value, loIncl, hiIncl bool) []page.Pointer {
	start := 0
	if lo != nil {
		start = int(lo.U64)
		if !loIncl {
			start++
		}
	}
	end := len(d.slots) - 1
	if hi != nil {
		end = int(hi.U64)
		if !hiIncl {
			end--
		}
	}
	var out []page.Pointer
	for i := start; i <= end && i < len(d.slots); i++ {
		if i < 0 {
			continue
		}
		out = append(out, d.slots[i]...)
	}
	return out
}
