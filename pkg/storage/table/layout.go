package table

import (
	"fmt"

	"github.com/cuemby/spacetimed/pkg/algebra"
)

// layout describes how a ProductType's columns are placed in a row's fixed
// byte buffer: fixed-width columns are encoded in place, variable-length
// columns (or any column whose type has no fixed size) are stored in the
// page's granule heap and referenced by an 8-byte VarLenRef at their offset.
type layout struct {
	schema     algebra.ProductType
	offsets    []int  // per-field byte offset within the fixed buffer
	isVarLen   []bool // per-field: true if stored by reference
	rowWidth   int
	varOffsets []int // offsets (subset of offsets) that hold VarLenRefs, sorted
}

func newLayout(schema algebra.ProductType) layout {
	l := layout{
		schema:   schema,
		offsets:  make([]int, len(schema.Fields)),
		isVarLen: make([]bool, len(schema.Fields)),
	}
	cursor := 0
	for i, f := range schema.Fields {
		l.offsets[i] = cursor
		if sz, ok := f.Type.FixedSize(); ok {
			cursor += sz
		} else {
			l.isVarLen[i] = true
			l.varOffsets = append(l.varOffsets, cursor)
			cursor += 8 // VarLenRef width
		}
	}
	l.rowWidth = cursor
	return l
}

func (l layout) fieldOffset(col int) (int, error) {
	if col < 0 || col >= len(l.offsets) {
		return 0, fmt.Errorf("table: column %d out of range", col)
	}
	return l.offsets[col], nil
}
