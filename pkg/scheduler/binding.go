package scheduler

import (
	"fmt"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/datastore"
)

// Scheduled-row sched_at tags: sched_at is a Sum of Time(micros since
// epoch) for a one-shot firing or Interval(micros) for a repeating one
// measured from the row's prev.
const (
	TagTime     uint8 = 0
	TagInterval uint8 = 1
)

// SchedAtType is the algebraic Sum type every scheduled table's sched_at
// column must use.
func SchedAtType() algebra.Type {
	return algebra.Sum(
		algebra.Variant{Name: "Time", Type: algebra.I64()},
		algebra.Variant{Name: "Interval", Type: algebra.I64()},
	)
}

// Binding ties a scheduled table to the reducer it fires and the column
// positions of its three reserved fields. There is no codegen step that
// wires this up: a module registers a Binding explicitly against a plain
// runtime registry, rather than relying on generated per-table glue.
type Binding struct {
	Table        datastore.TableId
	Schema       algebra.ProductType
	ScheduledIDC int // column index of scheduled_id (U64)
	PrevC        int // column index of prev (I64, micros)
	SchedAtC     int // column index of sched_at (Sum{Time,Interval})
	ReducerName  string
}

// NewBinding resolves column positions by name out of schema and validates
// that sched_at has the expected Sum shape.
func NewBinding(table datastore.TableId, schema algebra.ProductType, reducerName string) (Binding, error) {
	idC := schema.ColumnIndex("scheduled_id")
	prevC := schema.ColumnIndex("prev")
	atC := schema.ColumnIndex("sched_at")
	if idC < 0 || prevC < 0 || atC < 0 {
		return Binding{}, fmt.Errorf("scheduler: schema for table %d is missing scheduled_id/prev/sched_at", table)
	}
	if schema.Fields[atC].Type.Kind != algebra.KindSum || len(schema.Fields[atC].Type.Sum.Variants) != 2 {
		return Binding{}, fmt.Errorf("scheduler: table %d's sched_at column is not a two-variant sum", table)
	}
	return Binding{
		Table:        table,
		Schema:       schema,
		ScheduledIDC: idC,
		PrevC:        prevC,
		SchedAtC:     atC,
		ReducerName:  reducerName,
	}, nil
}

func (b Binding) scheduledID(row algebra.ProductValue) uint64 {
	return row.Elems[b.ScheduledIDC].U64
}
