package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/datastore"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/reducerhost"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

func sumPayload(v algebra.Value) *algebra.Value { return &v }

func scheduledSchema() algebra.ProductType {
	return algebra.ProductType{Fields: []algebra.Field{
		{Name: "scheduled_id", Type: algebra.U64()},
		{Name: "prev", Type: algebra.I64()},
		{Name: "sched_at", Type: SchedAtType()},
	}}
}

func setup(t *testing.T) (*datastore.Datastore, datastore.TableId, datastore.TableId, *reducerhost.Host) {
	t.Helper()
	ds, err := datastore.Open(t.TempDir(), energy.NewAccountant())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	schedTable := datastore.TableId(1)
	ds.CreateTable(schedTable, "tick_job", scheduledSchema())

	firedTable := datastore.TableId(2)
	firedSchema := algebra.ProductType{Fields: []algebra.Field{{Name: "n", Type: algebra.I64()}}}
	ds.CreateTable(firedTable, "fired", firedSchema)

	mod := reducerhost.NewModule()
	err = mod.RegisterReducer("on_tick", algebra.ProductType{}, func(ctx *reducerhost.ReducerContext, _ algebra.ProductValue) error {
		_, err := ctx.Insert(firedTable, algebra.ProductValue{Elems: []algebra.Value{algebra.I64Value(1)}})
		return err
	})
	require.NoError(t, err)

	host := reducerhost.New(ds, energy.NewAccountant(), mod)
	return ds, schedTable, firedTable, host
}

func insertRow(t *testing.T, ds *datastore.Datastore, id datastore.TableId, row algebra.ProductValue) page.Pointer {
	t.Helper()
	tx := ds.BeginMut(identity.Identity{})
	ptr, err := tx.Insert(id, row)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)
	return ptr
}

func TestSchedulerFiresOneShotAndDeletesRow(t *testing.T) {
	ds, schedTable, firedTable, host := setup(t)
	schema := scheduledSchema()
	b, err := NewBinding(schedTable, schema, "on_tick")
	require.NoError(t, err)

	now := time.Now()
	insertRow(t, ds, schedTable, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1),
		algebra.I64Value(0),
		{Sum: algebra.SumValue{Tag: TagTime, Payload: sumPayload(algebra.I64Value(now.Add(-time.Second).UnixMicro()))}},
	}})

	s := New(ds, host, energy.DefaultReducerBudget, b)
	s.tick(now)

	rtx := ds.BeginRead()
	defer rtx.Release()
	n := 0
	require.NoError(t, rtx.Scan(schedTable, func(page.Pointer, algebra.ProductValue) error { n++; return nil }))
	require.Equal(t, 0, n, "one-shot row must be deleted once fired")

	fired := 0
	require.NoError(t, rtx.Scan(firedTable, func(page.Pointer, algebra.ProductValue) error { fired++; return nil }))
	require.Equal(t, 1, fired)
}

func TestSchedulerAdvancesIntervalRow(t *testing.T) {
	ds, schedTable, _, host := setup(t)
	schema := scheduledSchema()
	b, err := NewBinding(schedTable, schema, "on_tick")
	require.NoError(t, err)

	now := time.Now()
	interval := int64(5_000_000) // 5s in micros
	prev := now.Add(-6 * time.Second).UnixMicro()
	insertRow(t, ds, schedTable, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1),
		algebra.I64Value(prev),
		{Sum: algebra.SumValue{Tag: TagInterval, Payload: sumPayload(algebra.I64Value(interval))}},
	}})

	s := New(ds, host, energy.DefaultReducerBudget, b)
	due, err := s.collectDue(now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	txd, err := s.fire(now, due[0])
	require.NoError(t, err)

	for _, c := range txd.Changes {
		require.NotEqual(t, schedTable, c.Table, "an interval row's advance must not appear in TxData: %+v", c)
	}

	rtx := ds.BeginRead()
	defer rtx.Release()
	var rows []algebra.ProductValue
	require.NoError(t, rtx.Scan(schedTable, func(_ page.Pointer, row algebra.ProductValue) error {
		rows = append(rows, row)
		return nil
	}))
	require.Len(t, rows, 1, "interval row must still be present, advanced not deleted")
	require.Equal(t, prev+interval, rows[0].Elems[1].I64)
}

func TestSchedulerPublishesCommitsViaHook(t *testing.T) {
	ds, schedTable, firedTable, host := setup(t)
	schema := scheduledSchema()
	b, err := NewBinding(schedTable, schema, "on_tick")
	require.NoError(t, err)

	now := time.Now()
	insertRow(t, ds, schedTable, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(7),
		algebra.I64Value(0),
		{Sum: algebra.SumValue{Tag: TagTime, Payload: sumPayload(algebra.I64Value(now.Add(-time.Second).UnixMicro()))}},
	}})

	s := New(ds, host, energy.DefaultReducerBudget, b)
	var published []datastore.TxData
	s.SetOnCommit(func(txd datastore.TxData) { published = append(published, txd) })
	s.tick(now)

	require.Len(t, published, 1)
	var sawFiredInsert, sawSchedDelete bool
	for _, c := range published[0].Changes {
		if c.Table == firedTable && c.Op == datastore.OpInsert {
			sawFiredInsert = true
		}
		if c.Table == schedTable && c.Op == datastore.OpDelete {
			sawSchedDelete = true
		}
	}
	require.True(t, sawFiredInsert, "the fired reducer's own insert must reach subscribers")
	require.True(t, sawSchedDelete, "a one-shot row's deletion must reach subscribers")
}

func TestSchedulerSkipsNotYetDueRow(t *testing.T) {
	ds, schedTable, firedTable, host := setup(t)
	schema := scheduledSchema()
	b, err := NewBinding(schedTable, schema, "on_tick")
	require.NoError(t, err)

	now := time.Now()
	insertRow(t, ds, schedTable, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1),
		algebra.I64Value(0),
		{Sum: algebra.SumValue{Tag: TagTime, Payload: sumPayload(algebra.I64Value(now.Add(time.Hour).UnixMicro()))}},
	}})

	s := New(ds, host, energy.DefaultReducerBudget, b)
	s.tick(now)

	rtx := ds.BeginRead()
	defer rtx.Release()
	fired := 0
	require.NoError(t, rtx.Scan(firedTable, func(page.Pointer, algebra.ProductValue) error { fired++; return nil }))
	require.Equal(t, 0, fired)
}
