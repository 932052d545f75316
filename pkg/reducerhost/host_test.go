package reducerhost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/bsatn"
	"github.com/cuemby/spacetimed/pkg/datastore"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

func testHost(t *testing.T) (*Host, datastore.TableId, *datastore.Datastore) {
	t.Helper()
	ds, err := datastore.Open(t.TempDir(), energy.NewAccountant())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	schema := algebra.ProductType{Fields: []algebra.Field{
		{Name: "id", Type: algebra.I32()},
		{Name: "name", Type: algebra.String()},
	}}
	tableID := datastore.TableId(1)
	ds.CreateTable(tableID, "person", schema)

	mod := NewModule()
	err = mod.RegisterReducer("say_hello", algebra.ProductType{}, func(ctx *ReducerContext, args algebra.ProductValue) error {
		return nil
	})
	require.NoError(t, err)
	err = mod.RegisterReducer("insert_person", schema, func(ctx *ReducerContext, args algebra.ProductValue) error {
		_, err := ctx.Insert(tableID, args)
		return err
	})
	require.NoError(t, err)

	accountant := energy.NewAccountant()
	host := New(ds, accountant, mod)
	return host, tableID, ds
}

func TestDispatchCommitsAndProducesTxData(t *testing.T) {
	host, tableID, _ := testHost(t)
	id := identity.Derive(identity.Claims{Issuer: "t", Subject: "s"})

	row := algebra.ProductValue{Elems: []algebra.Value{algebra.I64Value(1), algebra.StringValue("Robert")}}
	argsBytes := mustEncode(t, algebra.ProductType{Fields: []algebra.Field{
		{Name: "id", Type: algebra.I32()},
		{Name: "name", Type: algebra.String()},
	}}, row)

	result := host.Dispatch(id, time.Now(), nil, "insert_person", argsBytes, energy.DefaultReducerBudget)
	require.Equal(t, StateCommitted, result.State)
	require.Len(t, result.TxData.Changes, 1)
	require.Equal(t, tableID, result.TxData.Changes[0].Table)
}

func TestDispatchUnknownReducerSuggestsName(t *testing.T) {
	host, _, _ := testHost(t)
	id := identity.Derive(identity.Claims{Issuer: "t", Subject: "s"})

	result := host.Dispatch(id, time.Now(), nil, "say_helo", nil, energy.DefaultReducerBudget)
	require.Equal(t, StateFailed, result.State)
	var nf *NotFoundError
	require.ErrorAs(t, result.Err, &nf)
	require.Equal(t, "say_hello", nf.Suggestion)
}

func TestDispatchRejectsLifecycleReducer(t *testing.T) {
	host, _, _ := testHost(t)
	require.NoError(t, host.Module().RegisterReducer(NameInit, algebra.ProductType{}, func(*ReducerContext, algebra.ProductValue) error { return nil }))
	id := identity.Derive(identity.Claims{Issuer: "t", Subject: "s"})

	result := host.Dispatch(id, time.Now(), nil, NameInit, nil, energy.DefaultReducerBudget)
	require.Equal(t, StateFailed, result.State)
	var lifecycleErr *ErrLifecycleReserved
	require.ErrorAs(t, result.Err, &lifecycleErr)
}

func TestDispatchOutOfEnergyRollsBackAndLeavesNoRow(t *testing.T) {
	host, tableID, ds := testHost(t)
	id := identity.Derive(identity.Claims{Issuer: "t", Subject: "s"})

	bigName := make([]byte, 1<<20)
	for i := range bigName {
		bigName[i] = 'a'
	}
	row := algebra.ProductValue{Elems: []algebra.Value{algebra.I64Value(1), algebra.StringValue(string(bigName))}}
	argsBytes := mustEncode(t, algebra.ProductType{Fields: []algebra.Field{
		{Name: "id", Type: algebra.I32()},
		{Name: "name", Type: algebra.String()},
	}}, row)

	tinyBudget := energy.ReducerBudget(100)
	result := host.Dispatch(id, time.Now(), nil, "insert_person", argsBytes, tinyBudget)
	require.Equal(t, StateOutOfEnergy, result.State)

	rtx := ds.BeginRead()
	defer rtx.Release()
	n := 0
	require.NoError(t, rtx.Scan(tableID, func(_ page.Pointer, _ algebra.ProductValue) error {
		n++
		return nil
	}))
	require.Equal(t, 0, n)
}

func TestDispatchRefusedWhileBalanceNegative(t *testing.T) {
	host, _, _ := testHost(t)
	id := identity.Derive(identity.Claims{Issuer: "t", Subject: "s"})

	host.accountant.Charge(id, energy.NewQuanta(1)) // drive the balance into debt

	result := host.Dispatch(id, time.Now(), nil, "say_hello", mustEncode(t, algebra.ProductType{}, algebra.ProductValue{}), energy.DefaultReducerBudget)
	require.Equal(t, StateOutOfEnergy, result.State)
	require.ErrorIs(t, result.Err, ErrInsufficientBalance)

	host.accountant.Credit(id, energy.NewQuanta(1_000_000))
	result = host.Dispatch(id, time.Now(), nil, "say_hello", mustEncode(t, algebra.ProductType{}, algebra.ProductValue{}), energy.DefaultReducerBudget)
	require.Equal(t, StateCommitted, result.State)
}

func TestCommitChargesAtLeastEnergyUsed(t *testing.T) {
	host, _, _ := testHost(t)
	id := identity.Derive(identity.Claims{Issuer: "t", Subject: "s"})
	host.accountant.Credit(id, energy.NewQuanta(1_000_000_000))
	before := host.accountant.Balance(id)

	row := algebra.ProductValue{Elems: []algebra.Value{algebra.I64Value(1), algebra.StringValue("Robert")}}
	argsBytes := mustEncode(t, algebra.ProductType{Fields: []algebra.Field{
		{Name: "id", Type: algebra.I32()},
		{Name: "name", Type: algebra.String()},
	}}, row)

	result := host.Dispatch(id, time.Now(), nil, "insert_person", argsBytes, energy.DefaultReducerBudget)
	require.Equal(t, StateCommitted, result.State)

	after := host.accountant.Balance(id)
	require.LessOrEqual(t, after.Cmp(before.Sub(result.EnergyUsed)), 0,
		"balance must drop by at least the reported energy")
}

func mustEncode(t *testing.T, pt algebra.ProductType, v algebra.ProductValue) []byte {
	t.Helper()
	b, err := bsatn.EncodeProduct(pt, v)
	require.NoError(t, err)
	return b
}
