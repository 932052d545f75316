package datastore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

func itemSchema() algebra.ProductType {
	return algebra.ProductType{Fields: []algebra.Field{
		{Name: "id", Type: algebra.U64()},
		{Name: "label", Type: algebra.String()},
	}}
}

func openTestDatastore(t *testing.T) *Datastore {
	t.Helper()
	ds, err := Open(t.TempDir(), energy.NewAccountant())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func TestInsertCommitChargesEnergy(t *testing.T) {
	ds := openTestDatastore(t)
	ds.CreateTable(1, "items", itemSchema())

	id := identity.Derive(identity.Claims{Issuer: "iss", Subject: "sub"})

	tx := ds.BeginMut(id)
	_, err := tx.Insert(1, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1), algebra.StringValue("widget"),
	}})
	require.NoError(t, err)
	txd, err := tx.Commit()
	require.NoError(t, err)
	require.Equal(t, uint64(0), txd.Offset)
	require.Len(t, txd.Changes, 1)

	require.True(t, ds.accountant.Balance(id).IsNegative())

	offset, ok := ds.CommittedOffset()
	require.True(t, ok)
	require.Equal(t, uint64(0), offset)
}

func TestRollbackUndoesChanges(t *testing.T) {
	ds := openTestDatastore(t)
	ds.CreateTable(1, "items", itemSchema())
	id := identity.Derive(identity.Claims{Issuer: "iss", Subject: "sub"})

	tx := ds.BeginMut(id)
	_, err := tx.Insert(1, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1), algebra.StringValue("widget"),
	}})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	require.Equal(t, 0, ds.Table(1).RowCount())
}

func TestReadTxSeesCommittedRows(t *testing.T) {
	ds := openTestDatastore(t)
	ds.CreateTable(1, "items", itemSchema())
	id := identity.Derive(identity.Claims{Issuer: "iss", Subject: "sub"})

	tx := ds.BeginMut(id)
	_, err := tx.Insert(1, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1), algebra.StringValue("widget"),
	}})
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	rtx := ds.BeginRead()
	defer rtx.Release()
	count := 0
	require.NoError(t, rtx.Scan(1, func(_ page.Pointer, _ algebra.ProductValue) error {
		count++
		return nil
	}))
	require.Equal(t, 1, count)
}

func TestInsertThenDeleteInSameTxProducesNoTxDataEntry(t *testing.T) {
	ds := openTestDatastore(t)
	ds.CreateTable(1, "items", itemSchema())
	id := identity.Derive(identity.Claims{Issuer: "iss", Subject: "sub"})

	tx := ds.BeginMut(id)
	ptr, err := tx.Insert(1, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1), algebra.StringValue("widget"),
	}})
	require.NoError(t, err)
	require.NoError(t, tx.Delete(1, ptr))

	txd, err := tx.Commit()
	require.NoError(t, err)
	require.Empty(t, txd.Changes, "a row inserted and deleted within one transaction must not appear in TxData")
	require.Equal(t, 0, ds.Table(1).RowCount())
}

func TestRecoverReplaysCommittedTransactions(t *testing.T) {
	dir := t.TempDir()
	ds, err := Open(dir, energy.NewAccountant())
	require.NoError(t, err)
	ds.CreateTable(1, "items", itemSchema())
	id := identity.Derive(identity.Claims{Issuer: "iss", Subject: "sub"})

	tx := ds.BeginMut(id)
	_, err = tx.Insert(1, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1), algebra.StringValue("widget"),
	}})
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	reopened, err := Open(dir, energy.NewAccountant())
	require.NoError(t, err)
	defer reopened.Close()
	reopened.CreateTable(1, "items", itemSchema())
	require.NoError(t, reopened.Recover())

	require.Equal(t, 1, reopened.Table(1).RowCount())
	offset, ok := reopened.CommittedOffset()
	require.True(t, ok)
	require.Equal(t, uint64(0), offset)
}
