package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/snapshot"
)

func TestSnapshotRefusesEmptyDatastore(t *testing.T) {
	ds := openTestDatastore(t)
	worker := snapshot.NewWorker(filepath.Join(t.TempDir(), "snapshots"))

	_, err := worker.TakeSnapshot(ds)
	require.ErrorIs(t, err, snapshot.ErrEmptyDatabase)
}

func TestSnapshotAfterCommitWritesTableData(t *testing.T) {
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

	worker := snapshot.NewWorker(filepath.Join(t.TempDir(), "snapshots"))
	m, err := worker.TakeSnapshot(ds)
	require.NoError(t, err)
	require.Equal(t, uint64(0), m.Offset)
}

func TestRestoreFromSnapshotPlusReplayMatchesFullHistory(t *testing.T) {
	dir := t.TempDir()
	ds, err := Open(dir, energy.NewAccountant())
	require.NoError(t, err)
	ds.CreateTable(1, "items", itemSchema())
	id := identity.Derive(identity.Claims{Issuer: "iss", Subject: "sub"})

	insert := func(d *Datastore, n uint64, label string) {
		tx := d.BeginMut(id)
		_, err := tx.Insert(1, algebra.ProductValue{Elems: []algebra.Value{
			algebra.U64Value(n), algebra.StringValue(label),
		}})
		require.NoError(t, err)
		_, err = tx.Commit()
		require.NoError(t, err)
	}

	insert(ds, 1, "one")
	insert(ds, 2, "two")
	insert(ds, 3, "three")

	worker := snapshot.NewWorker(filepath.Join(dir, "snapshots"))
	m, err := worker.TakeSnapshot(ds)
	require.NoError(t, err)
	require.Equal(t, uint64(2), m.Offset)

	// A commit after the snapshot must come back via commitlog replay.
	insert(ds, 4, "four")
	require.NoError(t, ds.Close())

	restored, err := Open(dir, energy.NewAccountant())
	require.NoError(t, err)
	defer restored.Close()
	restored.CreateTable(1, "items", itemSchema())
	require.NoError(t, restored.RestoreFromSnapshot(worker))

	require.Equal(t, 4, restored.Table(1).RowCount())
	offset, ok := restored.CommittedOffset()
	require.True(t, ok)
	require.Equal(t, uint64(3), offset)

	// The next commit picks up the dense offset sequence where it left off.
	tx := restored.BeginMut(id)
	_, err = tx.Insert(1, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(5), algebra.StringValue("five"),
	}})
	require.NoError(t, err)
	txd, err := tx.Commit()
	require.NoError(t, err)
	require.Equal(t, uint64(4), txd.Offset)
}
