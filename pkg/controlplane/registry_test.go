package controlplane

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/bsatn"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/reducerhost"
)

func itemsTable() TableSpec {
	return TableSpec{
		Name:   "items",
		Public: true,
		Schema: algebra.ProductType{Fields: []algebra.Field{
			{Name: "id", Type: algebra.U64()},
			{Name: "label", Type: algebra.String()},
		}},
		Indexes: []IndexSpec{
			{Name: "by_id", Columns: []int{0}, Unique: true, Kind: IndexBTree, KeyType: algebra.U64()},
		},
	}
}

func owner() identity.Identity {
	return identity.Derive(identity.Claims{Issuer: "test", Subject: "owner-1"})
}

func TestPublishRegistersDatabaseAndResolvesByIdentityAndName(t *testing.T) {
	reg := New(t.TempDir())
	own := owner()

	rec, err := reg.Publish(PublishSpec{Owner: own, Name: "inventory", Tables: []TableSpec{itemsTable()}})
	require.NoError(t, err)
	require.Equal(t, "inventory", rec.Name)

	rt, got, ok := reg.Resolve(rec.ID)
	require.True(t, ok)
	require.Equal(t, rec.Name, got.Name)
	require.NotNil(t, rt.Datastore)
	require.True(t, reg.IsLeader(rec.ID))

	tid, public, ok := rt.Resolve("items")
	require.True(t, ok)
	require.True(t, public)
	require.Equal(t, algebra.KindU64, rt.Datastore.Schema(tid).Fields[0].Type.Kind)
	require.False(t, rec.ID.IsZero())

	rt2, rec2, ok := reg.ResolveByName(own, "inventory")
	require.True(t, ok)
	require.Equal(t, rt, rt2)
	require.Equal(t, rec.ID, rec2.ID)
}

func TestPublishRejectsDuplicateNameForSameOwner(t *testing.T) {
	reg := New(t.TempDir())
	own := owner()

	_, err := reg.Publish(PublishSpec{Owner: own, Name: "inventory", Tables: []TableSpec{itemsTable()}})
	require.NoError(t, err)

	_, err = reg.Publish(PublishSpec{Owner: own, Name: "inventory", Tables: []TableSpec{itemsTable()}})
	require.ErrorIs(t, err, ErrNameTaken)
}

func TestDeleteRequiresOwnership(t *testing.T) {
	reg := New(t.TempDir())
	own := owner()
	other := identity.Derive(identity.Claims{Issuer: "test", Subject: "owner-2"})

	rec, err := reg.Publish(PublishSpec{Owner: own, Name: "inventory", Tables: []TableSpec{itemsTable()}})
	require.NoError(t, err)

	err = reg.Delete(other, rec.ID)
	require.ErrorIs(t, err, ErrNotOwner)

	err = reg.Delete(own, rec.ID)
	require.NoError(t, err)

	_, _, ok := reg.Resolve(rec.ID)
	require.False(t, ok)
}

func TestResolveUnknownIdentityNotFound(t *testing.T) {
	reg := New(t.TempDir())
	_, _, ok := reg.Resolve(identity.Identity{})
	require.False(t, ok)
}

func TestPublishDerivesStableIDFromOwnerAndName(t *testing.T) {
	reg := New(t.TempDir())
	own := owner()

	rec, err := reg.Publish(PublishSpec{Owner: own, Name: "inventory", Tables: []TableSpec{itemsTable()}})
	require.NoError(t, err)
	require.Equal(t, databaseID(own, "inventory"), rec.ID)
}

func TestPublishFiresModuleInit(t *testing.T) {
	reg := New(t.TempDir())
	own := owner()

	var fired bool
	module := reducerhost.NewModule()
	err := module.RegisterReducer(reducerhost.NameInit, algebra.ProductType{}, func(ctx *reducerhost.ReducerContext, args algebra.ProductValue) error {
		fired = true
		return nil
	})
	require.NoError(t, err)

	_, err = reg.Publish(PublishSpec{Owner: own, Name: "inventory", Tables: []TableSpec{itemsTable()}, Module: module})
	require.NoError(t, err)
	require.True(t, fired)
}

func TestRepublishRestoresFromSnapshotAndSkipsInit(t *testing.T) {
	dir := t.TempDir()
	own := owner()

	initCount := 0
	newModule := func() *reducerhost.Module {
		m := reducerhost.NewModule()
		err := m.RegisterReducer(reducerhost.NameInit, algebra.ProductType{}, func(*reducerhost.ReducerContext, algebra.ProductValue) error {
			initCount++
			return nil
		})
		require.NoError(t, err)
		err = m.RegisterReducer("add_item", itemsTable().Schema, func(ctx *reducerhost.ReducerContext, args algebra.ProductValue) error {
			_, err := ctx.Insert(1, args)
			return err
		})
		require.NoError(t, err)
		return m
	}

	reg := New(dir)
	rec, err := reg.Publish(PublishSpec{Owner: own, Name: "inventory", Tables: []TableSpec{itemsTable()}, Module: newModule()})
	require.NoError(t, err)
	require.Equal(t, 1, initCount)

	rt, _, ok := reg.Resolve(rec.ID)
	require.True(t, ok)
	args, err := bsatn.EncodeProduct(itemsTable().Schema, algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1), algebra.StringValue("widget"),
	}})
	require.NoError(t, err)
	result := rt.Host.Dispatch(own, time.Now(), nil, "add_item", args, energy.DefaultReducerBudget)
	require.Equal(t, reducerhost.StateCommitted, result.State)

	// Shutdown takes a parting snapshot before closing the datastore.
	require.NoError(t, reg.Shutdown())
	manifests, err := rt.Snapshots.ListManifests()
	require.NoError(t, err)
	require.NotEmpty(t, manifests, "shutdown must leave a snapshot behind")

	reg2 := New(dir)
	rec2, err := reg2.Publish(PublishSpec{Owner: own, Name: "inventory", Tables: []TableSpec{itemsTable()}, Module: newModule()})
	require.NoError(t, err)
	require.Equal(t, rec.ID, rec2.ID)
	require.Equal(t, 1, initCount, "init must not re-fire when a republish restores prior state")

	rt2, _, ok := reg2.Resolve(rec2.ID)
	require.True(t, ok)
	require.Equal(t, 1, rt2.Datastore.Table(1).RowCount())
	require.NoError(t, reg2.Shutdown())
}
