package table

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

func userSchema() algebra.ProductType {
	return algebra.ProductType{Fields: []algebra.Field{
		{Name: "id", Type: algebra.U64()},
		{Name: "name", Type: algebra.String()},
	}}
}

func TestInsertAndGet(t *testing.T) {
	tbl := New("users", userSchema())
	ptr, err := tbl.Insert(algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1), algebra.StringValue("Ada"),
	}})
	require.NoError(t, err)

	row, err := tbl.Get(ptr)
	require.NoError(t, err)
	require.Equal(t, "Ada", row.Elems[1].Str)
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	tbl := New("users", userSchema())
	tbl.AddIndex(NewBTreeIndex("id_unique", algebra.U64(), true), []int{0})

	_, err := tbl.Insert(algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1), algebra.StringValue("Ada"),
	}})
	require.NoError(t, err)

	_, err = tbl.Insert(algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(1), algebra.StringValue("Grace"),
	}})
	require.Error(t, err)
	var ce *ConstraintError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "id_unique", ce.Index)
}

func TestIndexScanPointAndRange(t *testing.T) {
	tbl := New("users", userSchema())
	tbl.AddIndex(NewBTreeIndex("by_id", algebra.U64(), false), []int{0})

	for i := uint64(1); i <= 5; i++ {
		_, err := tbl.Insert(algebra.ProductValue{Elems: []algebra.Value{
			algebra.U64Value(i), algebra.StringValue("user"),
		}})
		require.NoError(t, err)
	}

	rows, err := tbl.IndexScanPoint("by_id", algebra.U64Value(3))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	lo := algebra.U64Value(2)
	hi := algebra.U64Value(4)
	rows, err = tbl.IndexScanRange("by_id", &lo, &hi, true, true)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestDeleteRemovesFromIndexAndScan(t *testing.T) {
	tbl := New("users", userSchema())
	tbl.AddIndex(NewBTreeIndex("by_id", algebra.U64(), true), []int{0})

	ptr, err := tbl.Insert(algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(7), algebra.StringValue("Linus"),
	}})
	require.NoError(t, err)

	require.NoError(t, tbl.Delete(ptr))

	rows, err := tbl.IndexScanPoint("by_id", algebra.U64Value(7))
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Equal(t, 0, tbl.RowCount())

	// Re-inserting the same key must now succeed.
	_, err = tbl.Insert(algebra.ProductValue{Elems: []algebra.Value{
		algebra.U64Value(7), algebra.StringValue("Linus"),
	}})
	require.NoError(t, err)
}

func TestInsertGrowsNewPageOncePageIsFull(t *testing.T) {
	tbl := New("users", userSchema())
	n := page.DefaultRowCapacity + 10
	for i := uint64(0); i < uint64(n); i++ {
		_, err := tbl.Insert(algebra.ProductValue{Elems: []algebra.Value{
			algebra.U64Value(i), algebra.StringValue("user"),
		}})
		require.NoError(t, err, "insert %d should spill into a new page, not fail", i)
	}
	require.Equal(t, n, tbl.RowCount())
	require.Greater(t, len(tbl.pages), 1)

	count := 0
	require.NoError(t, tbl.Scan(func(page.Pointer, algebra.ProductValue) error {
		count++
		return nil
	}))
	require.Equal(t, n, count)
}

func TestScanVisitsAllRows(t *testing.T) {
	tbl := New("users", userSchema())
	for i := uint64(1); i <= 3; i++ {
		_, err := tbl.Insert(algebra.ProductValue{Elems: []algebra.Value{
			algebra.U64Value(i), algebra.StringValue("user"),
		}})
		require.NoError(t, err)
	}
	count := 0
	require.NoError(t, tbl.Scan(func(_ page.Pointer, _ algebra.ProductValue) error {
		count++
		return nil
	}))
	require.Equal(t, 3, count)
}
