package subscription

import (
	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/datastore"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

// Evaluate computes, for every subscription, the TableUpdates its queries
// produce from txd's changes. A subscription that has no query matching any
// changed table is omitted from the result.
func Evaluate(txd datastore.TxData, subs []Subscription) map[ConnectionID][]TableUpdate {
	out := make(map[ConnectionID][]TableUpdate)
	for _, sub := range subs {
		var updates []TableUpdate
		for _, q := range sub.Queries {
			var deletes, inserts []algebra.ProductValue
			for _, ch := range txd.Changes {
				if ch.Table != q.Table {
					continue
				}
				if !q.Predicate(ch.Row) {
					continue
				}
				switch ch.Op {
				case datastore.OpDelete:
					deletes = append(deletes, ch.Row)
				case datastore.OpInsert:
					inserts = append(inserts, ch.Row)
				}
			}
			if len(deletes) == 0 && len(inserts) == 0 {
				continue
			}
			updates = append(updates, TableUpdate{
				Query:   q.Name,
				Table:   q.Table,
				Deletes: deletes,
				Inserts: inserts,
			})
		}
		if len(updates) > 0 {
			out[sub.Connection] = updates
		}
	}
	return out
}

// InitialUpdate produces the synthetic "all rows currently match" update a
// newly-registered query gets, evaluated against rtx's already-committed
// state: every matching row arrives as an insert, with no deletes.
func InitialUpdate(rtx *datastore.ReadTx, q Query) (TableUpdate, error) {
	update := TableUpdate{Query: q.Name, Table: q.Table}
	err := rtx.Scan(q.Table, func(_ page.Pointer, row algebra.ProductValue) error {
		if q.Predicate(row) {
			update.Inserts = append(update.Inserts, row)
		}
		return nil
	})
	if err != nil {
		return TableUpdate{}, err
	}
	return update, nil
}
