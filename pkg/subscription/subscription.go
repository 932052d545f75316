package subscription

import (
	"github.com/google/uuid"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/datastore"
)

// ConnectionID identifies one WebSocket connection's subscription set.
type ConnectionID = uuid.UUID

// Query is a single subscribed query: a predicate over one table's rows.
// The reducer host and SQL-ish query layer that would normally compile a
// textual query into Predicate are external collaborators; this package
// only consumes the compiled form.
type Query struct {
	Name      string
	Table     datastore.TableId
	Predicate func(algebra.ProductValue) bool
	Private   bool // true for system/private tables no external query may name
}

// ErrPrivateTable is returned when a Query references a private table.
type ErrPrivateTable struct{ Table string }

func (e *ErrPrivateTable) Error() string {
	return "subscription: query references private table " + e.Table
}

// Subscription is one connection's registered set of queries.
type Subscription struct {
	Connection ConnectionID
	Queries    []Query
}

// NewSubscription validates that none of queries reference a private
// table and returns the Subscription.
func NewSubscription(conn ConnectionID, queries []Query) (Subscription, error) {
	for _, q := range queries {
		if q.Private {
			return Subscription{}, &ErrPrivateTable{Table: q.Name}
		}
	}
	return Subscription{Connection: conn, Queries: queries}, nil
}

// TableUpdate is the delta one query produced for one table: every delete
// ordered before every insert, matching the wire protocol's requirement
// that a client never observes an insert for a row it hasn't first seen
// deleted when a row is replaced within a transaction.
type TableUpdate struct {
	Query   string
	Table   datastore.TableId
	Deletes []algebra.ProductValue
	Inserts []algebra.ProductValue
}
