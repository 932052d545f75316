package subscription

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/datastore"
)

func TestNewSubscriptionRejectsPrivateTable(t *testing.T) {
	_, err := NewSubscription(uuid.New(), []Query{{Name: "secret", Private: true}})
	require.Error(t, err)
	var pe *ErrPrivateTable
	require.ErrorAs(t, err, &pe)
}

func TestEvaluateOrdersDeletesBeforeInserts(t *testing.T) {
	conn := uuid.New()
	matchAll := func(algebra.ProductValue) bool { return true }
	sub := Subscription{Connection: conn, Queries: []Query{{Name: "q1", Table: 1, Predicate: matchAll}}}

	txd := datastore.TxData{Changes: []datastore.RowChange{
		{Table: 1, Op: datastore.OpInsert, Row: algebra.ProductValue{Elems: []algebra.Value{algebra.U64Value(1)}}},
		{Table: 1, Op: datastore.OpDelete, Row: algebra.ProductValue{Elems: []algebra.Value{algebra.U64Value(2)}}},
	}}

	result := Evaluate(txd, []Subscription{sub})
	updates := result[conn]
	require.Len(t, updates, 1)
	require.Len(t, updates[0].Deletes, 1)
	require.Len(t, updates[0].Inserts, 1)
}

func TestEvaluateSkipsNonMatchingSubscription(t *testing.T) {
	conn := uuid.New()
	never := func(algebra.ProductValue) bool { return false }
	sub := Subscription{Connection: conn, Queries: []Query{{Name: "q1", Table: 1, Predicate: never}}}

	txd := datastore.TxData{Changes: []datastore.RowChange{
		{Table: 1, Op: datastore.OpInsert, Row: algebra.ProductValue{}},
	}}

	result := Evaluate(txd, []Subscription{sub})
	require.Empty(t, result)
}

func TestBrokerPublishDoesNotBlockOnFullOutbox(t *testing.T) {
	b := NewBroker()
	conn := uuid.New()
	ob := b.Register(conn)
	b.Subscribe(Subscription{Connection: conn, Queries: []Query{{Name: "q1", Table: 1}}})

	for i := 0; i < outboxBuffer+5; i++ {
		b.Publish(map[ConnectionID][]TableUpdate{conn: {{Query: "q1", Table: 1}}})
	}

	require.Len(t, ob, outboxBuffer)
}

func TestBrokerUnregisterClosesOutbox(t *testing.T) {
	b := NewBroker()
	conn := uuid.New()
	ob := b.Register(conn)
	b.Unregister(conn)

	_, open := <-ob
	require.False(t, open)
}
