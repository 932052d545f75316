package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinaryRoundTripClientMessages(t *testing.T) {
	cases := []ClientMessage{
		{Kind: KindCallReducer, CallReducer: &CallReducer{Name: "say_hello", Args: []byte{1, 2, 3}, RequestID: 7}},
		{Kind: KindSubscribe, Subscribe: &Subscribe{QueryID: 1, Queries: []string{"SELECT * FROM t"}}},
		{Kind: KindUnsubscribe, Unsubscribe: &Unsubscribe{QueryID: 1}},
		{Kind: KindOneOffQuery, OneOffQuery: &OneOffQuery{ID: 9, SQL: "SELECT 1"}},
	}
	for _, c := range cases {
		raw, err := EncodeClientMessage(c)
		require.NoError(t, err)
		got, err := DecodeClientMessage(raw)
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestBinaryRoundTripServerMessages(t *testing.T) {
	cases := []ServerMessage{
		{Kind: KindIdentityToken, IdentityToken: &IdentityToken{Identity: "abcd", Token: ""}},
		{Kind: KindTransactionUpdate, TransactionUpdate: &TransactionUpdate{
			RequestID: 7, Status: StatusCommitted, EnergyUsedQuanta: "1000",
			HostExecutionDurationMs: 1.5,
			TableUpdates: []TableUpdate{{Table: 1, Deletes: [][]byte{{1}}, Inserts: [][]byte{{2}, {3}}}},
		}},
		{Kind: KindSubscriptionUpdate, SubscriptionUpdate: &SubscriptionUpdate{QueryID: 2, TableUpdates: []TableUpdate{{Table: 1}}}},
		{Kind: KindOneOffQueryResponse, OneOffQueryResponse: &OneOffQueryResponse{ID: 9, Rows: [][]byte{{1, 2}}}},
	}
	for _, c := range cases {
		raw, err := EncodeServerMessage(c)
		require.NoError(t, err)
		got, err := DecodeServerMessage(raw)
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestJSONRoundTripIsStructuralMirror(t *testing.T) {
	c := ClientMessage{Kind: KindCallReducer, CallReducer: &CallReducer{Name: "say_hello", Args: []byte("x"), RequestID: 3}}
	raw, err := json.Marshal(c)
	require.NoError(t, err)

	var got ClientMessage
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, c, got)

	s := ServerMessage{Kind: KindTransactionUpdate, TransactionUpdate: &TransactionUpdate{RequestID: 3, Status: StatusFailed, Message: "boom"}}
	raw, err = json.Marshal(s)
	require.NoError(t, err)
	var gotS ServerMessage
	require.NoError(t, json.Unmarshal(raw, &gotS))
	require.Equal(t, s, gotS)
}

func TestDecodeTruncatedReturnsError(t *testing.T) {
	_, err := DecodeClientMessage([]byte{byte(KindCallReducer)})
	require.Error(t, err)
}
