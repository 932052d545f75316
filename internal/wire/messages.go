package wire

// ClientMessageKind discriminates the four message kinds a client may send.
type ClientMessageKind uint8

const (
	KindCallReducer ClientMessageKind = iota
	KindSubscribe
	KindUnsubscribe
	KindOneOffQuery
)

// CallReducer invokes a named reducer with BSATN-encoded arguments.
// RequestID is echoed back on the TransactionUpdate so the client can
// correlate the response.
type CallReducer struct {
	Name      string
	Args      []byte
	RequestID uint32
}

// Subscribe registers one or more SQL queries under QueryID.
type Subscribe struct {
	QueryID uint32
	Queries []string
}

// Unsubscribe retires a previously-registered QueryID.
type Unsubscribe struct {
	QueryID uint32
}

// OneOffQuery runs a single SQL query without registering a subscription.
type OneOffQuery struct {
	ID  uint32
	SQL string
}

// ClientMessage is the envelope for every client->server message: exactly
// one of the four pointer fields is set, matching Kind.
type ClientMessage struct {
	Kind        ClientMessageKind
	CallReducer *CallReducer
	Subscribe   *Subscribe
	Unsubscribe *Unsubscribe
	OneOffQuery *OneOffQuery
}

// ServerMessageKind discriminates the four message kinds the server may
// send.
type ServerMessageKind uint8

const (
	KindIdentityToken ServerMessageKind = iota
	KindTransactionUpdate
	KindSubscriptionUpdate
	KindOneOffQueryResponse
)

// IdentityToken is always the first message a connection receives,
// binding it to an identity.
type IdentityToken struct {
	Identity string // lowercase hex
	Token    string // present only when the server minted a fresh anonymous token
}

// Status mirrors reducerhost.State at the wire boundary: a connection never
// sees "Queued"/"Running", only the terminal outcome.
type Status uint8

const (
	StatusCommitted Status = iota
	StatusFailed
	StatusOutOfEnergy
)

// TableUpdate carries one table's delta as already-BSATN-encoded rows
// (encoded by the gateway against the table's schema); deletes always
// precede inserts.
type TableUpdate struct {
	Table   uint32
	Deletes [][]byte
	Inserts [][]byte
}

// TransactionUpdate reports the outcome of one CallReducer to the caller
// that issued it. Message is populated only when Status == StatusFailed.
// EnergyUsedQuanta is rendered as a decimal string since it is conceptually
// u128 and does not fit losslessly in any wire-safe JSON number type.
type TransactionUpdate struct {
	RequestID               uint32
	Status                  Status
	Message                 string
	EnergyUsedQuanta        string
	HostExecutionDurationMs float64
	TableUpdates            []TableUpdate
}

// SubscriptionUpdate carries the delta (or, on a subscription's first
// message, the synthetic initial snapshot) for one registered query.
type SubscriptionUpdate struct {
	QueryID      uint32
	TableUpdates []TableUpdate
}

// OneOffQueryResponse answers a OneOffQuery. Error is set instead of Rows on
// failure.
type OneOffQueryResponse struct {
	ID    uint32
	Error string
	Rows  [][]byte
}

// ServerMessage is the envelope for every server->client message: exactly
// one of the four pointer fields is set, matching Kind.
type ServerMessage struct {
	Kind                ServerMessageKind
	IdentityToken       *IdentityToken
	TransactionUpdate   *TransactionUpdate
	SubscriptionUpdate  *SubscriptionUpdate
	OneOffQueryResponse *OneOffQueryResponse
}
