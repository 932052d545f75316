// Package gateway terminates client WebSocket connections: it negotiates
// the binary-BSATN or text-JSON subprotocol, binds the
// connection to an identity, and pipes CallReducer/Subscribe/Unsubscribe/
// OneOffQuery messages to the reducer host and subscription engine while
// streaming TransactionUpdate/SubscriptionUpdate/OneOffQueryResponse
// messages back out through a backpressure-aware per-connection queue.
package gateway
