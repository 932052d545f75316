package subscription

import "sync"

// Delivery is one connection's share of a transaction's update set, handed
// to the gateway for framing and send.
type Delivery struct {
	Connection ConnectionID
	Updates    []TableUpdate
}

// Outbox is a per-connection, non-blocking delivery channel. A connection
// that can't keep up simply misses updates rather than stalling the
// transaction that produced them — the gateway's backpressure queue is the
// layer responsible for deciding when that's bad enough to disconnect.
type Outbox chan Delivery

const outboxBuffer = 64

// Broker fans transaction updates out to every subscribed connection's
// Outbox: register/unregister outboxes under a lock, and never block a
// publisher on a slow consumer.
type Broker struct {
	mu      sync.RWMutex
	outbox  map[ConnectionID]Outbox
	bySubID map[ConnectionID][]Subscription
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		outbox:  make(map[ConnectionID]Outbox),
		bySubID: make(map[ConnectionID][]Subscription),
	}
}

// Register creates conn's outbox and returns it for the gateway to read
// from.
func (b *Broker) Register(conn ConnectionID) Outbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	ob := make(Outbox, outboxBuffer)
	b.outbox[conn] = ob
	return ob
}

// Unregister removes conn's outbox and every subscription registered under
// it, closing the outbox so the gateway's read loop observes closure.
func (b *Broker) Unregister(conn ConnectionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ob, ok := b.outbox[conn]; ok {
		close(ob)
		delete(b.outbox, conn)
	}
	delete(b.bySubID, conn)
}

// Subscribe registers sub's queries for its connection, adding them to any
// queries previously registered for the same connection.
func (b *Broker) Subscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bySubID[sub.Connection] = append(b.bySubID[sub.Connection], sub.Queries...)
}

// Unsubscribe removes every query named in names from conn's registered
// set, used when a connection retires a previously-issued Subscribe id.
func (b *Broker) Unsubscribe(conn ConnectionID, names []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	qs := b.bySubID[conn]
	kept := qs[:0]
	for _, q := range qs {
		if !drop[q.Name] {
			kept = append(kept, q)
		}
	}
	b.bySubID[conn] = kept
}

// Subscriptions returns a snapshot of every currently-registered
// subscription, for Evaluate to run queries against before Publish.
func (b *Broker) Subscriptions() []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Subscription, 0, len(b.bySubID))
	for conn, queries := range b.bySubID {
		out = append(out, Subscription{Connection: conn, Queries: queries})
	}
	return out
}

// Publish delivers the per-connection update sets produced by Evaluate,
// dropping (not blocking on) any connection whose outbox is currently full.
func (b *Broker) Publish(updates map[ConnectionID][]TableUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for conn, tableUpdates := range updates {
		ob, ok := b.outbox[conn]
		if !ok {
			continue
		}
		select {
		case ob <- Delivery{Connection: conn, Updates: tableUpdates}:
		default:
			// Outbox full: the gateway's backpressure watermark is
			// responsible for disconnecting slow consumers, not us.
		}
	}
}
