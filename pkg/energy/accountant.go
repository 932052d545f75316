package energy

import (
	"sync"

	"github.com/cuemby/spacetimed/pkg/identity"
)

// Accountant tracks a signed energy Balance per identity and serializes
// charges against it. A single Accountant is shared by the reducer host and
// the datastore's commit-time charges.
type Accountant struct {
	mu       sync.Mutex
	balances map[identity.Identity]Balance
}

// NewAccountant returns an empty Accountant.
func NewAccountant() *Accountant {
	return &Accountant{balances: make(map[identity.Identity]Balance)}
}

// Balance returns id's current balance, zero if never charged or credited.
func (a *Accountant) Balance(id identity.Identity) Balance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[id]
}

// Charge debits q quanta from id's balance and returns the resulting
// balance. The balance is allowed to go negative; callers that need to
// enforce a hard ceiling use ReducerBudget.Exceeds against the running spend
// of a single call, not against the identity's overall balance.
func (a *Accountant) Charge(id identity.Identity, q Quanta) Balance {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.balances[id].Sub(q)
	a.balances[id] = next
	return next
}

// Credit adds q quanta to id's balance, e.g. when an operator tops up an
// identity that has gone into debt.
func (a *Accountant) Credit(id identity.Identity, q Quanta) Balance {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.balances[id].Add(q)
	a.balances[id] = next
	return next
}

// Set overwrites id's balance directly, without going through
// Charge/Credit.
func (a *Accountant) Set(id identity.Identity, b Balance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[id] = b
}

// Snapshot returns a copy of every tracked identity's balance. Database
// snapshots do not include balances.
func (a *Accountant) Snapshot() map[identity.Identity]Balance {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[identity.Identity]Balance, len(a.balances))
	for id, b := range a.balances {
		out[id] = b
	}
	return out
}
