package reducerhost

import (
	"math/rand"
	"sync/atomic"
)

// generationCounter hands out a strictly increasing generation for every
// reducer invocation, mirroring the upstream RNG_GENERATION atomic. A
// RNGHandle captures its generation at creation; any use after the owning
// transaction ends (a later call has bumped the counter) fails instead of
// silently reusing stale state, ruling out stashed thread-local RNG bugs:
// the generation check replaces ambient thread-local scoping with an
// explicit, per-handle capability.
type generationCounter struct {
	next uint64
}

func (g *generationCounter) advance() uint64 {
	return atomic.AddUint64(&g.next, 1)
}

// RNGHandle is a reducer call's random number generator, seeded from the
// call's timestamp so a replay with the same timestamp reproduces the same
// sequence within that one call.
type RNGHandle struct {
	rng        *rand.Rand
	generation uint64
	owner      *generationCounter
}

func newRNGHandle(owner *generationCounter, seedMicros int64) *RNGHandle {
	return &RNGHandle{
		rng:        rand.New(rand.NewSource(seedMicros)),
		generation: atomic.LoadUint64(&owner.next),
		owner:      owner,
	}
}

func (h *RNGHandle) valid() bool {
	return atomic.LoadUint64(&h.owner.next) == h.generation
}

// Int63 returns a random non-negative 63-bit integer, or ErrStaleRNG if the
// handle has outlived the reducer call that created it.
func (h *RNGHandle) Int63() (int64, error) {
	if !h.valid() {
		return 0, ErrStaleRNG
	}
	return h.rng.Int63(), nil
}

// Float64 returns a random float64 in [0,1), or ErrStaleRNG if stale.
func (h *RNGHandle) Float64() (float64, error) {
	if !h.valid() {
		return 0, ErrStaleRNG
	}
	return h.rng.Float64(), nil
}

// Intn returns a random int in [0,n), or ErrStaleRNG if stale.
func (h *RNGHandle) Intn(n int) (int, error) {
	if !h.valid() {
		return 0, ErrStaleRNG
	}
	return h.rng.Intn(n), nil
}
