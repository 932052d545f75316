package energy

import (
	"fmt"
	"math/big"
	"time"
)

// QuantaPerMicrosecond is the fixed conversion rate from wall-clock compute
// duration to energy quanta: 100 eV per microsecond of datastore compute.
const QuantaPerMicrosecond = 100

// QuantaPerMemByteSecond is the premium resident memory is billed at over
// disk: one quantum per disk byte-second, one hundred per memory
// byte-second.
const QuantaPerMemByteSecond = 100

// DefaultReducerBudget is the default per-call energy budget granted to a
// reducer invocation absent any other configuration: 1e18 quanta.
const DefaultReducerBudget ReducerBudget = 1_000_000_000_000_000_000

// Quanta is a non-negative amount of energy ("eV"), backed by an unbounded
// integer since the underlying unit is conceptually u128.
type Quanta struct {
	v *big.Int
}

// ZeroQuanta is the additive identity.
func ZeroQuanta() Quanta { return Quanta{v: big.NewInt(0)} }

// NewQuanta constructs a Quanta from a non-negative int64.
func NewQuanta(v int64) Quanta {
	if v < 0 {
		v = 0
	}
	return Quanta{v: big.NewInt(v)}
}

// FromDatastoreComputeDuration converts a wall-clock duration spent executing
// datastore operations into energy quanta at QuantaPerMicrosecond.
func FromDatastoreComputeDuration(d time.Duration) Quanta {
	micros := big.NewInt(d.Microseconds())
	if micros.Sign() < 0 {
		micros.SetInt64(0)
	}
	return Quanta{v: new(big.Int).Mul(micros, big.NewInt(QuantaPerMicrosecond))}
}

// FromDiskUsage converts bytes stored on disk for a period into energy
// quanta at one quantum per byte-second. The multiplication is split into
// whole seconds plus the nanosecond remainder so large values keep integer
// precision instead of rounding through a float.
func FromDiskUsage(bytes int64, d time.Duration) Quanta {
	if bytes < 0 || d < 0 {
		return ZeroQuanta()
	}
	b := big.NewInt(bytes)
	whole := new(big.Int).Mul(b, big.NewInt(int64(d/time.Second)))
	frac := new(big.Int).Mul(b, big.NewInt(int64(d%time.Second)))
	frac.Quo(frac, big.NewInt(int64(time.Second)))
	return Quanta{v: whole.Add(whole, frac)}
}

// FromMemoryUsage converts resident memory held for a period into energy
// quanta: the disk byte-second count scaled by QuantaPerMemByteSecond.
func FromMemoryUsage(bytes int64, d time.Duration) Quanta {
	byteSeconds := FromDiskUsage(bytes, d)
	return Quanta{v: new(big.Int).Mul(byteSeconds.bigOrZero(), big.NewInt(QuantaPerMemByteSecond))}
}

// Add returns q + other.
func (q Quanta) Add(other Quanta) Quanta {
	return Quanta{v: new(big.Int).Add(q.bigOrZero(), other.bigOrZero())}
}

// Int64 reports q as an int64, saturating at math.MaxInt64 if it overflows.
func (q Quanta) Int64() int64 {
	v := q.bigOrZero()
	if v.IsInt64() {
		return v.Int64()
	}
	return int64(1<<63 - 1)
}

// String renders the quanta with its "eV" unit suffix, matching the
// upstream Display implementation.
func (q Quanta) String() string {
	return fmt.Sprintf("%s eV", q.bigOrZero().String())
}

func (q Quanta) bigOrZero() *big.Int {
	if q.v == nil {
		return big.NewInt(0)
	}
	return q.v
}

// Balance is a signed energy balance (conceptually i128) that tracks an
// identity's remaining energy. Unlike Quanta, a Balance may go negative: a
// reducer call that costs more than the remaining balance still commits, and
// the identity is left in debt until it's recharged.
type Balance struct {
	v *big.Int
}

// ZeroBalance is the additive identity.
func ZeroBalance() Balance { return Balance{v: big.NewInt(0)} }

// NewBalance constructs a Balance from a signed int64.
func NewBalance(v int64) Balance { return Balance{v: big.NewInt(v)} }

func (b Balance) bigOrZero() *big.Int {
	if b.v == nil {
		return big.NewInt(0)
	}
	return b.v
}

// Sub debits q quanta from the balance, which may drive it negative.
func (b Balance) Sub(q Quanta) Balance {
	return Balance{v: new(big.Int).Sub(b.bigOrZero(), q.bigOrZero())}
}

// Add credits q quanta to the balance.
func (b Balance) Add(q Quanta) Balance {
	return Balance{v: new(big.Int).Add(b.bigOrZero(), q.bigOrZero())}
}

// IsNegative reports whether the identity is in energy debt.
func (b Balance) IsNegative() bool { return b.bigOrZero().Sign() < 0 }

// String renders the balance with its "eV" unit suffix.
func (b Balance) String() string {
	return fmt.Sprintf("%s eV", b.bigOrZero().String())
}

// Cmp compares two balances: -1, 0, 1 as b is less than, equal to, or
// greater than other.
func (b Balance) Cmp(other Balance) int {
	return b.bigOrZero().Cmp(other.bigOrZero())
}

// ReducerBudget bounds the energy a single reducer invocation may spend
// before it's aborted with OutOfEnergy, regardless of the caller's balance.
type ReducerBudget uint64

// Quanta converts the budget to a Quanta value for arithmetic against an
// invocation's running cost.
func (b ReducerBudget) Quanta() Quanta {
	return Quanta{v: new(big.Int).SetUint64(uint64(b))}
}

// Exceeds reports whether spent has consumed the entire budget.
func (b ReducerBudget) Exceeds(spent Quanta) bool {
	return spent.bigOrZero().Cmp(b.Quanta().bigOrZero()) >= 0
}
