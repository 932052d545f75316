package reducerhost

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/bsatn"
	"github.com/cuemby/spacetimed/pkg/datastore"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/storage/page"
)

// quantaPerRowByte is the energy cost of a single host-call row write,
// charged against the invocation's budget as it runs (distinct from the
// energy package's compute-duration and byte-second storage-rent rates,
// which are charged once at commit): this is what lets a single
// oversized-row insert blow a small per-call budget mid-execution.
const quantaPerRowByte = 8

// ReducerContext is the handle a reducer or procedure body uses to touch
// the database, the calling identity/timestamp/connection, and its
// reducer-scoped RNG. It is passed by value reference into the registered
// ReducerFunc/ProcedureFunc — there is no ambient/thread-local state to
// reach for instead.
type ReducerContext struct {
	tx           *datastore.MutTx
	host         *Host
	identity     identity.Identity
	timestamp    time.Time
	connectionID *uuid.UUID
	rng          *RNGHandle
	budget       energy.ReducerBudget
	spent        energy.Quanta
	started      time.Time
	wallCap      time.Duration
}

// Identity returns the calling identity.
func (c *ReducerContext) Identity() identity.Identity { return c.identity }

// Timestamp returns the call's timestamp, captured once at dispatch.
func (c *ReducerContext) Timestamp() time.Time { return c.timestamp }

// ConnectionID returns the invoking connection, or nil for a
// server-initiated (scheduled or lifecycle) call.
func (c *ReducerContext) ConnectionID() *uuid.UUID { return c.connectionID }

// RNG returns the call's random number generator handle.
func (c *ReducerContext) RNG() *RNGHandle { return c.rng }

// spend charges q against the call's budget, panicking with
// outOfEnergySentinel if doing so exhausts it. The panic is recovered by
// the dispatcher, which rolls back the transaction and reports
// OutOfEnergy — the host-call-boundary analogue of a sandboxed energy
// meter, since Go reducer bodies are plain function calls with no
// instruction-level trap to hook instead.
func (c *ReducerContext) spend(q energy.Quanta) {
	c.spent = c.spent.Add(q)
	if c.budget.Exceeds(c.spent) {
		panic(outOfEnergySentinel{})
	}
	if c.wallCap > 0 && time.Since(c.started) > c.wallCap {
		panic(outOfEnergySentinel{})
	}
}

// Insert stores row in table id, charging energy proportional to its
// encoded size before performing the write.
func (c *ReducerContext) Insert(id datastore.TableId, row algebra.ProductValue) (page.Pointer, error) {
	c.spend(rowCost(c.host.schemaOf(id), row))
	return c.tx.Insert(id, row)
}

// Delete removes the row at ptr from table id.
func (c *ReducerContext) Delete(id datastore.TableId, ptr page.Pointer) error {
	c.spend(energy.NewQuanta(quantaPerRowByte))
	return c.tx.Delete(id, ptr)
}

// Get resolves ptr within table id.
func (c *ReducerContext) Get(id datastore.TableId, ptr page.Pointer) (algebra.ProductValue, error) {
	return c.tx.Get(id, ptr)
}

// Scan visits every live row of table id.
func (c *ReducerContext) Scan(id datastore.TableId, fn func(ptr page.Pointer, row algebra.ProductValue) error) error {
	return c.tx.Scan(id, fn)
}

// IndexScanPoint looks up table id's named index for an exact key match.
func (c *ReducerContext) IndexScanPoint(id datastore.TableId, indexName string, key algebra.Value) ([]algebra.ProductValue, error) {
	return c.tx.IndexScanPoint(id, indexName, key)
}

// IndexScanRange looks up table id's named index over a key range.
func (c *ReducerContext) IndexScanRange(id datastore.TableId, indexName string, lo, hi *algebra.Value, loIncl, hiIncl bool) ([]algebra.ProductValue, error) {
	return c.tx.IndexScanRange(id, indexName, lo, hi, loIncl, hiIncl)
}

func rowCost(schema algebra.ProductType, row algebra.ProductValue) energy.Quanta {
	encoded, err := bsatn.EncodeProduct(schema, row)
	if err != nil {
		return energy.NewQuanta(quantaPerRowByte)
	}
	return energy.NewQuanta(int64(len(encoded)) * quantaPerRowByte)
}

// ViewContext is the read-only handle a view body uses. Views never
// mutate, so there is no energy spend or RNG: they are pure read
// functions.
type ViewContext struct {
	rtx *datastore.ReadTx
}

// Get resolves ptr within table id.
func (c *ViewContext) Get(id datastore.TableId, ptr page.Pointer) (algebra.ProductValue, error) {
	return c.rtx.Get(id, ptr)
}

// Scan visits every live row of table id.
func (c *ViewContext) Scan(id datastore.TableId, fn func(ptr page.Pointer, row algebra.ProductValue) error) error {
	return c.rtx.Scan(id, fn)
}

// IndexScanPoint looks up table id's named index for an exact key match.
func (c *ViewContext) IndexScanPoint(id datastore.TableId, indexName string, key algebra.Value) ([]algebra.ProductValue, error) {
	return c.rtx.IndexScanPoint(id, indexName, key)
}

// IndexScanRange looks up table id's named index over a key range.
func (c *ViewContext) IndexScanRange(id datastore.TableId, indexName string, lo, hi *algebra.Value, loIncl, hiIncl bool) ([]algebra.ProductValue, error) {
	return c.rtx.IndexScanRange(id, indexName, lo, hi, loIncl, hiIncl)
}
