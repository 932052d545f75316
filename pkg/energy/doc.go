// Package energy implements the fixed-rate compute/storage cost accounting
// that every reducer call and storage operation is charged against: energy
// quanta ("eV"), signed identity balances that are allowed to go negative,
// and the per-call reducer budget that bounds a single invocation.
package energy
