// Package reducerhost loads a module's exported reducers, procedures, and
// views and dispatches calls against them: name resolution, a mutating
// transaction per reducer/procedure call, a per-call RNG seeded from the
// call timestamp, and energy metering that aborts the transaction with
// OutOfEnergy if the call's budget is exhausted.
package reducerhost
