// Package log wraps zerolog with the component-logger convention used
// throughout spacetimed: reducerhost, scheduler, gateway, and controlplane
// each call WithComponent to get a child logger that stamps every line with
// "component": that name, rather than passing a bare *zerolog.Logger around
// or reaching for a package-level logger with no context.
//
// Init configures the global Logger once, at process start, from
// pkg/config: JSON output in production, a console writer in development.
// Everything else logs through Logger or a WithComponent/WithDatabase/
// WithReducer/WithConnection child of it.
package log
