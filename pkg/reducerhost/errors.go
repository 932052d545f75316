package reducerhost

import (
	"fmt"
	"strings"
)

// maxSuggestedNames bounds how many existing reducer/procedure names a
// NotFoundError lists.
const maxSuggestedNames = 10

// NotFoundError is returned when a dispatch names a reducer or procedure
// the module doesn't export. It carries up to ten existing names and, if
// one is within edit-distance range, a "did you mean" suggestion.
type NotFoundError struct {
	Name       string
	Existing   []string
	Suggestion string
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "reducerhost: no reducer or procedure named %q", e.Name)
	if e.Suggestion != "" {
		fmt.Fprintf(&b, " (did you mean %q?)", e.Suggestion)
	}
	if len(e.Existing) > 0 {
		fmt.Fprintf(&b, "; available: %s", strings.Join(e.Existing, ", "))
	}
	return b.String()
}

func (m *Module) notFoundError(name string) *NotFoundError {
	names := sortedCopy(m.Names())
	existing := names
	if len(existing) > maxSuggestedNames {
		existing = existing[:maxSuggestedNames]
	}
	return &NotFoundError{
		Name:       name,
		Existing:   existing,
		Suggestion: findBestMatch(names, name),
	}
}

// outOfEnergySentinel is the panic value ReducerContext.spend raises when a
// call exhausts its budget or wall-clock cap mid-execution; the dispatcher
// recovers it and reports StateOutOfEnergy.
type outOfEnergySentinel struct{}

// ErrLifecycleReserved is returned when a client attempts to call one of
// the four reserved lifecycle reducer names directly.
type ErrLifecycleReserved struct{ Name string }

func (e *ErrLifecycleReserved) Error() string {
	return fmt.Sprintf("reducerhost: %q is a lifecycle reducer and cannot be called directly", e.Name)
}

// ErrWrongKind is returned when a dispatch targets an export of the wrong
// kind (e.g. CallReducer naming a procedure).
type ErrWrongKind struct {
	Name string
	Want ExportKind
	Got  ExportKind
}

func (e *ErrWrongKind) Error() string {
	return fmt.Sprintf("reducerhost: %q is not callable as the requested kind", e.Name)
}

// ErrInsufficientBalance is returned when a caller whose energy balance has
// gone negative attempts another invocation before being replenished.
var ErrInsufficientBalance = fmt.Errorf("reducerhost: energy balance exhausted, replenish before invoking again")

// ErrStaleRNG is returned when a reducer invocation stashes its RNG handle
// and tries to use it after the transaction that created it has finished.
var ErrStaleRNG = fmt.Errorf("reducerhost: previous reducer still in use")
