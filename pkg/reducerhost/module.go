package reducerhost

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/spacetimed/pkg/algebra"
)

// ExportKind discriminates the three kinds of callable a module can export.
type ExportKind uint8

const (
	KindReducer ExportKind = iota
	KindProcedure
	KindView
)

// LifecycleRole marks a reducer as one of the four host-invoked lifecycle
// hooks. Lifecycle reducers cannot be named in a client's CallReducer.
type LifecycleRole uint8

const (
	LifecycleNone LifecycleRole = iota
	LifecycleInit
	LifecycleClientConnected
	LifecycleClientDisconnected
	LifecycleUpdate
)

// Reserved lifecycle reducer names.
const (
	NameInit               = "__init__"
	NameIdentityConnected  = "__identity_connected__"
	NameIdentityDisconnect = "__identity_disconnected__"
	NameUpdate             = "__update__"
)

// ReducerFunc is a reducer's body: it may mutate the database through ctx
// and returns an error to abort (and roll back) the transaction.
type ReducerFunc func(ctx *ReducerContext, args algebra.ProductValue) error

// ProcedureFunc is a procedure's body: like a reducer, but returns a value
// on success.
type ProcedureFunc func(ctx *ReducerContext, args algebra.ProductValue) (algebra.ProductValue, error)

// ViewFunc is a pure read function: it sees committed state through ctx but
// cannot mutate it.
type ViewFunc func(ctx *ViewContext, args algebra.ProductValue) (algebra.ProductValue, error)

// Export is one named entry in a module's export table.
type Export struct {
	Name       string
	Kind       ExportKind
	Lifecycle  LifecycleRole
	Public     bool // meaningful for views only; reducers/procedures are always callable by any connected identity
	ArgsType   algebra.ProductType
	ReturnType algebra.ProductType // valid for KindProcedure and KindView

	Reducer   ReducerFunc
	Procedure ProcedureFunc
	View      ViewFunc
}

func reservedRole(name string) LifecycleRole {
	switch name {
	case NameInit:
		return LifecycleInit
	case NameIdentityConnected:
		return LifecycleClientConnected
	case NameIdentityDisconnect:
		return LifecycleClientDisconnected
	case NameUpdate:
		return LifecycleUpdate
	default:
		return LifecycleNone
	}
}

// Module is a module's export table: an explicit, dependency-injected
// registry rather than a macro-populated global, so a process can host
// many independent modules (and tests can construct several in the same
// process). Registration happens once at load time via RegisterReducer /
// RegisterProcedure / RegisterView.
type Module struct {
	mu      sync.RWMutex
	exports map[string]*Export
	order   []string // registration order, for stable "did you mean" listings
}

// NewModule returns an empty module ready for registration.
func NewModule() *Module {
	return &Module{exports: make(map[string]*Export)}
}

// RegisterReducer adds a reducer export named name. Registering one of the
// four reserved lifecycle names marks it with the matching LifecycleRole
// automatically.
func (m *Module) RegisterReducer(name string, argsType algebra.ProductType, fn ReducerFunc) error {
	return m.register(&Export{
		Name:      name,
		Kind:      KindReducer,
		Lifecycle: reservedRole(name),
		ArgsType:  argsType,
		Reducer:   fn,
	})
}

// RegisterProcedure adds a procedure export. Procedures cannot be
// registered under a reserved lifecycle name.
func (m *Module) RegisterProcedure(name string, argsType, returnType algebra.ProductType, fn ProcedureFunc) error {
	if reservedRole(name) != LifecycleNone {
		return fmt.Errorf("reducerhost: %q is a reserved lifecycle name, not usable for a procedure", name)
	}
	return m.register(&Export{
		Name:       name,
		Kind:       KindProcedure,
		ArgsType:   argsType,
		ReturnType: returnType,
		Procedure:  fn,
	})
}

// RegisterView adds a view export. public determines whether an
// unauthenticated/anonymous connection may call it.
func (m *Module) RegisterView(name string, public bool, argsType, returnType algebra.ProductType, fn ViewFunc) error {
	if reservedRole(name) != LifecycleNone {
		return fmt.Errorf("reducerhost: %q is a reserved lifecycle name, not usable for a view", name)
	}
	return m.register(&Export{
		Name:       name,
		Kind:       KindView,
		Public:     public,
		ArgsType:   argsType,
		ReturnType: returnType,
		View:       fn,
	})
}

func (m *Module) register(e *Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.exports[e.Name]; exists {
		return fmt.Errorf("reducerhost: %q already registered", e.Name)
	}
	m.exports[e.Name] = e
	m.order = append(m.order, e.Name)
	return nil
}

// Lookup resolves name against the export table.
func (m *Module) Lookup(name string) (*Export, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exports[name]
	return e, ok
}

// Names returns every exported reducer and procedure name (not views), in
// registration order. Used to build the "did you mean" candidate list;
// both reducers and procedures are included, since a client's CallReducer
// typo could plausibly mean either.
func (m *Module) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.order))
	for _, n := range m.order {
		e := m.exports[n]
		if e.Kind == KindReducer || e.Kind == KindProcedure {
			out = append(out, n)
		}
	}
	return out
}

// sortedCopy returns names sorted for deterministic, readable diagnostics.
func sortedCopy(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
