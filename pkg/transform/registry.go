package transform

import (
	"fmt"
	"sort"
	"sync"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
)

// Default is the process-wide registry. Worker processes resolve step
// codes against it unless told otherwise.
var Default = NewRegistry()

type entry struct {
	name   string
	fn     Func
	source string
	symbol string
}

// RegisterOption configures a registration.
type RegisterOption func(*entry)

// WithSource records a text form of the function for the deny-list scan.
func WithSource(text string) RegisterOption {
	return func(e *entry) {
		e.source = text
	}
}

// Registry maps names to transform functions. It is safe for concurrent
// use. Functions are also indexed by runtime symbol, so a registered
// function passed directly as Step.Transform still transfers by name.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*entry
	bySymbol map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*entry),
		bySymbol: make(map[string]*entry),
	}
}

// Register adds fn under name. Names are unique within a registry.
func (r *Registry) Register(name string, fn Func, opts ...RegisterOption) error {
	if name == "" {
		return dterrors.NewValidationError("transform", "name", name, "cannot be empty").
			WithHint("provide a non-empty name")
	}
	if fn == nil {
		return dterrors.NewValidationError("transform", "fn", nil, "cannot be nil").
			WithHint("provide a transform function for " + name)
	}

	e := &entry{name: name, fn: fn, symbol: symbolOf(fn)}
	for _, opt := range opts {
		opt(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return dterrors.NewValidationError("transform", "name", name, "already registered")
	}
	r.byName[name] = e
	if _, taken := r.bySymbol[e.symbol]; !taken {
		r.bySymbol[e.symbol] = e
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, fn Func, opts ...RegisterOption) {
	if err := r.Register(name, fn, opts...); err != nil {
		panic(fmt.Sprintf("transform: %v", err))
	}
}

// Resolve returns the function registered under code.
func (r *Registry) Resolve(code string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[code]
	if !ok {
		return nil, false
	}
	return e.fn, true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

func (r *Registry) lookupSymbol(symbol string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bySymbol[symbol]
	return e, ok
}

// Register adds fn to the Default registry.
func Register(name string, fn Func, opts ...RegisterOption) error {
	return Default.Register(name, fn, opts...)
}

// MustRegister adds fn to the Default registry and panics on error.
func MustRegister(name string, fn Func, opts ...RegisterOption) {
	Default.MustRegister(name, fn, opts...)
}
