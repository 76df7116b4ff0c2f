// Package helpers holds the named functions templates may call.
//
// Helpers are bound late: a compiled template records only helper names,
// and the set passed at render time decides what runs. The same compiled
// template can therefore render against different helper sets (for example
// one per locale) without recompiling.
package helpers

import (
	"fmt"
	"sort"
	"sync"
)

// Func is the signature of a template helper.
type Func func(args ...any) (any, error)

// Helper is a registered helper with its accepted argument range.
type Helper struct {
	Name string
	Fn   Func
	// MinArgs is the minimum number of arguments.
	MinArgs int
	// MaxArgs is the maximum number of arguments, or -1 for no limit.
	MaxArgs int
}

// AcceptsArity reports whether n arguments are within the helper's range.
func (h *Helper) AcceptsArity(n int) bool {
	return n >= h.MinArgs && (h.MaxArgs < 0 || n <= h.MaxArgs)
}

// ArityString describes the accepted argument range, e.g. "1-2" or "1+".
func (h *Helper) ArityString() string {
	switch {
	case h.MaxArgs < 0:
		return fmt.Sprintf("%d+", h.MinArgs)
	case h.MinArgs == h.MaxArgs:
		return fmt.Sprintf("%d", h.MinArgs)
	default:
		return fmt.Sprintf("%d-%d", h.MinArgs, h.MaxArgs)
	}
}

// Call invokes the helper.
func (h *Helper) Call(args ...any) (any, error) {
	return h.Fn(args...)
}

// Lookup resolves helpers by name.
type Lookup interface {
	Lookup(name string) (*Helper, bool)
}

// Option configures a helper at registration.
type Option func(*Helper)

// WithArity declares the accepted argument range. max < 0 means variadic.
func WithArity(minArgs, maxArgs int) Option {
	return func(h *Helper) {
		h.MinArgs = minArgs
		h.MaxArgs = maxArgs
	}
}

// Registry is a flat name to helper mapping. It is safe for concurrent use,
// although registration is expected to finish before rendering starts.
type Registry struct {
	helpers map[string]*Helper
	mutex   sync.RWMutex
}

// NewRegistry creates an empty helper registry.
func NewRegistry() *Registry {
	return &Registry{
		helpers: make(map[string]*Helper),
	}
}

// Register adds or replaces a helper. Helpers without WithArity accept any
// number of arguments.
func (r *Registry) Register(name string, fn Func, opts ...Option) error {
	if name == "" {
		return fmt.Errorf("helper name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("helper %q has a nil function", name)
	}

	h := &Helper{Name: name, Fn: fn, MaxArgs: -1}
	for _, opt := range opts {
		opt(h)
	}
	if h.MinArgs < 0 {
		return fmt.Errorf("helper %q: minimum arity %d is negative", name, h.MinArgs)
	}
	if h.MaxArgs >= 0 && h.MaxArgs < h.MinArgs {
		return fmt.Errorf("helper %q: maximum arity %d is below minimum %d", name, h.MaxArgs, h.MinArgs)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.helpers[name] = h

	return nil
}

// MustRegister is Register that panics on an invalid registration. It is
// meant for package initialisation.
func (r *Registry) MustRegister(name string, fn Func, opts ...Option) {
	if err := r.Register(name, fn, opts...); err != nil {
		panic(err)
	}
}

// Unregister removes a helper. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.helpers, name)
}

// Lookup returns the helper registered under name.
func (r *Registry) Lookup(name string) (*Helper, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	h, ok := r.helpers[name]

	return h, ok
}

// Names returns the registered helper names in sorted order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.helpers))
	for name := range r.helpers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Clone returns an independent copy of the registry, so a shared base set
// can be extended per caller.
func (r *Registry) Clone() *Registry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	c := NewRegistry()
	for name, h := range r.helpers {
		copied := *h
		c.helpers[name] = &copied
	}

	return c
}

// Map adapts a plain map of functions into a Lookup. Every entry accepts any
// number of arguments.
type Map map[string]Func

// Lookup implements Lookup.
func (m Map) Lookup(name string) (*Helper, bool) {
	fn, ok := m[name]
	if !ok || fn == nil {
		return nil, false
	}

	return &Helper{Name: name, Fn: fn, MaxArgs: -1}, true
}

// Chain consults each Lookup in order and returns the first match.
type Chain []Lookup

// Lookup implements Lookup.
func (c Chain) Lookup(name string) (*Helper, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if h, ok := l.Lookup(name); ok {
			return h, true
		}
	}

	return nil, false
}
