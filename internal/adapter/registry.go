package adapter

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the compiled-in adapters addressed by tool name.
type Registry struct {
	mx       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register validates and adds an adapter. Duplicate names and contract
// violations are errors so misconfiguration surfaces at startup.
func (r *Registry) Register(a Adapter) error {
	if err := Validate(a); err != nil {
		return err
	}
	name := a.Metadata().Name
	r.mx.Lock()
	defer r.mx.Unlock()
	if _, ok := r.adapters[name]; ok {
		return fmt.Errorf("adapter %s already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// MustRegister is Register for package init paths.
func (r *Registry) MustRegister(a Adapter) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mx.RLock()
	defer r.mx.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
