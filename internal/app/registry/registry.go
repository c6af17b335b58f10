package registry

import (
	"slices"
	"sync"

	"weconnect/internal/core/domain"
)

// Registry holds the live subscriptions of a client session in named slots.
// Each slot owns at most one disposer.
type Registry struct {
	mu    sync.Mutex
	slots map[string]domain.Disposer
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[string]domain.Disposer),
	}
}

// Replace installs d under name and disposes the previous occupant, if any.
// The slot moves to the end of the disposal order.
func (r *Registry) Replace(name string, d domain.Disposer) {
	r.mu.Lock()
	old := r.slots[name]
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	r.slots[name] = d
	r.order = append(r.order, name)
	r.mu.Unlock()
	if old != nil {
		old()
	}
}

// Dispose empties the slot and reports whether it held anything.
func (r *Registry) Dispose(name string) bool {
	r.mu.Lock()
	d, ok := r.slots[name]
	delete(r.slots, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	r.mu.Unlock()
	if ok && d != nil {
		d()
	}
	return ok
}

// DisposeAll empties every slot, most recently installed first.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	order := r.order
	slots := r.slots
	r.order = nil
	r.slots = make(map[string]domain.Disposer)
	r.mu.Unlock()
	for i := len(order) - 1; i >= 0; i-- {
		if d := slots[order[i]]; d != nil {
			d()
		}
	}
}

func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[name]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
