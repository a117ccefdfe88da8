package adaptive

import (
	"fmt"
	"sync"
)

// Cell is the single-value adaptive primitive the collection framework
// builds on: a mutable, versioned memo cell exposing "read the current
// value under a logical clock" plus an invalidation contract (subscribers
// are notified when the cell, or anything upstream of it, changes before
// they next read).
type Cell interface {
	// Read returns the current value under the given clock version.
	Read(version Version) any
	// Subscribe registers a change notification callback and returns a
	// handle for Unsubscribe. The subscription is non-owning.
	Subscribe(fn func()) int
	// Unsubscribe drops a previously registered callback.
	Unsubscribe(handle int)
}

// Var is the reference input cell: host code sets it, dependents are
// invalidated, readers re-read it on their next pull.
type Var struct {
	clock *Clock

	mu         sync.Mutex
	value      any
	subs       map[int]func()
	nextHandle int
}

// NewVar creates an input cell holding the initial value.
func NewVar(clock *Clock, initial any) *Var {
	return &Var{
		clock: clock,
		value: initial,
		subs:  make(map[int]func()),
	}
}

// Set stores a new value, ticks the clock and notifies subscribers. The
// lock is held across the store only, never across the callbacks.
func (v *Var) Set(value any) {
	v.mu.Lock()
	v.value = value
	fns := make([]func(), 0, len(v.subs))
	for _, fn := range v.subs {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	v.clock.Tick()
	for _, fn := range fns {
		fn()
	}
}

// Read returns the current value. Evaluation is synchronous and
// single-process, so the current value is the value under any version at
// or after the last write.
func (v *Var) Read(_ Version) any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Subscribe implements Cell.
func (v *Var) Subscribe(fn func()) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextHandle++
	v.subs[v.nextHandle] = fn
	return v.nextHandle
}

// Unsubscribe implements Cell.
func (v *Var) Unsubscribe(handle int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.subs, handle)
}

// IdentityKey gives a Var pointer identity as a collection element: two
// distinct cells are distinct elements even when their values coincide.
func (v *Var) IdentityKey() string { return fmt.Sprintf("var:%p", v) }
