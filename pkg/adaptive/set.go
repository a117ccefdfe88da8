package adaptive

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/incrkit/incrkit/pkg/refset"
)

// SetReader pulls the delta of a derived set since its last pull. Pull is
// idempotent per clock version: the second pull at the same version
// returns the empty delta, since the state has already advanced. Pulling a
// disposed reader is a contract violation.
type SetReader interface {
	Pull(version Version) (refset.Delta, error)
	// Dispose tears the reader down and unsubscribes it from its
	// upstreams. Further pulls fail.
	Dispose() error
}

// Set is a derived (or input) incremental set collection: a lazy recipe
// for readers. Derived sets carry no state of their own; every consumer
// acquires an independent reader, and sharing of nested sub-computations
// happens inside the readers.
type Set struct {
	name      string
	clock     *Clock
	keyFn     refset.KeyFunc
	log       logr.Logger
	newReader func() (SetReader, error)
}

// NewReader acquires an incremental delta reader. The caller owns it and
// must Dispose it when done; its first pull seeds the full current state
// as additions.
func (s *Set) NewReader() (SetReader, error) { return s.newReader() }

// KeyFunc returns the element identity strategy of the collection.
func (s *Set) KeyFunc() refset.KeyFunc { return s.keyFn }

// Clock returns the logical clock of the collection's universe.
func (s *Set) Clock() *Clock { return s.clock }

// IdentityKey gives collections pointer identity as elements of other
// collections: an equal-valued but distinct set is a distinct element, so
// caches never confuse it with a torn-down predecessor.
func (s *Set) IdentityKey() string { return fmt.Sprintf("aset:%p", s) }

func (s *Set) String() string { return s.name }

// Snapshot forces full evaluation at the current clock and returns the
// resulting plain collection value.
func (s *Set) Snapshot() (*refset.Set, error) {
	r, err := s.NewReader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Dispose() }()

	delta, err := r.Pull(s.clock.Now())
	if err != nil {
		return nil, err
	}
	result := refset.New(s.keyFn)
	if err := refset.ApplyMutate(result, delta); err != nil {
		return nil, fmt.Errorf("failed to materialize snapshot of %s: %w", s.name, err)
	}
	return result, nil
}

// SnapshotValues is Snapshot flattened to the distinct element values, in
// unspecified order.
func (s *Set) SnapshotValues() ([]any, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Values(), nil
}

// subscribeReader registers d as a dependent of the reader, which must be a
// reader of this package.
func subscribeReader(r any, d invalidatable) (int, error) {
	reg, ok := r.(dependentRegistry)
	if !ok {
		return 0, newContractError("reader %T does not accept dependents", r)
	}
	return reg.addDependent(d), nil
}

func unsubscribeReader(r any, handle int) {
	if reg, ok := r.(dependentRegistry); ok {
		reg.removeDependent(handle)
	}
}

// SetInput is a mutable input set collection. Mutations tick the clock and
// invalidate dependents; readers observe them on their next pull.
type SetInput struct {
	node
	state *refset.Set
	set   *Set
}

// NewSetInput creates an empty mutable input set.
func NewSetInput(clock *Clock, opts ...Option) *SetInput {
	o := makeOptions(opts)
	in := &SetInput{
		state: refset.New(o.keyFn),
		node:  newNode("set-input", o.log),
	}
	in.set = &Set{
		name:  "set-input",
		clock: clock,
		keyFn: o.keyFn,
		log:   o.log,
		newReader: func() (SetReader, error) {
			return newInputSetReader(in, o.log), nil
		},
	}
	return in
}

// AsSet returns the collection handle for deriving and reading.
func (in *SetInput) AsSet() *Set { return in.set }

// Add inserts v. Adding a present element is a no-op: input sets have
// plain set semantics, reference counts belong to derived paths.
func (in *SetInput) Add(v any) error {
	in.mu.Lock()
	present, err := in.state.Contains(v)
	if err == nil && !present {
		err = in.state.AddMutate(v)
	}
	changed := err == nil && !present
	in.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to add to input set: %w", err)
	}
	if changed {
		in.set.clock.Tick()
		in.notifyDependents()
	}
	return nil
}

// Remove drops v. Removing an absent element is a no-op, not an error.
func (in *SetInput) Remove(v any) error {
	in.mu.Lock()
	present, err := in.state.Contains(v)
	if err == nil && present {
		err = in.state.RemoveMutate(v)
	}
	changed := err == nil && present
	in.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to remove from input set: %w", err)
	}
	if changed {
		in.set.clock.Tick()
		in.notifyDependents()
	}
	return nil
}

// Len returns the current number of elements.
func (in *SetInput) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state.Len()
}

// snapshotState returns a copy of the current contents.
func (in *SetInput) snapshotState() *refset.Set {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state.Copy()
}

// EmptySet returns the constant empty set.
func EmptySet(clock *Clock, opts ...Option) *Set {
	set, _ := ConstantSet(clock, nil, opts...)
	return set
}

// SetOf returns an immutable set of the given values.
func SetOf(clock *Clock, values ...any) (*Set, error) {
	return ConstantSet(clock, values)
}

// ConstantSet returns an immutable set holding the given values. Its
// readers emit the full contents on first pull and nothing afterwards.
func ConstantSet(clock *Clock, values []any, opts ...Option) (*Set, error) {
	o := makeOptions(opts)
	state, err := refset.OfValues(o.keyFn, values...)
	if err != nil {
		return nil, fmt.Errorf("failed to build constant set: %w", err)
	}
	set := &Set{
		name:  "constant-set",
		clock: clock,
		keyFn: o.keyFn,
		log:   o.log,
	}
	set.newReader = func() (SetReader, error) {
		return newConstantSetReader(state, o.log), nil
	}
	return set, nil
}
