package adaptive

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/incrkit/incrkit/pkg/dlist"
	"github.com/incrkit/incrkit/pkg/ordinal"
	"github.com/incrkit/incrkit/pkg/refset"
)

// ListReader pulls the index-addressed delta of a derived list since its
// last pull, under the same contract as SetReader: idempotent per clock
// version, errors on out-of-order or post-dispose pulls.
type ListReader interface {
	Pull(version Version) (dlist.Delta, error)
	Dispose() error
}

// List is a derived (or input) incremental ordered-list collection.
type List struct {
	name      string
	clock     *Clock
	keyFn     refset.KeyFunc
	log       logr.Logger
	newReader func() (ListReader, error)
}

// NewReader acquires an incremental delta reader. The caller owns it and
// must Dispose it when done; its first pull seeds the full current
// contents as index writes.
func (l *List) NewReader() (ListReader, error) { return l.newReader() }

// KeyFunc returns the element identity strategy of the collection.
func (l *List) KeyFunc() refset.KeyFunc { return l.keyFn }

// Clock returns the logical clock of the collection's universe.
func (l *List) Clock() *Clock { return l.clock }

// IdentityKey gives list collections pointer identity as elements of
// other collections, like Set.IdentityKey.
func (l *List) IdentityKey() string { return fmt.Sprintf("alist:%p", l) }

func (l *List) String() string { return l.name }

// Snapshot forces full evaluation at the current clock and returns the
// resulting plain list value.
func (l *List) Snapshot() (*dlist.List, error) {
	r, err := l.NewReader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Dispose() }()

	delta, err := r.Pull(l.clock.Now())
	if err != nil {
		return nil, err
	}
	result, _, err := dlist.ApplyDelta(dlist.New(l.keyFn), delta)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize snapshot of %s: %w", l.name, err)
	}
	return result, nil
}

// SnapshotSlice is Snapshot flattened to the element values in list order.
func (l *List) SnapshotSlice() ([]any, error) {
	snap, err := l.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.ToSlice(), nil
}

// ListInput is a mutable input list collection. Mutations tick the clock
// and invalidate dependents; readers observe them on their next pull.
type ListInput struct {
	node
	cur  *dlist.List
	list *List
}

// NewListInput creates an empty mutable input list.
func NewListInput(clock *Clock, opts ...Option) *ListInput {
	o := makeOptions(opts)
	in := &ListInput{
		cur:  dlist.New(o.keyFn),
		node: newNode("list-input", o.log),
	}
	in.list = &List{
		name:  "list-input",
		clock: clock,
		keyFn: o.keyFn,
		log:   o.log,
		newReader: func() (ListReader, error) {
			return newInputListReader(in, o.log), nil
		},
	}
	return in
}

// AsList returns the collection handle for deriving and reading.
func (in *ListInput) AsList() *List { return in.list }

// Append inserts v after the current last element and returns its index.
func (in *ListInput) Append(v any) (ordinal.Ordinal, error) {
	return in.mutate(func(cur *dlist.List) (*dlist.List, ordinal.Ordinal, error) {
		next, err := cur.Append(v)
		if err != nil {
			return nil, ordinal.Ordinal{}, err
		}
		last, _ := next.Last()
		return next, last.Ord, nil
	})
}

// Prepend inserts v before the current first element and returns its
// index.
func (in *ListInput) Prepend(v any) (ordinal.Ordinal, error) {
	return in.mutate(func(cur *dlist.List) (*dlist.List, ordinal.Ordinal, error) {
		next, err := cur.Prepend(v)
		if err != nil {
			return nil, ordinal.Ordinal{}, err
		}
		first, _ := next.First()
		return next, first.Ord, nil
	})
}

// SetAt writes v at the given index, inserting or overwriting.
func (in *ListInput) SetAt(ord ordinal.Ordinal, v any) error {
	_, err := in.mutate(func(cur *dlist.List) (*dlist.List, ordinal.Ordinal, error) {
		return cur.Set(ord, v), ord, nil
	})
	return err
}

// DeleteAt removes the element at the given index. Deleting an absent
// index is a no-op.
func (in *ListInput) DeleteAt(ord ordinal.Ordinal) error {
	_, err := in.mutate(func(cur *dlist.List) (*dlist.List, ordinal.Ordinal, error) {
		return cur.Delete(ord), ord, nil
	})
	return err
}

// InsertAfter allocates a fresh index strictly between ord and its
// successor, writes v there and returns the new index.
func (in *ListInput) InsertAfter(ord ordinal.Ordinal, v any) (ordinal.Ordinal, error) {
	return in.mutate(func(cur *dlist.List) (*dlist.List, ordinal.Ordinal, error) {
		upper := ordinal.After(ord)
		for _, e := range cur.Entries() {
			if ordinal.Compare(e.Ord, ord) > 0 {
				upper = e.Ord
				break
			}
		}
		at, err := ordinal.Between(ord, upper)
		if err != nil {
			return nil, ordinal.Ordinal{}, err
		}
		return cur.Set(at, v), at, nil
	})
}

func (in *ListInput) mutate(f func(*dlist.List) (*dlist.List, ordinal.Ordinal, error)) (ordinal.Ordinal, error) {
	in.mu.Lock()
	next, at, err := f(in.cur)
	changed := false
	if err == nil {
		var eq bool
		if eq, err = in.cur.Equal(next); err == nil {
			changed = !eq
		}
	}
	if changed {
		in.cur = next
	}
	in.mu.Unlock()

	if err != nil {
		return ordinal.Ordinal{}, fmt.Errorf("failed to mutate input list: %w", err)
	}
	if changed {
		in.list.clock.Tick()
		in.notifyDependents()
	}
	return at, nil
}

// Len returns the current number of elements.
func (in *ListInput) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cur.Len()
}

// snapshotState returns the current contents. The list value is
// persistent, so no copy is needed.
func (in *ListInput) snapshotState() *dlist.List {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cur
}

// EmptyList returns the constant empty list.
func EmptyList(clock *Clock, opts ...Option) *List {
	return ConstantList(clock, nil, opts...)
}

// ListOf returns an immutable list of the given values in order.
func ListOf(clock *Clock, values ...any) *List {
	return ConstantList(clock, values)
}

// ConstantList returns an immutable list holding the given values in
// order. Its readers emit the full contents on first pull and nothing
// afterwards.
func ConstantList(clock *Clock, values []any, opts ...Option) *List {
	o := makeOptions(opts)
	state := dlist.OfSlice(o.keyFn, values...)
	list := &List{
		name:  "constant-list",
		clock: clock,
		keyFn: o.keyFn,
		log:   o.log,
	}
	list.newReader = func() (ListReader, error) {
		return newConstantListReader(state, o.log), nil
	}
	return list
}
