package adaptive

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/incrkit/incrkit/pkg/refset"
)

// inherit derives constructor options from an upstream collection, applying
// explicit overrides last.
func inherit(src *Set, opts []Option) options {
	o := options{log: src.log, keyFn: src.keyFn}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// inputSetReader diffs the input's current contents against the contents at
// its own previous pull and emits the presence changes.
type inputSetReader struct {
	node
	input       *SetInput
	inputHandle int
	prev        *refset.Set
}

func newInputSetReader(in *SetInput, log logr.Logger) *inputSetReader {
	r := &inputSetReader{
		node:  newNode("set-input-reader", log),
		input: in,
		prev:  refset.New(in.set.keyFn),
	}
	r.inputHandle = in.node.addDependent(r)
	return r
}

func (r *inputSetReader) Pull(version Version) (refset.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return nil, err
	}

	cur := r.input.snapshotState()
	delta := cur.Diff(r.prev)
	r.prev = cur
	r.commitPull(version)
	return delta, nil
}

func (r *inputSetReader) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	r.mu.Unlock()

	r.input.node.removeDependent(r.inputHandle)
	return nil
}

// constantSetReader emits the constant contents on first pull, nothing
// afterwards.
type constantSetReader struct {
	node
	state *refset.Set
}

func newConstantSetReader(state *refset.Set, log logr.Logger) *constantSetReader {
	return &constantSetReader{node: newNode("constant-set-reader", log), state: state}
}

func (r *constantSetReader) Pull(version Version) (refset.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return nil, err
	}

	delta := r.state.Diff(refset.New(r.state.KeyFunc()))
	r.commitPull(version)
	return delta, nil
}

func (r *constantSetReader) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = true
	return nil
}

// mapSetReader applies a value transform to each incoming operation. No
// per-value cache is needed: a non-injective transform collapsing two
// values produces two additions of the same output, which is exactly what
// downstream reference counts are for.
type mapSetReader struct {
	node
	up       SetReader
	upHandle int
	f        func(any) any
}

func (r *mapSetReader) Pull(version Version) (refset.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return nil, err
	}

	upDelta, err := r.up.Pull(version)
	if err != nil {
		return nil, err
	}
	out, err := upDelta.Map(r.f)
	if err != nil {
		return nil, wrapContractError("malformed delta reached map reader", err)
	}
	r.commitPull(version)
	return out, nil
}

func (r *mapSetReader) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	r.mu.Unlock()

	unsubscribeReader(r.up, r.upHandle)
	return r.up.Dispose()
}

// MapSet derives the element-wise transform of src. The transform needs no
// uniqueness on outputs.
func MapSet(src *Set, f func(any) any, opts ...Option) *Set {
	o := inherit(src, opts)
	set := &Set{name: "map", clock: src.clock, keyFn: o.keyFn, log: o.log}
	set.newReader = func() (SetReader, error) {
		up, err := src.NewReader()
		if err != nil {
			return nil, err
		}
		r := &mapSetReader{node: newNode("map-reader", o.log), up: up, f: f}
		if r.upHandle, err = subscribeReader(up, r); err != nil {
			_ = up.Dispose()
			return nil, err
		}
		return r, nil
	}
	return set
}

// passRecord remembers, per element, whether it passed the predicate when
// it was added, so a later removal is correctly suppressed (or forwarded)
// without re-evaluating the predicate. refs counts justifying additions.
type passRecord struct {
	value  any
	passed bool
	refs   int
}

// chooseSetReader implements choose, and filter as the degenerate choose
// that keeps the input value.
type chooseSetReader struct {
	node
	up       SetReader
	upHandle int
	keyFn    refset.KeyFunc
	choose   func(any) (any, bool)
	records  map[string]*passRecord
}

func (r *chooseSetReader) Pull(version Version) (refset.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return nil, err
	}

	upDelta, err := r.up.Pull(version)
	if err != nil {
		return nil, err
	}

	var out refset.Delta
	for i, e := range upDelta {
		key, err := r.keyFn(e.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to key delta value: %w", err)
		}
		switch e.Count {
		case 1:
			rec := r.records[key]
			if rec == nil {
				mapped, ok := r.choose(e.Value)
				rec = &passRecord{value: mapped, passed: ok}
				r.records[key] = rec
			}
			rec.refs++
			if rec.passed {
				out = append(out, refset.Entry{Count: 1, Value: rec.value})
			}
		case -1:
			rec := r.records[key]
			if rec == nil {
				return nil, newContractError(
					"choose reader %s got a removal for %v without a matching addition", r.name, e.Value)
			}
			rec.refs--
			if rec.refs == 0 {
				delete(r.records, key)
			}
			if rec.passed {
				out = append(out, refset.Entry{Count: -1, Value: rec.value})
			}
		default:
			return nil, newContractError(
				"malformed delta: entry %d has multiplicity %d, want +1 or -1", i, e.Count)
		}
	}
	r.commitPull(version)
	return out, nil
}

func (r *chooseSetReader) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	r.records = nil
	r.mu.Unlock()

	unsubscribeReader(r.up, r.upHandle)
	return r.up.Dispose()
}

func newChooseSet(name string, src *Set, choose func(any) (any, bool), opts []Option) *Set {
	o := inherit(src, opts)
	set := &Set{name: name, clock: src.clock, keyFn: o.keyFn, log: o.log}
	set.newReader = func() (SetReader, error) {
		up, err := src.NewReader()
		if err != nil {
			return nil, err
		}
		r := &chooseSetReader{
			node:    newNode(name+"-reader", o.log),
			up:      up,
			keyFn:   src.keyFn,
			choose:  choose,
			records: make(map[string]*passRecord),
		}
		if r.upHandle, err = subscribeReader(up, r); err != nil {
			_ = up.Dispose()
			return nil, err
		}
		return r, nil
	}
	return set
}

// FilterSet derives the subset of src passing the predicate.
func FilterSet(src *Set, pred func(any) bool, opts ...Option) *Set {
	return newChooseSet("filter", src, func(v any) (any, bool) { return v, pred(v) }, opts)
}

// ChooseSet derives the transformed subset of src for which f reports ok.
func ChooseSet(src *Set, f func(any) (any, bool), opts ...Option) *Set {
	return newChooseSet("choose", src, f, opts)
}

// unionReader combines the deltas of a fixed list of sources.
type unionReader struct {
	node
	ups       []SetReader
	upHandles []int
}

func (r *unionReader) Pull(version Version) (refset.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return nil, err
	}

	var out refset.Delta
	for _, up := range r.ups {
		d, err := up.Pull(version)
		if err != nil {
			return nil, err
		}
		out = refset.Combine(out, d)
	}
	r.commitPull(version)
	return out, nil
}

func (r *unionReader) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	r.mu.Unlock()

	var firstErr error
	for i, up := range r.ups {
		unsubscribeReader(up, r.upHandles[i])
		if err := up.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Union derives the union of two sources.
func Union(a, b *Set, opts ...Option) (*Set, error) {
	return UnionSets([]*Set{a, b}, opts...)
}

// UnionSets derives the union of a fixed list of sources. Downstream
// counts record one justification per source containing an element, so an
// element stays present until every source has dropped it.
func UnionSets(sources []*Set, opts ...Option) (*Set, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("union needs at least one source")
	}
	o := inherit(sources[0], opts)
	set := &Set{name: "union", clock: sources[0].clock, keyFn: o.keyFn, log: o.log}
	set.newReader = func() (SetReader, error) {
		r := &unionReader{node: newNode("union-reader", o.log)}
		for _, src := range sources {
			up, err := src.NewReader()
			if err != nil {
				_ = r.Dispose()
				return nil, err
			}
			h, err := subscribeReader(up, r)
			if err != nil {
				_ = up.Dispose()
				_ = r.Dispose()
				return nil, err
			}
			r.ups = append(r.ups, up)
			r.upHandles = append(r.upHandles, h)
		}
		return r, nil
	}
	return set, nil
}
