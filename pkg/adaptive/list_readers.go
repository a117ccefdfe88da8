package adaptive

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/incrkit/incrkit/pkg/dlist"
	"github.com/incrkit/incrkit/pkg/ordinal"
	"github.com/incrkit/incrkit/pkg/refset"
)

// inheritList derives constructor options from an upstream list collection.
func inheritList(src *List, opts []Option) options {
	o := options{log: src.log, keyFn: src.keyFn}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// inputListReader diffs the input's current contents against the contents
// at its own previous pull.
type inputListReader struct {
	node
	input       *ListInput
	inputHandle int
	prev        *dlist.List
}

func newInputListReader(in *ListInput, log logr.Logger) *inputListReader {
	r := &inputListReader{
		node:  newNode("list-input-reader", log),
		input: in,
		prev:  dlist.New(in.list.keyFn),
	}
	r.inputHandle = in.node.addDependent(r)
	return r
}

func (r *inputListReader) Pull(version Version) (dlist.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return dlist.NewDelta(), err
	}

	cur := r.input.snapshotState()
	delta, err := dlist.ComputeDelta(r.prev, cur)
	if err != nil {
		return dlist.NewDelta(), fmt.Errorf("failed to diff input list: %w", err)
	}
	r.prev = cur
	r.commitPull(version)
	return delta, nil
}

func (r *inputListReader) Dispose() error {
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

// constantListReader emits the constant contents on first pull, nothing
// afterwards.
type constantListReader struct {
	node
	state *dlist.List
}

func newConstantListReader(state *dlist.List, log logr.Logger) *constantListReader {
	return &constantListReader{node: newNode("constant-list-reader", log), state: state}
}

func (r *constantListReader) Pull(version Version) (dlist.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return dlist.NewDelta(), err
	}

	delta := dlist.NewDelta()
	for _, e := range r.state.Entries() {
		delta.Set(e.Ord, e.Value)
	}
	r.commitPull(version)
	return delta, nil
}

func (r *constantListReader) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = true
	return nil
}

// mapListReader applies a value transform per index write. Indices are
// untouched, so an upstream overwrite or removal maps to the same index
// downstream.
type mapListReader struct {
	node
	up       ListReader
	upHandle int
	f        func(any) any
}

func (r *mapListReader) Pull(version Version) (dlist.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return dlist.NewDelta(), err
	}

	upDelta, err := r.up.Pull(version)
	if err != nil {
		return dlist.NewDelta(), err
	}
	out := dlist.NewDelta()
	for _, e := range upDelta.Entries() {
		switch e.Kind {
		case dlist.OpSet:
			out.Set(e.Ord, r.f(e.Value))
		case dlist.OpRemove:
			out.Remove(e.Ord)
		}
	}
	r.commitPull(version)
	return out, nil
}

func (r *mapListReader) Dispose() error {
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

// MapList derives the element-wise transform of src, preserving indices.
func MapList(src *List, f func(any) any, opts ...Option) *List {
	o := inheritList(src, opts)
	list := &List{name: "map-list", clock: src.clock, keyFn: o.keyFn, log: o.log}
	list.newReader = func() (ListReader, error) {
		up, err := src.NewReader()
		if err != nil {
			return nil, err
		}
		r := &mapListReader{node: newNode("map-list-reader", o.log), up: up, f: f}
		if r.upHandle, err = subscribeReader(up, r); err != nil {
			_ = up.Dispose()
			return nil, err
		}
		return r, nil
	}
	return list
}

// collectListReader expands every source element into the sub-list f
// yields for it and concatenates the expansions in source order. Each
// source index owns a block of allocated output indices; a source change
// frees the old block and allocates a fresh one strictly between the
// neighbouring blocks, so untouched blocks keep their indices.
type collectListReader struct {
	node
	up       ListReader
	upHandle int
	f        func(any) (*dlist.List, error)

	src   *dlist.List
	alloc map[string][]ordinal.Ordinal
}

func (r *collectListReader) Pull(version Version) (dlist.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return dlist.NewDelta(), err
	}

	upDelta, err := r.up.Pull(version)
	if err != nil {
		return dlist.NewDelta(), err
	}
	nextSrc, effective, err := dlist.ApplyDelta(r.src, upDelta)
	if err != nil {
		return dlist.NewDelta(), wrapContractError("malformed delta reached collect reader", err)
	}
	r.src = nextSrc

	// Free the blocks of removed source entries first: a fresh block
	// allocated below must never collide with an index that is only freed
	// later in the same batch, or the removal would override the write in
	// the merged delta.
	out := dlist.NewDelta()
	for _, e := range effective.Entries() {
		if e.Kind != dlist.OpRemove {
			continue
		}
		for _, old := range r.alloc[e.Ord.Key()] {
			out.Remove(old)
		}
		delete(r.alloc, e.Ord.Key())
	}

	for _, e := range effective.Entries() {
		if e.Kind != dlist.OpSet {
			continue
		}
		for _, old := range r.alloc[e.Ord.Key()] {
			out.Remove(old)
		}
		delete(r.alloc, e.Ord.Key())

		expansion, err := r.f(e.Value)
		if err != nil {
			return dlist.NewDelta(), err
		}
		block, err := r.allocate(e.Ord, expansion.Len())
		if err != nil {
			return dlist.NewDelta(), err
		}
		for i, inner := range expansion.Entries() {
			out.Set(block[i], inner.Value)
		}
		if len(block) > 0 {
			r.alloc[e.Ord.Key()] = block
		}
	}
	r.commitPull(version)
	return out, nil
}

// allocate picks n fresh output indices for the source entry at srcOrd,
// strictly between the nearest preceding and following source entries
// that still hold allocated blocks.
func (r *collectListReader) allocate(srcOrd ordinal.Ordinal, n int) ([]ordinal.Ordinal, error) {
	if n == 0 {
		return nil, nil
	}

	lo := ordinal.Zero()
	var hi ordinal.Ordinal
	bounded := false
	for _, e := range r.src.Entries() {
		block := r.alloc[e.Ord.Key()]
		if len(block) == 0 {
			continue
		}
		switch {
		case ordinal.Compare(e.Ord, srcOrd) < 0:
			lo = block[len(block)-1]
		case ordinal.Compare(e.Ord, srcOrd) > 0:
			hi = block[0]
			bounded = true
		}
		if bounded {
			break
		}
	}

	block := make([]ordinal.Ordinal, n)
	cur := lo
	for i := 0; i < n; i++ {
		if bounded {
			next, err := ordinal.Between(cur, hi)
			if err != nil {
				return nil, fmt.Errorf("failed to allocate collect index: %w", err)
			}
			cur = next
		} else {
			cur = ordinal.After(cur)
		}
		block[i] = cur
	}
	return block, nil
}

func (r *collectListReader) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	r.alloc = nil
	r.mu.Unlock()

	unsubscribeReader(r.up, r.upHandle)
	return r.up.Dispose()
}

// CollectList derives the in-order concatenation of the sub-lists f
// yields per element of src. The expansions are plain list values; for
// dynamic sub-collections see UnionOf and CollectSets.
func CollectList(src *List, f func(any) *dlist.List, opts ...Option) *List {
	o := inheritList(src, opts)
	list := &List{name: "collect-list", clock: src.clock, keyFn: o.keyFn, log: o.log}
	list.newReader = func() (ListReader, error) {
		up, err := src.NewReader()
		if err != nil {
			return nil, err
		}
		r := &collectListReader{
			node: newNode("collect-list-reader", o.log),
			up:   up,
			f: func(v any) (*dlist.List, error) {
				expansion := f(v)
				if expansion == nil {
					return nil, newContractError("collect transform returned no list for %v", v)
				}
				return expansion, nil
			},
			src:   dlist.New(src.keyFn),
			alloc: make(map[string][]ordinal.Ordinal),
		}
		if r.upHandle, err = subscribeReader(up, r); err != nil {
			_ = up.Dispose()
			return nil, err
		}
		return r, nil
	}
	return list
}

// FilterList derives the sub-list of src whose elements pass the
// predicate, preserving relative order.
func FilterList(src *List, pred func(any) bool, opts ...Option) *List {
	keep := dlist.New(refset.JSONKey)
	return CollectList(src, func(v any) *dlist.List {
		if !pred(v) {
			return keep
		}
		return keep.Set(ordinal.After(ordinal.Zero()), v)
	}, opts...)
}
