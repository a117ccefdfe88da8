package adaptive

import (
	"fmt"

	"github.com/incrkit/incrkit/pkg/refset"
)

// innerEntry is one reference-counted slot of a nested reader's cache: the
// shared inner reader, the accumulated last-known state (needed to emit the
// full teardown removal), and the number of outer elements currently
// justifying it.
type innerEntry struct {
	key       string
	reader    SetReader
	depHandle int
	state     *refset.Set
	refs      int
}

// teardownDelta lists a torn-down reader's entire last-known state as
// removals, one per forwarded justification.
func teardownDelta(state *refset.Set) refset.Delta {
	var d refset.Delta
	for _, se := range state.Entries() {
		for i := 0; i < se.Count; i++ {
			d = append(d, refset.Entry{Count: -1, Value: se.Value})
		}
	}
	return d
}

// outerRef tracks one live outer element: the inner entry its additions
// resolved to, and how many upstream paths currently justify it. An outer
// element reaching the reader through several paths (the same element in
// two unioned sources) adds one justification per path, and only the last
// removal drops the mapping.
type outerRef struct {
	innerKey string
	refs     int
}

// collectSetReader is union/collect over a dynamic set of sub-collections.
// Each inner sub-collection gets one reader instance, cached by collection
// identity and reference-counted by the outer elements resolving to it.
// Inner readers that changed independently of outer membership are tracked
// in the dirty set and re-pulled each round.
type collectSetReader struct {
	node
	outer       SetReader
	outerHandle int
	outerKeyFn  refset.KeyFunc
	toSet       func(any) (*Set, error)
	// entries is keyed by the inner collection's identity; byOuter maps
	// each live outer element to the inner entry it justifies, so a
	// removal finds its reader without re-running the transform.
	entries map[string]*innerEntry
	byOuter map[string]*outerRef
	dirty   map[string]*innerEntry
}

// innerDirty is the invalidation callback of one inner reader.
func (r *collectSetReader) innerDirty(ent *innerEntry) {
	r.mu.Lock()
	if r.disposed || r.entries[ent.key] != ent {
		// Stray notification from a torn-down reader.
		r.mu.Unlock()
		return
	}
	r.dirty[ent.key] = ent
	deps := r.markStale()
	r.mu.Unlock()
	notify(deps)
}

func (r *collectSetReader) Pull(version Version) (refset.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return nil, err
	}

	outerDelta, err := r.outer.Pull(version)
	if err != nil {
		return nil, err
	}

	var out refset.Delta
	for i, e := range outerDelta {
		switch e.Count {
		case 1:
			d, err := r.acquire(e.Value, version)
			if err != nil {
				return nil, err
			}
			out = refset.Combine(out, d)
		case -1:
			d, err := r.release(e.Value)
			if err != nil {
				return nil, err
			}
			out = refset.Combine(out, d)
		default:
			return nil, newContractError(
				"malformed delta: entry %d has multiplicity %d, want +1 or -1", i, e.Count)
		}
	}

	// Inner readers still marked dirty changed inside their own
	// sub-collection even though outer membership did not; re-pull them so
	// nested changes propagate.
	for key, ent := range r.dirty {
		d, err := ent.reader.Pull(version)
		if err != nil {
			return nil, err
		}
		if err := refset.ApplyMutate(ent.state, d); err != nil {
			return nil, fmt.Errorf("failed to track inner reader state: %w", err)
		}
		out = refset.Combine(out, d)
		delete(r.dirty, key)
	}

	r.commitPull(version)
	return out, nil
}

// acquire creates or re-uses the inner reader for the outer value and pulls
// it immediately: a fresh reader starts from empty and reports its full
// current contents as additions. Two outer elements resolving to the same
// inner collection share one reader, with one reference each.
func (r *collectSetReader) acquire(v any, version Version) (refset.Delta, error) {
	outerKey, err := r.outerKeyFn(v)
	if err != nil {
		return nil, fmt.Errorf("failed to key outer value: %w", err)
	}
	inner, err := r.toSet(v)
	if err != nil {
		return nil, err
	}
	key := inner.IdentityKey()

	ent := r.entries[key]
	if ent == nil {
		rd, err := inner.NewReader()
		if err != nil {
			return nil, err
		}
		ent = &innerEntry{key: key, reader: rd, state: refset.New(inner.keyFn)}
		entRef := ent
		if ent.depHandle, err = subscribeReader(rd, invalidateFunc(func() { r.innerDirty(entRef) })); err != nil {
			_ = rd.Dispose()
			return nil, err
		}
		r.entries[key] = ent
	}
	ent.refs++
	if ref := r.byOuter[outerKey]; ref != nil {
		ref.refs++
	} else {
		r.byOuter[outerKey] = &outerRef{innerKey: key, refs: 1}
	}
	delete(r.dirty, key)

	d, err := ent.reader.Pull(version)
	if err != nil {
		return nil, err
	}
	if err := refset.ApplyMutate(ent.state, d); err != nil {
		return nil, fmt.Errorf("failed to track inner reader state: %w", err)
	}
	return d, nil
}

// release drops one justification of the inner reader. Only the last
// release tears it down, emitting its entire last-known state as removals;
// while other outer elements still reference it, nothing is emitted here.
func (r *collectSetReader) release(v any) (refset.Delta, error) {
	outerKey, err := r.outerKeyFn(v)
	if err != nil {
		return nil, fmt.Errorf("failed to key outer value: %w", err)
	}
	ref := r.byOuter[outerKey]
	if ref == nil {
		return nil, newContractError(
			"collect reader %s got a removal for %v without a matching addition", r.name, v)
	}
	ref.refs--
	if ref.refs == 0 {
		delete(r.byOuter, outerKey)
	}
	key := ref.innerKey
	ent := r.entries[key]
	if ent == nil {
		return nil, newContractError(
			"collect reader %s lost the sub-collection of %v", r.name, v)
	}

	ent.refs--
	if ent.refs > 0 {
		return nil, nil
	}

	d := teardownDelta(ent.state)
	unsubscribeReader(ent.reader, ent.depHandle)
	if err := ent.reader.Dispose(); err != nil {
		return nil, fmt.Errorf("failed to tear down inner reader: %w", err)
	}
	delete(r.entries, key)
	delete(r.dirty, key)
	return d, nil
}

func (r *collectSetReader) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	entries := r.entries
	r.entries = nil
	r.byOuter = nil
	r.dirty = nil
	r.mu.Unlock()

	var firstErr error
	for _, ent := range entries {
		unsubscribeReader(ent.reader, ent.depHandle)
		if err := ent.reader.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	unsubscribeReader(r.outer, r.outerHandle)
	if err := r.outer.Dispose(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func newNestedSet(name string, src *Set, toSet func(any) (*Set, error), opts []Option) *Set {
	// The flattened result holds inner elements, not outer ones, so value
	// identity defaults to structural rather than to the outer set's.
	o := options{log: src.log, keyFn: refset.JSONKey}
	for _, opt := range opts {
		opt(&o)
	}
	set := &Set{name: name, clock: src.clock, keyFn: o.keyFn, log: o.log}
	set.newReader = func() (SetReader, error) {
		outer, err := src.NewReader()
		if err != nil {
			return nil, err
		}
		r := &collectSetReader{
			node:       newNode(name+"-reader", o.log),
			outer:      outer,
			outerKeyFn: src.keyFn,
			toSet:      toSet,
			entries:    make(map[string]*innerEntry),
			byOuter:    make(map[string]*outerRef),
			dirty:      make(map[string]*innerEntry),
		}
		if r.outerHandle, err = subscribeReader(outer, r); err != nil {
			_ = outer.Dispose()
			return nil, err
		}
		return r, nil
	}
	return set
}

// UnionOf flattens a set whose elements are themselves sets.
func UnionOf(sets *Set, opts ...Option) *Set {
	return newNestedSet("union-of", sets, func(v any) (*Set, error) {
		inner, ok := v.(*Set)
		if !ok {
			return nil, newContractError("union element %T is not a set", v)
		}
		return inner, nil
	}, opts)
}

// CollectSets derives the flattened union of the sets f produces per
// element of src (map-then-flatten).
func CollectSets(src *Set, f func(any) *Set, opts ...Option) *Set {
	return newNestedSet("collect", src, func(v any) (*Set, error) {
		inner := f(v)
		if inner == nil {
			return nil, newContractError("collect transform returned no set for %v", v)
		}
		return inner, nil
	}, opts)
}

// bindSetReader derives a set from a single upstream cell whose value
// selects a whole sub-collection. A value-identity change tears down the
// old sub-collection's reader (removing all its elements) and spins up the
// new one (adding all of its elements); otherwise the sub-collection
// reader's own delta is forwarded.
type bindSetReader struct {
	node
	cell      Cell
	cellSub   int
	cellKeyFn refset.KeyFunc
	f         func(any) *Set

	started     bool
	curKey      string
	inner       SetReader
	innerHandle int
	state       *refset.Set
}

func (r *bindSetReader) Pull(version Version) (refset.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return nil, err
	}

	v := r.cell.Read(version)
	key, err := r.cellKeyFn(v)
	if err != nil {
		return nil, fmt.Errorf("failed to key cell value: %w", err)
	}

	var out refset.Delta
	if !r.started || key != r.curKey {
		if r.started {
			out = teardownDelta(r.state)
			unsubscribeReader(r.inner, r.innerHandle)
			if err := r.inner.Dispose(); err != nil {
				return nil, fmt.Errorf("failed to tear down bound reader: %w", err)
			}
		}
		target := r.f(v)
		if target == nil {
			return nil, newContractError("bind transform returned no set for %v", v)
		}
		rd, err := target.NewReader()
		if err != nil {
			return nil, err
		}
		if r.innerHandle, err = subscribeReader(rd, invalidateFunc(r.invalidate)); err != nil {
			_ = rd.Dispose()
			return nil, err
		}
		r.inner = rd
		r.state = refset.New(target.keyFn)
		r.curKey = key
		r.started = true
	}

	d, err := r.inner.Pull(version)
	if err != nil {
		return nil, err
	}
	if err := refset.ApplyMutate(r.state, d); err != nil {
		return nil, fmt.Errorf("failed to track bound reader state: %w", err)
	}
	r.commitPull(version)
	return refset.Combine(out, d), nil
}

func (r *bindSetReader) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	inner, innerHandle, started := r.inner, r.innerHandle, r.started
	r.inner = nil
	r.mu.Unlock()

	r.cell.Unsubscribe(r.cellSub)
	if started {
		unsubscribeReader(inner, innerHandle)
		return inner.Dispose()
	}
	return nil
}

// BindSet derives a set from a cell: the cell's value selects (through f)
// the sub-collection whose elements the result holds.
func BindSet(clock *Clock, cell Cell, f func(any) *Set, opts ...Option) *Set {
	o := makeOptions(opts)
	set := &Set{name: "bind", clock: clock, keyFn: o.keyFn, log: o.log}
	set.newReader = func() (SetReader, error) {
		r := &bindSetReader{
			node:      newNode("bind-reader", o.log),
			cell:      cell,
			cellKeyFn: o.keyFn,
			f:         f,
		}
		r.cellSub = cell.Subscribe(r.invalidate)
		return r, nil
	}
	return set
}

// cellEntry tracks one element-owned single-value cell: its cached last
// value and the number of outer justifications.
type cellEntry struct {
	key     string
	cell    Cell
	sub     int
	lastVal any
	refs    int
}

// flattenCellsReader derives the set of current values of a dynamic
// collection of single-value cells. Outer additions read and cache the
// cell's value; outer removals discard it; cells in the dirty set that
// produced a changed value since the last read emit a removal of the old
// value paired with an addition of the new one.
type flattenCellsReader struct {
	node
	outer       SetReader
	outerHandle int
	outerKeyFn  refset.KeyFunc
	valueKeyFn  refset.KeyFunc
	toCell      func(any) (Cell, error)
	entries     map[string]*cellEntry
	dirty       map[string]*cellEntry
}

func (r *flattenCellsReader) cellDirty(ent *cellEntry) {
	r.mu.Lock()
	if r.disposed || r.entries[ent.key] != ent {
		r.mu.Unlock()
		return
	}
	r.dirty[ent.key] = ent
	deps := r.markStale()
	r.mu.Unlock()
	notify(deps)
}

// refresh re-reads a dirty cell and emits the value swap for every
// justification. No-op when the cell is not dirty or the value key did not
// change.
func (r *flattenCellsReader) refresh(ent *cellEntry, version Version) (refset.Delta, error) {
	if _, dirty := r.dirty[ent.key]; !dirty {
		return nil, nil
	}
	delete(r.dirty, ent.key)

	newVal := ent.cell.Read(version)
	oldKey, err := r.valueKeyFn(ent.lastVal)
	if err != nil {
		return nil, fmt.Errorf("failed to key cached cell value: %w", err)
	}
	newKey, err := r.valueKeyFn(newVal)
	if err != nil {
		return nil, fmt.Errorf("failed to key cell value: %w", err)
	}
	if oldKey == newKey {
		return nil, nil
	}

	var d refset.Delta
	for i := 0; i < ent.refs; i++ {
		d = append(d,
			refset.Entry{Count: -1, Value: ent.lastVal},
			refset.Entry{Count: 1, Value: newVal})
	}
	ent.lastVal = newVal
	return d, nil
}

func (r *flattenCellsReader) Pull(version Version) (refset.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, err := r.beginPull(version)
	if err != nil || !run {
		return nil, err
	}

	outerDelta, err := r.outer.Pull(version)
	if err != nil {
		return nil, err
	}

	var out refset.Delta
	for i, e := range outerDelta {
		key, err := r.outerKeyFn(e.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to key outer value: %w", err)
		}
		switch e.Count {
		case 1:
			ent := r.entries[key]
			if ent == nil {
				cell, err := r.toCell(e.Value)
				if err != nil {
					return nil, err
				}
				ent = &cellEntry{key: key, cell: cell, lastVal: cell.Read(version), refs: 1}
				entRef := ent
				ent.sub = cell.Subscribe(func() { r.cellDirty(entRef) })
				r.entries[key] = ent
				out = append(out, refset.Entry{Count: 1, Value: ent.lastVal})
				continue
			}
			d, err := r.refresh(ent, version)
			if err != nil {
				return nil, err
			}
			out = refset.Combine(out, d)
			ent.refs++
			out = append(out, refset.Entry{Count: 1, Value: ent.lastVal})
		case -1:
			ent := r.entries[key]
			if ent == nil {
				return nil, newContractError(
					"cell reader %s got a removal for %v without a matching addition", r.name, e.Value)
			}
			d, err := r.refresh(ent, version)
			if err != nil {
				return nil, err
			}
			out = refset.Combine(out, d)
			out = append(out, refset.Entry{Count: -1, Value: ent.lastVal})
			ent.refs--
			if ent.refs == 0 {
				ent.cell.Unsubscribe(ent.sub)
				delete(r.entries, key)
				delete(r.dirty, key)
			}
		default:
			return nil, newContractError(
				"malformed delta: entry %d has multiplicity %d, want +1 or -1", i, e.Count)
		}
	}

	for _, ent := range r.dirty {
		d, err := r.refresh(ent, version)
		if err != nil {
			return nil, err
		}
		out = refset.Combine(out, d)
	}

	r.commitPull(version)
	return out, nil
}

func (r *flattenCellsReader) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	entries := r.entries
	r.entries = nil
	r.dirty = nil
	r.mu.Unlock()

	for _, ent := range entries {
		ent.cell.Unsubscribe(ent.sub)
	}
	unsubscribeReader(r.outer, r.outerHandle)
	return r.outer.Dispose()
}

// FlattenCells derives the set of current values of the cells f yields per
// element of src.
func FlattenCells(src *Set, f func(any) Cell, opts ...Option) *Set {
	o := options{log: src.log, keyFn: refset.JSONKey}
	for _, opt := range opts {
		opt(&o)
	}
	set := &Set{name: "flatten-cells", clock: src.clock, keyFn: o.keyFn, log: o.log}
	set.newReader = func() (SetReader, error) {
		outer, err := src.NewReader()
		if err != nil {
			return nil, err
		}
		r := &flattenCellsReader{
			node:       newNode("flatten-cells-reader", o.log),
			outer:      outer,
			outerKeyFn: src.keyFn,
			valueKeyFn: o.keyFn,
			toCell: func(v any) (Cell, error) {
				c := f(v)
				if c == nil {
					return nil, newContractError("cell transform returned no cell for %v", v)
				}
				return c, nil
			},
			entries:    make(map[string]*cellEntry),
			dirty:      make(map[string]*cellEntry),
		}
		if r.outerHandle, err = subscribeReader(outer, r); err != nil {
			_ = outer.Dispose()
			return nil, err
		}
		return r, nil
	}
	return set
}
