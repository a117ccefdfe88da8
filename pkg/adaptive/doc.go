// Package adaptive implements delta-propagating incremental collections:
// mutable inputs, derived sets and lists, and the pull-based readers that
// carry changes between them.
//
// Collections are lazy recipes, not stateful views. Deriving (MapSet,
// FilterSet, UnionOf, CollectList and friends) allocates nothing but a
// description; all state lives in readers. Every consumer acquires its own
// reader with NewReader, pulls deltas at clock versions of its choosing,
// and owns the reader until Dispose. Two readers of the same derived
// collection are fully independent.
//
// Key components:
//   - Clock: the logical version counter of one collection universe.
//   - SetInput, ListInput: mutable roots. Writes tick the clock and
//     invalidate dependent readers.
//   - Set, List: derived collection handles, composed with the operator
//     constructors.
//   - SetReader, ListReader: incremental delta sources. The first pull
//     seeds the full current contents; later pulls return only what
//     changed since the reader's previous pull.
//   - Var: a single-value cell, for BindSet and FlattenCells.
//
// Set deltas are refset.Delta values and removals are justification
// drops, so unions and nested flattening keep an element alive until its
// last producer drops it. List deltas are dlist.Delta values addressed by
// dense order indices, so concatenation and mapping leave untouched
// positions alone.
//
// Nested sub-computations (UnionOf, CollectSets, BindSet) cache one inner
// reader per producing outer value, reference-counted by outer
// membership. Tearing down the last justification emits the inner
// reader's whole last-known state as removals, so downstream counts come
// back to zero without re-evaluating anything.
//
// Pull is idempotent per version: pulling twice at the same clock reading
// yields the empty delta the second time. Pulling at an older version
// than a previous pull, or pulling a disposed reader, fails with a
// ContractError.
//
// Example usage:
//
//	clock := adaptive.NewClock()
//	in := adaptive.NewSetInput(clock)
//	doubled := adaptive.MapSet(in.AsSet(), func(v any) any { return v.(int) * 2 })
//	r, _ := doubled.NewReader()
//	defer r.Dispose()
//	_ = in.Add(21)
//	delta, _ := r.Pull(clock.Now()) // +1 x 42
package adaptive
