package dlist

import (
	"fmt"

	"github.com/google/btree"

	"github.com/incrkit/incrkit/pkg/ordinal"
	"github.com/incrkit/incrkit/pkg/refset"
)

const btreeDegree = 8

// Entry is one element of a list: its index and its value.
type Entry struct {
	Ord   ordinal.Ordinal
	Value any
}

func entryLess(a, b Entry) bool { return a.Ord.Less(b.Ord) }

// List is an immutable ordered collection keyed by dense order indices.
// All mutating operations return a new list; the receiver stays valid.
type List struct {
	tree  *btree.BTreeG[Entry]
	keyFn refset.KeyFunc
}

// New creates an empty list. Value identity (used by ComputeDelta and
// Equal) follows keyFn, or refset.JSONKey when nil.
func New(keyFn refset.KeyFunc) *List {
	if keyFn == nil {
		keyFn = refset.JSONKey
	}
	return &List{
		tree:  btree.NewG[Entry](btreeDegree, entryLess),
		keyFn: keyFn,
	}
}

// OfSlice builds a list holding the values in source order, allocating
// indices by repeated After.
func OfSlice(keyFn refset.KeyFunc, values ...any) *List {
	l := New(keyFn)
	tree := l.tree
	ord := ordinal.Zero()
	for _, v := range values {
		ord = ordinal.After(ord)
		tree.ReplaceOrInsert(Entry{Ord: ord, Value: v})
	}
	return l
}

// KeyFunc returns the value identity strategy the list was built with.
func (l *List) KeyFunc() refset.KeyFunc { return l.keyFn }

// Len returns the number of elements.
func (l *List) Len() int { return l.tree.Len() }

// Get returns the value at the given index, if present. Absence is an
// expected condition, not an error.
func (l *List) Get(ord ordinal.Ordinal) (any, bool) {
	e, ok := l.tree.Get(Entry{Ord: ord})
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// First returns the first element and its index.
func (l *List) First() (Entry, bool) { return l.tree.Min() }

// Last returns the last element and its index.
func (l *List) Last() (Entry, bool) { return l.tree.Max() }

// Append returns a new list with v as the last element. The fresh index is
// allocated strictly between the current maximum and a provisional upper
// bound, so existing indices are never renumbered.
func (l *List) Append(v any) (*List, error) {
	last := ordinal.Zero()
	if e, ok := l.tree.Max(); ok {
		last = e.Ord
	}
	ord, err := ordinal.Between(last, ordinal.After(last))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate trailing index: %w", err)
	}
	return l.with(Entry{Ord: ord, Value: v}), nil
}

// Prepend returns a new list with v as the first element.
func (l *List) Prepend(v any) (*List, error) {
	first := ordinal.After(ordinal.Zero())
	if e, ok := l.tree.Min(); ok {
		first = e.Ord
	}
	ord, err := ordinal.Between(ordinal.Zero(), first)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate leading index: %w", err)
	}
	return l.with(Entry{Ord: ord, Value: v}), nil
}

// Set returns a new list with the element at ord set to v, inserting or
// replacing as needed.
func (l *List) Set(ord ordinal.Ordinal, v any) *List {
	return l.with(Entry{Ord: ord, Value: v})
}

// Delete returns a new list without the element at ord. Deleting an absent
// index is a no-op.
func (l *List) Delete(ord ordinal.Ordinal) *List {
	if !l.tree.Has(Entry{Ord: ord}) {
		return l
	}
	tree := l.tree.Clone()
	tree.Delete(Entry{Ord: ord})
	return &List{tree: tree, keyFn: l.keyFn}
}

// Map returns a new list with every value transformed by f. Indices are
// unchanged, so element identity across the transform is preserved. No
// uniqueness requirement is placed on outputs.
func (l *List) Map(f func(any) any) *List {
	result := New(l.keyFn)
	l.tree.Ascend(func(e Entry) bool {
		result.tree.ReplaceOrInsert(Entry{Ord: e.Ord, Value: f(e.Value)})
		return true
	})
	return result
}

// Collect concatenates the sub-lists produced by f for each element,
// preserving relative order both across and within groups. Each source
// element's group is allocated a sub-range of index space between the
// source index and its successor.
func (l *List) Collect(f func(any) *List) (*List, error) {
	entries := l.Entries()
	result := New(l.keyFn)

	for i, src := range entries {
		// Bounds of this element's sub-range.
		lo := src.Ord
		var hi ordinal.Ordinal
		if i+1 < len(entries) {
			hi = entries[i+1].Ord
		} else {
			hi = ordinal.After(src.Ord)
		}

		sub := f(src.Value)
		var err error
		sub.tree.Ascend(func(e Entry) bool {
			var ord ordinal.Ordinal
			ord, err = ordinal.Between(lo, hi)
			if err != nil {
				return false
			}
			result.tree.ReplaceOrInsert(Entry{Ord: ord, Value: e.Value})
			lo = ord
			return true
		})
		if err != nil {
			return nil, fmt.Errorf("failed to allocate sub-range index: %w", err)
		}
	}
	return result, nil
}

// ToSlice returns the values in logical order.
func (l *List) ToSlice() []any {
	result := make([]any, 0, l.tree.Len())
	l.tree.Ascend(func(e Entry) bool {
		result = append(result, e.Value)
		return true
	})
	return result
}

// Entries returns all elements with their indices in logical order.
func (l *List) Entries() []Entry {
	result := make([]Entry, 0, l.tree.Len())
	l.tree.Ascend(func(e Entry) bool {
		result = append(result, e)
		return true
	})
	return result
}

// Equal reports whether two lists hold equal values at equal indices.
func (l *List) Equal(other *List) (bool, error) {
	if l.tree.Len() != other.tree.Len() {
		return false, nil
	}
	a, b := l.Entries(), other.Entries()
	for i := range a {
		if !a[i].Ord.Equal(b[i].Ord) {
			return false, nil
		}
		ka, err := l.keyFn(a[i].Value)
		if err != nil {
			return false, err
		}
		kb, err := l.keyFn(b[i].Value)
		if err != nil {
			return false, err
		}
		if ka != kb {
			return false, nil
		}
	}
	return true, nil
}

// with returns a copy-on-write clone holding e.
func (l *List) with(e Entry) *List {
	tree := l.tree.Clone()
	tree.ReplaceOrInsert(e)
	return &List{tree: tree, keyFn: l.keyFn}
}

// String returns a debug representation in logical order.
func (l *List) String() string {
	return fmt.Sprintf("%v", l.ToSlice())
}
