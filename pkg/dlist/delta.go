package dlist

import (
	"fmt"
	"sort"
	"strings"

	"github.com/incrkit/incrkit/pkg/ordinal"
)

// OpKind is the operation carried by a delta at one index.
type OpKind int

const (
	// OpSet means the element at this index becomes the carried value,
	// whether newly created or replacing an old one.
	OpSet OpKind = iota
	// OpRemove means the element at this index is gone.
	OpRemove
)

func (k OpKind) String() string {
	if k == OpRemove {
		return "Remove"
	}
	return "Set"
}

// DeltaEntry is one per-index operation.
type DeltaEntry struct {
	Ord   ordinal.Ordinal
	Kind  OpKind
	Value any // meaningful for OpSet only
}

// Delta is a sparse map from index to operation. The zero value is the
// empty delta.
type Delta struct {
	ops map[string]DeltaEntry
}

// NewDelta creates an empty delta.
func NewDelta() Delta { return Delta{ops: make(map[string]DeltaEntry)} }

// IsEmpty reports whether the delta carries no operations.
func (d Delta) IsEmpty() bool { return len(d.ops) == 0 }

// Len returns the number of per-index operations.
func (d Delta) Len() int { return len(d.ops) }

// Set records that the element at ord becomes v.
func (d *Delta) Set(ord ordinal.Ordinal, v any) {
	if d.ops == nil {
		d.ops = make(map[string]DeltaEntry)
	}
	d.ops[ord.Key()] = DeltaEntry{Ord: ord, Kind: OpSet, Value: v}
}

// Remove records that the element at ord is gone.
func (d *Delta) Remove(ord ordinal.Ordinal) {
	if d.ops == nil {
		d.ops = make(map[string]DeltaEntry)
	}
	d.ops[ord.Key()] = DeltaEntry{Ord: ord, Kind: OpRemove}
}

// Get returns the operation recorded for ord, if any.
func (d Delta) Get(ord ordinal.Ordinal) (DeltaEntry, bool) {
	e, ok := d.ops[ord.Key()]
	return e, ok
}

// Entries returns the operations sorted by index.
func (d Delta) Entries() []DeltaEntry {
	result := make([]DeltaEntry, 0, len(d.ops))
	for _, e := range d.ops {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ord.Less(result[j].Ord) })
	return result
}

// Combine composes two deltas: first d, then next. Per-index case table:
// only-in-d keeps d's op; only-in-next keeps next's op; Remove then Set
// collapses to Set (delete-then-insert is a replace); Set then Remove is
// Remove; Set then Set keeps the latest; Remove then Remove is Remove. In
// every overlap the later operation carries the net effect. Composition is
// associative. The result is always a fresh value; mutating it never
// touches either operand.
func Combine(d, next Delta) Delta {
	result := NewDelta()
	for key, e := range d.ops {
		result.ops[key] = e
	}
	for key, e := range next.ops {
		result.ops[key] = e
	}
	return result
}

// CombineAll composes any number of deltas in order.
func CombineAll(deltas ...Delta) Delta {
	var result Delta
	for _, d := range deltas {
		result = Combine(result, d)
	}
	return result
}

// ComputeDelta diffs two lists: a Set for every index present in new but
// absent or different in old, a Remove for every index present in old but
// absent from new. This is a set difference over ordered maps, not a
// positional diff; the merge walk touches each element once and emits
// operations proportional to the symmetric difference.
func ComputeDelta(prev, next *List) (Delta, error) {
	delta := NewDelta()
	a, b := prev.Entries(), next.Entries()
	keyFn := prev.keyFn

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch ordinal.Compare(a[i].Ord, b[j].Ord) {
		case -1:
			delta.Remove(a[i].Ord)
			i++
		case 1:
			delta.Set(b[j].Ord, b[j].Value)
			j++
		default:
			ka, err := keyFn(a[i].Value)
			if err != nil {
				return Delta{}, fmt.Errorf("failed to key old value: %w", err)
			}
			kb, err := keyFn(b[j].Value)
			if err != nil {
				return Delta{}, fmt.Errorf("failed to key new value: %w", err)
			}
			if ka != kb {
				delta.Set(b[j].Ord, b[j].Value)
			}
			i++
			j++
		}
	}
	for ; i < len(a); i++ {
		delta.Remove(a[i].Ord)
	}
	for ; j < len(b); j++ {
		delta.Set(b[j].Ord, b[j].Value)
	}
	return delta, nil
}

// ApplyDelta applies every operation of the delta to the list and returns
// the new list together with the delta actually applied. Removing an absent
// index, or setting an index to the value it already holds, is dropped from
// the effective delta but raises no error: collections must tolerate
// redundant or already-applied deltas resulting from batching.
func ApplyDelta(l *List, d Delta) (*List, Delta, error) {
	if d.IsEmpty() {
		return l, NewDelta(), nil
	}

	tree := l.tree.Clone()
	effective := NewDelta()
	for _, e := range d.Entries() {
		switch e.Kind {
		case OpSet:
			if old, ok := tree.Get(Entry{Ord: e.Ord}); ok {
				ko, err := l.keyFn(old.Value)
				if err != nil {
					return nil, Delta{}, fmt.Errorf("failed to key existing value: %w", err)
				}
				kn, err := l.keyFn(e.Value)
				if err != nil {
					return nil, Delta{}, fmt.Errorf("failed to key delta value: %w", err)
				}
				if ko == kn {
					continue
				}
			}
			tree.ReplaceOrInsert(Entry{Ord: e.Ord, Value: e.Value})
			effective.Set(e.Ord, e.Value)
		case OpRemove:
			if _, ok := tree.Delete(Entry{Ord: e.Ord}); ok {
				effective.Remove(e.Ord)
			}
		}
	}
	return &List{tree: tree, keyFn: l.keyFn}, effective, nil
}

// String returns a debug representation sorted by index.
func (d Delta) String() string {
	entries := d.Entries()
	if len(entries) == 0 {
		return "Δ{}"
	}
	var sb strings.Builder
	sb.WriteString("Δ{")
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		if e.Kind == OpSet {
			fmt.Fprintf(&sb, "%s=Set(%v)", e.Ord, e.Value)
		} else {
			fmt.Fprintf(&sb, "%s=Remove", e.Ord)
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
