package refset

import (
	"fmt"
	"sort"
	"strings"
)

// Set is a reference-counted multiset. Present elements always have count
// >= 1; absence means count zero. The zero value is not usable, use New.
type Set struct {
	keyFn  KeyFunc
	values map[string]any
	counts map[string]int
}

// New creates an empty set using the given key function, or JSONKey when
// keyFn is nil.
func New(keyFn KeyFunc) *Set {
	if keyFn == nil {
		keyFn = JSONKey
	}
	return &Set{
		keyFn:  keyFn,
		values: make(map[string]any),
		counts: make(map[string]int),
	}
}

// OfValues creates a set holding each given value with count 1. Duplicate
// values raise their count, one per occurrence.
func OfValues(keyFn KeyFunc, values ...any) (*Set, error) {
	s := New(keyFn)
	for i, v := range values {
		if err := s.AddMutate(v); err != nil {
			return nil, fmt.Errorf("failed to add value at index %d: %w", i, err)
		}
	}
	return s, nil
}

// KeyFunc returns the identity strategy the set was built with.
func (s *Set) KeyFunc() KeyFunc { return s.keyFn }

// AddMutate adds one justifying reference for v in place.
func (s *Set) AddMutate(v any) error {
	key, err := s.keyFn(v)
	if err != nil {
		return err
	}
	if _, exists := s.counts[key]; !exists {
		s.values[key] = v
	}
	s.counts[key]++
	return nil
}

// RemoveMutate drops one justifying reference for v in place; the element
// disappears when its count reaches zero. Removing an absent element is an
// invariant violation: it means some upstream path released a reference it
// never held.
func (s *Set) RemoveMutate(v any) error {
	key, err := s.keyFn(v)
	if err != nil {
		return err
	}
	count, exists := s.counts[key]
	if !exists {
		return newInvariantError(fmt.Sprintf("refcount underflow removing %v", v), nil)
	}
	if count == 1 {
		delete(s.counts, key)
		delete(s.values, key)
		return nil
	}
	s.counts[key] = count - 1
	return nil
}

// Add returns a new set with one extra justifying reference for v.
func (s *Set) Add(v any) (*Set, error) {
	result := s.Copy()
	if err := result.AddMutate(v); err != nil {
		return nil, err
	}
	return result, nil
}

// Remove returns a new set with one justifying reference for v dropped.
func (s *Set) Remove(v any) (*Set, error) {
	result := s.Copy()
	if err := result.RemoveMutate(v); err != nil {
		return nil, err
	}
	return result, nil
}

// Contains reports whether v is present (count >= 1).
func (s *Set) Contains(v any) (bool, error) {
	c, err := s.Count(v)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// Count returns the number of justifying references for v, zero when
// absent. A zero count is an expected condition, not an error.
func (s *Set) Count(v any) (int, error) {
	key, err := s.keyFn(v)
	if err != nil {
		return 0, err
	}
	return s.counts[key], nil
}

// Len returns the number of distinct present elements.
func (s *Set) Len() int { return len(s.counts) }

// Entries returns the distinct present elements with their reference
// counts, in unspecified order.
func (s *Set) Entries() []Entry {
	result := make([]Entry, 0, len(s.values))
	for key, v := range s.values {
		result = append(result, Entry{Count: s.counts[key], Value: v})
	}
	return result
}

// Values returns the distinct present elements in unspecified order.
func (s *Set) Values() []any {
	result := make([]any, 0, len(s.values))
	for _, v := range s.values {
		result = append(result, v)
	}
	return result
}

// Copy returns a set with the same elements and counts. Element values are
// shared, not cloned.
func (s *Set) Copy() *Set {
	result := &Set{
		keyFn:  s.keyFn,
		values: make(map[string]any, len(s.values)),
		counts: make(map[string]int, len(s.counts)),
	}
	for key, v := range s.values {
		result.values[key] = v
	}
	for key, c := range s.counts {
		result.counts[key] = c
	}
	return result
}

// Union returns the union of a and b. An element present in either input is
// present in the result, with its count equal to the number of inputs that
// contain it. Counts never sum internal multiplicities: they track
// contributing paths only, so removing one path's contribution leaves an
// element alive while another path still justifies it.
func Union(a, b *Set) (*Set, error) {
	return UnionMany(a, b)
}

// UnionMany is Union over any number of sets. The key function of the first
// set is used for the result.
func UnionMany(sets ...*Set) (*Set, error) {
	if len(sets) == 0 {
		return New(nil), nil
	}
	result := New(sets[0].keyFn)
	for _, s := range sets {
		for key, v := range s.values {
			if _, exists := result.counts[key]; !exists {
				result.values[key] = v
			}
			// One reference per contributing set, independent of the
			// element's count inside that set.
			result.counts[key]++
		}
	}
	return result, nil
}

// Diff returns the delta that takes old to s in terms of element presence:
// an Add entry for every element present in s but not in old, a Remove
// entry for every element present in old but gone from s. Count differences
// between two present states are not part of presence and produce no
// entries.
func (s *Set) Diff(old *Set) Delta {
	var delta Delta
	for key, v := range s.values {
		if _, exists := old.counts[key]; !exists {
			delta = append(delta, Entry{Count: 1, Value: v})
		}
	}
	for key, v := range old.values {
		if _, exists := s.counts[key]; !exists {
			delta = append(delta, Entry{Count: -1, Value: v})
		}
	}
	return delta
}

// Equal reports whether two sets hold the same elements with the same
// counts.
func (s *Set) Equal(other *Set) bool {
	if len(s.counts) != len(other.counts) {
		return false
	}
	for key, c := range s.counts {
		if other.counts[key] != c {
			return false
		}
	}
	return true
}

// String returns a debug representation with stable ordering.
func (s *Set) String() string {
	if len(s.counts) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(s.counts))
	for key := range s.counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%v×%d", s.values[key], s.counts[key])
	}
	sb.WriteByte('}')
	return sb.String()
}
