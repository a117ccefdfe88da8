package refset

import "fmt"

// Entry is one signed operation in a delta. Count is +1 for an addition and
// -1 for a removal; no other values are well formed.
type Entry struct {
	Count int
	Value any
}

// Delta is an ordered sequence of signed unit operations. The empty delta
// is the monoid identity.
type Delta []Entry

// IsEmpty reports whether the delta carries no operations.
func (d Delta) IsEmpty() bool { return len(d) == 0 }

// Validate checks the unit-multiplicity invariant on every entry.
func (d Delta) Validate() error {
	for i, e := range d {
		if e.Count != 1 && e.Count != -1 {
			return newInvariantError(
				fmt.Sprintf("malformed delta: entry %d has multiplicity %d, want +1 or -1", i, e.Count), nil)
		}
	}
	return nil
}

// Combine composes two deltas: first d, then next. Composition is
// concatenation, which is associative with the empty delta as identity, and
// applying the result equals applying d then next.
func Combine(d, next Delta) Delta {
	if len(d) == 0 {
		return next
	}
	if len(next) == 0 {
		return d
	}
	result := make(Delta, 0, len(d)+len(next))
	result = append(result, d...)
	result = append(result, next...)
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

// Apply returns a new set with every operation of the delta applied in
// order. Entries violating the unit-multiplicity invariant abort the whole
// application.
func Apply(s *Set, d Delta) (*Set, error) {
	result := s.Copy()
	if err := ApplyMutate(result, d); err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyMutate applies the delta to s in place.
func ApplyMutate(s *Set, d Delta) error {
	for i, e := range d {
		switch e.Count {
		case 1:
			if err := s.AddMutate(e.Value); err != nil {
				return fmt.Errorf("failed to apply delta entry %d: %w", i, err)
			}
		case -1:
			if err := s.RemoveMutate(e.Value); err != nil {
				return fmt.Errorf("failed to apply delta entry %d: %w", i, err)
			}
		default:
			return newInvariantError(
				fmt.Sprintf("malformed delta: entry %d has multiplicity %d, want +1 or -1", i, e.Count), nil)
		}
	}
	return nil
}

// Map transforms each operation's value with f, preserving signs. The
// transform needs no injectivity: collapsing values is what downstream
// reference counts exist for.
func (d Delta) Map(f func(any) any) (Delta, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	result := make(Delta, len(d))
	for i, e := range d {
		result[i] = Entry{Count: e.Count, Value: f(e.Value)}
	}
	return result, nil
}

// Choose transforms each operation with f, dropping operations where f
// reports false.
func (d Delta) Choose(f func(any) (any, bool)) (Delta, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var result Delta
	for _, e := range d {
		if v, ok := f(e.Value); ok {
			result = append(result, Entry{Count: e.Count, Value: v})
		}
	}
	return result, nil
}

// Filter keeps only operations whose value passes the predicate.
func (d Delta) Filter(pred func(any) bool) (Delta, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var result Delta
	for _, e := range d {
		if pred(e.Value) {
			result = append(result, e)
		}
	}
	return result, nil
}

// Collect expands each operation into zero or more operations with the same
// sign, one per value returned by f.
func (d Delta) Collect(f func(any) []any) (Delta, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var result Delta
	for _, e := range d {
		for _, v := range f(e.Value) {
			result = append(result, Entry{Count: e.Count, Value: v})
		}
	}
	return result, nil
}
