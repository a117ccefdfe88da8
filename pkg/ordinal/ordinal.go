// Package ordinal implements dense order indices: immutable, totally ordered
// identifiers supporting "insert strictly between any two" without ever
// renumbering existing identifiers.
//
// An ordinal is a path of unsigned digits compared lexicographically, with a
// shorter path ordered before any of its extensions. Between two adjacent
// digits the path simply grows another level of precision, so running out of
// room between two ordinals is structurally impossible. The scheme follows
// the position-identifier design used by Logoot-style sequence CRDTs.
package ordinal

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// top is the virtual digit just above every representable digit. It is used
// as the upper bound when the right endpoint runs out of digits and is never
// stored in a path.
const top = math.MaxUint64

// Ordinal is a dense order index. The zero value is the global minimum.
// Ordinals are immutable and safe for concurrent use.
type Ordinal struct {
	path []uint64
	key  string
}

// Zero returns the global minimum ordinal. No element index produced by
// After or Between ever equals it.
func Zero() Ordinal { return Ordinal{} }

// After returns an ordinal strictly greater than o. Repeated application
// yields a strictly increasing chain with constant-size representation.
func After(o Ordinal) Ordinal {
	if len(o.path) == 0 {
		return make1(1)
	}
	if o.path[0] < top-1 {
		return make1(o.path[0] + 1)
	}
	// First digit saturated: extending the path is always greater.
	p := make([]uint64, len(o.path)+1)
	copy(p, o.path)
	p[len(o.path)] = 1
	return newOrdinal(p)
}

// Between returns a fresh ordinal m with l < m < r. It never fails for any
// valid pair: when the midpoint at some level would collide with an
// endpoint, the path grows an extra level instead. Calling it with l >= r
// is a contract violation and returns an error.
func Between(l, r Ordinal) (Ordinal, error) {
	if Compare(l, r) >= 0 {
		return Ordinal{}, fmt.Errorf("ordinal: Between(%s, %s): left bound must be strictly smaller", l, r)
	}

	var path []uint64
	bounded := true // r still constrains the current level
	for i := 0; ; i++ {
		var a uint64
		if i < len(l.path) {
			a = l.path[i]
		}
		b := uint64(top)
		if bounded && i < len(r.path) {
			b = r.path[i]
		} else if bounded && i >= len(r.path) {
			// r exhausted after the paths diverged; unbounded above.
			b = top
			bounded = false
		}

		if b-a > 1 {
			// Room at this level: pick the midpoint, strictly inside (a, b).
			return newOrdinal(append(path, a+(b-a)/2)), nil
		}
		if b == a {
			// Still on the common prefix of l and r.
			path = append(path, a)
			continue
		}
		// Adjacent digits: follow the lower bound and descend. Everything
		// below this level is now only constrained by l.
		path = append(path, a)
		bounded = false
	}
}

// Compare orders two ordinals: -1 if a < b, 0 if equal, 1 if a > b.
// Comparison is lexicographic on digits; a proper prefix sorts first.
func Compare(a, b Ordinal) int {
	n := len(a.path)
	if len(b.path) < n {
		n = len(b.path)
	}
	for i := 0; i < n; i++ {
		switch {
		case a.path[i] < b.path[i]:
			return -1
		case a.path[i] > b.path[i]:
			return 1
		}
	}
	switch {
	case len(a.path) < len(b.path):
		return -1
	case len(a.path) > len(b.path):
		return 1
	}
	return 0
}

// Equal reports whether two ordinals denote the same position.
func (o Ordinal) Equal(other Ordinal) bool { return Compare(o, other) == 0 }

// Less reports whether o sorts strictly before other.
func (o Ordinal) Less(other Ordinal) bool { return Compare(o, other) < 0 }

// IsZero reports whether o is the global minimum.
func (o Ordinal) IsZero() bool { return len(o.path) == 0 }

// Key returns a stable string encoding usable as a map key. Byte-wise
// comparison of keys agrees with Compare.
func (o Ordinal) Key() string { return o.key }

// Depth returns the number of precision levels in the ordinal.
func (o Ordinal) Depth() int { return len(o.path) }

func (o Ordinal) String() string {
	if len(o.path) == 0 {
		return "ord<>"
	}
	var sb strings.Builder
	sb.WriteString("ord<")
	for i, d := range o.path {
		if i > 0 {
			sb.WriteByte('.')
		}
		fmt.Fprintf(&sb, "%d", d)
	}
	sb.WriteByte('>')
	return sb.String()
}

func make1(d uint64) Ordinal { return newOrdinal([]uint64{d}) }

func newOrdinal(path []uint64) Ordinal {
	buf := make([]byte, 8*len(path))
	for i, d := range path {
		binary.BigEndian.PutUint64(buf[8*i:], d)
	}
	return Ordinal{path: path, key: string(buf)}
}
