// Package dlist implements delta-indexed ordered lists: immutable ordered
// collections keyed by dense order indices (pkg/ordinal), together with the
// diff/patch algebra over them.
//
// A List maps ordinals to element values; the logical element order is the
// ordinal order. Every mutation returns a new list and leaves the old one
// valid (persistent semantics); structural sharing comes from the
// copy-on-write clone of the backing B-tree.
//
// A Delta is a sparse map from ordinal to one of two operations: Set (the
// element at this index becomes the given value) and Remove (the element at
// this index is gone). ComputeDelta diffs two lists, ApplyDelta patches a
// list, and Combine composes two deltas into one with the same net effect.
// The primary correctness contract is the round-trip law:
//
//	ApplyDelta(A, ComputeDelta(A, B)) = B
//
// together with associativity of Combine, which is what allows a reader to
// batch several upstream pulls into one outgoing delta without ever
// materializing the intermediate lists.
package dlist
