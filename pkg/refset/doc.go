// Package refset implements reference-counted multisets and their deltas.
//
// A Set maps element values to a positive occurrence count. The count is a
// liveness reference, not a true multiplicity: it records how many distinct
// upstream paths currently justify the element's presence, so an element
// reachable through several paths (after a union, or a non-injective
// mapping) does not disappear until every path has removed it.
//
// A Delta is an ordered sequence of signed unit operations. Deltas form a
// monoid under Combine (concatenation, with the empty delta as identity),
// and applying a combined delta equals applying each delta in sequence.
// Well-formed deltas carry only +1/-1 counts; anything else indicates a
// reference-counting bug upstream and is rejected, never silently summed.
//
// Element identity is established through an explicit KeyFunc threaded into
// every constructor. The default derives a canonical JSON key, so values
// with equal structure are the same element.
package refset
