// Package omap implements an in-memory ordered map over byte-string keys,
// supporting duplicate keys, pluggable key comparators, and range cursors
// that detect structural mutation during iteration.
//
// It generalizes a scan-then-repair pattern (binary search over a sorted
// region, linear scan over an unsorted append-only tail, periodic
// compaction of the tail back into sorted order) from a single
// hardcoded index keyed by a 16-hex-char hash to a reusable structure
// keyed by an arbitrary comparator, carrying posting lists instead of a
// single value per key.
package omap

// Comparator orders two encoded keys, returning <0, 0, or >0 the way
// bytes.Compare does. The index manager is responsible for encoding
// typed values into the byte strings a Comparator compares.
type Comparator func(a, b []byte) int

// ByteLex orders keys by raw byte value, the comparator for the `string`
// index kind.
func ByteLex(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// Numeric orders keys encoded by the index package's encodeNumberKey, an
// order-preserving big-endian transform of numeric values (see keyenc in the index
// package for the encoding itself — this comparator only needs byte
// order to already match numeric order).
func Numeric(a, b []byte) int {
	return ByteLex(a, b)
}

// CaseFold is identical to ByteLex at this layer: the index manager's
// `istring` kind is expected to have already folded the key with
// golang.org/x/text/cases before it ever reaches the map, so ordering is
// still a plain byte comparison over the folded form.
func CaseFold(a, b []byte) int {
	return ByteLex(a, b)
}
