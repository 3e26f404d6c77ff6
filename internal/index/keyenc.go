// Package index implements the engine's secondary-index subsystem: five
// index kinds (string, istring, number, array, qgram), each a comparator
// configuration and a key-extraction rule layered over internal/omap.
package index

import (
	"encoding/binary"
	"math"

	"golang.org/x/text/cases"

	"github.com/jpl-au/ejdb/internal/bson"
)

var foldCaser = cases.Fold()

// Kind names the five index kinds the catalog can record.
type Kind string

const (
	KindString  Kind = "string"
	KindIString Kind = "istring"
	KindNumber  Kind = "number"
	KindArray   Kind = "array"
	KindQGram   Kind = "qgram"
)

// Valid reports whether k is one of the five recognized index kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindIString, KindNumber, KindArray, KindQGram:
		return true
	}
	return false
}

// encodeNumericKey transforms a float64 into an 8-byte big-endian key
// whose byte order matches numeric order: positive numbers get their
// sign bit set, negative numbers have every bit flipped. This is the
// standard order-preserving float encoding and lets internal/omap's
// plain byte-lexical comparator serve the `number` index without any
// numeric awareness of its own.
func encodeNumericKey(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(bits)
		bits >>= 8
	}
	return b[:]
}

// orderPreservingInt64 transforms an int64 into an 8-byte big-endian key
// whose byte order matches signed integer order, by flipping the sign
// bit so negative values sort before positive ones.
func orderPreservingInt64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v)^(1<<63))
	return b[:]
}

// maxExactFloat64Int is the largest magnitude an int64 can have and still
// round-trip through float64 without losing precision.
const maxExactFloat64Int = 1 << 53

// encodeNumberKey encodes a numeric value for the `number` index kind.
// The first 8 bytes are the value widened to float64 and encoded with
// encodeNumericKey, which alone already orders any two numbers correctly
// except when two distinct int64 values are far enough apart (beyond
// 2^53) that float64 can no longer represent them distinctly and they
// widen to the same bit pattern. A second 8-byte field breaks that tie
// with the int64's signed offset from the float64 it widened to: two
// colliding int64 values sort by their true relative order around that
// shared float, and a double that happens to equal the same float lands
// at the offset's zero point, so int64(25) and float64(25) still compare
// equal within the exact range.
func encodeNumberKey(v bson.Value) []byte {
	f := v.AsFloat64()
	primary := encodeNumericKey(f)
	if v.Kind == bson.KindInt64 && (v.Int64 > maxExactFloat64Int || v.Int64 < -maxExactFloat64Int) {
		offset := v.Int64 - int64(f)
		return append(primary, orderPreservingInt64(offset)...)
	}
	return append(primary, orderPreservingInt64(0)...)
}

// foldString applies Unicode simple casefold, used by the `istring` kind
// and by q-gram tokenization, in place of strings.ToLower which is
// ASCII-only and wrong for multi-byte casefold rules (e.g. German ß, or
// Turkish dotless/dotted I).
func foldString(s string) string {
	return foldCaser.String(s)
}

// encodeScalarKey encodes a single leaf value the way the `string`,
// `istring`, and `number` index kinds, and the per-element keys of the
// `array` kind, all use.
func encodeScalarKey(kind Kind, v bson.Value) ([]byte, bool) {
	switch kind {
	case KindString:
		if v.Kind == bson.KindOID {
			return []byte(v.OID.String()), true
		}
		if v.Kind != bson.KindString {
			return nil, false
		}
		return []byte(v.Str), true
	case KindIString:
		if v.Kind != bson.KindString {
			return nil, false
		}
		return []byte(foldString(v.Str)), true
	case KindNumber:
		if !v.IsNumeric() {
			return nil, false
		}
		return encodeNumberKey(v), true
	default:
		return encodeGenericScalar(v)
	}
}

// EncodeQueryKey encodes a query operand the same way a document field
// read as kind would be encoded, so the planner can build lookup/range
// keys that land in the same byte space as the index's own entries.
func EncodeQueryKey(kind Kind, v bson.Value) ([]byte, bool) {
	if kind == KindArray {
		return encodeGenericScalar(v)
	}
	return encodeScalarKey(kind, v)
}

// encodeGenericScalar encodes any indexable scalar kind uniformly, used
// for `array` index elements where the element's own type determines how
// it sorts (numbers among numbers, strings among strings).
func encodeGenericScalar(v bson.Value) ([]byte, bool) {
	switch v.Kind {
	case bson.KindString:
		return append([]byte{'s'}, []byte(v.Str)...), true
	case bson.KindInt64, bson.KindDouble:
		return append([]byte{'n'}, encodeNumericKey(v.AsFloat64())...), true
	case bson.KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{'b', b}, true
	case bson.KindOID:
		return append([]byte{'o'}, v.OID[:]...), true
	case bson.KindDateTime:
		return append([]byte{'d'}, encodeNumericKey(float64(v.DateTime))...), true
	default:
		return nil, false
	}
}
