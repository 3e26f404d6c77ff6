package bson

import (
	"encoding/binary"
	"math"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

// Encode serializes a document (always an object at the root) to its binary
// wire form.
func Encode(root *Object) []byte {
	var buf []byte
	buf = appendObject(buf, root)
	return buf
}

// EncodeValue serializes a single value as it would appear as an element
// payload (used by index key encoding and by tests); the root must still be
// wrapped in an Object to be a valid document.
func EncodeValue(v Value) []byte {
	var buf []byte
	return appendValuePayload(buf, v)
}

func appendObject(buf []byte, o *Object) []byte {
	start := len(buf)
	buf = append(buf, 0, 0, 0, 0) // length placeholder
	if o != nil {
		for i := 0; i < o.Len(); i++ {
			name, v := o.At(i)
			buf = appendElement(buf, name, v)
		}
	}
	buf = append(buf, 0) // terminator
	binary.LittleEndian.PutUint32(buf[start:start+4], uint32(len(buf)-start))
	return buf
}

func appendArray(buf []byte, arr []Value) []byte {
	start := len(buf)
	buf = append(buf, 0, 0, 0, 0)
	for i, v := range arr {
		buf = appendElement(buf, itoa(i), v)
	}
	buf = append(buf, 0)
	binary.LittleEndian.PutUint32(buf[start:start+4], uint32(len(buf)-start))
	return buf
}

func appendElement(buf []byte, name string, v Value) []byte {
	buf = append(buf, byte(v.Kind))
	buf = append(buf, name...)
	buf = append(buf, 0)
	return appendValuePayload(buf, v)
}

func appendValuePayload(buf []byte, v Value) []byte {
	switch v.Kind {
	case KindDouble:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Float64))
		return append(buf, b[:]...)
	case KindInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.Int64))
		return append(buf, b[:]...)
	case KindString:
		return appendCString4(buf, v.Str)
	case KindObject:
		return appendObject(buf, v.Object)
	case KindArray:
		return appendArray(buf, v.Array)
	case KindBinary:
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(v.Bin)))
		buf = append(buf, lb[:]...)
		buf = append(buf, v.BinSub)
		return append(buf, v.Bin...)
	case KindOID:
		return append(buf, v.OID[:]...)
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return append(buf, b)
	case KindDateTime:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.DateTime))
		return append(buf, b[:]...)
	case KindRegex:
		buf = append(buf, v.Regex.Pattern...)
		buf = append(buf, 0)
		buf = append(buf, v.Regex.Flags...)
		return append(buf, 0)
	case KindNull, KindUndefined:
		return buf
	default:
		panic(ejerr.New(ejerr.Corruption, "bson: unknown type tag during encode").
			WithDetail("kind", v.Kind.String()))
	}
}

// appendCString4 writes a BSON-style length-prefixed string: a 4-byte
// little-endian length that includes the trailing NUL, followed by the
// UTF-8 bytes and the NUL.
func appendCString4(buf []byte, s string) []byte {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(s)+1))
	buf = append(buf, lb[:]...)
	buf = append(buf, s...)
	return append(buf, 0)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	pos := len(b)
	n := i
	for n > 0 {
		pos--
		b[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(b[pos:])
}
