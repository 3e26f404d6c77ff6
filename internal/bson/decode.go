package bson

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

// Decode parses a complete document from its binary wire form. Truncated
// input, an unknown type tag, or invalid UTF-8 in a key surface as an
// ejerr.Corruption error rather than a panic, so a single bad record never
// brings down a collection scan.
func Decode(data []byte) (*Object, error) {
	d := &decoder{buf: data}
	obj, _, err := d.readObject(0)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

type decoder struct {
	buf []byte
}

func corrupt(format string, args ...any) error {
	return ejerr.Wrap(fmt.Errorf(format, args...), ejerr.Corruption, "bson: corrupt document")
}

func (d *decoder) need(off, n int) error {
	if off < 0 || n < 0 || off+n > len(d.buf) {
		return corrupt("truncated input at offset %d, need %d more bytes", off, n)
	}
	return nil
}

// readObject parses an object starting at off, returning the decoded object
// and the offset immediately after it.
func (d *decoder) readObject(off int) (*Object, int, error) {
	if err := d.need(off, 4); err != nil {
		return nil, 0, err
	}
	length := int(binary.LittleEndian.Uint32(d.buf[off : off+4]))
	if length < 5 {
		return nil, 0, corrupt("object length %d too small", length)
	}
	end := off + length
	if err := d.need(off, length); err != nil {
		return nil, 0, err
	}
	obj := NewObject()
	pos := off + 4
	for pos < end-1 {
		name, v, next, err := d.readElement(pos)
		if err != nil {
			return nil, 0, err
		}
		obj.Set(name, v)
		pos = next
	}
	if d.buf[end-1] != 0 {
		return nil, 0, corrupt("object at offset %d missing terminator", off)
	}
	return obj, end, nil
}

func (d *decoder) readArray(off int) ([]Value, int, error) {
	obj, end, err := d.readObject(off)
	if err != nil {
		return nil, 0, err
	}
	arr := make([]Value, obj.Len())
	for i := 0; i < obj.Len(); i++ {
		_, v := obj.At(i)
		arr[i] = v
	}
	return arr, end, nil
}

func (d *decoder) readElement(off int) (string, Value, int, error) {
	if err := d.need(off, 1); err != nil {
		return "", Value{}, 0, err
	}
	kind := Kind(d.buf[off])
	pos := off + 1
	name, pos, err := d.readCString(pos)
	if err != nil {
		return "", Value{}, 0, err
	}
	if !utf8.ValidString(name) {
		return "", Value{}, 0, corrupt("invalid UTF-8 in key at offset %d", off)
	}
	v, pos, err := d.readPayload(kind, pos)
	if err != nil {
		return "", Value{}, 0, err
	}
	return name, v, pos, nil
}

// readCString reads a raw NUL-terminated string (used for element names,
// not the length-prefixed document strings).
func (d *decoder) readCString(off int) (string, int, error) {
	i := off
	for {
		if err := d.need(i, 1); err != nil {
			return "", 0, corrupt("unterminated name starting at offset %d", off)
		}
		if d.buf[i] == 0 {
			return string(d.buf[off:i]), i + 1, nil
		}
		i++
	}
}

func (d *decoder) readPayload(kind Kind, off int) (Value, int, error) {
	switch kind {
	case KindDouble:
		if err := d.need(off, 8); err != nil {
			return Value{}, 0, err
		}
		bits := binary.LittleEndian.Uint64(d.buf[off : off+8])
		return Value{Kind: KindDouble, Float64: math.Float64frombits(bits)}, off + 8, nil
	case KindInt64:
		if err := d.need(off, 8); err != nil {
			return Value{}, 0, err
		}
		v := int64(binary.LittleEndian.Uint64(d.buf[off : off+8]))
		return Value{Kind: KindInt64, Int64: v}, off + 8, nil
	case KindString:
		s, next, err := d.readLenString(off)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindString, Str: s}, next, nil
	case KindObject:
		obj, next, err := d.readObject(off)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindObject, Object: obj}, next, nil
	case KindArray:
		arr, next, err := d.readArray(off)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindArray, Array: arr}, next, nil
	case KindBinary:
		if err := d.need(off, 4); err != nil {
			return Value{}, 0, err
		}
		length := int(binary.LittleEndian.Uint32(d.buf[off : off+4]))
		if err := d.need(off+4, 1+length); err != nil {
			return Value{}, 0, err
		}
		sub := d.buf[off+4]
		data := make([]byte, length)
		copy(data, d.buf[off+5:off+5+length])
		return Value{Kind: KindBinary, BinSub: sub, Bin: data}, off + 5 + length, nil
	case KindOID:
		if err := d.need(off, 12); err != nil {
			return Value{}, 0, err
		}
		var id OID
		copy(id[:], d.buf[off:off+12])
		return Value{Kind: KindOID, OID: id}, off + 12, nil
	case KindBool:
		if err := d.need(off, 1); err != nil {
			return Value{}, 0, err
		}
		return Value{Kind: KindBool, Bool: d.buf[off] != 0}, off + 1, nil
	case KindDateTime:
		if err := d.need(off, 8); err != nil {
			return Value{}, 0, err
		}
		v := int64(binary.LittleEndian.Uint64(d.buf[off : off+8]))
		return Value{Kind: KindDateTime, DateTime: v}, off + 8, nil
	case KindRegex:
		pattern, next, err := d.readCString(off)
		if err != nil {
			return Value{}, 0, corrupt("malformed regex pattern at offset %d", off)
		}
		flags, next2, err := d.readCString(next)
		if err != nil {
			return Value{}, 0, corrupt("malformed regex flags at offset %d", next)
		}
		return Value{Kind: KindRegex, Regex: Regex{Pattern: pattern, Flags: flags}}, next2, nil
	case KindNull:
		return Value{Kind: KindNull}, off, nil
	case KindUndefined:
		return Value{Kind: KindUndefined}, off, nil
	default:
		return Value{}, 0, corrupt("unknown type tag 0x%02x at offset %d", byte(kind), off-1)
	}
}

func (d *decoder) readLenString(off int) (string, int, error) {
	if err := d.need(off, 4); err != nil {
		return "", 0, err
	}
	length := int(binary.LittleEndian.Uint32(d.buf[off : off+4]))
	if length < 1 {
		return "", 0, corrupt("string length %d invalid at offset %d", length, off)
	}
	if err := d.need(off+4, length); err != nil {
		return "", 0, err
	}
	raw := d.buf[off+4 : off+4+length-1]
	if !utf8.Valid(raw) {
		return "", 0, corrupt("invalid UTF-8 string at offset %d", off)
	}
	return string(raw), off + 4 + length, nil
}
