// Package bson implements the engine's self-describing binary document
// codec: a length-prefixed, typed tree format used for every document the
// engine stores, plus path lookup, deep-merge patch application, and a JSON
// convenience mapping for the catalog meta-document and the HTTP gateway.
//
// Each element is a one-byte type tag, a NUL-terminated field name, and a
// type-specific payload. Objects and arrays are themselves length-prefixed
// element lists terminated by a zero byte; arrays use decimal-string
// indices as field names.
package bson

import "fmt"

// Kind identifies the type of a decoded leaf or interior node.
type Kind byte

const (
	KindDouble    Kind = 0x01
	KindString    Kind = 0x02
	KindObject    Kind = 0x03
	KindArray     Kind = 0x04
	KindBinary    Kind = 0x05
	KindUndefined Kind = 0x06
	KindOID       Kind = 0x07
	KindBool      Kind = 0x08
	KindDateTime  Kind = 0x09
	KindNull      Kind = 0x0A
	KindRegex     Kind = 0x0B
	KindInt64     Kind = 0x12
)

func (k Kind) String() string {
	switch k {
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindBinary:
		return "binary"
	case KindUndefined:
		return "undefined"
	case KindOID:
		return "objectid"
	case KindBool:
		return "bool"
	case KindDateTime:
		return "datetime"
	case KindNull:
		return "null"
	case KindRegex:
		return "regex"
	case KindInt64:
		return "int64"
	default:
		return fmt.Sprintf("kind(0x%02x)", byte(k))
	}
}

// Regex is a pattern plus flag string, e.g. case-insensitive "i".
type Regex struct {
	Pattern string
	Flags   string
}

// Value is a decoded node in a document tree: either a typed leaf or an
// interior Object/Array node. Only the fields relevant to Kind are
// meaningful. The zero Value has Kind 0, which is not a valid kind; use
// Null() for a null value.
type Value struct {
	Kind     Kind
	Int64    int64
	Float64  float64
	Str      string
	Bool     bool
	Bin      []byte
	BinSub   byte
	OID      OID
	DateTime int64
	Regex    Regex
	Object   *Object
	Array    []Value
}

// Null returns the null leaf value.
func Null() Value { return Value{Kind: KindNull} }

// Undefined returns the undefined leaf value.
func Undefined() Value { return Value{Kind: KindUndefined} }

// Int64Value builds an integer leaf.
func Int64Value(v int64) Value { return Value{Kind: KindInt64, Int64: v} }

// DoubleValue builds a double leaf.
func DoubleValue(v float64) Value { return Value{Kind: KindDouble, Float64: v} }

// StringValue builds a string leaf.
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// BoolValue builds a boolean leaf.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// OIDValue builds an object-identifier leaf.
func OIDValue(id OID) Value { return Value{Kind: KindOID, OID: id} }

// DateTimeValue builds a millisecond-epoch timestamp leaf.
func DateTimeValue(ms int64) Value { return Value{Kind: KindDateTime, DateTime: ms} }

// ObjectValue wraps an Object node.
func ObjectValue(o *Object) Value { return Value{Kind: KindObject, Object: o} }

// ArrayValue wraps an element slice as an Array node.
func ArrayValue(elems []Value) Value { return Value{Kind: KindArray, Array: elems} }

// IsNumeric reports whether the value is an int64 or double leaf, the two
// kinds the `number` index and `$inc` accept.
func (v Value) IsNumeric() bool {
	return v.Kind == KindInt64 || v.Kind == KindDouble
}

// AsFloat64 returns the value's numeric reading, widening int64 to float64.
// Only valid when IsNumeric is true.
func (v Value) AsFloat64() float64 {
	if v.Kind == KindInt64 {
		return float64(v.Int64)
	}
	return v.Float64
}

// Object is an ordered string-keyed mapping, preserving insertion order so
// that encode(decode(x)) reproduces x's field order exactly (round-trip law
// L1).
type Object struct {
	keys []string
	vals []Value
	idx  map[string]int
}

// NewObject returns an empty ordered object.
func NewObject() *Object {
	return &Object{idx: make(map[string]int)}
}

// Len returns the number of fields.
func (o *Object) Len() int { return len(o.keys) }

// Keys returns the field names in insertion order. The returned slice must
// not be mutated.
func (o *Object) Keys() []string { return o.keys }

// Get returns the value stored under key and whether it was present.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	i, ok := o.idx[key]
	if !ok {
		return Value{}, false
	}
	return o.vals[i], true
}

// At returns the i-th field's name and value in insertion order.
func (o *Object) At(i int) (string, Value) {
	return o.keys[i], o.vals[i]
}

// Set inserts or overwrites a field, preserving the original position for
// an overwrite and appending for a new key.
func (o *Object) Set(key string, v Value) {
	if o.idx == nil {
		o.idx = make(map[string]int)
	}
	if i, ok := o.idx[key]; ok {
		o.vals[i] = v
		return
	}
	o.idx[key] = len(o.keys)
	o.keys = append(o.keys, key)
	o.vals = append(o.vals, v)
}

// Delete removes a field if present, preserving relative order of the rest.
func (o *Object) Delete(key string) bool {
	i, ok := o.idx[key]
	if !ok {
		return false
	}
	o.keys = append(o.keys[:i], o.keys[i+1:]...)
	o.vals = append(o.vals[:i], o.vals[i+1:]...)
	delete(o.idx, key)
	for k, v := range o.idx {
		if v > i {
			o.idx[k] = v - 1
		}
	}
	return true
}

// Clone deep-copies the object, used before mutating in place during merge
// so that a failed patch leaves the caller's original document untouched.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	n := &Object{
		keys: append([]string(nil), o.keys...),
		vals: make([]Value, len(o.vals)),
		idx:  make(map[string]int, len(o.idx)),
	}
	for k, v := range o.idx {
		n.idx[k] = v
	}
	for i, v := range o.vals {
		n.vals[i] = v.Clone()
	}
	return n
}

// Clone deep-copies a Value, recursing into Object/Array children.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindObject:
		v.Object = v.Object.Clone()
	case KindArray:
		arr := make([]Value, len(v.Array))
		for i, e := range v.Array {
			arr[i] = e.Clone()
		}
		v.Array = arr
	case KindBinary:
		b := make([]byte, len(v.Bin))
		copy(b, v.Bin)
		v.Bin = b
	}
	return v
}
