package bson

import (
	"bytes"
	"encoding/base64"

	json "github.com/goccy/go-json"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

// ToJSON renders a document as a JSON value using the conventional
// extended-type wrappers ($oid, $binary, $date, $regex) for values JSON
// cannot represent natively. It is used by the catalog meta-document and
// the HTTP gateway, not by the engine's own storage path.
func ToJSON(obj *Object) ([]byte, error) {
	v := toJSONValue(ObjectValue(obj))
	b, err := json.Marshal(v)
	if err != nil {
		return nil, ejerr.Wrap(err, ejerr.Corruption, "bson: json marshal failed")
	}
	return b, nil
}

func toJSONValue(v Value) any {
	switch v.Kind {
	case KindDouble:
		return v.Float64
	case KindInt64:
		return v.Int64
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindNull, KindUndefined:
		return nil
	case KindOID:
		return map[string]string{"$oid": v.OID.String()}
	case KindDateTime:
		return map[string]int64{"$date": v.DateTime}
	case KindBinary:
		return map[string]any{"$binary": v.Bin, "$subtype": v.BinSub}
	case KindRegex:
		return map[string]string{"$regex": v.Regex.Pattern, "$options": v.Regex.Flags}
	case KindArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			out[i] = toJSONValue(e)
		}
		return out
	case KindObject:
		out := make(map[string]any, v.Object.Len())
		for i := 0; i < v.Object.Len(); i++ {
			name, cv := v.Object.At(i)
			out[name] = toJSONValue(cv)
		}
		return out
	default:
		return nil
	}
}

// FromJSON parses a JSON document into the engine's tree form, interpreting
// the same extended-type wrappers ToJSON emits. Plain JSON numbers decode
// to KindInt64 when integral and representable, otherwise KindDouble.
func FromJSON(data []byte) (*Object, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, ejerr.Wrap(err, ejerr.InvalidArgument, "bson: invalid JSON document")
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, ejerr.New(ejerr.InvalidArgument, "bson: JSON document must be an object")
	}
	return fromJSONObject(m)
}

func fromJSONObject(m map[string]any) (*Object, error) {
	obj := NewObject()
	for k, rv := range m {
		v, err := fromJSONValue(rv)
		if err != nil {
			return nil, err
		}
		obj.Set(k, v)
	}
	return obj, nil
}

func fromJSONValue(rv any) (Value, error) {
	switch t := rv.(type) {
	case nil:
		return Null(), nil
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int64Value(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, ejerr.Wrap(err, ejerr.InvalidArgument, "bson: invalid JSON number")
		}
		return DoubleValue(f), nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			v, err := fromJSONValue(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return ArrayValue(arr), nil
	case map[string]any:
		if oid, ok := t["$oid"].(string); ok && len(t) == 1 {
			id, err := ParseOID(oid)
			if err != nil {
				return Value{}, ejerr.Wrap(err, ejerr.InvalidArgument, "bson: invalid $oid")
			}
			return OIDValue(id), nil
		}
		if ts, ok := t["$date"]; ok && len(t) == 1 {
			ms, err := toInt64(ts)
			if err != nil {
				return Value{}, err
			}
			return DateTimeValue(ms), nil
		}
		if b64, ok := t["$binary"].(string); ok {
			data, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return Value{}, ejerr.Wrap(err, ejerr.InvalidArgument, "bson: invalid $binary")
			}
			var sub byte
			if s, ok := t["$subtype"]; ok {
				n, err := toInt64(s)
				if err != nil {
					return Value{}, err
				}
				sub = byte(n)
			}
			return Value{Kind: KindBinary, Bin: data, BinSub: sub}, nil
		}
		if pattern, ok := t["$regex"].(string); ok {
			flags, _ := t["$options"].(string)
			return Value{Kind: KindRegex, Regex: Regex{Pattern: pattern, Flags: flags}}, nil
		}
		obj, err := fromJSONObject(t)
		if err != nil {
			return Value{}, err
		}
		return ObjectValue(obj), nil
	default:
		return Value{}, ejerr.New(ejerr.InvalidArgument, "bson: unsupported JSON value type")
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Int64()
	case float64:
		return int64(t), nil
	default:
		return 0, ejerr.New(ejerr.InvalidArgument, "bson: $date value must be a number")
	}
}
