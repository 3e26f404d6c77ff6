package bson

import "github.com/jpl-au/ejdb/internal/ejerr"

// Patch is a set of update operators applied atomically to a document:
// $set, $unset, $inc, $push, $pull, $addToSet, $rename. Each map is keyed
// by dotted field path; $rename's value is the destination path.
type Patch struct {
	Set      *Object
	Unset    []string
	Inc      map[string]Value
	Push     map[string]Value
	Pull     map[string]Value
	AddToSet map[string]Value
	Rename   map[string]string
}

// IsEmpty reports whether the patch has no operators at all, which the
// planner treats as a validation error rather than a silent no-op.
func (p *Patch) IsEmpty() bool {
	if p == nil {
		return true
	}
	return (p.Set == nil || p.Set.Len() == 0) && len(p.Unset) == 0 &&
		len(p.Inc) == 0 && len(p.Push) == 0 && len(p.Pull) == 0 &&
		len(p.AddToSet) == 0 && len(p.Rename) == 0
}

// ApplyPatch applies p to a clone of base and returns the resulting
// document, leaving base untouched. On any failure (type mismatch, numeric
// overflow) it returns an error and no partial mutation is visible to the
// caller since it was operating on the clone.
func ApplyPatch(base *Object, p *Patch) (*Object, error) {
	out := base.Clone()
	if out == nil {
		out = NewObject()
	}

	if p.Set != nil {
		for i := 0; i < p.Set.Len(); i++ {
			name, v := p.Set.At(i)
			SetPath(out, name, v)
		}
	}
	for _, path := range p.Unset {
		UnsetPath(out, path)
	}
	for path, delta := range p.Inc {
		if err := applyInc(out, path, delta); err != nil {
			return nil, err
		}
	}
	for path, elem := range p.Push {
		applyPush(out, path, elem)
	}
	for path, elem := range p.Pull {
		applyPull(out, path, elem)
	}
	for path, elem := range p.AddToSet {
		applyAddToSet(out, path, elem)
	}
	for from, to := range p.Rename {
		if v, ok := Lookup(out, from); ok {
			UnsetPath(out, from)
			SetPath(out, to, v)
		}
	}
	return out, nil
}

func applyInc(obj *Object, path string, delta Value) error {
	if !delta.IsNumeric() {
		return ejerr.New(ejerr.InvalidArgument, "$inc requires a numeric operand").WithDetail("path", path)
	}
	cur, ok := Lookup(obj, path)
	if !ok {
		SetPath(obj, path, delta)
		return nil
	}
	if !cur.IsNumeric() {
		return ejerr.New(ejerr.InvalidArgument, "$inc target is not numeric").WithDetail("path", path)
	}
	if cur.Kind == KindInt64 && delta.Kind == KindInt64 {
		sum := cur.Int64 + delta.Int64
		// Overflow check: same-signed operands whose sum's sign flips.
		if (delta.Int64 > 0 && sum < cur.Int64) || (delta.Int64 < 0 && sum > cur.Int64) {
			return ejerr.New(ejerr.OutOfRange, "$inc overflowed int64").WithDetail("path", path)
		}
		SetPath(obj, path, Int64Value(sum))
		return nil
	}
	SetPath(obj, path, DoubleValue(cur.AsFloat64()+delta.AsFloat64()))
	return nil
}

func applyPush(obj *Object, path string, elem Value) {
	cur, ok := Lookup(obj, path)
	var arr []Value
	if ok && cur.Kind == KindArray {
		arr = cur.Array
	}
	arr = append(arr, elem)
	SetPath(obj, path, ArrayValue(arr))
}

func applyAddToSet(obj *Object, path string, elem Value) {
	cur, ok := Lookup(obj, path)
	var arr []Value
	if ok && cur.Kind == KindArray {
		arr = cur.Array
	}
	for _, e := range arr {
		if ValuesEqual(e, elem) {
			return
		}
	}
	arr = append(arr, elem)
	SetPath(obj, path, ArrayValue(arr))
}

func applyPull(obj *Object, path string, elem Value) {
	cur, ok := Lookup(obj, path)
	if !ok || cur.Kind != KindArray {
		return
	}
	out := cur.Array[:0:0]
	for _, e := range cur.Array {
		if !ValuesEqual(e, elem) {
			out = append(out, e)
		}
	}
	SetPath(obj, path, ArrayValue(out))
}

// ValuesEqual compares two leaves (and, recursively, objects/arrays) for
// deep equality under the engine's type rules: an int64 and a double with
// the same numeric reading are equal, matching the `number` index's
// cross-type ordering.
func ValuesEqual(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return a.AsFloat64() == b.AsFloat64()
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindString:
		return a.Str == b.Str
	case KindBool:
		return a.Bool == b.Bool
	case KindOID:
		return a.OID == b.OID
	case KindDateTime:
		return a.DateTime == b.DateTime
	case KindNull, KindUndefined:
		return true
	case KindBinary:
		if len(a.Bin) != len(b.Bin) {
			return false
		}
		for i := range a.Bin {
			if a.Bin[i] != b.Bin[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !ValuesEqual(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if a.Object.Len() != b.Object.Len() {
			return false
		}
		for i := 0; i < a.Object.Len(); i++ {
			name, av := a.Object.At(i)
			bv, ok := b.Object.Get(name)
			if !ok || !ValuesEqual(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
