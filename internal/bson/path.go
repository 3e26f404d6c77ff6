package bson

import "strings"

// SplitPath splits a dotted path into its segments. Numeric segments are
// interpreted as array indices during lookup.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Lookup walks obj along path, stopping on the first missing segment and
// reporting absent (found=false) rather than an error — a missing path is
// not a malformed document.
func Lookup(obj *Object, path string) (Value, bool) {
	return LookupSegments(ObjectValue(obj), SplitPath(path))
}

// LookupSegments is Lookup starting from an arbitrary node, used internally
// to recurse through array elements.
func LookupSegments(v Value, segs []string) (Value, bool) {
	if len(segs) == 0 {
		return v, true
	}
	seg := segs[0]
	rest := segs[1:]
	switch v.Kind {
	case KindObject:
		child, ok := v.Object.Get(seg)
		if !ok {
			return Value{}, false
		}
		return LookupSegments(child, rest)
	case KindArray:
		idx, ok := parseIndex(seg)
		if !ok || idx < 0 || idx >= len(v.Array) {
			return Value{}, false
		}
		return LookupSegments(v.Array[idx], rest)
	default:
		return Value{}, false
	}
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// SetPath creates or replaces the leaf at path, creating intermediate
// objects as needed ($set semantics). The root object is mutated in
// place; callers that need rollback-on-failure should Clone first.
func SetPath(obj *Object, path string, v Value) {
	segs := SplitPath(path)
	setSegments(obj, segs, v)
}

func setSegments(obj *Object, segs []string, v Value) {
	if len(segs) == 1 {
		obj.Set(segs[0], v)
		return
	}
	seg := segs[0]
	child, ok := obj.Get(seg)
	if !ok || child.Kind != KindObject {
		child = ObjectValue(NewObject())
	}
	setSegments(child.Object, segs[1:], v)
	obj.Set(seg, child)
}

// UnsetPath removes the leaf at path if present ($unset semantics).
func UnsetPath(obj *Object, path string) bool {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return false
	}
	return unsetSegments(obj, segs)
}

func unsetSegments(obj *Object, segs []string) bool {
	if obj == nil {
		return false
	}
	if len(segs) == 1 {
		return obj.Delete(segs[0])
	}
	child, ok := obj.Get(segs[0])
	if !ok || child.Kind != KindObject {
		return false
	}
	return unsetSegments(child.Object, segs[1:])
}
