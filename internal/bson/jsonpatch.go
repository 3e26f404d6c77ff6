package bson

import (
	"strconv"
	"strings"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

// JSONPatchOp is a single RFC 6902 operation, used by DB.Patch and
// DB.PatchUpsert and, through them, by the HTTP gateway's PATCH endpoint.
type JSONPatchOp struct {
	Op    string // add, remove, replace, move, copy, test
	Path  string // JSON Pointer, e.g. "/a/b/0"
	From  string // source pointer for move/copy
	Value Value
}

// ApplyJSONPatch applies a sequence of RFC 6902 operations to a clone of
// base, aborting and returning an error on the first operation that fails
// (a missing path for remove/replace/move/copy, or a failed test). base is
// left untouched either way.
func ApplyJSONPatch(base *Object, ops []JSONPatchOp) (*Object, error) {
	out := base.Clone()
	if out == nil {
		out = NewObject()
	}
	for i, op := range ops {
		if err := applyOneOp(out, op); err != nil {
			return nil, ejerr.Wrap(err, ejerr.InvalidArgument, "bson: json patch failed").
				WithDetail("index", i).WithDetail("op", op.Op)
		}
	}
	return out, nil
}

func applyOneOp(root *Object, op JSONPatchOp) error {
	switch op.Op {
	case "add":
		return pointerSet(root, op.Path, op.Value, true)
	case "replace":
		return pointerSet(root, op.Path, op.Value, false)
	case "remove":
		return pointerRemove(root, op.Path)
	case "test":
		v, ok := pointerGet(root, op.Path)
		if !ok || !ValuesEqual(v, op.Value) {
			return ejerr.New(ejerr.InvalidArgument, "json patch test failed").WithDetail("path", op.Path)
		}
		return nil
	case "copy":
		v, ok := pointerGet(root, op.From)
		if !ok {
			return ejerr.New(ejerr.InvalidArgument, "json patch copy source missing").WithDetail("path", op.From)
		}
		return pointerSet(root, op.Path, v.Clone(), true)
	case "move":
		v, ok := pointerGet(root, op.From)
		if !ok {
			return ejerr.New(ejerr.InvalidArgument, "json patch move source missing").WithDetail("path", op.From)
		}
		if err := pointerRemove(root, op.From); err != nil {
			return err
		}
		return pointerSet(root, op.Path, v, true)
	default:
		return ejerr.New(ejerr.InvalidArgument, "unknown json patch op").WithDetail("op", op.Op)
	}
}

// splitPointer turns an RFC 6901 JSON Pointer into unescaped segments.
func splitPointer(ptr string) []string {
	if ptr == "" || ptr == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		p = strings.ReplaceAll(p, "~0", "~")
		parts[i] = p
	}
	return parts
}

func pointerGet(root *Object, ptr string) (Value, bool) {
	return LookupSegments(ObjectValue(root), splitPointer(ptr))
}

func pointerSet(root *Object, ptr string, v Value, allowAppend bool) error {
	segs := splitPointer(ptr)
	if len(segs) == 0 {
		return ejerr.New(ejerr.InvalidArgument, "cannot replace document root via json patch")
	}
	return pointerSetSegments(root, segs, v, allowAppend)
}

func pointerSetSegments(obj *Object, segs []string, v Value, allowAppend bool) error {
	seg := segs[0]
	if len(segs) == 1 {
		if !allowAppend {
			if _, ok := obj.Get(seg); !ok {
				return ejerr.New(ejerr.InvalidArgument, "path does not exist").WithDetail("segment", seg)
			}
		}
		obj.Set(seg, v)
		return nil
	}
	child, ok := obj.Get(seg)
	if !ok {
		return ejerr.New(ejerr.InvalidArgument, "path does not exist").WithDetail("segment", seg)
	}
	switch child.Kind {
	case KindObject:
		if err := pointerSetSegments(child.Object, segs[1:], v, allowAppend); err != nil {
			return err
		}
		obj.Set(seg, child)
		return nil
	case KindArray:
		arr, err := arraySetSegments(child.Array, segs[1:], v, allowAppend)
		if err != nil {
			return err
		}
		obj.Set(seg, ArrayValue(arr))
		return nil
	default:
		return ejerr.New(ejerr.InvalidArgument, "cannot descend through a leaf value").WithDetail("segment", seg)
	}
}

func arraySetSegments(arr []Value, segs []string, v Value, allowAppend bool) ([]Value, error) {
	seg := segs[0]
	if len(segs) == 1 {
		if seg == "-" {
			if !allowAppend {
				return nil, ejerr.New(ejerr.InvalidArgument, "array append not allowed for this op")
			}
			return append(arr, v), nil
		}
		idx, ok := parseIndex(seg)
		if !ok {
			return nil, ejerr.New(ejerr.InvalidArgument, "invalid array index").WithDetail("segment", seg)
		}
		if allowAppend {
			if idx < 0 || idx > len(arr) {
				return nil, ejerr.New(ejerr.OutOfRange, "array index out of range").WithDetail("index", idx)
			}
			out := make([]Value, 0, len(arr)+1)
			out = append(out, arr[:idx]...)
			out = append(out, v)
			return append(out, arr[idx:]...), nil
		}
		if idx < 0 || idx >= len(arr) {
			return nil, ejerr.New(ejerr.OutOfRange, "array index out of range").WithDetail("index", idx)
		}
		arr[idx] = v
		return arr, nil
	}
	idx, ok := parseIndex(seg)
	if !ok || idx < 0 || idx >= len(arr) {
		return nil, ejerr.New(ejerr.InvalidArgument, "invalid array index").WithDetail("segment", seg)
	}
	child := arr[idx]
	switch child.Kind {
	case KindObject:
		if err := pointerSetSegments(child.Object, segs[1:], v, allowAppend); err != nil {
			return nil, err
		}
	case KindArray:
		sub, err := arraySetSegments(child.Array, segs[1:], v, allowAppend)
		if err != nil {
			return nil, err
		}
		child = ArrayValue(sub)
	default:
		return nil, ejerr.New(ejerr.InvalidArgument, "cannot descend through a leaf value").WithDetail("segment", seg)
	}
	arr[idx] = child
	return arr, nil
}

func pointerRemove(root *Object, ptr string) error {
	segs := splitPointer(ptr)
	if len(segs) == 0 {
		return ejerr.New(ejerr.InvalidArgument, "cannot remove document root via json patch")
	}
	_, err := pointerRemoveSegments(ObjectValue(root), segs)
	return err
}

func pointerRemoveSegments(v Value, segs []string) (Value, error) {
	seg := segs[0]
	switch v.Kind {
	case KindObject:
		if len(segs) == 1 {
			if !v.Object.Delete(seg) {
				return v, ejerr.New(ejerr.InvalidArgument, "path does not exist").WithDetail("segment", seg)
			}
			return v, nil
		}
		child, ok := v.Object.Get(seg)
		if !ok {
			return v, ejerr.New(ejerr.InvalidArgument, "path does not exist").WithDetail("segment", seg)
		}
		updated, err := pointerRemoveSegments(child, segs[1:])
		if err != nil {
			return v, err
		}
		v.Object.Set(seg, updated)
		return v, nil
	case KindArray:
		idx, ok := parseIndex(seg)
		if !ok || idx < 0 || idx >= len(v.Array) {
			return v, ejerr.New(ejerr.InvalidArgument, "invalid array index").WithDetail("segment", seg)
		}
		if len(segs) == 1 {
			v.Array = append(v.Array[:idx], v.Array[idx+1:]...)
			return v, nil
		}
		updated, err := pointerRemoveSegments(v.Array[idx], segs[1:])
		if err != nil {
			return v, err
		}
		v.Array[idx] = updated
		return v, nil
	default:
		return v, ejerr.New(ejerr.InvalidArgument, "cannot descend through a leaf value").WithDetail("segment", seg)
	}
}

// Diff computes the RFC 6902 patch that transforms old into next, using
// replace/add/remove only (no move/copy detection — this is a correctness
// tool used by the package's tests, not a minimal-diff optimizer).
func Diff(old, next *Object) []JSONPatchOp {
	var ops []JSONPatchOp
	diffObjects("", old, next, &ops)
	return ops
}

func diffObjects(prefix string, old, next *Object, ops *[]JSONPatchOp) {
	if old == nil {
		old = NewObject()
	}
	if next == nil {
		next = NewObject()
	}
	for i := 0; i < next.Len(); i++ {
		name, nv := next.At(i)
		path := prefix + "/" + escapePointerSegment(name)
		ov, existed := old.Get(name)
		if !existed {
			*ops = append(*ops, JSONPatchOp{Op: "add", Path: path, Value: nv})
			continue
		}
		diffValues(path, ov, nv, ops)
	}
	for i := 0; i < old.Len(); i++ {
		name, _ := old.At(i)
		if _, ok := next.Get(name); !ok {
			*ops = append(*ops, JSONPatchOp{Op: "remove", Path: prefix + "/" + escapePointerSegment(name)})
		}
	}
}

func diffValues(path string, old, next Value, ops *[]JSONPatchOp) {
	if old.Kind == KindObject && next.Kind == KindObject {
		diffObjects(path, old.Object, next.Object, ops)
		return
	}
	if !ValuesEqual(old, next) {
		*ops = append(*ops, JSONPatchOp{Op: "replace", Path: path, Value: next})
	}
}

func escapePointerSegment(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	s = strings.ReplaceAll(s, "/", "~1")
	return s
}

// arrayIndexPointer builds a pointer to an array element. Nothing in the
// package calls it; Diff only descends into object fields.
func arrayIndexPointer(prefix string, i int) string {
	return prefix + "/" + strconv.Itoa(i)
}
