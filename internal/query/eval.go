package query

import (
	"strings"

	"github.com/jpl-au/ejdb/internal/bson"
)

// evalAtom checks one residual predicate against a loaded document. It is
// always called for every top-level atom, even the one that drove the
// index lookup, since an index's key encoding is a deliberately lossy
// sort order rather than a proof of exact match.
func evalAtom(atom Atom, doc *bson.Object) bool {
	switch atom.Op {
	case OpExists:
		_, ok := bson.Lookup(doc, atom.Path)
		return ok == atom.Value.Bool

	case OpElemMatch:
		v, ok := bson.Lookup(doc, atom.Path)
		if !ok || v.Kind != bson.KindArray {
			return false
		}
		for _, elem := range v.Array {
			if evalElemMatch(atom.Sub, elem) {
				return true
			}
		}
		return false

	case OpNot:
		for _, a := range atom.Sub.Atoms {
			if !evalAtom(a, doc) {
				return true
			}
		}
		return false

	case OpStrand, OpStror:
		v, ok := bson.Lookup(doc, atom.Path)
		if !ok {
			return atom.Op == OpStror && len(atom.Values) == 0
		}
		return evalStrOp(atom.Op, v, atom.Values)

	default:
		v, found := bson.Lookup(doc, atom.Path)
		return evalValueOp(atom, v, found)
	}
}

// evalElemMatch applies a $elemMatch subquery to one array element: full
// field-path matching when the element is itself an object, or direct
// operator evaluation (for the sub's path-less atoms) when it's a scalar.
func evalElemMatch(sub *Query, elem bson.Value) bool {
	if elem.Kind == bson.KindObject {
		return matches(sub, elem.Object)
	}
	for _, atom := range sub.Atoms {
		if atom.Path != "" {
			continue
		}
		if !evalValueOp(atom, elem, true) {
			return false
		}
	}
	return true
}

// evalValueOp tests a single comparison operator against a resolved field
// value. found is false when the path was absent from the document, which
// matters for $ne/$nin (absence counts as "not equal") and every other
// operator (absence never matches).
func evalValueOp(atom Atom, v bson.Value, found bool) bool {
	if found && v.Kind == bson.KindArray {
		switch atom.Op {
		case OpEq:
			return arrayContains(v.Array, atom.Value)
		case OpNe:
			return !arrayContains(v.Array, atom.Value)
		}
	}

	switch atom.Op {
	case OpEq:
		return found && bson.ValuesEqual(v, atom.Value)
	case OpNe:
		return !found || !bson.ValuesEqual(v, atom.Value)
	case OpGt:
		return found && compareValues(v, atom.Value) > 0
	case OpGte:
		return found && compareValues(v, atom.Value) >= 0
	case OpLt:
		return found && compareValues(v, atom.Value) < 0
	case OpLte:
		return found && compareValues(v, atom.Value) <= 0
	case OpBt:
		if !found || len(atom.Values) != 2 {
			return false
		}
		return compareValues(v, atom.Values[0]) >= 0 && compareValues(v, atom.Values[1]) <= 0
	case OpIn:
		if !found {
			return false
		}
		for _, want := range atom.Values {
			if bson.ValuesEqual(v, want) {
				return true
			}
		}
		return false
	case OpNin:
		if !found {
			return true
		}
		for _, want := range atom.Values {
			if bson.ValuesEqual(v, want) {
				return false
			}
		}
		return true
	case OpBegin:
		return found && v.Kind == bson.KindString && strings.HasPrefix(v.Str, atom.Value.Str)
	case OpIcase:
		return found && v.Kind == bson.KindString && strings.EqualFold(v.Str, atom.Value.Str)
	case OpRegex:
		return found && v.Kind == bson.KindString && atom.Regex.MatchString(v.Str)
	default:
		return false
	}
}

// evalStrOp implements $strand/$stror: wants is a set of string (or other
// scalar) tokens that must all (strand) or any (stror) appear in v, which
// may be a plain scalar or an array of tags.
func evalStrOp(op Op, v bson.Value, wants []bson.Value) bool {
	elems := []bson.Value{v}
	if v.Kind == bson.KindArray {
		elems = v.Array
	}
	contains := func(want bson.Value) bool {
		for _, e := range elems {
			if bson.ValuesEqual(e, want) {
				return true
			}
		}
		return false
	}
	if op == OpStrand {
		for _, w := range wants {
			if !contains(w) {
				return false
			}
		}
		return true
	}
	for _, w := range wants {
		if contains(w) {
			return true
		}
	}
	return false
}

func arrayContains(elems []bson.Value, want bson.Value) bool {
	for _, e := range elems {
		if bson.ValuesEqual(e, want) {
			return true
		}
	}
	return false
}
