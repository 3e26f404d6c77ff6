// Package query implements the condition-tree parser, index-aware planner,
// and streaming executor that back the engine's exec() operation: parse a
// query document into atoms and combinators, choose at most one driving
// index per AND scope, stream candidate locators, evaluate residual
// predicates, and apply the requested action (select, update, delete,
// upsert).
package query

import (
	"regexp"
	"strings"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/ejerr"
)

// Op identifies a comparison or structural operator usable inside a
// field-path predicate.
type Op int

const (
	OpEq Op = iota
	OpGt
	OpGte
	OpLt
	OpLte
	OpBt
	OpNe
	OpIn
	OpNin
	OpBegin
	OpIcase
	OpRegex
	OpExists
	OpElemMatch
	OpNot
	OpStrand
	OpStror
)

// Atom is one field-path predicate: `{path: scalar}` or
// `{path: {$op: operand}}`.
type Atom struct {
	Path   string
	Op     Op
	Value  bson.Value
	Values []bson.Value
	Regex  *regexp.Regexp
	Sub    *Query
}

// OrderKey is one `$orderby` sort key.
type OrderKey struct {
	Path string
	Desc bool
}

// Hints carries the non-predicate directives that shape result delivery:
// sort order, pagination, projection, and count-only mode.
type Hints struct {
	OrderBy   []OrderKey
	Skip      int
	Limit     int
	HasLimit  bool
	Fields    map[string]bool
	HasFields bool
	OnlyCount bool
}

// Query is a parsed condition tree plus any update/hint directives found
// alongside it in the same query document.
type Query struct {
	Atoms   []Atom
	Or      []*Query
	Patch   *bson.Patch
	Upsert  *bson.Object
	DropAll bool
	Hints   Hints
}

// HasPatch reports whether the query carries an update directive.
func (q *Query) HasPatch() bool { return q.Patch != nil && !q.Patch.IsEmpty() }

// Parse parses a top-level query document: field-path predicates,
// `$or`/`$and` combinators, update directives (`$set`, `$inc`, `$unset`,
// `$push`, `$pull`, `$addToSet`, `$rename`), `$dropall`, `$upsert`, and
// hints (`$orderby`, `$skip`, `$limit`, `$fields`, `$onlycount`).
func Parse(doc *bson.Object) (*Query, error) {
	q := &Query{}
	patch := &bson.Patch{}
	havePatch := false

	for i := 0; i < doc.Len(); i++ {
		key, v := doc.At(i)
		switch key {
		case "$or":
			subs, err := parseOrArray(v)
			if err != nil {
				return nil, err
			}
			q.Or = append(q.Or, subs...)
		case "$and":
			if v.Kind != bson.KindArray {
				return nil, invalidQuery("$and requires an array of subqueries")
			}
			for _, elem := range v.Array {
				if elem.Kind != bson.KindObject {
					return nil, invalidQuery("$and elements must be objects")
				}
				sub, err := parsePredicatesOnly(elem.Object)
				if err != nil {
					return nil, err
				}
				q.Atoms = append(q.Atoms, sub.Atoms...)
				q.Or = append(q.Or, sub.Or...)
			}
		case "$set":
			if v.Kind != bson.KindObject {
				return nil, invalidQuery("$set requires an object")
			}
			patch.Set = v.Object
			havePatch = true
		case "$inc":
			m, err := objectToValueMap(v)
			if err != nil {
				return nil, err
			}
			patch.Inc = m
			havePatch = true
		case "$unset":
			list, err := pathList(v)
			if err != nil {
				return nil, err
			}
			patch.Unset = append(patch.Unset, list...)
			havePatch = true
		case "$push":
			m, err := objectToValueMap(v)
			if err != nil {
				return nil, err
			}
			patch.Push = m
			havePatch = true
		case "$pull":
			m, err := objectToValueMap(v)
			if err != nil {
				return nil, err
			}
			patch.Pull = m
			havePatch = true
		case "$addToSet":
			m, err := objectToValueMap(v)
			if err != nil {
				return nil, err
			}
			patch.AddToSet = m
			havePatch = true
		case "$rename":
			if v.Kind != bson.KindObject {
				return nil, invalidQuery("$rename requires an object")
			}
			m := make(map[string]string, v.Object.Len())
			for i := 0; i < v.Object.Len(); i++ {
				from, to := v.Object.At(i)
				if to.Kind != bson.KindString {
					return nil, invalidQuery("$rename destination must be a string")
				}
				m[from] = to.Str
			}
			patch.Rename = m
			havePatch = true
		case "$dropall":
			q.DropAll = v.Kind == bson.KindBool && v.Bool
		case "$upsert":
			if v.Kind != bson.KindObject {
				return nil, invalidQuery("$upsert requires an object")
			}
			q.Upsert = v.Object
		case "$orderby":
			ob, err := parseOrderBy(v)
			if err != nil {
				return nil, err
			}
			q.Hints.OrderBy = ob
		case "$skip":
			q.Hints.Skip = intFromValue(v)
		case "$limit":
			q.Hints.Limit = intFromValue(v)
			q.Hints.HasLimit = true
		case "$fields":
			fields, err := parseFields(v)
			if err != nil {
				return nil, err
			}
			q.Hints.Fields = fields
			q.Hints.HasFields = true
		case "$onlycount":
			q.Hints.OnlyCount = v.Kind == bson.KindBool && v.Bool
		default:
			atoms, err := parseFieldPredicate(key, v)
			if err != nil {
				return nil, err
			}
			q.Atoms = append(q.Atoms, atoms...)
		}
	}
	if havePatch {
		q.Patch = patch
	}
	return q, nil
}

// parsePredicatesOnly parses an object that may only contain field-path
// predicates and nested `$or`/`$and` — no update directives or hints, the
// shape of a `$or`/`$and` branch or an `$elemMatch` subquery.
func parsePredicatesOnly(doc *bson.Object) (*Query, error) {
	q := &Query{}
	for i := 0; i < doc.Len(); i++ {
		key, v := doc.At(i)
		switch key {
		case "$or":
			subs, err := parseOrArray(v)
			if err != nil {
				return nil, err
			}
			q.Or = append(q.Or, subs...)
		case "$and":
			if v.Kind != bson.KindArray {
				return nil, invalidQuery("$and requires an array of subqueries")
			}
			for _, elem := range v.Array {
				if elem.Kind != bson.KindObject {
					return nil, invalidQuery("$and elements must be objects")
				}
				sub, err := parsePredicatesOnly(elem.Object)
				if err != nil {
					return nil, err
				}
				q.Atoms = append(q.Atoms, sub.Atoms...)
				q.Or = append(q.Or, sub.Or...)
			}
		default:
			if strings.HasPrefix(key, "$") {
				return nil, invalidQuery("directive not allowed in this position").WithDetail("key", key)
			}
			atoms, err := parseFieldPredicate(key, v)
			if err != nil {
				return nil, err
			}
			q.Atoms = append(q.Atoms, atoms...)
		}
	}
	return q, nil
}

func parseOrArray(v bson.Value) ([]*Query, error) {
	if v.Kind != bson.KindArray {
		return nil, invalidQuery("$or requires an array of subqueries")
	}
	out := make([]*Query, 0, len(v.Array))
	for _, elem := range v.Array {
		if elem.Kind != bson.KindObject {
			return nil, invalidQuery("$or elements must be objects")
		}
		sub, err := parsePredicatesOnly(elem.Object)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// parseFieldPredicate builds the Atom(s) a single `{path: ...}` entry
// contributes. A bare scalar (or object/array literal without any `$`
// keys) is an equality test; an object whose keys are all operators
// yields one Atom per operator, implicitly AND'd.
func parseFieldPredicate(path string, v bson.Value) ([]Atom, error) {
	if v.Kind != bson.KindObject || v.Object.Len() == 0 || !isOperatorObject(v.Object) {
		return []Atom{{Path: path, Op: OpEq, Value: v}}, nil
	}

	var atoms []Atom
	for i := 0; i < v.Object.Len(); i++ {
		opKey, opVal := v.Object.At(i)
		atom := Atom{Path: path}
		switch opKey {
		case "$eq":
			atom.Op, atom.Value = OpEq, opVal
		case "$gt":
			atom.Op, atom.Value = OpGt, opVal
		case "$gte":
			atom.Op, atom.Value = OpGte, opVal
		case "$lt":
			atom.Op, atom.Value = OpLt, opVal
		case "$lte":
			atom.Op, atom.Value = OpLte, opVal
		case "$ne":
			atom.Op, atom.Value = OpNe, opVal
		case "$bt":
			if opVal.Kind != bson.KindArray || len(opVal.Array) != 2 {
				return nil, invalidQuery("$bt requires a 2-element array").WithDetail("path", path)
			}
			atom.Op, atom.Values = OpBt, opVal.Array
		case "$in":
			if opVal.Kind != bson.KindArray {
				return nil, invalidQuery("$in requires an array").WithDetail("path", path)
			}
			atom.Op, atom.Values = OpIn, opVal.Array
		case "$nin":
			if opVal.Kind != bson.KindArray {
				return nil, invalidQuery("$nin requires an array").WithDetail("path", path)
			}
			atom.Op, atom.Values = OpNin, opVal.Array
		case "$begin":
			if opVal.Kind != bson.KindString {
				return nil, invalidQuery("$begin requires a string").WithDetail("path", path)
			}
			atom.Op, atom.Value = OpBegin, opVal
		case "$icase":
			if opVal.Kind != bson.KindString {
				return nil, invalidQuery("$icase requires a string").WithDetail("path", path)
			}
			atom.Op, atom.Value = OpIcase, opVal
		case "$regex":
			if opVal.Kind != bson.KindString {
				return nil, invalidQuery("$regex requires a string").WithDetail("path", path)
			}
			re, err := regexp.Compile(opVal.Str)
			if err != nil {
				return nil, ejerr.Wrap(err, ejerr.InvalidQuery, "query: invalid regex").WithDetail("path", path)
			}
			atom.Op, atom.Regex = OpRegex, re
		case "$exists":
			if opVal.Kind != bson.KindBool {
				return nil, invalidQuery("$exists requires a bool").WithDetail("path", path)
			}
			atom.Op, atom.Value = OpExists, opVal
		case "$elemMatch":
			if opVal.Kind != bson.KindObject {
				return nil, invalidQuery("$elemMatch requires an object").WithDetail("path", path)
			}
			sub, err := parsePredicatesOnly(opVal.Object)
			if err != nil {
				return nil, err
			}
			atom.Op, atom.Sub = OpElemMatch, sub
		case "$not":
			negated, err := parseFieldPredicate(path, opVal)
			if err != nil {
				return nil, err
			}
			atom.Op, atom.Sub = OpNot, &Query{Atoms: negated}
		case "$strand":
			if opVal.Kind != bson.KindArray {
				return nil, invalidQuery("$strand requires an array").WithDetail("path", path)
			}
			atom.Op, atom.Values = OpStrand, opVal.Array
		case "$stror":
			if opVal.Kind != bson.KindArray {
				return nil, invalidQuery("$stror requires an array").WithDetail("path", path)
			}
			atom.Op, atom.Values = OpStror, opVal.Array
		default:
			return nil, invalidQuery("unknown query operator").WithDetail("operator", opKey)
		}
		atoms = append(atoms, atom)
	}
	return atoms, nil
}

func isOperatorObject(o *bson.Object) bool {
	for i := 0; i < o.Len(); i++ {
		k, _ := o.At(i)
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func objectToValueMap(v bson.Value) (map[string]bson.Value, error) {
	if v.Kind != bson.KindObject {
		return nil, invalidQuery("expected an object of path -> value")
	}
	m := make(map[string]bson.Value, v.Object.Len())
	for i := 0; i < v.Object.Len(); i++ {
		k, val := v.Object.At(i)
		m[k] = val
	}
	return m, nil
}

func pathList(v bson.Value) ([]string, error) {
	switch v.Kind {
	case bson.KindArray:
		out := make([]string, 0, len(v.Array))
		for _, e := range v.Array {
			if e.Kind != bson.KindString {
				return nil, invalidQuery("$unset array entries must be strings")
			}
			out = append(out, e.Str)
		}
		return out, nil
	case bson.KindObject:
		out := make([]string, 0, v.Object.Len())
		for i := 0; i < v.Object.Len(); i++ {
			k, _ := v.Object.At(i)
			out = append(out, k)
		}
		return out, nil
	default:
		return nil, invalidQuery("$unset requires an array or object")
	}
}

func parseOrderBy(v bson.Value) ([]OrderKey, error) {
	if v.Kind != bson.KindObject {
		return nil, invalidQuery("$orderby requires an object")
	}
	out := make([]OrderKey, 0, v.Object.Len())
	for i := 0; i < v.Object.Len(); i++ {
		path, dir := v.Object.At(i)
		if !dir.IsNumeric() {
			return nil, invalidQuery("$orderby direction must be 1 or -1").WithDetail("path", path)
		}
		out = append(out, OrderKey{Path: path, Desc: dir.AsFloat64() < 0})
	}
	return out, nil
}

func parseFields(v bson.Value) (map[string]bool, error) {
	if v.Kind != bson.KindObject {
		return nil, invalidQuery("$fields requires an object")
	}
	out := make(map[string]bool, v.Object.Len())
	for i := 0; i < v.Object.Len(); i++ {
		path, mode := v.Object.At(i)
		if !mode.IsNumeric() {
			return nil, invalidQuery("$fields mode must be 0 or 1").WithDetail("path", path)
		}
		out[path] = mode.AsFloat64() != 0
	}
	return out, nil
}

func intFromValue(v bson.Value) int {
	if v.IsNumeric() {
		return int(v.AsFloat64())
	}
	return 0
}

func invalidQuery(msg string) *ejerr.Error {
	return ejerr.New(ejerr.InvalidQuery, "query: "+msg)
}
