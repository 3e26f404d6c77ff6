package query

import (
	"regexp/syntax"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/index"
)

// source scores: unique eq=1, non-unique eq=5, range=10, prefix=20,
// in=30*cardinality, token/qgram=40. Lower is better; ties are broken by
// declaration order among the query's atoms.
const (
	scoreUniqueEq = 1
	scoreEq       = 5
	scoreRange    = 10
	scorePrefix   = 20
	scoreInBase   = 30
	scoreToken    = 40
	scoreNone     = 1 << 30
)

// Driving describes the index chosen to produce the initial candidate
// stream for an AND scope. A nil Driving means a full collection scan.
type Driving struct {
	Path  string
	Kind  index.Kind
	Eq    [][]byte // equality/$in: one or more exact keys
	From  []byte   // range/prefix lower bound, nil = unbounded
	To    []byte   // range/prefix upper bound, nil = unbounded
	Desc  bool
	Grams [][]byte // qgram: every posting must carry all of these keys (AND)
}

// Plan is the chosen execution strategy for one query: a driving source
// (or full scan) for the top-level AND scope, a sub-plan per `$or`
// branch, and the residual predicates every candidate must still satisfy.
type Plan struct {
	Collection string
	Driving    *Driving
	Residual   []Atom // every top-level atom, re-checked regardless of Driving
	OrPlans    []*Plan
	Query      *Query
	Trace      []string
}

// Build chooses a plan for q against collection, consulting idx for the
// indexes available on the paths q's atoms reference.
func Build(collection string, q *Query, idx *index.Manager) *Plan {
	p := &Plan{Collection: collection, Residual: q.Atoms, Query: q}
	defs := idx.Definitions(collection)

	best := scoreNone
	for _, atom := range q.Atoms {
		d, score, ok := planAtom(atom, defs)
		if !ok || score >= best {
			continue
		}
		best = score
		p.Driving = d
	}
	if p.Driving != nil {
		p.Trace = append(p.Trace, traceIndex(p.Driving))
	} else {
		p.Trace = append(p.Trace, "full collection scan")
	}

	for _, branch := range q.Or {
		p.OrPlans = append(p.OrPlans, Build(collection, branch, idx))
	}
	return p
}

func traceIndex(d *Driving) string {
	return "driving index " + d.Path + " (" + string(d.Kind) + ")"
}

// planAtom returns the Driving source this atom would use (if any index
// on its path supports its operator) and the score that source earns.
func planAtom(atom Atom, defs []index.IndexInfo) (*Driving, int, bool) {
	matches := func(pred func(index.IndexInfo) bool) (index.IndexInfo, bool) {
		for _, d := range defs {
			if d.Path == atom.Path && pred(d) {
				return d, true
			}
		}
		return index.IndexInfo{}, false
	}

	switch atom.Op {
	case OpEq:
		def, ok := matches(func(d index.IndexInfo) bool { return d.Kind != index.KindQGram })
		if !ok {
			return nil, 0, false
		}
		key, ok := encodeAtomValue(def.Kind, atom.Value)
		if !ok {
			return nil, 0, false
		}
		score := scoreEq
		if def.Unique {
			score = scoreUniqueEq
		}
		return &Driving{Path: def.Path, Kind: def.Kind, Eq: [][]byte{key}}, score, true

	case OpGt, OpGte, OpLt, OpLte, OpBt:
		def, ok := matches(func(d index.IndexInfo) bool { return d.Kind == index.KindNumber || d.Kind == index.KindString })
		if !ok {
			return nil, 0, false
		}
		from, to := rangeBounds(def.Kind, atom)
		return &Driving{Path: def.Path, Kind: def.Kind, From: from, To: to}, scoreRange, true

	case OpBegin:
		def, ok := matches(func(d index.IndexInfo) bool { return d.Kind == index.KindString || d.Kind == index.KindIString })
		if !ok {
			return nil, 0, false
		}
		from, ok := encodeAtomValue(def.Kind, atom.Value)
		if !ok {
			return nil, 0, false
		}
		to := append([]byte(nil), from...)
		to = append(to, 0xFF)
		return &Driving{Path: def.Path, Kind: def.Kind, From: from, To: to}, scorePrefix, true

	case OpIn:
		def, ok := matches(func(d index.IndexInfo) bool { return d.Kind != index.KindQGram })
		if !ok {
			return nil, 0, false
		}
		keys := make([][]byte, 0, len(atom.Values))
		for _, v := range atom.Values {
			k, ok := encodeAtomValue(def.Kind, v)
			if !ok {
				continue
			}
			keys = append(keys, k)
		}
		if len(keys) == 0 {
			return nil, 0, false
		}
		return &Driving{Path: def.Path, Kind: def.Kind, Eq: keys}, scoreInBase * len(keys), true

	case OpIcase:
		def, ok := matches(func(d index.IndexInfo) bool { return d.Kind == index.KindQGram })
		if !ok {
			return nil, 0, false
		}
		grams := index.QGrams(atom.Value.Str)
		if len(grams) == 0 {
			return nil, 0, false
		}
		return &Driving{Path: def.Path, Kind: def.Kind, Grams: grams}, scoreToken, true

	case OpRegex:
		def, ok := matches(func(d index.IndexInfo) bool { return d.Kind == index.KindQGram })
		if !ok {
			return nil, 0, false
		}
		lit := literalHint(atom.Regex.String())
		grams := index.QGrams(lit)
		if len(grams) == 0 {
			return nil, 0, false
		}
		return &Driving{Path: def.Path, Kind: def.Kind, Grams: grams}, scoreToken, true

	default:
		return nil, 0, false
	}
}

// literalHint walks pattern's parsed syntax tree for the longest run of
// literal runes any match must contain, so a $regex can drive off the
// qgram index instead of falling back to a full scan. Patterns with no
// literal run at all (".*", "a|b") yield "", which tells the caller to
// fall back to a full scan rather than an unbounded index range.
func literalHint(pattern string) string {
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return ""
	}
	return longestLiteralRun(parsed)
}

func longestLiteralRun(r *syntax.Regexp) string {
	switch r.Op {
	case syntax.OpLiteral:
		return string(r.Rune)
	case syntax.OpCapture, syntax.OpPlus, syntax.OpStar, syntax.OpQuest, syntax.OpRepeat:
		if len(r.Sub) == 1 {
			return longestLiteralRun(r.Sub[0])
		}
	case syntax.OpConcat:
		best, run := "", ""
		for _, sub := range r.Sub {
			if sub.Op == syntax.OpLiteral {
				run += string(sub.Rune)
				continue
			}
			if len(run) > len(best) {
				best = run
			}
			run = ""
			if nested := longestLiteralRun(sub); len(nested) > len(best) {
				best = nested
			}
		}
		if len(run) > len(best) {
			best = run
		}
		return best
	}
	return ""
}

func encodeAtomValue(kind index.Kind, v bson.Value) ([]byte, bool) {
	return index.EncodeQueryKey(kind, v)
}

func rangeBounds(kind index.Kind, atom Atom) (from, to []byte) {
	enc := func(v bson.Value) []byte {
		k, _ := encodeAtomValue(kind, v)
		return k
	}
	switch atom.Op {
	case OpGt:
		return incrementKey(enc(atom.Value)), nil
	case OpGte:
		return enc(atom.Value), nil
	case OpLt:
		return nil, enc(atom.Value)
	case OpLte:
		return nil, incrementKey(enc(atom.Value))
	case OpBt:
		if len(atom.Values) != 2 {
			return nil, nil
		}
		return enc(atom.Values[0]), incrementKey(enc(atom.Values[1]))
	default:
		return nil, nil
	}
}

// incrementKey returns the lexicographically-next byte string, used to
// turn an inclusive upper bound into the half-open upper bound
// internal/omap's Range expects.
func incrementKey(k []byte) []byte {
	out := append([]byte(nil), k...)
	out = append(out, 0x00)
	return out
}
