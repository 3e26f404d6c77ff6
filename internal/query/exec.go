package query

import (
	"sort"
	"strings"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/ejerr"
	"github.com/jpl-au/ejdb/internal/index"
)

// Locator is the record-heap address a candidate document lives at.
type Locator = index.Locator

// Store is the storage surface the executor drives: document load/scan
// plus the index manager for driving-predicate lookups. A collection
// composes its page file and index manager behind this interface, so the
// planner/executor stays storage-agnostic and is exercised directly in
// tests against a fake.
type Store interface {
	Load(loc Locator) (*bson.Object, error)
	Scan(fn func(Locator, *bson.Object) error) error
	Index() *index.Manager
}

// Mutator extends Store with the write operations Execute needs for
// update/delete/upsert actions.
type Mutator interface {
	Store
	Insert(doc *bson.Object) (Locator, error)
	Replace(loc Locator, oldDoc, newDoc *bson.Object) error
	Delete(loc Locator, doc *bson.Object) error
}

// Result is one matched document.
type Result struct {
	Locator Locator
	Doc     *bson.Object
}

// Outcome is the result of running a query: the matched/updated documents
// (select mode), a count (onlycount mode), and an execution trace.
type Outcome struct {
	Results []Result
	Count   int
	Trace   []string
}

var errStop = ejerr.New(ejerr.Canceled, "query: limit reached")

// candidates streams every locator the plan's driving source (or a full
// scan, if none) yields, without yet checking residual predicates.
func candidates(st Store, collection string, p *Plan, emit func(Locator) error) error {
	if p.Driving == nil {
		return st.Scan(func(loc Locator, _ *bson.Object) error { return emit(loc) })
	}
	d := p.Driving
	if len(d.Grams) > 0 {
		return gramCandidates(st, collection, d, emit)
	}
	if len(d.Eq) > 0 {
		for _, key := range d.Eq {
			for _, loc := range st.Index().Lookup(collection, d.Path, d.Kind, key) {
				if err := emit(loc); err != nil {
					return err
				}
			}
		}
		return nil
	}
	cur, err := st.Index().Range(collection, d.Path, d.Kind, d.From, d.To, d.Desc)
	if err != nil {
		return err
	}
	for {
		e, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := emit(e.Value); err != nil {
			return err
		}
	}
}

// gramCandidates recalls every locator posted under all of d.Grams: a
// real substring/fold match must contain each of its query's q-grams, so
// intersecting their postings is a sound pre-filter. evalAtom's residual
// check on $icase/$regex still runs against the loaded document, so a
// gram collision (two different substrings hashing to the same key) can
// only ever widen the candidate set, never narrow it incorrectly.
func gramCandidates(st Store, collection string, d *Driving, emit func(Locator) error) error {
	sets := make([]map[Locator]bool, len(d.Grams))
	for i, g := range d.Grams {
		locs := st.Index().Lookup(collection, d.Path, d.Kind, g)
		set := make(map[Locator]bool, len(locs))
		for _, loc := range locs {
			set[loc] = true
		}
		sets[i] = set
	}
	if len(sets) == 0 {
		return nil
	}
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })
	for loc := range sets[0] {
		hit := true
		for _, s := range sets[1:] {
			if !s[loc] {
				hit = false
				break
			}
		}
		if !hit {
			continue
		}
		if err := emit(loc); err != nil {
			return err
		}
	}
	return nil
}

// runCandidates drives the top-level scope plus every $or branch,
// stopping early (without error) once visit signals errStop.
func runCandidates(st Store, collection string, p *Plan, visit func(Locator) error) error {
	run := func(src *Plan) error {
		err := candidates(st, collection, src, visit)
		if err == errStop {
			return nil
		}
		return err
	}
	if err := run(p); err != nil {
		return err
	}
	for _, branch := range p.OrPlans {
		if err := run(branch); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs q's plan against st: select (default), $dropall, or an
// update directive, applying skip/limit/sort/projection and honoring
// onlycount. Queries with an $orderby that the driving index cannot
// already satisfy are buffered through a Spiller; everything else
// streams candidate-by-candidate with an early stop once $limit is hit.
func Execute(st Mutator, collection string, p *Plan) (*Outcome, error) {
	if needsBuffering(p) {
		return executeBuffered(st, collection, p)
	}
	return executeStreaming(st, collection, p)
}

// needsBuffering reports whether the query's $orderby cannot be satisfied
// by simply reading the driving index in the requested direction.
func needsBuffering(p *Plan) bool {
	ob := p.Query.Hints.OrderBy
	if len(ob) == 0 {
		return false
	}
	if len(p.OrPlans) > 0 {
		return true
	}
	if p.Driving != nil && len(ob) == 1 && len(p.Driving.Eq) == 0 &&
		p.Driving.Path == ob[0].Path && p.Driving.Desc == ob[0].Desc {
		return false
	}
	return true
}

func executeStreaming(st Mutator, collection string, p *Plan) (*Outcome, error) {
	q := p.Query
	out := &Outcome{Trace: p.Trace}
	seen := map[Locator]bool{}
	skipped, emitted := 0, 0

	visit := func(loc Locator) error {
		if seen[loc] {
			return nil
		}
		seen[loc] = true
		doc, err := st.Load(loc)
		if err != nil {
			return nil // a codec error on one document must not abort the scan
		}
		if !matches(q, doc) {
			return nil
		}
		if skipped < q.Hints.Skip {
			skipped++
			return nil
		}
		if q.Hints.HasLimit && emitted >= q.Hints.Limit {
			return errStop
		}
		doc, err = applyAction(st, loc, doc, q)
		if err != nil {
			return err
		}
		if !q.Hints.OnlyCount {
			out.Results = append(out.Results, Result{Locator: loc, Doc: project(doc, q.Hints)})
		}
		out.Count++
		emitted++
		return nil
	}

	if err := runCandidates(st, collection, p, visit); err != nil {
		return nil, err
	}
	return finishWithUpsert(st, q, out)
}

func executeBuffered(st Mutator, collection string, p *Plan) (*Outcome, error) {
	q := p.Query
	spiller := NewSpiller(q.Hints.OrderBy, 0)
	seen := map[Locator]bool{}

	visit := func(loc Locator) error {
		if seen[loc] {
			return nil
		}
		seen[loc] = true
		doc, err := st.Load(loc)
		if err != nil {
			return nil
		}
		if !matches(q, doc) {
			return nil
		}
		return spiller.Add(doc, loc)
	}
	if err := runCandidates(st, collection, p, visit); err != nil {
		return nil, err
	}
	order, err := spiller.Finish()
	if err != nil {
		return nil, err
	}

	out := &Outcome{Trace: p.Trace}
	for i, loc := range order {
		if i < q.Hints.Skip {
			continue
		}
		if q.Hints.HasLimit && i-q.Hints.Skip >= q.Hints.Limit {
			break
		}
		doc, err := st.Load(loc)
		if err != nil {
			continue
		}
		doc, err = applyAction(st, loc, doc, q)
		if err != nil {
			return nil, err
		}
		if !q.Hints.OnlyCount {
			out.Results = append(out.Results, Result{Locator: loc, Doc: project(doc, q.Hints)})
		}
		out.Count++
	}
	return finishWithUpsert(st, q, out)
}

// applyAction performs $dropall/update against one matched document,
// returning the document callers should project and return (the
// replacement, if one was applied).
func applyAction(st Mutator, loc Locator, doc *bson.Object, q *Query) (*bson.Object, error) {
	switch {
	case q.DropAll:
		if err := st.Delete(loc, doc); err != nil {
			return nil, err
		}
	case q.HasPatch():
		next, err := bson.ApplyPatch(doc, q.Patch)
		if err != nil {
			return nil, err
		}
		if err := st.Replace(loc, doc, next); err != nil {
			return nil, err
		}
		return next, nil
	}
	return doc, nil
}

func finishWithUpsert(st Mutator, q *Query, out *Outcome) (*Outcome, error) {
	if out.Count != 0 || q.Upsert == nil || !onlyEquality(q) {
		return out, nil
	}
	doc := synthesizeUpsert(q)
	loc, err := st.Insert(doc)
	if err != nil {
		return nil, err
	}
	out.Count = 1
	if !q.Hints.OnlyCount {
		out.Results = append(out.Results, Result{Locator: loc, Doc: doc})
	}
	return out, nil
}

// matches evaluates every top-level atom (AND) plus, if present, at
// least one $or branch's atoms (OR) against doc.
func matches(q *Query, doc *bson.Object) bool {
	for _, atom := range q.Atoms {
		if !evalAtom(atom, doc) {
			return false
		}
	}
	if len(q.Or) == 0 {
		return true
	}
	for _, branch := range q.Or {
		if matches(branch, doc) {
			return true
		}
	}
	return false
}

func onlyEquality(q *Query) bool {
	if len(q.Or) > 0 {
		return false
	}
	for _, a := range q.Atoms {
		if a.Op != OpEq {
			return false
		}
	}
	return true
}

func synthesizeUpsert(q *Query) *bson.Object {
	out := bson.NewObject()
	for _, a := range q.Atoms {
		bson.SetPath(out, a.Path, a.Value)
	}
	for i := 0; i < q.Upsert.Len(); i++ {
		k, v := q.Upsert.At(i)
		out.Set(k, v)
	}
	return out
}

func project(doc *bson.Object, h Hints) *bson.Object {
	if !h.HasFields || len(h.Fields) == 0 {
		return doc
	}
	exclude := false
	for _, keep := range h.Fields {
		exclude = !keep
		break
	}
	out := bson.NewObject()
	if exclude {
		for i := 0; i < doc.Len(); i++ {
			k, v := doc.At(i)
			if drop, ok := h.Fields[k]; !ok || drop {
				out.Set(k, v)
			}
		}
		return out
	}
	for path, keep := range h.Fields {
		if !keep {
			continue
		}
		if v, ok := bson.Lookup(doc, path); ok {
			out.Set(path, v)
		}
	}
	return out
}

func compareValues(a, b bson.Value) int {
	if a.IsNumeric() && b.IsNumeric() {
		switch {
		case a.AsFloat64() < b.AsFloat64():
			return -1
		case a.AsFloat64() > b.AsFloat64():
			return 1
		default:
			return 0
		}
	}
	if a.Kind == bson.KindString && b.Kind == bson.KindString {
		return strings.Compare(a.Str, b.Str)
	}
	return 0
}
