package query

import (
	"testing"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/ejerr"
	"github.com/jpl-au/ejdb/internal/index"
)

type fakeStore struct {
	collection string
	idx        *index.Manager
	docs       map[Locator]*bson.Object
	next       Locator
}

func newFakeStore(collection string) *fakeStore {
	idx := index.NewManager()
	idx.EnsurePrimary(collection)
	return &fakeStore{collection: collection, idx: idx, docs: map[Locator]*bson.Object{}}
}

func (f *fakeStore) Load(loc Locator) (*bson.Object, error) {
	d, ok := f.docs[loc]
	if !ok {
		return nil, ejerr.New(ejerr.NotFound, "no such document")
	}
	return d, nil
}

func (f *fakeStore) Scan(fn func(Locator, *bson.Object) error) error {
	for loc := Locator(1); loc <= f.next; loc++ {
		d, ok := f.docs[loc]
		if !ok {
			continue
		}
		if err := fn(loc, d); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) Index() *index.Manager { return f.idx }

func (f *fakeStore) Insert(doc *bson.Object) (Locator, error) {
	f.next++
	loc := f.next
	if err := f.idx.Insert(f.collection, loc, doc); err != nil {
		return 0, err
	}
	f.docs[loc] = doc
	return loc, nil
}

func (f *fakeStore) Replace(loc Locator, oldDoc, newDoc *bson.Object) error {
	if err := f.idx.Replace(f.collection, loc, oldDoc, newDoc); err != nil {
		return err
	}
	f.docs[loc] = newDoc
	return nil
}

func (f *fakeStore) Delete(loc Locator, doc *bson.Object) error {
	f.idx.Remove(f.collection, loc, doc)
	delete(f.docs, loc)
	return nil
}

func doc(fields map[string]bson.Value) *bson.Object {
	o := bson.NewObject()
	for k, v := range fields {
		o.Set(k, v)
	}
	return o
}

func parseDoc(t *testing.T, fields map[string]bson.Value) *Query {
	t.Helper()
	q, err := Parse(doc(fields))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return q
}

func TestParseBareEqualityAndOperators(t *testing.T) {
	q := parseDoc(t, map[string]bson.Value{
		"name": bson.StringValue("ann"),
		"age":  bson.Int64Value(30),
	})
	if len(q.Atoms) != 2 {
		t.Fatalf("expected 2 atoms, got %d", len(q.Atoms))
	}
	for _, a := range q.Atoms {
		if a.Op != OpEq {
			t.Fatalf("expected OpEq, got %v", a.Op)
		}
	}
}

func TestParseOperatorObject(t *testing.T) {
	age := bson.NewObject()
	age.Set("$gte", bson.Int64Value(18))
	age.Set("$lt", bson.Int64Value(65))
	top := bson.NewObject()
	top.Set("age", bson.ObjectValue(age))
	q, err := Parse(top)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(q.Atoms) != 2 {
		t.Fatalf("expected 2 atoms, got %d", len(q.Atoms))
	}
}

func TestParseOrAndHints(t *testing.T) {
	top := bson.NewObject()
	orArr := []bson.Value{
		bson.ObjectValue(doc(map[string]bson.Value{"a": bson.Int64Value(1)})),
		bson.ObjectValue(doc(map[string]bson.Value{"b": bson.Int64Value(2)})),
	}
	top.Set("$or", bson.ArrayValue(orArr))
	top.Set("$skip", bson.Int64Value(5))
	top.Set("$limit", bson.Int64Value(10))
	top.Set("$onlycount", bson.BoolValue(true))

	q, err := Parse(top)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(q.Or) != 2 {
		t.Fatalf("expected 2 or-branches, got %d", len(q.Or))
	}
	if q.Hints.Skip != 5 || !q.Hints.HasLimit || q.Hints.Limit != 10 || !q.Hints.OnlyCount {
		t.Fatalf("unexpected hints: %+v", q.Hints)
	}
}

func TestParseDirectiveRejectedInsideOr(t *testing.T) {
	inner := bson.NewObject()
	inner.Set("$skip", bson.Int64Value(1))
	top := bson.NewObject()
	top.Set("$or", bson.ArrayValue([]bson.Value{bson.ObjectValue(inner)}))
	if _, err := Parse(top); err == nil {
		t.Fatalf("expected an error for a directive nested inside $or")
	}
}

func TestPlanPrefersUniqueEqOverRange(t *testing.T) {
	idx := index.NewManager()
	idx.EnsureIndex("users", "email", index.KindString, true)
	idx.EnsureIndex("users", "age", index.KindNumber, false)

	q := parseDoc(t, map[string]bson.Value{"email": bson.StringValue("a@example.com")})
	ageAtom := Atom{Path: "age", Op: OpGte, Value: bson.Int64Value(18)}
	q.Atoms = append(q.Atoms, ageAtom)

	p := Build("users", q, idx)
	if p.Driving == nil || p.Driving.Path != "email" {
		t.Fatalf("expected email to drive, got %+v", p.Driving)
	}
	if len(p.Residual) != 2 {
		t.Fatalf("expected both atoms to remain residual, got %d", len(p.Residual))
	}
}

func TestPlanFullScanWhenNoIndexMatches(t *testing.T) {
	idx := index.NewManager()
	q := parseDoc(t, map[string]bson.Value{"color": bson.StringValue("red")})
	p := Build("widgets", q, idx)
	if p.Driving != nil {
		t.Fatalf("expected a full scan, got driving %+v", p.Driving)
	}
}

func seedUsers(t *testing.T) *fakeStore {
	t.Helper()
	st := newFakeStore("users")
	st.idx.EnsureIndex("users", "age", index.KindNumber, false)
	names := []struct {
		name string
		age  int64
	}{
		{"ann", 30}, {"bob", 25}, {"cid", 40}, {"dee", 25},
	}
	for _, n := range names {
		d := doc(map[string]bson.Value{"name": bson.StringValue(n.name), "age": bson.Int64Value(n.age)})
		if _, err := st.Insert(d); err != nil {
			t.Fatalf("seed insert: %v", err)
		}
	}
	return st
}

func runQuery(t *testing.T, st *fakeStore, fields map[string]bson.Value) *Outcome {
	t.Helper()
	q, err := Parse(doc(fields))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := Build(st.collection, q, st.idx)
	out, err := Execute(st, st.collection, p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return out
}

func TestExecuteRangeQueryUsesIndex(t *testing.T) {
	st := seedUsers(t)
	ageFilter := bson.NewObject()
	ageFilter.Set("$gte", bson.Int64Value(30))
	out := runQuery(t, st, map[string]bson.Value{"age": bson.ObjectValue(ageFilter)})
	if out.Count != 2 {
		t.Fatalf("expected 2 matches, got %d", out.Count)
	}
	if len(out.Trace) == 0 || out.Trace[0] == "full collection scan" {
		t.Fatalf("expected an index to drive the query, got trace %v", out.Trace)
	}
}

func TestExecuteOrBranchesDedup(t *testing.T) {
	st := seedUsers(t)
	top := bson.NewObject()
	top.Set("$or", bson.ArrayValue([]bson.Value{
		bson.ObjectValue(doc(map[string]bson.Value{"name": bson.StringValue("ann")})),
		bson.ObjectValue(doc(map[string]bson.Value{"age": bson.Int64Value(30)})),
	}))
	q, err := Parse(top)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := Build(st.collection, q, st.idx)
	out, err := Execute(st, st.collection, p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Count != 1 {
		t.Fatalf("expected the overlapping match deduped to 1, got %d", out.Count)
	}
}

func TestExecuteSkipAndLimit(t *testing.T) {
	st := seedUsers(t)
	out := runQuery(t, st, map[string]bson.Value{"$limit": bson.Int64Value(2)})
	if len(out.Results) > 2 {
		t.Fatalf("expected at most 2 results, got %d", len(out.Results))
	}
}

func TestExecuteOnlyCountOmitsResults(t *testing.T) {
	st := seedUsers(t)
	out := runQuery(t, st, map[string]bson.Value{"$onlycount": bson.BoolValue(true)})
	if out.Count != 4 {
		t.Fatalf("expected count 4, got %d", out.Count)
	}
	if len(out.Results) != 0 {
		t.Fatalf("expected no materialized results in onlycount mode, got %d", len(out.Results))
	}
}

func TestExecuteFieldsProjectionInclusion(t *testing.T) {
	st := seedUsers(t)
	fields := doc(map[string]bson.Value{"name": bson.Int64Value(1)})
	out := runQuery(t, st, map[string]bson.Value{"$fields": bson.ObjectValue(fields)})
	for _, r := range out.Results {
		if _, ok := r.Doc.Get("age"); ok {
			t.Fatalf("expected age excluded from projection, got %+v", r.Doc)
		}
		if _, ok := r.Doc.Get("name"); !ok {
			t.Fatalf("expected name included in projection")
		}
	}
}

func TestExecuteDropAllRemovesMatches(t *testing.T) {
	st := seedUsers(t)
	out := runQuery(t, st, map[string]bson.Value{
		"age":      bson.Int64Value(25),
		"$dropall": bson.BoolValue(true),
	})
	if out.Count != 2 {
		t.Fatalf("expected 2 removed, got %d", out.Count)
	}
	if len(st.docs) != 2 {
		t.Fatalf("expected 2 documents left, got %d", len(st.docs))
	}
}

func TestExecutePatchAppliesSet(t *testing.T) {
	st := seedUsers(t)
	patch := doc(map[string]bson.Value{"city": bson.StringValue("nyc")})
	out := runQuery(t, st, map[string]bson.Value{
		"name": bson.StringValue("ann"),
		"$set": bson.ObjectValue(patch),
	})
	if out.Count != 1 {
		t.Fatalf("expected 1 match, got %d", out.Count)
	}
	city, ok := out.Results[0].Doc.Get("city")
	if !ok || city.Str != "nyc" {
		t.Fatalf("expected patched city field, got %+v", out.Results[0].Doc)
	}
}

func TestExecuteUpsertSynthesizesOnNoMatch(t *testing.T) {
	st := seedUsers(t)
	upsert := doc(map[string]bson.Value{"active": bson.BoolValue(true)})
	out := runQuery(t, st, map[string]bson.Value{
		"name":    bson.StringValue("zed"),
		"$upsert": bson.ObjectValue(upsert),
		"$set":    bson.ObjectValue(doc(map[string]bson.Value{"active": bson.BoolValue(true)})),
	})
	if out.Count != 1 {
		t.Fatalf("expected upsert to synthesize 1 document, got %d", out.Count)
	}
	if len(st.docs) != 5 {
		t.Fatalf("expected 5 documents after upsert, got %d", len(st.docs))
	}
}

func TestExecuteOrderByWithoutDrivingIndexBuffersAndSorts(t *testing.T) {
	st := seedUsers(t)
	orderBy := doc(map[string]bson.Value{"age": bson.Int64Value(1)})
	q, err := Parse(doc(map[string]bson.Value{"$orderby": bson.ObjectValue(orderBy)}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := Build(st.collection, q, st.idx)
	if !needsBuffering(p) {
		t.Fatalf("expected the unindexed-direction sort to require buffering")
	}
	out, err := Execute(st, st.collection, p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var last int64 = -1
	for _, r := range out.Results {
		age, _ := r.Doc.Get("age")
		if age.Int64 < last {
			t.Fatalf("results not sorted ascending by age: %+v", out.Results)
		}
		last = age.Int64
	}
}

func TestEvalNotNegatesWrappedAtom(t *testing.T) {
	d := doc(map[string]bson.Value{"age": bson.Int64Value(25)})
	notOp := bson.NewObject()
	gte := bson.NewObject()
	gte.Set("$gte", bson.Int64Value(30))
	notOp.Set("$not", bson.ObjectValue(gte))
	atoms, err := parseFieldPredicate("age", bson.ObjectValue(notOp))
	if err != nil {
		t.Fatalf("parse predicate: %v", err)
	}
	if len(atoms) != 1 || !evalAtom(atoms[0], d) {
		t.Fatalf("expected $not to match age=25 against NOT(age >= 30)")
	}
}

func TestEvalStrandRequiresAllTags(t *testing.T) {
	d := doc(map[string]bson.Value{"tags": bson.ArrayValue([]bson.Value{
		bson.StringValue("go"), bson.StringValue("db"),
	})})
	atom := Atom{Path: "tags", Op: OpStrand, Values: []bson.Value{bson.StringValue("go"), bson.StringValue("db")}}
	if !evalAtom(atom, d) {
		t.Fatalf("expected $strand to match when all tags present")
	}
	atom.Values = append(atom.Values, bson.StringValue("missing"))
	if evalAtom(atom, d) {
		t.Fatalf("expected $strand to fail when a tag is missing")
	}
}

func TestEvalElemMatchOnObjectArray(t *testing.T) {
	item := doc(map[string]bson.Value{"sku": bson.StringValue("X1"), "qty": bson.Int64Value(3)})
	d := doc(map[string]bson.Value{"items": bson.ArrayValue([]bson.Value{bson.ObjectValue(item)})})
	qtyFilter := bson.NewObject()
	qtyFilter.Set("$gte", bson.Int64Value(2))
	elemQuery := doc(map[string]bson.Value{"qty": bson.ObjectValue(qtyFilter)})
	atoms, err := parseFieldPredicate("items", bson.ObjectValue(doc(map[string]bson.Value{
		"$elemMatch": bson.ObjectValue(elemQuery),
	})))
	if err != nil {
		t.Fatalf("parse predicate: %v", err)
	}
	if len(atoms) != 1 || !evalAtom(atoms[0], d) {
		t.Fatalf("expected $elemMatch to find the matching item")
	}
}

func TestPlanAndExecuteRegexDrivesOffQGramIndex(t *testing.T) {
	idx := index.NewManager()
	idx.EnsurePrimary("posts")
	idx.EnsureIndex("posts", "title", index.KindQGram, false)
	st := &fakeStore{collection: "posts", idx: idx, docs: map[Locator]*bson.Object{}}

	titles := []string{"Learning Golang", "Rust By Example", "Go Concurrency Patterns"}
	for _, title := range titles {
		if _, err := st.Insert(doc(map[string]bson.Value{"title": bson.StringValue(title)})); err != nil {
			t.Fatalf("seed insert: %v", err)
		}
	}

	top := bson.NewObject()
	titleOp := bson.NewObject()
	titleOp.Set("$regex", bson.StringValue("Golang"))
	top.Set("title", bson.ObjectValue(titleOp))
	q, err := Parse(top)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	p := Build(st.collection, q, st.idx)
	if p.Driving == nil || p.Driving.Kind != index.KindQGram || len(p.Driving.Grams) == 0 {
		t.Fatalf("expected the regex to drive off the qgram index with a non-empty gram set, got %+v", p.Driving)
	}

	out, err := Execute(st, st.collection, p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Count != 1 {
		t.Fatalf("expected exactly 1 match, got %d", out.Count)
	}
	title, _ := out.Results[0].Doc.Get("title")
	if title.Str != "Learning Golang" {
		t.Fatalf("expected the matching title, got %q", title.Str)
	}
}

func TestPlanRegexWithNoLiteralFallsBackToFullScan(t *testing.T) {
	idx := index.NewManager()
	idx.EnsureIndex("posts", "title", index.KindQGram, false)

	top := bson.NewObject()
	titleOp := bson.NewObject()
	titleOp.Set("$regex", bson.StringValue(".*"))
	top.Set("title", bson.ObjectValue(titleOp))
	q, err := Parse(top)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	p := Build("posts", q, idx)
	if p.Driving != nil {
		t.Fatalf("expected a pattern with no literal run to fall back to a full scan, got %+v", p.Driving)
	}
}

func TestSpillerSortsAcrossMultipleRuns(t *testing.T) {
	order := []OrderKey{{Path: "n", Desc: false}}
	s := NewSpiller(order, 2)
	values := []int64{5, 1, 4, 2, 3}
	for i, v := range values {
		d := doc(map[string]bson.Value{"n": bson.Int64Value(v)})
		if err := s.Add(d, Locator(i+1)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	order2, err := s.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(order2) != len(values) {
		t.Fatalf("expected %d locators, got %d", len(values), len(order2))
	}
	want := []Locator{2, 4, 5, 3, 1}
	for i, loc := range order2 {
		if loc != want[i] {
			t.Fatalf("expected sorted order %v, got %v", want, order2)
		}
	}
}
