package index

import (
	"testing"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/ejerr"
)

func doc(fields map[string]bson.Value) *bson.Object {
	o := bson.NewObject()
	for k, v := range fields {
		o.Set(k, v)
	}
	return o
}

func TestStringIndexInsertAndLookup(t *testing.T) {
	m := NewManager()
	if err := m.EnsureIndex("users", "email", KindString, true); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	d := doc(map[string]bson.Value{"email": bson.StringValue("a@example.com")})
	if err := m.Insert("users", 1, d); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got := m.Lookup("users", "email", KindString, []byte("a@example.com"))
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected [1], got %v", got)
	}
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("users", "email", KindString, true)
	d1 := doc(map[string]bson.Value{"email": bson.StringValue("a@example.com")})
	d2 := doc(map[string]bson.Value{"email": bson.StringValue("a@example.com")})
	if err := m.Insert("users", 1, d1); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := m.Insert("users", 2, d2)
	if err == nil || ejerr.GetCode(err) != ejerr.UniqueViolation {
		t.Fatalf("expected unique_violation, got %v", err)
	}
}

func TestIStringIndexFoldsCase(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("users", "name", KindIString, false)
	d := doc(map[string]bson.Value{"name": bson.StringValue("Alice")})
	m.Insert("users", 7, d)
	got := m.Lookup("users", "name", KindIString, []byte("alice"))
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected case-insensitive match, got %v", got)
	}
}

func TestNumberIndexOrdersNumerically(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("items", "price", KindNumber, false)
	m.Insert("items", 1, doc(map[string]bson.Value{"price": bson.DoubleValue(-5)}))
	m.Insert("items", 2, doc(map[string]bson.Value{"price": bson.Int64Value(3)}))
	m.Insert("items", 3, doc(map[string]bson.Value{"price": bson.DoubleValue(100)}))

	cur, err := m.Range("items", "price", KindNumber, nil, nil, false)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	var order []Locator
	for {
		e, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		order = append(order, e.Value)
	}
	want := []Locator{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected ascending numeric order %v, got %v", want, order)
		}
	}
}

func TestArrayIndexIndexesEachElementOnce(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("posts", "tags", KindArray, false)
	d := doc(map[string]bson.Value{
		"tags": bson.ArrayValue([]bson.Value{
			bson.StringValue("go"),
			bson.StringValue("db"),
			bson.StringValue("go"),
		}),
	})
	m.Insert("posts", 5, d)

	goKey, _ := encodeGenericScalar(bson.StringValue("go"))
	got := m.Lookup("posts", "tags", KindArray, goKey)
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("expected a single deduped entry for repeated element, got %v", got)
	}
	dbKey, _ := encodeGenericScalar(bson.StringValue("db"))
	got = m.Lookup("posts", "tags", KindArray, dbKey)
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("expected entry for db tag, got %v", got)
	}
}

func TestQGramIndexTokenizesAndFolds(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("posts", "title", KindQGram, false)
	d := doc(map[string]bson.Value{"title": bson.StringValue("Golang")})
	m.Insert("posts", 9, d)

	grams := QGrams("golang")
	if len(grams) == 0 {
		t.Fatal("expected at least one gram")
	}
	got := m.Lookup("posts", "title", KindQGram, grams[0])
	if len(got) != 1 || got[0] != 9 {
		t.Fatalf("expected folded q-gram match, got %v", got)
	}
}

func TestReplaceAppliesSymmetricDiff(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("users", "email", KindString, true)
	old := doc(map[string]bson.Value{"email": bson.StringValue("old@example.com")})
	next := doc(map[string]bson.Value{"email": bson.StringValue("new@example.com")})
	m.Insert("users", 1, old)

	if err := m.Replace("users", 1, old, next); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := m.Lookup("users", "email", KindString, []byte("old@example.com")); len(got) != 0 {
		t.Fatalf("expected old key removed, got %v", got)
	}
	if got := m.Lookup("users", "email", KindString, []byte("new@example.com")); len(got) != 1 {
		t.Fatalf("expected new key present, got %v", got)
	}
}

func TestReplaceNoOpOnUnchangedField(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("users", "email", KindString, true)
	d := doc(map[string]bson.Value{"email": bson.StringValue("same@example.com"), "n": bson.Int64Value(1)})
	m.Insert("users", 1, d)
	next := doc(map[string]bson.Value{"email": bson.StringValue("same@example.com"), "n": bson.Int64Value(2)})

	if err := m.Replace("users", 1, d, next); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got := m.Lookup("users", "email", KindString, []byte("same@example.com"))
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected the single entry to survive untouched, got %v", got)
	}
}

// TestInsertRollsBackEarlierDefsOnLaterUniqueViolation exercises a
// multi-index manager where a later-checked definition's unique
// violation must not leave an earlier-checked definition's tree
// mutated for the rejected locator.
func TestInsertRollsBackEarlierDefsOnLaterUniqueViolation(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("users", "handle", KindString, false)
	m.EnsureIndex("users", "email", KindString, true)

	m.Insert("users", 1, doc(map[string]bson.Value{
		"handle": bson.StringValue("batman"),
		"email":  bson.StringValue("a@example.com"),
	}))

	err := m.Insert("users", 2, doc(map[string]bson.Value{
		"handle": bson.StringValue("bruce"),
		"email":  bson.StringValue("a@example.com"),
	}))
	if err == nil || ejerr.GetCode(err) != ejerr.UniqueViolation {
		t.Fatalf("expected unique_violation, got %v", err)
	}

	if got := m.Lookup("users", "handle", KindString, []byte("bruce")); len(got) != 0 {
		t.Fatalf("expected the non-unique index to hold no entry for the rejected locator, got %v", got)
	}
}

// TestReplaceRollsBackEarlierDefsOnLaterUniqueViolation is the Replace
// counterpart: a later definition's unique violation must leave an
// earlier definition's tree exactly as it was before the call.
func TestReplaceRollsBackEarlierDefsOnLaterUniqueViolation(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("users", "handle", KindString, false)
	m.EnsureIndex("users", "email", KindString, true)

	m.Insert("users", 1, doc(map[string]bson.Value{
		"handle": bson.StringValue("bruce"),
		"email":  bson.StringValue("bruce@example.com"),
	}))
	m.Insert("users", 2, doc(map[string]bson.Value{
		"handle": bson.StringValue("dick"),
		"email":  bson.StringValue("dick@example.com"),
	}))

	old := doc(map[string]bson.Value{"handle": bson.StringValue("bruce"), "email": bson.StringValue("bruce@example.com")})
	next := doc(map[string]bson.Value{"handle": bson.StringValue("batman"), "email": bson.StringValue("dick@example.com")})
	err := m.Replace("users", 1, old, next)
	if err == nil || ejerr.GetCode(err) != ejerr.UniqueViolation {
		t.Fatalf("expected unique_violation, got %v", err)
	}

	if got := m.Lookup("users", "handle", KindString, []byte("batman")); len(got) != 0 {
		t.Fatalf("expected the non-unique index to hold no entry for the rejected new value, got %v", got)
	}
	if got := m.Lookup("users", "handle", KindString, []byte("bruce")); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected the non-unique index's old entry to survive the rejected replace, got %v", got)
	}
}

// TestNumberIndexDistinguishesLargeInt64Values covers two int64 values
// far enough apart that float64 can no longer tell them apart (both are
// beyond 2^53), which used to collapse onto the identical key and either
// silently merge two non-unique entries or wrongly reject the second as
// a duplicate in a unique index.
func TestNumberIndexDistinguishesLargeInt64Values(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("events", "seq", KindNumber, true)

	a := bson.Int64Value(9007199254740992)
	b := bson.Int64Value(9007199254740993)
	if a.AsFloat64() != b.AsFloat64() {
		t.Fatalf("test fixture assumption broken: the two values must widen to the same float64")
	}

	if err := m.Insert("events", 1, doc(map[string]bson.Value{"seq": a})); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := m.Insert("events", 2, doc(map[string]bson.Value{"seq": b})); err != nil {
		t.Fatalf("second insert: expected distinct int64 values to coexist, got %v", err)
	}

	keyA, _ := encodeScalarKey(KindNumber, a)
	keyB, _ := encodeScalarKey(KindNumber, b)
	if string(keyA) == string(keyB) {
		t.Fatalf("expected distinct keys for distinct int64 values, got identical keys %x", keyA)
	}

	got := m.Lookup("events", "seq", KindNumber, keyA)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected lookup of the first value's key to return only locator 1, got %v", got)
	}
}

func TestDropIndexAndCollection(t *testing.T) {
	m := NewManager()
	m.EnsureIndex("users", "email", KindString, true)
	m.Insert("users", 1, doc(map[string]bson.Value{"email": bson.StringValue("a@example.com")}))
	m.DropIndex("users", "email", KindString)
	if _, err := m.Range("users", "email", KindString, nil, nil, false); err == nil {
		t.Fatal("expected error ranging over a dropped index")
	}

	m.EnsureIndex("orders", "sku", KindString, false)
	m.DropCollection("orders")
	if defs := m.Definitions("orders"); len(defs) != 0 {
		t.Fatalf("expected no definitions after drop, got %v", defs)
	}
}
