package ejdb

import (
	"testing"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/catalog"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func contact(name, phone string, age int64) *bson.Object {
	doc := bson.NewObject()
	doc.Set("name", bson.StringValue(name))
	doc.Set("phone", bson.StringValue(phone))
	doc.Set("age", bson.Int64Value(age))
	return doc
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	db := openTest(t)
	id, err := db.Save("contacts", contact("Bruce", "222", 57))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	doc, err := db.Load("contacts", id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	name, _ := doc.Get("name")
	if name.Str != "Bruce" {
		t.Fatalf("got name %q, want Bruce", name.Str)
	}
	gotID, _ := doc.Get("_id")
	if gotID.OID.String() != id {
		t.Fatalf("got _id %q, want %q", gotID.OID.String(), id)
	}
}

func TestUniqueIndexRejectsDuplicateKey(t *testing.T) {
	db := openTest(t)
	if _, err := db.Save("contacts", contact("Bruce", "222", 57)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.EnsureIndex("contacts", "phone", "string", true); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	if _, err := db.Save("contacts", contact("Wayne", "222", 40)); err == nil {
		t.Fatalf("expected unique violation, got nil error")
	}
}

func TestRemoveDeletesDocument(t *testing.T) {
	db := openTest(t)
	id, err := db.Save("contacts", contact("Bruce", "222", 57))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.Remove("contacts", id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := db.Load("contacts", id); err == nil {
		t.Fatalf("expected not_found after remove")
	}
}

func TestPatchAppliesJSONPatch(t *testing.T) {
	db := openTest(t)
	id, err := db.Save("contacts", contact("Bruce", "222", 57))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	ops := []bson.JSONPatchOp{{Op: "replace", Path: "/phone", Value: bson.StringValue("333")}}
	patched, err := db.Patch("contacts", id, ops)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	phone, _ := patched.Get("phone")
	if phone.Str != "333" {
		t.Fatalf("got phone %q, want 333", phone.Str)
	}
}

func TestPatchRejectsIDChange(t *testing.T) {
	db := openTest(t)
	id, err := db.Save("contacts", contact("Bruce", "222", 57))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	ops := []bson.JSONPatchOp{{Op: "replace", Path: "/_id", Value: bson.StringValue("nope")}}
	if _, err := db.Patch("contacts", id, ops); err == nil {
		t.Fatalf("expected invalid_argument for _id patch")
	}
}

func TestTransactionAbortRollsBackInsert(t *testing.T) {
	db := openTest(t)
	if _, err := db.EnsureCollection("contacts", catalog.CollectionDescriptor{}); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	tx, err := db.Begin("contacts")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	id, err := tx.Save(contact("Bruce", "222", 57))
	if err != nil {
		t.Fatalf("tx save: %v", err)
	}
	if err := db.Abort(tx); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, err := db.Load("contacts", id); err == nil {
		t.Fatalf("expected aborted insert to be invisible")
	}
}

func TestTransactionCommitPersists(t *testing.T) {
	db := openTest(t)
	if _, err := db.EnsureCollection("contacts", catalog.CollectionDescriptor{}); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	tx, err := db.Begin("contacts")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	id, err := tx.Save(contact("Bruce", "222", 57))
	if err != nil {
		t.Fatalf("tx save: %v", err)
	}
	if err := db.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := db.Load("contacts", id); err != nil {
		t.Fatalf("expected committed insert to be visible: %v", err)
	}
}

func TestExecRangeQueryUsesIndex(t *testing.T) {
	db := openTest(t)
	db.Save("contacts", contact("Bruce", "222", 57))
	db.Save("contacts", contact("Dick", "333", 25))
	db.Save("contacts", contact("Tim", "444", 19))
	if err := db.EnsureIndex("contacts", "age", "number", false); err != nil {
		t.Fatalf("ensure index: %v", err)
	}

	q := bson.NewObject()
	ageOp := bson.NewObject()
	ageOp.Set("$gte", bson.Int64Value(25))
	q.Set("age", bson.ObjectValue(ageOp))

	out, err := db.Exec("contacts", q)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(out.Results))
	}
	if len(out.Trace) == 0 || out.Trace[0] == "full collection scan" {
		t.Fatalf("expected an index to drive the query, got trace %v", out.Trace)
	}
}

func TestBackupCopiesCatalogAndCollections(t *testing.T) {
	db := openTest(t)
	db.Save("contacts", contact("Bruce", "222", 57))
	ts, err := db.Backup(t.TempDir())
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if ts <= 0 {
		t.Fatalf("expected a positive backup timestamp, got %d", ts)
	}
}
