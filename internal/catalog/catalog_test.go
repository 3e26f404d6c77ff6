package catalog

import (
	"testing"
)

func TestEnsureCollectionPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := c.EnsureCollection("users", CollectionDescriptor{Compress: true, CacheSizeMB: 16}); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	c2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	desc, ok := c2.Collection("users")
	if !ok {
		t.Fatal("expected users collection to survive reopen")
	}
	if !desc.Compress || desc.CacheSizeMB != 16 {
		t.Fatalf("descriptor mismatch after reload: %+v", desc)
	}
}

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	c, _ := Open(dir)
	first, err := c.EnsureCollection("users", CollectionDescriptor{Compress: true})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := c.EnsureCollection("users", CollectionDescriptor{Compress: false})
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first != second {
		t.Fatal("expected the second EnsureCollection to return the original descriptor")
	}
	if !second.Compress {
		t.Fatal("expected original compress setting to be preserved, not overwritten")
	}
}

func TestEnsureAndRemoveIndex(t *testing.T) {
	dir := t.TempDir()
	c, _ := Open(dir)
	if _, err := c.EnsureCollection("users", CollectionDescriptor{}); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}
	if err := c.EnsureIndex("users", IndexDescriptor{Path: "email", Kind: "string", Unique: true}); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	// Ensuring the same index twice should be a no-op, not a duplicate.
	if err := c.EnsureIndex("users", IndexDescriptor{Path: "email", Kind: "string", Unique: true}); err != nil {
		t.Fatalf("ensure index again: %v", err)
	}
	desc, _ := c.Collection("users")
	if len(desc.Indexes) != 1 {
		t.Fatalf("expected exactly 1 index, got %d", len(desc.Indexes))
	}

	if err := c.RemoveIndex("users", "email", "string"); err != nil {
		t.Fatalf("remove index: %v", err)
	}
	desc, _ = c.Collection("users")
	if len(desc.Indexes) != 0 {
		t.Fatalf("expected index to be removed, got %d remaining", len(desc.Indexes))
	}
}

func TestDropAndRenameCollection(t *testing.T) {
	dir := t.TempDir()
	c, _ := Open(dir)
	if _, err := c.EnsureCollection("a", CollectionDescriptor{}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := c.RenameCollection("a", "b"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, ok := c.Collection("a"); ok {
		t.Fatal("old name should no longer be registered")
	}
	if _, ok := c.Collection("b"); !ok {
		t.Fatal("new name should be registered")
	}
	if err := c.DropCollection("b"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, ok := c.Collection("b"); ok {
		t.Fatal("collection should be gone after drop")
	}
	if err := c.DropCollection("b"); err == nil {
		t.Fatal("expected error dropping an already-dropped collection")
	}
}

func TestCollectionsSortedAndSnapshotIsolated(t *testing.T) {
	dir := t.TempDir()
	c, _ := Open(dir)
	c.EnsureCollection("zebra", CollectionDescriptor{})
	c.EnsureCollection("apple", CollectionDescriptor{})

	names := c.Collections()
	if len(names) != 2 || names[0] != "apple" || names[1] != "zebra" {
		t.Fatalf("expected sorted [apple zebra], got %v", names)
	}

	snap := c.Snapshot()
	desc := snap["apple"]
	desc.Indexes = append(desc.Indexes, IndexDescriptor{Path: "x", Kind: "string"})
	live, _ := c.Collection("apple")
	if len(live.Indexes) != 0 {
		t.Fatal("mutating a snapshot must not affect the live catalog")
	}
}
