package ejdb

import (
	"os"
	"path/filepath"

	"github.com/jpl-au/ejdb/internal/catalog"
)

// EnsureCollection registers collection name if it is not already
// registered, opening its page file and priming its implicit `_id`
// index. Calling it on an existing collection is a no-op.
func (db *DB) EnsureCollection(name string, opts catalog.CollectionDescriptor) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if coll, ok := db.collections[name]; ok {
		return coll, nil
	}
	desc, err := db.catalog.EnsureCollection(name, opts)
	if err != nil {
		return nil, err
	}
	coll, err := db.openCollection(*desc)
	if err != nil {
		db.catalog.DropCollection(name)
		return nil, err
	}
	db.collections[name] = coll
	return coll, nil
}

// DropCollection closes and unregisters collection and drops every index
// it carried. pruneFiles controls whether the backing page file is
// unlinked from disk or merely closed and forgotten by the catalog. A
// collection that is registered but not open only loses its catalog
// entry; no file is removed.
func (db *DB) DropCollection(name string, pruneFiles bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	coll, ok := db.collections[name]
	if !ok {
		return db.catalog.DropCollection(name)
	}
	if err := coll.close(); err != nil {
		return err
	}
	delete(db.collections, name)
	db.idx.DropCollection(name)
	if err := db.catalog.DropCollection(name); err != nil {
		return err
	}
	if pruneFiles {
		os.Remove(filepath.Join(db.dir, name))
	}
	return nil
}

// RenameCollection renames a registered collection's catalog entry and
// index set in place. The underlying page file keeps its original file
// name internally (pagefile.File has no in-place rename of its own
// handle); a future open reattaches to it via the catalog's updated
// name-to-descriptor mapping, the same way `folio`'s own rename.go
// repointed a lookup table rather than touching bytes on disk.
func (db *DB) RenameCollection(oldName, newName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.catalog.RenameCollection(oldName, newName); err != nil {
		return err
	}
	coll, ok := db.collections[oldName]
	if !ok {
		return nil
	}
	delete(db.collections, oldName)
	coll.name = newName
	db.collections[newName] = coll
	db.idx.RenameCollection(oldName, newName)
	return nil
}
