package ejdb

import (
	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/catalog"
	"github.com/jpl-au/ejdb/internal/ejerr"
	"github.com/jpl-au/ejdb/internal/index"
	"github.com/jpl-au/ejdb/internal/pagefile"
)

// EnsureIndex declares a secondary index on path within collection,
// backfilling it from every document already stored there if the
// collection is non-empty. kind is one of "string", "istring",
// "number", "array", "qgram".
func (db *DB) EnsureIndex(collection, path, kind string, unique bool) error {
	k := index.Kind(kind)
	if !k.Valid() {
		return ejerr.New(ejerr.InvalidArgument, "ejdb: unknown index kind").WithDetail("kind", kind)
	}
	coll, err := db.collection(collection)
	if err != nil {
		return err
	}
	if err := db.catalog.EnsureIndex(collection, catalog.IndexDescriptor{Path: path, Kind: kind, Unique: unique}); err != nil {
		return err
	}
	if err := db.idx.EnsureIndex(collection, path, k, unique); err != nil {
		return err
	}

	var entries []index.RebuildEntry
	if err := coll.pf.Scan(func(e pagefile.Entry) error {
		doc, err := bson.Decode(e.Data)
		if err != nil {
			return err
		}
		entries = append(entries, index.RebuildEntry{Locator: index.Locator(e.Locator), Doc: doc})
		return nil
	}); err != nil {
		return err
	}
	return db.idx.Rebuild(collection, entries)
}

// RemoveIndex drops a previously ensured index.
func (db *DB) RemoveIndex(collection, path, kind string) error {
	if err := db.catalog.RemoveIndex(collection, path, kind); err != nil {
		return err
	}
	db.idx.DropIndex(collection, path, index.Kind(kind))
	return nil
}
