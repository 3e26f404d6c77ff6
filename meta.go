package ejdb

import "github.com/jpl-au/ejdb/internal/catalog"

// Meta returns a snapshot of every registered collection's descriptor
// (tuning block and declared indexes), keyed by collection name.
func (db *DB) Meta() map[string]catalog.CollectionDescriptor {
	return db.catalog.Snapshot()
}
