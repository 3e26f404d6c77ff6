package index

import (
	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/omap"
)

// Rebuild discards every index entry of collection and re-derives them
// from scratch for entries, used when a collection's indexes are
// reconstructed from a page-file scan (e.g. after a crash, or the first
// EnsureIndex on a collection that already holds documents) rather than
// maintained incrementally.
func (m *Manager) Rebuild(collection string, entries []RebuildEntry) error {
	m.mu.Lock()
	for key, def := range m.collections[collection] {
		m.collections[collection][key] = &definition{
			path:   def.path,
			kind:   def.kind,
			unique: def.unique,
			tree:   omap.New(comparatorFor(def.kind), 256),
		}
	}
	m.mu.Unlock()
	for _, e := range entries {
		if err := m.Insert(collection, e.Locator, e.Doc); err != nil {
			return err
		}
	}
	return nil
}

// RebuildEntry pairs a stored document with its record-heap locator, the
// unit Rebuild replays through Insert.
type RebuildEntry struct {
	Locator Locator
	Doc     *bson.Object
}
