package index

import (
	"sort"
	"sync"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/ejerr"
	"github.com/jpl-au/ejdb/internal/omap"
)

// Locator is the record-heap address an index entry points at. It mirrors
// pagefile.Locator without importing the pagefile package, keeping the
// index layer usable against any backing store that can hand back an
// int64 address.
type Locator = omap.Value

// definition is one ensured index: its path, kind, and uniqueness, plus
// the ordered map actually holding its entries.
type definition struct {
	path   string
	kind   Kind
	unique bool
	tree   *omap.Map
}

func comparatorFor(kind Kind) omap.Comparator {
	switch kind {
	case KindNumber:
		return omap.Numeric
	case KindIString:
		return omap.CaseFold
	default:
		return omap.ByteLex
	}
}

// Manager owns every ensured index across every collection in a database:
// an arbitrary set of (collection, path, kind) trees, rather than a
// single hard-coded lookup structure for one fixed field.
type Manager struct {
	mu          sync.RWMutex
	collections map[string]map[string]*definition // collection -> "path|kind" -> definition
}

func NewManager() *Manager {
	return &Manager{collections: map[string]map[string]*definition{}}
}

func defKey(path string, kind Kind) string {
	return path + "|" + string(kind)
}

// EnsureIndex registers an index on collection if not already present.
// It creates only the index it is asked for; the unique `string` index
// on `_id` is registered separately by EnsurePrimary.
func (m *Manager) EnsureIndex(collection, path string, kind Kind, unique bool) error {
	if !kind.Valid() {
		return ejerr.New(ejerr.InvalidArgument, "index: unknown index kind").WithDetail("kind", string(kind))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	defs, ok := m.collections[collection]
	if !ok {
		defs = map[string]*definition{}
		m.collections[collection] = defs
	}
	key := defKey(path, kind)
	if _, exists := defs[key]; exists {
		return nil
	}
	defs[key] = &definition{
		path:   path,
		kind:   kind,
		unique: unique,
		tree:   omap.New(comparatorFor(kind), 256),
	}
	return nil
}

// EnsurePrimary ensures the implicit `_id` → locator index exists for
// collection. It is always a unique string index.
func (m *Manager) EnsurePrimary(collection string) error {
	return m.EnsureIndex(collection, "_id", KindString, true)
}

// DropIndex removes an ensured index and discards its tree.
func (m *Manager) DropIndex(collection, path string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if defs, ok := m.collections[collection]; ok {
		delete(defs, defKey(path, kind))
	}
}

// DropCollection discards every index belonging to collection.
func (m *Manager) DropCollection(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
}

// RenameCollection moves a collection's index set under a new name.
func (m *Manager) RenameCollection(oldName, newName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if defs, ok := m.collections[oldName]; ok {
		delete(m.collections, oldName)
		m.collections[newName] = defs
	}
}

// keysFor extracts the set of index keys doc contributes to one
// definition, honoring each kind's extraction rule.
func keysFor(def *definition, doc *bson.Object) [][]byte {
	v, ok := bson.Lookup(doc, def.path)
	if !ok {
		return nil
	}
	switch def.kind {
	case KindArray:
		if v.Kind != bson.KindArray {
			return nil
		}
		seen := map[string]bool{}
		var keys [][]byte
		for _, elem := range v.Array {
			k, ok := encodeGenericScalar(elem)
			if !ok {
				continue
			}
			if seen[string(k)] {
				continue
			}
			seen[string(k)] = true
			keys = append(keys, k)
		}
		return keys
	case KindQGram:
		if v.Kind != bson.KindString {
			return nil
		}
		return QGrams(v.Str)
	default:
		k, ok := encodeScalarKey(def.kind, v)
		if !ok {
			return nil
		}
		return [][]byte{k}
	}
}

// insertPlan is one definition's keys for doc, staged before any tree is
// mutated so a unique violation on one definition never leaves another
// definition's tree holding entries for a locator the caller is about to
// discard.
type insertPlan struct {
	def  *definition
	keys [][]byte
}

// Insert adds doc's entries to every index ensured on collection. Every
// unique definition is checked before any tree is touched, so a violation
// on one index leaves every index, including ones earlier in iteration
// order, exactly as it was.
func (m *Manager) Insert(collection string, loc Locator, doc *bson.Object) error {
	m.mu.RLock()
	defs := m.collections[collection]
	m.mu.RUnlock()

	plans := make([]insertPlan, 0, len(defs))
	for _, def := range defs {
		keys := keysFor(def, doc)
		if def.unique {
			for _, k := range keys {
				if existing := def.tree.Get(k); len(existing) > 0 {
					return ejerr.New(ejerr.UniqueViolation, "index: unique constraint violated").
						WithDetail("path", def.path).WithDetail("kind", string(def.kind))
				}
			}
		}
		plans = append(plans, insertPlan{def: def, keys: keys})
	}
	for _, p := range plans {
		for _, k := range p.keys {
			p.def.tree.Put(k, loc)
		}
	}
	return nil
}

// Remove deletes doc's entries from every index ensured on collection.
func (m *Manager) Remove(collection string, loc Locator, doc *bson.Object) {
	m.mu.RLock()
	defs := m.collections[collection]
	m.mu.RUnlock()
	for _, def := range defs {
		for _, k := range keysFor(def, doc) {
			def.tree.Delete(k, loc)
		}
	}
}

// replacePlan is one definition's symmetric-diff staged before any tree is
// mutated, for the same reason insertPlan exists on the Insert path.
type replacePlan struct {
	def            *definition
	removed, added [][]byte
}

// Replace updates every index ensured on collection from oldDoc to
// newDoc by computing the symmetric difference of each index's key set
// and applying only the minimal removes/inserts, rather than a blind
// remove-all-then-insert-all that would double every index's write
// volume on a no-op field update. Every definition's uniqueness is
// checked before any definition's tree is mutated, so a violation
// partway through leaves the whole index set exactly as it was.
func (m *Manager) Replace(collection string, loc Locator, oldDoc, newDoc *bson.Object) error {
	m.mu.RLock()
	defs := m.collections[collection]
	m.mu.RUnlock()

	plans := make([]replacePlan, 0, len(defs))
	for _, def := range defs {
		oldKeys := keysFor(def, oldDoc)
		newKeys := keysFor(def, newDoc)
		removed, added := symmetricDiff(oldKeys, newKeys)

		if def.unique {
			for _, k := range added {
				if existing := def.tree.Get(k); len(existing) > 0 {
					return ejerr.New(ejerr.UniqueViolation, "index: unique constraint violated").
						WithDetail("path", def.path).WithDetail("kind", string(def.kind))
				}
			}
		}
		plans = append(plans, replacePlan{def: def, removed: removed, added: added})
	}
	for _, p := range plans {
		for _, k := range p.removed {
			p.def.tree.Delete(k, loc)
		}
		for _, k := range p.added {
			p.def.tree.Put(k, loc)
		}
	}
	return nil
}

// symmetricDiff splits old and next key sets into keys only in old
// (to remove) and keys only in next (to add); keys present in both are
// left untouched.
func symmetricDiff(old, next [][]byte) (removed, added [][]byte) {
	oldSet := make(map[string]bool, len(old))
	for _, k := range old {
		oldSet[string(k)] = true
	}
	nextSet := make(map[string]bool, len(next))
	for _, k := range next {
		nextSet[string(k)] = true
	}
	for _, k := range old {
		if !nextSet[string(k)] {
			removed = append(removed, k)
		}
	}
	for _, k := range next {
		if !oldSet[string(k)] {
			added = append(added, k)
		}
	}
	return removed, added
}

// Lookup returns every locator posted under key in the named index.
func (m *Manager) Lookup(collection, path string, kind Kind, key []byte) []Locator {
	m.mu.RLock()
	def, ok := m.collections[collection][defKey(path, kind)]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return def.tree.Get(key)
}

// Range opens a cursor over [from, to) in the named index.
func (m *Manager) Range(collection, path string, kind Kind, from, to []byte, desc bool) (*omap.Cursor, error) {
	m.mu.RLock()
	def, ok := m.collections[collection][defKey(path, kind)]
	m.mu.RUnlock()
	if !ok {
		return nil, ejerr.New(ejerr.NotFound, "index: no such index").
			WithDetail("collection", collection).WithDetail("path", path).WithDetail("kind", string(kind))
	}
	// The omap cursor walks only the sorted region, so fold any unsorted
	// tail in first.
	def.tree.Repair()
	return def.tree.Range(from, to, desc), nil
}

// IndexInfo names one ensured index by its path and kind.
type IndexInfo struct {
	Path   string
	Kind   Kind
	Unique bool
}

// Definitions lists every (path, kind) pair ensured on collection, sorted
// for stable iteration (used by the planner to pick a driving index).
func (m *Manager) Definitions(collection string) []IndexInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	defs := m.collections[collection]
	out := make([]IndexInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, IndexInfo{Path: d.path, Kind: d.kind, Unique: d.unique})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
