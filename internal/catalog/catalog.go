// Package catalog persists the database's collection and index metadata
// in a single JSON meta-document, generalizing a fixed-size binary header
// scheme (rewritten wholesale on every structural change) to an
// arbitrary-length document listing every collection and index rather
// than one collection's own section offsets.
package catalog

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/natefinch/atomic"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

const metaFileName = "catalog.json"

// Catalog is the in-memory, disk-backed registry of every collection in a
// database directory.
type Catalog struct {
	mu          sync.RWMutex
	path        string
	collections map[string]*CollectionDescriptor
}

type catalogDoc struct {
	Version     int                              `json:"version"`
	Collections map[string]*CollectionDescriptor `json:"collections"`
}

const catalogVersion = 1

// Open loads the catalog meta-document from dir, creating an empty one if
// none exists yet.
func Open(dir string) (*Catalog, error) {
	path := filepath.Join(dir, metaFileName)
	c := &Catalog{path: path, collections: map[string]*CollectionDescriptor{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, ejerr.Wrap(err, ejerr.IOError, "catalog: read meta document")
	}

	var doc catalogDoc
	if err := json.Unmarshal(bytes.TrimSpace(data), &doc); err != nil {
		return nil, ejerr.Wrap(err, ejerr.Corruption, "catalog: parse meta document")
	}
	if doc.Collections != nil {
		c.collections = doc.Collections
	}
	return c, nil
}

// save persists the catalog atomically: a temp file is written and
// renamed into place, so a crash mid-write never leaves a torn meta
// document. A fixed-size header can get the same guarantee by being
// small enough to write in one syscall, but the catalog's unbounded
// size rules that approach out.
func (c *Catalog) save() error {
	doc := catalogDoc{Version: catalogVersion, Collections: c.collections}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ejerr.Wrap(err, ejerr.Corruption, "catalog: marshal meta document")
	}
	if err := atomic.WriteFile(c.path, bytes.NewReader(data)); err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "catalog: atomic write meta document")
	}
	return nil
}

// EnsureCollection registers name if it does not already exist, applying
// opts to a fresh descriptor. It is a no-op if the collection is already
// registered.
func (c *Catalog) EnsureCollection(name string, opts CollectionDescriptor) (*CollectionDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.collections[name]; ok {
		return existing, nil
	}
	opts.Name = name
	c.collections[name] = &opts
	if err := c.save(); err != nil {
		delete(c.collections, name)
		return nil, err
	}
	return &opts, nil
}

// DropCollection removes name from the catalog. It reports not_found if
// the collection was never registered.
func (c *Catalog) DropCollection(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.collections[name]; !ok {
		return ejerr.New(ejerr.NotFound, "catalog: collection not found").WithDetail("collection", name)
	}
	removed := c.collections[name]
	delete(c.collections, name)
	if err := c.save(); err != nil {
		c.collections[name] = removed
		return err
	}
	return nil
}

// RenameCollection renames a registered collection in place.
func (c *Catalog) RenameCollection(oldName, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	desc, ok := c.collections[oldName]
	if !ok {
		return ejerr.New(ejerr.NotFound, "catalog: collection not found").WithDetail("collection", oldName)
	}
	if _, exists := c.collections[newName]; exists {
		return ejerr.New(ejerr.AlreadyExists, "catalog: target collection name already in use").
			WithDetail("collection", newName)
	}
	delete(c.collections, oldName)
	desc.Name = newName
	c.collections[newName] = desc
	if err := c.save(); err != nil {
		delete(c.collections, newName)
		desc.Name = oldName
		c.collections[oldName] = desc
		return err
	}
	return nil
}

// Collection returns the descriptor for name, if registered.
func (c *Catalog) Collection(name string) (*CollectionDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.collections[name]
	return d, ok
}

// Collections returns every registered collection name in sorted order,
// the stable iteration order the `meta()` public API operation needs.
func (c *Catalog) Collections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.collections))
	for name := range c.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnsureIndex adds idx to name's descriptor if an equivalent index
// (same path and kind) is not already present.
func (c *Catalog) EnsureIndex(name string, idx IndexDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	desc, ok := c.collections[name]
	if !ok {
		return ejerr.New(ejerr.NotFound, "catalog: collection not found").WithDetail("collection", name)
	}
	if _, exists := desc.FindIndex(idx.Path, idx.Kind); exists {
		return nil
	}
	desc.Indexes = append(desc.Indexes, idx)
	if err := c.save(); err != nil {
		desc.Indexes = desc.Indexes[:len(desc.Indexes)-1]
		return err
	}
	return nil
}

// RemoveIndex removes the index at path/kind from name's descriptor.
func (c *Catalog) RemoveIndex(name, path, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	desc, ok := c.collections[name]
	if !ok {
		return ejerr.New(ejerr.NotFound, "catalog: collection not found").WithDetail("collection", name)
	}
	for i := range desc.Indexes {
		if desc.Indexes[i].Path == path && desc.Indexes[i].Kind == kind {
			removed := desc.Indexes[i]
			desc.Indexes = append(desc.Indexes[:i], desc.Indexes[i+1:]...)
			if err := c.save(); err != nil {
				desc.Indexes = append(desc.Indexes, removed)
				return err
			}
			return nil
		}
	}
	return ejerr.New(ejerr.NotFound, "catalog: index not found").
		WithDetail("collection", name).WithDetail("path", path).WithDetail("kind", kind)
}

// Snapshot returns a defensive deep copy of the current catalog state,
// backing the public `meta()` API operation.
func (c *Catalog) Snapshot() map[string]CollectionDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]CollectionDescriptor, len(c.collections))
	for name, desc := range c.collections {
		cp := *desc
		cp.Indexes = append([]IndexDescriptor(nil), desc.Indexes...)
		out[name] = cp
	}
	return out
}
