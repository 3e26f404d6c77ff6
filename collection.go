package ejdb

import (
	"context"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/catalog"
	"github.com/jpl-au/ejdb/internal/ejerr"
	"github.com/jpl-au/ejdb/internal/index"
	"github.com/jpl-au/ejdb/internal/pagefile"
	"github.com/jpl-au/ejdb/internal/query"
)

// Collection is one registered collection: its page file, the shared
// index manager (scoped by collection name on every call, so one
// Manager instance serves every collection in the database), and an
// optional decoded-record cache keyed by locator.
type Collection struct {
	name string
	pf   *pagefile.File
	idx  *index.Manager

	cache *bigcache.BigCache
}

// openCollection opens desc's page file, ensures its indexes against the
// shared manager, and rebuilds every index from a full scan since none of
// them persist across a restart (see DESIGN.md's Open Question decision:
// reconstruct-on-open over on-disk index persistence).
func (db *DB) openCollection(desc catalog.CollectionDescriptor) (*Collection, error) {
	pf, err := pagefile.Open(db.dir, desc.Name, pagefile.Options{Compress: desc.Compress})
	if err != nil {
		return nil, err
	}

	if err := db.idx.EnsurePrimary(desc.Name); err != nil {
		pf.Close()
		return nil, err
	}
	for _, id := range desc.Indexes {
		if err := db.idx.EnsureIndex(desc.Name, id.Path, index.Kind(id.Kind), id.Unique); err != nil {
			pf.Close()
			return nil, err
		}
	}

	c := &Collection{name: desc.Name, pf: pf, idx: db.idx}

	if desc.CacheSizeMB > 0 {
		cache, err := newRecordCache(desc.CacheSizeMB)
		if err != nil {
			pf.Close()
			return nil, err
		}
		c.cache = cache
	}

	var entries []index.RebuildEntry
	if err := pf.Scan(func(e pagefile.Entry) error {
		doc, err := bson.Decode(e.Data)
		if err != nil {
			return err
		}
		entries = append(entries, index.RebuildEntry{Locator: index.Locator(e.Locator), Doc: doc})
		return nil
	}); err != nil {
		pf.Close()
		return nil, err
	}
	if err := db.idx.Rebuild(desc.Name, entries); err != nil {
		pf.Close()
		return nil, err
	}

	return c, nil
}

// newRecordCache builds a per-collection decoded-document cache sized in
// megabytes, whose entries expire ten minutes after they were cached.
func newRecordCache(sizeMB int) (*bigcache.BigCache, error) {
	cfg := bigcache.DefaultConfig(10 * time.Minute)
	cfg.HardMaxCacheSize = sizeMB
	return bigcache.New(context.Background(), cfg)
}

func (c *Collection) close() error {
	return c.pf.Close()
}

func cacheKey(loc pagefile.Locator) string {
	return strconv.FormatInt(int64(loc), 10)
}

func (c *Collection) cacheGet(loc pagefile.Locator) (*bson.Object, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, err := c.cache.Get(cacheKey(loc))
	if err != nil {
		return nil, false
	}
	doc, err := bson.Decode(raw)
	if err != nil {
		return nil, false
	}
	return doc, true
}

func (c *Collection) cachePut(loc pagefile.Locator, doc *bson.Object) {
	if c.cache == nil {
		return
	}
	c.cache.Set(cacheKey(loc), bson.Encode(doc))
}

func (c *Collection) cacheDelete(loc pagefile.Locator) {
	if c.cache == nil {
		return
	}
	c.cache.Delete(cacheKey(loc))
}

// Load implements query.Store, reading through the record cache when one
// is configured.
func (c *Collection) Load(loc query.Locator) (*bson.Object, error) {
	pl := pagefile.Locator(loc)
	if doc, ok := c.cacheGet(pl); ok {
		return doc, nil
	}
	raw, err := c.pf.Read(pl)
	if err != nil {
		return nil, err
	}
	doc, err := bson.Decode(raw)
	if err != nil {
		return nil, err
	}
	c.cachePut(pl, doc)
	return doc, nil
}

// Scan implements query.Store's full-scan fallback.
func (c *Collection) Scan(fn func(query.Locator, *bson.Object) error) error {
	return c.pf.Scan(func(e pagefile.Entry) error {
		doc, err := bson.Decode(e.Data)
		if err != nil {
			return err
		}
		return fn(query.Locator(e.Locator), doc)
	})
}

// Index implements query.Store.
func (c *Collection) Index() *index.Manager { return c.idx }

// Insert implements query.Mutator: append the encoded document, then
// index it at the locator it landed on.
func (c *Collection) Insert(doc *bson.Object) (query.Locator, error) {
	loc, err := c.pf.Append(bson.Encode(doc))
	if err != nil {
		return 0, err
	}
	if err := c.idx.Insert(c.name, index.Locator(loc), doc); err != nil {
		c.pf.Delete(loc)
		return 0, err
	}
	return query.Locator(loc), nil
}

// Replace implements query.Mutator. Index maintenance runs before the
// page-file write: Manager.Replace is all-or-nothing (see manager.go), so
// if it rejects newDoc (a unique violation) the page file is never
// touched and the call is a true no-op. Only once the index has accepted
// newDoc does Replace write it to disk; pagefile.Put relocates the record
// to a fresh locator when the new payload no longer fits the old slot, in
// which case the index entries just committed under the old locator are
// moved to the new one. If the page-file write itself fails, the index is
// put back to oldDoc so the two stay consistent.
func (c *Collection) Replace(loc query.Locator, oldDoc, newDoc *bson.Object) error {
	pl := pagefile.Locator(loc)
	if err := c.idx.Replace(c.name, index.Locator(pl), oldDoc, newDoc); err != nil {
		return err
	}

	newLoc, err := c.pf.Put(pl, bson.Encode(newDoc))
	if err != nil {
		c.idx.Replace(c.name, index.Locator(pl), newDoc, oldDoc)
		return err
	}
	c.cacheDelete(pl)
	if newLoc == pl {
		return nil
	}
	c.idx.Remove(c.name, index.Locator(pl), newDoc)
	if err := c.idx.Insert(c.name, index.Locator(newLoc), newDoc); err != nil {
		return err
	}
	return nil
}

// Delete implements query.Mutator.
func (c *Collection) Delete(loc query.Locator, doc *bson.Object) error {
	pl := pagefile.Locator(loc)
	if err := c.pf.Delete(pl); err != nil {
		return err
	}
	c.cacheDelete(pl)
	c.idx.Remove(c.name, index.Locator(pl), doc)
	return nil
}

// UndoInsert implements txn.Undoer: reverse an insert by deleting the
// record and its index entries.
func (c *Collection) UndoInsert(loc query.Locator) error {
	doc, err := c.Load(loc)
	if err != nil {
		return err
	}
	return c.Delete(loc, doc)
}

// UndoReplace implements txn.Undoer: restore before's content and repair
// the index in the same symmetric-diff fashion Replace uses. The record
// is found through before's `_id`, because a Replace that outgrew its
// slot (or an UndoDelete reinsertion) leaves it at a different locator
// from the one logged; loc is used only when that lookup fails.
func (c *Collection) UndoReplace(loc query.Locator, before *bson.Object) error {
	if id, ok := before.Get("_id"); ok {
		if cur, _, err := c.lookupID(idToString(id)); err == nil {
			loc = cur
		}
	}
	current, err := c.Load(loc)
	if err != nil {
		return err
	}
	return c.Replace(loc, current, before)
}

// UndoDelete implements txn.Undoer: reinsert before's content. The page
// file has no call that writes a record back into a deleted slot, so the
// journal's locator is no longer addressable and the record is
// reinserted as a fresh append at a new locator.
func (c *Collection) UndoDelete(loc query.Locator, before *bson.Object) error {
	_, err := c.Insert(before)
	return err
}

// lookupID resolves a public string id to its current locator via the
// implicit primary index.
func (c *Collection) lookupID(id string) (query.Locator, *bson.Object, error) {
	locs := c.idx.Lookup(c.name, "_id", index.KindString, []byte(id))
	if len(locs) == 0 {
		return 0, nil, ejerr.New(ejerr.NotFound, "ejdb: no document with that id").
			WithDetail("collection", c.name).WithDetail("_id", id)
	}
	loc := query.Locator(locs[0])
	doc, err := c.Load(loc)
	if err != nil {
		return 0, nil, err
	}
	return loc, doc, nil
}
