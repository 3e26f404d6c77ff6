// Package ejdb is an embedded, schemaless document database: applications
// open a directory, ensure collections, save JSON-like documents, index
// arbitrary field paths, and retrieve documents by primary key or by rich
// query expressions.
//
// DB is the opaque handle every operation hangs off. It owns the
// catalog (collection/index metadata), one Collection per registered
// collection (each its own page file, index set, and record cache), and
// the transaction manager coordinating per-collection begin/commit/abort.
package ejdb

import (
	"sync"

	"go.uber.org/zap"

	"github.com/jpl-au/ejdb/internal/catalog"
	"github.com/jpl-au/ejdb/internal/ejerr"
	"github.com/jpl-au/ejdb/internal/index"
	"github.com/jpl-au/ejdb/internal/txn"
)

// Options configures Open.
type Options struct {
	// Logger receives one structured event for each collection Open
	// reopens. Defaults to a no-op logger.
	Logger *zap.Logger
}

// DB is an open database directory.
type DB struct {
	dir     string
	log     *zap.Logger
	catalog *catalog.Catalog
	idx     *index.Manager

	mu          sync.RWMutex
	collections map[string]*Collection

	locks *txn.LockTable
	txns  *txn.Manager
}

// Open opens or creates a database rooted at dir, reopening every
// collection the catalog already knows about (replaying each one's page
// file WAL and recovering any leftover transaction journal along the
// way, the same crash-recovery sequence internal/pagefile.Open and
// internal/txn.Manager.Recover already implement individually).
func Open(dir string, opts Options) (*DB, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cat, err := catalog.Open(dir)
	if err != nil {
		return nil, err
	}
	locks := txn.NewLockTable()
	db := &DB{
		dir:         dir,
		log:         log,
		catalog:     cat,
		idx:         index.NewManager(),
		collections: make(map[string]*Collection),
		locks:       locks,
		txns:        txn.NewManager(dir, locks),
	}

	for _, name := range cat.Collections() {
		desc, _ := cat.Collection(name)
		coll, err := db.openCollection(*desc)
		if err != nil {
			db.closeAll()
			return nil, err
		}
		if err := db.txns.Recover(name, coll); err != nil {
			db.closeAll()
			return nil, err
		}
		db.collections[name] = coll
		log.Info("collection opened", zap.String("collection", name), zap.Int64("live", coll.pf.LiveCount()))
	}
	return db, nil
}

// Close flushes and releases every open collection's resources.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closeAllLocked()
}

func (db *DB) closeAll() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closeAllLocked()
}

func (db *DB) closeAllLocked() error {
	var firstErr error
	for name, coll := range db.collections {
		if err := coll.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(db.collections, name)
	}
	return firstErr
}

// Sync fsyncs every open collection's page file.
func (db *DB) Sync() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, coll := range db.collections {
		if err := coll.pf.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) collection(name string) (*Collection, error) {
	db.mu.RLock()
	coll, ok := db.collections[name]
	db.mu.RUnlock()
	if !ok {
		return nil, ejerr.New(ejerr.NotFound, "ejdb: collection not found").WithDetail("collection", name)
	}
	return coll, nil
}
