package ejdb

import (
	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/txn"
)

// Txn is a handle to an in-flight per-collection transaction.
type Txn struct {
	t    *txn.Txn
	coll *Collection
}

// Begin opens a transaction against collection, taking its write lock
// for the duration. A second Begin against the same collection before
// the first commits or aborts fails with transaction_conflict rather
// than blocking.
func (db *DB) Begin(collection string) (*Txn, error) {
	coll, err := db.collection(collection)
	if err != nil {
		return nil, err
	}
	t, err := db.txns.Begin(collection)
	if err != nil {
		return nil, err
	}
	return &Txn{t: t, coll: coll}, nil
}

// Commit finalizes tx: it fsyncs the collection's page file, then
// discards the undo log and releases the lock.
func (db *DB) Commit(tx *Txn) error {
	if err := tx.coll.pf.Sync(); err != nil {
		return err
	}
	return db.txns.Commit(tx.t)
}

// Abort reverses every mutation tx has logged, in last-applied-first
// order, then releases its lock.
func (db *DB) Abort(tx *Txn) error {
	return db.txns.Abort(tx.t, tx.coll)
}

// Save inserts doc within tx, logging an undo record so an Abort deletes
// it again.
func (tx *Txn) Save(doc *bson.Object) (string, error) {
	id, hadID := doc.Get("_id")
	next := doc
	var idStr string
	if hadID && id.Kind != bson.KindNull && id.Kind != bson.KindUndefined {
		idStr = idToString(id)
	} else {
		oid := bson.NewOID()
		idStr = oid.String()
		next = doc.Clone()
		next.Set("_id", bson.OIDValue(oid))
	}
	loc, err := tx.coll.Insert(next)
	if err != nil {
		return "", err
	}
	if err := tx.t.LogInsert(loc); err != nil {
		return "", err
	}
	return idStr, nil
}

// Replace overwrites the document at id within tx, logging its
// pre-update state so an Abort can restore it.
func (tx *Txn) Replace(id string, doc *bson.Object) error {
	loc, old, err := tx.coll.lookupID(id)
	if err != nil {
		return err
	}
	next := doc.Clone()
	next.Set("_id", mustGet(old, "_id"))
	if err := tx.coll.Replace(loc, old, next); err != nil {
		return err
	}
	return tx.t.LogReplace(loc, old)
}

// Remove deletes the document at id within tx, logging its pre-delete
// state so an Abort can reinsert it.
func (tx *Txn) Remove(id string) error {
	loc, doc, err := tx.coll.lookupID(id)
	if err != nil {
		return err
	}
	if err := tx.coll.Delete(loc, doc); err != nil {
		return err
	}
	return tx.t.LogDelete(loc, doc)
}
