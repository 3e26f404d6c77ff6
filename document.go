package ejdb

import (
	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/catalog"
	"github.com/jpl-au/ejdb/internal/ejerr"
	"github.com/jpl-au/ejdb/internal/index"
)

// Save inserts doc into collection, creating the collection with default
// tuning if it does not exist yet. If doc already carries an `_id` it is
// kept as-is (and rejected with already_exists if that id is taken);
// otherwise a fresh object id is generated. Returns the document's id.
func (db *DB) Save(collection string, doc *bson.Object) (string, error) {
	coll, err := db.collectionForWrite(collection)
	if err != nil {
		return "", err
	}

	id, hadID := doc.Get("_id")
	var idStr string
	if hadID && id.Kind != bson.KindNull && id.Kind != bson.KindUndefined {
		idStr = idToString(id)
		if locs := coll.idx.Lookup(coll.name, "_id", index.KindString, []byte(idStr)); len(locs) > 0 {
			return "", ejerr.New(ejerr.AlreadyExists, "ejdb: document with that _id already exists").
				WithDetail("collection", collection).WithDetail("_id", idStr)
		}
	} else {
		oid := bson.NewOID()
		idStr = oid.String()
		doc = doc.Clone()
		doc.Set("_id", bson.OIDValue(oid))
	}

	if _, err := coll.Insert(doc); err != nil {
		return "", err
	}
	return idStr, nil
}

// Replace overwrites the document at id with doc in full, keeping the
// existing `_id`: `_id` is immutable once a document has been saved, so
// a doc carrying a different `_id` is rejected with invalid_argument.
func (db *DB) Replace(collection, id string, doc *bson.Object) error {
	coll, err := db.collection(collection)
	if err != nil {
		return err
	}
	loc, old, err := coll.lookupID(id)
	if err != nil {
		return err
	}
	if v, ok := doc.Get("_id"); ok && idToString(v) != id {
		return ejerr.New(ejerr.InvalidArgument, "ejdb: _id is immutable").
			WithDetail("collection", collection).WithDetail("_id", id)
	}
	next := doc.Clone()
	next.Set("_id", mustGet(old, "_id"))
	return coll.Replace(loc, old, next)
}

// Load returns the document stored under id in collection.
func (db *DB) Load(collection, id string) (*bson.Object, error) {
	coll, err := db.collection(collection)
	if err != nil {
		return nil, err
	}
	_, doc, err := coll.lookupID(id)
	return doc, err
}

// Remove deletes the document stored under id in collection.
func (db *DB) Remove(collection, id string) error {
	coll, err := db.collection(collection)
	if err != nil {
		return err
	}
	loc, doc, err := coll.lookupID(id)
	if err != nil {
		return err
	}
	return coll.Delete(loc, doc)
}

// Patch applies a JSON Patch (RFC 6902) document to the record stored
// under id and persists the result. `_id` cannot be altered this way:
// an op that targets "/_id" is rejected before anything is written.
func (db *DB) Patch(collection, id string, ops []bson.JSONPatchOp) (*bson.Object, error) {
	for _, op := range ops {
		if op.Path == "/_id" {
			return nil, ejerr.New(ejerr.InvalidArgument, "ejdb: _id is immutable").
				WithDetail("collection", collection).WithDetail("_id", id)
		}
	}
	coll, err := db.collection(collection)
	if err != nil {
		return nil, err
	}
	loc, old, err := coll.lookupID(id)
	if err != nil {
		return nil, err
	}
	patched, err := bson.ApplyJSONPatch(old, ops)
	if err != nil {
		return nil, err
	}
	if err := coll.Replace(loc, old, patched); err != nil {
		return nil, err
	}
	return patched, nil
}

// PatchUpsert behaves like Patch, except that if no document exists
// under id yet, the patch is applied to an empty document (seeded with
// that id) and the result is inserted rather than rejected with
// not_found.
func (db *DB) PatchUpsert(collection, id string, ops []bson.JSONPatchOp) (*bson.Object, error) {
	doc, err := db.Patch(collection, id, ops)
	if err == nil || !ejerr.Is(err, ejerr.NotFound) {
		return doc, err
	}
	seed := bson.NewObject()
	seed.Set("_id", bson.StringValue(id))
	patched, err := bson.ApplyJSONPatch(seed, ops)
	if err != nil {
		return nil, err
	}
	patched.Set("_id", bson.StringValue(id))
	if _, err := db.Save(collection, patched); err != nil {
		return nil, err
	}
	return patched, nil
}

func idToString(v bson.Value) string {
	if v.Kind == bson.KindOID {
		return v.OID.String()
	}
	return v.Str
}

func mustGet(doc *bson.Object, key string) bson.Value {
	v, _ := doc.Get(key)
	return v
}

// collectionForWrite resolves a name to its open Collection, creating
// the collection with default tuning if it was never ensured.
func (db *DB) collectionForWrite(name string) (*Collection, error) {
	db.mu.RLock()
	coll, ok := db.collections[name]
	db.mu.RUnlock()
	if ok {
		return coll, nil
	}
	if _, err := db.EnsureCollection(name, catalog.CollectionDescriptor{}); err != nil {
		return nil, err
	}
	return db.collection(name)
}
