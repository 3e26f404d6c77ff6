package ejdb

import (
	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/query"
)

// Exec parses q, plans it against collection's indexes, and runs it,
// returning the matched/updated documents (or a count, for
// `$onlycount` queries) and an execution trace describing which index
// (if any) drove the scan. The trace is always attached.
func (db *DB) Exec(collection string, q *bson.Object) (*query.Outcome, error) {
	coll, err := db.collection(collection)
	if err != nil {
		return nil, err
	}
	parsed, err := query.Parse(q)
	if err != nil {
		return nil, err
	}
	plan := query.Build(collection, parsed, coll.idx)
	return query.Execute(coll, collection, plan)
}
