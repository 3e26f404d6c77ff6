package txn

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/ejerr"
)

// journal mirrors a transaction's in-memory undo log to disk, one
// length-prefixed bson-encoded UndoRecord per append, fsynced
// immediately — the same append-then-sync shape internal/pagefile's own
// WAL uses for its before-images, reused here instead of inventing a
// second journal format.
type journal struct {
	f    *os.File
	path string
}

func openJournal(dir, collection string) (*journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ejerr.Wrap(err, ejerr.IOError, "txn: create journal directory")
	}
	path := journalPath(dir, collection)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ejerr.Wrap(err, ejerr.IOError, "txn: open journal")
	}
	return &journal{f: f, path: path}, nil
}

func (j *journal) append(rec UndoRecord) error {
	body := bson.Encode(encodeUndoRecord(rec))
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := j.f.Write(hdr[:]); err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "txn: write journal entry header")
	}
	if _, err := j.f.Write(body); err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "txn: write journal entry body")
	}
	return j.f.Sync()
}

// discard closes and removes the journal file, the on-disk equivalent of
// both the commit sequence's "truncate journal" step and the abort
// sequence's "discard journal" step — by the time either runs, the undo
// records have already served their purpose (ignored on commit, replayed
// on abort).
func (j *journal) discard() error {
	j.f.Close()
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return ejerr.Wrap(err, ejerr.IOError, "txn: remove journal")
	}
	return nil
}

func readJournal(path string) ([]UndoRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ejerr.Wrap(err, ejerr.IOError, "txn: open journal for recovery")
	}
	defer f.Close()

	var records []UndoRecord
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			break // clean EOF or a torn trailing entry from a crash mid-append
		}
		n := binary.LittleEndian.Uint32(hdr[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(f, body); err != nil {
			break
		}
		rec, err := decodeUndoRecord(body)
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeUndoRecord(r UndoRecord) *bson.Object {
	o := bson.NewObject()
	o.Set("k", bson.Int64Value(int64(r.Kind)))
	o.Set("l", bson.Int64Value(int64(r.Locator)))
	if r.Before != nil {
		o.Set("b", bson.ObjectValue(r.Before))
	}
	return o
}

func decodeUndoRecord(data []byte) (UndoRecord, error) {
	obj, err := bson.Decode(data)
	if err != nil {
		return UndoRecord{}, err
	}
	k, _ := obj.Get("k")
	l, _ := obj.Get("l")
	rec := UndoRecord{Kind: UndoKind(k.Int64), Locator: Locator(l.Int64)}
	if b, ok := obj.Get("b"); ok {
		rec.Before = b.Object
	}
	return rec, nil
}
