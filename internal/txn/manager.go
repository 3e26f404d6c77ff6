package txn

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/ejerr"
	"github.com/jpl-au/ejdb/internal/index"
)

// Locator is the record-heap address an undo record refers back to.
type Locator = index.Locator

// UndoKind identifies which inverse operation an UndoRecord describes.
type UndoKind int

const (
	UndoInsert UndoKind = iota
	UndoReplace
	UndoDelete
)

// UndoRecord is one logged mutation, in enough detail to reverse it:
// undoing an insert deletes the record; undoing a replace or a delete
// restores Before. Locator is the record's address when it was logged.
type UndoRecord struct {
	Kind    UndoKind
	Locator Locator
	Before  *bson.Object
}

// Undoer is the storage-side hook a transaction calls during Abort to
// actually reverse each logged mutation, both the document and its index
// entries. A collection implements this by composing internal/pagefile
// and internal/index the same way it implements query.Mutator.
type Undoer interface {
	UndoInsert(loc Locator) error
	UndoReplace(loc Locator, before *bson.Object) error
	UndoDelete(loc Locator, before *bson.Object) error
}

// Txn is one in-flight transaction against a single collection.
type Txn struct {
	collection string
	lock       *sync.RWMutex
	journal    *journal
	records    []UndoRecord
	closed     bool
}

// Collection returns the name of the collection this transaction holds.
func (t *Txn) Collection() string { return t.collection }

// LogInsert records that loc was freshly inserted; aborting the
// transaction will delete it.
func (t *Txn) LogInsert(loc Locator) error {
	return t.log(UndoRecord{Kind: UndoInsert, Locator: loc})
}

// LogReplace records a document's pre-update state; aborting the
// transaction will restore it.
func (t *Txn) LogReplace(loc Locator, before *bson.Object) error {
	return t.log(UndoRecord{Kind: UndoReplace, Locator: loc, Before: before})
}

// LogDelete records a document's state immediately before deletion;
// aborting the transaction hands it to the Undoer for reinsertion. The
// collection's Undoer appends it as a new record, so it comes back at a
// different locator from the one logged.
func (t *Txn) LogDelete(loc Locator, before *bson.Object) error {
	return t.log(UndoRecord{Kind: UndoDelete, Locator: loc, Before: before})
}

func (t *Txn) log(rec UndoRecord) error {
	if t.journal != nil {
		if err := t.journal.append(rec); err != nil {
			return err
		}
	}
	t.records = append(t.records, rec)
	return nil
}

// Manager coordinates at most one open transaction per collection,
// serialized by the collection's write lock, with an on-disk journal
// mirroring the in-memory undo log so a process crash mid-transaction
// leaves behind a journal that Recover can replay as an abort.
type Manager struct {
	dir   string
	locks *LockTable

	mu     sync.Mutex
	active map[string]*Txn
}

// NewManager returns a Manager whose journal files live under dir.
func NewManager(dir string, locks *LockTable) *Manager {
	return &Manager{dir: dir, locks: locks, active: make(map[string]*Txn)}
}

// Begin starts a transaction on collection, taking its write lock for the
// duration. Nested begins on the same collection are rejected, and
// immediately rather than by blocking until the holder commits: a caller
// that wants to wait for a busy collection retries on its own terms
// instead of queuing inside the manager.
func (m *Manager) Begin(collection string) (*Txn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[collection]; ok {
		return nil, ejerr.New(ejerr.TransactionConflict, "txn: transaction already open").
			WithDetail("collection", collection)
	}
	lock := m.locks.Get(collection)
	if !lock.TryLock() {
		return nil, ejerr.New(ejerr.TransactionConflict, "txn: collection is locked by another writer").
			WithDetail("collection", collection)
	}

	j, err := openJournal(m.dir, collection)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	t := &Txn{collection: collection, lock: lock, journal: j}
	m.active[collection] = t
	return t, nil
}

// Commit discards the transaction's undo log and releases its write
// lock. The journal is removed last (DB.Commit fsyncs the page file
// before calling this; indexes are rebuilt from the page file on open),
// so a crash between
// the last mutation and Commit simply looks like an unfinished
// transaction to Recover.
func (m *Manager) Commit(t *Txn) error {
	return m.end(t, func() error { return t.journal.discard() })
}

// Abort reverses every logged mutation in last-applied-first order via u,
// then discards the journal and releases the write lock.
func (m *Manager) Abort(t *Txn, u Undoer) error {
	return m.end(t, func() error {
		if err := applyUndo(t.records, u); err != nil {
			return err
		}
		return t.journal.discard()
	})
}

func (m *Manager) end(t *Txn, finish func() error) error {
	if t.closed {
		return ejerr.New(ejerr.InvalidArgument, "txn: transaction already closed")
	}
	err := finish()
	t.closed = true
	t.lock.Unlock()

	m.mu.Lock()
	delete(m.active, t.collection)
	m.mu.Unlock()
	return err
}

func applyUndo(records []UndoRecord, u Undoer) error {
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		var err error
		switch r.Kind {
		case UndoInsert:
			err = u.UndoInsert(r.Locator)
		case UndoReplace:
			err = u.UndoReplace(r.Locator, r.Before)
		case UndoDelete:
			err = u.UndoDelete(r.Locator, r.Before)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Recover scans collection's journal directory for a leftover journal
// file from a process that crashed mid-transaction and, if one exists,
// replays it through u as an abort. Call this once per collection before
// any Begin, the same way internal/pagefile replays its own WAL on Open.
func (m *Manager) Recover(collection string, u Undoer) error {
	path := journalPath(m.dir, collection)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	records, err := readJournal(path)
	if err != nil {
		return err
	}
	if err := applyUndo(records, u); err != nil {
		return err
	}
	return os.Remove(path)
}

func journalPath(dir, collection string) string {
	return filepath.Join(dir, collection+".txnlog")
}
