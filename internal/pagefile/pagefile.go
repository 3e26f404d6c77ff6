// Package pagefile implements the engine's single-file record heap: an
// append-only store of length-framed binary records (deleted frames are
// tracked in a free list, but new records are always appended),
// one per collection, with before-image WAL journaling for crash recovery
// and optional per-record zstd compression.
//
// Unlike a line-delimited text format, frames carry their own length
// prefix so payloads may contain arbitrary binary bytes (an encoded BSON
// document). A Locator is the byte offset of a frame's header and is
// stable until the record is deleted or the file is compacted.
package pagefile

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

// State constants for concurrency control, mirroring the coarse
// reader/writer/exclusive phases a page file moves through during normal
// operation, compaction, and WAL replay.
const (
	StateAll    = 0 // readers and writers allowed
	StateRead   = 1 // only readers allowed (no operation in this package enters it)
	StateNone   = 2 // nothing allowed (entered by Compact)
	StateClosed = 3 // file closed
)

// Locator identifies a frame by its byte offset in the page file. It is
// the unit of reference every higher layer (catalog, index, query
// executor) stores instead of a pointer.
type Locator int64

// Options configures a page file at Open.
type Options struct {
	Compress   bool // zstd-compress record payloads
	SyncWrites bool // fsync after every mutating write
}

// File is an open page file.
type File struct {
	root   *os.Root
	name   string
	reader *os.File
	writer *os.File
	lock   *fileLock
	opts   Options

	mu    sync.RWMutex
	cond  *sync.Cond
	state atomic.Int32

	tail      int64 // current end of the heap
	freelist  *freeList
	liveCount atomic.Int64
}

// Open opens or creates a page file named name inside dir. A fresh file
// gets a minimal header; an existing file is scanned to rebuild its free
// list, and any leftover WAL journal is replayed before the file is
// usable.
func Open(dir, name string, opts Options) (*File, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: open root").WithDetail("dir", dir)
	}

	if _, err := root.Stat(name); os.IsNotExist(err) {
		f, err := root.Create(name)
		if err != nil {
			root.Close()
			return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: create").WithDetail("name", name)
		}
		if _, err := f.Write(headerBytes()); err != nil {
			f.Close()
			root.Close()
			return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: write header")
		}
		f.Sync()
		f.Close()
	}

	reader, err := root.OpenFile(name, os.O_RDONLY, 0644)
	if err != nil {
		root.Close()
		return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: open reader")
	}
	writer, err := root.OpenFile(name, os.O_RDWR, 0644)
	if err != nil {
		reader.Close()
		root.Close()
		return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: open writer")
	}

	pf := &File{
		root:   root,
		name:   name,
		reader: reader,
		writer: writer,
		lock:   &fileLock{f: writer},
		opts:   opts,
		cond:   sync.NewCond(&sync.Mutex{}),
	}

	// Hold an exclusive OS-level lock across WAL replay so a second
	// process opening the same file concurrently cannot observe a
	// partially rolled-back state.
	if err := pf.lock.Lock(LockExclusive); err != nil {
		reader.Close()
		writer.Close()
		root.Close()
		return nil, err
	}
	replayErr := replayWAL(root, name, writer)
	pf.lock.Unlock()
	if replayErr != nil {
		reader.Close()
		writer.Close()
		root.Close()
		return nil, replayErr
	}

	info, err := writer.Stat()
	if err != nil {
		reader.Close()
		writer.Close()
		root.Close()
		return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: stat")
	}
	pf.tail = info.Size()

	fl, live, err := rebuildFreeList(reader, headerSize, pf.tail)
	if err != nil {
		reader.Close()
		writer.Close()
		root.Close()
		return nil, err
	}
	pf.freelist = fl
	pf.liveCount.Store(live)

	return pf, nil
}

// Close flushes and releases the underlying file handles. A clean
// shutdown leaves no half-finished mutation to roll back, so once the
// heap is flushed the before-image journal is discarded.
func (pf *File) Close() error {
	pf.cond.L.Lock()
	pf.state.Store(StateClosed)
	pf.cond.Broadcast()
	pf.cond.L.Unlock()

	pf.mu.Lock()
	defer pf.mu.Unlock()

	pf.lock.setFile(nil)
	var firstErr error
	if err := pf.writer.Sync(); err != nil {
		firstErr = err
	} else if err := pf.root.Remove(pf.name + walSuffix); err != nil && !os.IsNotExist(err) {
		firstErr = err
	}
	if err := pf.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := pf.reader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := pf.root.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return ejerr.Wrap(firstErr, ejerr.IOError, "pagefile: close")
	}
	return nil
}

// Sync fsyncs the underlying file.
func (pf *File) Sync() error {
	if err := pf.writer.Sync(); err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "pagefile: sync")
	}
	return nil
}

// LiveCount returns the number of non-deleted frames, maintained
// incrementally rather than recomputed by a scan.
func (pf *File) LiveCount() int64 {
	return pf.liveCount.Load()
}

func (pf *File) blockRead() error {
	pf.cond.L.Lock()
	for pf.state.Load() == StateNone {
		pf.cond.Wait()
	}
	st := pf.state.Load()
	pf.cond.L.Unlock()
	if st == StateClosed {
		return ejerr.New(ejerr.Unsupported, "pagefile: file is closed")
	}
	pf.mu.RLock()
	return nil
}

func (pf *File) blockWrite() error {
	pf.cond.L.Lock()
	for pf.state.Load() != StateAll && pf.state.Load() != StateClosed {
		pf.cond.Wait()
	}
	st := pf.state.Load()
	pf.cond.L.Unlock()
	if st == StateClosed {
		return ejerr.New(ejerr.Unsupported, "pagefile: file is closed")
	}
	pf.mu.Lock()
	return nil
}
