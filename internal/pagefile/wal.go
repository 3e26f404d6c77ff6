package pagefile

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

// walSuffix names the before-image journal file sitting alongside the
// main page file. A single dirty bit plus a ".tmp" crash marker suffices
// for an append-then-blank strategy that never overwrites a live frame's
// bytes, but in-place slot reuse here can leave a frame half-written on
// crash, so each overwrite or delete first records the bytes it is about
// to clobber.
const walSuffix = ".wal"

// journalBeforeImage appends (offset, old frame bytes) to the WAL before
// pf.writer is allowed to mutate that frame. The journal is fsynced so the
// before-image is durable before the in-place write proceeds.
func (pf *File) journalBeforeImage(h frameHeader) error {
	wal, err := pf.root.OpenFile(pf.name+walSuffix, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "pagefile: open wal")
	}
	defer wal.Close()

	totalSize := 4 + int64(h.capacity)
	raw := make([]byte, totalSize)
	if _, err := pf.writer.ReadAt(raw, int64(h.offset)); err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "pagefile: read before-image")
	}

	var entry [12]byte
	binary.LittleEndian.PutUint64(entry[0:8], uint64(h.offset))
	binary.LittleEndian.PutUint32(entry[8:12], uint32(len(raw)))

	if _, err := wal.Write(entry[:]); err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "pagefile: write wal entry header")
	}
	if _, err := wal.Write(raw); err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "pagefile: write wal entry body")
	}
	return wal.Sync()
}

// replayWAL restores any before-images left by a crash mid-mutation, then
// truncates the journal. It must run before the free list is rebuilt so
// the scan sees post-rollback frame state.
func replayWAL(root *os.Root, name string, writer *os.File) error {
	walName := name + walSuffix
	wal, err := root.OpenFile(walName, os.O_RDONLY, 0644)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "pagefile: open wal for replay")
	}
	defer wal.Close()

	var entries []walEntry
	for {
		var hdr [12]byte
		if _, err := io.ReadFull(wal, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			// A torn trailing entry from a crash mid-journal-write; the
			// entries collected so far are still applied.
			break
		}
		offset := int64(binary.LittleEndian.Uint64(hdr[0:8]))
		length := int(binary.LittleEndian.Uint32(hdr[8:12]))
		body := make([]byte, length)
		if _, err := io.ReadFull(wal, body); err != nil {
			break
		}
		entries = append(entries, walEntry{offset: offset, body: body})
	}

	// Replay in reverse so the oldest before-image for a given offset
	// wins if it appears more than once in the journal.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if _, err := writer.WriteAt(e.body, e.offset); err != nil {
			return ejerr.Wrap(err, ejerr.IOError, "pagefile: wal replay write")
		}
	}
	if len(entries) > 0 {
		writer.Sync()
	}

	if err := root.Remove(walName); err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "pagefile: remove wal after replay")
	}
	return nil
}

type walEntry struct {
	offset int64
	body   []byte
}
