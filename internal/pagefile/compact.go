package pagefile

import (
	"os"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

// Remap carries a live frame's old and new locator after Compact, so the
// catalog and index manager can rewrite the locators they cached.
type Remap struct {
	Old Locator
	New Locator
}

// Compact rewrites the page file into a fresh one containing only live
// frames, tightly packed with no free-list slack, and returns the
// old-to-new locator mapping for every live frame (including those whose
// offset did not change). It blocks all
// access for the duration, generalizing a fixed-record-size repair pass
// into a format with variable-capacity frames instead of fixed 128-byte
// records.
func (pf *File) Compact() ([]Remap, error) {
	pf.cond.L.Lock()
	pf.state.Store(StateNone)
	pf.cond.L.Unlock()
	defer func() {
		pf.cond.L.Lock()
		pf.state.Store(StateAll)
		pf.cond.Broadcast()
		pf.cond.L.Unlock()
	}()

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if err := pf.lock.Lock(LockExclusive); err != nil {
		return nil, err
	}
	defer pf.lock.Unlock()

	tmpName := pf.name + ".compact.tmp"
	tmp, err := pf.root.Create(tmpName)
	if err != nil {
		return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: create compact tmp")
	}

	if _, err := tmp.Write(headerBytes()); err != nil {
		tmp.Close()
		pf.root.Remove(tmpName)
		return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: write compact header")
	}

	var remaps []Remap
	writeOff := int64(headerSize)
	off := int64(headerSize)
	for off < pf.tail {
		h, err := readFrameHeader(pf.reader, off)
		if err != nil {
			tmp.Close()
			pf.root.Remove(tmpName)
			return nil, err
		}
		frameSize := 4 + int64(h.capacity)
		if !h.deleted() {
			raw := make([]byte, frameSize)
			if _, err := pf.reader.ReadAt(raw, off); err != nil {
				tmp.Close()
				pf.root.Remove(tmpName)
				return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: compact read frame")
			}
			if _, err := tmp.WriteAt(raw, writeOff); err != nil {
				tmp.Close()
				pf.root.Remove(tmpName)
				return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: compact write frame")
			}
			remaps = append(remaps, Remap{Old: h.offset, New: Locator(writeOff)})
			writeOff += frameSize
		}
		off += frameSize
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		pf.root.Remove(tmpName)
		return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: sync compact tmp")
	}
	tmp.Close()

	pf.lock.setFile(nil)
	pf.reader.Close()
	pf.writer.Close()

	if err := pf.root.Rename(tmpName, pf.name); err != nil {
		return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: rename compact tmp")
	}

	reader, err := pf.root.OpenFile(pf.name, os.O_RDONLY, 0644)
	if err != nil {
		return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: reopen reader after compact")
	}
	writer, err := pf.root.OpenFile(pf.name, os.O_RDWR, 0644)
	if err != nil {
		reader.Close()
		return nil, ejerr.Wrap(err, ejerr.IOError, "pagefile: reopen writer after compact")
	}
	pf.reader = reader
	pf.writer = writer
	pf.lock.setFile(writer)
	pf.tail = writeOff
	pf.freelist = newFreeList()
	pf.liveCount.Store(int64(len(remaps)))

	return remaps, nil
}
