package pagefile

import (
	"github.com/jpl-au/ejdb/internal/ejerr"
)

// Append writes data as a brand-new frame at the tail of the file and
// returns its locator. It never consults the free list — callers that
// want slot reuse on update should use Put.
func (pf *File) Append(data []byte) (Locator, error) {
	if err := pf.blockWrite(); err != nil {
		return 0, err
	}
	defer pf.mu.Unlock()
	return pf.appendLocked(data)
}

func (pf *File) appendLocked(data []byte) (Locator, error) {
	frame := encodeFrame(data, pf.opts.Compress)
	offset := pf.tail
	if _, err := pf.writer.WriteAt(frame, offset); err != nil {
		return 0, ejerr.Wrap(err, ejerr.IOError, "pagefile: append")
	}
	pf.tail += int64(len(frame))
	pf.liveCount.Add(1)
	if pf.opts.SyncWrites {
		pf.writer.Sync()
	}
	return Locator(offset), nil
}

// Put writes data, reusing loc's existing slot in place if the new
// payload still fits, or appending a new frame and freeing the old slot
// otherwise. The before-image of the old frame is journaled so a crash
// mid-write can be rolled back on the next Open.
func (pf *File) Put(loc Locator, data []byte) (Locator, error) {
	if err := pf.blockWrite(); err != nil {
		return 0, err
	}
	defer pf.mu.Unlock()

	old, err := readFrameHeader(pf.writer, int64(loc))
	if err != nil {
		return 0, err
	}
	if old.deleted() {
		return 0, ejerr.New(ejerr.NotFound, "pagefile: put target is deleted").WithDetail("locator", int64(loc))
	}

	if body, err := encodeFrameBody(data, pf.opts.Compress, old.capacity); err == nil {
		if err := pf.journalBeforeImage(old); err != nil {
			return 0, err
		}
		if _, err := pf.writer.WriteAt(body, int64(loc)+4); err != nil {
			return 0, ejerr.Wrap(err, ejerr.IOError, "pagefile: overwrite in place")
		}
		if pf.opts.SyncWrites {
			pf.writer.Sync()
		}
		return loc, nil
	}

	newLoc, err := pf.appendLocked(data)
	if err != nil {
		return 0, err
	}
	if err := pf.freeLocked(old); err != nil {
		return 0, err
	}
	return newLoc, nil
}

// Delete marks loc's frame as deleted and records its slot in the free
// list.
func (pf *File) Delete(loc Locator) error {
	if err := pf.blockWrite(); err != nil {
		return err
	}
	defer pf.mu.Unlock()

	h, err := readFrameHeader(pf.writer, int64(loc))
	if err != nil {
		return err
	}
	if h.deleted() {
		return ejerr.New(ejerr.NotFound, "pagefile: already deleted").WithDetail("locator", int64(loc))
	}
	return pf.freeLocked(h)
}

func (pf *File) freeLocked(h frameHeader) error {
	if err := pf.journalBeforeImage(h); err != nil {
		return err
	}
	flagByte := []byte{h.flags | flagDeleted}
	if _, err := pf.writer.WriteAt(flagByte, int64(h.offset)+4); err != nil {
		return ejerr.Wrap(err, ejerr.IOError, "pagefile: mark deleted")
	}
	pf.freelist.add(freeSlot{offset: h.offset, capacity: h.capacity})
	pf.liveCount.Add(-1)
	if pf.opts.SyncWrites {
		pf.writer.Sync()
	}
	return nil
}
