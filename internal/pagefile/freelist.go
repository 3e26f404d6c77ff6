package pagefile

import (
	"os"
	"sort"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

// freeList tracks deleted frame slots by capacity, with a best-fit take.
// Append and a relocating Put always extend the file and take nothing
// from it, so the space of deleted frames is reclaimed only by Compact.
// It is rebuilt from a scan at Open rather than persisted, since every
// frame already carries the deleted flag needed to reconstruct it.
type freeList struct {
	// slots is kept sorted by capacity ascending for a binary-search
	// best-fit lookup; ties are served oldest-offset-first (front of the
	// per-capacity run) to keep writes clustered toward the front of the
	// file, which helps later compaction find long dead runs.
	slots []freeSlot
}

type freeSlot struct {
	offset   Locator
	capacity int
}

func newFreeList() *freeList {
	return &freeList{}
}

func (fl *freeList) add(s freeSlot) {
	i := sort.Search(len(fl.slots), func(i int) bool { return fl.slots[i].capacity > s.capacity })
	fl.slots = append(fl.slots, freeSlot{})
	copy(fl.slots[i+1:], fl.slots[i:])
	fl.slots[i] = s
}

// take removes and returns the smallest slot with capacity >= need, or
// false if none exists.
func (fl *freeList) take(need int) (freeSlot, bool) {
	i := sort.Search(len(fl.slots), func(i int) bool { return fl.slots[i].capacity >= need })
	if i >= len(fl.slots) {
		return freeSlot{}, false
	}
	s := fl.slots[i]
	fl.slots = append(fl.slots[:i], fl.slots[i+1:]...)
	return s, true
}

// rebuildFreeList scans [start, end) collecting deleted frames into a
// free list and counting live frames, a scan-don't-persist strategy that
// avoids ever storing free-list metadata durably.
func rebuildFreeList(f *os.File, start, end int64) (*freeList, int64, error) {
	fl := newFreeList()
	var live int64
	off := start
	for off < end {
		h, err := readFrameHeader(f, off)
		if err != nil {
			return nil, 0, ejerr.Wrap(err, ejerr.Corruption, "pagefile: scan during free list rebuild").
				WithDetail("offset", off)
		}
		if h.deleted() {
			fl.add(freeSlot{offset: h.offset, capacity: h.capacity})
		} else {
			live++
		}
		off = off + 4 + int64(h.capacity)
	}
	return fl, live, nil
}
