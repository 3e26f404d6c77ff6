package query

import (
	"container/heap"
	"fmt"
	"os"
	"sort"

	"github.com/jpl-au/ejdb/internal/bson"
	"github.com/jpl-au/ejdb/internal/pagefile"
)

// defaultSortBufferSize is the number of buffered entries Spiller holds in
// memory before writing a sorted run to disk.
const defaultSortBufferSize = 2000

// sortEntry is one buffered (sort keys, locator) pair.
type sortEntry struct {
	Keys []bson.Value
	Loc  Locator
}

// Spiller implements the executor's two-tiered sort buffer: an in-memory
// slice up to a configurable size, spilled as a sorted run to a throwaway
// internal/pagefile instance on overflow, merged back with a heap-based
// k-way merge at Finish. Each run is already internally sorted (entries
// are appended in order, and pagefile.Scan replays append order), so the
// merge step only needs to track one "current" entry per run.
type Spiller struct {
	order      []OrderKey
	bufferSize int
	buffer     []sortEntry
	dir        string
	runs       []*pagefile.File
}

// NewSpiller returns a Spiller ordering by order, buffering up to
// bufferSize entries (0 selects the default) before the first spill.
func NewSpiller(order []OrderKey, bufferSize int) *Spiller {
	if bufferSize <= 0 {
		bufferSize = defaultSortBufferSize
	}
	return &Spiller{order: order, bufferSize: bufferSize}
}

// Add buffers one candidate's sort keys, spilling to disk if the buffer
// has reached its configured size.
func (s *Spiller) Add(doc *bson.Object, loc Locator) error {
	keys := make([]bson.Value, len(s.order))
	for i, k := range s.order {
		v, _ := bson.Lookup(doc, k.Path)
		keys[i] = v
	}
	s.buffer = append(s.buffer, sortEntry{Keys: keys, Loc: loc})
	if len(s.buffer) >= s.bufferSize {
		return s.spill()
	}
	return nil
}

func (s *Spiller) less(a, b sortEntry) bool {
	for i, k := range s.order {
		c := compareValues(a.Keys[i], b.Keys[i])
		if c == 0 {
			continue
		}
		if k.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func (s *Spiller) spill() error {
	if len(s.buffer) == 0 {
		return nil
	}
	sort.Slice(s.buffer, func(i, j int) bool { return s.less(s.buffer[i], s.buffer[j]) })

	if s.dir == "" {
		dir, err := os.MkdirTemp("", "ejdb-sort-spill-*")
		if err != nil {
			return err
		}
		s.dir = dir
	}
	name := fmt.Sprintf("run-%d", len(s.runs))
	pf, err := pagefile.Open(s.dir, name, pagefile.Options{})
	if err != nil {
		return err
	}
	for _, e := range s.buffer {
		if _, err := pf.Append(bson.Encode(encodeSortEntry(e))); err != nil {
			return err
		}
	}
	s.runs = append(s.runs, pf)
	s.buffer = s.buffer[:0]
	return nil
}

func encodeSortEntry(e sortEntry) *bson.Object {
	o := bson.NewObject()
	o.Set("l", bson.Int64Value(int64(e.Loc)))
	arr := make([]bson.Value, len(e.Keys))
	copy(arr, e.Keys)
	o.Set("k", bson.ArrayValue(arr))
	return o
}

func decodeSortEntry(data []byte) (sortEntry, error) {
	obj, err := bson.Decode(data)
	if err != nil {
		return sortEntry{}, err
	}
	l, _ := obj.Get("l")
	k, _ := obj.Get("k")
	return sortEntry{Loc: Locator(l.Int64), Keys: k.Array}, nil
}

// Finish drains the buffer and every spilled run in sorted order,
// returning the final locator ordering. It removes any spill files it
// created.
func (s *Spiller) Finish() ([]Locator, error) {
	defer s.cleanup()

	if len(s.runs) == 0 {
		sort.Slice(s.buffer, func(i, j int) bool { return s.less(s.buffer[i], s.buffer[j]) })
		out := make([]Locator, len(s.buffer))
		for i, e := range s.buffer {
			out[i] = e.Loc
		}
		return out, nil
	}

	if err := s.spill(); err != nil {
		return nil, err
	}

	readers := make([]*runCursor, len(s.runs))
	for i, pf := range s.runs {
		rc, err := newRunCursor(pf)
		if err != nil {
			return nil, err
		}
		readers[i] = rc
	}

	h := &mergeHeap{spiller: s, cursors: readers}
	heap.Init(h)
	var out []Locator
	for h.Len() > 0 {
		top := heap.Pop(h).(*runCursor)
		out = append(out, top.current.Loc)
		if top.advance() {
			heap.Push(h, top)
		}
	}
	return out, nil
}

func (s *Spiller) cleanup() {
	for _, pf := range s.runs {
		pf.Close()
	}
	if s.dir != "" {
		os.RemoveAll(s.dir)
	}
}

// runCursor walks one spilled run's entries in the order they were
// appended (already sorted).
type runCursor struct {
	entries []sortEntry
	pos     int
	current sortEntry
}

func newRunCursor(pf *pagefile.File) (*runCursor, error) {
	rc := &runCursor{pos: -1}
	err := pf.Scan(func(e pagefile.Entry) error {
		entry, err := decodeSortEntry(e.Data)
		if err != nil {
			return err
		}
		rc.entries = append(rc.entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	rc.advance()
	return rc, nil
}

func (rc *runCursor) advance() bool {
	rc.pos++
	if rc.pos >= len(rc.entries) {
		return false
	}
	rc.current = rc.entries[rc.pos]
	return true
}

// mergeHeap is a container/heap.Interface over the current head of each
// run, ordered by the spiller's comparator.
type mergeHeap struct {
	spiller *Spiller
	cursors []*runCursor
}

func (h *mergeHeap) Len() int { return len(h.cursors) }
func (h *mergeHeap) Less(i, j int) bool {
	return h.spiller.less(h.cursors[i].current, h.cursors[j].current)
}
func (h *mergeHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }
func (h *mergeHeap) Push(x any)    { h.cursors = append(h.cursors, x.(*runCursor)) }
func (h *mergeHeap) Pop() any {
	old := h.cursors
	n := len(old)
	item := old[n-1]
	h.cursors = old[:n-1]
	return item
}
