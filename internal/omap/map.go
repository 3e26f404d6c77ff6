package omap

import (
	"slices"
	"sync"
)

// Value is the payload an entry carries — a locator into whatever record
// store the caller manages (internal/pagefile's Locator, cast to Value).
// Kept as a bare integer here so this package stays independent of any
// particular record store.
type Value int64

// Entry is one (key, value) pair. Keys are not required to be unique: the
// map supports duplicate keys for secondary indexes where many documents
// share the same indexed value.
type Entry struct {
	Key   []byte
	Value Value
}

// Map is an ordered, duplicate-key map over byte-string keys. Writes land
// in an unsorted append-only tail; reads binary-search the sorted region
// and linearly scan the tail, a scan-then-sparse lookup strategy. Repair
// folds the tail back into the sorted region once it reaches
// repairThreshold entries.
type Map struct {
	mu              sync.RWMutex
	cmp             Comparator
	sorted          []Entry
	sparse          []Entry
	repairThreshold int
	gen             uint64 // bumped on any structural change, invalidates cursors
}

// New returns an empty map ordered by cmp. repairThreshold is the number
// of sparse entries that triggers an automatic Repair on the next write;
// pass 0 for the default of 256.
func New(cmp Comparator, repairThreshold int) *Map {
	if repairThreshold <= 0 {
		repairThreshold = 256
	}
	return &Map{cmp: cmp, repairThreshold: repairThreshold}
}

// Put inserts (key, value), allowing duplicates. It always appends to the
// sparse tail; call Repair (or let the automatic threshold trigger it) to
// fold the tail back into sorted order.
func (m *Map) Put(key []byte, val Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := append([]byte(nil), key...)
	m.sparse = append(m.sparse, Entry{Key: k, Value: val})
	m.gen++
	if len(m.sparse) >= m.repairThreshold {
		m.repairLocked()
	}
}

// Delete removes one occurrence of (key, value) if present. Returns
// whether an entry was removed.
func (m *Map) Delete(key []byte, val Value) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := findInSlice(m.sparse, m.cmp, key, val); i >= 0 {
		m.sparse = append(m.sparse[:i], m.sparse[i+1:]...)
		m.gen++
		return true
	}
	if i := findInSlice(m.sorted, m.cmp, key, val); i >= 0 {
		m.sorted = append(m.sorted[:i], m.sorted[i+1:]...)
		m.gen++
		return true
	}
	return false
}

func findInSlice(entries []Entry, cmp Comparator, key []byte, val Value) int {
	for i, e := range entries {
		if cmp(e.Key, key) == 0 && e.Value == val {
			return i
		}
	}
	return -1
}

// Get returns every value stored under key, combining the sorted region
// (found by binary search on the key boundary) with a linear scan of the
// sparse tail, newest duplicates first within the tail.
func (m *Map) Get(key []byte) []Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Value
	lo, hi := m.boundsLocked(key)
	for i := lo; i < hi; i++ {
		out = append(out, m.sorted[i].Value)
	}
	for i := len(m.sparse) - 1; i >= 0; i-- {
		if m.cmp(m.sparse[i].Key, key) == 0 {
			out = append(out, m.sparse[i].Value)
		}
	}
	return out
}

// boundsLocked returns the half-open range in m.sorted whose keys equal
// key, via two binary searches. Callers must hold at least a read lock.
func (m *Map) boundsLocked(key []byte) (lo, hi int) {
	lo = sort_SearchEntries(m.sorted, m.cmp, key, false)
	hi = sort_SearchEntries(m.sorted, m.cmp, key, true)
	return lo, hi
}

// sort_SearchEntries finds the insertion point for key: the first index
// whose key is >= key (upper=false) or the first index whose key is > key
// (upper=true). Named with an underscore to avoid clashing with the
// "sort" package import in files that also need slices.
func sort_SearchEntries(entries []Entry, cmp Comparator, key []byte, upper bool) int {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		c := cmp(entries[mid].Key, key)
		if c < 0 || (upper && c == 0) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Len returns the total number of entries across both regions.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sorted) + len(m.sparse)
}

// Repair folds the sparse tail into the sorted region, a periodic
// compaction step over the tail's posting entries.
func (m *Map) Repair() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repairLocked()
}

func (m *Map) repairLocked() {
	if len(m.sparse) == 0 {
		return
	}
	merged := make([]Entry, 0, len(m.sorted)+len(m.sparse))
	merged = append(merged, m.sorted...)
	merged = append(merged, m.sparse...)
	slices.SortStableFunc(merged, func(a, b Entry) int {
		if c := m.cmp(a.Key, b.Key); c != 0 {
			return c
		}
		if a.Value < b.Value {
			return -1
		}
		if a.Value > b.Value {
			return 1
		}
		return 0
	})
	m.sorted = merged
	m.sparse = nil
	m.gen++
}
