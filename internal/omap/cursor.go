package omap

import "github.com/jpl-au/ejdb/internal/ejerr"

// Cursor walks a snapshot of the map's sorted region within [from, to)
// (nil bounds mean unbounded). It only sees entries that were already in
// the sorted region when the cursor was created — a concurrent Put lands
// in the sparse tail and a concurrent Repair reshuffles Map.sorted
// entirely, so both invalidate every open cursor rather than risk
// silently skipping or duplicating entries mid-walk.
type Cursor struct {
	m       *Map
	entries []Entry
	pos     int
	gen     uint64
	desc    bool
}

// Range opens a cursor over keys in [from, to). Pass nil for from/to to
// leave that bound open. desc reverses iteration order.
func (m *Map) Range(from, to []byte, desc bool) *Cursor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo := 0
	if from != nil {
		lo = sort_SearchEntries(m.sorted, m.cmp, from, false)
	}
	hi := len(m.sorted)
	if to != nil {
		hi = sort_SearchEntries(m.sorted, m.cmp, to, false)
	}
	snapshot := make([]Entry, hi-lo)
	copy(snapshot, m.sorted[lo:hi])

	pos := 0
	if desc {
		pos = len(snapshot) - 1
	}
	return &Cursor{m: m, entries: snapshot, pos: pos, gen: m.gen, desc: desc}
}

// Next advances the cursor and reports the next entry. It returns an
// error once the map has been structurally mutated (Put, Delete, or
// Repair) since the cursor was opened — the caller must re-open a fresh
// Range to keep iterating.
func (c *Cursor) Next() (Entry, bool, error) {
	c.m.mu.RLock()
	currentGen := c.m.gen
	c.m.mu.RUnlock()
	if currentGen != c.gen {
		return Entry{}, false, ejerr.New(ejerr.Canceled, "omap: cursor invalidated by a concurrent write")
	}

	if c.desc {
		if c.pos < 0 {
			return Entry{}, false, nil
		}
		e := c.entries[c.pos]
		c.pos--
		return e, true, nil
	}
	if c.pos >= len(c.entries) {
		return Entry{}, false, nil
	}
	e := c.entries[c.pos]
	c.pos++
	return e, true, nil
}
