package pagefile

import "github.com/jpl-au/ejdb/internal/ejerr"

// Entry is one live frame yielded by Scan: its locator and decoded
// payload.
type Entry struct {
	Locator Locator
	Data    []byte
}

// Scan streams every live (non-deleted) frame in locator order, calling
// fn for each. It stops and returns fn's error if fn returns non-nil.
// Used by catalog/index rebuild and by the query executor's full-scan
// fallback when no index can drive a query.
func (pf *File) Scan(fn func(Entry) error) error {
	if err := pf.blockRead(); err != nil {
		return err
	}
	defer pf.mu.RUnlock()

	off := int64(headerSize)
	for off < pf.tail {
		h, err := readFrameHeader(pf.reader, off)
		if err != nil {
			return err
		}
		if !h.deleted() {
			raw := make([]byte, h.actualLen)
			if h.actualLen > 0 {
				if _, err := pf.reader.ReadAt(raw, off+4+frameOverhead); err != nil {
					return ejerr.Wrap(err, ejerr.Corruption, "pagefile: scan read payload").
						WithDetail("offset", off)
				}
			}
			data, err := decodePayload(h.flags, raw)
			if err != nil {
				return err
			}
			if err := fn(Entry{Locator: h.offset, Data: data}); err != nil {
				return err
			}
		}
		off += 4 + int64(h.capacity)
	}
	return nil
}
