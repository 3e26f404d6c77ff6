package pagefile

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

func readFrameHeader(f *os.File, offset int64) (frameHeader, error) {
	var lb [4]byte
	if _, err := f.ReadAt(lb[:], offset); err != nil {
		if err == io.EOF {
			return frameHeader{}, ejerr.New(ejerr.NotFound, "pagefile: no frame at offset")
		}
		return frameHeader{}, ejerr.Wrap(err, ejerr.IOError, "pagefile: read frame length")
	}
	capacity := int(binary.LittleEndian.Uint32(lb[:]))
	if capacity < frameOverhead {
		return frameHeader{}, ejerr.New(ejerr.Corruption, "pagefile: frame capacity too small").
			WithDetail("offset", offset)
	}
	var fb [frameOverhead]byte
	if _, err := f.ReadAt(fb[:], offset+4); err != nil {
		return frameHeader{}, ejerr.Wrap(err, ejerr.Corruption, "pagefile: read frame overhead").
			WithDetail("offset", offset)
	}
	flags := fb[0]
	actualLen := int(binary.LittleEndian.Uint32(fb[1:5]))
	if actualLen > capacity-frameOverhead {
		return frameHeader{}, ejerr.New(ejerr.Corruption, "pagefile: actual length exceeds capacity").
			WithDetail("offset", offset)
	}
	return frameHeader{offset: Locator(offset), capacity: capacity, flags: flags, actualLen: actualLen}, nil
}

// readFrame reads a frame's decoded payload in full.
func readFrame(f *os.File, offset int64) ([]byte, error) {
	h, err := readFrameHeader(f, offset)
	if err != nil {
		return nil, err
	}
	if h.deleted() {
		return nil, ejerr.New(ejerr.NotFound, "pagefile: frame is deleted").WithDetail("offset", offset)
	}
	raw := make([]byte, h.actualLen)
	if h.actualLen > 0 {
		if _, err := f.ReadAt(raw, offset+4+frameOverhead); err != nil {
			return nil, ejerr.Wrap(err, ejerr.Corruption, "pagefile: read payload").WithDetail("offset", offset)
		}
	}
	return decodePayload(h.flags, raw)
}

// Read returns the current payload stored at loc.
func (pf *File) Read(loc Locator) ([]byte, error) {
	if err := pf.blockRead(); err != nil {
		return nil, err
	}
	defer pf.mu.RUnlock()
	return readFrame(pf.reader, int64(loc))
}
