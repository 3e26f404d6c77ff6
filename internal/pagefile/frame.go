package pagefile

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"

	"github.com/jpl-au/ejdb/internal/ejerr"
)

const (
	flagDeleted    byte = 1 << 0
	flagCompressed byte = 1 << 1
)

// frameOverhead is the fixed portion of a frame body: 1 flags byte plus a
// 4-byte actual-length field. The body's remaining bytes are the payload
// capacity, which may exceed the actual payload when a frame slot is
// reused for a shorter record.
const frameOverhead = 5

// frameHeader describes a frame without its payload bytes, as read during
// a metadata-only scan (free-list rebuild, compaction).
type frameHeader struct {
	offset    Locator
	capacity  int // bytes following the capacity field: flags + actualLen + payload region
	flags     byte
	actualLen int
}

func (h frameHeader) deleted() bool { return h.flags&flagDeleted != 0 }
func (h frameHeader) totalSize() int64 { return 4 + int64(h.capacity) }

// Shared zstd codec instances, expensive to construct and safe for
// concurrent use. Compression happens on every write (hot path) so
// SpeedFastest is used; decompression only happens on read.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// encodeFrame builds the on-disk bytes for a new frame with exactly
// enough payload capacity for data (no slack), used for Append. Put's
// in-place rewrite of an existing slot uses encodeFrameBody instead.
func encodeFrame(data []byte, compress bool) []byte {
	payload := data
	flags := byte(0)
	if compress && len(data) > 0 {
		payload = zstdEncoder.EncodeAll(data, nil)
		flags |= flagCompressed
	}
	capacity := frameOverhead + len(payload)
	buf := make([]byte, 4+capacity)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(capacity))
	buf[4] = flags
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(payload)))
	copy(buf[9:], payload)
	return buf
}

// encodeFrameBody builds a frame body (no leading capacity field) sized
// to fit within an existing slot of slotCapacity bytes. Returns an error
// if the new payload does not fit.
func encodeFrameBody(data []byte, compress bool, slotCapacity int) ([]byte, error) {
	payload := data
	flags := byte(0)
	if compress && len(data) > 0 {
		payload = zstdEncoder.EncodeAll(data, nil)
		flags |= flagCompressed
	}
	need := frameOverhead + len(payload)
	if need > slotCapacity {
		return nil, ejerr.New(ejerr.OutOfRange, "pagefile: payload exceeds slot capacity")
	}
	body := make([]byte, slotCapacity)
	body[0] = flags
	binary.LittleEndian.PutUint32(body[1:5], uint32(len(payload)))
	copy(body[5:], payload)
	return body, nil
}

func decodePayload(flags byte, raw []byte) ([]byte, error) {
	if flags&flagCompressed == 0 {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}
	out, err := zstdDecoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, ejerr.Wrap(err, ejerr.Corruption, "pagefile: zstd decode failed")
	}
	return out, nil
}
