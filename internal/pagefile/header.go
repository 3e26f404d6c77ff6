package pagefile

import "encoding/binary"

// headerSize is the fixed preamble reserved at the start of every page
// file, holding only a magic number and version: section boundaries are
// rediscovered by scanning rather than cached in the header, since frames
// can be deleted and reused out of append order.
const headerSize = 16

var magic = [4]byte{'e', 'j', 'p', 'f'}

const formatVersion = 1

func headerBytes() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], formatVersion)
	return buf
}
