package bson

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
)

// OID is a 12-byte object identifier: 4-byte seconds, 3-byte machine
// fingerprint, 2-byte process tag, 3-byte counter. Monotonicity within a
// single writing process is guaranteed by the counter; uniqueness across
// processes is probabilistic via the machine/process fingerprint.
type OID [12]byte

// counter is the process-wide OID sequence. A single atomic counter (rather
// than one per collection) keeps generation lock-free and satisfies
// invariant I5 (strictly monotone under a single writer) without routing
// every insert through the catalog's lock.
var counter uint32

// machineID is derived once at process start by hashing the hostname; it is
// stable for the life of the process and, like every EJDB binding's OID
// generator, only probabilistically unique across hosts.
var machineID = func() [3]byte {
	host, _ := os.Hostname()
	h := xxh3.HashString(host)
	var b [3]byte
	b[0] = byte(h)
	b[1] = byte(h >> 8)
	b[2] = byte(h >> 16)
	return b
}()

// processID is a 2-byte tag derived from the OS process id, distinguishing
// concurrent processes on the same host.
var processID = func() [2]byte {
	pid := os.Getpid()
	return [2]byte{byte(pid), byte(pid >> 8)}
}()

// NewOID generates a fresh object identifier using the current wall clock,
// this process's machine/process fingerprint, and the next counter value.
func NewOID() OID {
	var id OID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:7], machineID[:])
	copy(id[7:9], processID[:])
	c := atomic.AddUint32(&counter, 1) & 0x00FFFFFF
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// seedCounter sets the OID counter, so tests can make OID generation
// deterministic. No environment variable is read to seed it: unless
// SeedRandom is called, the counter starts at 0 in every process.
func seedCounter(v uint32) {
	atomic.StoreUint32(&counter, v)
}

// SeedRandom re-seeds the counter from a cryptographically random value,
// so a fresh process avoids colliding with a previous run that shared the
// same second/pid. Nothing in the engine calls it; callers opt in.
func SeedRandom() {
	var b [4]byte
	_, _ = rand.Read(b[:])
	seedCounter(binary.BigEndian.Uint32(b[:]))
}

// String renders the OID as 24 lowercase hex characters, the form every
// EJDB binding prints (see original_source bindings' bson_oid_to_string
// equivalents).
func (id OID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseOID parses a 24-character hex string into an OID.
func ParseOID(s string) (OID, error) {
	var id OID
	if len(s) != 24 {
		return id, fmt.Errorf("oid: want 24 hex characters, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("oid: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// IsZero reports whether id is the zero value (never assigned).
func (id OID) IsZero() bool {
	return id == OID{}
}

// Compare orders two OIDs byte-lexically, which is also their chronological
// order since the seconds field is the high-order big-endian prefix.
func (id OID) Compare(other OID) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
