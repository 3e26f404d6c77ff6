package pagefile

import (
	"bytes"
	"testing"
)

func openTest(t *testing.T, opts Options) *File {
	t.Helper()
	dir := t.TempDir()
	pf, err := Open(dir, "test.db", opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { pf.Close() })
	return pf
}

func TestAppendAndRead(t *testing.T) {
	pf := openTest(t, Options{})
	loc, err := pf.Append([]byte("hello world"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := pf.Read(loc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestAppendCompressed(t *testing.T) {
	pf := openTest(t, Options{Compress: true})
	payload := bytes.Repeat([]byte("document-body-"), 200)
	loc, err := pf.Append(payload)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := pf.Read(loc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("compressed round trip mismatch")
	}
}

func TestPutInPlaceAndGrow(t *testing.T) {
	pf := openTest(t, Options{})
	loc, err := pf.Append([]byte("0123456789"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// Smaller payload should reuse the same slot.
	newLoc, err := pf.Put(loc, []byte("short"))
	if err != nil {
		t.Fatalf("put smaller: %v", err)
	}
	if newLoc != loc {
		t.Fatalf("expected in-place reuse, got new locator %d vs %d", newLoc, loc)
	}
	got, err := pf.Read(newLoc)
	if err != nil || !bytes.Equal(got, []byte("short")) {
		t.Fatalf("read after shrink: %v %q", err, got)
	}

	// A much larger payload should not fit and must relocate.
	big := bytes.Repeat([]byte("x"), 1000)
	grownLoc, err := pf.Put(newLoc, big)
	if err != nil {
		t.Fatalf("put larger: %v", err)
	}
	if grownLoc == newLoc {
		t.Fatal("expected relocation for oversized payload")
	}
	got2, err := pf.Read(grownLoc)
	if err != nil || !bytes.Equal(got2, big) {
		t.Fatal("read after grow mismatch")
	}

	// The old slot should now be marked deleted.
	if _, err := pf.Read(newLoc); err == nil {
		t.Fatal("expected old slot to read as deleted after relocation")
	}
}

func TestDeleteThenReadFails(t *testing.T) {
	pf := openTest(t, Options{})
	loc, _ := pf.Append([]byte("gone soon"))
	if err := pf.Delete(loc); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := pf.Read(loc); err == nil {
		t.Fatal("expected error reading a deleted frame")
	}
	if err := pf.Delete(loc); err == nil {
		t.Fatal("expected error deleting an already-deleted frame")
	}
}

func TestFreeListReuse(t *testing.T) {
	pf := openTest(t, Options{})
	loc, _ := pf.Append(bytes.Repeat([]byte("a"), 100))
	if err := pf.Delete(loc); err != nil {
		t.Fatalf("delete: %v", err)
	}
	before := pf.tail
	if slot, ok := pf.freelist.take(frameOverhead + 50); !ok || slot.offset != loc {
		t.Fatalf("expected free list to offer the deleted slot, got ok=%v slot=%+v", ok, slot)
	}
	if pf.tail != before {
		t.Fatal("free list inspection should not move the tail")
	}
}

func TestScanYieldsOnlyLiveFrames(t *testing.T) {
	pf := openTest(t, Options{})
	a, _ := pf.Append([]byte("alpha"))
	b, _ := pf.Append([]byte("beta"))
	_, _ = pf.Append([]byte("gamma"))
	if err := pf.Delete(b); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var seen []Locator
	err := pf.Scan(func(e Entry) error {
		seen = append(seen, e.Locator)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 live frames, got %d", len(seen))
	}
	if seen[0] != a {
		t.Fatalf("expected first live frame to be %d, got %d", a, seen[0])
	}
}

func TestCompactRemapsLiveLocators(t *testing.T) {
	pf := openTest(t, Options{})
	a, _ := pf.Append([]byte("keep-a"))
	b, _ := pf.Append([]byte("drop-me"))
	c, _ := pf.Append([]byte("keep-c"))
	if err := pf.Delete(b); err != nil {
		t.Fatalf("delete: %v", err)
	}

	remaps, err := pf.Compact()
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if len(remaps) != 2 {
		t.Fatalf("expected 2 remapped frames, got %d", len(remaps))
	}

	byOld := map[Locator]Locator{}
	for _, r := range remaps {
		byOld[r.Old] = r.New
	}
	newA, ok := byOld[a]
	if !ok {
		t.Fatal("missing remap for a")
	}
	gotA, err := pf.Read(newA)
	if err != nil || !bytes.Equal(gotA, []byte("keep-a")) {
		t.Fatalf("read after compact for a: %v %q", err, gotA)
	}
	newC, ok := byOld[c]
	if !ok {
		t.Fatal("missing remap for c")
	}
	gotC, err := pf.Read(newC)
	if err != nil || !bytes.Equal(gotC, []byte("keep-c")) {
		t.Fatalf("read after compact for c: %v %q", err, gotC)
	}
	if pf.LiveCount() != 2 {
		t.Fatalf("live count after compact = %d, want 2", pf.LiveCount())
	}
}

func TestReopenRebuildsFreeListAndLiveCount(t *testing.T) {
	dir := t.TempDir()
	pf, err := Open(dir, "reopen.db", Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a, _ := pf.Append([]byte("alpha"))
	b, _ := pf.Append([]byte("beta"))
	if err := pf.Delete(b); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	pf2, err := Open(dir, "reopen.db", Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer pf2.Close()

	if pf2.LiveCount() != 1 {
		t.Fatalf("live count after reopen = %d, want 1", pf2.LiveCount())
	}
	got, err := pf2.Read(a)
	if err != nil || !bytes.Equal(got, []byte("alpha")) {
		t.Fatalf("read alpha after reopen: %v %q", err, got)
	}
}
