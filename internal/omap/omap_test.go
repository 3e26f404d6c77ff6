package omap

import "testing"

func TestPutGetDuplicateKeys(t *testing.T) {
	m := New(ByteLex, 1000)
	m.Put([]byte("a"), 1)
	m.Put([]byte("a"), 2)
	m.Put([]byte("b"), 3)

	got := m.Get([]byte("a"))
	if len(got) != 2 {
		t.Fatalf("expected 2 values for key a, got %v", got)
	}
	if m.Get([]byte("missing")) != nil {
		t.Fatal("expected nil for missing key")
	}
}

func TestRepairMergesSparseIntoSorted(t *testing.T) {
	m := New(ByteLex, 1000)
	for _, k := range []string{"d", "b", "c", "a"} {
		m.Put([]byte(k), 1)
	}
	m.Repair()
	if len(m.sparse) != 0 {
		t.Fatalf("expected sparse to be empty after repair, got %d", len(m.sparse))
	}
	for i := 1; i < len(m.sorted); i++ {
		if m.cmp(m.sorted[i-1].Key, m.sorted[i].Key) > 0 {
			t.Fatalf("sorted region out of order at %d: %s > %s", i, m.sorted[i-1].Key, m.sorted[i].Key)
		}
	}
}

func TestAutoRepairOnThreshold(t *testing.T) {
	m := New(ByteLex, 3)
	m.Put([]byte("a"), 1)
	m.Put([]byte("b"), 2)
	m.Put([]byte("c"), 3)
	if len(m.sparse) != 0 {
		t.Fatalf("expected automatic repair at threshold, sparse has %d entries", len(m.sparse))
	}
	if len(m.sorted) != 3 {
		t.Fatalf("expected 3 sorted entries after auto-repair, got %d", len(m.sorted))
	}
}

func TestDelete(t *testing.T) {
	m := New(ByteLex, 1000)
	m.Put([]byte("a"), 1)
	m.Put([]byte("a"), 2)
	if !m.Delete([]byte("a"), 1) {
		t.Fatal("expected delete to succeed")
	}
	got := m.Get([]byte("a"))
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected only value 2 to remain, got %v", got)
	}
	if m.Delete([]byte("a"), 99) {
		t.Fatal("expected delete of a nonexistent value to fail")
	}
}

func TestRangeCursorAscendingAndDescending(t *testing.T) {
	m := New(ByteLex, 1000)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		m.Put([]byte(k), Value(k[0]))
	}
	m.Repair()

	cur := m.Range([]byte("b"), []byte("e"), false)
	var keys []string
	for {
		e, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		keys = append(keys, string(e.Key))
	}
	if got := keysJoined(keys); got != "b,c,d" {
		t.Fatalf("ascending range = %s, want b,c,d", got)
	}

	curDesc := m.Range([]byte("b"), []byte("e"), true)
	keys = nil
	for {
		e, ok, err := curDesc.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		keys = append(keys, string(e.Key))
	}
	if got := keysJoined(keys); got != "d,c,b" {
		t.Fatalf("descending range = %s, want d,c,b", got)
	}
}

func TestCursorInvalidatedByConcurrentWrite(t *testing.T) {
	m := New(ByteLex, 1000)
	m.Put([]byte("a"), 1)
	m.Repair()

	cur := m.Range(nil, nil, false)
	m.Put([]byte("b"), 2)

	_, _, err := cur.Next()
	if err == nil {
		t.Fatal("expected cursor to be invalidated after a concurrent write")
	}
}

func keysJoined(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}
