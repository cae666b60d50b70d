package wasmtrace

import "testing"

func TestMultisetAppendAndLen(t *testing.T) {
	var m Multiset
	m = m.Append(MemTuple{Addr: 1, Val: 2, TS: 3})
	m = m.Append(MemTuple{Addr: 4, Val: 5, TS: 6})
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	if m[0].Addr != 1 || m[1].Val != 5 {
		t.Fatalf("unexpected multiset contents: %+v", m)
	}
}
