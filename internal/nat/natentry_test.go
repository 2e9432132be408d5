package nat

import (
	"net"
	"testing"
	"time"
)

func TestNATTablePutAndLookup(t *testing.T) {
	tbl := newNATTable()
	src := net.IPv4(10, 0, 0, 5)
	tbl.put(100, src)

	got, ok := tbl.lookup(100)
	if !ok {
		t.Fatal("expected lookup to find entry just put")
	}
	if !got.Equal(src) {
		t.Fatalf("expected %v, got %v", src, got)
	}

	if _, ok := tbl.lookup(999); ok {
		t.Fatal("lookup of unknown echo id should fail")
	}
}

func TestNATTableUpdateMovesToFront(t *testing.T) {
	tbl := newNATTable()
	tbl.put(1, net.IPv4(10, 0, 0, 1))
	tbl.put(1, net.IPv4(10, 0, 0, 2))

	got, ok := tbl.lookup(1)
	if !ok || !got.Equal(net.IPv4(10, 0, 0, 2)) {
		t.Fatalf("expected updated mapping 10.0.0.2, got %v ok=%v", got, ok)
	}
	if tbl.size() != 1 {
		t.Fatalf("expected a single entry after update, got %d", tbl.size())
	}
}

func TestNATTableEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	tbl := newNATTable()
	for i := 0; i < natTableSize; i++ {
		tbl.put(uint16(i), net.IPv4(10, 0, 0, byte(i)))
	}
	// Touch echo id 0 so it becomes most-recently-used and survives the
	// next insert, which should evict the now-least-recently-used entry
	// (echo id 1) instead.
	tbl.lookup(0)
	tbl.put(uint16(natTableSize), net.IPv4(10, 0, 1, 0))

	if tbl.size() != natTableSize {
		t.Fatalf("expected table to stay at capacity %d, got %d", natTableSize, tbl.size())
	}
	if _, ok := tbl.lookup(0); !ok {
		t.Fatal("recently touched entry should not have been evicted")
	}
	if _, ok := tbl.lookup(1); ok {
		t.Fatal("least-recently-used entry should have been evicted")
	}
}

func TestNATTableExpiresStaleEntries(t *testing.T) {
	tbl := newNATTable()
	tbl.put(7, net.IPv4(10, 0, 0, 7))
	tbl.entries[7].touched = time.Now().Add(-2 * natEntryTTL)

	if _, ok := tbl.lookup(7); ok {
		t.Fatal("expected expired entry to be evicted on lookup")
	}
	if tbl.size() != 0 {
		t.Fatalf("expired entry should be removed from the table, size=%d", tbl.size())
	}
}

func TestAcousticAddrDerivesFromLowOctetBits(t *testing.T) {
	cases := map[string]byte{
		"10.0.0.3":   3,
		"10.0.0.19":  3,
		"10.0.0.255": 15,
		"10.0.0.0":   0,
	}
	for ipStr, want := range cases {
		got := acousticAddr(net.ParseIP(ipStr))
		if got != want {
			t.Fatalf("acousticAddr(%s) = %d, want %d", ipStr, got, want)
		}
	}
}

func TestAcousticAddrNonIPv4IsZero(t *testing.T) {
	if got := acousticAddr(net.ParseIP("::1")); got != 0 {
		t.Fatalf("expected 0 for non-IPv4 address, got %d", got)
	}
}
