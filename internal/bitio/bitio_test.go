package bitio

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		b := make([]byte, 1+r.Intn(16))
		r.Read(b)
		bits := Unpack(b, 8*len(b))
		for n := 0; n <= 8*len(b); n += 3 {
			got := Unpack(Pack(bits[:n]), n)
			want := bits[:n]
			if !bytes.Equal(got, want) {
				t.Fatalf("n=%d: got %v, want %v", n, got, want)
			}
		}
	}
}

func TestHexbitRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for trial := 0; trial < 20; trial++ {
		n := 3 * (1 + r.Intn(10))
		b := make([]byte, n)
		r.Read(b)

		hb, err := BytesToHexbits(b)
		if err != nil {
			t.Fatalf("BytesToHexbits: %v", err)
		}
		back, err := HexbitsToBytes(hb)
		if err != nil {
			t.Fatalf("HexbitsToBytes: %v", err)
		}
		if !bytes.Equal(back, b) {
			t.Fatalf("round trip mismatch: got %v, want %v", back, b)
		}
	}
}

func TestBytesToHexbitsRejectsBadLength(t *testing.T) {
	if _, err := BytesToHexbits([]byte{1, 2}); err == nil {
		t.Fatalf("expected error for non-multiple-of-3 input")
	}
}

func TestHexbitsToBytesRejectsBadLength(t *testing.T) {
	if _, err := HexbitsToBytes([]Hexbit{1, 2, 3}); err == nil {
		t.Fatalf("expected error for non-multiple-of-4 input")
	}
}
