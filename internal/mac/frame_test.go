package mac

import (
	"bytes"
	"testing"
)

func TestFramePackParseRoundTrip(t *testing.T) {
	cases := []Frame{
		{Dst: 0, Src: 0, FrameID: 0, Type: FrameData, Payload: nil},
		{Dst: 15, Src: 7, FrameID: 63, Type: FrameData, Payload: []byte("hello acoustic")},
		{Dst: 3, Src: 9, FrameID: 1, Type: FrameAck, Payload: nil},
	}
	for i, want := range cases {
		packed := want.Pack()
		got, err := ParseFrame(packed)
		if err != nil {
			t.Fatalf("case %d: ParseFrame: %v", i, err)
		}
		if got.Dst != want.Dst || got.Src != want.Src || got.FrameID != want.FrameID || got.Type != want.Type {
			t.Fatalf("case %d: header mismatch: got %+v want %+v", i, got, want)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("case %d: payload mismatch: got %v want %v", i, got.Payload, want.Payload)
		}
	}
}

func TestParseFrameRejectsShortInput(t *testing.T) {
	if _, err := ParseFrame([]byte{0x01}); err == nil {
		t.Fatal("expected error for 1-byte frame")
	}
	if _, err := ParseFrame(nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestNewAckFieldsSwapped(t *testing.T) {
	ack := NewAck(5, 2, 40)
	if ack.Dst != 5 || ack.Src != 2 || ack.FrameID != 40 || ack.Type != FrameAck {
		t.Fatalf("unexpected ack frame: %+v", ack)
	}
	if len(ack.Payload) != 0 {
		t.Fatalf("ack frame should carry no payload, got %d bytes", len(ack.Payload))
	}
}

func TestFrameAddressFieldsMaskedOnPack(t *testing.T) {
	// Dst/Src/FrameID fields wider than their bit allotment are truncated,
	// not rejected, matching ParseFrame's own masking on decode.
	f := Frame{Dst: 0xFF, Src: 0xFF, FrameID: 0xFF, Type: FrameData}
	got, err := ParseFrame(f.Pack())
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if got.Dst != MaxAddr || got.Src != MaxAddr || got.FrameID != FrameIDModulus-1 {
		t.Fatalf("unexpected masked frame: %+v", got)
	}
}
