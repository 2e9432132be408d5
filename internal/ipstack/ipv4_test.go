package ipstack

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func buildTestPacket(t *testing.T, ttl uint8, dst net.IP, payload []byte) *IPv4Packet {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    dst,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload(payload)); err != nil {
		t.Fatalf("build fixture: %v", err)
	}
	pkt, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return pkt
}

func TestParseRejectsNonIPv4(t *testing.T) {
	if _, err := Parse([]byte{0x60, 0, 0, 0}); err != ErrNotIPv4 {
		t.Fatalf("expected ErrNotIPv4 for IPv6 version nibble, got %v", err)
	}
	if _, err := Parse([]byte{0x45, 0, 0}); err != ErrNotIPv4 {
		t.Fatalf("expected ErrNotIPv4 for under-length input, got %v", err)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	pkt := buildTestPacket(t, 64, net.IPv4(192, 168, 1, 1), []byte("payload"))
	raw, err := pkt.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	reparsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !reparsed.Header.DstIP.Equal(net.IPv4(192, 168, 1, 1)) {
		t.Fatalf("dst mismatch after round trip: %v", reparsed.Header.DstIP)
	}
	if string(reparsed.Payload) != "payload" {
		t.Fatalf("payload mismatch after round trip: %q", reparsed.Payload)
	}
}

func TestVerifyChecksumDetectsCorruption(t *testing.T) {
	pkt := buildTestPacket(t, 64, net.IPv4(192, 168, 1, 1), []byte("x"))
	if !pkt.VerifyChecksum() {
		t.Fatal("freshly built packet should have a valid checksum")
	}

	pkt.Header.Checksum ^= 0xFFFF
	if pkt.VerifyChecksum() {
		t.Fatal("corrupted checksum should fail verification")
	}
}

func TestDecrementTTLRefusesAtOne(t *testing.T) {
	pkt := buildTestPacket(t, 1, net.IPv4(192, 168, 1, 1), nil)
	old, ok := pkt.DecrementTTL()
	if ok {
		t.Fatal("DecrementTTL should refuse when TTL is 1")
	}
	if old != 1 || pkt.Header.TTL != 1 {
		t.Fatalf("TTL should be left untouched, got %d", pkt.Header.TTL)
	}
}

func TestDecrementTTLSucceedsAboveOne(t *testing.T) {
	pkt := buildTestPacket(t, 5, net.IPv4(192, 168, 1, 1), nil)
	old, ok := pkt.DecrementTTL()
	if !ok || old != 5 {
		t.Fatalf("expected success reporting old=5, got old=%d ok=%v", old, ok)
	}
	if pkt.Header.TTL != 4 {
		t.Fatalf("TTL should now be 4, got %d", pkt.Header.TTL)
	}
	if !pkt.VerifyChecksum() {
		t.Fatal("checksum should already verify against the decremented TTL, without a separate Serialize call")
	}
}

func TestDstIsSubnetMatchesWithinMask(t *testing.T) {
	pkt := buildTestPacket(t, 64, net.IPv4(10, 5, 0, 3), nil)
	domain := net.IPv4(10, 5, 0, 0)
	mask := net.IPv4(255, 255, 255, 0)
	if !pkt.DstIsSubnet(domain, mask) {
		t.Fatal("expected dst 10.5.0.3 to match 10.5.0.0/24")
	}

	outside := buildTestPacket(t, 64, net.IPv4(10, 6, 0, 3), nil)
	if outside.DstIsSubnet(domain, mask) {
		t.Fatal("expected dst 10.6.0.3 to not match 10.5.0.0/24")
	}
}
