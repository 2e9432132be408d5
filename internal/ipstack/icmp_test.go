package ipstack

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func buildTestEchoRequest(t *testing.T, id, seq uint16, data []byte) *ICMPPacket {
	t.Helper()
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       id,
		Seq:      seq,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, icmp, gopacket.Payload(data)); err != nil {
		t.Fatalf("build fixture: %v", err)
	}
	pkt, err := ParseICMP(buf.Bytes())
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return pkt
}

func TestEchoIdentifierRoundTrip(t *testing.T) {
	pkt := buildTestEchoRequest(t, 1234, 1, []byte("ping"))
	if pkt.EchoIdentifier() != 1234 {
		t.Fatalf("expected echo id 1234, got %d", pkt.EchoIdentifier())
	}
}

func TestReplyEchoSwapsTypePreservesData(t *testing.T) {
	pkt := buildTestEchoRequest(t, 42, 7, []byte("ping"))
	if err := pkt.ReplyEcho(); err != nil {
		t.Fatalf("ReplyEcho: %v", err)
	}
	if pkt.Header.TypeCode.Type() != uint8(ICMPEchoReply) {
		t.Fatalf("expected echo reply type, got %d", pkt.Header.TypeCode.Type())
	}

	raw, err := pkt.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	reparsed, err := ParseICMP(raw)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if reparsed.EchoIdentifier() != 42 {
		t.Fatalf("identifier should survive the reply swap, got %d", reparsed.EchoIdentifier())
	}
	if string(reparsed.Data) != "ping" {
		t.Fatalf("data should survive the reply swap, got %q", reparsed.Data)
	}
}

func TestReplyEchoRejectsNonRequest(t *testing.T) {
	pkt := buildTestEchoRequest(t, 1, 1, nil)
	if err := pkt.ReplyEcho(); err != nil {
		t.Fatalf("first ReplyEcho: %v", err)
	}
	if err := pkt.ReplyEcho(); err == nil {
		t.Fatal("expected ReplyEcho to refuse an already-reply message")
	}
}

func TestParseICMPRejectsGarbage(t *testing.T) {
	if _, err := ParseICMP([]byte{}); err == nil {
		t.Fatal("expected error for empty input")
	}
}
