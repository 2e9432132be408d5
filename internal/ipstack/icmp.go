package ipstack

import (
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotICMP is returned when payload bytes don't decode as a well-formed
// ICMP message.
var ErrNotICMP = errors.New("ipstack: not a valid ICMP message")

// ICMPEchoRequest and ICMPEchoReply are the only ICMP types this bridge
// understands; every other ICMP type (and every non-ICMP protocol) is
// ignored upstream.
const (
	ICMPEchoRequest = layers.ICMPv4TypeEchoRequest
	ICMPEchoReply   = layers.ICMPv4TypeEchoReply
)

// ICMPPacket is a parsed ICMP message.
type ICMPPacket struct {
	Header *layers.ICMPv4
	Data   []byte
}

// ParseICMP decodes an ICMP message from an IPv4 payload.
func ParseICMP(b []byte) (*ICMPPacket, error) {
	packet := gopacket.NewPacket(b, layers.LayerTypeICMPv4, gopacket.NoCopy)
	layer := packet.Layer(layers.LayerTypeICMPv4)
	if layer == nil {
		return nil, ErrNotICMP
	}
	icmp, ok := layer.(*layers.ICMPv4)
	if !ok {
		return nil, ErrNotICMP
	}
	return &ICMPPacket{Header: icmp, Data: icmp.Payload}, nil
}

// Serialize renders the ICMP message to wire bytes, recomputing its
// checksum.
func (p *ICMPPacket) Serialize() ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	payload := gopacket.Payload(p.Data)
	if err := gopacket.SerializeLayers(buf, opts, p.Header, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EchoIdentifier returns the echo identifier field the NAT table keys on.
func (p *ICMPPacket) EchoIdentifier() uint16 {
	return p.Header.Id
}

// ReplyEcho swaps an echo request (type 8) into an echo reply (type 0),
// keeping identifier, sequence, and data intact; the checksum is
// recomputed on the next Serialize.
func (p *ICMPPacket) ReplyEcho() error {
	if p.Header.TypeCode.Type() != layers.ICMPv4TypeEchoRequest {
		return errors.New("ipstack: ReplyEcho called on non-echo-request message")
	}
	p.Header.TypeCode = layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0)
	return nil
}
