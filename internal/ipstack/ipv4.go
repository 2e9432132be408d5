// Package ipstack implements the IPv4/ICMP codec the NAT bridge needs to
// terminate IPv4 at the acoustic edge: parse, serialize, checksum, TTL
// handling, and subnet matching.
package ipstack

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotIPv4 is returned by Parse for non-IPv4 or under-length input.
var ErrNotIPv4 = errors.New("ipstack: not a valid IPv4 packet")

// IPv4Packet is a parsed IPv4 datagram, carrying the gopacket layer plus
// its trailing payload.
type IPv4Packet struct {
	Header  *layers.IPv4
	Payload []byte
}

// Parse validates and decodes an IPv4 packet, rejecting anything that
// isn't version 4 or is shorter than a minimal header.
func Parse(b []byte) (*IPv4Packet, error) {
	if len(b) < 20 {
		return nil, ErrNotIPv4
	}
	if b[0]>>4 != 4 {
		return nil, ErrNotIPv4
	}
	packet := gopacket.NewPacket(b, layers.LayerTypeIPv4, gopacket.NoCopy)
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, ErrNotIPv4
	}
	ip, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return nil, ErrNotIPv4
	}
	return &IPv4Packet{Header: ip, Payload: ip.Payload}, nil
}

// serializeWith renders the packet to wire bytes with the given checksum/
// length-fixing behavior, the shared primitive behind Serialize,
// VerifyChecksum, and DecrementTTL's checksum recompute.
func (p *IPv4Packet) serializeWith(computeChecksums, fixLengths bool) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: computeChecksums, FixLengths: fixLengths}
	if err := gopacket.SerializeLayers(buf, opts, p.Header, gopacket.Payload(p.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Serialize renders the packet back to wire bytes, recomputing the header
// checksum and length fields.
func (p *IPv4Packet) Serialize() ([]byte, error) {
	return p.serializeWith(true, true)
}

// VerifyChecksum checks the header checksum already present in the header
// (as parsed off the wire) without recomputing it, so a corrupted incoming
// checksum is actually detected rather than silently replaced.
func (p *IPv4Packet) VerifyChecksum() bool {
	raw, err := p.serializeWith(false, false)
	if err != nil || len(raw) < 20 {
		return false
	}
	ihl := int(raw[0]&0x0F) * 4
	if ihl < 20 || ihl > len(raw) {
		return false
	}
	return checksum16(raw[:ihl]) == 0
}

// checksum16 computes the 16-bit one's-complement sum over data (the
// standard IP header checksum algorithm, including its own checksum field
// when present — a correct header checksums to zero).
func checksum16(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// DecrementTTL lowers TTL by one, recomputes the header checksum, and
// returns the pre-decrement value. Per the redesign, it refuses to
// decrement (and leaves the packet untouched) when TTL is already <= 1,
// since a further decrement would require discarding the packet rather
// than forwarding a TTL-expired datagram.
func (p *IPv4Packet) DecrementTTL() (old uint8, ok bool) {
	old = p.Header.TTL
	if old <= 1 {
		return old, false
	}
	p.Header.TTL = old - 1
	p.Header.Checksum = 0
	if raw, err := p.serializeWith(true, false); err == nil && len(raw) >= 12 {
		p.Header.Checksum = binary.BigEndian.Uint16(raw[10:12])
	}
	return old, true
}

// DstIsSubnet reports whether the packet's destination falls within the
// subnet identified by (domain, mask).
func (p *IPv4Packet) DstIsSubnet(domain, mask net.IP) bool {
	d4 := domain.To4()
	m4 := mask.To4()
	dst4 := p.Header.DstIP.To4()
	if d4 == nil || m4 == nil || dst4 == nil {
		return false
	}
	for i := 0; i < 4; i++ {
		if dst4[i]&m4[i] != d4[i]&m4[i] {
			return false
		}
	}
	return true
}
