// Package nat bridges the acoustic MAC to a conventional wired interface,
// terminating IPv4 ICMP echo traffic at the acoustic edge and translating
// identifiers so replies routed over the wire find their way back.
package nat

import (
	"container/list"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/cwsl/acoustic-netstack/internal/ipstack"
)

const (
	// natTableSize bounds the number of concurrently in-flight echo
	// translations; least-recently-used entries are evicted first.
	natTableSize = 256
	// natEntryTTL is how long an entry survives without being touched
	// before it is considered stale and evicted on next access.
	natEntryTTL = 30 * time.Second

	protocolICMP = 1
)

type natEntry struct {
	echoID     uint16
	origSource net.IP
	touched    time.Time
	elem       *list.Element
}

// natTable is a small LRU cache keyed on ICMP echo identifier, mapping back
// to the original acoustic-side source address. Guarded by a single mutex
// held only for map/list bookkeeping, never across I/O.
type natTable struct {
	mu      sync.Mutex
	entries map[uint16]*natEntry
	order   *list.List // front = most recently used
}

func newNATTable() *natTable {
	return &natTable{
		entries: make(map[uint16]*natEntry),
		order:   list.New(),
	}
}

func (t *natTable) put(echoID uint16, origSource net.IP) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[echoID]; ok {
		e.origSource = origSource
		e.touched = time.Now()
		t.order.MoveToFront(e.elem)
		return
	}

	if len(t.entries) >= natTableSize {
		back := t.order.Back()
		if back != nil {
			evict := back.Value.(*natEntry)
			delete(t.entries, evict.echoID)
			t.order.Remove(back)
		}
	}

	e := &natEntry{echoID: echoID, origSource: origSource, touched: time.Now()}
	e.elem = t.order.PushFront(e)
	t.entries[echoID] = e
}

func (t *natTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *natTable) lookup(echoID uint16) (net.IP, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[echoID]
	if !ok {
		return nil, false
	}
	if time.Since(e.touched) > natEntryTTL {
		delete(t.entries, echoID)
		t.order.Remove(e.elem)
		return nil, false
	}
	t.order.MoveToFront(e.elem)
	return e.origSource, true
}

// setReuseAddr allows a restarted bridge to rebind the raw ICMP socket
// immediately instead of waiting out TIME_WAIT.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// AcousticLink is the MAC-side byte stream the bridge rides IP packets over.
type AcousticLink interface {
	Send(ctx context.Context, dst byte, bytes []byte) bool
	RecvNext(ctx context.Context) ([]byte, bool)
}

// Bridge owns the NAT table and the two cooperating loops that move ICMP
// echo traffic between the acoustic subnet and a wired interface.
type Bridge struct {
	Link       AcousticLink
	Domain     net.IP
	Mask       net.IP
	Interfaces []string

	// Metrics, when set, records translation/drop counters. Left nil,
	// it is simply never called.
	Metrics interface {
		NATTableSize(n int)
		NATEchoTranslated()
		NATPacketDropped(reason string)
	}

	table *natTable
}

// NewBridge constructs a Bridge for the given acoustic subnet, bridging
// through link and watching the named wired interfaces for inbound traffic.
func NewBridge(link AcousticLink, domain, mask net.IP, interfaces []string) *Bridge {
	return &Bridge{
		Link:       link,
		Domain:     domain,
		Mask:       mask,
		Interfaces: interfaces,
		table:      newNATTable(),
	}
}

// RunOutbound consumes IP packets arriving from the acoustic MAC and
// relays ICMP echo requests onward to their original destination over a
// raw IPv4 socket, recording the identifier mapping needed for the reply.
func (b *Bridge) RunOutbound(ctx context.Context) error {
	lc := net.ListenConfig{Control: setReuseAddr}
	conn, err := lc.ListenPacket(ctx, fmt.Sprintf("ip4:%d", protocolICMP), "0.0.0.0")
	if err != nil {
		return fmt.Errorf("nat: listen raw icmp: %w", err)
	}
	defer conn.Close()

	raw, err := ipv4.NewRawConn(conn)
	if err != nil {
		return fmt.Errorf("nat: new raw conn: %w", err)
	}
	defer raw.Close()

	for {
		payload, ok := b.Link.RecvNext(ctx)
		if !ok {
			return ctx.Err()
		}
		b.forwardOutbound(raw, payload)
	}
}

func (b *Bridge) forwardOutbound(raw *ipv4.RawConn, payload []byte) {
	pkt, err := ipstack.Parse(payload)
	if err != nil {
		b.dropped("not_ipv4")
		return
	}
	if pkt.Header.Protocol != layers.IPProtocolICMPv4 {
		b.dropped("not_icmp")
		return
	}
	icmpPkt, err := ipstack.ParseICMP(pkt.Header.Payload)
	if err != nil || icmpPkt.Header.TypeCode.Type() != uint8(ipstack.ICMPEchoRequest) {
		b.dropped("not_icmp")
		return
	}

	b.table.put(icmpPkt.EchoIdentifier(), pkt.Header.SrcIP)
	if b.Metrics != nil {
		b.Metrics.NATEchoTranslated()
		b.Metrics.NATTableSize(b.table.size())
	}

	icmpBytes, err := icmpPkt.Serialize()
	if err != nil {
		return
	}

	header := &ipv4.Header{
		Version:  4,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(icmpBytes),
		TTL:      pkt.Header.TTL,
		Protocol: protocolICMP,
		Dst:      pkt.Header.DstIP,
	}
	if err := raw.WriteTo(header, icmpBytes, nil); err != nil {
		log.Printf("nat: write outbound icmp: %v", err)
	}
}

// RunInbound watches the configured wired interfaces for IPv4 ICMP traffic
// returning from the outside world and injects matching replies back into
// the acoustic MAC.
func (b *Bridge) RunInbound(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(b.Interfaces))
	for _, ifaceName := range b.Interfaces {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := b.runInboundOn(ctx, name); err != nil {
				errCh <- err
			}
		}(ifaceName)
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

func (b *Bridge) runInboundOn(ctx context.Context, ifaceName string) error {
	handle, err := pcap.OpenLive(ifaceName, 65536, false, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("nat: open interface %s: %w", ifaceName, err)
	}
	defer handle.Close()

	if err := handle.SetBPFFilter("icmp"); err != nil {
		return fmt.Errorf("nat: set bpf filter on %s: %w", ifaceName, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet, ok := <-source.Packets():
			if !ok {
				return nil
			}
			b.handleInboundPacket(ctx, packet)
		}
	}
}

func (b *Bridge) handleInboundPacket(ctx context.Context, packet gopacket.Packet) {
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return
	}
	ip, ok := ipLayer.(*layers.IPv4)
	if !ok || ip.Protocol != layers.IPProtocolICMPv4 {
		return
	}
	pkt := &ipstack.IPv4Packet{Header: ip, Payload: ip.Payload}

	if pkt.DstIsSubnet(b.Domain, b.Mask) {
		b.injectAcoustic(ctx, pkt)
		return
	}

	icmpLayer := packet.Layer(layers.LayerTypeICMPv4)
	if icmpLayer == nil {
		return
	}
	icmp, ok := icmpLayer.(*layers.ICMPv4)
	if !ok {
		return
	}

	mapped, ok := b.table.lookup(icmp.Id)
	if !ok {
		b.dropped("no_mapping")
		return
	}
	ip.DstIP = mapped
	b.injectAcoustic(ctx, pkt)
}

func (b *Bridge) dropped(reason string) {
	if b.Metrics != nil {
		b.Metrics.NATPacketDropped(reason)
	}
}

// acousticAddr derives a node's 4-bit MAC address from the low bits of its
// IPv4 address's final octet, the natural mapping for a /28-or-narrower
// acoustic subnet of at most 16 nodes.
func acousticAddr(ip net.IP) byte {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return v4[3] & 0x0F
}

func (b *Bridge) injectAcoustic(ctx context.Context, pkt *ipstack.IPv4Packet) {
	raw, err := pkt.Serialize()
	if err != nil {
		return
	}
	b.Link.Send(ctx, acousticAddr(pkt.Header.DstIP), raw)
}
