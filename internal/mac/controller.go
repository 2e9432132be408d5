package mac

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cwsl/acoustic-netstack/internal/audio"
	"github.com/cwsl/acoustic-netstack/internal/phy"
)

// ErrLinkFailure is returned by Send when MaxSend attempts at a frame all
// go unacknowledged.
var ErrLinkFailure = errors.New("mac: link failure, max retries exhausted")

// dedupWindowSize bounds how many recent frame_ids are remembered per
// source for duplicate-DATA-frame detection. Not specified by the wire
// format; chosen large enough to cover MaxSend retries of one frame plus
// some slack without growing unbounded.
const dedupWindowSize = 8

// Controller owns one modulator, one demodulator, and one carrier-sense
// probe, and arbitrates the half-duplex acoustic channel between them via
// CSMA/CA with ACK and binary-exponential backoff.
type Controller struct {
	Addr byte

	Modulator *phy.Modulator
	Demod     *phy.Demodulator
	Sense     *phy.CarrierSense
	Device    audio.Device

	Recv chan []byte

	// Metrics, when set, records send/retry/link-failure and dedup
	// counters. Left nil, it is simply never called.
	Metrics interface {
		MACSendAttempt()
		MACSendSuccess()
		MACLinkFailure()
		MACBackoff(seconds float64)
		MACDuplicateFrame()
	}

	txMu        sync.Mutex
	rnd         *rand.Rand
	nextFrameID byte

	ackMu  sync.Mutex
	ackCh  chan byte
	waitID byte
	waitOn bool

	dedupMu sync.Mutex
	dedup   map[byte][]byte
}

// NewController wires a controller around an already-constructed modulator,
// demodulator, carrier-sense probe, and audio device.
func NewController(addr byte, mod *phy.Modulator, demod *phy.Demodulator, sense *phy.CarrierSense, dev audio.Device) *Controller {
	return &Controller{
		Addr:      addr,
		Modulator: mod,
		Demod:     demod,
		Sense:     sense,
		Device:    dev,
		Recv:      make(chan []byte, 64),
		rnd:       rand.New(rand.NewSource(int64(addr) + 1)),
		ackCh:     make(chan byte, 1),
		dedup:     make(map[byte][]byte),
	}
}

// Run drives the inbound path: it reads decoded frames off the demodulator,
// routes ACKs to outstanding sends, dedupes and delivers DATA frames, and
// acks new DATA frames. It blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case df, ok := <-c.Demod.Frames:
			if !ok {
				return
			}
			frame, err := ParseFrame(df.Data)
			if err != nil || frame.Dst != c.Addr {
				continue
			}
			switch frame.Type {
			case FrameAck:
				c.handleAck(frame.FrameID)
			case FrameData:
				c.handleData(frame)
			}
		}
	}
}

func (c *Controller) handleAck(frameID byte) {
	c.ackMu.Lock()
	waiting := c.waitOn && c.waitID == frameID
	c.ackMu.Unlock()
	if waiting {
		select {
		case c.ackCh <- frameID:
		default:
		}
	}
}

func (c *Controller) handleData(frame Frame) {
	if c.seen(frame.Src, frame.FrameID) {
		if c.Metrics != nil {
			c.Metrics.MACDuplicateFrame()
		}
		c.sendAck(frame.Src, frame.FrameID)
		return
	}
	c.remember(frame.Src, frame.FrameID)
	select {
	case c.Recv <- frame.Payload:
	default:
	}
	c.sendAck(frame.Src, frame.FrameID)
}

func (c *Controller) seen(src, frameID byte) bool {
	c.dedupMu.Lock()
	defer c.dedupMu.Unlock()
	for _, id := range c.dedup[src] {
		if id == frameID {
			return true
		}
	}
	return false
}

func (c *Controller) remember(src, frameID byte) {
	c.dedupMu.Lock()
	defer c.dedupMu.Unlock()
	window := append(c.dedup[src], frameID)
	if len(window) > dedupWindowSize {
		window = window[len(window)-dedupWindowSize:]
	}
	c.dedup[src] = window
}

func (c *Controller) sendAck(dst, frameID byte) {
	ack := NewAck(dst, c.Addr, frameID)
	c.transmit(ack)
}

// transmit plays one frame on air, observing the switch-signal discipline:
// flip the demodulator off, play, flip it back on, unconditionally.
func (c *Controller) transmit(frame Frame) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	payload := frame.Pack()
	wave, err := c.Modulator.EncodeBytes(payload, len(payload)*8)
	if err != nil {
		return err
	}

	c.Demod.Switch <- false
	err = c.Device.Play(wave)
	c.Demod.Switch <- true
	return err
}

// Send chunks payload into fixed-capacity DATA frames addressed to dst and
// delivers them in order, each with its own CSMA/CA + ACK cycle. It returns
// ErrLinkFailure on the first frame that exhausts MaxSend attempts.
func (c *Controller) Send(ctx context.Context, dst byte, payload []byte) error {
	chunkBytes := c.frameCapacityBytes()
	offset := 0
	for {
		end := offset + chunkBytes
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]
		frame := Frame{Dst: dst, Src: c.Addr, FrameID: c.nextFrameID, Type: FrameData, Payload: chunk}
		c.nextFrameID = (c.nextFrameID + 1) % FrameIDModulus

		if err := c.sendFrameWithRetry(ctx, frame); err != nil {
			return err
		}

		offset = end
		if offset >= len(payload) {
			return nil
		}
	}
}

// frameCapacityBytes is the maximum DATA payload per MAC frame: whatever
// the PHY codec can carry per phy-frame (times carrier count under OFDM),
// less the MAC header.
func (c *Controller) frameCapacityBytes() int {
	bits := c.Modulator.Codec.DataCapacityBits()
	if c.Modulator.EnableOFDM {
		bits *= len(c.Modulator.CarrierFreq)
	}
	capBytes := bits / 8
	capBytes -= HeaderBits / 8
	if capBytes <= 0 {
		capBytes = 1
	}
	return capBytes
}

// sendFrameWithRetry runs the IDLE -> TX_FRAME -> WAIT_ACK -> {IDLE|BACKOFF}
// cycle for a single frame until it is acknowledged or MaxSend is reached.
func (c *Controller) sendFrameWithRetry(ctx context.Context, frame Frame) error {
	for attempt := 0; attempt < MaxSend; attempt++ {
		for !c.Sense.IsEmpty() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDuration(attempt, c.rnd)):
			}
		}

		c.ackMu.Lock()
		c.waitID = frame.FrameID
		c.waitOn = true
		c.ackMu.Unlock()

		if c.Metrics != nil {
			c.Metrics.MACSendAttempt()
		}
		if err := c.transmit(frame); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-c.ackCh:
			c.ackMu.Lock()
			c.waitOn = false
			c.ackMu.Unlock()
			if id == frame.FrameID {
				if c.Metrics != nil {
					c.Metrics.MACSendSuccess()
				}
				return nil
			}
		case <-time.After(AckWaitTime):
			c.ackMu.Lock()
			c.waitOn = false
			c.ackMu.Unlock()
			if attempt+1 >= MaxSend {
				if c.Metrics != nil {
					c.Metrics.MACLinkFailure()
				}
				return ErrLinkFailure
			}
			backoff := backoffDuration(attempt+1, c.rnd)
			if c.Metrics != nil {
				c.Metrics.MACBackoff(backoff.Seconds())
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	if c.Metrics != nil {
		c.Metrics.MACLinkFailure()
	}
	return ErrLinkFailure
}
