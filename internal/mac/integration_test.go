package mac

import (
	"context"
	"testing"
	"time"

	"github.com/cwsl/acoustic-netstack/internal/audio"
	"github.com/cwsl/acoustic-netstack/internal/phy"
)

// busDevice is a two-node in-memory acoustic channel: everything Played is
// chunked and delivered to the peer's capture stream, as audio.LoopbackDevice
// does for a single node. A deaf device accepts Play calls but never
// delivers them, modeling a one-way broken link.
type busDevice struct {
	peerIn chan []float32
	selfIn chan []float32
	deaf   bool
}

func (b *busDevice) Start(ctx context.Context) (<-chan []float32, error) {
	return b.selfIn, nil
}

func (b *busDevice) Play(samples []float32) error {
	if b.deaf {
		return nil
	}
	for offset := 0; offset < len(samples); offset += audio.ChunkSamples {
		end := offset + audio.ChunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		chunk := make([]float32, audio.ChunkSamples)
		copy(chunk, samples[offset:end])
		b.peerIn <- chunk
	}
	return nil
}

func (b *busDevice) Close() error { return nil }

// feedSilence keeps a CarrierSense probe supplied with near-zero-energy
// chunks, standing in for the continuous ambient capture a real audio
// device provides between transmissions (busDevice only delivers samples
// when something is actually played).
func feedSilence(ctx context.Context, ch chan []float32) {
	chunk := make([]float32, audio.ChunkSamples)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case ch <- chunk:
			default:
			}
		}
	}
}

// testCodec is a small no-ECC framing: 8-bit length, 32 data bits, 16-bit
// CRC, giving a 2-byte MAC frame payload capacity after the header — enough
// to carry a short test message in a single frame.
func testCodec() *phy.Codec {
	return &phy.Codec{
		EnableECC:                    false,
		MaxFrameDataLengthNoEncoding: 32,
		FrameLengthLengthNoEncoding:  8,
		FrameCRCLengthNoEncoding:     16,
	}
}

func newTestNode(addr byte, dev audio.Device) *Controller {
	codec := testCodec()
	sampleRate := uint32(8000)
	carrierFreq := []uint32{1000}
	mod := phy.NewModulator(sampleRate, carrierFreq, 4, false, codec)
	demod := phy.NewDemodulator(sampleRate, carrierFreq, 4, false, codec)
	sense := phy.NewCarrierSense(make(chan []float32, 64), 0)
	return NewController(addr, mod, demod, sense, dev)
}

// wireNode starts the goroutines a real cmd/acoustic-modem invocation would:
// forward captured audio into the demodulator, keep carrier-sense fed, and
// run the demodulator and MAC dispatch loops.
func wireNode(ctx context.Context, t *testing.T, ctrl *Controller, dev audio.Device) {
	t.Helper()
	samples, err := dev.Start(ctx)
	if err != nil {
		t.Fatalf("device start: %v", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-samples:
				if !ok {
					return
				}
				select {
				case ctrl.Demod.Samples <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	go feedSilence(ctx, ctrl.Sense.Samples)
	go ctrl.Demod.Run(ctx)
	go ctrl.Run(ctx)
}

// TestControllerSendAndReceiveTwoNodes exercises a full two-node send/recv
// cycle: node 1 sends a short payload to node 2 and expects it delivered.
func TestControllerSendAndReceiveTwoNodes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	aToB := make(chan []float32, 1024)
	bToA := make(chan []float32, 1024)
	devA := &busDevice{peerIn: aToB, selfIn: bToA}
	devB := &busDevice{peerIn: bToA, selfIn: aToB}

	ctrlA := newTestNode(1, devA)
	ctrlB := newTestNode(2, devB)
	wireNode(ctx, t, ctrlA, devA)
	wireNode(ctx, t, ctrlB, devB)

	if err := ctrlA.Send(ctx, 2, []byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-ctrlB.Recv:
		if string(got) != "hi" {
			t.Fatalf("expected payload %q, got %q", "hi", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for node 2 to receive the frame")
	}
}

// TestControllerLinkFailureAfterMaxRetries exercises a one-way broken link:
// node 2 hears node 1 fine but node 1 never hears node 2's ACKs, so Send
// must exhaust MaxSend attempts and report ErrLinkFailure.
func TestControllerLinkFailureAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aToB := make(chan []float32, 1024)
	bToA := make(chan []float32, 1024)
	devA := &busDevice{peerIn: aToB, selfIn: bToA}
	devB := &busDevice{peerIn: bToA, selfIn: aToB, deaf: true}

	ctrlA := newTestNode(1, devA)
	ctrlB := newTestNode(2, devB)
	wireNode(ctx, t, ctrlA, devA)
	wireNode(ctx, t, ctrlB, devB)

	err := ctrlA.Send(ctx, 2, []byte("x"))
	if err != ErrLinkFailure {
		t.Fatalf("expected ErrLinkFailure, got %v", err)
	}
}
