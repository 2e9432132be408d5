package audio

import "context"

// LoopbackDevice is an in-memory Device for deterministic tests: everything
// written with Play is chunked and delivered back out as captured samples,
// simulating an acoustic channel with zero loss and zero noise.
type LoopbackDevice struct {
	samples chan []float32
	closed  chan struct{}
}

// NewLoopbackDevice constructs a loopback device.
func NewLoopbackDevice() *LoopbackDevice {
	return &LoopbackDevice{
		samples: make(chan []float32, 256),
		closed:  make(chan struct{}),
	}
}

// Start returns the channel Play's chunks are delivered on.
func (l *LoopbackDevice) Start(ctx context.Context) (<-chan []float32, error) {
	return l.samples, nil
}

// Play splits samples into ChunkSamples-sized chunks and enqueues them for
// delivery to Start's channel, as if captured off the air an instant later.
func (l *LoopbackDevice) Play(samples []float32) error {
	for offset := 0; offset < len(samples); offset += ChunkSamples {
		end := offset + ChunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		chunk := make([]float32, ChunkSamples)
		copy(chunk, samples[offset:end])
		select {
		case l.samples <- chunk:
		case <-l.closed:
			return nil
		}
	}
	return nil
}

// Close shuts the device down.
func (l *LoopbackDevice) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
		close(l.samples)
	}
	return nil
}
