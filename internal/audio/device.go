// Package audio abstracts the sound card capture/playback loop the PHY
// modulator and demodulator sit on top of, so the rest of the stack never
// touches PortAudio directly.
package audio

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// ChunkSamples is the number of samples delivered per capture callback, the
// granularity the demodulator's sample_chunk_queue operates on.
const ChunkSamples = 1024

// Device is anything that can stream float32 PCM samples in both
// directions. PortAudioDevice backs production use; LoopbackDevice backs
// deterministic tests.
type Device interface {
	// Start begins capture; captured chunks are sent on the returned
	// channel until ctx is cancelled or Close is called.
	Start(ctx context.Context) (<-chan []float32, error)
	// Play blocks until samples have been written to the output stream.
	Play(samples []float32) error
	// Close releases the underlying device.
	Close() error
}

// PortAudioDevice is a full-duplex sound card device.
type PortAudioDevice struct {
	SampleRate uint32

	stream  *portaudio.Stream
	inBuf   []float32
	outBuf  []float32
	samples chan []float32
	done    chan struct{}
}

// ListOutputDevices enumerates output-capable devices via portaudio.Devices.
func ListOutputDevices() ([]*portaudio.DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audio: list devices: %w", err)
	}
	var out []*portaudio.DeviceInfo
	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

// NewPortAudioDevice opens a full-duplex mono stream at sampleRate.
func NewPortAudioDevice(sampleRate uint32) (*PortAudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: initialize portaudio: %w", err)
	}

	d := &PortAudioDevice{
		SampleRate: sampleRate,
		inBuf:      make([]float32, ChunkSamples),
		outBuf:     make([]float32, ChunkSamples),
		samples:    make(chan []float32, 64),
		done:       make(chan struct{}),
	}

	stream, err := portaudio.OpenDefaultStream(1, 1, float64(sampleRate), ChunkSamples, d.inBuf, d.outBuf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("audio: open default stream: %w", err)
	}
	d.stream = stream
	return d, nil
}

// Start begins the capture loop, forwarding each filled buffer as its own
// chunk on the returned channel.
func (d *PortAudioDevice) Start(ctx context.Context) (<-chan []float32, error) {
	if err := d.stream.Start(); err != nil {
		return nil, fmt.Errorf("audio: start stream: %w", err)
	}
	go func() {
		defer close(d.samples)
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.done:
				return
			default:
			}
			if err := d.stream.Read(); err != nil {
				return
			}
			chunk := make([]float32, len(d.inBuf))
			copy(chunk, d.inBuf)
			select {
			case d.samples <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return d.samples, nil
}

// Play writes samples to the output stream in ChunkSamples-sized bursts.
func (d *PortAudioDevice) Play(samples []float32) error {
	for offset := 0; offset < len(samples); offset += ChunkSamples {
		n := copy(d.outBuf, samples[offset:])
		for i := n; i < len(d.outBuf); i++ {
			d.outBuf[i] = 0
		}
		if err := d.stream.Write(); err != nil {
			return fmt.Errorf("audio: write stream: %w", err)
		}
	}
	return nil
}

// Close stops capture and releases the PortAudio stream.
func (d *PortAudioDevice) Close() error {
	close(d.done)
	if err := d.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
