package phy

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cwsl/acoustic-netstack/internal/bitio"
)

type demodState int

const (
	stateDetectPreamble demodState = iota
	stateReceivePayload
)

// DecodedFrame is one successfully decoded phy-frame payload, handed off to
// the MAC layer in arrival order.
type DecodedFrame struct {
	Data   []byte
	BitLen int
}

// Demodulator is the stateful receiver described in the PHY design: it
// watches a stream of capture sample chunks for a preamble, then samples
// one phy-frame's worth of payload bits per carrier, decodes, and delivers.
// Toggling Switch off suspends processing (so the TX side can play without
// self-interference); toggling it on resumes detection from a clean buffer.
type Demodulator struct {
	SampleRate       uint32
	CarrierFreq      []uint32
	RedundantPeriods int
	EnableOFDM       bool
	Codec            *Codec

	Switch  chan bool
	Samples chan []float32
	Frames  chan DecodedFrame

	preamble []float32
	buf      []float32
	state    demodState
	enabled  bool
}

// NewDemodulator constructs a Demodulator. Samples and Frames should be
// buffered enough to absorb the capture callback's chunk cadence; Switch is
// typically unbuffered, flipped synchronously by the MAC controller around
// every transmission.
func NewDemodulator(sampleRate uint32, carrierFreq []uint32, redundantPeriods int, enableOFDM bool, codec *Codec) *Demodulator {
	if redundantPeriods <= 0 {
		redundantPeriods = RedundantPeriods
	}
	return &Demodulator{
		SampleRate:       sampleRate,
		CarrierFreq:      carrierFreq,
		RedundantPeriods: redundantPeriods,
		EnableOFDM:       enableOFDM,
		Codec:            codec,
		Switch:           make(chan bool),
		Samples:          make(chan []float32, 64),
		Frames:           make(chan DecodedFrame, 16),
		preamble:         GeneratePreamble(sampleRate),
		enabled:          true,
	}
}

func (d *Demodulator) samplesPerBit(carrierIdx int) uint32 {
	return d.SampleRate * uint32(d.RedundantPeriods) / d.CarrierFreq[carrierIdx]
}

// Run drives the state machine until ctx is cancelled or Samples is closed.
func (d *Demodulator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case en, ok := <-d.Switch:
			if !ok {
				return
			}
			d.enabled = en
			if !en {
				d.buf = d.buf[:0]
				d.state = stateDetectPreamble
			}
		case chunk, ok := <-d.Samples:
			if !ok {
				return
			}
			if !d.enabled {
				continue
			}
			d.buf = append(d.buf, chunk...)
			d.drain()
		}
	}
}

func (d *Demodulator) carrierCount() int {
	if d.EnableOFDM {
		return len(d.CarrierFreq)
	}
	return 1
}

func (d *Demodulator) samplesPerFrame() int {
	return int(d.samplesPerBit(0)) * d.Codec.FrameBitLen()
}

// drain runs as many preamble-detect/receive-payload cycles as the
// currently buffered samples allow.
func (d *Demodulator) drain() {
	for {
		switch d.state {
		case stateDetectPreamble:
			need := len(d.preamble) * 2
			if len(d.buf) < need {
				return
			}
			peakIdx, peakVal := bestCorrelation(d.buf, d.preamble)
			if peakVal < preambleThreshold {
				drop := len(d.buf) - len(d.preamble)
				if drop > 0 {
					d.buf = d.buf[drop:]
				}
				return
			}
			d.buf = d.buf[peakIdx+len(d.preamble):]
			d.state = stateReceivePayload

		case stateReceivePayload:
			spf := d.samplesPerFrame()
			if len(d.buf) < spf {
				return
			}
			window := d.buf[:spf]
			for c := 0; c < d.carrierCount(); c++ {
				bits := d.demodulateCarrier(window, c)
				if len(bits) != d.Codec.FrameBitLen() {
					continue
				}
				data, bitLen, err := d.Codec.Decode(bits)
				if err != nil {
					continue
				}
				select {
				case d.Frames <- DecodedFrame{Data: data, BitLen: bitLen}:
				default:
				}
			}
			consumed := spf + InterFrameGapSamples
			if consumed > len(d.buf) {
				consumed = len(d.buf)
			}
			d.buf = d.buf[consumed:]
			d.state = stateDetectPreamble
		}
	}
}

// demodulateCarrier recovers one carrier's bit stream from a window of
// samples: each bit is sampled by correlating against that carrier's
// reference sinusoid over one bit's worth of samples — positive dot
// product decodes to bit 0, negative to bit 1.
func (d *Demodulator) demodulateCarrier(samples []float32, carrierIdx int) []bitio.Bit {
	spb := d.samplesPerBit(carrierIdx)
	freq := float64(d.CarrierFreq[carrierIdx])
	frameBits := d.Codec.FrameBitLen()
	bits := make([]bitio.Bit, 0, frameBits)
	for i := 0; i < frameBits; i++ {
		start := uint32(i) * spb
		if int(start+spb) > len(samples) {
			break
		}
		window := samples[start : start+spb]
		ref := make([]float64, len(window))
		wf := make([]float64, len(window))
		for s, v := range window {
			phase := 2 * math.Pi * freq * float64(start+uint32(s)) / float64(d.SampleRate)
			ref[s] = math.Sin(phase)
			wf[s] = float64(v)
		}
		dot := floats.Dot(wf, ref)
		if dot >= 0 {
			bits = append(bits, 0)
		} else {
			bits = append(bits, 1)
		}
	}
	return bits
}
