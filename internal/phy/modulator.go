package phy

import (
	"math"

	"github.com/cwsl/acoustic-netstack/internal/bitio"
)

// InterFrameGapSamples separates consecutive phy-frames on air so the
// demodulator's preamble detector has silence to re-synchronize against.
const InterFrameGapSamples = 48

// RedundantPeriods is the default number of carrier cycles used to encode
// one BPSK symbol, chosen to give the correlator enough samples per bit to
// be robust to channel noise.
const RedundantPeriods = 16

// Modulator turns MAC-supplied byte payloads into an on-air waveform: one or
// more phy-frames, each preceded by a chirp preamble and followed by a fixed
// gap, carrying BPSK symbols on a single carrier or, under OFDM, on several
// harmonically related carriers summed sample-wise.
type Modulator struct {
	SampleRate       uint32
	CarrierFreq      []uint32
	RedundantPeriods int
	EnableOFDM       bool
	Codec            *Codec

	preamble []float32
}

// NewModulator constructs a Modulator. carrierFreq must be non-empty, and
// under OFDM each entry must be exactly double the previous one (validated
// upstream by internal/config).
func NewModulator(sampleRate uint32, carrierFreq []uint32, redundantPeriods int, enableOFDM bool, codec *Codec) *Modulator {
	if redundantPeriods <= 0 {
		redundantPeriods = RedundantPeriods
	}
	return &Modulator{
		SampleRate:       sampleRate,
		CarrierFreq:      carrierFreq,
		RedundantPeriods: redundantPeriods,
		EnableOFDM:       enableOFDM,
		Codec:            codec,
		preamble:         GeneratePreamble(sampleRate),
	}
}

func (m *Modulator) samplesPerBit(carrierIdx int) uint32 {
	return m.SampleRate * uint32(m.RedundantPeriods) / m.CarrierFreq[carrierIdx]
}

// modulateBits BPSK-modulates bits onto carrier carrierIdx: +sin for bit 0,
// -sin for bit 1, redundant_periods cycles per bit.
func (m *Modulator) modulateBits(bits []bitio.Bit, carrierIdx int) []float32 {
	spb := m.samplesPerBit(carrierIdx)
	freq := float64(m.CarrierFreq[carrierIdx])
	out := make([]float32, 0, int(spb)*len(bits))
	var sampleIdx uint32
	for _, bit := range bits {
		sign := 1.0
		if bit != 0 {
			sign = -1.0
		}
		for i := uint32(0); i < spb; i++ {
			phase := 2 * math.Pi * freq * float64(sampleIdx) / float64(m.SampleRate)
			out = append(out, float32(sign*math.Sin(phase)))
			sampleIdx++
		}
	}
	return out
}

// EncodeBytes turns data (len(data)*8 >= bitLen) into the full on-air
// waveform for one MAC frame's payload.
func (m *Modulator) EncodeBytes(data []byte, bitLen int) ([]float32, error) {
	if m.EnableOFDM {
		return m.encodeOFDM(data, bitLen)
	}
	return m.encodeSingleCarrier(data, bitLen)
}

func (m *Modulator) encodeSingleCarrier(data []byte, bitLen int) ([]float32, error) {
	chunkBits := m.Codec.DataCapacityBits()
	var wave []float32
	offset := 0
	for {
		n := chunkBits
		if bitLen-offset < n {
			n = bitLen - offset
		}
		if n < 0 {
			n = 0
		}
		chunk := sliceBits(data, offset, n)
		frameBits, err := m.Codec.Encode(chunk, n)
		if err != nil {
			return nil, err
		}
		wave = append(wave, m.preamble...)
		wave = append(wave, m.modulateBits(frameBits, 0)...)
		wave = append(wave, make([]float32, InterFrameGapSamples)...)
		offset += n
		if offset >= bitLen {
			break
		}
	}
	return wave, nil
}

// encodeOFDM splits data into groups of up to K chunks (K = carrier count),
// one chunk per carrier, modulates each independently at its own carrier
// rate, and sums them sample-wise. The last group may use fewer carriers
// (the source's "last_single_frames_cnt"); per the session's constant
// normalization policy the sum is always divided by the full carrier count,
// not the active count, to avoid a mid-transmission gain discontinuity.
func (m *Modulator) encodeOFDM(data []byte, bitLen int) ([]float32, error) {
	k := len(m.CarrierFreq)
	chunkBits := m.Codec.DataCapacityBits()
	var wave []float32
	offset := 0
	for offset < bitLen {
		var streams [][]float32
		maxLen := 0
		for c := 0; c < k && offset+c*chunkBits < bitLen; c++ {
			start := offset + c*chunkBits
			n := chunkBits
			if bitLen-start < n {
				n = bitLen - start
			}
			chunk := sliceBits(data, start, n)
			frameBits, err := m.Codec.Encode(chunk, n)
			if err != nil {
				return nil, err
			}
			s := m.modulateBits(frameBits, c)
			streams = append(streams, s)
			if len(s) > maxLen {
				maxLen = len(s)
			}
		}

		sum := make([]float32, maxLen)
		for _, s := range streams {
			for i, v := range s {
				sum[i] += v
			}
		}
		for i := range sum {
			sum[i] /= float32(k)
		}

		wave = append(wave, m.preamble...)
		wave = append(wave, sum...)
		wave = append(wave, make([]float32, InterFrameGapSamples)...)

		offset += k * chunkBits
	}
	return wave, nil
}
