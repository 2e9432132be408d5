package phy

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Preamble sweep parameters: a single period chirp from f_lo to f_hi and
// back over 2*PreambleHalfLen-1 samples.
const (
	PreambleFLo     = 800.0
	PreambleFHi     = 2000.0
	PreambleHalfLen = 280

	// preambleThreshold is the minimum normalized cross-correlation peak
	// that is accepted as a frame start.
	preambleThreshold = 0.6
)

// GeneratePreamble builds the chirp preamble shared by modulator and
// demodulator, by trapezoidal integration of the instantaneous frequency
// followed by sin(2*pi*phase).
func GeneratePreamble(sampleRate uint32) []float32 {
	n := 2*PreambleHalfLen - 1
	freq := make([]float64, n)
	for i := 0; i < PreambleHalfLen; i++ {
		t := float64(i) / float64(PreambleHalfLen-1)
		freq[i] = PreambleFLo + t*(PreambleFHi-PreambleFLo)
	}
	for i := PreambleHalfLen; i < n; i++ {
		t := float64(i-PreambleHalfLen+1) / float64(PreambleHalfLen-1)
		freq[i] = PreambleFHi - t*(PreambleFHi-PreambleFLo)
	}

	dx := 1.0 / float64(sampleRate)
	phase := make([]float64, n)
	for i := 1; i < n; i++ {
		trapArea := (freq[i] + freq[i-1]) * dx / 2
		phase[i] = phase[i-1] + trapArea
	}

	out := make([]float32, n)
	for i, p := range phase {
		out[i] = float32(math.Sin(2 * math.Pi * p))
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// bestCorrelation scans buf for the window best matching preamble under
// normalized cross-correlation, returning its start offset and score.
func bestCorrelation(buf []float32, preamble []float32) (int, float64) {
	n := len(preamble)
	if len(buf) < n {
		return 0, -1
	}
	pf := toFloat64(preamble)
	pEnergy := floats.Dot(pf, pf)

	bestIdx := 0
	bestVal := -1.0
	for start := 0; start+n <= len(buf); start++ {
		wf := toFloat64(buf[start : start+n])
		wEnergy := floats.Dot(wf, wf)
		if wEnergy == 0 || pEnergy == 0 {
			continue
		}
		dot := floats.Dot(wf, pf)
		val := dot / math.Sqrt(wEnergy*pEnergy)
		if val > bestVal {
			bestVal = val
			bestIdx = start
		}
	}
	return bestIdx, bestVal
}
