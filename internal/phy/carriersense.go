package phy

import "gonum.org/v1/gonum/floats"

// DefaultEnergyLimit is the RMS energy threshold below which the channel is
// considered idle (spec's lowest_power_limit default).
const DefaultEnergyLimit = 0.001

// CarrierSense owns a dedicated capture stream and answers "is the channel
// idle right now" by measuring short-window RMS energy. It is short-lived
// per call: it drains anything already queued before reading so the answer
// reflects "now", not history.
type CarrierSense struct {
	EnergyLimit float32
	Samples     chan []float32
}

// NewCarrierSense constructs a probe reading from samples.
func NewCarrierSense(samples chan []float32, energyLimit float32) *CarrierSense {
	if energyLimit <= 0 {
		energyLimit = DefaultEnergyLimit
	}
	return &CarrierSense{EnergyLimit: energyLimit, Samples: samples}
}

// IsEmpty drains any already-queued chunks, then blocks for the next fresh
// chunk and reports whether its energy is below EnergyLimit.
func (c *CarrierSense) IsEmpty() bool {
	for {
		select {
		case <-c.Samples:
			continue
		default:
		}
		break
	}
	chunk := <-c.Samples
	return energy(chunk) < c.EnergyLimit
}

func energy(chunk []float32) float32 {
	if len(chunk) == 0 {
		return 0
	}
	f64 := make([]float64, len(chunk))
	for i, v := range chunk {
		f64[i] = float64(v)
	}
	sumSq := floats.Dot(f64, f64)
	return float32(sumSq / float64(len(chunk)))
}
