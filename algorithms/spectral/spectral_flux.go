package spectral

import (
	"math"
)

// SpectralFlux computes an onset strength curve from a magnitude
// spectrogram: log-compressed magnitudes, half-wave rectified frame
// differences, averaged over frequency.
type SpectralFlux struct {
	// Compression scales magnitudes before log1p; 0 disables compression
	Compression float64
}

// NewSpectralFlux creates a new spectral flux calculator
func NewSpectralFlux(compression float64) *SpectralFlux {
	return &SpectralFlux{Compression: compression}
}

// Compute returns one value per frame; the first frame has no predecessor
// and is 0.
func (sf *SpectralFlux) Compute(magnitude [][]float64) []float64 {
	if len(magnitude) == 0 {
		return []float64{}
	}

	flux := make([]float64, len(magnitude))
	prev := sf.compress(magnitude[0])

	for t := 1; t < len(magnitude); t++ {
		cur := sf.compress(magnitude[t])
		if len(cur) == 0 {
			continue
		}

		sum := 0.0
		for f := range cur {
			// Only positive changes (energy increases)
			if diff := cur[f] - prev[f]; diff > 0 {
				sum += diff
			}
		}
		flux[t] = sum / float64(len(cur))
		prev = cur
	}

	return flux
}

func (sf *SpectralFlux) compress(frame []float64) []float64 {
	out := make([]float64, len(frame))
	for i, v := range frame {
		if sf.Compression > 0 {
			out[i] = math.Log1p(sf.Compression * v)
		} else {
			out[i] = v
		}
	}
	return out
}
