package filters

import (
	"math"
)

// DCRemoval is a one-pole DC blocking filter:
//
//	y[n] = x[n] - x[n-1] + R*y[n-1]
//
// Reference: Julius O. Smith III, "Introduction to Digital Filters",
// https://ccrma.stanford.edu/~jos/filters/DC_Blocker.html
type DCRemoval struct {
	poleLocation float64

	x1 float64
	y1 float64
}

// NewDCRemoval creates a DC blocker with its -3 dB point at cutoffFreq.
// The pole uses the small-angle approximation R = 1 - 2*pi*fc/fs, clamped
// to (0, 1).
func NewDCRemoval(sampleRate int, cutoffFreq float64) *DCRemoval {
	pole := 0.995
	if sampleRate > 0 && cutoffFreq > 0 {
		pole = 1.0 - (2.0 * math.Pi * cutoffFreq / float64(sampleRate))
		pole = min(max(pole, 0.001), 0.999)
	}
	return &DCRemoval{poleLocation: pole}
}

// Process applies the filter to one sample
func (dc *DCRemoval) Process(input float64) float64 {
	output := input - dc.x1 + dc.poleLocation*dc.y1
	dc.x1 = input
	dc.y1 = output
	return output
}

// ProcessBuffer filters a whole buffer into a new slice
func (dc *DCRemoval) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))
	for i, sample := range input {
		output[i] = dc.Process(sample)
	}
	return output
}

// Reset clears the filter's internal state.
func (dc *DCRemoval) Reset() {
	dc.x1 = 0.0
	dc.y1 = 0.0
}

// PoleLocation returns R
func (dc *DCRemoval) PoleLocation() float64 {
	return dc.poleLocation
}
