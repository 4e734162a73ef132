package filters

import (
	"fmt"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
)

// Resampler converts between sample rates by interpolation. Downsampling is
// preceded by a windowed-sinc lowpass at 90% of the new Nyquist frequency.
type Resampler struct {
	numTaps int
	interp  *common.Interpolator
}

// NewResampler creates a resampler whose anti-alias filter has numTaps taps
func NewResampler(numTaps int) *Resampler {
	return &Resampler{
		numTaps: numTaps,
		interp:  common.NewInterpolator(common.Cubic),
	}
}

// Process returns signal at targetRate. Matching rates return the input
// slice itself; otherwise a new slice is allocated.
func (r *Resampler) Process(signal []float64, originalRate, targetRate int) ([]float64, error) {
	if originalRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", originalRate, targetRate)
	}
	if originalRate == targetRate || len(signal) == 0 {
		return signal, nil
	}

	if originalRate > targetRate {
		cutoff := 0.45 * float64(targetRate) / float64(originalRate)
		lowpass, err := NewLowpassFIR(r.numTaps, cutoff)
		if err != nil {
			return nil, fmt.Errorf("anti-alias filter: %w", err)
		}
		signal = lowpass.ProcessBuffer(signal)
	}

	return r.interp.ResampleSignal(signal, originalRate, targetRate), nil
}
