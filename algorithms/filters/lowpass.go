package filters

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/window"
)

// LowpassFIR is a linear-phase windowed-sinc lowpass filter. Filtering is
// zero-phase: output sample n is centered on input sample n.
type LowpassFIR struct {
	taps []float64
}

// NewLowpassFIR designs a filter with numTaps coefficients (rounded up to
// odd) and a cutoff given as a fraction of the sample rate, 0 < cutoff < 0.5.
// The sinc is shaped with a Hamming window and the taps sum to 1 so DC
// passes at unit gain.
func NewLowpassFIR(numTaps int, cutoff float64) (*LowpassFIR, error) {
	if numTaps < 3 {
		return nil, fmt.Errorf("lowpass needs at least 3 taps, got %d", numTaps)
	}
	if cutoff <= 0 || cutoff >= 0.5 {
		return nil, fmt.Errorf("cutoff %.3f must be between 0 and 0.5", cutoff)
	}
	if numTaps%2 == 0 {
		numTaps++
	}

	taps := make([]float64, numTaps)
	half := numTaps / 2
	for i := range taps {
		n := float64(i - half)
		if n == 0 {
			taps[i] = 2 * cutoff
			continue
		}
		taps[i] = math.Sin(2*math.Pi*cutoff*n) / (math.Pi * n)
	}
	window.Apply(taps, window.Hamming)

	sum := 0.0
	for _, v := range taps {
		sum += v
	}
	for i := range taps {
		taps[i] /= sum
	}

	return &LowpassFIR{taps: taps}, nil
}

// Taps returns a copy of the filter coefficients
func (f *LowpassFIR) Taps() []float64 {
	out := make([]float64, len(f.taps))
	copy(out, f.taps)
	return out
}

// at computes the filtered value centered on input index n, treating
// samples outside the signal as zero.
func (f *LowpassFIR) at(input []float64, n int) float64 {
	half := len(f.taps) / 2
	sum := 0.0
	for k, tap := range f.taps {
		idx := n + half - k
		if idx < 0 || idx >= len(input) {
			continue
		}
		sum += tap * input[idx]
	}
	return sum
}

// ProcessBuffer filters the whole buffer
func (f *LowpassFIR) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))
	for n := range output {
		output[n] = f.at(input, n)
	}
	return output
}

// Decimator halves the sample rate: anti-alias lowpass at a quarter of the
// input rate, then keep every other sample. Output sample m corresponds to
// input sample 2m.
type Decimator struct {
	filter *LowpassFIR
}

// NewDecimator creates a factor-two decimator with a numTaps-tap filter
func NewDecimator(numTaps int) (*Decimator, error) {
	filter, err := NewLowpassFIR(numTaps, 0.23)
	if err != nil {
		return nil, err
	}
	return &Decimator{filter: filter}, nil
}

// Process returns the decimated signal of length ceil(len(input)/2).
func (d *Decimator) Process(input []float64) []float64 {
	output := make([]float64, (len(input)+1)/2)
	for m := range output {
		output[m] = d.filter.at(input, 2*m)
	}
	return output
}
