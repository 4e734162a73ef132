package common

import "math"

// InterpolationType defines interpolation method
type InterpolationType int

const (
	Linear InterpolationType = iota
	Cubic
)

// Interpolator evaluates a sampled signal at fractional positions
type Interpolator struct {
	method InterpolationType
}

// NewInterpolator creates a new interpolator
func NewInterpolator(method InterpolationType) *Interpolator {
	return &Interpolator{method: method}
}

// At returns data evaluated at a fractional index, clamped to the ends.
func (interp *Interpolator) At(data []float64, index float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	if index <= 0 {
		return data[0]
	}
	last := len(data) - 1
	if index >= float64(last) {
		return data[last]
	}

	i := int(index)
	frac := index - float64(i)

	if interp.method == Cubic && i >= 1 && i+2 <= last {
		// Catmull-Rom through the four neighbours
		p0, p1, p2, p3 := data[i-1], data[i], data[i+1], data[i+2]
		a := -0.5*p0 + 1.5*p1 - 1.5*p2 + 0.5*p3
		b := p0 - 2.5*p1 + 2*p2 - 0.5*p3
		c := -0.5*p0 + 0.5*p2
		return ((a*frac+b)*frac+c)*frac + p1
	}

	return data[i] + frac*(data[i+1]-data[i])
}

// ResampleSignal resamples a signal to a new sample rate. Rates that already
// match return the input unchanged.
func (interp *Interpolator) ResampleSignal(signal []float64, originalRate, targetRate int) []float64 {
	if len(signal) == 0 || originalRate <= 0 || targetRate <= 0 || originalRate == targetRate {
		return signal
	}

	ratio := float64(originalRate) / float64(targetRate)
	newLength := int(math.Round(float64(len(signal)) / ratio))
	if newLength <= 0 {
		return []float64{}
	}

	resampled := make([]float64, newLength)
	for i := range resampled {
		resampled[i] = interp.At(signal, float64(i)*ratio)
	}

	return resampled
}

// ParabolicPeak refines the position of a local maximum at index i by
// fitting a parabola through its neighbours. It returns the fractional
// offset in [-0.5, 0.5] to add to i.
func ParabolicPeak(data []float64, i int) float64 {
	if i <= 0 || i >= len(data)-1 {
		return 0.0
	}

	left, center, right := data[i-1], data[i], data[i+1]
	denom := left - 2*center + right
	if math.Abs(denom) < Epsilon {
		return 0.0
	}

	return Clamp(0.5*(left-right)/denom, -0.5, 0.5)
}
