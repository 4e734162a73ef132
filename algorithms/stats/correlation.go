package stats

import (
	"math"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
	"github.com/mjibson/go-dsp/fft"
)

// Pearson calculates the Pearson correlation coefficient of a and b.
// It returns 0 when the lengths differ, the input is empty, or either side
// has zero variance, so constant inputs never produce NaN.
func Pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0.0
	}

	meanA := common.Mean(a)
	meanB := common.Mean(b)

	numerator := 0.0
	sumSqA := 0.0
	sumSqB := 0.0
	for i := range a {
		diffA := a[i] - meanA
		diffB := b[i] - meanB
		numerator += diffA * diffB
		sumSqA += diffA * diffA
		sumSqB += diffB * diffB
	}

	if sumSqA == 0 || sumSqB == 0 {
		return 0.0
	}

	return clampCorrelation(numerator / math.Sqrt(sumSqA*sumSqB))
}

// Autocorrelation returns the biased autocorrelation of signal for lags
// 0..maxLag after removing its mean. The result is not normalized; divide by
// the lag-0 value for a [-1, 1] scale.
func Autocorrelation(signal []float64, maxLag int) []float64 {
	n := len(signal)
	if n == 0 || maxLag < 0 {
		return nil
	}
	maxLag = min(maxLag, n-1)

	mean := common.Mean(signal)
	size := common.NextPowerOfTwo(2 * n)
	padded := make([]float64, size)
	for i, v := range signal {
		padded[i] = v - mean
	}

	// Wiener-Khinchin: IFFT of the power spectrum
	spectrum := fft.FFTReal(padded)
	for i, c := range spectrum {
		spectrum[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	inverse := fft.IFFT(spectrum)

	result := make([]float64, maxLag+1)
	for lag := range result {
		result[lag] = real(inverse[lag])
	}
	return result
}

// clampCorrelation ensures correlation is in valid range [-1, 1]
func clampCorrelation(correlation float64) float64 {
	return common.Clamp(correlation, -1.0, 1.0)
}
