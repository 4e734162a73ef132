package common

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Epsilon is the magnitude below which norms, energies and variances are
// treated as zero throughout the analysis pipeline.
const Epsilon = 1e-10

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// RMS calculates root mean square
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Norm(data, 2) / math.Sqrt(float64(len(data)))
}

// L2Norm returns the Euclidean norm of data
func L2Norm(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Norm(data, 2)
}

// MaxValue returns the largest element, or 0 for empty input
func MaxValue(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Max(data)
}

// IsFinite reports whether every element is neither NaN nor infinite
func IsFinite(data []float64) bool {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Median returns the median of data without modifying it. scratch, when
// large enough, is used as the sort buffer to avoid allocation in hot loops.
func Median(data, scratch []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0.0
	}

	if cap(scratch) < n {
		scratch = make([]float64, n)
	}
	buf := scratch[:n]
	copy(buf, data)
	slices.Sort(buf)

	mid := n / 2
	if n%2 == 0 {
		return (buf[mid-1] + buf[mid]) / 2.0
	}
	return buf[mid]
}

// MedianFilter applies a centered median filter. The window shrinks at the
// edges instead of padding, so edge outputs use only real samples.
func MedianFilter(data []float64, windowSize int) []float64 {
	if len(data) == 0 || windowSize <= 1 {
		return slices.Clone(data)
	}

	result := make([]float64, len(data))
	half := windowSize / 2
	scratch := make([]float64, windowSize)

	for i := range data {
		start := max(i-half, 0)
		end := min(i+half+1, len(data))
		result[i] = Median(data[start:end], scratch)
	}

	return result
}

// Clamp constrains a value to a range
func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// Round rounds value to the given number of decimal places
func Round(value float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(value*scale) / scale
}

// AmplitudeToDB converts a magnitude ratio to decibels, flooring the ratio
// at Epsilon so silence maps to a large negative value instead of -Inf.
func AmplitudeToDB(amplitude, reference float64) float64 {
	if reference < Epsilon {
		return math.Inf(-1)
	}
	return 20 * math.Log10(math.Max(amplitude, Epsilon)/reference)
}

// NextPowerOfTwo finds the next power of 2 >= n
func NextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}

	power := 1
	for power < n {
		power <<= 1
	}
	return power
}
