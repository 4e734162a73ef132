package spectral

import (
	"github.com/mjibson/go-dsp/fft"
)

// FFT wraps mjibson/go-dsp for real-signal transforms
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute returns the full complex spectrum of a real frame.
// go-dsp handles non-power-of-two sizes via Bluestein.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFTReal(x)
}

// InverseHalfSpectrum rebuilds a real frame of length n from its
// non-negative frequency bins (n/2+1 values) using conjugate symmetry.
func (f *FFT) InverseHalfSpectrum(half []complex128, n int) []float64 {
	if n == 0 || len(half) == 0 {
		return []float64{}
	}

	full := make([]complex128, n)
	copy(full, half)
	for k := len(half); k < n; k++ {
		c := full[n-k]
		full[k] = complex(real(c), -imag(c))
	}

	inverse := fft.IFFT(full)
	out := make([]float64, n)
	for i, v := range inverse {
		out[i] = real(v)
	}
	return out
}
