package filters

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(cyclesPerSample float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * cyclesPerSample * float64(i))
	}
	return out
}

func peakAbs(data []float64) float64 {
	m := 0.0
	for _, v := range data {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func TestLowpassDesign(t *testing.T) {
	f, err := NewLowpassFIR(62, 0.25)
	require.NoError(t, err)

	taps := f.Taps()
	require.Len(t, taps, 63, "even tap counts round up to odd")

	sum := 0.0
	for i, v := range taps {
		sum += v
		assert.InDelta(t, v, taps[len(taps)-1-i], 1e-12, "taps are symmetric")
	}
	assert.InDelta(t, 1.0, sum, 1e-12)

	_, err = NewLowpassFIR(2, 0.25)
	assert.Error(t, err)
	_, err = NewLowpassFIR(31, 0.5)
	assert.Error(t, err)
}

func TestDecimatorPassesLowRejectsHigh(t *testing.T) {
	d, err := NewDecimator(63)
	require.NoError(t, err)

	low := d.Process(tone(0.0625, 2000))
	require.Len(t, low, 1000)
	// ignore filter edges
	assert.InDelta(t, 1.0, peakAbs(low[100:900]), 0.02)

	high := d.Process(tone(0.4, 2000))
	assert.Less(t, peakAbs(high[100:900]), 0.01)

	assert.Len(t, d.Process(make([]float64, 7)), 4)
}

func TestDCRemoval(t *testing.T) {
	dc := NewDCRemoval(22050, 10)
	assert.Greater(t, dc.PoleLocation(), 0.99)

	input := make([]float64, 22050)
	for i := range input {
		input[i] = 0.5
	}
	out := dc.ProcessBuffer(input)
	assert.InDelta(t, 0.0, out[len(out)-1], 1e-3)

	dc.Reset()
	assert.Equal(t, 0.5, dc.Process(0.5))
}

func TestResamplerDownsample(t *testing.T) {
	r := NewResampler(63)

	low, err := r.Process(tone(0.01, 4000), 44100, 22050)
	require.NoError(t, err)
	require.Len(t, low, 2000)
	assert.InDelta(t, 1.0, peakAbs(low[100:1900]), 0.02)

	// 17.6 kHz has no place below the new Nyquist and must not alias back
	high, err := r.Process(tone(0.4, 4000), 44100, 22050)
	require.NoError(t, err)
	assert.Less(t, peakAbs(high[100:1900]), 0.01)
}

func TestResamplerUpsampleAndPassthrough(t *testing.T) {
	r := NewResampler(63)

	signal := tone(0.05, 1000)
	same, err := r.Process(signal, 8000, 8000)
	require.NoError(t, err)
	assert.Equal(t, signal, same)

	up, err := r.Process(signal, 8000, 16000)
	require.NoError(t, err)
	assert.Len(t, up, 2000)
	assert.InDelta(t, signal[10], up[20], 1e-12)

	_, err = r.Process(signal, 0, 16000)
	assert.Error(t, err)
}
