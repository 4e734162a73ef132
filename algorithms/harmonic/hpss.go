package harmonic

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
	"github.com/RyanBlaney/sonido-key/algorithms/spectral"
)

// HPSS separates a signal into harmonic and percussive parts by median
// filtering its magnitude spectrogram.
//
// Sustained tones form horizontal ridges (stable across time) and are kept
// by a median filter along time; transients form vertical ridges (broadband
// in one frame) and are kept by a median filter along frequency. A soft
// Wiener-style mask with a margin splits the complex STFT, and each part is
// resynthesized by inverse STFT.
//
// Reference: Fitzgerald, D. (2010). "Harmonic/percussive separation using
// median filtering"; Driedger, J., Müller, M., Disch, S. (2014).
// "Extending harmonic-percussive separation of audio signals"
type HPSS struct {
	stft       *spectral.STFT
	kernelSize int
	margin     float64
}

// HPSSResult holds both separated signals, each the length of the input
type HPSSResult struct {
	Harmonic   []float64
	Percussive []float64
}

// NewHPSS creates a separator. kernelSize is the median length in frames
// (harmonic) and bins (percussive); margin scales the competing estimate in
// each mask, so larger margins keep less of the ambiguous energy.
func NewHPSS(windowSize, hopSize, kernelSize int, margin float64) *HPSS {
	return &HPSS{
		stft:       spectral.NewSTFT(windowSize, hopSize),
		kernelSize: kernelSize,
		margin:     margin,
	}
}

// Harmonic returns only the harmonic component
func (h *HPSS) Harmonic(signal []float64, sampleRate int) ([]float64, error) {
	result, err := h.separate(signal, sampleRate, false)
	if err != nil {
		return nil, err
	}
	return result.Harmonic, nil
}

// Separate returns both components
func (h *HPSS) Separate(signal []float64, sampleRate int) (*HPSSResult, error) {
	return h.separate(signal, sampleRate, true)
}

func (h *HPSS) separate(signal []float64, sampleRate int, withPercussive bool) (*HPSSResult, error) {
	spectrum, err := h.stft.Compute(signal, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("hpss stft: %w", err)
	}

	harm := medianAcrossTime(spectrum.Magnitude, h.kernelSize)
	perc := medianAcrossFrequency(spectrum.Magnitude, h.kernelSize)

	harmSpec := make([][]complex128, spectrum.TimeFrames)
	var percSpec [][]complex128
	if withPercussive {
		percSpec = make([][]complex128, spectrum.TimeFrames)
	}

	for t := range spectrum.TimeFrames {
		harmSpec[t] = make([]complex128, spectrum.FreqBins)
		if withPercussive {
			percSpec[t] = make([]complex128, spectrum.FreqBins)
		}

		for f := range spectrum.FreqBins {
			c := spectrum.Complex[t][f]
			harmSpec[t][f] = c * complex(softMask(harm[t][f], h.margin*perc[t][f]), 0)
			if withPercussive {
				percSpec[t][f] = c * complex(softMask(perc[t][f], h.margin*harm[t][f]), 0)
			}
		}
	}

	result := &HPSSResult{}
	result.Harmonic, err = h.stft.Inverse(harmSpec, len(signal))
	if err != nil {
		return nil, fmt.Errorf("hpss harmonic resynthesis: %w", err)
	}
	if withPercussive {
		result.Percussive, err = h.stft.Inverse(percSpec, len(signal))
		if err != nil {
			return nil, fmt.Errorf("hpss percussive resynthesis: %w", err)
		}
	}

	return result, nil
}

// softMask returns x^2 / (x^2 + ref^2), or 0 when both are zero.
func softMask(x, ref float64) float64 {
	// Scale by the larger value to keep the squares in range
	z := max(x, ref)
	if z < common.Epsilon {
		return 0.0
	}
	xs, rs := x/z, ref/z
	return (xs * xs) / (xs*xs + rs*rs)
}

// medianAcrossTime filters each frequency bin along the time axis.
// Bins are independent, so they are split across workers.
func medianAcrossTime(magnitude [][]float64, kernel int) [][]float64 {
	frames := len(magnitude)
	out := make([][]float64, frames)
	if frames == 0 {
		return out
	}
	bins := len(magnitude[0])
	for t := range out {
		out[t] = make([]float64, bins)
	}

	jobs := make(chan int, bins)
	var wg sync.WaitGroup
	for range min(runtime.NumCPU(), bins) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			column := make([]float64, frames)
			for f := range jobs {
				for t := range frames {
					column[t] = magnitude[t][f]
				}
				filtered := common.MedianFilter(column, kernel)
				for t := range frames {
					out[t][f] = filtered[t]
				}
			}
		}()
	}

	for f := range bins {
		jobs <- f
	}
	close(jobs)
	wg.Wait()

	return out
}

// medianAcrossFrequency filters each frame along the frequency axis
func medianAcrossFrequency(magnitude [][]float64, kernel int) [][]float64 {
	out := make([][]float64, len(magnitude))
	for t, frame := range magnitude {
		out[t] = common.MedianFilter(frame, kernel)
	}
	return out
}
