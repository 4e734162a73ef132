package chroma

import (
	"fmt"
	"math"
	"math/cmplx"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
	"github.com/RyanBlaney/sonido-key/algorithms/filters"
	"github.com/RyanBlaney/sonido-key/algorithms/spectral"
)

// ChromaCQT computes a chromagram from a constant-Q transform.
//
// CQT frequency spacing: f_k = f_min * 2^(k/bins_per_octave), so each
// semitone spans the same number of bins at every octave. Only the top
// octave's kernels are built; each lower octave reuses them on a copy of the
// signal decimated by two once more, which keeps the kernels short and the
// transform cheap (Schörkhuber & Klapuri, 2010, "Constant-Q transform
// toolbox for music processing").
type ChromaCQT struct {
	sampleRate    int
	minFreq       float64 // Lowest bin, C1 by default so bin 0 is a C
	octaves       int
	binsPerOctave int
	hopSize       int
	qFactor       float64 // f / bandwidth, 1/(2^(1/bpo)-1) for one-bin bandwidth

	kernels   []cqtKernel // top octave only
	decimator *filters.Decimator
}

// ChromaCQTConfig holds the transform layout
type ChromaCQTConfig struct {
	MinFreq       float64 `json:"min_freq"`
	Octaves       int     `json:"octaves"`
	BinsPerOctave int     `json:"bins_per_octave"`
	HopSize       int     `json:"hop_size"`
	DecimatorTaps int     `json:"decimator_taps"`
}

// DefaultChromaCQTConfig covers C1 to B7 in thirds of a semitone
func DefaultChromaCQTConfig() ChromaCQTConfig {
	return ChromaCQTConfig{
		MinFreq:       32.703195662574764, // C1
		Octaves:       7,
		BinsPerOctave: 36,
		HopSize:       512,
		DecimatorTaps: 63,
	}
}

type cqtKernel struct {
	freq float64      // frequency at the top octave's sample rate
	taps []complex128 // conjugated, windowed exponential, unit L1 window
}

// NewChromaCQT builds the kernels for sampleRate. The hop must stay an
// integer at the lowest octave's rate, and the highest bin must sit well
// below Nyquist.
func NewChromaCQT(sampleRate int, cfg ChromaCQTConfig) (*ChromaCQT, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if cfg.Octaves <= 0 || cfg.BinsPerOctave <= 0 || cfg.BinsPerOctave%12 != 0 {
		return nil, fmt.Errorf("invalid cqt layout: %d octaves, %d bins per octave", cfg.Octaves, cfg.BinsPerOctave)
	}
	if div := 1 << (cfg.Octaves - 1); cfg.HopSize <= 0 || cfg.HopSize%div != 0 {
		return nil, fmt.Errorf("hop size %d must be a positive multiple of %d", cfg.HopSize, div)
	}

	maxFreq := cfg.MinFreq * math.Pow(2, float64(cfg.Octaves))
	if maxFreq >= 0.45*float64(sampleRate) {
		return nil, fmt.Errorf("top cqt frequency %.1f Hz too close to Nyquist at %d Hz", maxFreq, sampleRate)
	}

	decimator, err := filters.NewDecimator(cfg.DecimatorTaps)
	if err != nil {
		return nil, fmt.Errorf("cqt decimator: %w", err)
	}

	cqt := &ChromaCQT{
		sampleRate:    sampleRate,
		minFreq:       cfg.MinFreq,
		octaves:       cfg.Octaves,
		binsPerOctave: cfg.BinsPerOctave,
		hopSize:       cfg.HopSize,
		qFactor:       1.0 / (math.Pow(2, 1.0/float64(cfg.BinsPerOctave)) - 1.0),
		decimator:     decimator,
	}
	cqt.computeKernels()

	return cqt, nil
}

// computeKernels builds one Hann-windowed complex exponential per top-octave
// bin, long enough to resolve neighbouring bins: N = ceil(Q * fs / f).
func (cqt *ChromaCQT) computeKernels() {
	topOctaveFreq := cqt.minFreq * math.Pow(2, float64(cqt.octaves-1))
	cqt.kernels = make([]cqtKernel, cqt.binsPerOctave)

	for j := range cqt.kernels {
		freq := topOctaveFreq * math.Pow(2, float64(j)/float64(cqt.binsPerOctave))
		length := int(math.Ceil(cqt.qFactor * float64(cqt.sampleRate) / freq))

		window := spectral.PeriodicHann(length)
		windowSum := 0.0
		for _, w := range window {
			windowSum += w
		}

		center := length / 2
		taps := make([]complex128, length)
		for n := range taps {
			phase := -2.0 * math.Pi * freq * float64(n-center) / float64(cqt.sampleRate)
			taps[n] = complex(window[n]/windowSum, 0) * cmplx.Exp(complex(0, phase))
		}

		cqt.kernels[j] = cqtKernel{freq: freq, taps: taps}
	}
}

// TotalBins returns the number of CQT bins across all octaves
func (cqt *ChromaCQT) TotalBins() int {
	return cqt.octaves * cqt.binsPerOctave
}

// Frequencies returns the center frequency of every CQT bin, lowest first
func (cqt *ChromaCQT) Frequencies() []float64 {
	freqs := make([]float64, cqt.TotalBins())
	for k := range freqs {
		freqs[k] = cqt.minFreq * math.Pow(2, float64(k)/float64(cqt.binsPerOctave))
	}
	return freqs
}

// HopSize returns the hop between chroma frames in samples
func (cqt *ChromaCQT) HopSize() int {
	return cqt.hopSize
}

// ComputeCQT returns the CQT magnitude spectrogram, time x bin, with bin 0
// at MinFreq. Frames are centered on multiples of the hop, 1+len/hop of them.
func (cqt *ChromaCQT) ComputeCQT(signal []float64) ([][]float64, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}

	numFrames := common.CenteredFrameCount(len(signal), cqt.hopSize)
	spectrogram := make([][]float64, numFrames)
	for t := range spectrogram {
		spectrogram[t] = make([]float64, cqt.TotalBins())
	}

	level := signal
	for octave := range cqt.octaves {
		if octave > 0 {
			level = cqt.decimator.Process(level)
		}

		// Bins of this octave, counted from the bottom of the transform
		firstBin := (cqt.octaves - 1 - octave) * cqt.binsPerOctave
		hop := cqt.hopSize >> octave
		cqt.applyKernels(level, hop, firstBin, spectrogram)
	}

	return spectrogram, nil
}

// applyKernels fills one octave of every frame, splitting frames across workers
func (cqt *ChromaCQT) applyKernels(level []float64, hop, firstBin int, spectrogram [][]float64) {
	numFrames := len(spectrogram)
	jobs := make(chan int, numFrames)
	var wg sync.WaitGroup

	for range max(1, min(runtime.NumCPU(), numFrames)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				center := t * hop
				for j, kernel := range cqt.kernels {
					spectrogram[t][firstBin+j] = cmplx.Abs(kernel.apply(level, center))
				}
			}
		}()
	}

	for t := range numFrames {
		jobs <- t
	}
	close(jobs)
	wg.Wait()
}

// apply correlates the kernel with the signal around center, treating
// samples outside the signal as zero.
func (k cqtKernel) apply(signal []float64, center int) complex128 {
	start := center - len(k.taps)/2
	lo := max(0, -start)
	hi := min(len(k.taps), len(signal)-start)

	var sum complex128
	for n := lo; n < hi; n++ {
		sum += complex(signal[start+n], 0) * k.taps[n]
	}
	return sum
}

// ComputeChroma computes the chromagram, time x 12. CQT bins fold onto the
// pitch class whose semitone center they are closest to, and each frame is
// scaled so its largest pitch class is 1. Silent frames stay zero.
func (cqt *ChromaCQT) ComputeChroma(signal []float64) ([][]float64, error) {
	spectrogram, err := cqt.ComputeCQT(signal)
	if err != nil {
		return nil, err
	}

	binsPerSemitone := cqt.binsPerOctave / 12
	chromagram := make([][]float64, len(spectrogram))

	for t, frame := range spectrogram {
		chroma := make([]float64, 12)
		for k, magnitude := range frame {
			// With an odd number of bins per semitone the middle one is on pitch
			pitchClass := ((k + binsPerSemitone/2) / binsPerSemitone) % 12
			chroma[pitchClass] += magnitude
		}
		normalizeChromaFrame(chroma)
		chromagram[t] = chroma
	}

	return chromagram, nil
}

// normalizeChromaFrame scales a frame to unit maximum
func normalizeChromaFrame(chromaFrame []float64) {
	peak := common.MaxValue(chromaFrame)
	if peak < common.Epsilon {
		for i := range chromaFrame {
			chromaFrame[i] = 0.0
		}
		return
	}

	for i := range chromaFrame {
		chromaFrame[i] /= peak
	}
}
