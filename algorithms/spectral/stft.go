package spectral

import (
	"fmt"
	"math/cmplx"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
	"github.com/mjibson/go-dsp/window"
)

// STFT computes centered short-time Fourier transforms with a periodic Hann
// window. Frame t is centered on sample t*HopSize and the signal is
// zero-padded by WindowSize/2 on both sides, giving 1+len/HopSize frames.
type STFT struct {
	fft        *FFT
	windowSize int
	hopSize    int
	window     []float64
}

// STFTResult is a frames x bins spectrogram. Bin k of every frame is at
// k*SampleRate/WindowSize Hz.
type STFTResult struct {
	Magnitude    [][]float64    `json:"magnitude"`
	Complex      [][]complex128 `json:"-"`
	TimeFrames   int            `json:"time_frames"`
	FreqBins     int            `json:"freq_bins"`
	SampleRate   int            `json:"sample_rate"`
	WindowSize   int            `json:"window_size"`
	HopSize      int            `json:"hop_size"`
	SignalLength int            `json:"signal_length"`
}

// NewSTFT returns a transform with the given frame and hop length
func NewSTFT(windowSize, hopSize int) *STFT {
	return &STFT{
		fft:        NewFFT(),
		windowSize: windowSize,
		hopSize:    hopSize,
		window:     PeriodicHann(windowSize),
	}
}

// PeriodicHann returns an n-point Hann window suited to overlap-add, taken
// from the first n points of the symmetric (n+1)-point window.
func PeriodicHann(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	return window.Hann(n + 1)[:n]
}

// Compute runs the transform over signal using a worker pool
func (s *STFT) Compute(signal []float64, sampleRate int) (*STFTResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}
	if s.windowSize <= 1 {
		return nil, fmt.Errorf("window size must be greater than 1")
	}
	if s.hopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive")
	}

	numFrames := common.CenteredFrameCount(len(signal), s.hopSize)
	freqBins := s.windowSize/2 + 1

	magnitude := make([][]float64, numFrames)
	complexSpectrum := make([][]complex128, numFrames)
	for i := range numFrames {
		magnitude[i] = make([]float64, freqBins)
		complexSpectrum[i] = make([]complex128, freqBins)
	}

	jobs := make(chan int, numFrames)
	var wg sync.WaitGroup

	for range s.workerCount(numFrames) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			frame := make([]float64, s.windowSize)

			for t := range jobs {
				common.CenteredFrame(signal, t*s.hopSize, s.windowSize, frame)
				for i, w := range s.window {
					frame[i] *= w
				}

				spectrum := s.fft.Compute(frame)
				for k := range freqBins {
					complexSpectrum[t][k] = spectrum[k]
					magnitude[t][k] = cmplx.Abs(spectrum[k])
				}
			}
		}()
	}

	for t := range numFrames {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	return &STFTResult{
		Magnitude:    magnitude,
		Complex:      complexSpectrum,
		TimeFrames:   numFrames,
		FreqBins:     freqBins,
		SampleRate:   sampleRate,
		WindowSize:   s.windowSize,
		HopSize:      s.hopSize,
		SignalLength: len(signal),
	}, nil
}

// Inverse reconstructs length samples from a centered complex spectrogram by
// weighted overlap-add, dividing out the summed squared window.
func (s *STFT) Inverse(spectrogram [][]complex128, length int) ([]float64, error) {
	if length <= 0 {
		return []float64{}, nil
	}

	freqBins := s.windowSize/2 + 1
	ola := common.NewOverlapAddBuffer(length, s.windowSize)
	frame := make([]float64, s.windowSize)

	for t, bins := range spectrogram {
		if len(bins) != freqBins {
			return nil, fmt.Errorf("frame %d has %d bins, expected %d", t, len(bins), freqBins)
		}

		samples := s.fft.InverseHalfSpectrum(bins, s.windowSize)
		for i, w := range s.window {
			frame[i] = samples[i] * w
		}

		if err := ola.AddFrame(frame, s.window, t*s.hopSize-s.windowSize/2); err != nil {
			return nil, err
		}
	}

	return ola.Output(0, length), nil
}

// workerCount determines the number of workers based on workload
func (s *STFT) workerCount(numFrames int) int {
	numCPU := runtime.NumCPU()

	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}

	if numFrames < 1000 {
		return min(numCPU, 8)
	}

	return numCPU
}
