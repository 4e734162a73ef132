package temporal

import (
	"fmt"

	"github.com/RyanBlaney/sonido-key/algorithms/spectral"
)

// OnsetDetection computes onset strength envelopes from spectral flux
type OnsetDetection struct {
	spectralFlux *spectral.SpectralFlux
	stft         *spectral.STFT
	hopSize      int
}

// NewOnsetDetection creates an onset detector with the given STFT framing
func NewOnsetDetection(windowSize, hopSize int, compression float64) *OnsetDetection {
	return &OnsetDetection{
		spectralFlux: spectral.NewSpectralFlux(compression),
		stft:         spectral.NewSTFT(windowSize, hopSize),
		hopSize:      hopSize,
	}
}

// Strength returns one onset strength value per STFT frame and the envelope
// frame rate in frames per second.
func (od *OnsetDetection) Strength(signal []float64, sampleRate int) ([]float64, float64, error) {
	if sampleRate <= 0 {
		return nil, 0, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	stftResult, err := od.stft.Compute(signal, sampleRate)
	if err != nil {
		return nil, 0, err
	}

	frameRate := float64(sampleRate) / float64(od.hopSize)
	return od.spectralFlux.Compute(stftResult.Magnitude), frameRate, nil
}
