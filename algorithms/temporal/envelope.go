package temporal

import (
	"math"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
)

// Envelope provides amplitude envelope extraction
type Envelope struct {
	frameSize int
	hopSize   int
}

// NewEnvelope creates an envelope extractor with the given framing
func NewEnvelope(frameSize, hopSize int) *Envelope {
	return &Envelope{frameSize: frameSize, hopSize: hopSize}
}

// ComputeRMS computes the RMS of centered frames: frame t covers
// frameSize samples around t*hopSize, zero-padded past either end, giving
// 1+len/hopSize values. This matches the frame grid of the STFT and CQT so
// the envelope can weight their frames directly.
func (e *Envelope) ComputeRMS(signal []float64) []float64 {
	if len(signal) == 0 || e.frameSize <= 0 || e.hopSize <= 0 {
		return []float64{}
	}

	numFrames := common.CenteredFrameCount(len(signal), e.hopSize)
	envelope := make([]float64, numFrames)

	for t := range numFrames {
		start := t*e.hopSize - e.frameSize/2
		lo := max(start, 0)
		hi := min(start+e.frameSize, len(signal))

		sumSquares := 0.0
		for j := lo; j < hi; j++ {
			sumSquares += signal[j] * signal[j]
		}
		// Padding counts toward the frame length
		envelope[t] = math.Sqrt(sumSquares / float64(e.frameSize))
	}

	return envelope
}

// NormalizedRMS returns ComputeRMS scaled so the loudest frame is 1.
// An envelope with no energy is returned as all zeros.
func (e *Envelope) NormalizedRMS(signal []float64) []float64 {
	envelope := e.ComputeRMS(signal)
	peak := common.MaxValue(envelope)
	if peak < common.Epsilon {
		for i := range envelope {
			envelope[i] = 0.0
		}
		return envelope
	}

	for i := range envelope {
		envelope[i] /= peak
	}
	return envelope
}
