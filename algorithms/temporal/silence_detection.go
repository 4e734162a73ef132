package temporal

import (
	"github.com/RyanBlaney/sonido-key/algorithms/common"
)

// SilenceDetection finds the non-silent region of a signal from its RMS
// envelope. A frame is silent when it sits more than TopDB below the
// loudest frame.
type SilenceDetection struct {
	envelopeExtractor *Envelope
	hopSize           int
	topDB             float64
}

// NewSilenceDetection creates a silence detector
func NewSilenceDetection(frameSize, hopSize int, topDB float64) *SilenceDetection {
	return &SilenceDetection{
		envelopeExtractor: NewEnvelope(frameSize, hopSize),
		hopSize:           hopSize,
		topDB:             topDB,
	}
}

// NonSilentFrames marks each envelope frame as audible or not. A signal with
// no energy at all has no reference level, and every frame counts as audible.
func (sd *SilenceDetection) NonSilentFrames(signal []float64) []bool {
	envelope := sd.envelopeExtractor.ComputeRMS(signal)
	audible := make([]bool, len(envelope))

	reference := common.MaxValue(envelope)
	if reference < common.Epsilon {
		for i := range audible {
			audible[i] = true
		}
		return audible
	}

	for i, rms := range envelope {
		audible[i] = common.AmplitudeToDB(rms, reference) > -sd.topDB
	}
	return audible
}

// Trim drops leading and trailing silence. It returns the audible slice of
// signal (sharing its backing array) and its [start, end) sample bounds.
// Silent or empty input comes back unchanged.
func (sd *SilenceDetection) Trim(signal []float64) ([]float64, int, int) {
	audible := sd.NonSilentFrames(signal)

	first, last := -1, -1
	for i, ok := range audible {
		if !ok {
			continue
		}
		if first == -1 {
			first = i
		}
		last = i
	}

	if first == -1 {
		return signal, 0, len(signal)
	}

	start := min(first*sd.hopSize, len(signal))
	end := min((last+1)*sd.hopSize, len(signal))
	return signal[start:end], start, end
}
