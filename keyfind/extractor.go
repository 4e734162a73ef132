package keyfind

import (
	"fmt"
	"sync"

	"github.com/RyanBlaney/sonido-key/algorithms/chroma"
	"github.com/RyanBlaney/sonido-key/algorithms/filters"
	"github.com/RyanBlaney/sonido-key/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-key/algorithms/temporal"
	"github.com/RyanBlaney/sonido-key/logging"
)

// Extractor turns a buffer into a single chroma vector describing its
// pitch-class content: silence trim, harmonic separation, constant-Q
// chromagram, then an RMS-weighted average over time. All stages are
// read-only after construction, so one Extractor serves many goroutines.
type Extractor struct {
	config *Config

	silence  *temporal.SilenceDetection
	hpss     *harmonic.HPSS
	cqt      *chroma.ChromaCQT
	envelope *temporal.Envelope
	resample *filters.Resampler

	logger logging.Logger
}

// NewExtractor creates a chroma extractor; a nil config uses DefaultConfig
func NewExtractor(config *Config) (*Extractor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analyzer config: %w", err)
	}

	cqt, err := chroma.NewChromaCQT(config.SampleRate, config.CQT)
	if err != nil {
		return nil, fmt.Errorf("failed to build constant-q kernels: %w", err)
	}

	return &Extractor{
		config:   config,
		silence:  temporal.NewSilenceDetection(config.FrameSize, config.HopSize, config.TopDB),
		hpss:     harmonic.NewHPSS(config.FrameSize, config.HopSize, config.HPSSKernel, config.HPSSMargin),
		cqt:      cqt,
		envelope: temporal.NewEnvelope(config.FrameSize, config.HopSize),
		resample: filters.NewResampler(config.ResampleTaps),
		logger: logging.WithFields(logging.Fields{
			"component": "chroma_extractor",
		}),
	}, nil
}

var (
	defaultExtractor     *Extractor
	defaultExtractorErr  error
	defaultExtractorOnce sync.Once
)

// ExtractChroma computes the chroma vector of buf with default settings
func ExtractChroma(buf Buffer) (chroma.Vector, error) {
	defaultExtractorOnce.Do(func() {
		defaultExtractor, defaultExtractorErr = NewExtractor(nil)
	})
	if defaultExtractorErr != nil {
		return chroma.Vector{}, defaultExtractorErr
	}
	return defaultExtractor.ExtractChroma(buf)
}

// ExtractChroma returns a non-negative unit-norm chroma vector, or the zero
// vector when the audio carries no pitched energy.
func (e *Extractor) ExtractChroma(buf Buffer) (chroma.Vector, error) {
	if err := e.check(buf); err != nil {
		return chroma.Vector{}, err
	}

	logger := e.logger.WithFields(logging.Fields{
		"function":    "ExtractChroma",
		"sample_rate": buf.SampleRate,
		"samples":     len(buf.Samples),
	})

	signal, err := e.resample.Process(buf.Samples, buf.SampleRate, e.config.SampleRate)
	if err != nil {
		return chroma.Vector{}, analysisError("resample", err)
	}

	trimmed, start, end := e.silence.Trim(signal)
	logger.Debug("Trimmed silence", logging.Fields{
		"start": start,
		"end":   end,
	})
	if len(trimmed) == 0 {
		return chroma.Vector{}, nil
	}

	harmonicSignal, err := e.hpss.Harmonic(trimmed, e.config.SampleRate)
	if err != nil {
		return chroma.Vector{}, analysisError("harmonic separation", err)
	}

	frames, err := e.cqt.ComputeChroma(harmonicSignal)
	if err != nil {
		return chroma.Vector{}, analysisError("chromagram", err)
	}

	weights := e.envelope.NormalizedRMS(harmonicSignal)
	if len(weights) != len(frames) {
		logger.Warn("RMS and chroma frame counts differ, using unweighted mean", logging.Fields{
			"rms_frames":    len(weights),
			"chroma_frames": len(frames),
		})
	}

	v := chroma.WeightedMean(frames, weights).Normalize()

	logger.Debug("Chroma extracted", logging.Fields{
		"frames":   len(frames),
		"dominant": chroma.PitchClasses[v.Dominant()],
	})

	return v, nil
}

func (e *Extractor) check(buf Buffer) error {
	if len(buf.Samples) == 0 {
		return analysisError("extract chroma", ErrEmptyBuffer)
	}
	if buf.SampleRate <= 0 {
		return analysisError("extract chroma", fmt.Errorf("%w: %d", ErrInvalidSampleRate, buf.SampleRate))
	}
	if buf.Duration() < e.config.MinDuration {
		return analysisError("extract chroma", fmt.Errorf("%w: %v, need %v",
			ErrBufferTooShort, buf.Duration(), e.config.MinDuration))
	}
	return nil
}
