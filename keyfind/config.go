package keyfind

import (
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-key/algorithms/chroma"
	"github.com/RyanBlaney/sonido-key/algorithms/temporal"
	"github.com/RyanBlaney/sonido-key/algorithms/tonal"
)

// Config holds analyzer configuration
type Config struct {
	// SampleRate is the rate the feature pipeline runs at; other rates are
	// resampled first.
	SampleRate  int           `json:"sample_rate"`
	MinDuration time.Duration `json:"min_duration"`

	KeyWindow     Window `json:"key_window"`
	TempoWindow   Window `json:"tempo_window"`
	EstimateTempo bool   `json:"estimate_tempo"`

	// Multi-segment voting
	Segments           int           `json:"segments"`
	SegmentMaxDuration time.Duration `json:"segment_max_duration"`
	SegmentMinTrack    time.Duration `json:"segment_min_track"`

	FrameSize int `json:"frame_size"`
	HopSize   int `json:"hop_size"`

	// Silence trimming threshold below the loudest frame
	TopDB float64 `json:"top_db"`

	HPSSKernel int     `json:"hpss_kernel"`
	HPSSMargin float64 `json:"hpss_margin"`

	ResampleTaps int `json:"resample_taps"`

	CQT   chroma.ChromaCQTConfig    `json:"cqt"`
	Key   tonal.KeyEstimationParams `json:"key"`
	Tempo temporal.TempoConfig      `json:"tempo"`
}

// DefaultConfig returns the standard analysis settings
func DefaultConfig() *Config {
	return &Config{
		SampleRate:  22050,
		MinDuration: time.Second,

		KeyWindow:     Window{Duration: 45 * time.Second},
		TempoWindow:   Window{Duration: 30 * time.Second},
		EstimateTempo: true,

		Segments:           3,
		SegmentMaxDuration: 30 * time.Second,
		SegmentMinTrack:    10 * time.Second,

		FrameSize: 2048,
		HopSize:   512,
		TopDB:     20,

		HPSSKernel: 31,
		HPSSMargin: 8,

		ResampleTaps: 63,

		CQT:   chroma.DefaultChromaCQTConfig(),
		Key:   tonal.DefaultKeyEstimationParams(),
		Tempo: temporal.DefaultTempoConfig(),
	}
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.MinDuration < 0 {
		return fmt.Errorf("min duration cannot be negative")
	}
	if c.FrameSize <= 1 || c.HopSize <= 0 {
		return fmt.Errorf("invalid framing: frame %d, hop %d", c.FrameSize, c.HopSize)
	}
	if c.HopSize != c.CQT.HopSize {
		return fmt.Errorf("rms hop %d must match cqt hop %d", c.HopSize, c.CQT.HopSize)
	}
	if c.HPSSKernel < 1 {
		return fmt.Errorf("hpss kernel must be at least 1, got %d", c.HPSSKernel)
	}
	if c.TopDB <= 0 {
		return fmt.Errorf("top db must be positive, got %.1f", c.TopDB)
	}
	if c.Segments < 1 {
		return fmt.Errorf("segments must be at least 1, got %d", c.Segments)
	}
	if c.Key.PreferRelativeMajor && (c.Key.RelativeMajorRatio <= 0 || c.Key.RelativeMajorRatio > 1) {
		return fmt.Errorf("relative major ratio %.2f must be in (0, 1]", c.Key.RelativeMajorRatio)
	}
	return nil
}
