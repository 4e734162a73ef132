package temporal

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
	"github.com/RyanBlaney/sonido-key/algorithms/stats"
)

// Tempo is a best-effort tempo estimate. Detected is false when the signal
// showed no usable periodicity; BPM is then meaningless.
type Tempo struct {
	BPM      float64
	Detected bool
}

// MarshalJSON encodes an undetected tempo as null
func (t Tempo) MarshalJSON() ([]byte, error) {
	if !t.Detected {
		return []byte("null"), nil
	}
	return json.Marshal(t.BPM)
}

// UnmarshalJSON accepts a number or null
func (t *Tempo) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Tempo{}
		return nil
	}
	if err := json.Unmarshal(data, &t.BPM); err != nil {
		return err
	}
	t.Detected = true
	return nil
}

func (t Tempo) String() string {
	if !t.Detected {
		return "n/a"
	}
	return fmt.Sprintf("%.1f BPM", t.BPM)
}

// TempoConfig holds tempo search parameters
type TempoConfig struct {
	WindowSize     int     `json:"window_size"`
	HopSize        int     `json:"hop_size"`
	Compression    float64 `json:"compression"`
	MinBPM         float64 `json:"min_bpm"`
	MaxBPM         float64 `json:"max_bpm"`
	PriorBPM       float64 `json:"prior_bpm"`       // center of the log-normal tempo prior
	PriorOctaves   float64 `json:"prior_octaves"`   // prior standard deviation in octaves
	MinPeriodicity float64 `json:"min_periodicity"` // normalized autocorrelation needed to report a tempo
	MinDuration    float64 `json:"min_duration"`    // seconds
}

// DefaultTempoConfig returns the standard tempo search settings
func DefaultTempoConfig() TempoConfig {
	return TempoConfig{
		WindowSize:     1024,
		HopSize:        256,
		Compression:    100,
		MinBPM:         30,
		MaxBPM:         300,
		PriorBPM:       120,
		PriorOctaves:   1,
		MinPeriodicity: 0.3,
		MinDuration:    2,
	}
}

// TempoEstimation estimates a global tempo from the autocorrelation of an
// onset strength envelope, weighted toward moderate tempi.
type TempoEstimation struct {
	onsetDetector *OnsetDetection
	config        TempoConfig
}

// NewTempoEstimation creates a new tempo estimator
func NewTempoEstimation(cfg TempoConfig) *TempoEstimation {
	return &TempoEstimation{
		onsetDetector: NewOnsetDetection(cfg.WindowSize, cfg.HopSize, cfg.Compression),
		config:        cfg,
	}
}

// Estimate never fails; anything that prevents a confident estimate yields
// an undetected Tempo.
func (te *TempoEstimation) Estimate(signal []float64, sampleRate int) Tempo {
	if sampleRate <= 0 || float64(len(signal)) < te.config.MinDuration*float64(sampleRate) {
		return Tempo{}
	}

	envelope, frameRate, err := te.onsetDetector.Strength(signal, sampleRate)
	if err != nil {
		return Tempo{}
	}

	minLag := max(1, int(math.Floor(60*frameRate/te.config.MaxBPM)))
	maxLag := int(math.Ceil(60 * frameRate / te.config.MinBPM))
	if len(envelope) <= minLag+1 {
		return Tempo{}
	}

	autocorr := stats.Autocorrelation(envelope, maxLag)
	if len(autocorr) == 0 || autocorr[0] < common.Epsilon {
		return Tempo{}
	}
	for i := range autocorr {
		autocorr[i] /= autocorr[0]
	}
	maxLag = min(maxLag, len(autocorr)-1)

	bestLag := -1
	bestScore := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		score := autocorr[lag] * te.prior(60*frameRate/float64(lag))
		if score > bestScore {
			bestScore = score
			bestLag = lag
		}
	}

	if bestLag < 0 || autocorr[bestLag] < te.config.MinPeriodicity {
		return Tempo{}
	}

	lag := float64(bestLag) + common.ParabolicPeak(autocorr, bestLag)
	return Tempo{
		BPM:      common.Round(60*frameRate/lag, 1),
		Detected: true,
	}
}

// prior is a log-normal weight over tempo, 1 at PriorBPM
func (te *TempoEstimation) prior(bpm float64) float64 {
	octaves := math.Log2(bpm/te.config.PriorBPM) / te.config.PriorOctaves
	return math.Exp(-0.5 * octaves * octaves)
}
