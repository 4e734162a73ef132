package tonal

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/RyanBlaney/sonido-key/algorithms/chroma"
	"github.com/RyanBlaney/sonido-key/algorithms/common"
	"github.com/RyanBlaney/sonido-key/algorithms/stats"
)

// KeyMode represents major or minor mode
type KeyMode int

const (
	KeyModeMajor KeyMode = iota
	KeyModeMinor
)

func (m KeyMode) String() string {
	if m == KeyModeMinor {
		return "minor"
	}
	return "major"
}

// MarshalText encodes the mode as "major" or "minor"
func (m KeyMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// KeyCandidate is the correlation of the input with one of the 24 keys
type KeyCandidate struct {
	Tonic       int     `json:"tonic"` // 0=C, 1=C#, ..., 11=B
	Mode        KeyMode `json:"mode"`
	Correlation float64 `json:"correlation"`
}

// Label returns the human-readable key name, e.g. "F# minor"
func (c KeyCandidate) Label() string {
	return KeyName(c.Tonic, c.Mode)
}

// KeyResult is the chosen key for a chroma vector
type KeyResult struct {
	Tonic      int     `json:"tonic"`
	Mode       KeyMode `json:"mode"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"` // gap between the top two candidates, 0-1

	// Correlation is the winning candidate's score before any relative-major switch
	Correlation float64 `json:"correlation"`
	// RelativeSwitch is set when a minor winner was replaced by its relative major
	RelativeSwitch bool `json:"relative_switch"`
	// Candidates holds all 24 keys, best first
	Candidates []KeyCandidate `json:"candidates,omitempty"`
}

// InvalidInputError reports a chroma vector the classifier cannot score
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid chroma input: " + e.Reason
}

// Krumhansl-Kessler probe-tone ratings, tonic first
var (
	krumhanslMajor = chroma.Vector{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	krumhanslMinor = chroma.Vector{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}

	majorTemplate = krumhanslMajor.Normalize()
	minorTemplate = krumhanslMinor.Normalize()
)

// MajorTemplate returns the unit-norm major key profile with tonic at C
func MajorTemplate() chroma.Vector {
	return majorTemplate
}

// MinorTemplate returns the unit-norm minor key profile with tonic at C
func MinorTemplate() chroma.Vector {
	return minorTemplate
}

// Template returns the profile for a mode
func Template(mode KeyMode) chroma.Vector {
	if mode == KeyModeMinor {
		return minorTemplate
	}
	return majorTemplate
}

// KeyEstimationParams controls the relative-major preference
type KeyEstimationParams struct {
	// PreferRelativeMajor replaces a minor winner with its relative major
	// when the major scores at least RelativeMajorRatio of the winner.
	PreferRelativeMajor bool    `json:"prefer_relative_major"`
	RelativeMajorRatio  float64 `json:"relative_major_ratio"`
}

// DefaultKeyEstimationParams returns the standard classifier settings
func DefaultKeyEstimationParams() KeyEstimationParams {
	return KeyEstimationParams{
		PreferRelativeMajor: true,
		RelativeMajorRatio:  0.95,
	}
}

// KeyEstimator matches chroma vectors against the major and minor profiles
// in all 12 transpositions. It holds no mutable state and is safe for
// concurrent use.
type KeyEstimator struct {
	params KeyEstimationParams
}

// NewKeyEstimator creates a key estimator
func NewKeyEstimator(params KeyEstimationParams) *KeyEstimator {
	return &KeyEstimator{params: params}
}

var defaultEstimator = NewKeyEstimator(DefaultKeyEstimationParams())

// Classify estimates the key of a 12-bin chroma vector with default settings
func Classify(values []float64) (KeyResult, error) {
	return defaultEstimator.Estimate(values)
}

// Estimate scores all 24 keys and picks the best.
//
// Confidence is the winner's margin over the runner-up scaled by the room
// left above the runner-up. It is computed before the relative-major switch
// and is not recomputed afterwards, so a switched result reports the
// confidence of the minor key it replaced.
func (ke *KeyEstimator) Estimate(values []float64) (KeyResult, error) {
	if len(values) != 12 {
		return KeyResult{}, &InvalidInputError{Reason: fmt.Sprintf("expected 12 values, got %d", len(values))}
	}
	if !common.IsFinite(values) {
		return KeyResult{}, &InvalidInputError{Reason: "values must be finite"}
	}

	candidates := ScoreKeys(chroma.FromSlice(values))
	best, second := candidates[0], candidates[1]

	result := KeyResult{
		Tonic:       best.Tonic,
		Mode:        best.Mode,
		Confidence:  confidence(best.Correlation, second.Correlation),
		Correlation: best.Correlation,
		Candidates:  candidates,
	}

	if ke.params.PreferRelativeMajor && best.Mode == KeyModeMinor {
		relTonic, relMode := RelativeKey(best.Tonic, best.Mode)
		relative := findCandidate(candidates, relTonic, relMode)
		if relative.Correlation >= ke.params.RelativeMajorRatio*best.Correlation {
			result.Tonic = relTonic
			result.Mode = relMode
			result.RelativeSwitch = true
		}
	}

	result.Label = KeyName(result.Tonic, result.Mode)
	return result, nil
}

// ScoreKeys correlates v with every key and returns the 24 candidates sorted
// by correlation descending. Ties go to the lower tonic, then to major.
func ScoreKeys(v chroma.Vector) []KeyCandidate {
	candidates := make([]KeyCandidate, 0, 24)

	for tonic := range 12 {
		// Move this tonic to bin 0 so it lines up with the C-based templates
		shifted := v.Shift(tonic)
		for _, mode := range []KeyMode{KeyModeMajor, KeyModeMinor} {
			template := Template(mode)
			candidates = append(candidates, KeyCandidate{
				Tonic:       tonic,
				Mode:        mode,
				Correlation: stats.Pearson(shifted[:], template[:]),
			})
		}
	}

	slices.SortStableFunc(candidates, func(a, b KeyCandidate) int {
		if c := cmp.Compare(b.Correlation, a.Correlation); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Tonic, b.Tonic); c != 0 {
			return c
		}
		return cmp.Compare(a.Mode, b.Mode)
	})

	return candidates
}

func confidence(best, second float64) float64 {
	if second < 1 {
		return common.Clamp((best-second)/(1-second+1e-10), 0, 1)
	}
	return common.Clamp(best, 0, 1)
}

func findCandidate(candidates []KeyCandidate, tonic int, mode KeyMode) KeyCandidate {
	for _, c := range candidates {
		if c.Tonic == tonic && c.Mode == mode {
			return c
		}
	}
	return KeyCandidate{Tonic: tonic, Mode: mode}
}

// KeyName returns human-readable key name
func KeyName(tonic int, mode KeyMode) string {
	return chroma.PitchClasses[mod12(tonic)] + " " + mode.String()
}

// RelativeKey returns the relative major/minor key
func RelativeKey(tonic int, mode KeyMode) (int, KeyMode) {
	if mode == KeyModeMajor {
		// Relative minor is 3 semitones down
		return mod12(tonic - 3), KeyModeMinor
	}
	// Relative major is 3 semitones up
	return mod12(tonic + 3), KeyModeMajor
}

func mod12(n int) int {
	n %= 12
	if n < 0 {
		n += 12
	}
	return n
}
