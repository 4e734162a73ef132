package keyfind

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-key/algorithms/chroma"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 22050

func tones(sampleRate int, seconds float64, freqs ...float64) Buffer {
	samples := make([]float64, int(seconds*float64(sampleRate)))
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		for _, f := range freqs {
			samples[i] += 0.3 * math.Sin(2*math.Pi*f*t)
		}
	}
	return Buffer{Samples: samples, SampleRate: sampleRate}
}

// C4, E4, G4
var cMajorTriad = []float64{261.63, 329.63, 392.00}

func newTestAnalyzer(t *testing.T, mutate func(*Config)) *Analyzer {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	analyzer, err := NewAnalyzer(cfg)
	require.NoError(t, err)
	return analyzer
}

func TestExtractChromaRejectsUnusableBuffers(t *testing.T) {
	tests := []struct {
		name   string
		buf    Buffer
		target error
	}{
		{"empty", Buffer{SampleRate: testRate}, ErrEmptyBuffer},
		{"zero sample rate", Buffer{Samples: make([]float64, 100)}, ErrInvalidSampleRate},
		{"negative sample rate", Buffer{Samples: make([]float64, 100), SampleRate: -1}, ErrInvalidSampleRate},
		{"too short", tones(testRate, 0.5, 440), ErrBufferTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractChroma(tt.buf)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target))

			var analysisErr *AnalysisError
			assert.True(t, errors.As(err, &analysisErr))
		})
	}
}

func TestExtractChromaSineIsUnitNormAtA(t *testing.T) {
	v, err := ExtractChroma(tones(testRate, 3, 440))
	require.NoError(t, err)

	assert.InDelta(t, 1.0, v.Norm(), 1e-9)
	assert.Equal(t, 9, v.Dominant())
	for _, x := range v {
		assert.GreaterOrEqual(t, x, 0.0)
	}
}

func TestExtractChromaResamplesOtherRates(t *testing.T) {
	v, err := ExtractChroma(tones(44100, 2, 440))
	require.NoError(t, err)

	assert.Equal(t, 9, v.Dominant())
	assert.InDelta(t, 1.0, v.Norm(), 1e-9)
}

func TestExtractChromaSilenceIsZero(t *testing.T) {
	v, err := ExtractChroma(Buffer{Samples: make([]float64, 2*testRate), SampleRate: testRate})
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestExtractChromaDoesNotModifyInput(t *testing.T) {
	buf := tones(44100, 1.5, 440)
	original := append([]float64(nil), buf.Samples...)

	_, err := ExtractChroma(buf)
	require.NoError(t, err)
	assert.Equal(t, original, buf.Samples)
}

func TestAnalyzeTriad(t *testing.T) {
	analyzer := newTestAnalyzer(t, nil)

	result, err := analyzer.Analyze(context.Background(), tones(testRate, 4, cMajorTriad...))
	require.NoError(t, err)

	assert.Equal(t, "C major", result.Key.Label)
	assert.Len(t, result.Key.Candidates, 24)
	assert.InDelta(t, 1.0, result.Chroma.Norm(), 1e-9)
	assert.Equal(t, 4*time.Second, result.Duration)
}

func TestAnalyzeUsesKeyWindow(t *testing.T) {
	analyzer := newTestAnalyzer(t, func(c *Config) {
		c.KeyWindow = Window{Offset: 2 * time.Second, Duration: 2 * time.Second}
		c.EstimateTempo = false
	})

	// C major triad for two seconds, then an A
	buf := tones(testRate, 2, cMajorTriad...)
	buf.Samples = append(buf.Samples, tones(testRate, 2, 440).Samples...)

	result, err := analyzer.Analyze(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, 9, result.Chroma.Dominant())
	assert.False(t, result.Tempo.Detected)
}

func TestAnalyzeCancelled(t *testing.T) {
	analyzer := newTestAnalyzer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := analyzer.Analyze(ctx, tones(testRate, 2, 440))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeSegmentsVotes(t *testing.T) {
	analyzer := newTestAnalyzer(t, func(c *Config) {
		c.EstimateTempo = false
	})

	vote, err := analyzer.AnalyzeSegments(context.Background(), tones(testRate, 12, cMajorTriad...))
	require.NoError(t, err)

	assert.Equal(t, "C major", vote.Key)
	assert.Equal(t, 3, vote.Votes)
	assert.InDelta(t, 1.0, vote.Confidence, 1e-12)
	require.Len(t, vote.Segments, 3)
	assert.Equal(t, time.Duration(0), vote.Segments[0].Window.Offset)
	assert.Equal(t, 4*time.Second, vote.Segments[1].Window.Offset)
	assert.Equal(t, 8*time.Second, vote.Segments[2].Window.Offset)
}

func TestAnalyzeSegmentsShortTrackAnalyzesOnce(t *testing.T) {
	analyzer := newTestAnalyzer(t, nil)

	vote, err := analyzer.AnalyzeSegments(context.Background(), tones(testRate, 3, cMajorTriad...))
	require.NoError(t, err)

	assert.Equal(t, "C major", vote.Key)
	assert.Equal(t, 1, vote.Votes)
	assert.Len(t, vote.Segments, 1)
	assert.Less(t, vote.Confidence, 1.0)
}

func TestAnalyzeSegmentsRejectsEmpty(t *testing.T) {
	analyzer := newTestAnalyzer(t, nil)

	_, err := analyzer.AnalyzeSegments(context.Background(), Buffer{SampleRate: testRate})
	assert.ErrorIs(t, err, ErrEmptyBuffer)
}

func TestSegmentWindows(t *testing.T) {
	tests := []struct {
		duration time.Duration
		n        int
		length   time.Duration
		offsets  []time.Duration
	}{
		{60 * time.Second, 3, 20 * time.Second, []time.Duration{0, 20 * time.Second, 40 * time.Second}},
		{120 * time.Second, 3, 30 * time.Second, []time.Duration{0, 45 * time.Second, 90 * time.Second}},
		{50 * time.Second, 1, 30 * time.Second, []time.Duration{0}},
	}

	for _, tt := range tests {
		windows := SegmentWindows(tt.duration, tt.n, 30*time.Second)
		require.Len(t, windows, tt.n)
		for i, w := range windows {
			assert.Equal(t, tt.length, w.Duration)
			assert.Equal(t, tt.offsets[i], w.Offset)
		}
	}

	assert.Nil(t, SegmentWindows(time.Minute, 0, 30*time.Second))
}

func TestTallyVotes(t *testing.T) {
	failed := errors.New("failed")

	vote := tallyVotes([]SegmentResult{{Key: "A minor"}, {Key: "C major"}, {Key: "C major"}})
	assert.Equal(t, "C major", vote.Key)
	assert.Equal(t, 2, vote.Votes)
	assert.InDelta(t, 2.0/3.0, vote.Confidence, 1e-12)

	// ties go to the first key seen
	vote = tallyVotes([]SegmentResult{{Key: "D major"}, {Key: "A minor"}, {Key: "E minor"}})
	assert.Equal(t, "D major", vote.Key)
	assert.InDelta(t, 1.0/3.0, vote.Confidence, 1e-12)

	// failures do not count toward the total
	vote = tallyVotes([]SegmentResult{{Err: failed}, {Key: "G major"}, {Key: "E minor"}})
	assert.Equal(t, "G major", vote.Key)
	assert.InDelta(t, 0.5, vote.Confidence, 1e-12)

	assert.Equal(t, "G major (1/3 segments)", vote.String())

	vote = tallyVotes([]SegmentResult{{Err: failed}, {Err: failed}})
	assert.Empty(t, vote.Key)
	assert.Zero(t, vote.Confidence)
}

func TestBufferSlice(t *testing.T) {
	buf := Buffer{Samples: make([]float64, 1000), SampleRate: 100}
	assert.Equal(t, 10*time.Second, buf.Duration())

	tests := []struct {
		name   string
		window Window
		length int
	}{
		{"inside", Window{Offset: 2 * time.Second, Duration: 3 * time.Second}, 300},
		{"to end", Window{Offset: 4 * time.Second}, 600},
		{"negative offset", Window{Offset: -time.Second, Duration: 2 * time.Second}, 200},
		{"past end", Window{Offset: 20 * time.Second, Duration: time.Second}, 0},
		{"overflow", Window{Offset: 8 * time.Second, Duration: 5 * time.Second}, 200},
		{"whole", Window{}, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slice := buf.Slice(tt.window)
			assert.Len(t, slice.Samples, tt.length)
			assert.Equal(t, 100, slice.SampleRate)
		})
	}
}

func TestFormatKeyDisplay(t *testing.T) {
	assert.Equal(t, "key not detected", FormatKeyDisplay("", 0.9))
	assert.Equal(t, "C major (high confidence)", FormatKeyDisplay("C major", 0.81))
	assert.Equal(t, "C major", FormatKeyDisplay("C major", 0.8))
	assert.Equal(t, "C major", FormatKeyDisplay("C major", 0.61))
	assert.Equal(t, "A minor (low confidence)", FormatKeyDisplay("A minor", 0.6))
	assert.Equal(t, "A minor (low confidence)", FormatKeyDisplay("A minor", 0))

	assert.Equal(t, 0.913, RoundConfidence(0.91349))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"hop mismatch", func(c *Config) { c.HopSize = 256 }},
		{"kernel", func(c *Config) { c.HPSSKernel = 0 }},
		{"top db", func(c *Config) { c.TopDB = 0 }},
		{"segments", func(c *Config) { c.Segments = 0 }},
		{"ratio", func(c *Config) { c.Key.RelativeMajorRatio = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())

			_, err := NewAnalyzer(cfg)
			assert.Error(t, err)
		})
	}
}

func TestConfigRejectsLowAnalysisRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 8000

	_, err := NewExtractor(cfg)
	assert.Error(t, err)
}

func TestResultDisplay(t *testing.T) {
	r := &Result{}
	r.Key.Label = "E minor"
	r.Key.Confidence = 0.95
	assert.Equal(t, "E minor (high confidence)", r.Display())

	assert.Equal(t, chroma.Vector{}, r.Chroma)
}
