package keyfind

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RyanBlaney/sonido-key/algorithms/chroma"
	"github.com/RyanBlaney/sonido-key/algorithms/temporal"
	"github.com/RyanBlaney/sonido-key/algorithms/tonal"
	"github.com/RyanBlaney/sonido-key/logging"
)

// Result is the key and tempo of one analyzed buffer
type Result struct {
	Key      tonal.KeyResult `json:"key"`
	Chroma   chroma.Vector   `json:"chroma"`
	Tempo    temporal.Tempo  `json:"bpm"`
	Duration time.Duration   `json:"duration"` // length of audio used for the key
}

// Display formats the key with its confidence qualifier
func (r *Result) Display() string {
	return FormatKeyDisplay(r.Key.Label, r.Key.Confidence)
}

// SegmentResult is the outcome of one segment in a multi-segment vote
type SegmentResult struct {
	Window     Window  `json:"window"`
	Key        string  `json:"key,omitempty"`
	Confidence float64 `json:"confidence"`
	Err        error   `json:"-"`
}

// SegmentVote is the majority key over several segments of a track
type SegmentVote struct {
	Key        string          `json:"key"`
	Confidence float64         `json:"confidence"` // votes for Key / successful segments
	Votes      int             `json:"votes"`
	Segments   []SegmentResult `json:"segments"`
	Tempo      temporal.Tempo  `json:"bpm"`
}

// ErrNoSegments is returned when no segment of a vote could be analyzed
var ErrNoSegments = errors.New("no segment could be analyzed")

// Analyzer estimates key and tempo from decoded audio. It is safe for
// concurrent use.
type Analyzer struct {
	config    *Config
	extractor *Extractor
	keys      *tonal.KeyEstimator
	tempo     *temporal.TempoEstimation
	logger    logging.Logger
}

// NewAnalyzer creates an analyzer; a nil config uses DefaultConfig
func NewAnalyzer(config *Config) (*Analyzer, error) {
	if config == nil {
		config = DefaultConfig()
	}

	extractor, err := NewExtractor(config)
	if err != nil {
		return nil, err
	}

	return &Analyzer{
		config:    config,
		extractor: extractor,
		keys:      tonal.NewKeyEstimator(config.Key),
		tempo:     temporal.NewTempoEstimation(config.Tempo),
		logger: logging.WithFields(logging.Fields{
			"component": "key_analyzer",
		}),
	}, nil
}

// Config returns the analyzer configuration
func (a *Analyzer) Config() *Config {
	return a.config
}

// Analyze estimates the key over the configured key window and, when
// enabled, the tempo over the tempo window.
func (a *Analyzer) Analyze(ctx context.Context, buf Buffer) (*Result, error) {
	return a.analyze(ctx, buf, a.config.KeyWindow, a.config.EstimateTempo)
}

func (a *Analyzer) analyze(ctx context.Context, buf Buffer, keyWindow Window, withTempo bool) (*Result, error) {
	logger := a.logger.WithContext(ctx).WithFields(logging.Fields{
		"function":    "Analyze",
		"sample_rate": buf.SampleRate,
		"duration":    buf.Duration().String(),
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keyBuf := buf.Slice(keyWindow)
	v, err := a.extractor.ExtractChroma(keyBuf)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := a.keys.Estimate(v.Slice())
	if err != nil {
		return nil, analysisError("classify", err)
	}

	result := &Result{
		Key:      key,
		Chroma:   v,
		Duration: keyBuf.Duration(),
	}

	if withTempo {
		tempoBuf := buf.Slice(a.config.TempoWindow)
		result.Tempo = a.tempo.Estimate(tempoBuf.Samples, tempoBuf.SampleRate)
	}

	logger.Debug("Analysis completed", logging.Fields{
		"key":             key.Label,
		"confidence":      key.Confidence,
		"relative_switch": key.RelativeSwitch,
		"tempo":           result.Tempo.String(),
	})

	return result, nil
}

// AnalyzeSegments votes on the key across Config.Segments evenly spaced
// segments.
func (a *Analyzer) AnalyzeSegments(ctx context.Context, buf Buffer) (*SegmentVote, error) {
	return a.VoteSegments(ctx, buf, a.config.Segments)
}

// VoteSegments votes on the key across n evenly spaced segments. Tracks
// shorter than SegmentMinTrack are analyzed once and report the classifier
// confidence. Segments that fail are skipped; the vote fails only when none
// succeed.
func (a *Analyzer) VoteSegments(ctx context.Context, buf Buffer, n int) (*SegmentVote, error) {
	if n < 1 {
		return nil, fmt.Errorf("segment count must be at least 1, got %d", n)
	}
	if err := a.extractor.check(buf); err != nil {
		return nil, err
	}

	logger := a.logger.WithContext(ctx).WithFields(logging.Fields{
		"function": "VoteSegments",
		"segments": n,
	})

	duration := buf.Duration()
	if duration < a.config.SegmentMinTrack {
		logger.Debug("Track too short for segment vote, analyzing once", logging.Fields{
			"duration": duration.String(),
		})
		result, err := a.Analyze(ctx, buf)
		if err != nil {
			return nil, err
		}
		return &SegmentVote{
			Key:        result.Key.Label,
			Confidence: result.Key.Confidence,
			Votes:      1,
			Segments: []SegmentResult{{
				Window:     a.config.KeyWindow,
				Key:        result.Key.Label,
				Confidence: result.Key.Confidence,
			}},
			Tempo: result.Tempo,
		}, nil
	}

	windows := SegmentWindows(duration, n, a.config.SegmentMaxDuration)
	segments := make([]SegmentResult, len(windows))

	var wg sync.WaitGroup
	for i, w := range windows {
		wg.Add(1)
		go func() {
			defer wg.Done()
			segments[i].Window = w
			result, err := a.analyze(ctx, buf, w, false)
			if err != nil {
				segments[i].Err = err
				return
			}
			segments[i].Key = result.Key.Label
			segments[i].Confidence = result.Key.Confidence
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vote := tallyVotes(segments)
	if vote.Key == "" {
		for _, s := range segments {
			if s.Err != nil {
				logger.Warn("Segment analysis failed", logging.Fields{
					"offset": s.Window.Offset.String(),
					"error":  s.Err.Error(),
				})
			}
		}
		return nil, analysisError("segment vote", ErrNoSegments)
	}

	if a.config.EstimateTempo {
		tempoBuf := buf.Slice(a.config.TempoWindow)
		vote.Tempo = a.tempo.Estimate(tempoBuf.Samples, tempoBuf.SampleRate)
	}

	logger.Debug("Segment vote completed", logging.Fields{
		"vote":       vote.String(),
		"confidence": vote.Confidence,
	})

	return vote, nil
}

// SegmentWindows spreads n windows of min(maxLen, duration/n) evenly from
// the start to the end of a track, the first at 0 and the last ending at
// duration.
func SegmentWindows(duration time.Duration, n int, maxLen time.Duration) []Window {
	if n < 1 || duration <= 0 {
		return nil
	}

	length := duration / time.Duration(n)
	if maxLen > 0 {
		length = min(length, maxLen)
	}

	windows := make([]Window, n)
	for i := range n {
		offset := time.Duration(0)
		if n > 1 {
			offset = time.Duration(float64(duration-length) * float64(i) / float64(n-1))
		}
		windows[i] = Window{Offset: offset, Duration: length}
	}
	return windows
}

// tallyVotes picks the most frequent key; ties go to the key seen first
func tallyVotes(segments []SegmentResult) *SegmentVote {
	vote := &SegmentVote{Segments: segments}

	counts := make(map[string]int)
	var order []string
	successful := 0

	for _, s := range segments {
		if s.Err != nil || s.Key == "" {
			continue
		}
		successful++
		if counts[s.Key] == 0 {
			order = append(order, s.Key)
		}
		counts[s.Key]++
	}

	for _, key := range order {
		if counts[key] > vote.Votes {
			vote.Key = key
			vote.Votes = counts[key]
		}
	}

	if successful > 0 {
		vote.Confidence = float64(vote.Votes) / float64(successful)
	}
	return vote
}

// String summarizes a vote for logs and CLI output
func (v *SegmentVote) String() string {
	return fmt.Sprintf("%s (%d/%d segments)", v.Key, v.Votes, len(v.Segments))
}
