package keyfind

import (
	"time"
)

// Buffer is mono PCM audio in [-1, 1]. The analyzer never writes into
// Samples.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// Window selects a span of a buffer. A zero Duration runs to the end.
type Window struct {
	Offset   time.Duration `json:"offset"`
	Duration time.Duration `json:"duration"`
}

// Duration returns the playing time of the buffer
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Slice returns the part of b covered by w, clamped to the available audio.
// The returned buffer shares its backing array with b.
func (b Buffer) Slice(w Window) Buffer {
	if b.SampleRate <= 0 {
		return b
	}

	start := b.sampleIndex(max(w.Offset, 0))
	end := len(b.Samples)
	if w.Duration > 0 {
		end = min(start+b.sampleIndex(w.Duration), len(b.Samples))
	}

	return Buffer{
		Samples:    b.Samples[start:end],
		SampleRate: b.SampleRate,
	}
}

func (b Buffer) sampleIndex(d time.Duration) int {
	n := int(d.Seconds() * float64(b.SampleRate))
	return min(n, len(b.Samples))
}
