package common

import "fmt"

// CenteredFrameCount returns the number of frames a centered analysis with
// the given hop produces for a signal of length samples.
func CenteredFrameCount(length, hopSize int) int {
	if length <= 0 || hopSize <= 0 {
		return 0
	}
	return 1 + length/hopSize
}

// CenteredFrame copies the size samples of signal centered on center into
// dst, zero-filling whatever falls outside the signal. dst must have length
// at least size.
func CenteredFrame(signal []float64, center, size int, dst []float64) {
	start := center - size/2
	for i := range size {
		idx := start + i
		if idx < 0 || idx >= len(signal) {
			dst[i] = 0.0
			continue
		}
		dst[i] = signal[idx]
	}
}

// OverlapAddBuffer accumulates windowed frames for inverse STFT and keeps the
// running sum of squared synthesis windows used to undo the overlap gain.
type OverlapAddBuffer struct {
	buffer     []float64
	windowSum  []float64
	windowSize int
}

// NewOverlapAddBuffer creates a buffer for length output samples built from
// frames of windowSize samples.
func NewOverlapAddBuffer(length, windowSize int) *OverlapAddBuffer {
	return &OverlapAddBuffer{
		buffer:     make([]float64, length),
		windowSum:  make([]float64, length),
		windowSize: windowSize,
	}
}

// AddFrame adds frame, already multiplied by the synthesis window, starting
// at sample offset. window is the synthesis window itself.
func (oab *OverlapAddBuffer) AddFrame(frame, window []float64, offset int) error {
	if len(frame) != oab.windowSize || len(window) != oab.windowSize {
		return fmt.Errorf("frame size (%d) doesn't match window size (%d)", len(frame), oab.windowSize)
	}

	for i := range frame {
		idx := offset + i
		if idx < 0 || idx >= len(oab.buffer) {
			continue
		}
		oab.buffer[idx] += frame[i]
		oab.windowSum[idx] += window[i] * window[i]
	}
	return nil
}

// Output returns length samples starting at start, normalized by the window
// overlap. Samples with negligible window coverage are left unscaled.
func (oab *OverlapAddBuffer) Output(start, length int) []float64 {
	out := make([]float64, length)
	for i := range out {
		idx := start + i
		if idx < 0 || idx >= len(oab.buffer) {
			continue
		}
		v := oab.buffer[idx]
		if oab.windowSum[idx] > Epsilon {
			v /= oab.windowSum[idx]
		}
		out[i] = v
	}
	return out
}
