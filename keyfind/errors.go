package keyfind

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBuffer       = errors.New("audio buffer is empty")
	ErrBufferTooShort    = errors.New("audio buffer is too short")
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
)

// AnalysisError reports audio that cannot be analyzed. Err is one of the
// sentinel errors above, or a failure from an analysis stage.
type AnalysisError struct {
	Op  string
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("keyfind %s: %v", e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

func analysisError(op string, err error) error {
	return &AnalysisError{Op: op, Err: err}
}
