package chroma

import (
	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-key/algorithms/common"
)

// PitchClasses names the 12 chroma bins, C first
var PitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Vector is a 12-bin pitch-class profile indexed C=0 .. B=11
type Vector [12]float64

// FromSlice copies the first 12 values of s into a Vector
func FromSlice(s []float64) Vector {
	var v Vector
	copy(v[:], s)
	return v
}

// Slice returns a copy of the vector as a slice
func (v Vector) Slice() []float64 {
	out := make([]float64, 12)
	copy(out, v[:])
	return out
}

// Norm returns the Euclidean norm
func (v Vector) Norm() float64 {
	return floats.Norm(v[:], 2)
}

// Normalize scales v to unit Euclidean norm. Vectors with norm below
// common.Epsilon become the zero vector.
func (v Vector) Normalize() Vector {
	norm := v.Norm()
	if norm < common.Epsilon {
		return Vector{}
	}
	floats.Scale(1/norm, v[:])
	return v
}

// IsZero reports whether every bin is exactly zero
func (v Vector) IsZero() bool {
	return v == Vector{}
}

// Shift rotates the vector left by n: out[j] = v[(j+n) mod 12].
// Shifting by a tonic's pitch class moves that tonic to bin 0.
func (v Vector) Shift(n int) Vector {
	var out Vector
	for j := range out {
		out[j] = v[mod12(j+n)]
	}
	return out
}

// Roll rotates the vector right by n: out[(i+n) mod 12] = v[i].
// Rolling a C-based template by k transposes it to tonic k.
func (v Vector) Roll(n int) Vector {
	return v.Shift(-n)
}

// Dominant returns the index of the strongest bin, lowest index on ties
func (v Vector) Dominant() int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// WeightedMean averages chroma frames (time x 12) using one weight per
// frame. When the weight count does not match the frame count the frames are
// averaged uniformly. A zero weight sum yields the zero vector.
func WeightedMean(frames [][]float64, weights []float64) Vector {
	var out Vector
	if len(frames) == 0 {
		return out
	}

	if len(weights) != len(frames) {
		weights = make([]float64, len(frames))
		for i := range weights {
			weights[i] = 1.0
		}
	}

	total := floats.Sum(weights)
	if total < common.Epsilon {
		return out
	}

	for t, frame := range frames {
		if weights[t] == 0 {
			continue
		}
		for i := 0; i < 12 && i < len(frame); i++ {
			out[i] += weights[t] * frame[i]
		}
	}
	for i := range out {
		out[i] /= total
	}

	return out
}

func mod12(n int) int {
	n %= 12
	if n < 0 {
		n += 12
	}
	return n
}
