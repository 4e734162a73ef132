package keyfind

import (
	"github.com/RyanBlaney/sonido-key/algorithms/common"
)

// FormatKeyDisplay renders a key label with a confidence qualifier
func FormatKeyDisplay(key string, confidence float64) string {
	if key == "" {
		return "key not detected"
	}

	switch {
	case confidence > 0.8:
		return key + " (high confidence)"
	case confidence > 0.6:
		return key
	default:
		return key + " (low confidence)"
	}
}

// RoundConfidence rounds a confidence to three decimals for presentation
func RoundConfidence(confidence float64) float64 {
	return common.Round(confidence, 3)
}
