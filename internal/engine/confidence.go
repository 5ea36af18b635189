package engine

import (
	"github.com/andresmejia3/lenswatch/internal/types"
	"gonum.org/v1/gonum/stat"
)

// Per-spot score weights.
const (
	intensityWeight = 0.4
	sizeWeight      = 0.3
	spotFloor       = 0.3
)

// SpotScore is the contribution of a single spot before averaging.
func SpotScore(s types.BrightSpot) float64 {
	return s.Intensity*intensityWeight + s.Size*sizeWeight + spotFloor
}

// Score aggregates a frame's spots into one confidence value. It is the mean per-spot score,
// so additional detections do not raise confidence on their own. Empty input scores 0.
func Score(spots []types.BrightSpot) float64 {
	if len(spots) == 0 {
		return 0
	}
	scores := make([]float64, len(spots))
	for i, s := range spots {
		scores[i] = SpotScore(s)
	}
	return stat.Mean(scores, nil)
}

// ShouldAlert reports whether a confidence strictly exceeds the alert threshold.
func ShouldAlert(confidence float64) bool {
	return confidence > types.AlertThreshold
}
