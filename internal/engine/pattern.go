package engine

import "github.com/andresmejia3/lenswatch/internal/types"

// PatternClassifier labels a confirmed region. The score is the classifier's confidence in the
// label, in [0,1]; Pattern mode compares it against the session's pattern threshold.
type PatternClassifier interface {
	Classify(f *types.Frame, x, y int) (types.Pattern, float64)
}

// ClassifierFunc adapts a plain function to PatternClassifier.
type ClassifierFunc func(f *types.Frame, x, y int) (types.Pattern, float64)

func (fn ClassifierFunc) Classify(f *types.Frame, x, y int) (types.Pattern, float64) {
	return fn(f, x, y)
}

// StubClassifier has no discriminating logic yet: every region is unknown.
type StubClassifier struct{}

func (StubClassifier) Classify(*types.Frame, int, int) (types.Pattern, float64) {
	return types.PatternUnknown, 0
}
