package engine

import (
	"context"
	"fmt"

	"github.com/andresmejia3/lenswatch/internal/types"
)

// Detector produces the spots of one frame for a single mode.
// state carries the retained previous frame and the active configuration.
type Detector interface {
	Detect(ctx context.Context, f *types.Frame, state types.SessionState) ([]types.BrightSpot, error)
}

// IRDetector scans every pixel for IR-red or over-bright anchors that sit inside a bright cluster.
type IRDetector struct {
	Classifier PatternClassifier
}

func (d IRDetector) Detect(ctx context.Context, f *types.Frame, state types.SessionState) ([]types.BrightSpot, error) {
	return scanAnchors(ctx, f, state.Config.Sensitivity, classifierOrStub(d.Classifier), nil)
}

// PatternDetector runs the IR anchor search but keeps only regions the classifier recognises
// (label other than unknown) with a score at or above the pattern threshold.
type PatternDetector struct {
	Classifier PatternClassifier
}

func (d PatternDetector) Detect(ctx context.Context, f *types.Frame, state types.SessionState) ([]types.BrightSpot, error) {
	threshold := state.Config.PatternThreshold
	keep := func(p types.Pattern, score float64) bool {
		return p != types.PatternUnknown && score >= threshold
	}
	return scanAnchors(ctx, f, state.Config.Sensitivity, classifierOrStub(d.Classifier), keep)
}

// MotionDetector differences the frame against the retained previous frame.
type MotionDetector struct {
	Comparator MotionComparator
	Classifier PatternClassifier
}

func (d MotionDetector) Detect(ctx context.Context, f *types.Frame, state types.SessionState) ([]types.BrightSpot, error) {
	cmp := d.Comparator
	if cmp == nil {
		cmp = BlockDelta{BlockSize: DefaultBlockSize}
	}
	spots := cmp.Compare(state.Previous, f, state.Config.MotionThreshold)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	classifier := classifierOrStub(d.Classifier)
	for i := range spots {
		x := min(int(spots[i].X*float64(f.Width)), f.Width-1)
		y := min(int(spots[i].Y*float64(f.Height)), f.Height-1)
		spots[i].Pattern, _ = classifier.Classify(f, x, y)
	}
	return spots, nil
}

func classifierOrStub(c PatternClassifier) PatternClassifier {
	if c == nil {
		return StubClassifier{}
	}
	return c
}

// scanAnchors walks the frame row by row. keep, when set, filters on the classifier output.
func scanAnchors(ctx context.Context, f *types.Frame, sensitivity float64, classifier PatternClassifier,
	keep func(types.Pattern, float64) bool) ([]types.BrightSpot, error) {

	spots := []types.BrightSpot{}
	w, h := float64(f.Width), float64(f.Height)

	for y := 0; y < f.Height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < f.Width; x++ {
			r, g, b := f.RGB(x, y)
			if !IsIRCandidate(r, g, b, sensitivity) || !ClusterBright(f, x, y) {
				continue
			}

			pattern, score := classifier.Classify(f, x, y)
			if keep != nil && !keep(pattern, score) {
				continue
			}

			spots = append(spots, types.BrightSpot{
				X:         float64(x) / w,
				Y:         float64(y) / h,
				Intensity: Brightness(r, g, b) / 255,
				Size:      SpotSize(f, x, y),
				Pattern:   pattern,
			})
		}
	}
	return spots, nil
}

// Pipeline routes a frame to the detector of the active mode and scores the outcome.
type Pipeline struct {
	detectors map[types.Mode]Detector
}

// NewPipeline wires the three mode detectors. Nil arguments fall back to the stub classifier
// and a block comparator of DefaultBlockSize.
func NewPipeline(classifier PatternClassifier, comparator MotionComparator) *Pipeline {
	classifier = classifierOrStub(classifier)
	if comparator == nil {
		comparator = BlockDelta{BlockSize: DefaultBlockSize}
	}
	return &Pipeline{
		detectors: map[types.Mode]Detector{
			types.ModeIR:      IRDetector{Classifier: classifier},
			types.ModeMotion:  MotionDetector{Comparator: comparator, Classifier: classifier},
			types.ModePattern: PatternDetector{Classifier: classifier},
		},
	}
}

// SetDetector replaces the detector used for a mode.
func (p *Pipeline) SetDetector(mode types.Mode, d Detector) {
	p.detectors[mode] = d
}

// Analyze runs the pipeline for state.Config.Mode. A frame that fails validation yields an empty,
// zero-confidence result together with the *types.DecodeError; the result is still usable.
func (p *Pipeline) Analyze(ctx context.Context, f *types.Frame, state types.SessionState) (types.DetectionResult, error) {
	mode := state.Config.Mode
	result := types.NewDetectionResult(mode)
	if f != nil {
		result.CapturedAt = f.CapturedAt
	}

	if err := f.Validate(); err != nil {
		return result, err
	}

	d, ok := p.detectors[mode]
	if !ok {
		return result, fmt.Errorf("no detector for mode %q", mode)
	}

	spots, err := d.Detect(ctx, f, state)
	if err != nil {
		return result, err
	}
	if spots != nil {
		result.Spots = spots
	}
	result.Confidence = Score(result.Spots)
	return result, nil
}
