package engine

import (
	"math"

	"github.com/andresmejia3/lenswatch/internal/types"
	"gonum.org/v1/gonum/stat"
)

// DefaultBlockSize is the edge length, in pixels, of the motion differencing blocks.
const DefaultBlockSize = 16

// MotionComparator flags regions that changed between the retained frame and the current one.
// A nil or differently sized previous frame is a cold start and yields no spots.
type MotionComparator interface {
	Compare(prev, cur *types.Frame, threshold float64) []types.BrightSpot
}

// BlockDelta compares block-averaged brightness. A block is flagged when the absolute change of
// its mean brightness, as a fraction of 255, strictly exceeds the threshold.
type BlockDelta struct {
	BlockSize int
}

func (b BlockDelta) Compare(prev, cur *types.Frame, threshold float64) []types.BrightSpot {
	spots := []types.BrightSpot{}
	if prev == nil || !prev.SameSize(cur) {
		return spots
	}

	size := b.BlockSize
	if size <= 0 {
		size = DefaultBlockSize
	}

	curVals := make([]float64, 0, size*size)
	prevVals := make([]float64, 0, size*size)

	for by := 0; by < cur.Height; by += size {
		bh := min(size, cur.Height-by)
		for bx := 0; bx < cur.Width; bx += size {
			bw := min(size, cur.Width-bx)
			curVals = curVals[:0]
			prevVals = prevVals[:0]

			for y := by; y < by+bh; y++ {
				for x := bx; x < bx+bw; x++ {
					curVals = append(curVals, Brightness(cur.RGB(x, y)))
					prevVals = append(prevVals, Brightness(prev.RGB(x, y)))
				}
			}

			curMean := stat.Mean(curVals, nil)
			delta := math.Abs(curMean-stat.Mean(prevVals, nil)) / 255
			if delta <= threshold {
				continue
			}

			changed := 0
			for i := range curVals {
				if math.Abs(curVals[i]-prevVals[i])/255 > threshold {
					changed++
				}
			}

			spots = append(spots, types.BrightSpot{
				X:         (float64(bx) + float64(bw)/2) / float64(cur.Width),
				Y:         (float64(by) + float64(bh)/2) / float64(cur.Height),
				Intensity: curMean / 255,
				Size:      float64(changed) / float64(len(curVals)),
				Pattern:   types.PatternUnknown,
			})
		}
	}
	return spots
}
