package engine

import "github.com/andresmejia3/lenswatch/internal/types"

const (
	clusterHalfWidth = 3 // 7x7 window
	sizeHalfWidth    = 5 // 11x11 window

	clusterWindowArea = (2*clusterHalfWidth + 1) * (2*clusterHalfWidth + 1)
	sizeWindowArea    = (2*sizeHalfWidth + 1) * (2*sizeHalfWidth + 1)
)

// countBright counts bright pixels in the square window of the given half-width centred on (cx, cy).
// Positions outside the frame are skipped.
func countBright(f *types.Frame, cx, cy, half int) int {
	count := 0
	for y := cy - half; y <= cy+half; y++ {
		if y < 0 || y >= f.Height {
			continue
		}
		row := y * f.Width * 4
		for x := cx - half; x <= cx+half; x++ {
			if x < 0 || x >= f.Width {
				continue
			}
			i := row + x*4
			if IsBright(f.Pix[i], f.Pix[i+1], f.Pix[i+2]) {
				count++
			}
		}
	}
	return count
}

// ClusterBright reports whether the anchor at (x, y) sits in a dense bright neighbourhood:
// more than half of the 7x7 window must be bright. This rejects single hot pixels.
func ClusterBright(f *types.Frame, x, y int) bool {
	return countBright(f, x, y, clusterHalfWidth)*2 > clusterWindowArea
}

// SpotSize is the fraction of the 11x11 window around (x, y) that is bright.
// It is a coarse proxy for the lens or reflection diameter, not a connected-component area.
func SpotSize(f *types.Frame, x, y int) float64 {
	return float64(countBright(f, x, y, sizeHalfWidth)) / sizeWindowArea
}
