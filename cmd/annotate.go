package cmd

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/lenswatch/internal/source"
	"github.com/andresmejia3/lenswatch/internal/types"
)

var (
	markerAlert = color.RGBA{R: 255, G: 0, B: 64, A: 255}
	markerSpot  = color.RGBA{R: 255, G: 200, B: 0, A: 255}
)

func isAnnotateTarget(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// annotate returns a copy of f with a square marker around every spot. Markers are red when the
// result alerts and amber otherwise.
func annotate(f *types.Frame, r types.DetectionResult) *image.RGBA {
	src := source.Image(f)
	img := image.NewRGBA(src.Rect)
	copy(img.Pix, src.Pix)

	c := markerSpot
	if r.Alerting() {
		c = markerAlert
	}
	for _, s := range r.Spots {
		cx := int(s.X * float64(f.Width))
		cy := int(s.Y * float64(f.Height))
		// Size is the filled share of the 11x11 estimator window; grow the box with it.
		half := 4 + int(s.Size*6)
		drawBox(img, image.Rect(cx-half, cy-half, cx+half+1, cy+half+1), c)
	}
	return img
}

// drawBox outlines rect with a 1px border.
func drawBox(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	// Clip rect to image bounds to prevent panics
	clip := rect.Intersect(img.Bounds())
	if clip.Empty() {
		return
	}

	set := func(x, y int) {
		off := img.PixOffset(x, y)
		img.Pix[off] = c.R
		img.Pix[off+1] = c.G
		img.Pix[off+2] = c.B
		img.Pix[off+3] = c.A
	}

	for x := clip.Min.X; x < clip.Max.X; x++ {
		if rect.Min.Y == clip.Min.Y { // Top
			set(x, clip.Min.Y)
		}
		if rect.Max.Y == clip.Max.Y { // Bottom
			set(x, clip.Max.Y-1)
		}
	}
	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		if rect.Min.X == clip.Min.X { // Left
			set(clip.Min.X, y)
		}
		if rect.Max.X == clip.Max.X { // Right
			set(clip.Max.X-1, y)
		}
	}
}

// writeAnnotated encodes the annotated frame as PNG or JPEG, chosen by the file extension.
func writeAnnotated(path string, f *types.Frame, r types.DetectionResult) (err error) {
	img := annotate(f, r)

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if strings.EqualFold(filepath.Ext(path), ".png") {
		return png.Encode(out, img)
	}
	return jpeg.Encode(out, img, &jpeg.Options{Quality: 90})
}
