package source

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/andresmejia3/lenswatch/internal/types"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Decode turns an encoded still (JPEG, PNG, BMP, WebP) into an RGBA frame.
// Undecodable bytes produce a *types.DecodeError.
func Decode(data []byte, capturedAt time.Time) (*types.Frame, error) {
	if len(data) == 0 {
		return nil, &types.DecodeError{Reason: "empty frame buffer"}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &types.DecodeError{Reason: "unreadable image data", Err: err}
	}
	return FromImage(img, capturedAt), nil
}

// FromImage copies img into a tightly packed RGBA frame anchored at (0,0).
// An *image.RGBA that is already packed is used without copying.
func FromImage(img image.Image, capturedAt time.Time) *types.Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) || rgba.Stride != 4*w {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	}
	return &types.Frame{Pix: rgba.Pix[:4*w*h], Width: w, Height: h, CapturedAt: capturedAt}
}

// Downscale shrinks frames wider than maxWidth, keeping the aspect ratio. Narrower frames and
// maxWidth <= 0 return f unchanged.
func Downscale(f *types.Frame, maxWidth int) *types.Frame {
	if maxWidth <= 0 || f == nil || f.Width <= maxWidth {
		return f
	}
	h := max(1, f.Height*maxWidth/f.Width)

	src := Image(f)
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	return &types.Frame{Pix: dst.Pix, Width: maxWidth, Height: h, CapturedAt: f.CapturedAt}
}

// Image wraps a frame as an image.Image without copying, for encoders and drawing.
func Image(f *types.Frame) *image.RGBA {
	return &image.RGBA{Pix: f.Pix, Stride: 4 * f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}
}
