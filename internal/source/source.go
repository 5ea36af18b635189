// Package source produces decoded frames for a detection session from ffmpeg streams,
// directories of stills, or a single image.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/lenswatch/internal/timeutil"
	"github.com/andresmejia3/lenswatch/internal/types"
	"github.com/andresmejia3/lenswatch/internal/utils"
)

// DefaultCaptureTimeout bounds how long Capture waits for a new frame from a stream.
const DefaultCaptureTimeout = 5 * time.Second

var (
	// ErrSourceClosed is returned (inside a *types.CaptureError) after Close.
	ErrSourceClosed = errors.New("frame source closed")
	// ErrExhausted means a finite input has no more frames.
	ErrExhausted = errors.New("frame source exhausted")
)

// Source is a closable frame producer. Capture errors are *types.CaptureError,
// or *types.DecodeError when bytes arrived but could not be decoded.
type Source interface {
	Capture(ctx context.Context) (*types.Frame, error)
	Settings() types.CameraSettings
	Close() error
}

// Options configure every source kind. Zero values pick sensible defaults.
type Options struct {
	// Format forces the ffmpeg demuxer for devices, e.g. "v4l2".
	Format string
	// FPS resamples ffmpeg output; 0 keeps the native rate.
	FPS float64
	// Loop restarts a directory source from the first still instead of running dry.
	Loop bool
	// MaxWidth downscales wider frames before analysis; 0 disables scaling.
	MaxWidth int
	// CaptureTimeout bounds a stream Capture; 0 means DefaultCaptureTimeout.
	CaptureTimeout time.Duration
	// Settings are handed to the capture side untouched.
	Settings types.CameraSettings
	Clock    timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.CaptureTimeout <= 0 {
		o.CaptureTimeout = DefaultCaptureTimeout
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.Settings == (types.CameraSettings{}) {
		o.Settings = types.DefaultCameraSettings()
	}
	return o
}

// imageExts lists the still formats Decode understands.
var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}

// IsImageFile reports whether path has a supported still-image extension.
func IsImageFile(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// Open picks a source for input: a directory of stills, a single still, or anything ffmpeg can read
// (video file, device, network stream). File inputs are paced at their native rate.
func Open(ctx context.Context, input string, opts Options) (Source, error) {
	fi, statErr := os.Stat(input)
	switch {
	case statErr == nil && fi.IsDir():
		return NewDirSource(input, opts)
	case statErr == nil && IsImageFile(input):
		return NewImageSource(input, opts)
	case statErr != nil && opts.Format == "" && !utils.IsLiveInput(input):
		return nil, fmt.Errorf("input %q: %w", input, statErr)
	}

	return NewFFmpegSource(ctx, utils.FFmpegInput{
		Path:     input,
		Format:   opts.Format,
		Realtime: statErr == nil && !fi.IsDir(),
		FPS:      opts.FPS,
	}, opts)
}
