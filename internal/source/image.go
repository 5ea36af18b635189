package source

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/andresmejia3/lenswatch/internal/types"
)

// ImageSource serves the same still on every Capture, stamped with the capture time.
// Useful for pointing a session at a snapshot.
type ImageSource struct {
	opts   Options
	frame  *types.Frame
	err    error
	closed atomic.Bool
}

// NewImageSource reads path once. A file that cannot be read is an error; one that cannot be
// decoded yields a *types.DecodeError on every Capture.
func NewImageSource(path string, opts Options) (*ImageSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	s := &ImageSource{opts: opts.withDefaults()}
	f, err := Decode(data, s.opts.Clock.Now())
	if err != nil {
		s.err = err
	} else {
		s.frame = Downscale(f, s.opts.MaxWidth)
	}
	return s, nil
}

func (s *ImageSource) Capture(ctx context.Context) (*types.Frame, error) {
	if s.closed.Load() {
		return nil, &types.CaptureError{Err: ErrSourceClosed}
	}
	if err := ctx.Err(); err != nil {
		return nil, &types.CaptureError{Err: err}
	}
	if s.err != nil {
		return nil, s.err
	}
	f := *s.frame
	f.CapturedAt = s.opts.Clock.Now()
	return &f, nil
}

func (s *ImageSource) Settings() types.CameraSettings {
	return s.opts.Settings
}

func (s *ImageSource) Close() error {
	s.closed.Store(true)
	return nil
}
