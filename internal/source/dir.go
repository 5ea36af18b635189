package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/andresmejia3/lenswatch/internal/types"
)

// DirSource replays the stills of a directory in name order, one per Capture.
type DirSource struct {
	opts  Options
	paths []string

	mu     sync.Mutex
	next   int
	closed bool
}

// NewDirSource lists the supported stills in dir. An empty directory is an error.
func NewDirSource(dir string, opts Options) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .jpg, .png, .bmp or .webp files in %s", dir)
	}
	sort.Strings(paths)

	return &DirSource{opts: opts.withDefaults(), paths: paths}, nil
}

// Len is the number of stills in the directory.
func (s *DirSource) Len() int {
	return len(s.paths)
}

func (s *DirSource) Capture(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.CaptureError{Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &types.CaptureError{Err: ErrSourceClosed}
	}
	if s.next >= len(s.paths) {
		if !s.opts.Loop {
			s.mu.Unlock()
			return nil, &types.CaptureError{Err: ErrExhausted}
		}
		s.next = 0
	}
	path := s.paths[s.next]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.CaptureError{Err: err}
	}
	f, err := Decode(data, s.opts.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return Downscale(f, s.opts.MaxWidth), nil
}

func (s *DirSource) Settings() types.CameraSettings {
	return s.opts.Settings
}

func (s *DirSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
