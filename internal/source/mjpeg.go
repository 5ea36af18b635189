package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/lenswatch/internal/monitoring"
	"github.com/andresmejia3/lenswatch/internal/types"
	"github.com/andresmejia3/lenswatch/internal/utils"
)

const megabyte = 1024 * 1024

// maxFrameBytes caps a single JPEG token; larger frames end the stream with an error.
const maxFrameBytes = 32 * megabyte

// MJPEGSource cuts a stream of concatenated JPEGs into frames. A background reader keeps only the
// newest undecoded frame; Capture takes it, so a slow tick never sees stale video.
type MJPEGSource struct {
	r    io.ReadCloser
	opts Options

	mu       sync.Mutex
	latest   []byte
	latestAt time.Time
	closed   bool

	notify chan struct{}
	done   chan struct{}
	err    error // why reading stopped; read only after done is closed

	// finish runs once the stream ends, before done is closed (reaps ffmpeg).
	finish func(readErr error) error

	received atomic.Uint64
	dropped  atomic.Uint64
	closeMu  sync.Once
}

// NewMJPEGSource starts reading r in the background.
func NewMJPEGSource(r io.ReadCloser, opts Options) *MJPEGSource {
	return newMJPEGSource(r, opts, nil)
}

func newMJPEGSource(r io.ReadCloser, opts Options, finish func(error) error) *MJPEGSource {
	s := &MJPEGSource{
		r:      r,
		opts:   opts.withDefaults(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		finish: finish,
	}
	go s.read()
	return s
}

func (s *MJPEGSource) read() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, megabyte), maxFrameBytes)
	scanner.Split(utils.SplitJpeg)

	for scanner.Scan() {
		// The scanner reuses its buffer, so the token must be copied out.
		data := append([]byte(nil), scanner.Bytes()...)
		now := s.opts.Clock.Now()

		s.mu.Lock()
		if s.latest != nil {
			s.dropped.Add(1)
		}
		s.latest, s.latestAt = data, now
		s.mu.Unlock()
		s.received.Add(1)

		select {
		case s.notify <- struct{}{}:
		default:
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrExhausted
	}
	if s.finish != nil {
		if ferr := s.finish(err); ferr != nil {
			err = ferr
		}
	}
	s.err = err
}

// take empties the mailbox.
func (s *MJPEGSource) take() ([]byte, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, at := s.latest, s.latestAt
	s.latest = nil
	return data, at, s.closed
}

// Capture returns the newest frame that arrived since the previous Capture, waiting up to
// the capture timeout for one.
func (s *MJPEGSource) Capture(ctx context.Context) (*types.Frame, error) {
	timer := time.NewTimer(s.opts.CaptureTimeout)
	defer timer.Stop()

	for {
		data, at, closed := s.take()
		if closed {
			return nil, &types.CaptureError{Err: ErrSourceClosed}
		}
		if data != nil {
			return s.decode(data, at)
		}

		select {
		case <-s.notify:
		case <-s.done:
			// A frame may have landed between take and done.
			data, at, closed := s.take()
			switch {
			case closed:
				return nil, &types.CaptureError{Err: ErrSourceClosed}
			case data != nil:
				return s.decode(data, at)
			}
			return nil, &types.CaptureError{Err: s.err}
		case <-timer.C:
			return nil, &types.CaptureError{Err: fmt.Errorf("no frame within %v", s.opts.CaptureTimeout)}
		case <-ctx.Done():
			return nil, &types.CaptureError{Err: ctx.Err()}
		}
	}
}

func (s *MJPEGSource) decode(data []byte, at time.Time) (*types.Frame, error) {
	f, err := Decode(data, at)
	if err != nil {
		return nil, err
	}
	return Downscale(f, s.opts.MaxWidth), nil
}

// Settings returns the camera settings this source was opened with.
func (s *MJPEGSource) Settings() types.CameraSettings {
	return s.opts.Settings
}

// Stats reports how many frames arrived and how many were overwritten before a Capture took them.
func (s *MJPEGSource) Stats() (received, dropped uint64) {
	return s.received.Load(), s.dropped.Load()
}

// Done is closed once the underlying stream has ended.
func (s *MJPEGSource) Done() <-chan struct{} {
	return s.done
}

// Close stops reading. Pending and future Captures fail with ErrSourceClosed.
func (s *MJPEGSource) Close() error {
	var err error
	s.closeMu.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.latest = nil
		s.mu.Unlock()

		err = s.r.Close()
		<-s.done

		received, dropped := s.Stats()
		monitoring.Logf("source: closed after %d frames (%d superseded before capture)", received, dropped)
	})
	// exec.Cmd.Wait may already have closed an ffmpeg stdout pipe.
	if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
