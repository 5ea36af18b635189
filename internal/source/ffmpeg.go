package source

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/andresmejia3/lenswatch/internal/monitoring"
	"github.com/andresmejia3/lenswatch/internal/utils"
)

// FFmpegSource reads frames from anything ffmpeg can open: video files, V4L2/AVFoundation devices,
// RTSP and HTTP streams. ffmpeg re-encodes to MJPEG on stdout and MJPEGSource cuts the frames.
type FFmpegSource struct {
	*MJPEGSource
	cmd *utils.SafeCommand
}

// NewFFmpegSource starts ffmpeg for in. The process lives until Close or until ctx is cancelled.
func NewFFmpegSource(ctx context.Context, in utils.FFmpegInput, opts Options) (*FFmpegSource, error) {
	// 0. Check dependency
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	// 1. Build the decoder pipe
	cmd := utils.NewFFmpegCmd(ctx, in)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}

	// 2. Launch
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := &FFmpegSource{cmd: cmd}
	s.MJPEGSource = newMJPEGSource(stdout, opts, s.reap)

	settings := s.Settings()
	monitoring.Logf("source: ffmpeg reading %s (camera settings iso=%d exposure=%.1f wb=%.1f passed through)",
		in.Path, settings.ISO, settings.Exposure, settings.WhiteBalance)
	return s, nil
}

// reap waits for ffmpeg once its stdout has drained and turns a failed exit into the stream error.
func (s *FFmpegSource) reap(readErr error) error {
	if !errors.Is(readErr, ErrExhausted) && s.cmd.Process != nil {
		// The scanner gave up early; ffmpeg may be blocked writing to us.
		_ = s.cmd.Process.Kill()
	}
	if err := s.cmd.Wait(); err != nil && errors.Is(readErr, ErrExhausted) {
		return fmt.Errorf("ffmpeg exited: %w", err)
	}
	return nil
}

// Command exposes the ffmpeg process so callers can surface its stderr on failure.
func (s *FFmpegSource) Command() *utils.SafeCommand {
	return s.cmd
}

// Close kills ffmpeg and stops the reader.
func (s *FFmpegSource) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.MJPEGSource.Close()
}
