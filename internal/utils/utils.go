package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps an exec.Cmd with a buffer that catches Stderr,
// so a hook or ffmpeg process that dies still tells us why.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand prepares (but does not start) a command bound to ctx with its Stderr captured.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints the lenswatch error box without exiting.
// If a SafeCommand is given and captured output, it is dumped too.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 LENSWATCH ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nPROCESS LOGS (%s):\n%s\n", s.Path, strings.TrimSpace(s.Stderr.String()))
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for lenswatch.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Frame Ingestion (Shared by Detect & Analyze) ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner.
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpegInput describes where frames come from.
type FFmpegInput struct {
	// Path is a file, URL (rtsp://, http://) or device (/dev/video0).
	Path string
	// Format forces the demuxer, e.g. "v4l2", "avfoundation", "dshow". Empty lets ffmpeg probe.
	Format string
	// Realtime paces file inputs at their native frame rate (-re) so a session sees them like a live feed.
	Realtime bool
	// FPS, when > 0, resamples the output stream.
	FPS float64
}

// FFmpegArgs builds the argument list for an MJPEG image2pipe decoder.
func FFmpegArgs(in FFmpegInput) []string {
	// -hide_banner and -loglevel error keep the stderr buffer small
	args := []string{"-hide_banner", "-loglevel", "error"}
	if in.Realtime {
		args = append(args, "-re")
	}
	if in.Format != "" {
		args = append(args, "-f", in.Format)
	}
	args = append(args, "-i", in.Path)
	if in.FPS > 0 {
		args = append(args, "-vf", "fps="+strconv.FormatFloat(in.FPS, 'f', -1, 64))
	}
	// mjpeg output is what SplitJpeg knows how to cut
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// NewFFmpegCmd creates the decoder pipe for in. Frames arrive on Stdout as concatenated JPEGs.
func NewFFmpegCmd(ctx context.Context, in FFmpegInput) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", FFmpegArgs(in)...)
}

// IsLiveInput reports whether path looks like a device or network stream rather than a file on disk.
func IsLiveInput(path string) bool {
	if strings.HasPrefix(path, "/dev/") {
		return true
	}
	for _, scheme := range []string{"rtsp://", "rtmp://", "http://", "https://", "udp://", "tcp://"} {
		if strings.HasPrefix(strings.ToLower(path), scheme) {
			return true
		}
	}
	return false
}

// GetMediaDuration asks ffprobe how long a file input plays, in seconds.
// It returns 0 if ffprobe is missing or the container has no duration, so callers fall back to a spinner.
func GetMediaDuration(ctx context.Context, path string) float64 {
	// 0. Check dependency
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot estimate session length for a progress bar.\n")
		return 0
	}

	type ffprobeOutput struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}

	// 1. Read container metadata
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe failed: %v\n", err)
		return 0
	}

	// 2. Parse
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe JSON parse error: %v\n", err)
		return 0
	}
	d, err := strconv.ParseFloat(res.Format.Duration, 64)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}
