package cmd

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/lenswatch/internal/source"
	"github.com/andresmejia3/lenswatch/internal/types"
)

func analyzeDefaults() Options {
	d := types.DefaultSessionConfig()
	return Options{
		Mode:             string(d.Mode),
		Sensitivity:      d.Sensitivity,
		MotionThreshold:  d.MotionThreshold,
		PatternThreshold: d.PatternThreshold,
		MotionBlockSize:  16,
	}
}

func TestValidateAnalyzeFlags(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "room.png")
	writeStill(t, img, color.Black)

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"Valid", func(o *Options) {}, false},
		{"Missing input", func(o *Options) { o.InputPath = filepath.Join(dir, "nope.png") }, true},
		{"Directory input", func(o *Options) { o.InputPath = dir }, true},
		{"Bad mode", func(o *Options) { o.Mode = "xray" }, true},
		{"Bad sensitivity", func(o *Options) { o.Sensitivity = 1.0 }, true},
		{"Bad block", func(o *Options) { o.MotionBlockSize = 0 }, true},
		{"Bad annotate extension", func(o *Options) { o.Annotate = "out.gif" }, true},
		{"Annotate jpeg", func(o *Options) { o.Annotate = "out.JPG" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := analyzeDefaults()
			opts.InputPath = img
			tt.mutate(&opts)

			if _, err := validateAnalyzeFlags(opts); (err != nil) != tt.wantErr {
				t.Errorf("validateAnalyzeFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunAnalyze(t *testing.T) {
	dir := t.TempDir()
	bright := filepath.Join(dir, "bright.png")
	dark := filepath.Join(dir, "dark.png")
	writeStill(t, bright, color.White)
	writeStill(t, dark, color.Black)

	oldStderr := os.Stderr
	devNull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	os.Stderr = devNull
	defer func() {
		os.Stderr = oldStderr
		devNull.Close()
	}()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"Bright scene alerts", bright, []string{"INTENSITY", "Camera Detected!", "... and"}},
		{"Dark scene is clean", dark, []string{"No bright spots found.", "Confidence: 0%", "No camera detected."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := analyzeDefaults()
			opts.InputPath = tt.input
			analyzeTop = 5

			var out bytes.Buffer
			if err := runAnalyze(context.Background(), opts, &out); err != nil {
				t.Fatalf("runAnalyze() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("Output missing %q:\n%s", w, out.String())
				}
			}
		})
	}
}

func TestRunAnalyzeAnnotates(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "bright.png")
	writeStill(t, in, color.White)

	oldStderr := os.Stderr
	devNull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	os.Stderr = devNull
	defer func() {
		os.Stderr = oldStderr
		devNull.Close()
	}()

	opts := analyzeDefaults()
	opts.InputPath = in
	opts.Annotate = filepath.Join(dir, "marked.png")
	if err := runAnalyze(context.Background(), opts, &bytes.Buffer{}); err != nil {
		t.Fatalf("runAnalyze() error = %v", err)
	}

	data, err := os.ReadFile(opts.Annotate)
	if err != nil {
		t.Fatalf("Annotated image not written: %v", err)
	}
	if _, err := source.Decode(data, time.Now()); err != nil {
		t.Errorf("Annotated image does not decode: %v", err)
	}
}

func TestAnnotateDrawsMarkers(t *testing.T) {
	f := &types.Frame{Pix: make([]byte, 32*32*4), Width: 32, Height: 32}
	r := types.DetectionResult{
		Spots:      []types.BrightSpot{{X: 0.5, Y: 0.5, Size: 0}},
		Confidence: 0.9,
	}

	img := annotate(f, r)

	// Box half-size is 4 around (16,16); the top-left corner carries the marker
	if got := img.RGBAAt(12, 12); got != markerAlert {
		t.Errorf("Expected alert marker at corner, got %v", got)
	}
	// Inside the box stays untouched
	if got := img.RGBAAt(16, 16); got != (color.RGBA{}) {
		t.Errorf("Expected untouched center, got %v", got)
	}
	// The source frame is not modified
	if f.Pix[(12*32+12)*4] != 0 {
		t.Error("annotate modified the input frame")
	}
}

func TestDrawBoxClipsToBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	// Partially outside: only visible edges are drawn, no panic
	drawBox(img, image.Rect(-4, -4, 4, 4), markerSpot)
	if got := img.RGBAAt(3, 0); got != markerSpot {
		t.Errorf("Expected right edge at (3,0), got %v", got)
	}
	if got := img.RGBAAt(0, 0); got != (color.RGBA{}) {
		t.Errorf("Clipped top-left should stay empty, got %v", got)
	}

	// Fully outside
	drawBox(img, image.Rect(20, 20, 30, 30), markerSpot)
}

func TestPrintSpotTableTop(t *testing.T) {
	spots := []types.BrightSpot{
		{X: 0.1, Y: 0.1, Intensity: 0.5, Size: 0.1},
		{X: 0.2, Y: 0.2, Intensity: 1.0, Size: 1.0},
		{X: 0.3, Y: 0.3, Intensity: 0.8, Size: 0.5},
	}

	var out bytes.Buffer
	printSpotTable(&out, spots, 2)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	// header, separator, two rows, remainder line
	if len(lines) != 5 {
		t.Fatalf("Expected 5 lines, got %d:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[2], "0.200") {
		t.Errorf("Strongest spot should come first, got %q", lines[2])
	}
	if lines[4] != "... and 1 more" {
		t.Errorf("Unexpected remainder line %q", lines[4])
	}
}
