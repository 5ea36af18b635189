package types

import (
	"errors"
	"io"
	"testing"
)

func TestClampSensitivity(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.5, 0.5},
		{0.0, 0.1},
		{-3, 0.1},
		{1.7, 0.9},
		{0.30000000000000004, 0.3},
		{0.94, 0.9},
		{0.14, 0.1},
	}
	for _, tt := range tests {
		if got := ClampSensitivity(tt.in); got != tt.want {
			t.Errorf("ClampSensitivity(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, in := range []string{"ir", "IR", " Motion ", "pattern"} {
		if _, err := ParseMode(in); err != nil {
			t.Errorf("ParseMode(%q) unexpected error: %v", in, err)
		}
	}
	if _, err := ParseMode("thermal"); err == nil {
		t.Error("Expected error for unsupported mode")
	}
}

func TestParsePattern(t *testing.T) {
	tests := []struct {
		in   string
		want Pattern
	}{
		{"lens", PatternLens},
		{" LED_ARRAY ", PatternLEDArray},
		{"reflection", PatternReflection},
		{"unknown", PatternUnknown},
	}
	for _, tt := range tests {
		got, err := ParsePattern(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParsePattern(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if got, err := ParsePattern("retina"); err == nil || got != PatternUnknown {
		t.Errorf("ParsePattern(retina) = %v, %v; want unknown with error", got, err)
	}
}

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		wantErr bool
	}{
		{"Valid 2x2", &Frame{Pix: make([]byte, 16), Width: 2, Height: 2}, false},
		{"Nil frame", nil, true},
		{"Zero width", &Frame{Pix: nil, Width: 0, Height: 2}, true},
		{"Short buffer", &Frame{Pix: make([]byte, 15), Width: 2, Height: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var de *DecodeError
			if err != nil && !errors.As(err, &de) {
				t.Errorf("Expected *DecodeError, got %T", err)
			}
		})
	}
}

func TestSessionConfigValidate(t *testing.T) {
	if err := DefaultSessionConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := DefaultSessionConfig()
	bad.MotionThreshold = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for motion threshold > 1")
	}
	bad = DefaultSessionConfig()
	bad.Sensitivity = 0.95
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for sensitivity > 0.9")
	}
}

func TestCaptureErrorUnwrap(t *testing.T) {
	err := error(&CaptureError{Err: io.EOF})
	if !errors.Is(err, io.EOF) {
		t.Error("CaptureError should unwrap to its cause")
	}
}

func TestNewDetectionResultNeverNil(t *testing.T) {
	r := NewDetectionResult(ModeMotion)
	if r.Spots == nil {
		t.Fatal("Spots must be non-nil")
	}
	if r.Alerting() {
		t.Error("Empty result must not alert")
	}
}
