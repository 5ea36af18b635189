package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// AlertThreshold is the confidence a result must strictly exceed before the alert dispatcher is invoked.
const AlertThreshold = 0.7

// Sensitivity bounds and step for the IR brightness bar.
const (
	MinSensitivity  = 0.1
	MaxSensitivity  = 0.9
	SensitivityStep = 0.1
)

// Frame is a decoded RGBA pixel buffer captured from the camera.
// Pix is row-major, 4 bytes per pixel (R, G, B, A). Frames are never mutated after capture.
type Frame struct {
	Pix        []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Validate checks that the buffer matches the declared dimensions.
func (f *Frame) Validate() error {
	if f == nil {
		return &DecodeError{Reason: "nil frame"}
	}
	if f.Width <= 0 || f.Height <= 0 {
		return &DecodeError{Reason: fmt.Sprintf("invalid dimensions %dx%d", f.Width, f.Height)}
	}
	if want := f.Width * f.Height * 4; len(f.Pix) != want {
		return &DecodeError{Reason: fmt.Sprintf("buffer is %d bytes, expected %d for %dx%d", len(f.Pix), want, f.Width, f.Height)}
	}
	return nil
}

// RGB returns the colour channels of the pixel at (x, y). The caller is responsible for bounds.
func (f *Frame) RGB(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * 4
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// SameSize reports whether two frames share dimensions.
func (f *Frame) SameSize(o *Frame) bool {
	return f != nil && o != nil && f.Width == o.Width && f.Height == o.Height
}

// Pattern is the coarse signature label assigned to a confirmed bright region.
type Pattern string

const (
	PatternUnknown    Pattern = "unknown"
	PatternLens       Pattern = "lens"
	PatternLEDArray   Pattern = "led_array"
	PatternReflection Pattern = "reflection"
)

// ParsePattern maps a label back onto the closed pattern set.
func ParsePattern(s string) (Pattern, error) {
	switch p := Pattern(strings.ToLower(strings.TrimSpace(s))); p {
	case PatternUnknown, PatternLens, PatternLEDArray, PatternReflection:
		return p, nil
	}
	return PatternUnknown, fmt.Errorf("unknown pattern %q", s)
}

// BrightSpot is one confirmed bright region. Coordinates are fractions of the frame width/height.
type BrightSpot struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Intensity float64 `json:"intensity"`
	Size      float64 `json:"size"`
	Pattern   Pattern `json:"pattern"`
}

// Mode selects which detection pipeline a tick runs.
type Mode string

const (
	ModeIR      Mode = "ir"
	ModeMotion  Mode = "motion"
	ModePattern Mode = "pattern"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{ModeIR, ModeMotion, ModePattern}

// ParseMode accepts the flag spelling of a mode ("ir", "motion", "pattern"), case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeIR, ModeMotion, ModePattern:
		return m, nil
	}
	return "", fmt.Errorf("invalid mode %q (use ir, motion or pattern)", s)
}

func (m Mode) String() string { return string(m) }

// Title is the human form used in status lines ("IR", "Motion", "Pattern").
func (m Mode) Title() string {
	switch m {
	case ModeIR:
		return "IR"
	case ModeMotion:
		return "Motion"
	case ModePattern:
		return "Pattern"
	}
	return string(m)
}

// DetectionResult is produced fresh on every tick.
type DetectionResult struct {
	Spots      []BrightSpot `json:"spots"`
	Confidence float64      `json:"confidence"`
	Mode       Mode         `json:"mode"`
	Tick       uint64       `json:"tick"`
	CapturedAt time.Time    `json:"captured_at"`
}

// NewDetectionResult returns an empty result whose spot slice is non-nil.
func NewDetectionResult(mode Mode) DetectionResult {
	return DetectionResult{Spots: []BrightSpot{}, Mode: mode}
}

// Alerting reports whether the result clears the alert threshold.
func (r DetectionResult) Alerting() bool {
	return r.Confidence > AlertThreshold
}

// SessionConfig holds the runtime-tunable detection parameters.
type SessionConfig struct {
	Sensitivity      float64 `json:"sensitivity"`
	MotionThreshold  float64 `json:"motion_threshold"`
	PatternThreshold float64 `json:"pattern_threshold"`
	Mode             Mode    `json:"mode"`
}

// DefaultSessionConfig returns the tuning a session starts with.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Sensitivity:      0.5,
		MotionThreshold:  0.3,
		PatternThreshold: 0.6,
		Mode:             ModeIR,
	}
}

// Validate ensures all values are inside their documented ranges.
func (c SessionConfig) Validate() error {
	if c.Sensitivity < MinSensitivity || c.Sensitivity > MaxSensitivity {
		return fmt.Errorf("sensitivity must be between %.1f and %.1f, got %v", MinSensitivity, MaxSensitivity, c.Sensitivity)
	}
	if c.MotionThreshold < 0 || c.MotionThreshold > 1 {
		return fmt.Errorf("motion threshold must be between 0.0 and 1.0, got %v", c.MotionThreshold)
	}
	if c.PatternThreshold < 0 || c.PatternThreshold > 1 {
		return fmt.Errorf("pattern threshold must be between 0.0 and 1.0, got %v", c.PatternThreshold)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	return nil
}

// ClampSensitivity snaps v to one decimal and clamps it into [MinSensitivity, MaxSensitivity].
func ClampSensitivity(v float64) float64 {
	if math.IsNaN(v) {
		return MinSensitivity
	}
	v = math.Round(v*10) / 10
	return math.Max(MinSensitivity, math.Min(MaxSensitivity, v))
}

// CameraSettings are handed to the capture side untouched. The engine never reads them.
type CameraSettings struct {
	ISO          int     `json:"iso"`
	Exposure     float64 `json:"exposure"`
	WhiteBalance float64 `json:"white_balance"`
}

// DefaultCameraSettings is the low-light preset: high ISO, negative exposure compensation.
func DefaultCameraSettings() CameraSettings {
	return CameraSettings{ISO: 800, Exposure: -2, WhiteBalance: 0}
}

// Status is the session state machine position.
type Status int

const (
	StatusIdle Status = iota
	StatusDetecting
)

func (s Status) String() string {
	if s == StatusDetecting {
		return "detecting"
	}
	return "idle"
}

// SessionState is the per-session context handed to every pipeline call.
// Previous is the retained frame from the last completed tick, nil on cold start.
type SessionState struct {
	Status   Status
	Previous *Frame
	Config   SessionConfig
}
