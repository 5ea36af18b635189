package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/lenswatch/internal/types"
)

// TuningConfig is the optional JSON file behind --config. Every field is a pointer so a partial
// file only overrides what it names; command-line flags that were set explicitly win over it.
type TuningConfig struct {
	// Detection params
	Sensitivity      *float64 `json:"sensitivity,omitempty"`
	MotionThreshold  *float64 `json:"motion_threshold,omitempty"`
	PatternThreshold *float64 `json:"pattern_threshold,omitempty"`
	Mode             *string  `json:"mode,omitempty"`
	MotionBlockSize  *int     `json:"motion_block_size,omitempty"`

	// Scheduling params
	Interval       *string `json:"interval,omitempty"`        // duration string like "1s"
	CaptureTimeout *string `json:"capture_timeout,omitempty"` // duration string like "5s"
	AlertCooldown  *string `json:"alert_cooldown,omitempty"`  // duration string like "10s"
	MaxWidth       *int    `json:"max_width,omitempty"`

	// Camera params, passed through to the capture side
	ISO          *int     `json:"iso,omitempty"`
	Exposure     *float64 `json:"exposure,omitempty"`
	WhiteBalance *float64 `json:"white_balance,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func inUnit(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
	}
	return nil
}

func positiveDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Sensitivity != nil {
		if *c.Sensitivity < types.MinSensitivity || *c.Sensitivity > types.MaxSensitivity {
			return fmt.Errorf("sensitivity must be between %.1f and %.1f, got %f", types.MinSensitivity, types.MaxSensitivity, *c.Sensitivity)
		}
	}
	if err := inUnit("motion_threshold", c.MotionThreshold); err != nil {
		return err
	}
	if err := inUnit("pattern_threshold", c.PatternThreshold); err != nil {
		return err
	}
	if c.Mode != nil {
		if _, err := types.ParseMode(*c.Mode); err != nil {
			return err
		}
	}
	if c.MotionBlockSize != nil && *c.MotionBlockSize <= 0 {
		return fmt.Errorf("motion_block_size must be positive, got %d", *c.MotionBlockSize)
	}
	if c.MaxWidth != nil && *c.MaxWidth < 0 {
		return fmt.Errorf("max_width must be non-negative, got %d", *c.MaxWidth)
	}

	for name, v := range map[string]*string{
		"interval":        c.Interval,
		"capture_timeout": c.CaptureTimeout,
		"alert_cooldown":  c.AlertCooldown,
	} {
		if err := positiveDuration(name, v); err != nil {
			return err
		}
	}
	if c.Interval != nil && *c.Interval != "" {
		if d, _ := time.ParseDuration(*c.Interval); d == 0 {
			return fmt.Errorf("interval must be positive")
		}
	}

	return nil
}

// ApplySession overlays the detection params onto cfg.
func (c *TuningConfig) ApplySession(cfg *types.SessionConfig) {
	if c.Sensitivity != nil {
		cfg.Sensitivity = types.ClampSensitivity(*c.Sensitivity)
	}
	if c.MotionThreshold != nil {
		cfg.MotionThreshold = *c.MotionThreshold
	}
	if c.PatternThreshold != nil {
		cfg.PatternThreshold = *c.PatternThreshold
	}
	if c.Mode != nil {
		if m, err := types.ParseMode(*c.Mode); err == nil {
			cfg.Mode = m
		}
	}
}

// ApplyCamera overlays the camera params onto s.
func (c *TuningConfig) ApplyCamera(s *types.CameraSettings) {
	if c.ISO != nil {
		s.ISO = *c.ISO
	}
	if c.Exposure != nil {
		s.Exposure = *c.Exposure
	}
	if c.WhiteBalance != nil {
		s.WhiteBalance = *c.WhiteBalance
	}
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetInterval returns the tick interval or def.
func (c *TuningConfig) GetInterval(def time.Duration) time.Duration {
	return durationOr(c.Interval, def)
}

// GetCaptureTimeout returns the capture timeout or def.
func (c *TuningConfig) GetCaptureTimeout(def time.Duration) time.Duration {
	return durationOr(c.CaptureTimeout, def)
}

// GetAlertCooldown returns the alert cooldown or def.
func (c *TuningConfig) GetAlertCooldown(def time.Duration) time.Duration {
	return durationOr(c.AlertCooldown, def)
}

// GetMaxWidth returns the downscale width or def.
func (c *TuningConfig) GetMaxWidth(def int) int {
	if c.MaxWidth == nil {
		return def
	}
	return *c.MaxWidth
}

// GetMotionBlockSize returns the motion block edge or def.
func (c *TuningConfig) GetMotionBlockSize(def int) int {
	if c.MotionBlockSize == nil {
		return def
	}
	return *c.MotionBlockSize
}
