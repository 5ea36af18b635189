package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/lenswatch/internal/types"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadTuningConfig(t *testing.T) {
	path := writeConfig(t, "tuning.json", `{
  "sensitivity": 0.7,
  "mode": "motion",
  "motion_threshold": 0.15,
  "motion_block_size": 8,
  "interval": "500ms",
  "alert_cooldown": "30s",
  "iso": 1600
}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	session := types.DefaultSessionConfig()
	cfg.ApplySession(&session)
	if session.Sensitivity != 0.7 || session.Mode != types.ModeMotion || session.MotionThreshold != 0.15 {
		t.Errorf("Unexpected session config after overlay: %+v", session)
	}
	// Untouched fields keep their defaults
	if session.PatternThreshold != 0.6 {
		t.Errorf("Expected PatternThreshold default 0.6, got %f", session.PatternThreshold)
	}

	camera := types.DefaultCameraSettings()
	cfg.ApplyCamera(&camera)
	if camera.ISO != 1600 || camera.Exposure != -2 {
		t.Errorf("Unexpected camera settings after overlay: %+v", camera)
	}

	if got := cfg.GetInterval(time.Second); got != 500*time.Millisecond {
		t.Errorf("GetInterval() = %v, want 500ms", got)
	}
	if got := cfg.GetAlertCooldown(0); got != 30*time.Second {
		t.Errorf("GetAlertCooldown() = %v, want 30s", got)
	}
	if got := cfg.GetCaptureTimeout(5 * time.Second); got != 5*time.Second {
		t.Errorf("GetCaptureTimeout() = %v, want default 5s", got)
	}
	if got := cfg.GetMotionBlockSize(16); got != 8 {
		t.Errorf("GetMotionBlockSize() = %d, want 8", got)
	}
	if got := cfg.GetMaxWidth(0); got != 0 {
		t.Errorf("GetMaxWidth() = %d, want default 0", got)
	}
}

func TestEmptyTuningConfigKeepsDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	session := types.DefaultSessionConfig()
	cfg.ApplySession(&session)
	if session != types.DefaultSessionConfig() {
		t.Errorf("Empty config changed session defaults: %+v", session)
	}
	if cfg.GetInterval(time.Second) != time.Second {
		t.Error("Empty config changed the interval")
	}
}

func TestLoadTuningConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"Wrong extension", "tuning.yaml", `{}`, ".json extension"},
		{"Bad JSON", "tuning.json", `{"sensitivity": }`, "parse"},
		{"Sensitivity out of range", "tuning.json", `{"sensitivity": 0.95}`, "sensitivity"},
		{"Threshold out of range", "tuning.json", `{"motion_threshold": 1.5}`, "motion_threshold"},
		{"Unknown mode", "tuning.json", `{"mode": "thermal"}`, "invalid mode"},
		{"Bad interval", "tuning.json", `{"interval": "soon"}`, "interval"},
		{"Zero interval", "tuning.json", `{"interval": "0s"}`, "interval must be positive"},
		{"Negative cooldown", "tuning.json", `{"alert_cooldown": "-1s"}`, "alert_cooldown"},
		{"Zero block size", "tuning.json", `{"motion_block_size": 0}`, "motion_block_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTuningConfig(writeConfig(t, tt.file, tt.body))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadTuningConfig_TooLarge(t *testing.T) {
	path := writeConfig(t, "big.json", `{"sensitivity": 0.5, "pad": "`+strings.Repeat("x", 1024*1024)+`"}`)
	if _, err := LoadTuningConfig(path); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected size error, got %v", err)
	}
}

func TestLoadTuningConfig_Missing(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}
