package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eol.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "test_profile:\n  repeat_count: 3\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Profile.RepeatCount != 3 {
		t.Fatalf("repeat_count = %d, want 3", cfg.Profile.RepeatCount)
	}
	// Untouched fields come from Default.
	if cfg.Profile.ActivationTemperature != 52.0 {
		t.Fatalf("activation_temperature = %v, want default 52.0", cfg.Profile.ActivationTemperature)
	}
	if cfg.Hardware.MCU.Baud != 115200 {
		t.Fatalf("mcu baud = %d, want default 115200", cfg.Hardware.MCU.Baud)
	}
}

func TestDurationAccessors(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"hardware:",
		"  mcu:",
		"    timeout_seconds: 2.5",
		"test_profile:",
		"  heating_wait_seconds: 0.25",
	}, "\n"))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Hardware.MCU.Timeout(); got != 2500*time.Millisecond {
		t.Fatalf("mcu timeout = %v, want 2.5s", got)
	}
	if got := cfg.Profile.HeatingWait(); got != 250*time.Millisecond {
		t.Fatalf("heating wait = %v, want 250ms", got)
	}
}

func TestValidateRejectsBadProfile(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero repeat", "test_profile:\n  repeat_count: 0\n"},
		{"fan out of range", "test_profile:\n  fan_speed: 11\n"},
		{"standby above activation", "test_profile:\n  standby_temperature: 90.0\n"},
		{"upper below activation", "test_profile:\n  upper_temperature: 40.0\n"},
		{"negative voltage", "test_profile:\n  voltage: -1.0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
