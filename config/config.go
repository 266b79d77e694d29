// Package config loads the tester configuration: hardware endpoints and the
// active test profile. The file is read once at startup; a running system
// only swaps configuration through the lifecycle manager's reload path.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Hardware HardwareConfig `yaml:"hardware"`
	Profile  TestProfile    `yaml:"test_profile"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type HardwareConfig struct {
	MCU          MCUConfig          `yaml:"mcu"`
	Power        PowerConfig        `yaml:"power"`
	LoadCell     LoadCellConfig     `yaml:"loadcell"`
	DigitalInput DigitalInputConfig `yaml:"digital_input"`
	MES          MESConfig          `yaml:"mes"`
}

type MCUConfig struct {
	Port                 string  `yaml:"port"`
	Baud                 int     `yaml:"baud"`
	TimeoutSeconds       float64 `yaml:"timeout_seconds"`
	StatusTimeoutSeconds float64 `yaml:"status_timeout_seconds"`
}

type PowerConfig struct {
	Host           string  `yaml:"host"`
	Port           int     `yaml:"port"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

type LoadCellConfig struct {
	Port           string  `yaml:"port"`
	Baud           int     `yaml:"baud"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

type DigitalInputConfig struct {
	// Driver selects the input backend; "mock" is the only in-tree backend,
	// real boards plug in behind driver.DigitalInput.
	Driver              string  `yaml:"driver"`
	LeftButtonChannel   int     `yaml:"left_button_channel"`
	RightButtonChannel  int     `yaml:"right_button_channel"`
	PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`
	DebounceSeconds     float64 `yaml:"debounce_seconds"`
}

type MESConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Host              string  `yaml:"host"`
	Port              int     `yaml:"port"`
	TimeoutSeconds    float64 `yaml:"timeout_seconds"`
	RetryCount        int     `yaml:"retry_count"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`
}

// TestProfile describes one heating/cooling endurance run. Temperatures are
// degrees Celsius, waits are seconds, matching the unit conventions of the
// bench operators' sheets.
type TestProfile struct {
	ActivationTemperature     float64 `yaml:"activation_temperature"`
	StandbyTemperature        float64 `yaml:"standby_temperature"`
	UpperTemperature          float64 `yaml:"upper_temperature"`
	FanSpeed                  int     `yaml:"fan_speed"`
	Voltage                   float64 `yaml:"voltage"`
	Current                   float64 `yaml:"current"`
	RepeatCount               int     `yaml:"repeat_count"`
	HoldTimeMS                int     `yaml:"hold_time_ms"`
	HeatingWaitSeconds        float64 `yaml:"heating_wait_seconds"`
	CoolingWaitSeconds        float64 `yaml:"cooling_wait_seconds"`
	StabilizationSeconds      float64 `yaml:"stabilization_seconds"`
	SettleSeconds             float64 `yaml:"settle_seconds"`
	PowerStabilizationSeconds float64 `yaml:"power_stabilization_seconds"`
	PowerMonitoring           PowerMonitoringConfig `yaml:"power_monitoring"`
}

type PowerMonitoringConfig struct {
	Enabled         bool    `yaml:"enabled"`
	IntervalSeconds float64 `yaml:"interval_seconds"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (m MCUConfig) Timeout() time.Duration        { return seconds(m.TimeoutSeconds) }
func (m MCUConfig) StatusTimeout() time.Duration  { return seconds(m.StatusTimeoutSeconds) }
func (p PowerConfig) Timeout() time.Duration      { return seconds(p.TimeoutSeconds) }
func (l LoadCellConfig) Timeout() time.Duration   { return seconds(l.TimeoutSeconds) }
func (m MESConfig) Timeout() time.Duration        { return seconds(m.TimeoutSeconds) }
func (m MESConfig) RetryDelay() time.Duration     { return seconds(m.RetryDelaySeconds) }
func (d DigitalInputConfig) PollInterval() time.Duration { return seconds(d.PollIntervalSeconds) }
func (d DigitalInputConfig) Debounce() time.Duration     { return seconds(d.DebounceSeconds) }

func (p TestProfile) HeatingWait() time.Duration        { return seconds(p.HeatingWaitSeconds) }
func (p TestProfile) CoolingWait() time.Duration        { return seconds(p.CoolingWaitSeconds) }
func (p TestProfile) Stabilization() time.Duration      { return seconds(p.StabilizationSeconds) }
func (p TestProfile) Settle() time.Duration             { return seconds(p.SettleSeconds) }
func (p TestProfile) PowerStabilization() time.Duration { return seconds(p.PowerStabilizationSeconds) }
func (p PowerMonitoringConfig) Interval() time.Duration { return seconds(p.IntervalSeconds) }

// Default returns the configuration used when a field is absent from the
// file. Profile values mirror the standard endurance recipe.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Hardware: HardwareConfig{
			MCU: MCUConfig{
				Port:                 "/dev/ttyUSB0",
				Baud:                 115200,
				TimeoutSeconds:       5,
				StatusTimeoutSeconds: 60,
			},
			Power: PowerConfig{
				Host:           "192.168.1.10",
				Port:           5000,
				TimeoutSeconds: 5,
			},
			LoadCell: LoadCellConfig{
				Port:           "/dev/ttyUSB1",
				Baud:           9600,
				TimeoutSeconds: 2,
			},
			DigitalInput: DigitalInputConfig{
				Driver:              "mock",
				LeftButtonChannel:   0,
				RightButtonChannel:  1,
				PollIntervalSeconds: 0.1,
				DebounceSeconds:     2,
			},
			MES: MESConfig{
				Enabled:           false,
				Host:              "127.0.0.1",
				Port:              9090,
				TimeoutSeconds:    5,
				RetryCount:        3,
				RetryDelaySeconds: 1,
			},
		},
		Profile: TestProfile{
			ActivationTemperature:     52.0,
			StandbyTemperature:        38.0,
			UpperTemperature:          80.0,
			FanSpeed:                  10,
			Voltage:                   38.0,
			Current:                   25.0,
			RepeatCount:               1,
			HoldTimeMS:                10000,
			HeatingWaitSeconds:        60,
			CoolingWaitSeconds:        60,
			StabilizationSeconds:      10,
			SettleSeconds:             0.5,
			PowerStabilizationSeconds: 0.5,
			PowerMonitoring: PowerMonitoringConfig{
				Enabled:         true,
				IntervalSeconds: 0.5,
			},
		},
	}
}

// Load reads path on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects profiles the hardware cannot run.
func (c *Config) Validate() error {
	p := c.Profile
	if p.RepeatCount < 1 {
		return fmt.Errorf("test_profile: repeat_count must be >= 1, got %d", p.RepeatCount)
	}
	if p.FanSpeed < 1 || p.FanSpeed > 10 {
		return fmt.Errorf("test_profile: fan_speed must be 1..10, got %d", p.FanSpeed)
	}
	if p.Voltage <= 0 || p.Current <= 0 {
		return fmt.Errorf("test_profile: voltage and current must be positive")
	}
	if p.ActivationTemperature <= p.StandbyTemperature {
		return fmt.Errorf("test_profile: activation_temperature (%.1f) must exceed standby_temperature (%.1f)",
			p.ActivationTemperature, p.StandbyTemperature)
	}
	if p.UpperTemperature < p.ActivationTemperature {
		return fmt.Errorf("test_profile: upper_temperature (%.1f) must be >= activation_temperature (%.1f)",
			p.UpperTemperature, p.ActivationTemperature)
	}
	if p.HoldTimeMS < 0 {
		return fmt.Errorf("test_profile: hold_time_ms must be >= 0")
	}
	if c.Hardware.MCU.TimeoutSeconds <= 0 || c.Hardware.MCU.StatusTimeoutSeconds <= 0 {
		return fmt.Errorf("hardware.mcu: timeouts must be positive")
	}
	if c.Hardware.MES.Enabled && c.Hardware.MES.RetryCount < 1 {
		return fmt.Errorf("hardware.mes: retry_count must be >= 1")
	}
	return nil
}
