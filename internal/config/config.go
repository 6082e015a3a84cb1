package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paco7828/smart-humidifier/internal/control"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig      `yaml:"log"`
	Database        DatabaseConfig `yaml:"database"`
	Defaults        DefaultsConfig `yaml:"defaults"`
	Timing          TimingConfig   `yaml:"timing"`
	Retained        RetainedConfig `yaml:"retained"`
	Power           PowerConfig    `yaml:"power"`
	Radio           RadioConfig    `yaml:"radio"`
	Hardware        HardwareConfig `yaml:"hardware"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DefaultsConfig holds the settings used on first boot
type DefaultsConfig struct {
	Mode          string   `yaml:"mode"`
	Threshold     *float64 `yaml:"threshold"`  // nil = default; 0 is a valid value
	Hysteresis    *float64 `yaml:"hysteresis"` // nil = default; 0 is a valid value
	TimedInterval Duration `yaml:"timed_interval"`
	TimedDuration Duration `yaml:"timed_duration"`
}

// TimingConfig contains the control loop cadences
type TimingConfig struct {
	SensorInterval        Duration `yaml:"sensor_interval"`
	SensorRetry           Duration `yaml:"sensor_retry"`
	MinRuntime            Duration `yaml:"min_runtime"`
	DisplayWakeInterval   Duration `yaml:"display_wake_interval"`
	DisplayWakeDuration   Duration `yaml:"display_wake_duration"`
	DisplayUpdateInterval Duration `yaml:"display_update_interval"`
	AdvertisingDuration   Duration `yaml:"advertising_duration"`
	LoopInterval          Duration `yaml:"loop_interval"`
}

// RetainedConfig selects where the sleep snapshot lives
type RetainedConfig struct {
	Backend string `yaml:"backend"` // memory | sqlite
}

// PowerConfig contains deep sleep settings
type PowerConfig struct {
	Enabled  bool     `yaml:"enabled"`
	MinSleep Duration `yaml:"min_sleep"`
}

// RadioConfig contains the wireless configuration service settings
type RadioConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Broker             string   `yaml:"broker"`
	ClientID           string   `yaml:"client_id"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	DeviceName         string   `yaml:"device_name"`
	ServiceUUID        string   `yaml:"service_uuid"`
	CharacteristicUUID string   `yaml:"characteristic_uuid"`
	TopicPrefix        string   `yaml:"topic_prefix"`
	ConnectTimeout     Duration `yaml:"connect_timeout"`
	StatusRPS          float64  `yaml:"status_rps"` // Max status publishes per second
}

// HardwareConfig selects the device platform
type HardwareConfig struct {
	Platform    string `yaml:"platform"` // sim | raspi
	RelayPin    string `yaml:"relay_pin"`
	ButtonPin   string `yaml:"button_pin"`
	SimScript   string `yaml:"sim_script"` // Lua sensor profile; empty = built-in
	SimRelayLog bool   `yaml:"sim_relay_log"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Built-in UUIDs of the configuration service.
const (
	DefaultServiceUUID        = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	DefaultCharacteristicUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, applies defaults and validates
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./humidifier.sqlite"
	}

	// First-boot settings
	if cfg.Defaults.Mode == "" {
		cfg.Defaults.Mode = "autonomous"
	}
	if cfg.Defaults.Threshold == nil {
		th := 50.0
		cfg.Defaults.Threshold = &th
	}
	if cfg.Defaults.Hysteresis == nil {
		h := 5.0
		cfg.Defaults.Hysteresis = &h
	}
	if cfg.Defaults.TimedInterval == 0 {
		cfg.Defaults.TimedInterval = Duration(time.Hour)
	}
	if cfg.Defaults.TimedDuration == 0 {
		cfg.Defaults.TimedDuration = Duration(5 * time.Minute)
	}

	// Timing
	setDuration(&cfg.Timing.SensorInterval, 30*time.Second)
	setDuration(&cfg.Timing.SensorRetry, 2*time.Second)
	setDuration(&cfg.Timing.MinRuntime, 5*time.Minute)
	setDuration(&cfg.Timing.DisplayWakeInterval, 30*time.Minute)
	setDuration(&cfg.Timing.DisplayWakeDuration, 2*time.Minute)
	setDuration(&cfg.Timing.DisplayUpdateInterval, 2*time.Second)
	setDuration(&cfg.Timing.AdvertisingDuration, 2*time.Minute)
	setDuration(&cfg.Timing.LoopInterval, 100*time.Millisecond)

	if cfg.Retained.Backend == "" {
		cfg.Retained.Backend = "memory"
	}
	setDuration(&cfg.Power.MinSleep, time.Second)

	// Radio
	if cfg.Radio.Broker == "" {
		cfg.Radio.Broker = "tcp://localhost:1883"
	}
	if cfg.Radio.DeviceName == "" {
		cfg.Radio.DeviceName = "Smart-humidifier"
	}
	if cfg.Radio.ClientID == "" {
		cfg.Radio.ClientID = strings.ToLower(cfg.Radio.DeviceName)
	}
	if cfg.Radio.ServiceUUID == "" {
		cfg.Radio.ServiceUUID = DefaultServiceUUID
	}
	if cfg.Radio.CharacteristicUUID == "" {
		cfg.Radio.CharacteristicUUID = DefaultCharacteristicUUID
	}
	if cfg.Radio.TopicPrefix == "" {
		cfg.Radio.TopicPrefix = "humidifier"
	}
	setDuration(&cfg.Radio.ConnectTimeout, 10*time.Second)
	if cfg.Radio.StatusRPS == 0 {
		cfg.Radio.StatusRPS = 0.5
	}

	// Hardware
	if cfg.Hardware.Platform == "" {
		cfg.Hardware.Platform = "sim"
	}
	if cfg.Hardware.RelayPin == "" {
		cfg.Hardware.RelayPin = "11"
	}
	if cfg.Hardware.ButtonPin == "" {
		cfg.Hardware.ButtonPin = "13"
	}

	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}
	if cfg.EventBus.Workers <= 0 {
		cfg.EventBus.Workers = 2
	}
	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 64
	}
	setDuration(&cfg.ShutdownTimeout, 5*time.Second)
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

// Settings returns the first-boot control settings
func (cfg *Config) Settings() (control.Settings, error) {
	mode, err := control.ParseMode(cfg.Defaults.Mode)
	if err != nil {
		return control.Settings{}, err
	}
	s := control.Settings{
		Mode:              mode,
		TimedInterval:     cfg.Defaults.TimedInterval.Duration(),
		TimedDuration:     cfg.Defaults.TimedDuration.Duration(),
	}
	if cfg.Defaults.Threshold != nil {
		s.HumidityThreshold = *cfg.Defaults.Threshold
	}
	if cfg.Defaults.Hysteresis != nil {
		s.Hysteresis = *cfg.Defaults.Hysteresis
	}
	return s, nil
}

// Validate checks values that cannot be defaulted
func (cfg *Config) Validate() error {
	s, err := cfg.Settings()
	if err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}

	switch cfg.Retained.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("retained.backend: unknown backend %q", cfg.Retained.Backend)
	}
	switch cfg.Hardware.Platform {
	case "sim", "raspi":
	default:
		return fmt.Errorf("hardware.platform: unknown platform %q", cfg.Hardware.Platform)
	}
	if cfg.Timing.LoopInterval.Duration() > cfg.Timing.DisplayUpdateInterval.Duration() {
		return fmt.Errorf("timing.loop_interval must not exceed timing.display_update_interval")
	}
	if cfg.Radio.StatusRPS < 0 {
		return fmt.Errorf("radio.status_rps must be >= 0")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
