package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for config validation.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

type Config struct {
	Audio    AudioConfig    `json:"audio"`
	Recorder RecorderConfig `json:"recorder"`
	Monitor  bool           `json:"monitor"`
	LogLevel string         `json:"log_level"`
}

type AudioConfig struct {
	// DeviceIndex selects an input device by its enumeration index.
	// -1 means the default input device.
	DeviceIndex   int  `json:"device_index" validate:"gte=-1"`
	SampleRate    int  `json:"sample_rate" validate:"gt=0"`
	Stereo        bool `json:"stereo"`
	FirstChannel  int  `json:"first_channel" validate:"gte=0"`
	SecondChannel int  `json:"second_channel" validate:"gte=0"`
}

type RecorderConfig struct {
	Threshold         float64 `json:"threshold" validate:"gt=0,lte=1"`
	SilenceTimeoutSec float64 `json:"silence_timeout_sec" validate:"gt=0"`
	OutputDir         string  `json:"output_dir" validate:"required"`
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	path := configPath()

	cfg := Default()

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			DeviceIndex:   -1,
			SampleRate:    44100,
			Stereo:        false,
			FirstChannel:  0,
			SecondChannel: 1,
		},
		Recorder: RecorderConfig{
			Threshold:         0.01,
			SilenceTimeoutSec: 1.0,
			OutputDir:         "recordings",
		},
		Monitor:  false,
		LogLevel: "info",
	}
}

// Validate checks all numeric ranges. The returned error names the first
// offending field and wraps the full validator.ValidationErrors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s: %w", verrs[0].Namespace(), err)
		}
		return err
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "autosampler", "config.json")
}
