// Package config holds run tuning knobs loaded from an optional YAML
// file. Flags override anything set here.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds scan tuning parameters.
type Config struct {
	// BatchSize is the number of candidates per kernel dispatch.
	BatchSize int `yaml:"batch_size"`
	// DeviceIndex selects which detected GPU to use.
	DeviceIndex int `yaml:"device_index"`
	// ForceCPU skips GPU detection and scans on the host device.
	ForceCPU bool `yaml:"force_cpu"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BatchSize:   65536,
		DeviceIndex: 0,
		LogLevel:    "info",
	}
}

// Load reads the config from path. A missing file is not an error: it
// returns Default, so running without a config file just works.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("config: batch_size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.DeviceIndex < 0 {
		return nil, fmt.Errorf("config: device_index must not be negative, got %d", cfg.DeviceIndex)
	}
	return cfg, nil
}
