// Package config provides configuration loading and management for the MPR
// engine tooling. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"mprengine/pkg/projection"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Engine parameters
	Engine struct {
		// Workers is the projection worker pool size.
		Workers int `yaml:"workers"`

		// QueueDepth bounds the slice request queue (and the number of
		// registered views).
		QueueDepth int `yaml:"queueDepth"`
	} `yaml:"engine"`

	// Projection parameters
	Projection struct {
		// Kernel selects the resampling kernel: "trilinear" or "nearest".
		Kernel string `yaml:"kernel"`

		// DefaultThicknessMM is the slab thickness views start with.
		DefaultThicknessMM float64 `yaml:"defaultThicknessMM"`

		// DefaultMode is the slab combination views start with:
		// "single", "mip", "minip" or "average".
		DefaultMode string `yaml:"defaultMode"`
	} `yaml:"projection"`

	// Viewer parameters
	Viewer struct {
		// JPEGQuality controls saved slice images.
		JPEGQuality int `yaml:"jpegQuality"`

		// WindowLowPercentile and WindowHighPercentile set the intensity
		// percentiles mapped to black and white when rendering.
		WindowLowPercentile  float64 `yaml:"windowLowPercentile"`
		WindowHighPercentile float64 `yaml:"windowHighPercentile"`
	} `yaml:"viewer"`

	// Log parameters
	Log struct {
		// Verbose enables debug-level logging.
		Verbose bool `yaml:"verbose"`
	} `yaml:"log"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Engine.Workers = runtime.NumCPU()
	cfg.Engine.QueueDepth = 16

	cfg.Projection.Kernel = "trilinear"
	cfg.Projection.DefaultThicknessMM = 0
	cfg.Projection.DefaultMode = "single"

	cfg.Viewer.JPEGQuality = 90
	cfg.Viewer.WindowLowPercentile = 0.01
	cfg.Viewer.WindowHighPercentile = 0.99

	cfg.Log.Verbose = false

	return cfg
}

// Kernel parses the configured resampling kernel.
func (c *Config) Kernel() (projection.Kernel, error) {
	return projection.ParseKernel(c.Projection.Kernel)
}

// DefaultMode parses the configured default slab mode.
func (c *Config) DefaultMode() (projection.Mode, error) {
	return projection.ParseMode(c.Projection.DefaultMode)
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
