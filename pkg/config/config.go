// Package config provides configuration loading and management for mrivolume.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"mrivolume/pkg/geometry"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// Processor selects where interpolated slices are computed: cpu or gpu
		Processor string `yaml:"processor"`

		// Interpolation is none or bilinear
		Interpolation string `yaml:"interpolation"`

		// GPUTimeout bounds each GPU readback; 0 waits indefinitely
		GPUTimeout time.Duration `yaml:"gpuTimeout"`
	} `yaml:"processing"`

	// Loader parameters
	Loader struct {
		// SortBy is the slice ordering key
		SortBy string `yaml:"sortBy"`

		// Format is the input type: dicom or images
		Format string `yaml:"format"`

		// Spacing overrides the voxel spacing found in the files when non-zero
		Spacing geometry.Spacing `yaml:"spacing"`

		// WindowScaling is voi (rescale and first window) or raw
		WindowScaling string `yaml:"windowScaling"`
	} `yaml:"loader"`

	// Output parameters
	Output struct {
		// Dir is the directory extracted slices are written to
		Dir string `yaml:"dir"`

		// Format is the image encoding: png, jpeg, tiff or bmp
		Format string `yaml:"format"`

		// Scale resizes exported images
		Scale float64 `yaml:"scale"`

		// Orientations lists the planes to export
		Orientations []string `yaml:"orientations"`

		// Compare runs both processors and reports how far they differ
		Compare bool `yaml:"compare"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is debug, info, warn or error
		Level string `yaml:"level"`

		// File enables a rotating log file instead of stderr
		File string `yaml:"file"`

		// MaxSize is the log file size in megabytes before rotation
		MaxSize int `yaml:"maxSize"`

		// MaxAge is the number of days rotated files are kept
		MaxAge int `yaml:"maxAge"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.Processor = "cpu"
	cfg.Processing.Interpolation = "bilinear"

	cfg.Loader.SortBy = "imagePositionPatient"
	cfg.Loader.Format = "dicom"
	cfg.Loader.WindowScaling = "voi"

	cfg.Output.Dir = "slices"
	cfg.Output.Format = "png"
	cfg.Output.Scale = 1
	cfg.Output.Orientations = []string{"axial", "coronal", "sagittal"}

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 7

	return cfg
}

// Validate checks values that cannot be checked by the YAML decoder
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	switch c.Processing.Processor {
	case "cpu", "gpu":
	default:
		return fmt.Errorf("processing.processor must be cpu or gpu, got %q", c.Processing.Processor)
	}
	if c.Processing.GPUTimeout < 0 {
		return fmt.Errorf("processing.gpuTimeout must not be negative, got %v", c.Processing.GPUTimeout)
	}
	switch c.Loader.Format {
	case "dicom", "images":
	default:
		return fmt.Errorf("loader.format must be dicom or images, got %q", c.Loader.Format)
	}
	switch c.Loader.WindowScaling {
	case "voi", "raw":
	default:
		return fmt.Errorf("loader.windowScaling must be voi or raw, got %q", c.Loader.WindowScaling)
	}
	if !c.Loader.Spacing.IsZero() {
		if err := c.Loader.Spacing.Validate(); err != nil {
			return fmt.Errorf("loader.spacing: %w", err)
		}
	}
	if c.Output.Scale <= 0 {
		return fmt.Errorf("output.scale must be positive, got %g", c.Output.Scale)
	}
	for _, name := range c.Output.Orientations {
		if _, err := geometry.ParseOrientation(name); err != nil {
			return fmt.Errorf("output.orientations: %w", err)
		}
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
