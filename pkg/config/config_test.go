package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mrivolume/pkg/geometry"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
	if cfg.Processing.NumCores < 1 {
		t.Errorf("Expected at least one core, got %d", cfg.Processing.NumCores)
	}
	if len(cfg.Output.Orientations) != 3 {
		t.Errorf("Expected 3 default orientations, got %v", cfg.Output.Orientations)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Output.Format != "png" {
		t.Errorf("Expected defaults for a missing file, got format %q", cfg.Output.Format)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `processing:
  processor: gpu
  gpuTimeout: 30s
loader:
  sortBy: instanceNumber
  spacing:
    x: 0.5
    y: 0.5
    z: 2
output:
  orientations: [coronal]
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.Processor != "gpu" {
		t.Errorf("Expected processor gpu, got %q", cfg.Processing.Processor)
	}
	if cfg.Processing.GPUTimeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", cfg.Processing.GPUTimeout)
	}
	if cfg.Loader.SortBy != "instanceNumber" {
		t.Errorf("Expected sortBy instanceNumber, got %q", cfg.Loader.SortBy)
	}
	want := geometry.Spacing{X: 0.5, Y: 0.5, Z: 2}
	if cfg.Loader.Spacing != want {
		t.Errorf("Expected spacing %+v, got %+v", want, cfg.Loader.Spacing)
	}
	if len(cfg.Output.Orientations) != 1 || cfg.Output.Orientations[0] != "coronal" {
		t.Errorf("Expected orientations [coronal], got %v", cfg.Output.Orientations)
	}

	// Unset keys keep their defaults.
	if cfg.Output.Format != "png" {
		t.Errorf("Expected default format png, got %q", cfg.Output.Format)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("processing: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	def := DefaultConfig()
	if cfg.Processing.Interpolation != def.Processing.Interpolation {
		t.Errorf("Expected interpolation %q, got %q", def.Processing.Interpolation, cfg.Processing.Interpolation)
	}
	if cfg.Logging.MaxSize != def.Logging.MaxSize {
		t.Errorf("Expected maxSize %d, got %d", def.Logging.MaxSize, cfg.Logging.MaxSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"cores", func(c *Config) { c.Processing.NumCores = 0 }},
		{"processor", func(c *Config) { c.Processing.Processor = "tpu" }},
		{"timeout", func(c *Config) { c.Processing.GPUTimeout = -time.Second }},
		{"format", func(c *Config) { c.Loader.Format = "nifti" }},
		{"windowScaling", func(c *Config) { c.Loader.WindowScaling = "pythonic" }},
		{"spacing", func(c *Config) { c.Loader.Spacing = geometry.Spacing{X: 1, Y: 0, Z: 1} }},
		{"scale", func(c *Config) { c.Output.Scale = 0 }},
		{"orientation", func(c *Config) { c.Output.Orientations = []string{"oblique"} }},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.modify(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Expected validation error, got nil", tt.name)
		}
	}
}
