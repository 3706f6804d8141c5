/*
PURPOSE:
  Defines the configuration structure and loading logic for gpu-stress.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Duration per workload (default 30 seconds).
  - Device index and workload selection.

  Implementation-discovered:
  - Needs to support YAML parsing.
  - Needs Environment variable overrides (GPU_STRESS_...), also read from an
    optional .env file. The real environment wins over .env.
  - Workload sizes must fit a CPU backend as well as a real accelerator.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/workload
  - Dependencies: gopkg.in/yaml.v3, github.com/joho/godotenv, go.uber.org/multierr

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - Missing default files fall back to defaults.
  - Validate() reports every problem at once.

USAGE:
  cfg, err := config.Load("gpu_stress.yaml")

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to Config struct, DefaultConfig() and Validate().

RELATED FILES:
  - internal/cli/root.go
*/

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GPU_STRESS_"

// Config represents the full configuration for gpu-stress.
type Config struct {
	DurationPerTest time.Duration `yaml:"duration_per_test"`
	Backend         string        `yaml:"backend"`
	Device          int           `yaml:"device"`
	// Workloads run in this order.
	Workloads []string `yaml:"workloads"`

	MonitorInterval time.Duration `yaml:"monitor_interval"`
	SamplerTimeout  time.Duration `yaml:"sampler_timeout"`
	SMIPath         string        `yaml:"smi_path"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
	NoColor     bool   `yaml:"no_color"`

	MatrixSize     int              `yaml:"matrix_size"`
	MemoryMaxBytes uint64           `yaml:"memory_max_bytes"`
	MixedPrecision MixedPrecision   `yaml:"mixed_precision"`
	TensorCore     TensorCoreConfig `yaml:"tensor_core"`
}

// MixedPrecision sizes the MLP trained by the mixed-precision workload.
type MixedPrecision struct {
	Layers       []int   `yaml:"layers"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
}

// TensorCoreConfig sizes the fp16 matmul.
type TensorCoreConfig struct {
	M int `yaml:"m"`
	N int `yaml:"n"`
	K int `yaml:"k"`
}

// knownWorkloads mirrors workload.Names without importing it.
var knownWorkloads = []string{"matrix_multiply", "memory_bandwidth", "mixed_precision", "tensor_cores"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DurationPerTest: 30 * time.Second,
		Backend:         "cpu",
		Device:          0,
		Workloads:       append([]string(nil), knownWorkloads...),
		MonitorInterval: time.Second,
		SamplerTimeout:  800 * time.Millisecond,
		SMIPath:         "nvidia-smi",
		LogLevel:        "info",
		MatrixSize:      1024,
		MemoryMaxBytes:  512 << 20,
		MixedPrecision: MixedPrecision{
			Layers:       []int{512, 1024, 1024, 512},
			BatchSize:    64,
			LearningRate: 0.01,
		},
		TensorCore: TensorCoreConfig{M: 1024, N: 1024, K: 1024},
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches for default files in order.
// If no file found, defaults are used. Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
	} else {
		for _, name := range []string{"gpu_stress.yaml", "gpu-stress.yaml", ".gpu_stress.yaml"} {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
		}
	}

	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	env, err := godotenv.Read(".env")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := env[key]
		return v, ok
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides fields from GPU_STRESS_* variables.
// GPU_STRESS_DURATION accepts whole seconds or a Go duration string.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs error

	if v, ok := lookup(EnvPrefix + "DURATION"); ok {
		d, err := parseSeconds(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%sDURATION: %w", EnvPrefix, err))
		} else {
			c.DurationPerTest = d
		}
	}
	if v, ok := lookup(EnvPrefix + "BACKEND"); ok {
		c.Backend = v
	}
	if v, ok := lookup(EnvPrefix + "DEVICE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%sDEVICE: %w", EnvPrefix, err))
		} else {
			c.Device = n
		}
	}
	if v, ok := lookup(EnvPrefix + "SMI_PATH"); ok {
		c.SMIPath = v
	}
	if v, ok := lookup(EnvPrefix + "METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return errs
}

func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks every field and returns all problems combined.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if c.DurationPerTest <= 0 {
		add("duration_per_test must be positive, got %s", c.DurationPerTest)
	}
	if c.Device < 0 {
		add("device must be >= 0, got %d", c.Device)
	}
	if c.MonitorInterval <= 0 {
		add("monitor_interval must be positive, got %s", c.MonitorInterval)
	}
	if c.SamplerTimeout <= 0 || c.SamplerTimeout > c.MonitorInterval {
		add("sampler_timeout must be in (0, monitor_interval], got %s", c.SamplerTimeout)
	}
	if len(c.Workloads) == 0 {
		add("at least one workload is required")
	}
	seen := map[string]bool{}
	for _, w := range c.Workloads {
		if !isKnown(w) {
			add("unknown workload %q", w)
		}
		if seen[w] {
			add("workload %q listed twice", w)
		}
		seen[w] = true
	}
	if c.MatrixSize <= 0 {
		add("matrix_size must be positive, got %d", c.MatrixSize)
	}
	if c.MemoryMaxBytes < 4 {
		add("memory_max_bytes must be at least 4, got %d", c.MemoryMaxBytes)
	}
	if len(c.MixedPrecision.Layers) < 2 {
		add("mixed_precision.layers needs at least 2 widths")
	}
	for _, l := range c.MixedPrecision.Layers {
		if l <= 0 {
			add("mixed_precision.layers must be positive, got %d", l)
		}
	}
	if c.MixedPrecision.BatchSize <= 0 {
		add("mixed_precision.batch_size must be positive, got %d", c.MixedPrecision.BatchSize)
	}
	if tc := c.TensorCore; tc.M <= 0 || tc.N <= 0 || tc.K <= 0 {
		add("tensor_core dimensions must be positive, got %dx%dx%d", tc.M, tc.N, tc.K)
	}
	return errs
}

func isKnown(name string) bool {
	for _, k := range knownWorkloads {
		if k == name {
			return true
		}
	}
	return false
}
