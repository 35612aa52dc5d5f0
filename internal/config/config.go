// Package config loads, validates, and exports pipeline configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides. The key
// pipeline.consumers is read from PHASELINE_PIPELINE_CONSUMERS.
const EnvPrefix = "PHASELINE"

// Config represents the complete pipeline configuration
type Config struct {
	Pipeline Pipeline      `mapstructure:"pipeline" yaml:"pipeline"`
	Logging  LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// Pipeline controls channel sizes, the worker roster, and timing. It is
// fixed for the lifetime of a controller.
type Pipeline struct {
	// RawCapacity is the capacity of the RAW channel (supplier -> processor)
	RawCapacity int `mapstructure:"raw_capacity" yaml:"raw_capacity"`
	// MidCapacity is the capacity of the MID channel (processor -> packer)
	MidCapacity int `mapstructure:"mid_capacity" yaml:"mid_capacity"`
	// ReadyCapacity is the capacity of the READY channel (packer -> consumers)
	ReadyCapacity int `mapstructure:"ready_capacity" yaml:"ready_capacity"`
	// Consumers is the number of consumer workers
	Consumers int `mapstructure:"consumers" yaml:"consumers"`
	// DelayMinMs and DelayMaxMs bound the simulated per-operation work delay.
	// Both zero disables the delay.
	DelayMinMs int `mapstructure:"delay_min_ms" yaml:"delay_min_ms"`
	DelayMaxMs int `mapstructure:"delay_max_ms" yaml:"delay_max_ms"`
	// ShutdownTimeoutMs is how long Stop waits for workers to exit
	ShutdownTimeoutMs int `mapstructure:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Enabled turns on structured logging (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where pipeline.log is written; empty means stderr
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// MetricsConfig controls the Prometheus collector
type MetricsConfig struct {
	// Enabled registers pipeline metrics (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Namespace prefixes every metric name
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// DefaultPipeline returns the stock roster: RAW=5, MID=3, READY=4, three
// consumers, 300-900ms of simulated work, and a 2s shutdown timeout.
func DefaultPipeline() Pipeline {
	return Pipeline{
		RawCapacity:       5,
		MidCapacity:       3,
		ReadyCapacity:     4,
		Consumers:         3,
		DelayMinMs:        300,
		DelayMaxMs:        900,
		ShutdownTimeoutMs: 2000,
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Pipeline: DefaultPipeline(),
		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "phaseline",
		},
	}
}

// DelayRange returns the simulated work delay bounds.
func (p Pipeline) DelayRange() (time.Duration, time.Duration) {
	return time.Duration(p.DelayMinMs) * time.Millisecond, time.Duration(p.DelayMaxMs) * time.Millisecond
}

// ShutdownTimeout returns how long Stop waits for workers.
func (p Pipeline) ShutdownTimeout() time.Duration {
	return time.Duration(p.ShutdownTimeoutMs) * time.Millisecond
}

// Workers returns the total number of worker goroutines the roster runs.
func (p Pipeline) Workers() int {
	return 3 + p.Consumers
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("pipeline.raw_capacity", defaults.Pipeline.RawCapacity)
	v.SetDefault("pipeline.mid_capacity", defaults.Pipeline.MidCapacity)
	v.SetDefault("pipeline.ready_capacity", defaults.Pipeline.ReadyCapacity)
	v.SetDefault("pipeline.consumers", defaults.Pipeline.Consumers)
	v.SetDefault("pipeline.delay_min_ms", defaults.Pipeline.DelayMinMs)
	v.SetDefault("pipeline.delay_max_ms", defaults.Pipeline.DelayMaxMs)
	v.SetDefault("pipeline.shutdown_timeout_ms", defaults.Pipeline.ShutdownTimeoutMs)

	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)

	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.namespace", defaults.Metrics.Namespace)
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// NewViper returns a viper instance with defaults registered and
// PHASELINE_* environment overrides enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadFile reads a YAML config file, applies environment overrides, and
// validates the result. An empty path loads defaults plus environment.
func LoadFile(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return Load(v)
}

// WriteFile exports c as YAML to path, creating parent directories.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
