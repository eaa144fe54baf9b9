// Package config resolves how large a worker pool should be and loads the
// optional JSON or YAML configuration used by the ieubench binary.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mrvillage/ieu/logger"
)

// Config holds the tunable parameters of a pool and its harness.  It is
// loaded once at startup and then treated as read-only.
type Config struct {
	// NumThreads is the number of worker goroutines.  Nil means "resolve
	// from the environment, then from detected parallelism".  Zero is a
	// valid, if useless, pool size.
	NumThreads *int `json:"num_threads,omitempty" yaml:"num_threads,omitempty"`

	// LogLevel is one of debug, info, warn, error or off.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// ChunkSize groups consecutive indices into one claim.  Values below 1
	// mean one index per claim.
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// DashboardAddr is the listen address of the metrics dashboard.  Empty
	// disables it.
	DashboardAddr string `json:"dashboard_addr" yaml:"dashboard_addr"`

	// MetricsNamespace prefixes every exported Prometheus metric.
	MetricsNamespace string `json:"metrics_namespace" yaml:"metrics_namespace"`
}

// DefaultConfig returns a *Config with the worker count left to resolution.
// Each call returns a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		ChunkSize:        1,
		DashboardAddr:    "",
		MetricsNamespace: "ieu",
	}
}

// LoadConfig reads filename and decodes it over DefaultConfig.  The format is
// chosen by extension: .json, or .yaml/.yml.  Unknown fields are rejected in
// both formats to catch typos early.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename) // #nosec G304 – filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode %q: %w", filename, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document leaves the defaults untouched.
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode %q: %w", filename, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported format %q for %q", ext, filename)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.NumThreads != nil && *c.NumThreads < 0 {
		return fmt.Errorf("config: num_threads must be non-negative, got %d", *c.NumThreads)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("config: chunk_size must be non-negative, got %d", c.ChunkSize)
	}
	return nil
}

// WorkerCount returns the configured worker count, or the environment-derived
// count when none is configured.
func (c *Config) WorkerCount() int {
	if c.NumThreads != nil {
		return *c.NumThreads
	}
	return NumThreads()
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() logger.Level {
	lvl, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return logger.LevelInfo
	}
	return lvl
}
