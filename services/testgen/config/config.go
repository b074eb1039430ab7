// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed defaults.yaml
var defaultConfigYAML []byte

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full engine configuration. Values come from three layers,
// each overriding the previous: the embedded defaults.yaml, an optional
// config file passed to LoadFile, and RORA_* environment variables.
//
// # Thread Safety
//
// Immutable after Load; safe for concurrent reads.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Registry   RegistryConfig   `yaml:"registry"`
	Runner     RunnerConfig     `yaml:"runner"`
	Generation GenerationConfig `yaml:"generation"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the host:port the engine binds to. Env: RORA_LISTEN_ADDR.
	ListenAddr string `yaml:"listen_addr"`

	// DebugTracing enables the stdout trace exporter. Env: RORA_DEBUG_TRACING.
	DebugTracing bool `yaml:"debug_tracing"`
}

// RegistryConfig holds the binding store settings.
type RegistryConfig struct {
	// Dir is the Badger database directory. Env: RORA_REGISTRY_DIR.
	Dir string `yaml:"dir"`

	// TestRoot is the directory name test files are placed under,
	// relative to the project root. Env: RORA_TEST_ROOT.
	TestRoot string `yaml:"test_root"`

	// DebounceMS is the persistence debounce window in milliseconds.
	// Env: RORA_REGISTRY_DEBOUNCE_MS.
	DebounceMS int `yaml:"debounce_ms"`
}

// RunnerConfig holds the pytest execution settings.
type RunnerConfig struct {
	// Python is the interpreter binary name or path. Env: RORA_PYTHON.
	Python string `yaml:"python"`

	// TimeoutSeconds bounds a single test run. Env: RORA_RUNNER_TIMEOUT_SECONDS.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Framework selects the test style for generation: "pytest" or "unittest".
	// Env: RORA_FRAMEWORK.
	Framework string `yaml:"framework"`
}

// GenerationConfig holds the LLM settings for test generation.
type GenerationConfig struct {
	// Provider is the LLM backend: "anthropic", "openai", or "googleai".
	// Env: RORA_LLM_PROVIDER.
	Provider string `yaml:"provider"`

	// Model is the provider-specific model identifier. Empty selects the
	// provider's default. Env: RORA_LLM_MODEL.
	Model string `yaml:"model"`

	// BaseURL is an optional endpoint override for OpenAI-compatible
	// gateways. Env: RORA_LLM_BASE_URL.
	BaseURL string `yaml:"base_url"`

	// MaxRetries is how many times a syntactically invalid generation is
	// retried before giving up. Env: RORA_GENERATION_MAX_RETRIES.
	MaxRetries int `yaml:"max_retries"`

	// RedactSource scrubs credential-shaped strings from source code before
	// it is sent to a cloud provider. Env: RORA_REDACT_SOURCE.
	RedactSource bool `yaml:"redact_source"`
}

// Debounce returns the registry debounce window as a duration.
func (r RegistryConfig) Debounce() time.Duration {
	return time.Duration(r.DebounceMS) * time.Millisecond
}

// Timeout returns the runner timeout as a duration.
func (r RunnerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// =============================================================================
// Loading
// =============================================================================

// Load builds the configuration from the embedded defaults and RORA_*
// environment variables.
//
// # Outputs
//
//   - *Config: The resolved configuration. Never nil on success.
//   - error: Non-nil if the defaults fail to parse or validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile builds the configuration from the embedded defaults, an optional
// YAML file, and RORA_* environment variables, in that override order.
//
// # Inputs
//
//   - path: Config file path. Empty skips the file layer. A missing file at
//     a non-empty path is an error.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults.yaml: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		slog.Info("configuration file loaded", slog.String("path", path))
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	envStr("RORA_LISTEN_ADDR", &cfg.Server.ListenAddr)
	envBool("RORA_DEBUG_TRACING", &cfg.Server.DebugTracing)

	envStr("RORA_REGISTRY_DIR", &cfg.Registry.Dir)
	envStr("RORA_TEST_ROOT", &cfg.Registry.TestRoot)
	envInt("RORA_REGISTRY_DEBOUNCE_MS", &cfg.Registry.DebounceMS)

	envStr("RORA_PYTHON", &cfg.Runner.Python)
	envInt("RORA_RUNNER_TIMEOUT_SECONDS", &cfg.Runner.TimeoutSeconds)
	envStr("RORA_FRAMEWORK", &cfg.Runner.Framework)

	envStr("RORA_LLM_PROVIDER", &cfg.Generation.Provider)
	envStr("RORA_LLM_MODEL", &cfg.Generation.Model)
	envStr("RORA_LLM_BASE_URL", &cfg.Generation.BaseURL)
	envInt("RORA_GENERATION_MAX_RETRIES", &cfg.Generation.MaxRetries)
	envBool("RORA_REDACT_SOURCE", &cfg.Generation.RedactSource)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-integer environment override",
			slog.String("var", key),
			slog.String("value", v),
		)
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring non-boolean environment override",
			slog.String("var", key),
			slog.String("value", v),
		)
		return
	}
	*dst = b
}

func (c *Config) validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr must not be empty")
	}
	if c.Registry.TestRoot == "" {
		return fmt.Errorf("config: registry.test_root must not be empty")
	}
	if c.Registry.DebounceMS < 0 {
		return fmt.Errorf("config: registry.debounce_ms must not be negative, got %d", c.Registry.DebounceMS)
	}
	if c.Runner.Python == "" {
		return fmt.Errorf("config: runner.python must not be empty")
	}
	if c.Runner.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: runner.timeout_seconds must be positive, got %d", c.Runner.TimeoutSeconds)
	}
	switch c.Runner.Framework {
	case "pytest", "unittest":
	default:
		return fmt.Errorf("config: runner.framework must be pytest or unittest, got %q", c.Runner.Framework)
	}
	if c.Generation.MaxRetries < 0 {
		return fmt.Errorf("config: generation.max_retries must not be negative, got %d", c.Generation.MaxRetries)
	}
	return nil
}
