// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RORA_LISTEN_ADDR", "RORA_DEBUG_TRACING",
		"RORA_REGISTRY_DIR", "RORA_TEST_ROOT", "RORA_REGISTRY_DEBOUNCE_MS",
		"RORA_PYTHON", "RORA_RUNNER_TIMEOUT_SECONDS", "RORA_FRAMEWORK",
		"RORA_LLM_PROVIDER", "RORA_LLM_MODEL", "RORA_LLM_BASE_URL",
		"RORA_GENERATION_MAX_RETRIES", "RORA_REDACT_SOURCE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_EmbeddedDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8321", cfg.Server.ListenAddr)
	assert.False(t, cfg.Server.DebugTracing)
	assert.Equal(t, "tests", cfg.Registry.TestRoot)
	assert.Equal(t, 500*time.Millisecond, cfg.Registry.Debounce())
	assert.Equal(t, "python3", cfg.Runner.Python)
	assert.Equal(t, 60*time.Second, cfg.Runner.Timeout())
	assert.Equal(t, "pytest", cfg.Runner.Framework)
	assert.Equal(t, "anthropic", cfg.Generation.Provider)
	assert.Equal(t, 2, cfg.Generation.MaxRetries)
	assert.True(t, cfg.Generation.RedactSource)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RORA_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("RORA_RUNNER_TIMEOUT_SECONDS", "15")
	t.Setenv("RORA_REDACT_SOURCE", "false")
	t.Setenv("RORA_FRAMEWORK", "unittest")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, 15*time.Second, cfg.Runner.Timeout())
	assert.False(t, cfg.Generation.RedactSource)
	assert.Equal(t, "unittest", cfg.Runner.Framework)
}

func TestLoad_MalformedEnvValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("RORA_RUNNER_TIMEOUT_SECONDS", "soon")
	t.Setenv("RORA_REDACT_SOURCE", "yes please")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Runner.TimeoutSeconds)
	assert.True(t, cfg.Generation.RedactSource)
}

func TestLoadFile_OverridesDefaultsBeforeEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RORA_PYTHON", "python3.12")

	path := filepath.Join(t.TempDir(), "engine.yaml")
	doc := "runner:\n  python: \"python3.11\"\n  timeout_seconds: 30\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// The env layer wins over the file layer.
	assert.Equal(t, "python3.12", cfg.Runner.Python)
	assert.Equal(t, 30, cfg.Runner.TimeoutSeconds)
	// Untouched sections keep their defaults.
	assert.Equal(t, ":8321", cfg.Server.ListenAddr)
}

func TestLoadFile_MissingFileFails(t *testing.T) {
	clearEnv(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	clearEnv(t)

	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"zero timeout", "RORA_RUNNER_TIMEOUT_SECONDS", "0"},
		{"unknown framework", "RORA_FRAMEWORK", "nose"},
		{"negative debounce", "RORA_REGISTRY_DEBOUNCE_MS", "-5"},
		{"negative retries", "RORA_GENERATION_MAX_RETRIES", "-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
