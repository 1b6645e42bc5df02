// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestLoad_CreatesDefault verifies first-run config creation.
func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".cellkernel", "cellkernel.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "config file was not created")

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "evaluator", cfg.Kernel.TransformStage)
	assert.Equal(t, 5*time.Minute, cfg.Storage.GCInterval)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Config
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, cfg.Storage.GCInterval, onDisk.Storage.GCInterval)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log:
  level: debug
kernel:
  default_timeout: 30s
  transform_stage: after_lowering
  lowering_flags:
    typed: true
storage:
  in_memory: true
  path: ""
telemetry:
  trace_exporter: otlp
  otlp_endpoint: collector:4317
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Kernel.DefaultTimeout)
	assert.Equal(t, "after_lowering", cfg.Kernel.TransformStage)
	assert.True(t, cfg.Kernel.LoweringFlags["typed"])
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	// untouched fields keep defaults
	assert.Equal(t, "none", cfg.Telemetry.MetricExporter)
	assert.Equal(t, 5*time.Minute, cfg.Storage.GCInterval)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"bad level", "log: {level: loud}", "Config.Log.Level"},
		{"bad stage", "kernel: {transform_stage: sideways}", "Config.Kernel.TransformStage"},
		{"negative timeout", "kernel: {default_timeout: -1s}", "Config.Kernel.DefaultTimeout"},
		{"no storage", "storage: {path: '', in_memory: false}", "Config.Storage.Path"},
		{"bad exporter", "telemetry: {metric_exporter: graphite}", "Config.Telemetry.MetricExporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("log: [unclosed"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidConfig))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	assert.Equal(t, filepath.Join(home, "data"), expandHome("~/data"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "", expandHome(""))
}
