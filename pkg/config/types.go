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
	"os"
	"path/filepath"
	"time"
)

// Config is the cellkernel configuration file.
type Config struct {
	// Log: verbosity and destinations
	Log LogConfig `yaml:"log"`

	// Kernel: scheduler and pipeline settings
	Kernel KernelConfig `yaml:"kernel"`

	// Storage: badger database for snapshots and sandbox modules
	Storage StorageConfig `yaml:"storage"`

	// Telemetry: OpenTelemetry exporters
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"` // e.g. info
	JSON  bool   `yaml:"json"`                                         // JSON on stderr
	Dir   string `yaml:"dir"`                                          // empty disables the log file
}

type KernelConfig struct {
	// DefaultTimeout applies when an execution sets none. 0 means no timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout" validate:"gte=0"`

	// TransformStage is one of evaluator, before_lowering, after_lowering.
	TransformStage string `yaml:"transform_stage" validate:"oneof=evaluator before_lowering after_lowering"`

	// LoweringFlags enables extended surface-syntax features by name.
	LoweringFlags map[string]bool `yaml:"lowering_flags"`
}

type StorageConfig struct {
	Path       string        `yaml:"path" validate:"required_without=InMemory"` // e.g. ~/.cellkernel/data
	InMemory   bool          `yaml:"in_memory"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"` // value log GC, 0 disables
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
}

// DefaultDir returns ~/.cellkernel, or .cellkernel when the home directory
// is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cellkernel"
	}
	return filepath.Join(home, ".cellkernel")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "cellkernel.yaml")
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level: "info",
		},
		Kernel: KernelConfig{
			TransformStage: "evaluator",
			LoweringFlags:  map[string]bool{},
		},
		Storage: StorageConfig{
			Path:       filepath.Join(DefaultDir(), "data"),
			GCInterval: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}
