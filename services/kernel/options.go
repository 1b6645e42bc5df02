// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"log/slog"
	"maps"
	"time"

	"github.com/AleutianAI/cellkernel/pkg/config"
	"github.com/AleutianAI/cellkernel/services/kernel/transform"
)

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithLowerer installs a surface-syntax lowering stage.
func WithLowerer(l Lowerer) Option {
	return func(k *Kernel) {
		k.lowerer = l
	}
}

// WithLoweringFlags sets the feature flags passed to the lowering stage.
func WithLoweringFlags(flags map[string]bool) Option {
	return func(k *Kernel) {
		k.loweringFlags = maps.Clone(flags)
	}
}

// WithDefaultTimeout sets the timeout used when ExecOptions.Timeout is zero.
// Zero or negative means no timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(k *Kernel) {
		if d < 0 {
			d = 0
		}
		k.defaultTimeout = d
	}
}

// WithTransformStage selects where the transformer runs.
func WithTransformStage(stage TransformStage) Option {
	return func(k *Kernel) {
		k.stage = stage
	}
}

// WithTransformer sets the transformer used by the kernel-side stages.
func WithTransformer(t *transform.Transformer) Option {
	return func(k *Kernel) {
		if t != nil {
			k.transformer = t
		}
	}
}

// WithImporter sets the resolver behind Hooks.Import.
func WithImporter(i Importer) Option {
	return func(k *Kernel) {
		k.importer = i
	}
}

// WithSandboxImporter sets the resolver behind Hooks.SandboxImport.
func WithSandboxImporter(i SandboxImporter) Option {
	return func(k *Kernel) {
		k.sandboxImporter = i
	}
}

// WithSnapshotStore enables SaveSnapshot and RestoreSnapshot.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(k *Kernel) {
		k.snapshots = s
	}
}

// WithIdentifierValidator replaces the binding-name check used by
// InjectBindings.
func WithIdentifierValidator(v IdentifierValidator) Option {
	return func(k *Kernel) {
		if v != nil {
			k.validIdentifier = v
		}
	}
}

// FromConfig maps the kernel section of the configuration file to options.
//
// Outputs:
//
//	[]Option - Options to pass to New, after any caller-specific ones.
//	error    - Non-nil if the transform stage name is unknown.
func FromConfig(cfg config.KernelConfig) ([]Option, error) {
	stage, err := ParseTransformStage(cfg.TransformStage)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithDefaultTimeout(cfg.DefaultTimeout),
		WithTransformStage(stage),
		WithLoweringFlags(cfg.LoweringFlags),
	}, nil
}
