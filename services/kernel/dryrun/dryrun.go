// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dryrun provides an evaluator that transforms cells without
// executing them.
//
// Every name a cell would bind is published to the scope as null unless it
// already has a value, and every module it imports is resolved through the
// session's import hooks. This is enough to drive the kernel end to end from
// the CLI and in tests without embedding a script engine.
package dryrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/cellkernel/services/kernel"
	"github.com/AleutianAI/cellkernel/services/kernel/transform"
	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

// Evaluator is a kernel.Evaluator that never runs code.
type Evaluator struct {
	transformer *transform.Transformer
	echo        bool
	logger      *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTransformer sets the transformer used when the kernel did not
// transform the cell itself.
func WithTransformer(t *transform.Transformer) Option {
	return func(e *Evaluator) {
		if t != nil {
			e.transformer = t
		}
	}
}

// WithEcho writes the code that would run for every cell to the output hook.
func WithEcho(echo bool) Option {
	return func(e *Evaluator) {
		e.echo = echo
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates a dry-run evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		transformer: transform.New(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ kernel.Evaluator = (*Evaluator)(nil)

// Run transforms req.Code (unless already transformed), resolves its
// imports and publishes the declared names.
//
// Outputs:
//
//	*kernel.CellResult - Success with the declared names, or a failure
//	                     carrying a *transform.ParseError, the import error,
//	                     or the context error when the timeout expired.
//	error              - Always nil.
func (e *Evaluator) Run(ctx context.Context, req *kernel.EvalRequest) (*kernel.CellResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	// With a kernel-side transform req.Code is already the code to run;
	// req.Transformed may predate lowering and only supplies names.
	code := req.Code
	res := req.Transformed
	if res == nil {
		var err error
		res, err = e.transformer.Transform(ctx, req.Code)
		if err != nil {
			return &kernel.CellResult{Success: false, Error: err}, nil
		}
		code = res.Code
	}
	if err := ctx.Err(); err != nil {
		return &kernel.CellResult{Success: false, Error: fmt.Errorf("cell %s: %w", req.CellID, err)}, nil
	}

	if e.echo && req.Hooks.Output != nil {
		if _, err := fmt.Fprintln(req.Hooks.Output, code); err != nil {
			e.logger.Debug("echo failed", slog.String("cell_id", req.CellID), slog.String("error", err.Error()))
		}
	}

	if err := e.resolveImports(ctx, req, res.Imports); err != nil {
		return &kernel.CellResult{Success: false, Error: err}, nil
	}

	bind := func(names []string) {
		for _, name := range names {
			if !req.Scope.Has(name) {
				req.Scope[name] = value.Null{}
			}
		}
	}
	bind(res.NonMutableNames)
	bind(res.MutableNames)

	e.logger.Debug("dry run",
		slog.String("cell_id", req.CellID),
		slog.Int("non_mutable", len(res.NonMutableNames)),
		slog.Int("mutable", len(res.MutableNames)))

	return &kernel.CellResult{
		Success:         true,
		NonMutableNames: res.NonMutableNames,
		MutableNames:    res.MutableNames,
	}, nil
}

// resolveImports loads every specifier through the matching hook. A kernel
// without any importer configured is not a failure for a dry run; every
// other import error is.
func (e *Evaluator) resolveImports(ctx context.Context, req *kernel.EvalRequest, specifiers []string) error {
	for _, spec := range specifiers {
		hook := req.Hooks.Import
		if transform.IsLocalSpecifier(spec) {
			hook = req.Hooks.SandboxImport
		}
		if hook == nil {
			continue
		}
		if _, err := hook(ctx, spec); err != nil {
			if errors.Is(err, kernel.ErrImportsNotConfigured) {
				e.logger.Debug("import not resolved", slog.String("cell_id", req.CellID), slog.String("specifier", spec))
				continue
			}
			return fmt.Errorf("import %q: %w", spec, err)
		}
	}
	return nil
}
