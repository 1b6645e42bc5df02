// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform rewrites one notebook cell so its top-level bindings
// persist on a shared scope object.
//
// A cell is parsed as a standalone JavaScript program (top-level await is
// allowed). Only depth-0 statements are considered: declarations, imports
// and exports are rewritten to publish their bindings onto the scope
// (`scope.x = x;`), while anything nested inside a block, loop, function
// or try/catch is copied byte-for-byte.
//
// The transformer is stateless. It knows nothing about sessions; the kernel
// or an evaluator decides what the scope object actually is.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"go.opentelemetry.io/otel/codes"
)

// DefaultMaxSourceSize is the largest cell accepted by default (1 MiB).
const DefaultMaxSourceSize = 1 << 20

// Names holds the identifiers emitted into rewritten code.
type Names struct {
	// Scope is the identifier of the persistent scope object. Default: "scope".
	Scope string

	// ImportHook is the function called for bare module specifiers.
	// Default: "__import__".
	ImportHook string

	// SandboxImportHook is the function called for "./", "../" and "/"
	// specifiers, resolved against the session's sandbox root.
	// Default: "__importLocal__".
	SandboxImportHook string

	// Exports is the identifier of the session's export-merge target used by
	// `export * from`. Default: "__exports__".
	Exports string
}

// DefaultNames returns the identifiers used when no override is given.
func DefaultNames() Names {
	return Names{
		Scope:             "scope",
		ImportHook:        "__import__",
		SandboxImportHook: "__importLocal__",
		Exports:           "__exports__",
	}
}

// Result is the outcome of transforming one cell.
type Result struct {
	// Code is the rewritten cell source.
	Code string `json:"code"`

	// NonMutableNames are names newly bound by const declarations and imports.
	NonMutableNames []string `json:"nonMutableNames"`

	// MutableNames are names newly bound by let/var, function and class
	// declarations, and default/namespace re-exports.
	MutableNames []string `json:"mutableNames"`

	// Imports are the module specifiers the rewritten code loads, in source
	// order without duplicates.
	Imports []string `json:"imports,omitempty"`
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithNames overrides the emitted identifiers. Empty fields keep defaults.
func WithNames(n Names) Option {
	return func(t *Transformer) {
		if n.Scope != "" {
			t.names.Scope = n.Scope
		}
		if n.ImportHook != "" {
			t.names.ImportHook = n.ImportHook
		}
		if n.SandboxImportHook != "" {
			t.names.SandboxImportHook = n.SandboxImportHook
		}
		if n.Exports != "" {
			t.names.Exports = n.Exports
		}
	}
}

// WithMaxSourceSize sets the largest accepted cell in bytes.
func WithMaxSourceSize(bytes int) Option {
	return func(t *Transformer) {
		if bytes > 0 {
			t.maxSourceSize = bytes
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transformer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transformer rewrites cells. The zero value is not usable; call New.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Transform call creates its own
//	tree-sitter parser.
type Transformer struct {
	names         Names
	maxSourceSize int
	logger        *slog.Logger
}

// New creates a Transformer.
func New(opts ...Option) *Transformer {
	t := &Transformer{
		names:         DefaultNames(),
		maxSourceSize: DefaultMaxSourceSize,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Names returns the identifiers this transformer emits.
func (t *Transformer) Names() Names {
	return t.names
}

var defaultTransformer = New()

// Transform rewrites source with the default Transformer.
func Transform(source string) (*Result, error) {
	return defaultTransformer.Transform(context.Background(), source)
}

// Transform rewrites one cell.
//
// Description:
//
//	Parses source as a standalone program and rewrites each top-level
//	declaration, import and export so that the names it binds are also
//	published on the scope object. Edits are spliced back in source order;
//	every byte outside a rewritten top-level statement is preserved.
//
// Inputs:
//
//	ctx    - Context for cancellation. Checked before and after parsing.
//	source - The cell source.
//
// Outputs:
//
//	*Result - Rewritten code and declared names. If nothing needed
//	          rewriting, Code == source and both name lists are empty.
//	error   - *ParseError for invalid syntax (never a partial result),
//	          ErrSourceTooLarge, or a context error.
//
// Example:
//
//	res, err := transform.New().Transform(ctx, "const x = 1;")
//	// res.Code            == "const x = 1; scope.x = x;"
//	// res.NonMutableNames == []string{"x"}
func (t *Transformer) Transform(ctx context.Context, source string) (*Result, error) {
	ctx, span := startTransformSpan(ctx, len(source))
	defer span.End()
	start := time.Now()

	res, err := t.transform(ctx, source)

	recordTransformMetrics(ctx, time.Since(start), res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	setTransformSpanResult(span, res)
	return res, nil
}

func (t *Transformer) transform(ctx context.Context, source string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("transform canceled before start: %w", err)
	}
	if len(source) > t.maxSourceSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrSourceTooLarge, len(source), t.maxSourceSize)
	}
	if !utf8.ValidString(source) {
		return nil, &ParseError{Message: "source is not valid UTF-8"}
	}

	content := []byte(source)
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("transform canceled: %w", ctxErr)
		}
		return nil, &ParseError{Message: "parser failed", Cause: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, &ParseError{Message: "parser returned no syntax tree"}
	}
	if root.HasError() {
		return nil, syntaxError(root, content)
	}

	c := &collector{names: t.names}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		c.rewrite(classify(root.NamedChild(i), content))
	}

	if len(c.edits) == 0 {
		return &Result{Code: source, NonMutableNames: []string{}, MutableNames: []string{}}, nil
	}

	res := &Result{
		Code:            c.splice(content),
		NonMutableNames: dedupe(c.nonMutable),
		MutableNames:    dedupe(c.mutable),
		Imports:         dedupe(c.imports),
	}
	t.logger.Debug("cell transformed",
		slog.Int("edits", len(c.edits)),
		slog.Int("non_mutable", len(res.NonMutableNames)),
		slog.Int("mutable", len(res.MutableNames)))
	return res, nil
}

// syntaxError builds a ParseError pointing at the first ERROR or MISSING node.
func syntaxError(root *sitter.Node, content []byte) *ParseError {
	bad := firstErrorNode(root)
	if bad == nil {
		return &ParseError{Message: "invalid syntax"}
	}
	pos := bad.StartPoint()
	perr := &ParseError{Line: int(pos.Row) + 1, Column: int(pos.Column) + 1}
	switch {
	case bad.IsMissing():
		perr.Message = fmt.Sprintf("missing %q", bad.Type())
	default:
		text := bad.Content(content)
		if len(text) > 40 {
			text = text[:40] + "..."
		}
		if text == "" {
			perr.Message = "unexpected end of input"
		} else {
			perr.Message = fmt.Sprintf("unexpected %q", text)
		}
	}
	return perr
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstErrorNode(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}
