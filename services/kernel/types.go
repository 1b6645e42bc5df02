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
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AleutianAI/cellkernel/services/kernel/transform"
	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

// =============================================================================
// Results
// =============================================================================

// CellResult is the outcome of one cell execution as reported by the
// evaluator.
//
// Callers branch on Success. An aborted execution is a CellResult with
// Success false and an *AbortError, never a Go error.
type CellResult struct {
	// Success is true when the cell ran to completion without throwing.
	Success bool `json:"success"`

	// Error describes the failure when Success is false.
	Error error `json:"-"`

	// Output is any captured console output the evaluator chose to return.
	Output string `json:"output"`

	// NonMutableNames are the names the cell bound as non-mutable.
	NonMutableNames []string `json:"nonMutableNames"`

	// MutableNames are the names the cell bound as mutable. The kernel
	// merges these into the session's mutable keys.
	MutableNames []string `json:"mutableNames"`

	// CellID identifies the execution, "<sessionID>:<n>".
	CellID string `json:"cellId"`

	// Duration is the wall time of the run, excluding time spent queued.
	Duration time.Duration `json:"duration"`
}

// Aborted reports whether the result is an abort.
func (r *CellResult) Aborted() bool {
	if r == nil || r.Success {
		return false
	}
	_, ok := r.Error.(*AbortError)
	return ok
}

// =============================================================================
// Evaluator
// =============================================================================

// Hooks are the host functions handed to the evaluator for one execution.
type Hooks struct {
	// Output receives console output. Never nil; io.Discard when the caller
	// did not ask for output.
	Output io.Writer

	// Import resolves a bare module specifier.
	Import func(ctx context.Context, specifier string) (value.Value, error)

	// SandboxImport resolves a "./", "../" or "/" specifier against the
	// session's sandbox root. Fails with ErrSandboxNotConfigured when the
	// session has none.
	SandboxImport func(ctx context.Context, specifier string) (value.Value, error)
}

// EvalRequest is everything the evaluator receives for one execution.
//
// Scope, MutableKeys and Exports are the session's live maps, passed by
// reference. The evaluator may read and write them during Run and must not
// retain them afterwards.
type EvalRequest struct {
	SessionID string
	CellID    string

	// Code is the cell source after lowering, and after transformation when
	// Transformed is non-nil.
	Code string

	// Transformed is set when the kernel already ran the transformer. The
	// evaluator must then run Code as is. Transformed supplies the declared
	// names and imports only: under TransformBeforeLowering its Code is the
	// pre-lowering text.
	Transformed *transform.Result

	Scope       value.Scope
	MutableKeys value.KeySet
	Exports     value.Scope
	Hooks       Hooks

	// Timeout is the resolved execution timeout. Zero means no timeout.
	Timeout time.Duration
}

// Evaluator runs one cell against a session's scope.
//
// Run must honour ctx and req.Timeout; once Run is called the kernel no
// longer participates in cancellation. A returned CellResult with
// Success false is a completed execution. A returned error means the
// evaluator itself failed and is surfaced to the caller of Execute.
type Evaluator interface {
	Run(ctx context.Context, req *EvalRequest) (*CellResult, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, req *EvalRequest) (*CellResult, error)

// Run calls f.
func (f EvaluatorFunc) Run(ctx context.Context, req *EvalRequest) (*CellResult, error) {
	return f(ctx, req)
}

// =============================================================================
// Lowering
// =============================================================================

// LowerOptions configures one lowering call.
type LowerOptions struct {
	CellID string

	// Flags enables extended surface-syntax features by name.
	Flags map[string]bool
}

// Lowerer translates extended surface syntax down to plain script.
//
// Lower returns an error wrapping ErrLoweringAborted when ctx is cancelled;
// any other error is a lowering failure.
type Lowerer interface {
	Lower(ctx context.Context, code string, opts LowerOptions) (string, error)
}

// LowererFunc adapts a function to the Lowerer interface.
type LowererFunc func(ctx context.Context, code string, opts LowerOptions) (string, error)

// Lower calls f.
func (f LowererFunc) Lower(ctx context.Context, code string, opts LowerOptions) (string, error) {
	return f(ctx, code, opts)
}

// =============================================================================
// Imports
// =============================================================================

// Importer resolves bare module specifiers.
type Importer interface {
	Import(ctx context.Context, specifier string) (value.Value, error)
}

// SandboxImporter resolves relative specifiers inside a sandbox root.
type SandboxImporter interface {
	Import(ctx context.Context, root, specifier string) (value.Value, error)
}

// IdentifierValidator reports whether name is a valid binding name.
type IdentifierValidator func(name string) bool

// =============================================================================
// Transform stage
// =============================================================================

// TransformStage selects where the cell transformer runs in the pipeline.
type TransformStage int

const (
	// TransformInEvaluator hands the evaluator untransformed code; the
	// evaluator runs the transformer itself.
	TransformInEvaluator TransformStage = iota

	// TransformBeforeLowering transforms the raw cell, then lowers the result.
	TransformBeforeLowering

	// TransformAfterLowering lowers the cell, then transforms the lowered code.
	TransformAfterLowering
)

// String returns the configuration name of the stage.
func (s TransformStage) String() string {
	switch s {
	case TransformInEvaluator:
		return "evaluator"
	case TransformBeforeLowering:
		return "before_lowering"
	case TransformAfterLowering:
		return "after_lowering"
	default:
		return fmt.Sprintf("TransformStage(%d)", int(s))
	}
}

// ParseTransformStage parses a configuration name. Empty selects
// TransformInEvaluator.
func ParseTransformStage(name string) (TransformStage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "evaluator":
		return TransformInEvaluator, nil
	case "before_lowering":
		return TransformBeforeLowering, nil
	case "after_lowering":
		return TransformAfterLowering, nil
	}
	return 0, fmt.Errorf("unknown transform stage %q (want evaluator, before_lowering or after_lowering)", name)
}

// =============================================================================
// Execution options
// =============================================================================

// ExecOptions configures one execution. The cancellation token is the
// context passed to Submit or Execute.
type ExecOptions struct {
	// Timeout for the evaluator. Zero inherits the kernel default, negative
	// disables the timeout.
	Timeout time.Duration

	// Output receives console output. Nil discards it.
	Output io.Writer
}

// =============================================================================
// Snapshots
// =============================================================================

// SnapshotRecord is a persisted deep copy of a session's bindings.
type SnapshotRecord struct {
	ID          string
	SessionID   string
	SandboxRoot string
	CreatedAt   time.Time
	Scope       value.Scope
	MutableKeys []string
}

// SnapshotStore persists snapshot records.
//
// Load returns an error wrapping ErrSnapshotNotFound for unknown ids.
type SnapshotStore interface {
	Save(ctx context.Context, rec *SnapshotRecord) error
	Load(ctx context.Context, id string) (*SnapshotRecord, error)
	List(ctx context.Context, sessionID string) ([]*SnapshotRecord, error)
	Delete(ctx context.Context, id string) error
}

// =============================================================================
// Session info
// =============================================================================

// SessionState is the scheduler state of a session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateExecuting
	StateDestroyed
)

// String returns the lowercase state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// SessionInfo is a point-in-time summary of a session.
type SessionInfo struct {
	ID          string       `json:"id"`
	ParentID    string       `json:"parentId,omitempty"`
	SandboxRoot string       `json:"sandboxRoot,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	State       SessionState `json:"state"`
	QueueDepth  int          `json:"queueDepth"`
	Executions  int          `json:"executions"`
}

// ForkOptions configures ForkSession.
type ForkOptions struct {
	// Bindings override the parent's bindings in the fork.
	Bindings value.Scope
}
