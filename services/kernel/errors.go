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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the kernel.
var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionDestroyed rejects executions still queued when their session
	// was destroyed, and submissions to a session being destroyed.
	ErrSessionDestroyed = errors.New("session destroyed")

	// ErrInvalidBindingName is matched by every *InvalidBindingError.
	ErrInvalidBindingName = errors.New("invalid binding name")

	// ErrAborted is matched by every *AbortError.
	ErrAborted = errors.New("execution aborted")

	// ErrLoweringAborted is returned by a Lowerer that observed cancellation.
	ErrLoweringAborted = errors.New("lowering aborted")

	// ErrNilEvaluator indicates New was called without an evaluator.
	ErrNilEvaluator = errors.New("evaluator must not be nil")

	// ErrNoResult indicates the evaluator returned neither a result nor an error.
	ErrNoResult = errors.New("evaluator returned no result")

	// ErrCollaboratorPanic wraps a panic recovered from a collaborator.
	ErrCollaboratorPanic = errors.New("collaborator panicked")

	// ErrImportsNotConfigured is returned by Hooks.Import without an Importer.
	ErrImportsNotConfigured = errors.New("module imports not configured")

	// ErrSandboxNotConfigured is returned by Hooks.SandboxImport when the
	// session has no sandbox root or no SandboxImporter is configured.
	ErrSandboxNotConfigured = errors.New("sandbox imports not configured")

	// ErrSnapshotStoreNotConfigured indicates SaveSnapshot or RestoreSnapshot
	// without a SnapshotStore.
	ErrSnapshotStoreNotConfigured = errors.New("snapshot store not configured")

	// ErrSnapshotNotFound indicates an unknown snapshot id.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrKernelClosed indicates an operation after Destroy.
	ErrKernelClosed = errors.New("kernel closed")
)

// InvalidBindingError lists the names rejected by InjectBindings.
type InvalidBindingError struct {
	Names []string
}

func (e *InvalidBindingError) Error() string {
	return fmt.Sprintf("invalid binding name(s): %s", strings.Join(e.Names, ", "))
}

// Is lets errors.Is(err, ErrInvalidBindingName) match.
func (e *InvalidBindingError) Is(target error) bool {
	return target == ErrInvalidBindingName
}

// Abort stages.
const (
	AbortBeforeRun   = "before_run"
	AbortInLowering  = "lowering"
	AbortInTransform = "transform"
)

// AbortError is the error carried by an aborted CellResult.
type AbortError struct {
	CellID string
	Stage  string
	Cause  error
}

func (e *AbortError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("execution aborted (%s): %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("execution aborted (%s)", e.Stage)
}

// Unwrap returns the cancellation cause.
func (e *AbortError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrAborted) match.
func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}

// coerce turns a recovered panic value into an error.
func coerce(recovered any) error {
	switch v := recovered.(type) {
	case nil:
		return nil
	case error:
		return fmt.Errorf("%w: %w", ErrCollaboratorPanic, v)
	case string:
		return fmt.Errorf("%w: %s", ErrCollaboratorPanic, v)
	default:
		return fmt.Errorf("%w: %v", ErrCollaboratorPanic, v)
	}
}
