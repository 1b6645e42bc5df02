// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernel implements a notebook kernel: a registry of sessions whose
// top-level bindings persist across cells, and a per-session FIFO scheduler
// that runs cells one at a time through an external evaluator.
//
// The kernel is instance based. Create one with New and pass it around;
// there is no package-level kernel.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/cellkernel/services/kernel/transform"
	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

// Kernel owns the session registry and schedules executions.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Executions on one session run
//	strictly in submission order; executions on different sessions run
//	concurrently.
type Kernel struct {
	evaluator       Evaluator
	lowerer         Lowerer
	loweringFlags   map[string]bool
	transformer     *transform.Transformer
	stage           TransformStage
	defaultTimeout  time.Duration
	importer        Importer
	sandboxImporter SandboxImporter
	snapshots       SnapshotStore
	validIdentifier IdentifierValidator
	logger          *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	running sync.WaitGroup
}

// New creates a Kernel that runs cells with evaluator.
//
// Inputs:
//
//	evaluator - Runs cells. Must not be nil.
//	opts      - Optional configuration.
//
// Outputs:
//
//	*Kernel - Ready to use.
//	error   - ErrNilEvaluator if evaluator is nil.
func New(evaluator Evaluator, opts ...Option) (*Kernel, error) {
	if evaluator == nil {
		return nil, ErrNilEvaluator
	}
	k := &Kernel{
		evaluator:       evaluator,
		transformer:     transform.New(),
		stage:           TransformInEvaluator,
		validIdentifier: transform.IsValidIdentifier,
		logger:          slog.Default(),
		sessions:        make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With(slog.String("component", "kernel"))
	return k, nil
}

// =============================================================================
// Registry
// =============================================================================

// CreateSession creates a session whose scope is seeded with a shallow copy
// of bindings. sandboxRoot may be empty.
func (k *Kernel) CreateSession(bindings value.Scope, sandboxRoot string) (string, error) {
	s := newSession(uuid.NewString(), bindings.Clone(), sandboxRoot)
	if err := k.register(s); err != nil {
		return "", err
	}
	sessionOps.WithLabelValues("create").Inc()
	k.logger.Info("session created",
		slog.String("session_id", s.id),
		slog.Int("bindings", len(bindings)),
		slog.String("sandbox_root", sandboxRoot))
	return s.id, nil
}

func (k *Kernel) register(s *Session) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrKernelClosed
	}
	k.sessions[s.id] = s
	activeSessions.Inc()
	return nil
}

// GetSession returns the session with the given id.
func (k *Kernel) GetSession(id string) (*Session, error) {
	k.mu.RLock()
	s, ok := k.sessions[id]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// ListSessions returns a summary of every live session, oldest first.
func (k *Kernel) ListSessions() []SessionInfo {
	k.mu.RLock()
	sessions := make([]*Session, 0, len(k.sessions))
	for _, s := range k.sessions {
		sessions = append(sessions, s)
	}
	k.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// QueueDepth returns the number of executions waiting on a session,
// excluding the one currently running.
func (k *Kernel) QueueDepth(id string) (int, error) {
	s, err := k.GetSession(id)
	if err != nil {
		return 0, err
	}
	return s.queueDepth(), nil
}

// DestroySession removes a session and rejects every execution still
// queued for it with ErrSessionDestroyed. An execution already running is
// allowed to finish.
func (k *Kernel) DestroySession(id string) error {
	k.mu.Lock()
	s, ok := k.sessions[id]
	if ok {
		delete(k.sessions, id)
		activeSessions.Dec()
	}
	k.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	k.destroy(s)
	sessionOps.WithLabelValues("destroy").Inc()
	return nil
}

func (k *Kernel) destroy(s *Session) {
	queued := s.markDestroyed()
	for _, q := range queued {
		q.pending.resolve(nil, fmt.Errorf("%w: %s", ErrSessionDestroyed, s.id))
		executionsTotal.WithLabelValues(outcomeRejected).Inc()
	}
	k.logger.Info("session destroyed",
		slog.String("session_id", s.id),
		slog.Int("rejected", len(queued)))
}

// Destroy destroys every session and closes the kernel to new sessions.
func (k *Kernel) Destroy() {
	k.mu.Lock()
	sessions := make([]*Session, 0, len(k.sessions))
	for id, s := range k.sessions {
		sessions = append(sessions, s)
		delete(k.sessions, id)
	}
	activeSessions.Sub(float64(len(sessions)))
	k.closed = true
	k.mu.Unlock()

	for _, s := range sessions {
		k.destroy(s)
	}
	sessionOps.WithLabelValues("destroy_all").Inc()
}

// Shutdown destroys every session and waits for running executions to
// finish or ctx to end.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.Destroy()

	done := make(chan struct{})
	go func() {
		k.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running executions: %w", ctx.Err())
	}
}

// =============================================================================
// Bindings
// =============================================================================

// InjectBindings copies bindings into a session's scope.
//
// Description:
//
//	Every key is validated before anything is written. If any key is not a
//	valid identifier the call fails with an *InvalidBindingError listing
//	all offending keys and the scope is left untouched. When mutable is
//	true every injected key is also added to the session's mutable keys.
//
// Thread Safety:
//
//	Waits for a running execution on the session to finish.
func (k *Kernel) InjectBindings(id string, bindings value.Scope, mutable bool) error {
	s, err := k.GetSession(id)
	if err != nil {
		return err
	}

	var invalid []string
	for name := range bindings {
		if !k.validIdentifier(name) {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return &InvalidBindingError{Names: invalid}
	}

	s.bindings.Lock()
	for name, v := range bindings {
		s.scope[name] = v
		if mutable {
			s.mutableKeys.Add(name)
		}
	}
	s.bindings.Unlock()

	sessionOps.WithLabelValues("inject").Inc()
	k.logger.Debug("bindings injected",
		slog.String("session_id", id),
		slog.Int("count", len(bindings)),
		slog.Bool("mutable", mutable))
	return nil
}

// GetScope returns a shallow copy of a session's scope. Nested arrays and
// objects are shared with the session.
func (k *Kernel) GetScope(id string) (value.Scope, error) {
	s, err := k.GetSession(id)
	if err != nil {
		return nil, err
	}
	s.bindings.Lock()
	defer s.bindings.Unlock()
	return s.scope.Clone(), nil
}

// ResetSession keeps only the named bindings that currently exist.
//
// Description:
//
//	The new scope holds the names in keep that are present in the current
//	scope. The new mutable keys are the names in keep that were already
//	mutable. Exports are always cleared.
func (k *Kernel) ResetSession(id string, keep []string) error {
	s, err := k.GetSession(id)
	if err != nil {
		return err
	}

	s.bindings.Lock()
	scope := make(value.Scope, len(keep))
	mutable := value.NewKeySet()
	for _, name := range keep {
		v, ok := s.scope[name]
		if !ok {
			continue
		}
		scope[name] = v
		if s.mutableKeys.Has(name) {
			mutable.Add(name)
		}
	}
	s.scope = scope
	s.mutableKeys = mutable
	s.exports = value.Scope{}
	s.bindings.Unlock()

	sessionOps.WithLabelValues("reset").Inc()
	k.logger.Info("session reset",
		slog.String("session_id", id),
		slog.Int("kept", len(scope)))
	return nil
}

// SnapshotSession returns a deep, function-free copy of a session's scope.
// ok is false, with no error, when the scope reaches a function.
func (k *Kernel) SnapshotSession(id string) (value.Scope, bool, error) {
	s, err := k.GetSession(id)
	if err != nil {
		return nil, false, err
	}
	s.bindings.Lock()
	defer s.bindings.Unlock()

	snap, ok := value.CloneScope(s.scope)
	sessionOps.WithLabelValues("snapshot").Inc()
	if !ok {
		k.logger.Debug("scope not clonable", slog.String("session_id", id))
	}
	return snap, ok, nil
}

// ForkSession creates a session that starts from a shallow copy of the
// parent's scope merged with opts.Bindings (overrides win).
//
// Description:
//
//	The fork's mutable keys are the parent's mutable keys still present in
//	the merged scope. Values are shared by reference with the parent; a
//	fork does not isolate nested objects. The fork inherits the parent's
//	sandbox root and starts with empty exports and an empty queue.
func (k *Kernel) ForkSession(id string, opts ForkOptions) (string, error) {
	parent, err := k.GetSession(id)
	if err != nil {
		return "", err
	}

	parent.bindings.Lock()
	scope := parent.scope.Clone()
	for name, v := range opts.Bindings {
		scope[name] = v
	}
	mutable := value.NewKeySet()
	for name := range parent.mutableKeys {
		if scope.Has(name) {
			mutable.Add(name)
		}
	}
	parent.bindings.Unlock()

	child := newSession(uuid.NewString(), scope, parent.sandboxRoot)
	child.parentID = parent.id
	child.mutableKeys = mutable
	if err := k.register(child); err != nil {
		return "", err
	}

	sessionOps.WithLabelValues("fork").Inc()
	k.logger.Info("session forked",
		slog.String("session_id", child.id),
		slog.String("parent_id", parent.id),
		slog.Int("bindings", len(scope)))
	return child.id, nil
}
