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
	"sync"
	"time"

	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

// Session is a persistent execution context accumulating bindings across
// cells.
//
// Thread Safety:
//
//	Two locks guard a session. mu protects scheduler state (executing,
//	queue, destroyed, counters) and is never held across a collaborator
//	call. bindings protects scope, mutableKeys and exports; a run holds it
//	for the duration of the evaluator call, so lifecycle operations that
//	read or replace the maps wait for the current run to finish but never
//	wait behind queued runs.
type Session struct {
	id          string
	parentID    string
	sandboxRoot string
	createdAt   time.Time

	mu         sync.Mutex
	executing  bool
	destroyed  bool
	queue      []*queuedExecution
	executions int

	bindings    sync.Mutex
	scope       value.Scope
	mutableKeys value.KeySet
	exports     value.Scope
}

func newSession(id string, scope value.Scope, sandboxRoot string) *Session {
	if scope == nil {
		scope = value.Scope{}
	}
	return &Session{
		id:          id,
		sandboxRoot: sandboxRoot,
		createdAt:   time.Now(),
		scope:       scope,
		mutableKeys: value.NewKeySet(),
		exports:     value.Scope{},
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// SandboxRoot returns the sandbox root, or "" when the session has none.
func (s *Session) SandboxRoot() string {
	return s.sandboxRoot
}

// Info returns a point-in-time summary.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := StateIdle
	switch {
	case s.destroyed:
		state = StateDestroyed
	case s.executing:
		state = StateExecuting
	}
	return SessionInfo{
		ID:          s.id,
		ParentID:    s.parentID,
		SandboxRoot: s.sandboxRoot,
		CreatedAt:   s.createdAt,
		State:       state,
		QueueDepth:  len(s.queue),
		Executions:  s.executions,
	}
}

// MutableKeys returns the sorted mutable key names.
func (s *Session) MutableKeys() []string {
	s.bindings.Lock()
	defer s.bindings.Unlock()
	return s.mutableKeys.Sorted()
}

// Exports returns a shallow copy of the export-merge target.
func (s *Session) Exports() value.Scope {
	s.bindings.Lock()
	defer s.bindings.Unlock()
	return s.exports.Clone()
}

// nextCellID counts one execution and returns its cell id.
func (s *Session) nextCellID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions++
	return fmt.Sprintf("%s:%d", s.id, s.executions)
}

// =============================================================================
// Queue
// =============================================================================

// queuedExecution is one pending request. pending is resolved exactly once.
type queuedExecution struct {
	ctx        context.Context
	code       string
	opts       ExecOptions
	pending    *Pending
	enqueuedAt time.Time
}

// admit either claims the session for q (returns true, caller must run it)
// or appends q to the FIFO queue.
func (s *Session) admit(q *queuedExecution) (runNow bool, depth int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return false, 0, fmt.Errorf("%w: %s", ErrSessionDestroyed, s.id)
	}
	if !s.executing {
		s.executing = true
		return true, 0, nil
	}
	s.queue = append(s.queue, q)
	return false, len(s.queue), nil
}

// next pops the head of the queue, or returns the session to idle.
func (s *Session) next() *queuedExecution {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || len(s.queue) == 0 {
		s.executing = false
		return nil
	}
	q := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	queuedExecutions.Dec()
	return q
}

// markDestroyed flags the session and returns the executions that were
// still queued.
func (s *Session) markDestroyed() []*queuedExecution {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroyed = true
	queued := s.queue
	s.queue = nil
	queuedExecutions.Sub(float64(len(queued)))
	return queued
}

func (s *Session) queueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// =============================================================================
// Pending
// =============================================================================

// Pending is the single-use completion handle for one execution.
type Pending struct {
	sessionID string
	done      chan struct{}
	once      sync.Once
	result    *CellResult
	err       error
}

func newPending(sessionID string) *Pending {
	return &Pending{sessionID: sessionID, done: make(chan struct{})}
}

// resolve settles the handle. Later calls are ignored.
func (p *Pending) resolve(res *CellResult, err error) {
	p.once.Do(func() {
		p.result, p.err = res, err
		close(p.done)
	})
}

// Done is closed once the execution settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the execution settles or ctx is done. A ctx error here
// only stops waiting; it does not cancel the execution.
func (p *Pending) Wait(ctx context.Context) (*CellResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SessionID returns the id of the session the execution was submitted to.
func (p *Pending) SessionID() string {
	return p.sessionID
}

func outputOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
