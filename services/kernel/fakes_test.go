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
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

// recordingEvaluator returns a successful result and remembers every
// request. fn, if set, decides the result instead.
type recordingEvaluator struct {
	mu       sync.Mutex
	requests []*EvalRequest
	fn       func(ctx context.Context, req *EvalRequest) (*CellResult, error)
}

func (e *recordingEvaluator) Run(ctx context.Context, req *EvalRequest) (*CellResult, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	if e.fn != nil {
		return e.fn(ctx, req)
	}
	return &CellResult{Success: true}, nil
}

func (e *recordingEvaluator) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

func (e *recordingEvaluator) last() *EvalRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		return nil
	}
	return e.requests[len(e.requests)-1]
}

// blockingEvaluator signals started with each cell's code and waits for a
// value on release before returning.
type blockingEvaluator struct {
	started chan string
	release chan struct{}

	mu        sync.Mutex
	active    int
	maxActive int
}

func newBlockingEvaluator() *blockingEvaluator {
	return &blockingEvaluator{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (e *blockingEvaluator) Run(ctx context.Context, req *EvalRequest) (*CellResult, error) {
	e.mu.Lock()
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	e.started <- req.Code
	<-e.release
	return &CellResult{Success: true}, nil
}

func (e *blockingEvaluator) peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxActive
}

// memorySnapshotStore is an in-memory SnapshotStore.
type memorySnapshotStore struct {
	mu      sync.Mutex
	records map[string]*SnapshotRecord
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{records: make(map[string]*SnapshotRecord)}
}

func (m *memorySnapshotStore) Save(_ context.Context, rec *SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memorySnapshotStore) Load(_ context.Context, id string) (*SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return rec, nil
}

func (m *memorySnapshotStore) List(_ context.Context, sessionID string) ([]*SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SnapshotRecord
	for _, rec := range m.records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memorySnapshotStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func newTestKernel(t *testing.T, eval Evaluator, opts ...Option) *Kernel {
	t.Helper()
	k, err := New(eval, opts...)
	require.NoError(t, err)
	t.Cleanup(k.Destroy)
	return k
}

func mustCreate(t *testing.T, k *Kernel, bindings value.Scope) string {
	t.Helper()
	id, err := k.CreateSession(bindings, "")
	require.NoError(t, err)
	return id
}
