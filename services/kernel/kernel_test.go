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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cellkernel/pkg/config"
	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

func TestNew_RequiresEvaluator(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilEvaluator)
}

func TestCreateAndGetSession(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})

	seed := value.Scope{"a": value.Number(1)}
	id, err := k.CreateSession(seed, "/sandbox/root")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s, err := k.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID())
	assert.Equal(t, "/sandbox/root", s.SandboxRoot())
	assert.Empty(t, s.MutableKeys())
	assert.Empty(t, s.Exports())

	// the seed map is copied
	seed["b"] = value.Number(2)
	scope, err := k.GetScope(id)
	require.NoError(t, err)
	assert.Equal(t, value.Scope{"a": value.Number(1)}, scope)

	info := s.Info()
	assert.Equal(t, StateIdle, info.State)
	assert.Equal(t, 0, info.Executions)
}

func TestUnknownSession(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	ctx := context.Background()

	_, err := k.GetSession("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = k.GetScope("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = k.Execute(ctx, "missing", "1", ExecOptions{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, k.InjectBindings("missing", nil, true), ErrSessionNotFound)
	assert.ErrorIs(t, k.ResetSession("missing", nil), ErrSessionNotFound)
	assert.ErrorIs(t, k.DestroySession("missing"), ErrSessionNotFound)
	_, _, err = k.SnapshotSession("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = k.ForkSession("missing", ForkOptions{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = k.QueueDepth("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInjectBindings(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	id := mustCreate(t, k, value.Scope{"existing": value.String("keep")})

	require.NoError(t, k.InjectBindings(id, value.Scope{"x": value.Number(1)}, true))
	require.NoError(t, k.InjectBindings(id, value.Scope{"y": value.Number(2)}, false))

	scope, err := k.GetScope(id)
	require.NoError(t, err)
	assert.Equal(t, value.Number(1), scope["x"])
	assert.Equal(t, value.Number(2), scope["y"])

	s, _ := k.GetSession(id)
	assert.Equal(t, []string{"x"}, s.MutableKeys())
}

func TestInjectBindings_InvalidIsAtomic(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	id := mustCreate(t, k, value.Scope{"a": value.Number(1)})
	before, err := k.GetScope(id)
	require.NoError(t, err)

	err = k.InjectBindings(id, value.Scope{"1bad": value.Number(1)}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidBindingName)

	err = k.InjectBindings(id, value.Scope{"good": value.Number(1), "also bad": value.Number(2), "class": value.Null{}}, true)
	var ibe *InvalidBindingError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, []string{"also bad", "class"}, ibe.Names)

	after, err := k.GetScope(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	s, _ := k.GetSession(id)
	assert.Empty(t, s.MutableKeys())
}

func TestInjectBindings_CustomValidator(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{}, WithIdentifierValidator(func(name string) bool {
		return name != "forbidden"
	}))
	id := mustCreate(t, k, nil)

	assert.NoError(t, k.InjectBindings(id, value.Scope{"1ok-here": value.Null{}}, false))
	assert.ErrorIs(t, k.InjectBindings(id, value.Scope{"forbidden": value.Null{}}, false), ErrInvalidBindingName)
}

func TestGetScope_IsShallow(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	obj := value.NewObject(map[string]value.Value{"n": value.Number(1)})
	id := mustCreate(t, k, value.Scope{"obj": obj})

	scope, err := k.GetScope(id)
	require.NoError(t, err)

	// top-level mapping is a copy
	scope["added"] = value.Null{}
	again, _ := k.GetScope(id)
	assert.False(t, again.Has("added"))

	// nested values are shared
	scope["obj"].(*value.Object).Fields["n"] = value.Number(99)
	again, _ = k.GetScope(id)
	assert.Equal(t, value.Number(99), again["obj"].(*value.Object).Fields["n"])
}

func TestResetSession(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	id := mustCreate(t, k, value.Scope{"a": value.Number(1)})
	require.NoError(t, k.InjectBindings(id, value.Scope{"b": value.Number(2)}, true))

	require.NoError(t, k.ResetSession(id, []string{"a"}))

	scope, _ := k.GetScope(id)
	assert.Equal(t, value.Scope{"a": value.Number(1)}, scope)
	s, _ := k.GetSession(id)
	assert.Empty(t, s.MutableKeys())
}

func TestResetSession_KeepsAlreadyMutable(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	id := mustCreate(t, k, value.Scope{"a": value.Number(1)})
	require.NoError(t, k.InjectBindings(id, value.Scope{"b": value.Number(2), "c": value.Number(3)}, true))

	require.NoError(t, k.ResetSession(id, []string{"a", "b", "missing"}))

	scope, _ := k.GetScope(id)
	assert.Equal(t, []string{"a", "b"}, scope.Keys())
	s, _ := k.GetSession(id)
	assert.Equal(t, []string{"b"}, s.MutableKeys())
}

func TestResetSession_ClearsExports(t *testing.T) {
	eval := &recordingEvaluator{fn: func(_ context.Context, req *EvalRequest) (*CellResult, error) {
		req.Exports["shared"] = value.Number(1)
		return &CellResult{Success: true}, nil
	}}
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	_, err := k.Execute(context.Background(), id, `export * from "m";`, ExecOptions{})
	require.NoError(t, err)
	s, _ := k.GetSession(id)
	assert.Len(t, s.Exports(), 1)

	require.NoError(t, k.ResetSession(id, nil))
	assert.Empty(t, s.Exports())
}

func TestResetSession_NoArgsClearsAll(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	id := mustCreate(t, k, value.Scope{"a": value.Number(1), "b": value.Number(2)})

	require.NoError(t, k.ResetSession(id, nil))
	scope, _ := k.GetScope(id)
	assert.Empty(t, scope)
}

func TestSnapshotSession(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	inner := value.NewArray(value.Number(1), value.Number(2))
	id := mustCreate(t, k, value.Scope{"arr": inner, "s": value.String("x")})

	snap, ok, err := k.SnapshotSession(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Number(1), snap["arr"].(*value.Array).Elems[0])

	// deep: mutating the live value does not change the snapshot
	inner.Elems[0] = value.Number(100)
	assert.Equal(t, value.Number(1), snap["arr"].(*value.Array).Elems[0])
}

func TestSnapshotSession_FunctionIsNotAnError(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	nested := value.NewObject(map[string]value.Value{"fn": value.NewFunction("f", nil)})
	id := mustCreate(t, k, value.Scope{"holder": nested})

	snap, ok, err := k.SnapshotSession(id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestForkSession(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	shared := value.NewObject(map[string]value.Value{"n": value.Number(1)})
	parent, err := k.CreateSession(value.Scope{"a": value.Number(1), "obj": shared}, "/root")
	require.NoError(t, err)
	require.NoError(t, k.InjectBindings(parent, value.Scope{"b": value.Number(2)}, true))

	child, err := k.ForkSession(parent, ForkOptions{Bindings: value.Scope{"a": value.Number(10), "c": value.Number(3)}})
	require.NoError(t, err)
	require.NotEqual(t, parent, child)

	childScope, _ := k.GetScope(child)
	assert.Equal(t, value.Number(10), childScope["a"])
	assert.Equal(t, value.Number(2), childScope["b"])
	assert.Equal(t, value.Number(3), childScope["c"])

	parentScope, _ := k.GetScope(parent)
	assert.Equal(t, value.Number(1), parentScope["a"])
	assert.False(t, parentScope.Has("c"))

	// fork is shallow
	assert.Same(t, shared, childScope["obj"])

	s, _ := k.GetSession(child)
	assert.Equal(t, []string{"b"}, s.MutableKeys())
	assert.Equal(t, parent, s.Info().ParentID)
	assert.Equal(t, "/root", s.SandboxRoot())
}

func TestForkSession_FiltersMutableKeysToMergedScope(t *testing.T) {
	// A cell deletes c from scope after it was marked mutable.
	eval := &recordingEvaluator{fn: func(_ context.Context, req *EvalRequest) (*CellResult, error) {
		delete(req.Scope, "c")
		return &CellResult{Success: true}, nil
	}}
	k := newTestKernel(t, eval)
	parent := mustCreate(t, k, nil)
	require.NoError(t, k.InjectBindings(parent, value.Scope{"b": value.Number(1), "c": value.Number(2)}, true))
	_, err := k.Execute(context.Background(), parent, "delete scope.c", ExecOptions{})
	require.NoError(t, err)

	ps, _ := k.GetSession(parent)
	require.Equal(t, []string{"b", "c"}, ps.MutableKeys())

	child, err := k.ForkSession(parent, ForkOptions{})
	require.NoError(t, err)
	cs, _ := k.GetSession(child)
	assert.Equal(t, []string{"b"}, cs.MutableKeys())
}

func TestDestroy(t *testing.T) {
	k, err := New(&recordingEvaluator{})
	require.NoError(t, err)
	a := mustCreate(t, k, nil)
	b := mustCreate(t, k, nil)
	assert.Len(t, k.ListSessions(), 2)

	k.Destroy()
	assert.Empty(t, k.ListSessions())
	_, err = k.GetSession(a)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = k.GetSession(b)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = k.CreateSession(nil, "")
	assert.ErrorIs(t, err, ErrKernelClosed)
}

func TestShutdown_WaitsForRunning(t *testing.T) {
	eval := newBlockingEvaluator()
	k, err := New(eval)
	require.NoError(t, err)
	id := mustCreate(t, k, nil)

	p, err := k.Submit(context.Background(), id, "slow()", ExecOptions{})
	require.NoError(t, err)
	<-eval.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, k.Shutdown(ctx), context.DeadlineExceeded)

	close(eval.release)
	require.NoError(t, k.Shutdown(context.Background()))
	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestListSessions(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{})
	first := mustCreate(t, k, nil)
	time.Sleep(time.Millisecond)
	second := mustCreate(t, k, nil)

	infos := k.ListSessions()
	require.Len(t, infos, 2)
	assert.Equal(t, first, infos[0].ID)
	assert.Equal(t, second, infos[1].ID)
}

func TestFromConfig(t *testing.T) {
	opts, err := FromConfig(config.KernelConfig{
		DefaultTimeout: 3 * time.Second,
		TransformStage: "before_lowering",
		LoweringFlags:  map[string]bool{"typed": true},
	})
	require.NoError(t, err)

	k := newTestKernel(t, &recordingEvaluator{}, opts...)
	assert.Equal(t, 3*time.Second, k.defaultTimeout)
	assert.Equal(t, TransformBeforeLowering, k.stage)
	assert.True(t, k.loweringFlags["typed"])

	_, err = FromConfig(config.KernelConfig{TransformStage: "sideways"})
	assert.Error(t, err)
}

func TestParseTransformStage(t *testing.T) {
	for _, stage := range []TransformStage{TransformInEvaluator, TransformBeforeLowering, TransformAfterLowering} {
		got, err := ParseTransformStage(stage.String())
		require.NoError(t, err)
		assert.Equal(t, stage, got)
	}
	got, err := ParseTransformStage("")
	require.NoError(t, err)
	assert.Equal(t, TransformInEvaluator, got)
}

func TestErrorTypes(t *testing.T) {
	abort := &AbortError{CellID: "s:1", Stage: AbortInLowering, Cause: context.Canceled}
	assert.True(t, errors.Is(abort, ErrAborted))
	assert.True(t, errors.Is(abort, context.Canceled))
	assert.Contains(t, abort.Error(), "lowering")

	assert.True(t, errors.Is(coerce("boom"), ErrCollaboratorPanic))
	assert.True(t, errors.Is(coerce(errors.New("inner")), ErrCollaboratorPanic))
	assert.Contains(t, coerce(42).Error(), "42")
	assert.Nil(t, coerce(nil))
}
