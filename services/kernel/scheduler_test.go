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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/cellkernel/services/kernel/transform"
	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

const waitTimeout = 2 * time.Second

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for evaluator")
		return ""
	}
}

func assertNoReceive(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("evaluator started %q too early", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExecute_Success(t *testing.T) {
	eval := &recordingEvaluator{}
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	res, err := k.Execute(context.Background(), id, "1 + 1", ExecOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, id+":1", res.CellID)

	req := eval.last()
	require.NotNil(t, req)
	assert.Equal(t, "1 + 1", req.Code)
	assert.Nil(t, req.Transformed)
	assert.Equal(t, id, req.SessionID)
	assert.Equal(t, id+":1", req.CellID)

	res, err = k.Execute(context.Background(), id, "2", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, id+":2", res.CellID)

	s, _ := k.GetSession(id)
	assert.Equal(t, 2, s.Info().Executions)
}

func TestExecute_SameSessionRunsInOrder(t *testing.T) {
	eval := newBlockingEvaluator()
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)
	ctx := context.Background()

	first, err := k.Submit(ctx, id, "first", ExecOptions{})
	require.NoError(t, err)
	second, err := k.Submit(ctx, id, "second", ExecOptions{})
	require.NoError(t, err)

	assert.Equal(t, "first", receive(t, eval.started))
	assertNoReceive(t, eval.started)

	depth, err := k.QueueDepth(id)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	s, _ := k.GetSession(id)
	assert.Equal(t, StateExecuting, s.Info().State)

	eval.release <- struct{}{}
	_, err = first.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, "second", receive(t, eval.started))
	select {
	case <-second.Done():
		t.Fatal("second settled before release")
	default:
	}
	eval.release <- struct{}{}
	res, err := second.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, 1, eval.peak())
	require.Eventually(t, func() bool { return s.Info().State == StateIdle }, waitTimeout, time.Millisecond)
}

func TestExecute_DistinctSessionsRunConcurrently(t *testing.T) {
	eval := newBlockingEvaluator()
	k := newTestKernel(t, eval)
	a := mustCreate(t, k, nil)
	b := mustCreate(t, k, nil)
	ctx := context.Background()

	pa, err := k.Submit(ctx, a, "a", ExecOptions{})
	require.NoError(t, err)
	pb, err := k.Submit(ctx, b, "b", ExecOptions{})
	require.NoError(t, err)

	got := []string{receive(t, eval.started), receive(t, eval.started)}
	assert.ElementsMatch(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, eval.peak())

	close(eval.release)
	_, err = pa.Wait(ctx)
	require.NoError(t, err)
	_, err = pb.Wait(ctx)
	require.NoError(t, err)
}

func TestExecute_ManyCellsKeepSubmissionOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	eval := &recordingEvaluator{fn: func(_ context.Context, req *EvalRequest) (*CellResult, error) {
		mu.Lock()
		order = append(order, req.Code)
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return &CellResult{Success: true}, nil
	}}
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	var pending []*Pending
	var want []string
	for i := 0; i < 20; i++ {
		code := fmt.Sprintf("cell%d", i)
		want = append(want, code)
		p, err := k.Submit(context.Background(), id, code, ExecOptions{})
		require.NoError(t, err)
		pending = append(pending, p)
	}
	for _, p := range pending {
		_, err := p.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, want, order)
}

func TestExecute_ConcurrentSubmittersAcrossSessions(t *testing.T) {
	eval := &recordingEvaluator{fn: func(_ context.Context, req *EvalRequest) (*CellResult, error) {
		req.Scope["n"] = value.Number(float64(len(req.Scope)))
		return &CellResult{Success: true, MutableNames: []string{"n"}}, nil
	}}
	k := newTestKernel(t, eval)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			id, err := k.CreateSession(nil, "")
			if err != nil {
				return err
			}
			for j := 0; j < 10; j++ {
				res, err := k.Execute(context.Background(), id, "n", ExecOptions{})
				if err != nil {
					return err
				}
				if !res.Success {
					return res.Error
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 80, eval.calls())
}

func TestDestroySession_RejectsQueued(t *testing.T) {
	eval := newBlockingEvaluator()
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)
	ctx := context.Background()

	running, err := k.Submit(ctx, id, "running", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "running", receive(t, eval.started))

	const n = 3
	queued := make([]*Pending, 0, n)
	for i := 0; i < n; i++ {
		p, err := k.Submit(ctx, id, fmt.Sprintf("queued%d", i), ExecOptions{})
		require.NoError(t, err)
		queued = append(queued, p)
	}
	s, _ := k.GetSession(id)
	require.Equal(t, n, s.queueDepth())

	require.NoError(t, k.DestroySession(id))

	for _, p := range queued {
		_, err := p.Wait(ctx)
		assert.ErrorIs(t, err, ErrSessionDestroyed)
	}
	assert.Equal(t, 0, s.queueDepth())
	assert.Equal(t, StateDestroyed, s.Info().State)

	_, err = k.Submit(ctx, id, "late", ExecOptions{})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// the running execution is allowed to finish
	eval.release <- struct{}{}
	res, err := running.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assertNoReceive(t, eval.started)
}

func TestExecute_AbortBeforeRun(t *testing.T) {
	eval := &recordingEvaluator{}
	lowered := false
	k := newTestKernel(t, eval, WithLowerer(LowererFunc(func(ctx context.Context, code string, _ LowerOptions) (string, error) {
		lowered = true
		return code, nil
	})))
	id := mustCreate(t, k, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := k.Execute(ctx, id, "never()", ExecOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Aborted())
	assert.ErrorIs(t, res.Error, ErrAborted)

	var abort *AbortError
	require.ErrorAs(t, res.Error, &abort)
	assert.Equal(t, AbortBeforeRun, abort.Stage)
	assert.Equal(t, 0, eval.calls())
	assert.False(t, lowered)
}

func TestExecute_AbortWhileQueued(t *testing.T) {
	eval := newBlockingEvaluator()
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	first, err := k.Submit(context.Background(), id, "first", ExecOptions{})
	require.NoError(t, err)
	receive(t, eval.started)

	ctx, cancel := context.WithCancel(context.Background())
	second, err := k.Submit(ctx, id, "second", ExecOptions{})
	require.NoError(t, err)
	cancel()

	eval.release <- struct{}{}
	_, err = first.Wait(context.Background())
	require.NoError(t, err)

	res, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Aborted())
	assertNoReceive(t, eval.started)
}

func TestExecute_LoweringAbort(t *testing.T) {
	tests := []struct {
		name string
		err  func(ctx context.Context) error
	}{
		{"lowering abort error", func(context.Context) error { return fmt.Errorf("stopped: %w", ErrLoweringAborted) }},
		{"context error after cancel", func(ctx context.Context) error { return ctx.Err() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &recordingEvaluator{}
			ctx, cancel := context.WithCancel(context.Background())
			k := newTestKernel(t, eval, WithLowerer(LowererFunc(func(ctx context.Context, _ string, _ LowerOptions) (string, error) {
				cancel()
				return "", tt.err(ctx)
			})))
			id := mustCreate(t, k, nil)

			res, err := k.Execute(ctx, id, "typed: number = 1", ExecOptions{})
			require.NoError(t, err)
			assert.True(t, res.Aborted())
			var abort *AbortError
			require.ErrorAs(t, res.Error, &abort)
			assert.Equal(t, AbortInLowering, abort.Stage)
			assert.Equal(t, 0, eval.calls())
		})
	}
}

func TestExecute_LoweringFailure(t *testing.T) {
	eval := &recordingEvaluator{}
	boom := errors.New("unsupported syntax")
	k := newTestKernel(t, eval, WithLowerer(LowererFunc(func(context.Context, string, LowerOptions) (string, error) {
		return "", boom
	})))
	id := mustCreate(t, k, nil)

	res, err := k.Execute(context.Background(), id, "x", ExecOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.Aborted())
	assert.ErrorIs(t, res.Error, boom)
	assert.Equal(t, 0, eval.calls())
}

func TestExecute_LoweringReceivesCellIDAndFlags(t *testing.T) {
	eval := &recordingEvaluator{}
	var got LowerOptions
	k := newTestKernel(t, eval,
		WithLoweringFlags(map[string]bool{"markup": true}),
		WithLowerer(LowererFunc(func(_ context.Context, code string, opts LowerOptions) (string, error) {
			got = opts
			return strings.ToUpper(code), nil
		})))
	id := mustCreate(t, k, nil)

	_, err := k.Execute(context.Background(), id, "lower me", ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, id+":1", got.CellID)
	assert.True(t, got.Flags["markup"])
	assert.Equal(t, "LOWER ME", eval.last().Code)
}

func TestExecute_MergesMutableNames(t *testing.T) {
	eval := &recordingEvaluator{fn: func(_ context.Context, req *EvalRequest) (*CellResult, error) {
		req.Scope["x"] = value.Number(1)
		req.Scope["y"] = value.Number(2)
		return &CellResult{Success: true, MutableNames: []string{"x"}, NonMutableNames: []string{"y"}}, nil
	}}
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	_, err := k.Execute(context.Background(), id, "let x = 1; const y = 2;", ExecOptions{})
	require.NoError(t, err)

	s, _ := k.GetSession(id)
	assert.Equal(t, []string{"x"}, s.MutableKeys())
	scope, _ := k.GetScope(id)
	assert.True(t, scope.Has("y"))
}

func TestExecute_MergesMutableNamesOnFailedCell(t *testing.T) {
	eval := &recordingEvaluator{fn: func(_ context.Context, req *EvalRequest) (*CellResult, error) {
		req.Scope["partial"] = value.Number(1)
		return &CellResult{Success: false, Error: errors.New("ReferenceError: q is not defined"), MutableNames: []string{"partial"}}, nil
	}}
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	res, err := k.Execute(context.Background(), id, "let partial = 1; q;", ExecOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	s, _ := k.GetSession(id)
	assert.Equal(t, []string{"partial"}, s.MutableKeys())
}

func TestExecute_FailedResultWithoutErrorGetsOne(t *testing.T) {
	eval := &recordingEvaluator{fn: func(context.Context, *EvalRequest) (*CellResult, error) {
		return &CellResult{Success: false}, nil
	}}
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	res, err := k.Execute(context.Background(), id, "x", ExecOptions{})
	require.NoError(t, err)
	assert.Error(t, res.Error)
}

func TestExecute_EvaluatorErrorRejects(t *testing.T) {
	boom := errors.New("sandbox crashed")
	calls := 0
	eval := &recordingEvaluator{fn: func(context.Context, *EvalRequest) (*CellResult, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return &CellResult{Success: true}, nil
	}}
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	_, err := k.Execute(context.Background(), id, "crash", ExecOptions{})
	assert.ErrorIs(t, err, boom)

	res, err := k.Execute(context.Background(), id, "ok", ExecOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecute_NilResult(t *testing.T) {
	eval := EvaluatorFunc(func(context.Context, *EvalRequest) (*CellResult, error) { return nil, nil })
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	_, err := k.Execute(context.Background(), id, "x", ExecOptions{})
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestExecute_PanicDoesNotStallQueue(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	eval := EvaluatorFunc(func(_ context.Context, req *EvalRequest) (*CellResult, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		if req.Code == "panic" {
			<-release
			panic("evaluator exploded")
		}
		return &CellResult{Success: true}, nil
	})
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)
	ctx := context.Background()

	first, err := k.Submit(ctx, id, "panic", ExecOptions{})
	require.NoError(t, err)
	second, err := k.Submit(ctx, id, "after", ExecOptions{})
	require.NoError(t, err)
	close(release)

	_, err = first.Wait(ctx)
	assert.ErrorIs(t, err, ErrCollaboratorPanic)
	assert.Contains(t, err.Error(), "evaluator exploded")

	res, err := second.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecute_LowererPanicBecomesFailure(t *testing.T) {
	k := newTestKernel(t, &recordingEvaluator{}, WithLowerer(LowererFunc(func(context.Context, string, LowerOptions) (string, error) {
		panic(errors.New("lowering bug"))
	})))
	id := mustCreate(t, k, nil)

	res, err := k.Execute(context.Background(), id, "x", ExecOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, ErrCollaboratorPanic)
}

func TestExecute_TimeoutResolution(t *testing.T) {
	tests := []struct {
		name      string
		kernelDef time.Duration
		requested time.Duration
		want      time.Duration
	}{
		{"explicit wins", 5 * time.Second, time.Second, time.Second},
		{"zero inherits default", 5 * time.Second, 0, 5 * time.Second},
		{"no default", 0, 0, 0},
		{"negative disables", 5 * time.Second, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &recordingEvaluator{}
			k := newTestKernel(t, eval, WithDefaultTimeout(tt.kernelDef))
			id := mustCreate(t, k, nil)

			_, err := k.Execute(context.Background(), id, "x", ExecOptions{Timeout: tt.requested})
			require.NoError(t, err)
			assert.Equal(t, tt.want, eval.last().Timeout)
		})
	}
}

func TestExecute_PassesLiveMaps(t *testing.T) {
	eval := &recordingEvaluator{fn: func(_ context.Context, req *EvalRequest) (*CellResult, error) {
		req.Scope["fromCell"] = value.String("hi")
		return &CellResult{Success: true}, nil
	}}
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	_, err := k.Execute(context.Background(), id, "x", ExecOptions{})
	require.NoError(t, err)

	scope, _ := k.GetScope(id)
	assert.Equal(t, value.String("hi"), scope["fromCell"])
}

func TestExecute_OutputHook(t *testing.T) {
	eval := &recordingEvaluator{fn: func(_ context.Context, req *EvalRequest) (*CellResult, error) {
		_, _ = io.WriteString(req.Hooks.Output, "hello\n")
		return &CellResult{Success: true}, nil
	}}
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	var buf bytes.Buffer
	_, err := k.Execute(context.Background(), id, "console.log('hello')", ExecOptions{Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", buf.String())

	// nil output is discarded, not a nil writer
	_, err = k.Execute(context.Background(), id, "console.log('x')", ExecOptions{})
	require.NoError(t, err)
	assert.NotNil(t, eval.last().Hooks.Output)
}

type importerFunc func(ctx context.Context, specifier string) (value.Value, error)

func (f importerFunc) Import(ctx context.Context, specifier string) (value.Value, error) {
	return f(ctx, specifier)
}

type sandboxImporterFunc func(ctx context.Context, root, specifier string) (value.Value, error)

func (f sandboxImporterFunc) Import(ctx context.Context, root, specifier string) (value.Value, error) {
	return f(ctx, root, specifier)
}

func TestExecute_ImportHooks(t *testing.T) {
	var hooks Hooks
	eval := &recordingEvaluator{fn: func(_ context.Context, req *EvalRequest) (*CellResult, error) {
		hooks = req.Hooks
		return &CellResult{Success: true}, nil
	}}
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		k := newTestKernel(t, eval)
		id := mustCreate(t, k, nil)
		_, err := k.Execute(ctx, id, "x", ExecOptions{})
		require.NoError(t, err)

		_, err = hooks.Import(ctx, "lodash")
		assert.ErrorIs(t, err, ErrImportsNotConfigured)
		_, err = hooks.SandboxImport(ctx, "./util.js")
		assert.ErrorIs(t, err, ErrSandboxNotConfigured)
	})

	t.Run("configured", func(t *testing.T) {
		var gotRoot string
		k := newTestKernel(t, eval,
			WithImporter(importerFunc(func(_ context.Context, spec string) (value.Value, error) {
				return value.String("module:" + spec), nil
			})),
			WithSandboxImporter(sandboxImporterFunc(func(_ context.Context, root, spec string) (value.Value, error) {
				gotRoot = root
				return value.String("local:" + spec), nil
			})))
		id, err := k.CreateSession(nil, "notebook-1")
		require.NoError(t, err)
		_, err = k.Execute(ctx, id, "x", ExecOptions{})
		require.NoError(t, err)

		v, err := hooks.Import(ctx, "lodash")
		require.NoError(t, err)
		assert.Equal(t, value.String("module:lodash"), v)

		v, err = hooks.SandboxImport(ctx, "./util.js")
		require.NoError(t, err)
		assert.Equal(t, value.String("local:./util.js"), v)
		assert.Equal(t, "notebook-1", gotRoot)
	})

	t.Run("session without sandbox root", func(t *testing.T) {
		k := newTestKernel(t, eval, WithSandboxImporter(sandboxImporterFunc(func(context.Context, string, string) (value.Value, error) {
			return value.Null{}, nil
		})))
		id := mustCreate(t, k, nil)
		_, err := k.Execute(ctx, id, "x", ExecOptions{})
		require.NoError(t, err)
		_, err = hooks.SandboxImport(ctx, "./util.js")
		assert.ErrorIs(t, err, ErrSandboxNotConfigured)
	})
}

func TestExecute_TransformStages(t *testing.T) {
	upper := LowererFunc(func(_ context.Context, code string, _ LowerOptions) (string, error) {
		return strings.ReplaceAll(code, "LET", "let"), nil
	})

	t.Run("in evaluator", func(t *testing.T) {
		eval := &recordingEvaluator{}
		k := newTestKernel(t, eval, WithLowerer(upper))
		id := mustCreate(t, k, nil)
		_, err := k.Execute(context.Background(), id, "LET x = 1;", ExecOptions{})
		require.NoError(t, err)
		assert.Equal(t, "let x = 1;", eval.last().Code)
		assert.Nil(t, eval.last().Transformed)
	})

	t.Run("after lowering", func(t *testing.T) {
		eval := &recordingEvaluator{}
		k := newTestKernel(t, eval, WithLowerer(upper), WithTransformStage(TransformAfterLowering))
		id := mustCreate(t, k, nil)
		_, err := k.Execute(context.Background(), id, "LET x = 1;", ExecOptions{})
		require.NoError(t, err)

		req := eval.last()
		assert.Equal(t, "let x = 1; scope.x = x;", req.Code)
		require.NotNil(t, req.Transformed)
		assert.Equal(t, []string{"x"}, req.Transformed.MutableNames)
	})

	t.Run("before lowering", func(t *testing.T) {
		eval := &recordingEvaluator{}
		var lowerInput string
		k := newTestKernel(t, eval,
			WithTransformStage(TransformBeforeLowering),
			WithLowerer(LowererFunc(func(_ context.Context, code string, _ LowerOptions) (string, error) {
				lowerInput = code
				return code, nil
			})))
		id := mustCreate(t, k, nil)
		_, err := k.Execute(context.Background(), id, "const y = 2;", ExecOptions{})
		require.NoError(t, err)
		assert.Equal(t, "const y = 2; scope.y = y;", lowerInput)
		assert.Equal(t, []string{"y"}, eval.last().Transformed.NonMutableNames)
	})

	t.Run("parse error is a failure result", func(t *testing.T) {
		eval := &recordingEvaluator{}
		k := newTestKernel(t, eval, WithTransformStage(TransformBeforeLowering))
		id := mustCreate(t, k, nil)
		res, err := k.Execute(context.Background(), id, "const x = {;", ExecOptions{})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Error, transform.ErrParse)
		assert.Contains(t, res.Error.Error(), "Parse error")
		assert.Equal(t, 0, eval.calls())
	})

	t.Run("custom transformer names", func(t *testing.T) {
		eval := &recordingEvaluator{}
		k := newTestKernel(t, eval,
			WithTransformStage(TransformAfterLowering),
			WithTransformer(transform.New(transform.WithNames(transform.Names{Scope: "$s"}))))
		id := mustCreate(t, k, nil)
		_, err := k.Execute(context.Background(), id, "var z = 0;", ExecOptions{})
		require.NoError(t, err)
		assert.Equal(t, "var z = 0; $s.z = z;", eval.last().Code)
	})
}

func TestPending_WaitHonoursContext(t *testing.T) {
	eval := newBlockingEvaluator()
	k := newTestKernel(t, eval)
	id := mustCreate(t, k, nil)

	p, err := k.Submit(context.Background(), id, "slow", ExecOptions{})
	require.NoError(t, err)
	receive(t, eval.started)
	assert.Equal(t, id, p.SessionID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	eval.release <- struct{}{}
	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
}
