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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/cellkernel/services/kernel/transform"
	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

// Submit schedules code on a session and returns its completion handle.
//
// Description:
//
//	If the session is idle the execution starts immediately on its own
//	goroutine; otherwise it is appended to the session's FIFO queue. ctx is
//	the execution's cancellation token. It is observed before the run
//	starts and during lowering; after that only the evaluator observes it.
//
// Outputs:
//
//	*Pending - Settles with the CellResult, or with an error when the
//	           evaluator failed or the session was destroyed while queued.
//	error    - ErrSessionNotFound or ErrSessionDestroyed, synchronously.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (k *Kernel) Submit(ctx context.Context, id, code string, opts ExecOptions) (*Pending, error) {
	s, err := k.GetSession(id)
	if err != nil {
		return nil, err
	}

	q := &queuedExecution{
		ctx:        ctx,
		code:       code,
		opts:       opts,
		pending:    newPending(id),
		enqueuedAt: time.Now(),
	}
	runNow, depth, err := s.admit(q)
	if err != nil {
		return nil, err
	}
	if !runNow {
		queuedExecutions.Inc()
		k.logger.Debug("execution queued",
			slog.String("session_id", id),
			slog.Int("queue_depth", depth))
		return q.pending, nil
	}

	k.running.Add(1)
	go k.drain(s, q)
	return q.pending, nil
}

// Execute runs code on a session and waits for the result.
//
// Cancelling ctx never makes Execute return early: an execution cancelled
// before or during lowering settles with an aborted CellResult, and one
// cancelled inside the evaluator settles when the evaluator returns.
func (k *Kernel) Execute(ctx context.Context, id, code string, opts ExecOptions) (*CellResult, error) {
	p, err := k.Submit(ctx, id, code, opts)
	if err != nil {
		return nil, err
	}
	<-p.Done()
	return p.result, p.err
}

// drain runs first, then every queued execution, until the queue is empty
// or the session is destroyed.
func (k *Kernel) drain(s *Session, first *queuedExecution) {
	defer k.running.Done()
	for q := first; q != nil; q = s.next() {
		if q != first {
			queueWait.Observe(time.Since(q.enqueuedAt).Seconds())
		}
		k.runSafely(s, q)
	}
}

// runSafely runs one execution and settles its handle, converting a panic
// into an error so the queue always advances.
func (k *Kernel) runSafely(s *Session, q *queuedExecution) {
	var (
		res *CellResult
		err error
	)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, coerce(r)
			k.logger.Error("execution panicked",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()))
		}
		outcome := outcomeOf(res, err)
		executionsTotal.WithLabelValues(outcome).Inc()
		executionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		q.pending.resolve(res, err)
	}()
	res, err = k.run(s, q)
}

// run performs the four steps of one execution: abort check, optional
// lowering, evaluation and mutable-name merge.
func (k *Kernel) run(s *Session, q *queuedExecution) (*CellResult, error) {
	cellID := s.nextCellID()
	ctx, span := tracer.Start(q.ctx, "Kernel.Execute",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("cell.id", cellID),
			attribute.Int("cell.size", len(q.code)),
			attribute.String("transform.stage", k.stage.String()),
		),
	)
	defer span.End()
	start := time.Now()
	log := k.logger.With(slog.String("session_id", s.id), slog.String("cell_id", cellID))

	finish := func(res *CellResult) (*CellResult, error) {
		res.CellID = cellID
		res.Duration = time.Since(start)
		span.SetAttributes(attribute.Bool("cell.success", res.Success))
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		log.Info("execution aborted before start", slog.String("cause", err.Error()))
		span.SetStatus(codes.Error, "aborted")
		return finish(abortResult(cellID, AbortBeforeRun, err))
	}

	code := q.code
	var transformed *transform.Result

	if k.stage == TransformBeforeLowering {
		var failed *CellResult
		code, transformed, failed = k.transformCell(ctx, cellID, code, log)
		if failed != nil {
			return finish(failed)
		}
	}

	if k.lowerer != nil {
		lowered, err := k.lower(ctx, cellID, code)
		if err != nil {
			if isAbort(ctx, err) {
				log.Info("execution aborted during lowering", slog.String("cause", err.Error()))
				span.SetStatus(codes.Error, "aborted")
				return finish(abortResult(cellID, AbortInLowering, err))
			}
			log.Warn("lowering failed", slog.String("error", err.Error()))
			span.RecordError(err)
			return finish(&CellResult{Success: false, Error: fmt.Errorf("lowering failed: %w", err)})
		}
		code = lowered
	}

	if k.stage == TransformAfterLowering {
		var failed *CellResult
		code, transformed, failed = k.transformCell(ctx, cellID, code, log)
		if failed != nil {
			return finish(failed)
		}
	}

	res, err := k.evaluate(ctx, s, q, cellID, code, transformed)
	if err != nil {
		log.Error("evaluator failed", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !res.Success {
		if res.Error == nil {
			res.Error = errors.New("cell failed")
		}
		log.Debug("cell failed", slog.String("error", res.Error.Error()))
	}
	return finish(res)
}

// transformCell runs the kernel-side transformer. A non-nil CellResult
// means the run ends with it.
func (k *Kernel) transformCell(ctx context.Context, cellID, code string, log *slog.Logger) (string, *transform.Result, *CellResult) {
	res, err := k.transformer.Transform(ctx, code)
	if err == nil {
		return res.Code, res, nil
	}
	if isAbort(ctx, err) {
		log.Info("execution aborted during transform", slog.String("cause", err.Error()))
		return "", nil, abortResult(cellID, AbortInTransform, err)
	}
	log.Debug("cell rejected by transformer", slog.String("error", err.Error()))
	return "", nil, &CellResult{Success: false, Error: err}
}

// lower calls the lowering stage, converting a panic into an error.
func (k *Kernel) lower(ctx context.Context, cellID, code string) (lowered string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = coerce(r)
		}
	}()
	return k.lowerer.Lower(ctx, code, LowerOptions{CellID: cellID, Flags: k.loweringFlags})
}

// evaluate hands the cell to the evaluator with the session's live maps and
// merges the reported mutable names.
func (k *Kernel) evaluate(ctx context.Context, s *Session, q *queuedExecution, cellID, code string, transformed *transform.Result) (*CellResult, error) {
	s.bindings.Lock()
	defer s.bindings.Unlock()

	req := &EvalRequest{
		SessionID:   s.id,
		CellID:      cellID,
		Code:        code,
		Transformed: transformed,
		Scope:       s.scope,
		MutableKeys: s.mutableKeys,
		Exports:     s.exports,
		Hooks:       k.hooks(s, q.opts),
		Timeout:     k.resolveTimeout(q.opts.Timeout),
	}
	res, err := k.evaluator.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNoResult
	}

	for _, name := range res.MutableNames {
		if s.scope.Has(name) {
			s.mutableKeys.Add(name)
		}
	}
	return res, nil
}

// resolveTimeout applies ExecOptions.Timeout over the kernel default.
func (k *Kernel) resolveTimeout(requested time.Duration) time.Duration {
	switch {
	case requested > 0:
		return requested
	case requested < 0:
		return 0
	default:
		return k.defaultTimeout
	}
}

// hooks builds the host functions for one execution on s.
func (k *Kernel) hooks(s *Session, opts ExecOptions) Hooks {
	return Hooks{
		Output: outputOrDiscard(opts.Output),
		Import: func(ctx context.Context, specifier string) (value.Value, error) {
			if k.importer == nil {
				return nil, fmt.Errorf("%w: %q", ErrImportsNotConfigured, specifier)
			}
			return k.importer.Import(ctx, specifier)
		},
		SandboxImport: func(ctx context.Context, specifier string) (value.Value, error) {
			if s.sandboxRoot == "" || k.sandboxImporter == nil {
				return nil, fmt.Errorf("%w: %q", ErrSandboxNotConfigured, specifier)
			}
			return k.sandboxImporter.Import(ctx, s.sandboxRoot, specifier)
		},
	}
}

func abortResult(cellID, stage string, cause error) *CellResult {
	return &CellResult{
		Success: false,
		Error:   &AbortError{CellID: cellID, Stage: stage, Cause: cause},
	}
}

// isAbort reports whether err from a stage that received ctx means the
// execution was cancelled.
func isAbort(ctx context.Context, err error) bool {
	if errors.Is(err, ErrLoweringAborted) {
		return true
	}
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
