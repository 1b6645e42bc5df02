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
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

// SaveSnapshot persists a deep copy of a session's scope and mutable keys.
//
// Outputs:
//
//	string - The snapshot id, empty when ok is false.
//	bool   - False, with no error, when the scope reaches a function.
//	error  - ErrSnapshotStoreNotConfigured, ErrSessionNotFound or a store error.
func (k *Kernel) SaveSnapshot(ctx context.Context, id string) (string, bool, error) {
	if k.snapshots == nil {
		return "", false, ErrSnapshotStoreNotConfigured
	}
	s, err := k.GetSession(id)
	if err != nil {
		return "", false, err
	}

	s.bindings.Lock()
	scope, ok := value.CloneScope(s.scope)
	mutable := s.mutableKeys.Sorted()
	s.bindings.Unlock()
	if !ok {
		return "", false, nil
	}

	rec := &SnapshotRecord{
		ID:          uuid.NewString(),
		SessionID:   s.id,
		SandboxRoot: s.sandboxRoot,
		CreatedAt:   time.Now().UTC(),
		Scope:       scope,
		MutableKeys: mutable,
	}
	if err := k.snapshots.Save(ctx, rec); err != nil {
		return "", false, fmt.Errorf("saving snapshot of %s: %w", id, err)
	}

	sessionOps.WithLabelValues("save_snapshot").Inc()
	k.logger.Info("snapshot saved",
		slog.String("session_id", id),
		slog.String("snapshot_id", rec.ID),
		slog.Int("bindings", len(scope)))
	return rec.ID, true, nil
}

// RestoreSnapshot creates a new session from a persisted snapshot. Mutable
// keys missing from the restored scope are dropped.
func (k *Kernel) RestoreSnapshot(ctx context.Context, snapshotID string) (string, error) {
	if k.snapshots == nil {
		return "", ErrSnapshotStoreNotConfigured
	}
	rec, err := k.snapshots.Load(ctx, snapshotID)
	if err != nil {
		return "", fmt.Errorf("loading snapshot %s: %w", snapshotID, err)
	}

	s := newSession(uuid.NewString(), rec.Scope.Clone(), rec.SandboxRoot)
	s.parentID = rec.SessionID
	for _, name := range rec.MutableKeys {
		if s.scope.Has(name) {
			s.mutableKeys.Add(name)
		}
	}
	if err := k.register(s); err != nil {
		return "", err
	}

	sessionOps.WithLabelValues("restore_snapshot").Inc()
	k.logger.Info("snapshot restored",
		slog.String("session_id", s.id),
		slog.String("snapshot_id", snapshotID))
	return s.id, nil
}

// ListSnapshots returns the persisted snapshots of a session id. The
// session does not need to be live.
func (k *Kernel) ListSnapshots(ctx context.Context, sessionID string) ([]*SnapshotRecord, error) {
	if k.snapshots == nil {
		return nil, ErrSnapshotStoreNotConfigured
	}
	return k.snapshots.List(ctx, sessionID)
}
