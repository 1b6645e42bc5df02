// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/cellkernel/services/kernel"
	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

const (
	snapshotPrefix     = "snapshot/"
	sessionIndexPrefix = "session/"
)

// snapshotRecord is the stored form of a kernel.SnapshotRecord.
type snapshotRecord struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId"`
	SandboxRoot string          `json:"sandboxRoot,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Scope       json.RawMessage `json:"scope"`
	MutableKeys []string        `json:"mutableKeys"`
}

// SnapshotStore persists kernel snapshots.
//
// Scopes are stored as JSON, so a scope with a cycle cannot be saved even
// though it can be snapshotted in memory.
//
// Thread Safety: Safe for concurrent use.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a store backed by db.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

var _ kernel.SnapshotStore = (*SnapshotStore)(nil)

func snapshotKey(id string) []byte {
	return []byte(snapshotPrefix + id)
}

func sessionIndexKey(sessionID, id string) []byte {
	return []byte(sessionIndexPrefix + sessionID + "/" + id)
}

// Save writes rec and indexes it under its session.
func (s *SnapshotStore) Save(ctx context.Context, rec *kernel.SnapshotRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("snapshot record must have an id")
	}
	scope, err := value.MarshalScope(rec.Scope)
	if err != nil {
		return fmt.Errorf("encode snapshot scope: %w", err)
	}
	data, err := json.Marshal(snapshotRecord{
		ID:          rec.ID,
		SessionID:   rec.SessionID,
		SandboxRoot: rec.SandboxRoot,
		CreatedAt:   rec.CreatedAt,
		Scope:       scope,
		MutableKeys: rec.MutableKeys,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(snapshotKey(rec.ID), data); err != nil {
			return err
		}
		return txn.Set(sessionIndexKey(rec.SessionID, rec.ID), nil)
	})
}

// Load reads one snapshot. Unknown ids wrap kernel.ErrSnapshotNotFound.
func (s *SnapshotStore) Load(ctx context.Context, id string) (*kernel.SnapshotRecord, error) {
	var rec *kernel.SnapshotRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		rec, err = loadSnapshot(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func loadSnapshot(txn *badger.Txn, id string) (*kernel.SnapshotRecord, error) {
	item, err := txn.Get(snapshotKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", kernel.ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var stored snapshotRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	}); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	scope, err := value.UnmarshalScope(stored.Scope)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &kernel.SnapshotRecord{
		ID:          stored.ID,
		SessionID:   stored.SessionID,
		SandboxRoot: stored.SandboxRoot,
		CreatedAt:   stored.CreatedAt,
		Scope:       scope,
		MutableKeys: stored.MutableKeys,
	}, nil
}

// List returns the snapshots of one session, oldest first. An empty
// sessionID lists every snapshot.
func (s *SnapshotStore) List(ctx context.Context, sessionID string) ([]*kernel.SnapshotRecord, error) {
	var out []*kernel.SnapshotRecord
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		ids, err := s.snapshotIDs(txn, sessionID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			rec, err := loadSnapshot(txn, id)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *SnapshotStore) snapshotIDs(txn *badger.Txn, sessionID string) ([]string, error) {
	prefix := snapshotPrefix
	if sessionID != "" {
		prefix = sessionIndexPrefix + sessionID + "/"
	}
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), prefix))
	}
	return ids, nil
}

// Delete removes a snapshot and its index entry.
func (s *SnapshotStore) Delete(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		rec, err := loadSnapshot(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(snapshotKey(id)); err != nil {
			return err
		}
		return txn.Delete(sessionIndexKey(rec.SessionID, id))
	})
}
