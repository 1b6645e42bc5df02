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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/cellkernel/services/kernel"
	"github.com/AleutianAI/cellkernel/services/kernel/value"
)

const (
	blobPrefix   = "blob/"
	modulePrefix = "module/"
)

var (
	// ErrModuleNotFound indicates no module is stored at the resolved path.
	ErrModuleNotFound = errors.New("module not found")

	// ErrPathEscape indicates a specifier that resolves above its root.
	ErrPathEscape = errors.New("module path escapes sandbox root")
)

// ModuleStore is a content-addressed store of sandbox module sources.
//
// Description:
//
//	Sources are stored once under their SHA-256 digest; each sandbox root
//	maps cleaned module paths to digests, so identical files in different
//	notebooks share one blob. ModuleStore implements
//	kernel.SandboxImporter.
//
// Thread Safety: Safe for concurrent use.
type ModuleStore struct {
	db *DB
}

// NewModuleStore creates a store backed by db.
func NewModuleStore(db *DB) *ModuleStore {
	return &ModuleStore{db: db}
}

var _ kernel.SandboxImporter = (*ModuleStore)(nil)

// Digest returns the hex SHA-256 of source.
func Digest(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// ResolvePath cleans a sandbox specifier into a root-relative path.
//
// "./a/b.js", "a/b.js" and "/a/b.js" all resolve to "a/b.js". A specifier
// that climbs above the root, such as "../x.js", fails with ErrPathEscape.
func ResolvePath(specifier string) (string, error) {
	spec := strings.TrimPrefix(specifier, "/")
	if spec == "" {
		return "", fmt.Errorf("%w: empty specifier", ErrModuleNotFound)
	}
	cleaned := path.Clean(spec)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, specifier)
	}
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrModuleNotFound, specifier)
	}
	return cleaned, nil
}

// moduleKey is module/<hex root>/<path>. The root is hex-encoded so that
// nested roots such as "/nb" and "/nb/sub" never share a key prefix.
func moduleKey(root, p string) []byte {
	return []byte(modulePrefix + hex.EncodeToString([]byte(root)) + "/" + p)
}

// Put stores source at path inside root and returns its digest.
func (m *ModuleStore) Put(ctx context.Context, root, p, source string) (string, error) {
	if root == "" {
		return "", errors.New("sandbox root must not be empty")
	}
	resolved, err := ResolvePath(p)
	if err != nil {
		return "", err
	}
	digest := Digest(source)

	err = m.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte(blobPrefix+digest), []byte(source)); err != nil {
			return err
		}
		return txn.Set(moduleKey(root, resolved), []byte(digest))
	})
	if err != nil {
		return "", fmt.Errorf("store module %s/%s: %w", root, resolved, err)
	}
	return digest, nil
}

// Get returns the source and digest stored at path inside root.
func (m *ModuleStore) Get(ctx context.Context, root, specifier string) (source, digest string, err error) {
	resolved, err := ResolvePath(specifier)
	if err != nil {
		return "", "", err
	}
	err = m.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(moduleKey(root, resolved))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s in %s", ErrModuleNotFound, resolved, root)
		}
		if err != nil {
			return err
		}
		ref, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		digest = string(ref)

		blob, err := txn.Get([]byte(blobPrefix + digest))
		if err != nil {
			return fmt.Errorf("load blob %s: %w", digest, err)
		}
		data, err := blob.ValueCopy(nil)
		if err != nil {
			return err
		}
		source = string(data)
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return source, digest, nil
}

// Import resolves specifier inside root and returns the module as an object
// {specifier, path, digest, source} for the evaluator to instantiate.
func (m *ModuleStore) Import(ctx context.Context, root, specifier string) (value.Value, error) {
	source, digest, err := m.Get(ctx, root, specifier)
	if err != nil {
		return nil, err
	}
	resolved, _ := ResolvePath(specifier)
	return value.NewObject(map[string]value.Value{
		"specifier": value.String(specifier),
		"path":      value.String(resolved),
		"digest":    value.String(digest),
		"source":    value.String(source),
	}), nil
}

// List returns the module paths stored under root in key order.
func (m *ModuleStore) List(ctx context.Context, root string) ([]string, error) {
	prefix := string(moduleKey(root, ""))
	var paths []string
	err := m.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			paths = append(paths, strings.TrimPrefix(string(it.Item().Key()), prefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
