// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/RoraAI/RoraEngine/services/testgen/storage/badger"
)

// registryKeyPrefix is prepended to the workspace hash to form the BadgerDB
// key. Versioned (v1) to allow future storage-layout changes without
// collision; the document's own schema_version handles content evolution.
const registryKeyPrefix = "registry/v1/"

// Persister is the durable backend for registry snapshots.
//
// Load returns (nil, nil) when no document has ever been saved — a fresh
// workspace, not an error.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, raw []byte) error
}

// BadgerPersister stores one registry document per workspace in a shared
// BadgerDB instance, keyed by the workspace root's hash.
//
// Description:
//
//	The whole registry is one JSON value. Registries are small (one record
//	per generated test) and the debounced flush already coalesces writes, so
//	a single-document layout keeps snapshot atomicity trivial: the document
//	is either the old version or the new one, never a partial map.
//
// Thread Safety: Safe for concurrent use.
type BadgerPersister struct {
	db  *badgerstore.DB
	key []byte
}

// NewBadgerPersister creates a persister for one workspace.
//
// The DB is opened by the caller (typically in main) and must outlive the
// persister — this type does not own the DB lifecycle.
func NewBadgerPersister(db *badgerstore.DB, workspaceRoot string) *BadgerPersister {
	if db == nil {
		panic("NewBadgerPersister: db must not be nil")
	}
	return &BadgerPersister{db: db, key: registryKey(workspaceRoot)}
}

// Load retrieves the workspace's registry document. Returns (nil, nil) when
// the key is absent.
func (p *BadgerPersister) Load(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := p.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(p.key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get registry key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy registry value: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry load: %w", err)
	}
	return raw, nil
}

// Save writes the workspace's registry document, replacing any previous one.
func (p *BadgerPersister) Save(ctx context.Context, raw []byte) error {
	err := p.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(p.key, raw)
	})
	if err != nil {
		return fmt.Errorf("registry save: %w", err)
	}
	return nil
}

// registryKey derives the storage key for a workspace root.
func registryKey(workspaceRoot string) []byte {
	sum := sha256.Sum256([]byte(workspaceRoot))
	return []byte(registryKeyPrefix + hex.EncodeToString(sum[:]))
}
