// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badger wraps BadgerDB behind a small transactional API so callers
// never touch badger.Options directly and every transaction observes context
// cancellation. The engine uses one DB per registry directory; tests use the
// in-memory configuration.
package badger

import (
	"context"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how a DB is opened.
type Config struct {
	// Path is the on-disk directory for the database. Ignored when InMemory
	// is true.
	Path string

	// InMemory opens the database without any on-disk state. Used by tests.
	InMemory bool

	// SyncWrites forces an fsync per commit. The registry's debounced flush
	// already tolerates losing the last burst of updates on crash, so this
	// defaults to false.
	SyncWrites bool
}

// DefaultConfig returns the standard on-disk configuration. The caller must
// set Path before passing it to OpenDB.
func DefaultConfig() Config {
	return Config{}
}

// InMemoryConfig returns a configuration for an ephemeral in-memory database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB wraps a BadgerDB handle.
//
// Thread Safety: Safe for concurrent use. BadgerDB transactions are
// per-goroutine.
type DB struct {
	db *dgbadger.DB
}

// OpenDB opens a BadgerDB instance for the given configuration.
//
// Description:
//
//	BadgerDB's internal logger is suppressed; open/close lifecycle events
//	are logged through slog instead, matching the rest of the engine.
//
// Outputs:
//   - *DB: Opened database. The caller owns the lifecycle and must Close.
//   - error: Non-nil if the directory cannot be created or opened.
func OpenDB(cfg Config) (*DB, error) {
	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("open badger: path must not be empty")
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil).WithSyncWrites(cfg.SyncWrites)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}

	if !cfg.InMemory {
		slog.Debug("badger store opened", slog.String("path", cfg.Path))
	}
	return &DB{db: db}, nil
}

// WithTxn runs fn inside a read-write transaction.
//
// The context is checked before the transaction starts; BadgerDB itself does
// not interrupt a transaction mid-flight.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// Close flushes and closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}
