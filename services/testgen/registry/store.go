// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/RoraAI/RoraEngine/services/testgen/datatypes"
)

// DefaultFlushDebounce is the default persistence coalescing window. Rapid
// successive updates (a run touching many functions) produce one durable
// write; a crash before flush loses at most the last burst.
const DefaultFlushDebounce = 500 * time.Millisecond

// Option configures a Store instance.
type Option func(*Store)

// WithPersister sets the durable backend. A nil persister leaves the store
// in-memory only, which is the correct mode for tests.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithFlushDebounce overrides the persistence coalescing window.
func WithFlushDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// withStat overrides the file-existence probe for tests.
func withStat(stat func(string) bool) Option {
	return func(s *Store) { s.fileExists = stat }
}

// Store holds all bindings for one workspace.
//
// Description:
//
//	Reads are always served from the in-memory map. Every mutation marks the
//	store dirty and schedules a debounced flush; the flush serializes a
//	consistent snapshot under the store lock and writes it outside the lock.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	workspaceRoot string
	testRoot      string

	mu       sync.Mutex
	bindings map[string]Binding
	dirty    bool
	pending  *time.Timer
	closed   bool

	persist    Persister
	debounce   time.Duration
	logger     *slog.Logger
	now        func() time.Time
	fileExists func(string) bool
}

// NewStore creates a Store for the given workspace and loads any persisted
// snapshot.
//
// Description:
//
//	A persisted document with an unrecognized schema version is discarded and
//	the store starts empty — corruption is logged, never propagated. A load
//	error from the backend is treated the same way: the registry is
//	rebuildable from test-file contents, so starting empty beats failing
//	startup.
//
// Inputs:
//   - workspaceRoot: Absolute path of the workspace. Identity of the
//     persisted document.
//   - testRoot: Name of the test directory used by DeriveTestFilePath.
//   - opts: Optional configuration (WithPersister, WithFlushDebounce, WithLogger).
//
// Outputs:
//   - *Store: Ready-to-use store. Never nil.
func NewStore(workspaceRoot, testRoot string, opts ...Option) *Store {
	s := &Store{
		workspaceRoot: workspaceRoot,
		testRoot:      testRoot,
		bindings:      make(map[string]Binding),
		debounce:      DefaultFlushDebounce,
		logger:        slog.Default(),
		now:           time.Now,
		fileExists: func(path string) bool {
			info, err := os.Stat(path)
			return err == nil && !info.IsDir()
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.load()
	return s
}

// load reads the persisted snapshot into memory. Called once at construction.
func (s *Store) load() {
	if s.persist == nil {
		return
	}

	raw, err := s.persist.Load(context.Background())
	if err != nil {
		s.logger.Warn("registry load failed, starting empty",
			slog.String("workspace", s.workspaceRoot),
			slog.String("error", err.Error()))
		return
	}
	if raw == nil {
		return
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("registry document unreadable, starting empty",
			slog.String("workspace", s.workspaceRoot),
			slog.String("error", err.Error()))
		return
	}
	if doc.SchemaVersion != SchemaVersion {
		s.logger.Warn("registry schema version mismatch, discarding document",
			slog.Int("found", doc.SchemaVersion),
			slog.Int("expected", SchemaVersion))
		return
	}

	if doc.Bindings != nil {
		s.bindings = doc.Bindings
	}
	s.logger.Info("registry loaded",
		slog.String("workspace", s.workspaceRoot),
		slog.Int("bindings", len(s.bindings)))
}

// Register upserts a binding, stamping GeneratedAt to now.
//
// Idempotent under repeated calls with identical content apart from the
// timestamp. Run history (LastRunAt/LastResult) of an existing binding
// survives regeneration.
func (s *Store) Register(b Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(b.SourceFile, b.FunctionName)
	b.GeneratedAt = s.now()

	if prev, ok := s.bindings[key]; ok {
		b.LastRunAt = prev.LastRunAt
		b.LastResult = prev.LastResult
	}
	s.bindings[key] = b
	s.markDirtyLocked()
}

// Get returns the binding for a (source file, function name) pair.
func (s *Store) Get(sourceFile, functionName string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[Key(sourceFile, functionName)]
	return b, ok
}

// HasTest reports whether a binding exists AND its test file is still present
// on disk. A binding whose test file was deleted externally reports false
// rather than a stale positive.
func (s *Store) HasTest(sourceFile, functionName string) bool {
	b, ok := s.Get(sourceFile, functionName)
	if !ok {
		return false
	}
	return s.fileExists(b.TestFile)
}

// UpdateResult records the rollup status of a completed run.
//
// A result for an unregistered function is a data integrity signal, not a
// crash: it is logged and dropped.
func (s *Store) UpdateResult(sourceFile, functionName string, status datatypes.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(sourceFile, functionName)
	b, ok := s.bindings[key]
	if !ok {
		s.logger.Warn("result for unregistered function dropped",
			slog.String("source_file", sourceFile),
			slog.String("function", functionName),
			slog.String("status", string(status)))
		return
	}

	ts := s.now()
	b.LastRunAt = &ts
	b.LastResult = status
	s.bindings[key] = b
	s.markDirtyLocked()
}

// Remove deletes a binding. It does not delete the underlying test file —
// callers delete the file first, then the registry entry, so a crash
// mid-operation leaves an orphan that HasTest correctly reports as false.
//
// Returns true if a binding was removed.
func (s *Store) Remove(sourceFile, functionName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(sourceFile, functionName)
	if _, ok := s.bindings[key]; !ok {
		return false
	}
	delete(s.bindings, key)
	s.markDirtyLocked()
	return true
}

// Bindings returns a snapshot of all bindings, in no particular order.
func (s *Store) Bindings() []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	return out
}

// Len returns the number of bindings.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings)
}

// DeriveTestFilePath applies the workspace's configured test root.
func (s *Store) DeriveTestFilePath(sourceFile string) string {
	return DeriveTestFilePath(sourceFile, s.workspaceRoot, s.testRoot)
}

// markDirtyLocked schedules a debounced flush. Caller holds s.mu. At most
// one flush is pending at a time, so a burst of mutations produces exactly
// one durable write once the window elapses.
func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.persist == nil || s.pending != nil || s.closed {
		return
	}
	s.pending = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Warn("registry flush failed", slog.String("error", err.Error()))
		}
	})
}

// Flush writes a consistent snapshot to the durable backend immediately.
//
// Description:
//
//	The snapshot is serialized under the store lock so no mutation can be
//	half-visible; the backend write happens outside the lock. A no-op when
//	the store is clean or has no persister.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	if s.persist == nil || !s.dirty {
		s.mu.Unlock()
		return nil
	}

	raw, err := json.Marshal(document{
		SchemaVersion: SchemaVersion,
		Bindings:      s.bindings,
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("marshal registry document: %w", err)
	}
	s.dirty = false
	count := len(s.bindings)
	s.mu.Unlock()

	if err := s.persist.Save(ctx, raw); err != nil {
		// Leave the data in memory and re-mark dirty so the next mutation
		// retries the write.
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("persist registry document: %w", err)
	}

	s.logger.Debug("registry flushed", slog.Int("bindings", count))
	return nil
}

// Close flushes any pending changes and stops the debounce timer. The store
// must not be used after Close.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush(ctx)
}
