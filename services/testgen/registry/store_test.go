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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoraAI/RoraEngine/services/testgen/datatypes"
	badgerstore "github.com/RoraAI/RoraEngine/services/testgen/storage/badger"
)

// openTestDB opens an in-memory BadgerDB for testing.
func openTestDB(t *testing.T) *badgerstore.DB {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func alwaysExists(string) bool { return true }
func neverExists(string) bool  { return false }

func testBinding() Binding {
	return Binding{
		SourceFile:       "/proj/pkg/math.py",
		FunctionName:     "calculate_sum",
		TestFile:         "/proj/tests/pkg/test_math.py",
		TestFunctionName: "test_calculate_sum",
	}
}

func TestDeriveTestFilePath_Deterministic(t *testing.T) {
	cases := []struct {
		name       string
		sourceFile string
		root       string
		testRoot   string
		want       string
	}{
		{
			name:       "nested source",
			sourceFile: "/proj/pkg/util/math.py",
			root:       "/proj",
			testRoot:   "tests",
			want:       filepath.Join("/proj", "tests", "pkg", "util", "test_math.py"),
		},
		{
			name:       "root-level source",
			sourceFile: "/proj/app.py",
			root:       "/proj",
			testRoot:   "tests",
			want:       filepath.Join("/proj", "tests", "test_app.py"),
		},
		{
			name:       "custom test root",
			sourceFile: "/proj/pkg/io.py",
			root:       "/proj",
			testRoot:   "spec",
			want:       filepath.Join("/proj", "spec", "pkg", "test_io.py"),
		},
		{
			name:       "source outside project root",
			sourceFile: "/elsewhere/thing.py",
			root:       "/proj",
			testRoot:   "tests",
			want:       filepath.Join("/proj", "tests", "test_thing.py"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first := DeriveTestFilePath(tc.sourceFile, tc.root, tc.testRoot)
			assert.Equal(t, tc.want, first)
			// Pure: same value on every call.
			for i := 0; i < 3; i++ {
				assert.Equal(t, first, DeriveTestFilePath(tc.sourceFile, tc.root, tc.testRoot))
			}
		})
	}
}

func TestStore_RegisterAndGet(t *testing.T) {
	s := NewStore("/proj", "tests", withStat(alwaysExists))
	s.Register(testBinding())

	b, ok := s.Get("/proj/pkg/math.py", "calculate_sum")
	require.True(t, ok)
	assert.Equal(t, "test_calculate_sum", b.TestFunctionName)
	assert.False(t, b.GeneratedAt.IsZero())

	_, ok = s.Get("/proj/pkg/math.py", "other_function")
	assert.False(t, ok)
}

func TestStore_RegisterPreservesRunHistory(t *testing.T) {
	s := NewStore("/proj", "tests", withStat(alwaysExists))
	s.Register(testBinding())
	s.UpdateResult("/proj/pkg/math.py", "calculate_sum", datatypes.StatusFailed)

	// Regeneration may change the test function name but keeps run history.
	b := testBinding()
	b.TestFunctionName = "test_calculate_sum_v2"
	s.Register(b)

	got, ok := s.Get("/proj/pkg/math.py", "calculate_sum")
	require.True(t, ok)
	assert.Equal(t, "test_calculate_sum_v2", got.TestFunctionName)
	assert.Equal(t, datatypes.StatusFailed, got.LastResult)
	require.NotNil(t, got.LastRunAt)
}

func TestStore_HasTest_RequiresFileOnDisk(t *testing.T) {
	s := NewStore("/proj", "tests", withStat(neverExists))
	s.Register(testBinding())

	// Binding exists but the test file was deleted externally.
	assert.False(t, s.HasTest("/proj/pkg/math.py", "calculate_sum"))

	s2 := NewStore("/proj", "tests", withStat(alwaysExists))
	s2.Register(testBinding())
	assert.True(t, s2.HasTest("/proj/pkg/math.py", "calculate_sum"))

	// No binding at all.
	assert.False(t, s2.HasTest("/proj/pkg/math.py", "missing"))
}

func TestStore_UpdateResult_UnregisteredIsDropped(t *testing.T) {
	s := NewStore("/proj", "tests")

	// Must not panic, must not create a binding.
	s.UpdateResult("/proj/pkg/math.py", "ghost", datatypes.StatusPassed)
	assert.Equal(t, 0, s.Len())
}

func TestStore_Remove(t *testing.T) {
	s := NewStore("/proj", "tests")
	s.Register(testBinding())

	assert.True(t, s.Remove("/proj/pkg/math.py", "calculate_sum"))
	assert.False(t, s.Remove("/proj/pkg/math.py", "calculate_sum"))
	assert.Equal(t, 0, s.Len())
}

func TestStore_PersistRoundTrip(t *testing.T) {
	db := openTestDB(t)
	p := NewBadgerPersister(db, "/proj")

	s := NewStore("/proj", "tests", WithPersister(p), withStat(alwaysExists))
	s.Register(testBinding())
	s.UpdateResult("/proj/pkg/math.py", "calculate_sum", datatypes.StatusPassed)
	require.NoError(t, s.Close(context.Background()))

	// A second store over the same backend sees the flushed state.
	s2 := NewStore("/proj", "tests", WithPersister(p), withStat(alwaysExists))
	b, ok := s2.Get("/proj/pkg/math.py", "calculate_sum")
	require.True(t, ok)
	assert.Equal(t, datatypes.StatusPassed, b.LastResult)
}

func TestStore_DebouncedFlushCoalesces(t *testing.T) {
	db := openTestDB(t)
	p := NewBadgerPersister(db, "/proj")

	s := NewStore("/proj", "tests", WithPersister(p), WithFlushDebounce(30*time.Millisecond))
	for i := 0; i < 5; i++ {
		b := testBinding()
		b.FunctionName = b.FunctionName + string(rune('a'+i))
		s.Register(b)
	}

	// Nothing durable yet inside the window... possibly; after the window,
	// everything must be visible to a fresh store.
	time.Sleep(120 * time.Millisecond)

	s2 := NewStore("/proj", "tests", WithPersister(p))
	assert.Equal(t, 5, s2.Len())
}

func TestStore_SchemaVersionMismatchResetsEmpty(t *testing.T) {
	db := openTestDB(t)
	p := NewBadgerPersister(db, "/proj")

	doc := map[string]any{
		"schema_version": 99,
		"bindings": map[string]any{
			"a:b": map[string]any{"source_file": "a", "function_name": "b"},
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, p.Save(context.Background(), raw))

	s := NewStore("/proj", "tests", WithPersister(p))
	assert.Equal(t, 0, s.Len(), "unrecognized schema version must reset empty")
}

func TestStore_CorruptDocumentResetsEmpty(t *testing.T) {
	db := openTestDB(t)
	p := NewBadgerPersister(db, "/proj")
	require.NoError(t, p.Save(context.Background(), []byte("{not json")))

	s := NewStore("/proj", "tests", WithPersister(p))
	assert.Equal(t, 0, s.Len())
}

func TestStore_ClockStampsResults(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore("/proj", "tests", withClock(func() time.Time { return fixed }))
	s.Register(testBinding())
	s.UpdateResult("/proj/pkg/math.py", "calculate_sum", datatypes.StatusSkipped)

	b, _ := s.Get("/proj/pkg/math.py", "calculate_sum")
	assert.Equal(t, fixed, b.GeneratedAt)
	require.NotNil(t, b.LastRunAt)
	assert.Equal(t, fixed, *b.LastRunAt)
}
