// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry is the durable mapping from (source file, function name)
// to the test artifact that exercises it. The in-memory map is the single
// source of truth during a session; a debounced flush persists a versioned
// snapshot document, and a registry lost to corruption is rebuildable because
// test-file paths derive deterministically from source paths alone.
package registry

import (
	"fmt"
	"time"

	"github.com/RoraAI/RoraEngine/services/testgen/datatypes"
)

// SchemaVersion tags the persisted registry document. A document loaded with
// any other version is discarded and the registry reinitialized empty rather
// than partially trusted.
const SchemaVersion = 1

// Binding links one source function to its generated test artifact and last
// known result.
//
// Description:
//
//	A binding exists only after a successful generation. TestFile always
//	equals DeriveTestFilePath(SourceFile, ...) for the workspace's test root;
//	the derivation never consults the registry, so a lost registry can be
//	rebuilt by re-scanning source and test roots.
type Binding struct {
	// SourceFile is the absolute path of the source file. Immutable identity
	// component.
	SourceFile string `json:"source_file"`

	// FunctionName identifies the function within SourceFile. Uniqueness is
	// scoped to SourceFile.
	FunctionName string `json:"function_name"`

	// TestFile is the path of the file holding the generated test code.
	TestFile string `json:"test_file"`

	// TestFunctionName is the identifier inside TestFile that exercises the
	// function. May change on regeneration.
	TestFunctionName string `json:"test_function_name"`

	// GeneratedAt is the timestamp of the last successful generation.
	GeneratedAt time.Time `json:"generated_at"`

	// LastRunAt is the timestamp of the last completed execution. Nil if the
	// test has never run.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastResult is the rollup status of the last completed execution. Empty
	// if the test has never run.
	LastResult datatypes.Status `json:"last_result,omitempty"`
}

// Key returns the composite registry key for a (source file, function name)
// pair. The format is part of the persisted document and must stay stable.
func Key(sourceFile, functionName string) string {
	return fmt.Sprintf("%s:%s", sourceFile, functionName)
}

// document is the persisted registry snapshot.
type document struct {
	SchemaVersion int                `json:"schema_version"`
	Bindings      map[string]Binding `json:"bindings"`
}
