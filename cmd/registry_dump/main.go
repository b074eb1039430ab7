// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// registry_dump inspects a Rora engine binding registry.
//
// The registry persists function-to-test bindings in BadgerDB between engine
// restarts, one JSON document per workspace keyed by the workspace root's
// hash. This tool opens the database read-only and prints a human-readable
// summary: workspace hashes, schema versions, and every binding with its
// last result.
//
// Usage:
//
//	registry_dump [--path /path/to/.rora/registry]
//
// If --path is not given, reads RORA_REGISTRY_DIR from the environment,
// falling back to .rora/registry under the working directory.
//
// Exit codes:
//
//	0 — success (including "empty registry" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// registryKeyPrefix must match persist.go exactly.
const registryKeyPrefix = "registry/v1/"

// document mirrors the registry's persisted JSON layout.
type document struct {
	SchemaVersion int                `json:"schema_version"`
	Bindings      map[string]binding `json:"bindings"`
}

type binding struct {
	SourceFile       string     `json:"source_file"`
	FunctionName     string     `json:"function_name"`
	TestFile         string     `json:"test_file"`
	TestFunctionName string     `json:"test_function_name"`
	GeneratedAt      time.Time  `json:"generated_at"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty"`
	LastResult       string     `json:"last_result,omitempty"`
}

func main() {
	pathFlag := flag.String("path", "", "Path to registry BadgerDB directory (overrides RORA_REGISTRY_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("RORA_REGISTRY_DIR")
	}
	if dbPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fatalf("cannot resolve working directory: %v", err)
		}
		dbPath = filepath.Join(cwd, ".rora", "registry")
	}

	fmt.Printf("Registry path: %s\n", dbPath)

	// Check existence before trying to open for a cleaner error message than
	// BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Registry directory does not exist. The engine has not yet persisted any bindings.")
		fmt.Println("Generate a test through the engine to populate it.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	type entry struct {
		key           string
		workspaceHash string
		rawSize       int
		doc           document
		decodeErr     error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		iopts := dgbadger.DefaultIteratorOptions
		iopts.PrefetchValues = true
		it := txn.NewIterator(iopts)
		defer it.Close()

		prefix := []byte(registryKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			var e entry
			e.key = key
			e.workspaceHash = strings.TrimPrefix(key, registryKeyPrefix)

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)
			if err := json.Unmarshal(raw, &e.doc); err != nil {
				e.decodeErr = fmt.Errorf("json decode: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo registry documents found.")
		fmt.Println("The engine opened the database but has not generated any tests yet.")
		os.Exit(0)
	}

	fmt.Printf("\nFound %d workspace document%s:\n", len(entries), plural(len(entries)))
	fmt.Println(strings.Repeat("-", 80))

	for i, e := range entries {
		fmt.Printf("\n[%d] Key:            %s\n", i+1, e.key)
		fmt.Printf("    Workspace hash: %s\n", e.workspaceHash)
		fmt.Printf("    Raw size:       %d bytes\n", e.rawSize)

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		fmt.Printf("    Schema:         v%d\n", e.doc.SchemaVersion)
		fmt.Printf("    Bindings:       %d\n", len(e.doc.Bindings))

		keys := make([]string, 0, len(e.doc.Bindings))
		for k := range e.doc.Bindings {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			b := e.doc.Bindings[k]
			result := b.LastResult
			if result == "" {
				result = "never run"
			} else if b.LastRunAt != nil {
				result = fmt.Sprintf("%s at %s", result, b.LastRunAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("\n    %s\n", k)
			fmt.Printf("      test:      %s :: %s\n", b.TestFile, b.TestFunctionName)
			fmt.Printf("      generated: %s\n", b.GeneratedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("      result:    %s\n", result)
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("-", 80))
	fmt.Printf("Summary: %d document%s, registry path: %s\n", len(entries), plural(len(entries)), dbPath)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "registry_dump: "+format+"\n", args...)
	os.Exit(1)
}
