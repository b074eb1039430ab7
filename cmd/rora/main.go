// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command rora is the terminal client for a running Rora engine.
//
// Usage:
//
//	rora generate app.py parse_row
//	rora run app.py parse_row
//	rora status app.py parse_row
//	rora parse app.py
//	rora bindings
//
// The engine URL defaults to http://localhost:8321 and can be overridden
// with --engine or RORA_ENGINE_URL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// engineURL holds the --engine flag value.
var engineURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "rora",
		Short: "Client for the Rora test generation engine",
		Long: "rora talks to a running Rora engine: generate unit tests for Python\n" +
			"functions, run them, and inspect the binding registry.",
	}
	rootCmd.PersistentFlags().StringVar(&engineURL, "engine", "",
		"Engine base URL (default http://localhost:8321, env RORA_ENGINE_URL)")

	rootCmd.AddCommand(
		newGenerateCmd(),
		newRunCmd(),
		newStatusCmd(),
		newParseCmd(),
		newBindingsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getEngineBaseURL resolves the engine URL: flag, then environment, then the
// default loopback address.
func getEngineBaseURL() string {
	if engineURL != "" {
		return engineURL
	}
	if url := os.Getenv("RORA_ENGINE_URL"); url != "" {
		return url
	}
	return "http://localhost:8321"
}
