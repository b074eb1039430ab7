// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// regenerateFlag holds the --regenerate flag value for the generate command.
var regenerateFlag bool

// Wire bodies mirrored from the engine's HTTP surface.

type functionRequest struct {
	SourceFile   string `json:"source_file"`
	FunctionName string `json:"function_name"`
	Regenerate   bool   `json:"regenerate,omitempty"`
}

type bindingInfo struct {
	SourceFile       string `json:"source_file"`
	FunctionName     string `json:"function_name"`
	TestFile         string `json:"test_file"`
	TestFunctionName string `json:"test_function_name"`
	GeneratedAt      string `json:"generated_at"`
	LastRunAt        string `json:"last_run_at,omitempty"`
	LastResult       string `json:"last_result,omitempty"`
}

type generateResponse struct {
	RequestID string      `json:"request_id"`
	Binding   bindingInfo `json:"binding"`
}

type outcomeInfo struct {
	Name    string `json:"name"`
	Status  string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

type runResponse struct {
	RequestID string       `json:"request_id"`
	Generated *bindingInfo `json:"generated,omitempty"`
	Report    struct {
		Updates []struct {
			FunctionName string `json:"function_name"`
			Status       string `json:"status"`
			Passed       int    `json:"passed"`
			Total        int    `json:"total"`
		} `json:"updates"`
		Unmapped []outcomeInfo `json:"unmapped"`
	} `json:"report"`
	Summary []string `json:"summary"`
}

type statusResponse struct {
	State   string       `json:"state"`
	Binding *bindingInfo `json:"binding,omitempty"`
}

type parseResponse struct {
	FilePath  string `json:"file_path"`
	Functions []struct {
		Name      string `json:"name"`
		StartLine int    `json:"lineno"`
		EndLine   int    `json:"end_lineno"`
		Signature string `json:"signature"`
		ClassName string `json:"class_name,omitempty"`
		IsAsync   bool   `json:"is_async,omitempty"`
	} `json:"functions"`
	Err string `json:"error,omitempty"`
}

type engineError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <source-file> <function>",
		Short: "Generate a unit test for a Python function",
		Args:  cobra.ExactArgs(2),
		Run:   runGenerateCommand,
	}
	cmd.Flags().BoolVar(&regenerateFlag, "regenerate", false,
		"Replace the existing generated test instead of keeping it")
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <source-file> <function>",
		Short: "Run a function's test, generating it first if needed",
		Args:  cobra.ExactArgs(2),
		Run:   runRunCommand,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <source-file> <function>",
		Short: "Show the binding and operation state for a function",
		Args:  cobra.ExactArgs(2),
		Run:   runStatusCommand,
	}
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <source-file>",
		Short: "List the testable functions in a Python file",
		Args:  cobra.ExactArgs(1),
		Run:   runParseCommand,
	}
}

func newBindingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bindings",
		Short: "List every registered function-to-test binding",
		Args:  cobra.NoArgs,
		Run:   runBindingsCommand,
	}
}

func runGenerateCommand(_ *cobra.Command, args []string) {
	sourceFile := mustAbs(args[0])
	fmt.Printf("Generating test for %s in %s\n", args[1], sourceFile)

	var resp generateResponse
	err := postJSON("/v1/testgen/generate", functionRequest{
		SourceFile:   sourceFile,
		FunctionName: args[1],
		Regenerate:   regenerateFlag,
	}, &resp)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("\nGenerated %s\n", resp.Binding.TestFunctionName)
	fmt.Printf("Test file: %s\n", resp.Binding.TestFile)
}

func runRunCommand(_ *cobra.Command, args []string) {
	sourceFile := mustAbs(args[0])
	fmt.Printf("Running test for %s in %s\n", args[1], sourceFile)

	var resp runResponse
	err := postJSON("/v1/testgen/run", functionRequest{
		SourceFile:   sourceFile,
		FunctionName: args[1],
	}, &resp)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if resp.Generated != nil {
		fmt.Printf("\nGenerated %s first (no test existed)\n", resp.Generated.TestFunctionName)
	}
	fmt.Println()
	for _, u := range resp.Report.Updates {
		fmt.Printf("%s: %s (%d/%d passed)\n", u.FunctionName, u.Status, u.Passed, u.Total)
	}
	if len(resp.Report.Updates) == 0 {
		fmt.Println("(no outcomes attributed to registered functions)")
	}
	for _, o := range resp.Report.Unmapped {
		fmt.Printf("unmapped: %s %s\n", o.Name, o.Status)
	}
}

func runStatusCommand(_ *cobra.Command, args []string) {
	sourceFile := mustAbs(args[0])

	params := url.Values{}
	params.Set("source_file", sourceFile)
	params.Set("function_name", args[1])

	var resp statusResponse
	if err := getJSON(getEngineBaseURL()+"/v1/testgen/status?"+params.Encode(), &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("State: %s\n", resp.State)
	if resp.Binding == nil {
		fmt.Println("No test registered.")
		return
	}
	fmt.Printf("Test: %s in %s\n", resp.Binding.TestFunctionName, resp.Binding.TestFile)
	fmt.Printf("Generated at: %s\n", resp.Binding.GeneratedAt)
	if resp.Binding.LastResult != "" {
		fmt.Printf("Last result: %s (at %s)\n", resp.Binding.LastResult, resp.Binding.LastRunAt)
	} else {
		fmt.Println("Never run.")
	}
}

func runParseCommand(_ *cobra.Command, args []string) {
	sourceFile := mustAbs(args[0])

	var resp parseResponse
	err := postJSON("/v1/testgen/parse", map[string]string{"file_path": sourceFile}, &resp)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if resp.Err != "" {
		fmt.Printf("Warning: %s\n", resp.Err)
	}
	if len(resp.Functions) == 0 {
		fmt.Println("No testable functions found.")
		return
	}
	for _, fn := range resp.Functions {
		name := fn.Name
		if fn.ClassName != "" {
			name = fn.ClassName + "." + name
		}
		async := ""
		if fn.IsAsync {
			async = " (async)"
		}
		fmt.Printf("%4d-%-4d %s%s\n", fn.StartLine, fn.EndLine, name, async)
	}
}

func runBindingsCommand(_ *cobra.Command, _ []string) {
	var resp struct {
		Bindings []bindingInfo `json:"bindings"`
	}
	if err := getJSON(getEngineBaseURL()+"/v1/testgen/bindings", &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if len(resp.Bindings) == 0 {
		fmt.Println("No bindings registered.")
		return
	}
	for _, b := range resp.Bindings {
		result := b.LastResult
		if result == "" {
			result = "never run"
		}
		fmt.Printf("%s:%s -> %s [%s]\n", b.SourceFile, b.FunctionName, b.TestFile, result)
	}
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		log.Fatalf("Error resolving %s: %v", path, err)
	}
	return abs
}

// httpClient allows generation and execution to take a while.
var httpClient = &http.Client{Timeout: 3 * time.Minute}

func postJSON(path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(getEngineBaseURL()+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to reach engine: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func getJSON(url string, out any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach engine: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var engineErr engineError
		if json.Unmarshal(raw, &engineErr) == nil && engineErr.Error != "" {
			return fmt.Errorf("engine returned %s: %s", engineErr.Code, engineErr.Error)
		}
		return fmt.Errorf("engine returned status %d", resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}
