// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runner executes generated tests through a pytest subprocess and
// parses the verbose output into per-test outcomes. Individual test
// failures are data, not errors: the runner only fails when the process
// itself could not produce outcomes (missing file, collection error,
// timeout).
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/RoraAI/RoraEngine/services/testgen/datatypes"
)

// tracerName is the OTel tracer for test execution.
const tracerName = "rora.testgen.runner"

// DefaultTimeout caps one pytest invocation. A generated unit test suite
// that runs longer than a minute is stuck, not slow.
const DefaultTimeout = 60 * time.Second

// DefaultPython is the interpreter used to launch pytest.
const DefaultPython = "python3"

// maxErrorOutput bounds how much subprocess output rides in an error.
const maxErrorOutput = 500

// Sentinel errors for execution failures.
var (
	// ErrTestFileMissing means the test file is not on disk.
	ErrTestFileMissing = errors.New("test file does not exist")

	// ErrExecutionFailed means pytest exited non-zero without producing any
	// test outcomes — a collection or import error, not a test failure.
	ErrExecutionFailed = errors.New("test execution failed")

	// ErrExecutionTimeout means the subprocess hit the hard timeout.
	ErrExecutionTimeout = errors.New("test execution timed out")
)

// Result is one pytest invocation's parsed outcome set.
type Result struct {
	Outcomes []datatypes.TestOutcome `json:"outcomes"`
	Total    int                     `json:"total"`
	Passed   int                     `json:"passed"`
	Failed   int                     `json:"failed"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout overrides the subprocess timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPython sets the interpreter binary.
func WithPython(python string) Option {
	return func(r *Runner) {
		if python != "" {
			r.python = python
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Runner launches pytest subprocesses.
//
// Thread Safety: Safe for concurrent use; the coordinator serializes runs
// anyway.
type Runner struct {
	python  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a Runner with the given options.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		python:  DefaultPython,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes pytest against one test file.
//
// Description:
//
//	Invokes `python -m pytest <file> -v --tb=short`, scoped with -k to the
//	test function identifier when given. The working directory is the test
//	file's directory so relative imports resolve the way the editor user
//	expects.
//
// Outputs:
//   - *Result: Parsed outcomes. Failing tests appear here, not in error.
//   - error: ErrTestFileMissing, ErrExecutionTimeout, ErrExecutionFailed
//     (no outcomes and non-zero exit), or context errors.
func (r *Runner) Run(ctx context.Context, testFile, testFunction string) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.pytest")
	defer span.End()
	span.SetAttributes(
		attribute.String("test_file", testFile),
		attribute.String("test_function", testFunction),
	)

	if _, err := os.Stat(testFile); err != nil {
		span.SetStatus(codes.Error, "test file missing")
		return nil, fmt.Errorf("%w: %s", ErrTestFileMissing, testFile)
	}

	args := []string{"-m", "pytest", testFile, "-v", "--tb=short"}
	if testFunction != "" {
		args = append(args, "-k="+testFunction)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.python, args...)
	cmd.Dir = filepath.Dir(testFile)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		recordRunMetrics(elapsed, "timeout")
		span.SetStatus(codes.Error, "timeout")
		return nil, fmt.Errorf("%w after %s", ErrExecutionTimeout, r.timeout)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// Non-zero exit is expected when tests fail; the output decides.
			exitCode = exitErr.ExitCode()
		} else {
			recordRunMetrics(elapsed, "error")
			span.SetStatus(codes.Error, "spawn failed")
			return nil, fmt.Errorf("%w: launching %s: %v", ErrExecutionFailed, r.python, runErr)
		}
	}

	result, err := ParseOutput(stdout.String(), stderr.String(), exitCode)
	if err != nil {
		recordRunMetrics(elapsed, "error")
		span.SetStatus(codes.Error, "no outcomes")
		return nil, err
	}

	r.logger.Info("pytest run completed",
		slog.String("test_file", testFile),
		slog.Int("total", result.Total),
		slog.Int("passed", result.Passed),
		slog.Int("failed", result.Failed),
		slog.Duration("elapsed", elapsed))
	recordRunMetrics(elapsed, "success")
	span.SetAttributes(attribute.Int("outcomes", result.Total))

	return result, nil
}

// ParseOutput extracts per-test outcomes from pytest verbose output.
//
// Description:
//
//	Scans for result lines of the form
//	"test_file.py::test_name PASSED [ 50%]" and maps each marker to a
//	TestOutcome. Failed and errored tests get a failure message pulled from
//	the FAILURES section. When no outcomes were found and pytest exited
//	non-zero, the whole invocation failed — that is ErrExecutionFailed with
//	the truncated process output as context.
func ParseOutput(stdout, stderr string, exitCode int) (*Result, error) {
	result := &Result{Outcomes: []datatypes.TestOutcome{}}

	markers := []struct {
		token  string
		status datatypes.Status
	}{
		{" PASSED", datatypes.StatusPassed},
		{" FAILED", datatypes.StatusFailed},
		{" ERROR", datatypes.StatusError},
		{" SKIPPED", datatypes.StatusSkipped},
	}

	for _, rawLine := range strings.Split(stdout, "\n") {
		line := strings.TrimSpace(rawLine)
		for _, m := range markers {
			idx := strings.Index(line, m.token)
			if idx < 0 {
				continue
			}
			name := strings.TrimSpace(line[:idx])
			if name == "" {
				break
			}
			outcome := datatypes.TestOutcome{Name: name, Status: m.status}
			if m.status.IsFailing() {
				outcome.Message = extractFailureMessage(stdout, name)
			}
			result.Outcomes = append(result.Outcomes, outcome)
			switch {
			case m.status == datatypes.StatusPassed:
				result.Passed++
			case m.status.IsFailing():
				result.Failed++
			}
			break
		}
	}
	result.Total = len(result.Outcomes)

	if result.Total == 0 && exitCode != 0 {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		if len(detail) > maxErrorOutput {
			detail = detail[:maxErrorOutput]
		}
		if detail == "" {
			detail = "unknown error"
		}
		return nil, fmt.Errorf("%w (exit %d): %s", ErrExecutionFailed, exitCode, detail)
	}
	return result, nil
}

// extractFailureMessage pulls the first lines of a test's failure section,
// capped at ten lines.
func extractFailureMessage(output, testName string) string {
	var lines []string
	inFailure := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, testName) &&
			(strings.Contains(line, "FAILED") || strings.Contains(line, "ERROR")) {
			inFailure = true
			continue
		}
		if !inFailure {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if sectionDivider(trimmed) {
			break
		}
		lines = append(lines, line)
		if len(lines) >= 10 {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// sectionDivider reports whether a line is a pytest section separator.
func sectionDivider(line string) bool {
	if len(line) < 2 {
		return false
	}
	if strings.HasPrefix(line, "_") && strings.HasSuffix(line, "_") {
		return true
	}
	return strings.HasPrefix(line, "=") && strings.HasSuffix(line, "=")
}
