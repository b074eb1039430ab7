// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the wire-level types shared by the test generation
// engine's components: test statuses, runner outcomes, and generated test
// payloads. Keeping them in a leaf package lets the registry, result mapper,
// runner, and HTTP layer share one vocabulary without import cycles.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the closed set of per-test (and per-function rollup) statuses.
//
// Description:
//
//	Test runner output arrives as loosely-typed strings from an external
//	process. Status models them as a closed tagged variant at the boundary;
//	anything outside the four known values is rejected by ParseStatus rather
//	than propagated as an open string.
type Status string

const (
	// StatusPassed means the test (or every outcome in the rollup) passed.
	StatusPassed Status = "passed"
	// StatusFailed means at least one assertion failed.
	StatusFailed Status = "failed"
	// StatusError means the test raised outside its assertions (collection
	// errors, fixture errors, unhandled exceptions).
	StatusError Status = "error"
	// StatusSkipped means the test was deselected or marked skip.
	StatusSkipped Status = "skipped"
)

// IsValid reports whether s is one of the four known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusError, StatusSkipped:
		return true
	}
	return false
}

// IsFailing reports whether s counts as a failure for aggregation purposes.
// Both failed and error are failing; skipped is not.
func (s Status) IsFailing() bool {
	return s == StatusFailed || s == StatusError
}

// ParseStatus normalizes a raw runner status string into a Status.
//
// Description:
//
//	Lowercases and trims the input, then maps it onto the closed variant.
//	Common pytest spellings ("PASSED", "xfailed", "error") are accepted.
//
// Outputs:
//   - Status: The normalized status.
//   - error: Non-nil if the input maps to no known status. Callers decide
//     whether an unknown status is fatal; the result mapper treats it as an
//     error-status outcome rather than dropping the record.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "passed", "pass":
		return StatusPassed, nil
	case "failed", "fail", "xpassed":
		return StatusFailed, nil
	case "error", "errored":
		return StatusError, nil
	case "skipped", "skip", "deselected", "xfailed":
		return StatusSkipped, nil
	}
	return "", fmt.Errorf("unknown test status %q", raw)
}

// TestOutcome is one runner-reported result for one concrete test case.
//
// Description:
//
//	Transient: consumed once per run by the result mapper and discarded
//	after aggregation. Only the rollup survives in the registry.
type TestOutcome struct {
	// Name is the runner-qualified identifier, e.g.
	// "tests/test_math.py::test_calculate_sum_basic".
	Name string `json:"name"`

	// Status is the normalized outcome.
	Status Status `json:"outcome"`

	// Duration is how long the test ran.
	Duration time.Duration `json:"-"`

	// Message is an optional short failure message.
	Message string `json:"message,omitempty"`

	// Traceback is an optional multi-line failure detail.
	Traceback string `json:"traceback,omitempty"`
}

// MarshalJSON emits Duration as fractional seconds, matching the shape the
// editor extension already consumes from the runner.
func (o TestOutcome) MarshalJSON() ([]byte, error) {
	type alias TestOutcome
	return json.Marshal(struct {
		alias
		DurationSeconds float64 `json:"duration"`
	}{alias(o), o.Duration.Seconds()})
}

// GeneratedTest is the generation collaborator's output: candidate test
// source plus placement metadata. Transient input to the merge engine.
type GeneratedTest struct {
	// TestCode is the generated test source, syntax-validated before this
	// struct is produced.
	TestCode string `json:"test_code"`

	// TestFunctionName is the identifier inside the test file that exercises
	// the target function.
	TestFunctionName string `json:"test_function_name"`

	// Imports is the ordered list of import statements the test needs.
	Imports []string `json:"imports"`
}
