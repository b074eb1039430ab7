// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package results turns a flat list of test-runner outcomes into per-function
// rollups. It is pure given its inputs (outcomes plus a registry snapshot)
// and produces registry update commands plus an unmapped list; it never
// mutates the registry itself, which keeps the aggregation logic
// independently testable.
package results

import (
	"fmt"
	"strings"

	"github.com/RoraAI/RoraEngine/services/testgen/datatypes"
	"github.com/RoraAI/RoraEngine/services/testgen/registry"
)

// Update is one registry update command: the rollup for one function.
type Update struct {
	// SourceFile and FunctionName identify the registry binding to update.
	SourceFile   string `json:"source_file"`
	FunctionName string `json:"function_name"`

	// Status is the aggregated rollup for the function's outcomes.
	Status datatypes.Status `json:"status"`

	// Passed and Total count outcomes within the group; kept separate so the
	// UI can show a ratio instead of collapsing to a boolean early.
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

// Ratio renders the group's pass count for display, e.g. "1/2 passed".
func (u Update) Ratio() string {
	return fmt.Sprintf("%d/%d passed", u.Passed, u.Total)
}

// Report is the full mapping result for one run.
type Report struct {
	// Updates holds one rollup per function that had at least one attributed
	// outcome. A function with zero outcomes gets no update — its previous
	// result stands; absence of evidence never synthesizes a status.
	Updates []Update `json:"updates"`

	// Unmapped holds outcomes that attribute to no registered function. An
	// expected, handled condition reported as data, never an error; these
	// outcomes never affect any binding.
	Unmapped []datatypes.TestOutcome `json:"unmapped"`
}

// MapOutcomes attributes each outcome to at most one registered function and
// aggregates per-function rollups.
//
// Description:
//
//	Attribution matches a binding whose TestFunctionName equals the outcome
//	name — or is a substring of it, covering runner-qualified names like
//	"tests/test_math.py::test_calculate_sum_case1". When several bindings'
//	names are substrings of one outcome, the longest match wins (it is the
//	most specific); an exact tie is genuinely ambiguous and the outcome goes
//	to the unmapped bucket rather than being attributed by guesswork.
//
//	Aggregation: failed if any outcome in the group failed or errored;
//	skipped if every outcome was skipped; passed otherwise (at least one
//	outcome, none failing, not all skipped).
//
// Inputs:
//   - outcomes: Raw runner outcomes, consumed once and discarded after
//     aggregation.
//   - bindings: Registry snapshot to attribute against.
//
// Outputs:
//   - *Report: Rollup updates plus the unmapped bucket. Never nil. Update
//     order follows first attribution order, so output is deterministic for
//     a given outcome order.
//
// Thread Safety: Pure function; safe for concurrent use.
func MapOutcomes(outcomes []datatypes.TestOutcome, bindings []registry.Binding) *Report {
	report := &Report{
		Updates:  make([]Update, 0, len(bindings)),
		Unmapped: make([]datatypes.TestOutcome, 0),
	}

	type group struct {
		order    int
		outcomes []datatypes.TestOutcome
	}
	groups := make(map[string]*group)
	keys := make([]string, 0)
	owner := make(map[string]registry.Binding)

	for _, outcome := range outcomes {
		binding, ok := attribute(outcome, bindings)
		if !ok {
			report.Unmapped = append(report.Unmapped, outcome)
			continue
		}

		key := registry.Key(binding.SourceFile, binding.FunctionName)
		g, seen := groups[key]
		if !seen {
			g = &group{order: len(keys)}
			groups[key] = g
			keys = append(keys, key)
			owner[key] = binding
		}
		g.outcomes = append(g.outcomes, outcome)
	}

	for _, key := range keys {
		g := groups[key]
		b := owner[key]

		passed := 0
		for _, o := range g.outcomes {
			if o.Status == datatypes.StatusPassed {
				passed++
			}
		}

		report.Updates = append(report.Updates, Update{
			SourceFile:   b.SourceFile,
			FunctionName: b.FunctionName,
			Status:       Aggregate(g.outcomes),
			Passed:       passed,
			Total:        len(g.outcomes),
		})
	}

	return report
}

// attribute finds the unique binding an outcome belongs to.
func attribute(outcome datatypes.TestOutcome, bindings []registry.Binding) (registry.Binding, bool) {
	var (
		best      registry.Binding
		bestLen   = -1
		ambiguous bool
	)

	for _, b := range bindings {
		if b.TestFunctionName == "" {
			continue
		}
		if !strings.Contains(outcome.Name, b.TestFunctionName) {
			continue
		}

		switch {
		case len(b.TestFunctionName) > bestLen:
			best = b
			bestLen = len(b.TestFunctionName)
			ambiguous = false
		case len(b.TestFunctionName) == bestLen:
			ambiguous = true
		}
	}

	if bestLen == -1 || ambiguous {
		return registry.Binding{}, false
	}
	return best, true
}

// Aggregate collapses one function's outcomes into a single status.
//
// Rules, in order:
//   - any failed or error outcome → failed
//   - all outcomes skipped → skipped
//   - otherwise → passed (at least one passed, none failing)
//
// Aggregate panics on an empty slice by contract: callers never create a
// group without at least one outcome, and a zero-outcome function keeps its
// previous result instead of receiving a synthesized one.
func Aggregate(outcomes []datatypes.TestOutcome) datatypes.Status {
	if len(outcomes) == 0 {
		panic("results.Aggregate: empty outcome group")
	}

	allSkipped := true
	for _, o := range outcomes {
		if o.Status.IsFailing() {
			return datatypes.StatusFailed
		}
		if o.Status != datatypes.StatusSkipped {
			allSkipped = false
		}
	}
	if allSkipped {
		return datatypes.StatusSkipped
	}
	return datatypes.StatusPassed
}
