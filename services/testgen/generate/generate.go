// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generate turns a target function into test code: build the
// prompt, call the model, strip the code fence, validate the syntax, and
// retry a bounded number of times with the syntax error folded back into
// the prompt.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/RoraAI/RoraEngine/services/llm"
	"github.com/RoraAI/RoraEngine/services/testgen/projectctx"
	"github.com/RoraAI/RoraEngine/services/testgen/pyast"
)

// tracerName is the OTel tracer for generation operations.
const tracerName = "rora.testgen.generate"

// Supported test frameworks.
const (
	FrameworkPytest   = "pytest"
	FrameworkUnittest = "unittest"
)

// DefaultMaxRetries is how many corrective attempts follow a failed syntax
// validation. Two retries, three model calls at most.
const DefaultMaxRetries = 2

// ErrGenerationFailed means no syntactically valid test code came back
// within the retry budget. The function is reported as failed; nothing is
// written and nothing is registered.
var ErrGenerationFailed = errors.New("test generation failed")

// Request describes one generation target.
type Request struct {
	Function    pyast.FunctionInfo
	SourceCode  string
	FilePath    string
	ProjectRoot string
	Framework   string
	Project     *projectctx.Context
}

// Result is a validated generation.
type Result struct {
	// TestCode is the generated test code, code fence stripped.
	TestCode string

	// TestFunctionName is the canonical name, "test_" + function name.
	TestFunctionName string

	// Imports are the top-level import statements of TestCode, verbatim,
	// ready for the merge engine.
	Imports []string

	// Attempts counts model calls made, 1..DefaultMaxRetries+1.
	Attempts int
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// WithRedaction toggles secret redaction of source text before it is sent
// to the provider. On by default; the engine ships whole source files to a
// third-party API.
func WithRedaction(enabled bool) Option {
	return func(g *Generator) { g.redact = enabled }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Generator drives the prompt → model → validate loop.
//
// Thread Safety: Safe for concurrent use.
type Generator struct {
	model      llm.ChatModel
	parser     *pyast.Parser
	maxRetries int
	redact     bool
	logger     *slog.Logger
}

// NewGenerator creates a Generator. Panics on nil collaborators — wiring
// them is the caller's construction-time job.
func NewGenerator(model llm.ChatModel, parser *pyast.Parser, opts ...Option) *Generator {
	if model == nil {
		panic("generate: model must not be nil")
	}
	if parser == nil {
		panic("generate: parser must not be nil")
	}
	g := &Generator{
		model:      model,
		parser:     parser,
		maxRetries: DefaultMaxRetries,
		redact:     true,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces a validated test for the request's function.
//
// Description:
//
//	Calls the model with temperature 0 for reproducible output. A response
//	that fails syntax validation triggers a retry with the error in the
//	prompt, up to the retry budget. Provider errors abort immediately —
//	retrying won't fix a dead endpoint.
//
// Outputs:
//   - *Result: Validated test code with its imports.
//   - error: ErrGenerationFailed (wrapped, with the last validation error)
//     when the budget is exhausted; provider errors otherwise.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "generate.tests")
	defer span.End()
	span.SetAttributes(
		attribute.String("function", req.Function.Name),
		attribute.String("framework", req.Framework),
	)

	if req.Framework == "" {
		req.Framework = FrameworkPytest
	}
	if g.redact {
		req.SourceCode = llm.SafeLogString(req.SourceCode)
		req.Function.Body = llm.SafeLogString(req.Function.Body)
	}

	// Deterministic output for a given function and prompt.
	temperature := float32(0)
	params := llm.GenerationParams{Temperature: &temperature}

	var lastValidation string
	for attempt := 1; attempt <= g.maxRetries+1; attempt++ {
		start := time.Now()
		response, err := g.model.Generate(ctx, buildPrompt(req, lastValidation), params)
		if err != nil {
			span.SetStatus(codes.Error, "model call failed")
			span.RecordError(err)
			return nil, fmt.Errorf("generating tests for %s: %w", req.Function.Name, err)
		}

		code := ExtractCode(response)
		if code == "" {
			lastValidation = "no code generated"
			g.logger.Warn("model returned no code",
				slog.String("function", req.Function.Name),
				slog.Int("attempt", attempt))
			continue
		}

		if err := g.parser.ValidateSyntax(ctx, []byte(code)); err != nil {
			lastValidation = err.Error()
			g.logger.Warn("generated code failed validation",
				slog.String("function", req.Function.Name),
				slog.Int("attempt", attempt),
				slog.String("error", lastValidation))
			continue
		}

		imports, err := g.parser.ExtractImports(ctx, []byte(code))
		if err != nil {
			return nil, fmt.Errorf("extracting imports from generated code: %w", err)
		}

		g.logger.Info("test generation succeeded",
			slog.String("function", req.Function.Name),
			slog.Int("attempt", attempt),
			slog.Duration("model_time", time.Since(start)))
		span.SetAttributes(attribute.Int("attempts", attempt))

		return &Result{
			TestCode:         code,
			TestFunctionName: "test_" + req.Function.Name,
			Imports:          imports,
			Attempts:         attempt,
		}, nil
	}

	span.SetStatus(codes.Error, "retry budget exhausted")
	return nil, fmt.Errorf("%w for %s after %d attempts: %s",
		ErrGenerationFailed, req.Function.Name, g.maxRetries+1, lastValidation)
}
