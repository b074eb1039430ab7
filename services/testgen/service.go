// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package testgen assembles the engine: parsing, generation, merging,
// execution, and result mapping behind a single service facade that the
// HTTP layer talks to.
package testgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/RoraAI/RoraEngine/services/llm"
	"github.com/RoraAI/RoraEngine/services/testgen/config"
	"github.com/RoraAI/RoraEngine/services/testgen/coordinator"
	"github.com/RoraAI/RoraEngine/services/testgen/generate"
	"github.com/RoraAI/RoraEngine/services/testgen/merge"
	"github.com/RoraAI/RoraEngine/services/testgen/projectctx"
	"github.com/RoraAI/RoraEngine/services/testgen/pyast"
	"github.com/RoraAI/RoraEngine/services/testgen/registry"
	"github.com/RoraAI/RoraEngine/services/testgen/results"
	"github.com/RoraAI/RoraEngine/services/testgen/runner"
)

const tracerName = "rora.testgen"

var (
	// ErrFunctionNotFound indicates the requested function does not exist in
	// the parsed source file.
	ErrFunctionNotFound = errors.New("function not found in source file")

	// ErrNoBinding indicates a run was requested for a function with no
	// registered test.
	ErrNoBinding = errors.New("no test binding registered")
)

// ServiceConfig carries the dependencies a Service needs. Store and Model
// are owned by the caller; the Service builds everything else from Config.
type ServiceConfig struct {
	// ProjectRoot is the workspace the engine operates on. Required.
	ProjectRoot string

	// Config is the resolved engine configuration. Required.
	Config *config.Config

	// Model is the LLM used for test generation. Required.
	Model llm.ChatModel

	// Store is the binding registry. Required.
	Store *registry.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Service orchestrates the generate and run pipelines. It implements
// coordinator.Operations; all mutating entry points go through the
// coordinator so the single-slot execution policy holds.
//
// # Thread Safety
//
// Safe for concurrent use. Pipeline state lives in the registry store and
// the coordinator, both of which synchronize internally.
type Service struct {
	projectRoot string
	cfg         *config.Config
	store       *registry.Store
	parser      *pyast.Parser
	gatherer    *projectctx.Gatherer
	generator   *generate.Generator
	runner      *runner.Runner
	coord       *coordinator.Coordinator
	hub         *EventHub
	logger      *slog.Logger
	startedAt   time.Time
}

// NewService wires the pipeline components and starts the coordinator
// worker. Call Close to stop it.
func NewService(sc ServiceConfig) (*Service, error) {
	if sc.ProjectRoot == "" {
		return nil, fmt.Errorf("testgen: ProjectRoot is required")
	}
	if sc.Config == nil {
		return nil, fmt.Errorf("testgen: Config is required")
	}
	if sc.Model == nil {
		return nil, fmt.Errorf("testgen: Model is required")
	}
	if sc.Store == nil {
		return nil, fmt.Errorf("testgen: Store is required")
	}
	logger := sc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	parser := pyast.NewParser()
	s := &Service{
		projectRoot: sc.ProjectRoot,
		cfg:         sc.Config,
		store:       sc.Store,
		parser:      parser,
		gatherer:    projectctx.NewGatherer(logger),
		generator: generate.NewGenerator(sc.Model, parser,
			generate.WithMaxRetries(sc.Config.Generation.MaxRetries),
			generate.WithRedaction(sc.Config.Generation.RedactSource),
			generate.WithLogger(logger),
		),
		runner: runner.NewRunner(
			runner.WithPython(sc.Config.Runner.Python),
			runner.WithTimeout(sc.Config.Runner.Timeout()),
			runner.WithLogger(logger),
		),
		hub:       NewEventHub(logger),
		logger:    logger,
		startedAt: time.Now(),
	}
	s.coord = coordinator.New(s,
		coordinator.WithNotifier(s.hub.Broadcast),
		coordinator.WithLogger(logger),
	)
	return s, nil
}

// Hub exposes the state-change event hub for the websocket endpoint.
func (s *Service) Hub() *EventHub { return s.hub }

// StartedAt reports when the service came up. Used by the health endpoint.
func (s *Service) StartedAt() time.Time { return s.startedAt }

// Close stops the coordinator worker and flushes the registry. Queued
// requests fail; the active operation runs to completion first.
func (s *Service) Close(ctx context.Context) error {
	s.coord.Close()
	s.hub.Close()
	return s.store.Close(ctx)
}

// =============================================================================
// Submission API (handlers call these)
// =============================================================================

// SubmitGenerate enqueues a generation for the given function.
//
// Outputs:
//   - *coordinator.Ticket: Wait on it for the outcome.
//   - error: coordinator.ErrOperationInProgress if the key is busy.
func (s *Service) SubmitGenerate(sourceFile, functionName string, regenerate bool) (*coordinator.Ticket, error) {
	return s.coord.Submit(coordinator.Request{
		Kind:         coordinator.KindGenerate,
		SourceFile:   sourceFile,
		FunctionName: functionName,
		Regenerate:   regenerate,
	})
}

// SubmitRun enqueues a test run for the given function. If no binding
// exists yet the coordinator runs the generate sub-flow first.
func (s *Service) SubmitRun(sourceFile, functionName string) (*coordinator.Ticket, error) {
	return s.coord.Submit(coordinator.Request{
		Kind:         coordinator.KindRun,
		SourceFile:   sourceFile,
		FunctionName: functionName,
	})
}

// CancelQueued cancels a queued request by ID. Active requests cannot be
// cancelled; the coordinator returns ErrNotQueued for them.
func (s *Service) CancelQueued(id uuid.UUID) error {
	return s.coord.Cancel(id)
}

// StateOf reports the coordinator state for a function key.
func (s *Service) StateOf(sourceFile, functionName string) coordinator.State {
	return s.coord.StateOf(sourceFile, functionName)
}

// QueueSnapshot returns the active request and queued requests in order.
func (s *Service) QueueSnapshot() coordinator.Snapshot {
	return s.coord.QueueSnapshot()
}

// Binding returns the registered binding for a function, if any.
func (s *Service) Binding(sourceFile, functionName string) (registry.Binding, bool) {
	return s.store.Get(sourceFile, functionName)
}

// Bindings returns a snapshot of every registered binding.
func (s *Service) Bindings() []registry.Binding {
	return s.store.Bindings()
}

// RemoveBinding deletes a function's binding from the registry. The test
// file itself is left untouched; test code removal is the editor's call.
func (s *Service) RemoveBinding(sourceFile, functionName string) bool {
	return s.store.Remove(sourceFile, functionName)
}

// ParseFile parses a Python file and returns its function inventory.
func (s *Service) ParseFile(ctx context.Context, filePath string) (*pyast.ParseResult, error) {
	return s.parser.ParseFile(ctx, filePath)
}

// =============================================================================
// coordinator.Operations
// =============================================================================

// HasTest reports whether a runnable binding exists. The coordinator uses
// it to decide whether a run needs the generate sub-flow first.
func (s *Service) HasTest(sourceFile, functionName string) bool {
	return s.store.HasTest(sourceFile, functionName)
}

// Generate runs the full generation pipeline for one function: parse the
// source, gather project context, call the model, merge the validated code
// into the test file, and register the binding.
func (s *Service) Generate(ctx context.Context, req coordinator.Request) (*coordinator.GenerateOutcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "testgen.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("source_file", req.SourceFile),
		attribute.String("function", req.FunctionName),
		attribute.Bool("regenerate", req.Regenerate),
	)

	start := time.Now()
	outcome, err := s.generatePipeline(ctx, req)
	recordPipeline("generate", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return outcome, nil
}

func (s *Service) generatePipeline(ctx context.Context, req coordinator.Request) (*coordinator.GenerateOutcome, error) {
	source, err := os.ReadFile(req.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("reading source file: %w", err)
	}

	parsed, err := s.parser.ParseSource(ctx, source, req.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", req.SourceFile, err)
	}
	fn, ok := findFunction(parsed, req.FunctionName)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrFunctionNotFound, req.FunctionName, req.SourceFile)
	}

	// Best effort; generation proceeds with whatever the workspace yields.
	project := s.gatherer.Gather(ctx, s.projectRoot)

	gen, err := s.generator.Generate(ctx, generate.Request{
		Function:    fn,
		SourceCode:  string(source),
		FilePath:    req.SourceFile,
		ProjectRoot: s.projectRoot,
		Framework:   s.cfg.Runner.Framework,
		Project:     project,
	})
	if err != nil {
		return nil, err
	}

	testFile := s.store.DeriveTestFilePath(req.SourceFile)
	existing, err := os.ReadFile(testFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading test file: %w", err)
	}

	merged := merge.Merge(string(existing), gen.TestCode, gen.Imports, gen.TestFunctionName, req.Regenerate)
	if err := os.MkdirAll(filepath.Dir(testFile), 0o755); err != nil {
		return nil, fmt.Errorf("creating test directory: %w", err)
	}
	if err := os.WriteFile(testFile, []byte(merged), 0o644); err != nil {
		return nil, fmt.Errorf("writing test file: %w", err)
	}

	binding := registry.Binding{
		SourceFile:       req.SourceFile,
		FunctionName:     req.FunctionName,
		TestFile:         testFile,
		TestFunctionName: gen.TestFunctionName,
		GeneratedAt:      time.Now().UTC(),
	}
	s.store.Register(binding)

	s.logger.Info("test generated",
		slog.String("function", req.FunctionName),
		slog.String("test_file", testFile),
		slog.Int("attempts", gen.Attempts),
	)
	return &coordinator.GenerateOutcome{Binding: binding}, nil
}

// Run executes the registered test for one function and folds the outcomes
// back into the registry.
func (s *Service) Run(ctx context.Context, req coordinator.Request) (*coordinator.RunOutcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "testgen.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("source_file", req.SourceFile),
		attribute.String("function", req.FunctionName),
	)

	start := time.Now()
	outcome, err := s.runPipeline(ctx, req)
	recordPipeline("run", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return outcome, nil
}

func (s *Service) runPipeline(ctx context.Context, req coordinator.Request) (*coordinator.RunOutcome, error) {
	binding, ok := s.store.Get(req.SourceFile, req.FunctionName)
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoBinding, registry.Key(req.SourceFile, req.FunctionName))
	}

	res, err := s.runner.Run(ctx, binding.TestFile, binding.TestFunctionName)
	if err != nil {
		return nil, err
	}

	report := results.MapOutcomes(res.Outcomes, s.store.Bindings())
	for _, u := range report.Updates {
		s.store.UpdateResult(u.SourceFile, u.FunctionName, u.Status)
	}
	if len(report.Unmapped) > 0 {
		s.logger.Warn("outcomes with no registered owner",
			slog.Int("count", len(report.Unmapped)),
			slog.String("test_file", binding.TestFile),
		)
	}

	s.logger.Info("test run mapped",
		slog.String("function", req.FunctionName),
		slog.Int("updates", len(report.Updates)),
		slog.Int("unmapped", len(report.Unmapped)),
	)
	return &coordinator.RunOutcome{Report: report}, nil
}

func findFunction(parsed *pyast.ParseResult, name string) (pyast.FunctionInfo, bool) {
	for _, fn := range parsed.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return pyast.FunctionInfo{}, false
}
