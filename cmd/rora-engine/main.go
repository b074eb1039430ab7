// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command rora-engine starts the Rora test generation server.
//
// The engine backs the editor extension with:
//   - LLM-generated pytest/unittest tests for Python functions
//   - A durable function→test binding registry
//   - Single-slot execution with a FIFO wait list
//   - A websocket stream of operation state for editor status badges
//
// Usage:
//
//	go run ./cmd/rora-engine -root /path/to/project
//	go run ./cmd/rora-engine -root . -port 9000 -debug
//
// With a cloud provider:
//
//	ANTHROPIC_API_KEY=... go run ./cmd/rora-engine -root .
//	RORA_LLM_PROVIDER=openai OPENAI_API_KEY=... go run ./cmd/rora-engine -root .
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8321/v1/testgen/health
//
//	# Generate a test
//	curl -X POST http://localhost:8321/v1/testgen/generate \
//	  -H "Content-Type: application/json" \
//	  -d '{"source_file": "/path/to/app.py", "function_name": "parse_row"}'
//
//	# Run it (generates first if needed)
//	curl -X POST http://localhost:8321/v1/testgen/run \
//	  -H "Content-Type: application/json" \
//	  -d '{"source_file": "/path/to/app.py", "function_name": "parse_row"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/RoraAI/RoraEngine/services/llm"
	"github.com/RoraAI/RoraEngine/services/testgen"
	"github.com/RoraAI/RoraEngine/services/testgen/config"
	"github.com/RoraAI/RoraEngine/services/testgen/registry"
	badgerstore "github.com/RoraAI/RoraEngine/services/testgen/storage/badger"
)

func main() {
	root := flag.String("root", "", "Project root the engine operates on (default: working directory)")
	configPath := flag.String("config", "", "Optional YAML config file")
	port := flag.Int("port", 0, "Listen port override")
	debug := flag.Bool("debug", false, "Enable debug mode (request log, stdout traces)")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.ListenAddr = fmt.Sprintf(":%d", *port)
	}

	projectRoot := *root
	if projectRoot == "" {
		projectRoot, err = os.Getwd()
		if err != nil {
			slog.Error("Failed to resolve working directory", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	projectRoot, err = filepath.Abs(projectRoot)
	if err != nil {
		slog.Error("Failed to resolve project root", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// W3C TraceContext propagation so editor-side traces correlate with
	// engine spans.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if *debug || cfg.Server.DebugTracing {
		if tp, err := stdoutTracerProvider(); err == nil {
			otel.SetTracerProvider(tp)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
		} else {
			slog.Warn("Stdout trace exporter unavailable", slog.String("error", err.Error()))
		}
	}

	// Registry persistence. Graceful degradation: if Badger is unavailable
	// the registry runs in memory and bindings do not survive restarts.
	var persistOpts []registry.Option
	var registryDB *badgerstore.DB
	registryDir := cfg.Registry.Dir
	if !filepath.IsAbs(registryDir) {
		registryDir = filepath.Join(projectRoot, registryDir)
	}
	bcfg := badgerstore.DefaultConfig()
	bcfg.Path = registryDir
	if db, err := badgerstore.OpenDB(bcfg); err != nil {
		slog.Warn("Registry BadgerDB unavailable, bindings will not persist",
			slog.String("path", registryDir),
			slog.String("error", err.Error()),
		)
	} else {
		registryDB = db
		persistOpts = append(persistOpts,
			registry.WithPersister(registry.NewBadgerPersister(db, projectRoot)),
			registry.WithFlushDebounce(cfg.Registry.Debounce()),
		)
		slog.Info("Registry BadgerDB opened", slog.String("path", registryDir))
	}
	store := registry.NewStore(projectRoot, cfg.Registry.TestRoot, persistOpts...)

	model, err := llm.New(context.Background(), llm.Config{
		Provider: cfg.Generation.Provider,
		Model:    cfg.Generation.Model,
		BaseURL:  cfg.Generation.BaseURL,
	})
	if err != nil {
		slog.Error("Failed to create LLM client",
			slog.String("provider", cfg.Generation.Provider),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc, err := testgen.NewService(testgen.ServiceConfig{
		ProjectRoot: projectRoot,
		Config:      cfg,
		Model:       model,
		Store:       store,
	})
	if err != nil {
		slog.Error("Failed to create service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("rora-engine"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	testgen.RegisterRoutes(v1, testgen.NewHandlers(svc, slog.Default()))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(cfg.Server.ListenAddr, projectRoot, cfg.Generation.Provider, model.Name())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down Rora engine")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Close(ctx); err != nil {
			slog.Warn("Service shutdown incomplete", slog.String("error", err.Error()))
		}
		if registryDB != nil {
			if err := registryDB.Close(); err != nil {
				slog.Warn("Failed to close registry BadgerDB", slog.String("error", err.Error()))
			}
		}
		os.Exit(0)
	}()

	slog.Info("Starting Rora engine",
		slog.String("address", cfg.Server.ListenAddr),
		slog.String("project_root", projectRoot))
	if err := router.Run(cfg.Server.ListenAddr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func stdoutTracerProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}

func printBanner(addr, projectRoot, provider, model string) {
	fmt.Printf(`
  Rora Engine
  ───────────
  address:      %s
  project root: %s
  provider:     %s
  model:        %s

  POST /v1/testgen/generate   generate a test
  POST /v1/testgen/run        run a function's test
  GET  /v1/testgen/events     state event stream (websocket)
  GET  /v1/testgen/health     health check

`, addr, projectRoot, provider, model)
}
