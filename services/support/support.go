// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package support assembles and runs the streaming support chat service.
//
// # Description
//
// This package wires the service together: runtime configuration with hot
// reload, OpenTelemetry tracing, Prometheus metrics, the backend
// collaborator clients, model resolution, and the streaming chat handler.
// Construction is explicit and ordered; request handling lives in the
// subpackages.
//
// # Architecture
//
//	New(Config)
//	   │
//	   ├─► initTracer        OTLP gRPC exporter, W3C propagation
//	   ├─► InitMetrics       Prometheus collectors (optional)
//	   ├─► config.Load       defaults → YAML → env, then validation
//	   ├─► config.Watcher    fsnotify hot reload (optional)
//	   ├─► collaborators     backend clients, resolver, deriver, handler
//	   └─► initRouter        gin + otelgin + routes.SetupRoutes
//
// # Usage
//
//	svc, err := support.New(support.Config{ConfigPath: "support.yaml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package support

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianSupport/services/support/annotations"
	"github.com/AleutianAI/AleutianSupport/services/support/clients"
	"github.com/AleutianAI/AleutianSupport/services/support/config"
	"github.com/AleutianAI/AleutianSupport/services/support/handlers"
	"github.com/AleutianAI/AleutianSupport/services/support/observability"
	"github.com/AleutianAI/AleutianSupport/services/support/persist"
	"github.com/AleutianAI/AleutianSupport/services/support/routes"
	"github.com/AleutianAI/AleutianSupport/services/support/services"
)

// =============================================================================
// Service Interface
// =============================================================================

// Service is the support chat service.
//
// # Description
//
// Service represents a fully initialized instance: configuration loaded,
// tracing and metrics registered, collaborator clients constructed, and
// all routes mounted. Create one via New().
//
// # Thread Safety
//
// Construction is single-threaded. After New() returns, the service
// handles concurrent requests; the hot-reload watcher publishes new
// configuration snapshots through an atomic pointer.
//
// # Assumptions
//
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	//
	// # Description
	//
	// Serves on the configured port. On return, secure reply memory is
	// purged and the trace exporter is flushed.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or dies
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Description
	//
	// Provides access to the configured router, primarily for
	// integration tests that drive requests without a listener.
	//
	// # Limitations
	//
	//   - Should not be used to modify routes after construction
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the process-level options of the support service.
//
// # Description
//
// These are the few settings that must exist before the runtime
// configuration can be loaded: where that configuration lives, where
// traces go, and the JWT secret. Everything the service decides per turn
// (ports, models, buckets, thresholds) lives in config.Config and can be
// hot-reloaded; everything here is fixed for the life of the process.
//
// # Required Fields
//
// None. The zero value runs a local instance on built-in defaults.
type Config struct {
	// Port overrides the runtime configuration's server port when
	// nonzero. Default: 0 (use the runtime configuration).
	Port int

	// ConfigPath is the YAML runtime configuration file. Empty runs on
	// built-in defaults plus environment overrides.
	ConfigPath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// JWTSecret verifies bearer token signatures. Empty enables local
	// mode: tokens are parsed unverified so a development stack can pass
	// identity around freely.
	JWTSecret string

	// DisableMetrics skips Prometheus collector registration.
	// Default: false (metrics enabled).
	DisableMetrics bool

	// DisableHotReload skips the fsnotify watcher even when ConfigPath
	// is set. Default: false.
	DisableHotReload bool
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Process-level options, fixed after New()
//   - runtime: Current runtime configuration snapshot (hot-reloaded)
//   - watcher: Config file watcher (nil without a config file)
//   - router: Gin HTTP engine
//   - backend: Shared HTTP client for the support backend
//   - rateLimit: Limiter client, also serving the admin reset route
//   - handler: The streaming chat handler behind both transports
//   - tracerCleanup: Function to shut down the trace exporter on exit
//
// # Thread Safety
//
// Thread-safe after construction. runtime is the only field written
// after New() returns, and only through the atomic pointer.
type service struct {
	config        Config
	runtime       atomic.Pointer[config.Config]
	watcher       *config.Watcher
	router        *gin.Engine
	backend       *clients.BackendClient
	rateLimit     *clients.RateLimitClient
	handler       handlers.StreamingChatHandler
	tracerCleanup func(context.Context)
}

// New creates and initializes the support service.
//
// # Description
//
// Performs complete initialization:
//
//  1. Applies configuration defaults
//  2. Initializes OpenTelemetry tracing (OTLP gRPC)
//  3. Registers Prometheus metrics
//  4. Loads the runtime configuration (defaults → YAML → env)
//  5. Starts the config hot-reload watcher
//  6. Constructs the collaborator clients and the chat handler
//  7. Mounts all HTTP routes
//
// A failed tracer or configuration load aborts construction. A failed
// watcher start is logged and skipped: the service runs on its startup
// configuration.
//
// # Inputs
//
//   - cfg: Process-level options. The zero value uses defaults.
//
// # Outputs
//
//   - Service: Ready-to-run support service
//   - error: Non-nil if initialization fails
//
// # Examples
//
//	svc, err := New(Config{ConfigPath: "/etc/aleutian/support.yaml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// # Limitations
//
//   - The backend base URL and deriver choice are bound at construction;
//     changing them in the YAML file requires a restart. Hot reload
//     covers the bucket table, models, and thresholds.
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics. The nil guard keeps repeated
	// construction (tests, embedding) from re-registering collectors.
	if !s.config.DisableMetrics && observability.DefaultMetrics == nil {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for streaming")
	}

	// Load the runtime configuration
	runtime, err := config.Load(s.config.ConfigPath)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	s.runtime.Store(runtime)

	// Start the hot-reload watcher (optional)
	if s.config.ConfigPath != "" && !s.config.DisableHotReload {
		if err := s.initWatcher(); err != nil {
			slog.Warn("Config watcher initialization failed, hot reload disabled",
				"path", s.config.ConfigPath,
				"error", err)
			// Not fatal - continue on the startup configuration
		}
	}

	// Construct collaborator clients and the chat handler
	s.initCollaborators()

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	port := s.config.Port
	if port == 0 {
		port = s.snapshot().Server.Port
	}

	addr := fmt.Sprintf(":%d", port)
	slog.Info("Starting support server", "port", port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	return cfg
}

// snapshot returns the current runtime configuration. Handlers hold this
// method as their ConfigSource so every turn sees the latest reload.
func (s *service) snapshot() *config.Config {
	return s.runtime.Load()
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter sending spans to the configured
// collector over gRPC, with W3C trace-context and baggage propagation.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses an insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("support-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWatcher starts the config hot-reload watcher.
//
// Reloaded snapshots are published through the atomic pointer; in-flight
// turns keep the snapshot they started with.
func (s *service) initWatcher() error {
	watcher, err := config.NewWatcher(s.config.ConfigPath, func(next *config.Config) {
		s.runtime.Store(next)
		slog.Info("Applied reloaded configuration",
			"default_provider", next.Models.DefaultProvider,
			"bucket_providers", len(next.Buckets))
	}, nil)
	if err != nil {
		return err
	}

	if err := watcher.Start(context.Background()); err != nil {
		watcher.Stop()
		return err
	}

	s.watcher = watcher
	slog.Info("Config hot reload enabled", "path", s.config.ConfigPath)
	return nil
}

// initCollaborators constructs the backend clients, the model resolver,
// the annotation deriver, and the streaming chat handler.
//
// # Assumptions
//
//   - The runtime configuration snapshot is already stored
func (s *service) initCollaborators() {
	rc := s.snapshot()

	s.backend = clients.NewBackendClient(rc.Services.BackendURL)
	s.rateLimit = clients.NewRateLimitClient(s.backend)
	usage := clients.NewUsageClient(s.backend)
	creds := clients.NewCredentialClient(s.backend)
	sessions := clients.NewSessionClient(s.backend)

	resolver := services.NewResolver(s.snapshot, s.rateLimit, usage, creds)
	deriver := annotations.FromConfig(rc.Annotations)

	s.handler = handlers.NewStreamingChatHandler(s.snapshot, resolver, s.backend, sessions, deriver)

	slog.Info("Support collaborators initialized",
		"backend_url", rc.Services.BackendURL)
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("support-service"))

	routes.SetupRoutes(s.router, s.handler, s.rateLimit, s.config.JWTSecret)
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Stops the config
// watcher, wipes locked reply memory, and shuts down the tracer.
func (s *service) cleanup() {
	if s.watcher != nil {
		s.watcher.Stop()
	}

	persist.PurgeAllSecureMemory()

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
