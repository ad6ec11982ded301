// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package answers provides the answer service for AleutianTrust.
//
// The service answers security-questionnaire items strictly from an
// organization's ingested evidence documents: retrieval and reranking,
// evidence-sufficiency extraction, grounded generation, claim checking,
// and approved-answer reuse. It coordinates HTTP routing, LLM clients,
// the Weaviate vector database, and observability infrastructure.
package answers

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTrust/services/answers/engine"
	"github.com/AleutianAI/AleutianTrust/services/answers/routes"
	"github.com/AleutianAI/AleutianTrust/services/answers/store"
	"github.com/AleutianAI/AleutianTrust/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Service defines the contract for the answer service lifecycle.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// Config holds answer-service configuration options. All fields are
// optional with defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// LLMBackend specifies the provider for completions and embeddings.
	// Valid values: "openai", "ollama". Default: "openai"
	LLMBackend string

	// WeaviateURL is the Weaviate vector database URL.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// GuardrailURL is the external claim-check service URL.
	// If empty, claim checking is disabled (passthrough).
	GuardrailURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string
}

// service implements Service for production use.
type service struct {
	config         Config
	router         *gin.Engine
	engine         *engine.Engine
	weaviateClient *weaviate.Client
	tracerCleanup  func(context.Context)
}

// New creates a new answer Service with the given configuration.
//
// Initialization order: tracing, Weaviate client and schema, LLM client,
// claim checker, then the HTTP router. The Weaviate connection is required;
// the service cannot answer without an evidence store.
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize Weaviate: %w", err)
	}

	llmClient, err := s.initLLMClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	var checker engine.ClaimChecker
	if s.config.GuardrailURL != "" {
		checker = engine.NewHTTPClaimChecker(s.config.GuardrailURL)
		slog.Info("Claim-check guardrail enabled", "url", s.config.GuardrailURL)
	} else {
		checker = engine.PassthroughChecker{}
		slog.Warn("No guardrail URL configured, claim checking disabled")
	}

	evidenceStore := store.NewWeaviateStore(s.weaviateClient)
	s.engine = engine.New(evidenceStore, evidenceStore, llmClient, llmClient, checker)

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting answer server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "openai"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing with an OTLP
// exporter over insecure gRPC (internal networks only).
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
		resource.WithAttributes(semconv.ServiceNameKey.String("answer-service")))
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

// initWeaviate initializes the Weaviate vector database client and ensures
// the evidence and approved-answer schemas exist.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return fmt.Errorf("WEAVIATE_SERVICE_URL is required")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	store.EnsureSchema(s.weaviateClient)
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// llmBackend is the combined completion+embedding dependency the engine
// needs from one provider.
type llmBackend interface {
	llm.CompletionClient
	llm.EmbeddingClient
}

// initLLMClient creates the provider client based on the configured
// backend type.
func (s *service) initLLMClient() (llmBackend, error) {
	switch s.config.LLMBackend {
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	default:
		slog.Warn("Unknown LLM backend, defaulting to openai", "backend", s.config.LLMBackend)
		return llm.NewOpenAIClient()
	}
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("answer-service"))

	routes.SetupRoutes(s.router, s.engine)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

var _ Service = (*service)(nil)
