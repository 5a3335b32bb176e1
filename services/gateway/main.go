// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chatgateco/chatgate/services/access"
	"github.com/chatgateco/chatgate/services/gateway/config"
	"github.com/chatgateco/chatgate/services/gateway/handlers"
	"github.com/chatgateco/chatgate/services/gateway/logging"
	"github.com/chatgateco/chatgate/services/gateway/middleware"
	"github.com/chatgateco/chatgate/services/gateway/observability"
	"github.com/chatgateco/chatgate/services/gateway/routes"
	"github.com/chatgateco/chatgate/services/llm"
	"github.com/chatgateco/chatgate/services/memory"
	"github.com/chatgateco/chatgate/services/prompts"
	"github.com/chatgateco/chatgate/services/usage"
	"github.com/chatgateco/chatgate/services/uselock"
)

const evictionInterval = 5 * time.Minute

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	if endpoint == "" {
		endpoint = "chatgate-otel-collector:4317"
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gateway-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	slog.SetDefault(logging.NewDefault(slog.LevelInfo))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// --- Init the tracer ---
	cleanup, err := initTracer(cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	verifier := access.NewVerifier(access.VerifierConfig{
		TeamDomain:    cfg.TeamDomain,
		Audience:      cfg.Audience,
		AllowedEmails: cfg.AllowedEmails,
		Directory:     cfg.Directory,
	})
	sessions := access.NewSessionDeriver(cfg.SessionSecret)

	lockSecret, err := sessions.LockSecret()
	if err != nil {
		log.Fatalf("failed to derive the lock secret: %v", err)
	}
	lockCodec := uselock.NewCodec(lockSecret)

	apiKey, err := cfg.OpenAIKey.Open()
	if err != nil {
		log.Fatalf("failed to open the provider credential: %v", err)
	}
	chatClient := llm.NewOpenAIClient(apiKey.String())
	apiKey.Destroy()

	promptRegistry, err := prompts.NewRegistry(cfg.PromptOverrides)
	if err != nil {
		log.Fatalf("failed to build the prompt registry: %v", err)
	}

	usageStore, err := usage.Open(cfg.UsageDir)
	if err != nil {
		log.Fatalf("failed to open the usage store: %v", err)
	}
	defer usageStore.Close()

	metrics := observability.NewGatewayMetrics(prometheus.DefaultRegisterer)

	store := memory.NewMemStore(cfg.MemoryLimits)
	locks := memory.NewSessionLocks()
	summarizer := memory.NewSummarizer(chatClient, memory.SummarizerConfig{
		Model:           cfg.Summarizer.Model,
		Temperature:     cfg.Summarizer.Temperature,
		Timeout:         cfg.Summarizer.Timeout,
		MaxOutputTokens: cfg.Summarizer.MaxOutputTokens,
		MaxSummaryChars: cfg.MemoryLimits.MaxSummaryChars,
	})
	engine := memory.NewEngine(store, locks, summarizer, cfg.MemoryLimits)
	engine.Observe = func(outcome memory.CommitOutcome, elapsed time.Duration) {
		metrics.MemoryCommitsTotal.WithLabelValues(string(outcome)).Inc()
		if elapsed > 0 {
			metrics.SummarizerDurationSeconds.Observe(elapsed.Seconds())
		}
	}

	deps := &handlers.Deps{
		Config:  cfg,
		Lock:    lockCodec,
		Store:   store,
		Engine:  engine,
		Chat:    chatClient,
		Prompts: promptRegistry,
		Usage:   usageStore,
		Metrics: metrics,
	}

	// Background sweep so idle sessions expire even without traffic.
	go func() {
		ticker := time.NewTicker(evictionInterval)
		defer ticker.Stop()
		for range ticker.C {
			if evicted := store.EvictExpired(time.Now()); evicted > 0 {
				slog.Info("Evicted expired memory sessions", "count", evicted)
			}
			metrics.ActiveSessions.Set(float64(store.Stats().Sessions))
		}
	}()

	router := gin.Default()
	router.Use(otelgin.Middleware("gateway-service"))
	limiter := middleware.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	routes.SetupRoutes(router, deps, verifier, sessions, limiter)

	slog.Info("Gateway listening", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("gateway server exited: %v", err)
	}
}
