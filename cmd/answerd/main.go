// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command answerd starts the AleutianTrust answer HTTP server.
//
// This is the main entry point for the containerized answer service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ANSWERD_PORT: HTTP server port (default: 12310)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama (default: openai)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (required)
//   - GUARDRAIL_SERVICE_URL: Claim-check guardrail URL (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - ANSWERD_DEBUG_ENABLED: allow per-request debug traces (default: false)
//   - ANSWERD_LOG_DIR: directory for JSON log files (default: stderr only)
//
// # Usage
//
//	# Build
//	go build -o answerd ./cmd/answerd
//
//	# Run
//	./answerd
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianTrust/pkg/logging"
	"github.com/AleutianAI/AleutianTrust/services/answers"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("ANSWERD_LOG_DIR"),
		Service: "answerd",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := answers.Config{
		Port:         getEnvInt("ANSWERD_PORT", 12310),
		LLMBackend:   getEnvString("LLM_BACKEND_TYPE", "openai"),
		WeaviateURL:  os.Getenv("WEAVIATE_SERVICE_URL"),
		GuardrailURL: os.Getenv("GUARDRAIL_SERVICE_URL"),
		OTelEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
	}

	slog.Info("Starting answerd",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := answers.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create answer service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Answer service error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
