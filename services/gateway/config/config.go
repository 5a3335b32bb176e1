// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the gateway's environment
// configuration. Secrets never live in plain Go strings past load time;
// they are sealed into memguard enclaves immediately.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"

	"github.com/chatgateco/chatgate/services/access"
	"github.com/chatgateco/chatgate/services/memory"
)

// =============================================================================
// Gateway Configuration
// =============================================================================

// ChatConfig tunes the primary completion call.
type ChatConfig struct {
	Model           string        `validate:"required"`
	Temperature     float32       `validate:"gte=0,lte=2"`
	Timeout         time.Duration `validate:"gt=0"`
	MaxOutputTokens int           `validate:"gt=0,lte=8192"`
}

// SummarizerConfig tunes the memory summarization call.
type SummarizerConfig struct {
	Model           string        `validate:"required"`
	Temperature     float32       `validate:"gte=0,lte=2"`
	Timeout         time.Duration `validate:"gt=0"`
	MaxOutputTokens int           `validate:"gt=0,lte=4096"`
}

// PayloadLimits bounds the inbound chat payload.
type PayloadLimits struct {
	MaxUserChars       int `validate:"gt=0,lte=8000"`
	MaxContextMessages int `validate:"gt=0,lte=40"`
	MaxContextChars    int `validate:"gte=100,lte=60000"`
	MaxTurns           int `validate:"gt=0,lte=200"`
}

// RateLimitConfig bounds per-subject request rates.
type RateLimitConfig struct {
	PerMinute int `validate:"gt=0,lte=10000"`
	Burst     int `validate:"gt=0,lte=1000"`
}

// Config is the full gateway configuration, resolved once at startup.
type Config struct {
	Port string `validate:"required,numeric"`

	// Access verification.
	TeamDomain    string   `validate:"required,hostname_rfc1123"`
	Audience      string   `validate:"required,min=16"`
	AllowedEmails []string `validate:"min=1,dive,email"`
	Directory     access.Directory

	// SessionSecret seals the HMAC key for session id derivation and lock
	// token signing.
	SessionSecret *memguard.Enclave `validate:"required"`

	// OpenAIKey seals the upstream provider credential.
	OpenAIKey *memguard.Enclave `validate:"required"`

	SessionTTL    time.Duration `validate:"gt=0"`
	MemoryLimits  memory.Limits
	TieredEnabled bool

	Payload    PayloadLimits    `validate:"required"`
	Chat       ChatConfig       `validate:"required"`
	Summarizer SummarizerConfig `validate:"required"`
	RateLimit  RateLimitConfig  `validate:"required"`

	// PromptOverrides maps profile id to replacement system prompt.
	PromptOverrides map[string]string

	// UsageDir is the Badger directory for usage accounting. Empty keeps
	// accounting in memory.
	UsageDir string

	// AdminEmails may query the usage report in addition to directory
	// admins.
	AdminEmails []string `validate:"dive,email"`

	OTELEndpoint string
}

const promptOverridePrefix = "PROMPT_"

// Load reads the configuration from the environment and validates it.
// Secret env vars are wiped from the struct and sealed before validation
// runs so a validator error message can never echo them.
func Load() (*Config, error) {
	secret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if len(secret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	directory, err := access.ParseDirectory(os.Getenv("USER_DIRECTORY_JSON"))
	if err != nil {
		return nil, fmt.Errorf("USER_DIRECTORY_JSON: %w", err)
	}

	cfg := &Config{
		Port:          envOr("GATEWAY_PORT", "12400"),
		TeamDomain:    bareHost(os.Getenv("ACCESS_TEAM_DOMAIN")),
		Audience:      strings.TrimSpace(os.Getenv("ACCESS_AUDIENCE")),
		AllowedEmails: splitList(os.Getenv("ALLOWED_EMAILS")),
		Directory:     directory,
		SessionSecret: memguard.NewEnclave([]byte(secret)),
		OpenAIKey:     memguard.NewEnclave([]byte(apiKey)),
		SessionTTL:    time.Duration(envIntBounded("SESSION_TTL_SECONDS", 28800, 300, 604800)) * time.Second,
		TieredEnabled: envBool("TIERED_MEMORY_ENABLED", true),
		Payload: PayloadLimits{
			MaxUserChars:       envIntBounded("MAX_USER_CHARS", 2000, 1, 8000),
			MaxContextMessages: envIntBounded("MAX_CONTEXT_MESSAGES", 12, 1, 40),
			MaxContextChars:    envIntBounded("MAX_CONTEXT_CHARS", 12000, 100, 60000),
			MaxTurns:           envIntBounded("MAX_TURNS", 30, 1, 200),
		},
		Chat: ChatConfig{
			Model:           envOr("CHAT_MODEL", "gpt-4o-mini"),
			Temperature:     envFloatBounded("CHAT_TEMPERATURE", 0.3, 0, 2),
			Timeout:         time.Duration(envIntBounded("CHAT_TIMEOUT_MS", 15000, 1000, 120000)) * time.Millisecond,
			MaxOutputTokens: envIntBounded("CHAT_MAX_OUTPUT_TOKENS", 400, 16, 8192),
		},
		Summarizer: SummarizerConfig{
			Model:           envOr("SUMMARIZER_MODEL", "gpt-4o-mini"),
			Temperature:     envFloatBounded("SUMMARIZER_TEMPERATURE", 0.1, 0, 2),
			Timeout:         time.Duration(envIntBounded("SUMMARIZER_TIMEOUT_MS", 8000, 1000, 60000)) * time.Millisecond,
			MaxOutputTokens: envIntBounded("SUMMARIZER_MAX_OUTPUT_TOKENS", 500, 16, 4096),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envIntBounded("RATE_LIMIT_PER_MINUTE", 30, 1, 10000),
			Burst:     envIntBounded("RATE_LIMIT_BURST", 10, 1, 1000),
		},
		MemoryLimits: memory.Limits{
			MaxBaseTruthEntries:  envIntBounded("MEMORY_MAX_FACTS", 0, 1, 2000),
			MaxTurnLogEntries:    envIntBounded("MEMORY_MAX_TURNS", 0, 1, 5000),
			MaxRawWindowMessages: envIntBounded("MEMORY_MAX_RAW_WINDOW", 0, 2, 200),
			MaxFactChars:         envIntBounded("MEMORY_MAX_FACT_CHARS", 0, 8, 10000),
			MaxSummaryChars:      envIntBounded("MEMORY_MAX_SUMMARY_CHARS", 0, 8, 12000),
			MaxRawMessageChars:   envIntBounded("MEMORY_MAX_RAW_MESSAGE_CHARS", 0, 32, 100000),
		},
		PromptOverrides: promptOverrides(os.Environ()),
		UsageDir:        strings.TrimSpace(os.Getenv("USAGE_DB_DIR")),
		AdminEmails:     splitList(os.Getenv("ADMIN_EMAILS")),
		OTELEndpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}
	cfg.MemoryLimits = cfg.MemoryLimits.Normalize()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid gateway configuration: %w", err)
	}
	return cfg, nil
}

// promptOverrides collects PROMPT_<ID> variables from the environment.
// The id segment is lower-cased; validation of the id itself happens when
// the prompt registry is built.
func promptOverrides(environ []string) map[string]string {
	overrides := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, promptOverridePrefix) {
			continue
		}
		id := strings.ToLower(strings.TrimPrefix(key, promptOverridePrefix))
		if id != "" && strings.TrimSpace(value) != "" {
			overrides[id] = value
		}
	}
	return overrides
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// bareHost strips an optional scheme prefix and trailing slashes so the
// hostname validator sees a bare host even when the operator pastes a URL.
func bareHost(raw string) string {
	host := strings.TrimSpace(raw)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimRight(host, "/")
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if clean := strings.ToLower(strings.TrimSpace(part)); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

// envIntBounded parses an integer env var, clamping to [min, max]. A
// missing or malformed value yields the fallback unchanged, so a zero
// fallback can signal "use the package default" to the consumer.
func envIntBounded(key string, fallback, min, max int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func envFloatBounded(key string, fallback, min, max float32) float32 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return fallback
	}
	v := float32(f)
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func envBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
