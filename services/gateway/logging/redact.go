// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides the gateway's structured logging setup. Every
// log line passes through a redacting slog.Handler so conversation content
// and credentials can never reach the log sink, no matter which call site
// emitted them.
package logging

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// maxLoggedStringChars caps free-form string attributes. Long values are
// usually payload fragments rather than diagnostics.
const maxLoggedStringChars = 300

const redactedPlaceholder = "[REDACTED]"

// sensitiveKeyPattern matches attribute keys whose values must never be
// logged: message bodies, credentials and access tokens.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)(prompt|content|messages|authorization|secret|api[_-]?key|cf-access-jwt-assertion|token)`)

// tokenCountPattern exempts numeric token accounting keys, which the
// sensitive pattern would otherwise catch on the word "token".
var tokenCountPattern = regexp.MustCompile(`(?i)^tokens$|^(input|output)[_-]tokens?$|tokens?[_-](count|total|in|out)$`)

// RedactingHandler wraps another slog.Handler and scrubs sensitive
// attributes before they are emitted.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps inner with attribute redaction.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// NewDefault builds the gateway's standard logger: JSON to stderr at the
// given level, with redaction applied.
func NewDefault(level slog.Level) *slog.Logger {
	json := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(json))
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	scrubbed := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		scrubbed.AddAttrs(redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, scrubbed)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = redactAttr(attr)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(attr slog.Attr) slog.Attr {
	if sensitiveKey(attr.Key) {
		return slog.String(attr.Key, redactedPlaceholder)
	}

	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		if s := value.String(); len(s) > maxLoggedStringChars {
			return slog.String(attr.Key, s[:maxLoggedStringChars]+"…(truncated)")
		}
	case slog.KindGroup:
		members := value.Group()
		scrubbed := make([]any, 0, len(members))
		for _, member := range members {
			scrubbed = append(scrubbed, redactAttr(member))
		}
		return slog.Group(attr.Key, scrubbed...)
	}
	return attr
}

func sensitiveKey(key string) bool {
	if tokenCountPattern.MatchString(key) {
		return false
	}
	return sensitiveKeyPattern.MatchString(strings.ToLower(key))
}
