// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/chatgateco/chatgate/services/llm"
)

// =============================================================================
// Turn Summarizer
// =============================================================================

// DefaultSummarizerPrompt is the strict-JSON contract sent to the
// summarization capability. The model must reply with a single JSON object
// and nothing else; anything under that bar goes through extraction and,
// failing that, fallback summarization.
const DefaultSummarizerPrompt = `You maintain the long-term memory of an ongoing conversation.
Given the established facts, the user's message and the assistant's reply, respond with ONLY a JSON object:
{
  "user_summary": "one or two sentences capturing what the user said or asked",
  "assistant_summary": "one or two sentences capturing what the assistant answered",
  "base_truth_diff": {
    "add": ["new durable facts worth remembering"],
    "update": ["corrected facts, phrased as 'Key: new value' when replacing 'Key: old value'"],
    "remove": ["short topic anchors for facts that no longer hold"]
  }
}
Keep facts short, concrete and self-contained. Output no prose, no markdown fences, no commentary.`

// SummarizeMode records whether the summaries came from the model or from
// the truncation fallback.
type SummarizeMode string

const (
	SummarizeModeModel    SummarizeMode = "model"
	SummarizeModeFallback SummarizeMode = "fallback"
)

// SummarizerConfig tunes the summarization capability call.
type SummarizerConfig struct {
	Model           string
	Temperature     float32
	Timeout         time.Duration
	MaxOutputTokens int
	MaxSummaryChars int
	// SystemPrompt overrides DefaultSummarizerPrompt when non-empty.
	SystemPrompt string
}

// SummarizeResult is the outcome of one turn summarization.
type SummarizeResult struct {
	UserSummary      string
	AssistantSummary string
	Diff             BaseTruthDiff
	Mode             SummarizeMode
	Complexity       Complexity
}

// Summarizer orchestrates turn summarization against an llm.Client.
type Summarizer struct {
	client llm.Client
	cfg    SummarizerConfig
}

// NewSummarizer wires a summarizer to its capability client.
func NewSummarizer(client llm.Client, cfg SummarizerConfig) *Summarizer {
	if cfg.MaxSummaryChars <= 0 {
		cfg.MaxSummaryChars = DefaultLimits().MaxSummaryChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Summarizer{client: client, cfg: cfg}
}

// SummarizeTurn produces structured summaries and a fact diff for one turn.
//
// # Description
//
// The turn is classified first; short turns never extract a diff. The
// capability is called with the strict JSON contract and retried once on
// malformed output. If both attempts fail the result degrades to truncated
// copies of the raw messages with an empty diff; summarization failure
// must never fail the turn.
func (s *Summarizer) SummarizeTurn(ctx context.Context, userMessage, assistantMessage string, baseTruth []string) SummarizeResult {
	complexity := ClassifyTurn(userMessage, assistantMessage)

	parsed := s.call(ctx, userMessage, assistantMessage, baseTruth)
	if parsed == nil {
		parsed = s.call(ctx, userMessage, assistantMessage, baseTruth)
	}

	if parsed != nil {
		diff := BaseTruthDiff{}
		if ShouldExtractDiff(complexity) {
			diff = parsed.diff
		}
		return SummarizeResult{
			UserSummary:      parsed.userSummary,
			AssistantSummary: parsed.assistantSummary,
			Diff:             diff,
			Mode:             SummarizeModeModel,
			Complexity:       complexity,
		}
	}

	return SummarizeResult{
		UserSummary:      fallbackSummary(userMessage, s.cfg.MaxSummaryChars),
		AssistantSummary: fallbackSummary(assistantMessage, s.cfg.MaxSummaryChars),
		Mode:             SummarizeModeFallback,
		Complexity:       complexity,
	}
}

type parsedSummary struct {
	userSummary      string
	assistantSummary string
	diff             BaseTruthDiff
}

func (s *Summarizer) call(ctx context.Context, userMessage, assistantMessage string, baseTruth []string) *parsedSummary {
	input, err := json.MarshalIndent(map[string]any{
		"base_truth":      baseTruth,
		"user_message":    userMessage,
		"assistant_reply": assistantMessage,
	}, "", "  ")
	if err != nil {
		return nil
	}

	system := s.cfg.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = DefaultSummarizerPrompt
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	completion, err := s.client.Chat(callCtx, system,
		[]llm.Message{{Role: string(RoleUser), Content: string(input)}},
		llm.GenerationParams{
			Model:       s.cfg.Model,
			Temperature: s.cfg.Temperature,
			MaxTokens:   s.cfg.MaxOutputTokens,
			JSONOnly:    true,
		})
	if err != nil {
		slog.Warn("Summarizer call failed", "error", err)
		return nil
	}

	return parseSummarizerPayload(completion.Content, s.cfg.MaxSummaryChars)
}

type summarizerWire struct {
	UserSummary      string        `json:"user_summary"`
	AssistantSummary string        `json:"assistant_summary"`
	BaseTruthDiff    BaseTruthDiff `json:"base_truth_diff"`
}

func parseSummarizerPayload(raw string, maxSummaryChars int) *parsedSummary {
	candidate := extractJSONCandidate(raw)
	if candidate == "" {
		return nil
	}

	var wire summarizerWire
	if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
		return nil
	}

	userSummary := normalizeText(wire.UserSummary, maxSummaryChars)
	assistantSummary := normalizeText(wire.AssistantSummary, maxSummaryChars)
	if userSummary == "" || assistantSummary == "" {
		return nil
	}

	return &parsedSummary{
		userSummary:      userSummary,
		assistantSummary: assistantSummary,
		diff:             NormalizeDiff(wire.BaseTruthDiff, DiffOptions{MaxFactChars: maxSummaryChars}),
	}
}

var fencedJSONPattern = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// extractJSONCandidate salvages a JSON object from model output that
// ignored the no-markdown instruction: tries the raw text, then a fenced
// block, then the outermost brace span.
func extractJSONCandidate(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	if json.Valid([]byte(trimmed)) {
		return trimmed
	}

	if m := fencedJSONPattern.FindStringSubmatch(trimmed); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1])
	}

	first := strings.Index(trimmed, "{")
	last := strings.LastIndex(trimmed, "}")
	if first >= 0 && last > first {
		return trimmed[first : last+1]
	}

	return ""
}

func fallbackSummary(text string, maxChars int) string {
	clean := normalizeText(text, maxChars)
	if clean == "" {
		return "(empty)"
	}
	return clean
}
