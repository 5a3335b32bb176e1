// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client on the OpenAI chat-completion API.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client from an API key. The model is chosen
// per call via GenerationParams so the chat path and the summarizer can
// use different models through one client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(strings.TrimSpace(apiKey))}
}

// Chat implements the Client interface.
//
// The context is expected to carry the caller's timeout; a cancelled or
// expired context surfaces as an UpstreamError like any provider failure.
func (o *OpenAIClient) Chat(ctx context.Context, system string, messages []Message, params GenerationParams) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:               params.Model,
		Temperature:         params.Temperature,
		MaxCompletionTokens: params.MaxTokens,
	}
	if params.JSONOnly {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	req.Messages = make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, message := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    message.Role,
			Content: message.Content,
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "model", params.Model, "error", err)
		return Completion{}, upstreamErr("upstream provider request failed", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices", "model", params.Model)
		return Completion{}, upstreamErr("upstream provider returned an empty response", nil)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return Completion{}, upstreamErr("upstream provider returned an empty response", nil)
	}

	return Completion{
		Content:      content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
