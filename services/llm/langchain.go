// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

const googleDefaultModel = "gemini-2.0-flash-lite"

// langchainModel adapts a langchaingo llms.Model to ChatModel. OpenAI and
// Google share this wrapper; only construction differs.
type langchainModel struct {
	name  string
	model llms.Model
}

// NewOpenAIModel creates an OpenAI-backed ChatModel via langchaingo.
func NewOpenAIModel(cfg Config) (ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w (set generation.api_key or OPENAI_API_KEY)", ErrMissingAPIKey)
	}
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: creating client: %w", err)
	}
	return &langchainModel{name: ProviderOpenAI, model: model}, nil
}

// NewGoogleModel creates a Gemini-backed ChatModel via langchaingo. The
// original backend for this service ran on gemini-2.0-flash-lite, which
// stays the default.
func NewGoogleModel(ctx context.Context, cfg Config) (ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("googleai: %w (set generation.api_key or GEMINI_API_KEY)", ErrMissingAPIKey)
	}
	model := cfg.Model
	if model == "" {
		model = googleDefaultModel
	}
	client, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.APIKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("googleai: creating client: %w", err)
	}
	return &langchainModel{name: ProviderGoogle, model: client}, nil
}

// Name implements ChatModel.
func (m *langchainModel) Name() string { return m.name }

// Generate implements ChatModel.
func (m *langchainModel) Generate(ctx context.Context, prompt string, params GenerationParams) (text string, err error) {
	start := time.Now()
	defer func() {
		recordModelCall(m.name, time.Since(start), err)
	}()

	text, err = llms.GenerateFromSinglePrompt(ctx, m.model, prompt, callOptions(params)...)
	if err != nil {
		return "", fmt.Errorf("%s: generation failed: %w", m.name, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", &EmptyResponseError{Provider: m.name}
	}
	return text, nil
}

// Chat implements ChatModel.
func (m *langchainModel) Chat(ctx context.Context, messages []Message, params GenerationParams) (text string, err error) {
	start := time.Now()
	defer func() {
		recordModelCall(m.name, time.Since(start), err)
	}()

	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(chatMessageType(msg.Role), msg.Content))
	}

	resp, err := m.model.GenerateContent(ctx, content, callOptions(params)...)
	if err != nil {
		return "", fmt.Errorf("%s: chat failed: %w", m.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", &EmptyResponseError{Provider: m.name}
	}
	return resp.Choices[0].Content, nil
}

// callOptions converts GenerationParams to langchaingo call options.
func callOptions(params GenerationParams) []llms.CallOption {
	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*params.TopP)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	return opts
}

// chatMessageType maps generic roles to langchaingo message types.
func chatMessageType(role string) llms.ChatMessageType {
	switch strings.ToLower(role) {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
