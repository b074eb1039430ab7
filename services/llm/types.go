// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the chat-model abstraction behind test generation.
// Providers are interchangeable: a hand-rolled Anthropic REST client and
// langchaingo-backed OpenAI and Google adapters all satisfy ChatModel.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "googleai"
)

// Sentinel errors.
var (
	// ErrMissingAPIKey means no API key was configured for the provider.
	ErrMissingAPIKey = errors.New("api key is missing")

	// ErrUnknownProvider means the configured provider name is not supported.
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// EmptyResponseError means the model returned a response with no usable
// text. Distinct from transport errors so callers can retry generation
// rather than failing the request.
type EmptyResponseError struct {
	Provider string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("%s: model returned no text content", e.Provider)
}

// Message is one turn of a chat conversation. Role is "system", "user", or
// "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams are the optional sampling knobs. Nil pointer fields mean
// provider defaults.
type GenerationParams struct {
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
	Stop        []string
}

// ChatModel is the provider surface the generation pipeline depends on.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatModel interface {
	// Name returns the provider name for logging and metrics.
	Name() string

	// Generate sends a single user prompt and returns the model's text.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat sends a conversation and returns the model's text.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	// Provider is one of ProviderAnthropic, ProviderOpenAI, ProviderGoogle.
	Provider string

	// Model is the provider-specific model name.
	Model string

	// APIKey authenticates against the provider.
	APIKey string

	// BaseURL overrides the provider endpoint. Empty means the provider
	// default. Used by tests and proxies.
	BaseURL string
}
