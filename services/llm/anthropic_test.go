// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnthropicTestServer(t *testing.T, handler http.HandlerFunc) (*AnthropicClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewAnthropicClient(Config{
		APIKey:  "test-key",
		Model:   "claude-3-5-sonnet-20240620",
		BaseURL: server.URL,
	})
	require.NoError(t, err)
	return client, server
}

func TestNewAnthropicClient_RequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicClient(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestAnthropicChat_SendsSystemPromptTopLevel(t *testing.T) {
	var received anthropicRequest
	client, _ := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "def test_ok():\n    assert True\n"}},
		})
	})

	text, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "You write Python tests."},
		{Role: "user", Content: "Generate a test."},
	}, GenerationParams{})
	require.NoError(t, err)

	assert.Equal(t, "def test_ok():\n    assert True\n", text)
	assert.Equal(t, "You write Python tests.", received.System)
	require.Len(t, received.Messages, 1)
	assert.Equal(t, "user", received.Messages[0].Role)
}

func TestAnthropicChat_AppliesGenerationParams(t *testing.T) {
	var received anthropicRequest
	client, _ := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "ok"}},
		})
	})

	temp := float32(0)
	maxTokens := 2048
	_, err := client.Generate(context.Background(), "prompt", GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"```"},
	})
	require.NoError(t, err)

	require.NotNil(t, received.Temperature)
	assert.Equal(t, float32(0), *received.Temperature)
	assert.Equal(t, 2048, received.MaxTokens)
	assert.Equal(t, []string{"```"}, received.StopSeqs)
}

func TestAnthropicChat_NonOKStatus(t *testing.T) {
	client, _ := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	_, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestAnthropicChat_EmptyContentIsTypedError(t *testing.T) {
	client, _ := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "thinking", Text: ""}},
		})
	})

	_, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	var emptyErr *EmptyResponseError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, ProviderAnthropic, emptyErr.Provider)
}

func TestFactory_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "llamafarm"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestFactory_AnthropicFromConfig(t *testing.T) {
	model, err := New(context.Background(), Config{
		Provider: ProviderAnthropic,
		APIKey:   "test-key",
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, model.Name())
}

func TestFactory_MissingKeyFails(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := New(context.Background(), Config{Provider: ProviderAnthropic})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
