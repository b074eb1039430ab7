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
	"os"
	"strings"
)

// envKeyVars maps each provider to its conventional API key variable,
// consulted when the config leaves the key empty.
var envKeyVars = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGoogle:    "GEMINI_API_KEY",
}

// New creates a ChatModel for the configured provider.
//
// Description:
//
//	Dispatches on cfg.Provider. An empty cfg.APIKey falls back to the
//	provider's environment variable (ANTHROPIC_API_KEY, OPENAI_API_KEY,
//	GEMINI_API_KEY).
//
// Outputs:
//   - ChatModel: Ready-to-use provider client.
//   - error: ErrUnknownProvider for unrecognized names, ErrMissingAPIKey
//     when no key is available, or provider construction failures.
func New(ctx context.Context, cfg Config) (ChatModel, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.APIKey == "" {
		if envVar, ok := envKeyVars[provider]; ok {
			cfg.APIKey = strings.TrimSpace(os.Getenv(envVar))
		}
	}

	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg)
	case ProviderOpenAI:
		return NewOpenAIModel(cfg)
	case ProviderGoogle, "google", "gemini":
		return NewGoogleModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
