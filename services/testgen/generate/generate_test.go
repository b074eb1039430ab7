// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoraAI/RoraEngine/services/llm"
	"github.com/RoraAI/RoraEngine/services/testgen/projectctx"
	"github.com/RoraAI/RoraEngine/services/testgen/pyast"
)

// fakeModel returns canned responses in order, repeating the last one, and
// records the prompts it saw.
type fakeModel struct {
	responses []string
	err       error
	prompts   []string
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	idx := len(f.prompts) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func (f *fakeModel) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return f.Generate(ctx, messages[len(messages)-1].Content, params)
}

func sampleRequest() Request {
	return Request{
		Function: pyast.FunctionInfo{
			Name:      "parse_row",
			Signature: "def parse_row(line: str) -> list[str]",
			Body:      "def parse_row(line: str) -> list[str]:\n    return line.split(\",\")",
		},
		SourceCode:  "def parse_row(line: str) -> list[str]:\n    return line.split(\",\")\n",
		FilePath:    "src/app.py",
		ProjectRoot: "/proj",
		Framework:   FrameworkPytest,
	}
}

const validTestResponse = "```python\nimport pytest\n\nfrom app import parse_row\n\n\ndef test_parse_row_splits_on_comma():\n    assert parse_row(\"a,b\") == [\"a\", \"b\"]\n```"

func TestGenerate_FirstAttemptSucceeds(t *testing.T) {
	model := &fakeModel{responses: []string{validTestResponse}}
	gen := NewGenerator(model, pyast.NewParser())

	res, err := gen.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "test_parse_row", res.TestFunctionName)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.TestCode, "def test_parse_row_splits_on_comma")
	assert.NotContains(t, res.TestCode, "```", "code fence must be stripped")
	assert.Equal(t, []string{"import pytest", "from app import parse_row"}, res.Imports)
}

func TestGenerate_RetriesOnSyntaxErrorWithErrorInPrompt(t *testing.T) {
	model := &fakeModel{responses: []string{
		"```python\ndef test_broken(:\n    pass\n```",
		validTestResponse,
	}}
	gen := NewGenerator(model, pyast.NewParser())

	res, err := gen.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	require.Len(t, model.prompts, 2)
	assert.NotContains(t, model.prompts[0], "Previous attempt failed")
	assert.Contains(t, model.prompts[1], "Previous attempt failed")
	assert.Contains(t, model.prompts[1], "syntax error")
}

func TestGenerate_ExhaustsRetryBudget(t *testing.T) {
	model := &fakeModel{responses: []string{"```python\ndef test_broken(:\n```"}}
	gen := NewGenerator(model, pyast.NewParser())

	_, err := gen.Generate(context.Background(), sampleRequest())
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Len(t, model.prompts, DefaultMaxRetries+1)
}

func TestGenerate_ProviderErrorAbortsImmediately(t *testing.T) {
	model := &fakeModel{err: errors.New("connection refused")}
	gen := NewGenerator(model, pyast.NewParser())

	_, err := gen.Generate(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGenerationFailed)
	assert.Len(t, model.prompts, 1, "provider errors must not be retried")
}

func TestGenerate_PromptCarriesFunctionAndFrameworkContext(t *testing.T) {
	model := &fakeModel{responses: []string{validTestResponse}}
	gen := NewGenerator(model, pyast.NewParser())

	req := sampleRequest()
	req.Function.IsAsync = true
	req.Function.IsMethod = true
	req.Function.ClassName = "RowReader"
	req.Project = &projectctx.Context{TestPatterns: []string{"uses_pytest_fixtures"}}

	_, err := gen.Generate(context.Background(), req)
	require.NoError(t, err)

	prompt := model.prompts[0]
	assert.Contains(t, prompt, "def parse_row(line: str) -> list[str]")
	assert.Contains(t, prompt, "async function")
	assert.Contains(t, prompt, "method of class 'RowReader'")
	assert.Contains(t, prompt, "uses_pytest_fixtures")
	assert.Contains(t, prompt, "pytest.raises()")
}

func TestGenerate_UnittestInstructions(t *testing.T) {
	model := &fakeModel{responses: []string{validTestResponse}}
	gen := NewGenerator(model, pyast.NewParser())

	req := sampleRequest()
	req.Framework = FrameworkUnittest
	_, err := gen.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, model.prompts[0], "unittest.TestCase")
	assert.NotContains(t, model.prompts[0], "pytest.raises()")
}

func TestGenerate_RedactsSecretsInPrompt(t *testing.T) {
	model := &fakeModel{responses: []string{validTestResponse}}
	gen := NewGenerator(model, pyast.NewParser())

	req := sampleRequest()
	req.SourceCode = "API_KEY = \"sk-abcdefghijklmnopqrstuv\"\n" + req.SourceCode

	_, err := gen.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.NotContains(t, model.prompts[0], "sk-abcdefghijklmnopqrstuv")
	assert.Contains(t, model.prompts[0], "[REDACTED:openai_key]")
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "python fence",
			input: "Here you go:\n```python\ndef test_a():\n    pass\n```\nDone.",
			want:  "def test_a():\n    pass",
		},
		{
			name:  "bare fence",
			input: "```\ndef test_b():\n    pass\n```",
			want:  "def test_b():\n    pass",
		},
		{
			name:  "no fence returns trimmed content",
			input: "  def test_c():\n    pass\n",
			want:  "def test_c():\n    pass",
		},
		{
			name:  "unterminated fence falls back",
			input: "```python\ndef test_d():",
			want:  "```python\ndef test_d():",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.input))
		})
	}
}

func TestTruncate_DoesNotSplitLines(t *testing.T) {
	src := strings.Repeat("line_aaaaaaaa\n", 10)
	out := truncate(src, 30)
	assert.True(t, len(out) <= 30)
	assert.True(t, strings.HasSuffix(out, "line_aaaaaaaa"), "must cut at a line boundary")
}
