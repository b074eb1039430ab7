// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generate

import (
	"fmt"
	"strings"

	"github.com/RoraAI/RoraEngine/services/testgen/projectctx"
)

// maxSourceContextBytes caps how much of the source file rides along in the
// prompt. The target function body is always included in full.
const maxSourceContextBytes = 3000

const pytestInstructions = `Use pytest style tests with the following conventions:
- Test function names start with 'test_'
- Use plain assert statements
- Use pytest.raises() for exception testing
- Use @pytest.mark.parametrize for multiple test cases if appropriate
- Use @pytest.mark.asyncio for async functions`

const unittestInstructions = `Use unittest style tests with the following conventions:
- Create a test class inheriting from unittest.TestCase
- Test method names start with 'test_'
- Use self.assertEqual(), self.assertTrue(), self.assertRaises() etc.
- Use unittest.IsolatedAsyncioTestCase for async functions`

// buildPrompt renders the generation prompt for one attempt. previousError
// is empty on the first attempt; retries carry the syntax error so the
// model can correct itself.
func buildPrompt(req Request, previousError string) string {
	fn := req.Function

	instructions := pytestInstructions
	if req.Framework == FrameworkUnittest {
		instructions = unittestInstructions
	}

	var sb strings.Builder
	sb.WriteString("You are an expert Python test writer. Generate comprehensive unit tests for the following function.\n\n")

	sb.WriteString("## Target Function\n\n```python\n")
	sb.WriteString(fn.Body)
	sb.WriteString("\n```\n\n")
	fmt.Fprintf(&sb, "Function signature: `%s`\n", fn.Signature)
	if fn.Docstring != "" {
		fmt.Fprintf(&sb, "Docstring: %s\n", fn.Docstring)
	} else {
		sb.WriteString("No docstring provided.\n")
	}
	if fn.IsAsync {
		sb.WriteString("\nNote: This is an async function. Generate async tests appropriately.\n")
	}
	if fn.IsMethod && fn.ClassName != "" {
		fmt.Fprintf(&sb, "\nNote: This is a method of class '%s'. You may need to instantiate the class or mock it.\n", fn.ClassName)
	}

	sb.WriteString("\n## Full Source File Context\n\n```python\n")
	sb.WriteString(truncate(req.SourceCode, maxSourceContextBytes))
	sb.WriteString("\n```\n\n")

	sb.WriteString("## Test Requirements\n\n")
	sb.WriteString(instructions)
	sb.WriteString("\n")
	if patterns := projectPatterns(req.Project); patterns != "" {
		fmt.Fprintf(&sb, "\nExisting test patterns in project: %s\n", patterns)
	}

	sb.WriteString(`
## Instructions

1. Generate tests that cover:
   - Normal/happy path cases
   - Edge cases (empty inputs, None values, boundary conditions)
   - Error cases (invalid inputs that should raise exceptions)

2. Use descriptive test names that explain what is being tested

3. Include necessary imports at the top of the code

4. Mock external dependencies (file I/O, network calls, databases) appropriately

5. Return ONLY the Python code, no explanations
`)

	if previousError != "" {
		fmt.Fprintf(&sb, `
IMPORTANT: Previous attempt failed with error:
%s

Please fix this issue in your response. Ensure the code has valid Python syntax.
`, previousError)
	}

	sb.WriteString("\nGenerate the complete test code now:\n")
	return sb.String()
}

// projectPatterns joins observed test conventions for the prompt.
func projectPatterns(pc *projectctx.Context) string {
	if pc == nil || len(pc.TestPatterns) == 0 {
		return ""
	}
	return strings.Join(pc.TestPatterns, ", ")
}

// truncate limits s to n bytes without splitting the trailing line.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}

// ExtractCode pulls Python code out of a model response. Fenced
// ```python blocks win, then plain ``` blocks; an unfenced response is
// returned as-is.
func ExtractCode(content string) string {
	if idx := strings.Index(content, "```python"); idx >= 0 {
		start := idx + len("```python")
		if end := strings.Index(content[start:], "```"); end > 0 {
			return strings.TrimSpace(content[start : start+end])
		}
	}
	if idx := strings.Index(content, "```"); idx >= 0 {
		start := idx + 3
		if end := strings.Index(content[start:], "```"); end > 0 {
			return strings.TrimSpace(content[start : start+end])
		}
	}
	return strings.TrimSpace(content)
}
