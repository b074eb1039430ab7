// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package merge combines newly generated test code with existing test-file
// content without parsing the full target-language grammar.
//
// The placement strategy is a named, deliberate heuristic — BestEffortTextualMatch:
// function regions are located by scanning definition lines for an identifier
// substring, not by AST analysis. A substring match can pick up an unrelated
// function whose name happens to contain the target identifier; that is an
// accepted risk of the contract, and the worst case for any malformed input
// is a sub-optimal append, never an error. A parser-backed strategy can
// replace the internals later without changing Merge's signature.
//
// The package is pure: callers own reading the existing file and writing the
// result.
package merge

import (
	"log/slog"
	"regexp"
	"strings"
)

// defLineRe matches a Python function-definition line and captures the
// defined identifier. Leading whitespace is allowed so methods inside
// classes are also candidates for replacement.
var defLineRe = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// topLevelBoundaryRe matches a line that starts a new top-level region:
// a function or class definition, or a decorator, at column zero.
var topLevelBoundaryRe = regexp.MustCompile(`^(?:async\s+def\s|def\s|class\s|@)`)

// Merge combines newly generated test code with existing test-file content.
//
// Description:
//
//	Produces the complete new file content. For an empty existing file the
//	result is the imports joined by newline, a blank line, then the new code
//	with a trailing newline. For a non-empty file, missing imports are
//	reconciled in first, then the new code is either spliced over the region
//	of a previously generated test (regenerate) or appended after exactly one
//	blank line.
//
// Inputs:
//   - existing: Current content of the target test file. Empty means the
//     file does not exist yet.
//   - newCode: Generated test source. Assumed syntax-validated by the caller.
//   - imports: Ordered import statements the test needs. An import already
//     present verbatim anywhere in existing is not inserted again.
//   - functionIdentity: Identifier used to locate a previously generated
//     test region when isRegenerate is true. Matched as a substring of the
//     defined name on a definition line.
//   - isRegenerate: When true, an existing test whose name contains
//     functionIdentity is replaced in place. When no such region is found
//     the call degrades to append — a soft condition, logged, never an error.
//
// Outputs:
//   - string: The reconstructed file content. Always ends with a newline.
//
// Thread Safety: Pure function; safe for concurrent use.
func Merge(existing, newCode string, imports []string, functionIdentity string, isRegenerate bool) string {
	if existing == "" {
		return renderNewFile(newCode, imports)
	}

	content := reconcileImports(existing, imports)

	if isRegenerate {
		if merged, ok := replaceRegion(content, newCode, functionIdentity); ok {
			return merged
		}
		// BestEffortTextualMatch found no prior region; fall through to append.
		slog.Warn("merge: no existing test region matched, appending instead",
			slog.String("function_identity", functionIdentity))
	}

	return appendCode(content, newCode)
}

// renderNewFile builds content for a file that does not exist yet.
func renderNewFile(newCode string, imports []string) string {
	if len(imports) == 0 {
		return ensureTrailingNewline(newCode)
	}
	return strings.Join(imports, "\n") + "\n\n" + newCode + "\n"
}

// reconcileImports inserts each import not already present verbatim as a
// substring of content. Missing imports land immediately after the last line
// that looks like an import statement; if no import line exists they are
// prepended before all existing content.
func reconcileImports(content string, imports []string) string {
	missing := make([]string, 0, len(imports))
	for _, imp := range imports {
		if imp == "" || strings.Contains(content, imp) {
			continue
		}
		missing = append(missing, imp)
	}
	if len(missing) == 0 {
		return content
	}

	lines := strings.Split(content, "\n")
	lastImport := -1
	for i, line := range lines {
		if isImportLine(line) {
			lastImport = i
		}
	}

	if lastImport == -1 {
		return strings.Join(missing, "\n") + "\n" + content
	}

	rebuilt := make([]string, 0, len(lines)+len(missing))
	rebuilt = append(rebuilt, lines[:lastImport+1]...)
	rebuilt = append(rebuilt, missing...)
	rebuilt = append(rebuilt, lines[lastImport+1:]...)
	return strings.Join(rebuilt, "\n")
}

// isImportLine applies the simple prefix rule for recognizing import
// statements: "import x" or "from x import y".
func isImportLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "import ") {
		return true
	}
	return strings.HasPrefix(trimmed, "from ") && strings.Contains(trimmed, " import ")
}

// replaceRegion locates a function definition whose name contains identity
// and splices newCode over the captured region. The region runs from the
// definition line (including any directly attached decorator lines above it)
// through the line before the next top-level definition, or end of file.
//
// Returns (content, true) on success, ("", false) when no definition matched.
func replaceRegion(content, newCode, identity string) (string, bool) {
	if identity == "" {
		return "", false
	}

	lines := strings.Split(content, "\n")
	defLine := -1
	for i, line := range lines {
		m := defLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.Contains(m[2], identity) {
			defLine = i
			break
		}
	}
	if defLine == -1 {
		return "", false
	}

	// Pull directly attached decorator lines into the region.
	start := defLine
	for start > 0 && strings.HasPrefix(strings.TrimSpace(lines[start-1]), "@") {
		start--
	}

	end := len(lines)
	for i := defLine + 1; i < len(lines); i++ {
		if topLevelBoundaryRe.MatchString(lines[i]) {
			end = i
			break
		}
	}

	// Trim blank lines trailing the replaced region so spacing is owned by
	// the inserted code, not leftovers.
	for end > start+1 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}

	replacement := strings.Split(strings.TrimRight(newCode, "\n"), "\n")

	rebuilt := make([]string, 0, len(lines)-(end-start)+len(replacement))
	rebuilt = append(rebuilt, lines[:start]...)
	rebuilt = append(rebuilt, replacement...)
	rebuilt = append(rebuilt, lines[end:]...)

	return ensureTrailingNewline(strings.Join(rebuilt, "\n")), true
}

// appendCode appends newCode at the end of content, preceded by exactly one
// blank line, with the file's trailing whitespace trimmed first.
func appendCode(content, newCode string) string {
	trimmed := strings.TrimRight(content, " \t\n")
	if trimmed == "" {
		return ensureTrailingNewline(newCode)
	}
	return trimmed + "\n\n" + strings.TrimRight(newCode, "\n") + "\n"
}

// ensureTrailingNewline guarantees exactly the content plus a final newline
// when one is missing. Content that already ends in a newline is unchanged.
func ensureTrailingNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
