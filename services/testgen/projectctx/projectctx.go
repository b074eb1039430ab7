// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package projectctx gathers lightweight project facts for the generation
// prompt: declared dependencies, whether pytest is available, which test
// files already exist, and the testing conventions they follow. The scan is
// deliberately best-effort — a malformed manifest degrades the prompt, it
// never fails the request.
package projectctx

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// maxSampledTestFiles caps how many existing test files are read to infer
// conventions. Five is plenty to spot a project's style.
const maxSampledTestFiles = 5

// Context holds what the generation prompt needs to know about a project.
type Context struct {
	Dependencies      []string `json:"dependencies"`
	DevDependencies   []string `json:"dev_dependencies"`
	TestPatterns      []string `json:"test_patterns"`
	ExistingTestFiles []string `json:"existing_test_files"`
	HasPytest         bool     `json:"has_pytest"`
	HasUnittest       bool     `json:"has_unittest"`
}

// Gatherer scans a project root for dependency manifests and test files.
//
// Thread Safety: Safe for concurrent use; the Gatherer holds no state.
type Gatherer struct {
	logger *slog.Logger
}

// NewGatherer creates a Gatherer. A nil logger falls back to slog.Default().
func NewGatherer(logger *slog.Logger) *Gatherer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatherer{logger: logger}
}

// Gather collects project context from the given root.
//
// Description:
//
//	Reads requirements.txt and pyproject.toml for dependency names, walks
//	the tree for test_*.py and *_test.py files (skipping __pycache__ and
//	hidden directories), and samples the first few test files for
//	conventions (fixtures, parametrize, mocking, class-based, async).
//	Every step is best-effort; missing or unreadable files are skipped.
//
// Outputs:
//   - *Context: Never nil. HasUnittest is always true — it ships with the
//     standard library.
func (g *Gatherer) Gather(ctx context.Context, projectRoot string) *Context {
	pc := &Context{
		Dependencies:      []string{},
		DevDependencies:   []string{},
		TestPatterns:      []string{},
		ExistingTestFiles: []string{},
		HasUnittest:       true,
	}

	// Manifest parsing and the test-file walk are independent; on large
	// workspaces the walk dominates, so run them concurrently.
	var reqDeps, pyDeps, pyDevDeps []string
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		reqDeps = parseRequirements(filepath.Join(projectRoot, "requirements.txt"))
		pyDeps, pyDevDeps = parsePyproject(filepath.Join(projectRoot, "pyproject.toml"))
		return nil
	})
	grp.Go(func() error {
		pc.ExistingTestFiles = g.findTestFiles(grpCtx, projectRoot)
		return nil
	})
	_ = grp.Wait() // both branches are best-effort and never return errors

	pc.Dependencies = append(pc.Dependencies, reqDeps...)
	pc.Dependencies = append(pc.Dependencies, pyDeps...)
	pc.DevDependencies = append(pc.DevDependencies, pyDevDeps...)

	for _, dep := range append(append([]string{}, pc.Dependencies...), pc.DevDependencies...) {
		if strings.Contains(strings.ToLower(dep), "pytest") {
			pc.HasPytest = true
			break
		}
	}

	if len(pc.ExistingTestFiles) > 0 {
		pc.TestPatterns = g.analyzeTestPatterns(projectRoot, pc.ExistingTestFiles)
	}

	return pc
}

// parseRequirements extracts bare package names from a requirements.txt.
func parseRequirements(path string) []string {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var deps []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if name := packageName(line); name != "" {
			deps = append(deps, name)
		}
	}
	return deps
}

// parsePyproject extracts dependency names from a pyproject.toml with a
// line-oriented scan. Good enough for prompt context; a real TOML parser
// would be overkill for two string arrays.
func parsePyproject(path string) (deps, devDeps []string) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}

	var inDeps, inDevDeps bool
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)

		switch {
		case strings.Contains(lower, "dev") && strings.Contains(lower, "dependencies"):
			inDevDeps, inDeps = true, false
			continue
		case strings.HasPrefix(lower, "dependencies"):
			inDeps, inDevDeps = true, false
			continue
		case strings.HasPrefix(line, "["):
			inDeps, inDevDeps = false, false
			continue
		}

		if (inDeps || inDevDeps) && strings.HasPrefix(line, `"`) {
			pkg := strings.Trim(line, `"',[] `)
			if name := packageName(pkg); name != "" {
				if inDeps {
					deps = append(deps, name)
				} else {
					devDeps = append(devDeps, name)
				}
			}
		}
	}
	return deps, devDeps
}

// packageName strips version specifiers and extras from a requirement line.
func packageName(requirement string) string {
	name := requirement
	for _, sep := range []string{"==", ">=", "<=", ">", "<", "~=", "!=", "["} {
		if idx := strings.Index(name, sep); idx >= 0 {
			name = name[:idx]
		}
	}
	return strings.TrimSpace(name)
}

// findTestFiles walks the project for test_*.py and *_test.py files,
// returning root-relative paths in sorted order.
func (g *Gatherer) findTestFiles(ctx context.Context, projectRoot string) []string {
	found := []string{}
	err := filepath.WalkDir(projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fs.SkipAll
		}
		name := d.Name()
		if d.IsDir() {
			if name == "__pycache__" || (strings.HasPrefix(name, ".") && path != projectRoot) {
				return fs.SkipDir
			}
			return nil
		}
		if isTestFileName(name) {
			if rel, relErr := filepath.Rel(projectRoot, path); relErr == nil {
				found = append(found, filepath.ToSlash(rel))
			}
		}
		return nil
	})
	if err != nil {
		g.logger.Warn("test file scan incomplete",
			slog.String("root", projectRoot),
			slog.String("error", err.Error()))
	}
	sort.Strings(found)
	return found
}

// isTestFileName matches the pytest discovery conventions.
func isTestFileName(name string) bool {
	if !strings.HasSuffix(name, ".py") {
		return false
	}
	return strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test.py")
}

// analyzeTestPatterns samples existing test files and reports the
// conventions they use, as stable sorted tags.
func (g *Gatherer) analyzeTestPatterns(projectRoot string, testFiles []string) []string {
	patterns := make(map[string]bool)

	sample := testFiles
	if len(sample) > maxSampledTestFiles {
		sample = sample[:maxSampledTestFiles]
	}
	for _, rel := range sample {
		content, err := os.ReadFile(filepath.Join(projectRoot, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		text := string(content)
		if strings.Contains(text, "@pytest.fixture") {
			patterns["uses_pytest_fixtures"] = true
		}
		if strings.Contains(text, "@pytest.mark.parametrize") {
			patterns["uses_parametrize"] = true
		}
		if strings.Contains(text, "unittest.mock") || strings.Contains(text, "from mock import") {
			patterns["uses_mocking"] = true
		}
		if strings.Contains(text, "class Test") {
			patterns["class_based_tests"] = true
		}
		if strings.Contains(text, "async def test_") || strings.Contains(text, "@pytest.mark.asyncio") {
			patterns["async_tests"] = true
		}
	}

	tags := make([]string, 0, len(patterns))
	for tag := range patterns {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
