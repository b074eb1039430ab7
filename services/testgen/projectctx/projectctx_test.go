// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package projectctx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestGather_RequirementsAndPytestDetection(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "requirements.txt", `
# comment
requests==2.31.0
pytest>=7.0
numpy[extra]<=1.26
-r other.txt
`)

	pc := NewGatherer(nil).Gather(context.Background(), root)

	assert.Equal(t, []string{"requests", "pytest", "numpy"}, pc.Dependencies)
	assert.True(t, pc.HasPytest)
	assert.True(t, pc.HasUnittest)
}

func TestGather_Pyproject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pyproject.toml", `[project]
name = "demo"
dependencies = [
    "flask>=2.0",
    "sqlalchemy==2.0.1",
]

[project.optional-dependencies]
dev-dependencies = [
    "pytest-cov",
]

[tool.black]
line-length = 100
`)

	pc := NewGatherer(nil).Gather(context.Background(), root)

	assert.Equal(t, []string{"flask", "sqlalchemy"}, pc.Dependencies)
	assert.Equal(t, []string{"pytest-cov"}, pc.DevDependencies)
	assert.True(t, pc.HasPytest, "pytest plugin in dev dependencies counts")
}

func TestGather_MissingManifests(t *testing.T) {
	pc := NewGatherer(nil).Gather(context.Background(), t.TempDir())

	assert.Empty(t, pc.Dependencies)
	assert.False(t, pc.HasPytest)
	assert.True(t, pc.HasUnittest)
	assert.Empty(t, pc.ExistingTestFiles)
}

func TestGather_FindsTestFilesSkippingPycache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.py", "def f():\n    pass\n")
	writeFile(t, root, "tests/test_app.py", "def test_f():\n    pass\n")
	writeFile(t, root, "src/util_test.py", "def test_u():\n    pass\n")
	writeFile(t, root, "__pycache__/test_cached.py", "")
	writeFile(t, root, ".venv/lib/test_vendored.py", "")

	pc := NewGatherer(nil).Gather(context.Background(), root)

	assert.Equal(t, []string{"src/util_test.py", "tests/test_app.py"}, pc.ExistingTestFiles)
}

func TestGather_AnalyzesTestPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tests/test_app.py", `import pytest
from unittest.mock import patch

@pytest.fixture
def client():
    return object()

@pytest.mark.parametrize("x", [1, 2])
def test_values(x):
    assert x > 0

class TestSuite:
    async def test_async_path(self):
        pass
`)

	pc := NewGatherer(nil).Gather(context.Background(), root)

	assert.Equal(t, []string{
		"async_tests",
		"class_based_tests",
		"uses_mocking",
		"uses_parametrize",
		"uses_pytest_fixtures",
	}, pc.TestPatterns)
}
