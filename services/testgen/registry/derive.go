// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"path/filepath"
	"strings"
)

// TestFilePrefix is the fixed filename prefix applied when deriving a test
// file from a source file. "parser.py" becomes "test_parser.py".
const TestFilePrefix = "test_"

// DeriveTestFilePath computes where the test file for a source file lives.
//
// Description:
//
//	Pure function, no I/O, no registry lookup. The test file keeps the source
//	file's directory structure relative to the project root, nested under the
//	configured test root, with the base name prefixed:
//
//	  /proj/pkg/util/math.py → /proj/<testRoot>/pkg/util/test_math.py
//
//	This convention is load-bearing: the registry's "does a test exist" check
//	and the merge engine's "where to write" decision both recompute it from
//	scratch and must agree. The same inputs return the same value on every
//	call.
//
// Inputs:
//   - sourceFile: Absolute path of the source file.
//   - projectRoot: Absolute path of the workspace root.
//   - testRoot: Name of the test directory under the project root, e.g.
//     "tests".
//
// Outputs:
//   - string: Absolute path of the derived test file. A source file outside
//     the project root falls back to <projectRoot>/<testRoot>/test_<base>.
//
// Thread Safety: Pure function; safe for concurrent use.
func DeriveTestFilePath(sourceFile, projectRoot, testRoot string) string {
	base := TestFilePrefix + filepath.Base(sourceFile)

	rel, err := filepath.Rel(projectRoot, sourceFile)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Join(projectRoot, testRoot, base)
	}

	return filepath.Join(projectRoot, testRoot, filepath.Dir(rel), base)
}
