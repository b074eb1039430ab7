// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package testgen

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoraAI/RoraEngine/services/testgen/registry"
)

func newTestRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc, nil))
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleGenerate_Success(t *testing.T) {
	svc, root := newTestService(t, &fakeModel{response: sampleModelResponse}, testConfig())
	router := newTestRouter(t, svc)

	w := postJSON(t, router, "/v1/testgen/generate", GenerateRequest{
		SourceFile:   filepath.Join(root, "app.py"),
		FunctionName: "parse_row",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "test_parse_row", resp.Binding.TestFunctionName)

	_, err := os.Stat(resp.Binding.TestFile)
	assert.NoError(t, err)
}

func TestHandleGenerate_MissingFields(t *testing.T) {
	svc, _ := newTestService(t, &fakeModel{response: sampleModelResponse}, testConfig())
	router := newTestRouter(t, svc)

	w := postJSON(t, router, "/v1/testgen/generate", map[string]string{
		"source_file": "/tmp/app.py",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CodeInvalidRequest, resp.Code)
}

func TestHandleGenerate_RejectsNonIdentifierFunctionName(t *testing.T) {
	svc, root := newTestService(t, &fakeModel{response: sampleModelResponse}, testConfig())
	router := newTestRouter(t, svc)

	w := postJSON(t, router, "/v1/testgen/generate", GenerateRequest{
		SourceFile:   filepath.Join(root, "app.py"),
		FunctionName: "parse row; rm -rf /",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CodeInvalidRequest, resp.Code)
}

func TestHandleGenerate_UnknownFunction(t *testing.T) {
	svc, root := newTestService(t, &fakeModel{response: sampleModelResponse}, testConfig())
	router := newTestRouter(t, svc)

	w := postJSON(t, router, "/v1/testgen/generate", GenerateRequest{
		SourceFile:   filepath.Join(root, "app.py"),
		FunctionName: "ghost",
	})

	require.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CodeFunctionNotFound, resp.Code)
}

func TestHandleRun_ReportsSummary(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte(sampleApp), 0o644))

	cfg := testConfig()
	output := "tests/test_app.py::test_parse_row PASSED                 [100%]"
	cfg.Runner.Python = fakePytest(t, root, output)

	svc, err := NewService(ServiceConfig{
		ProjectRoot: root,
		Config:      cfg,
		Model:       &fakeModel{response: sampleModelResponse},
		Store:       registry.NewStore(root, cfg.Registry.TestRoot),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	router := newTestRouter(t, svc)

	w := postJSON(t, router, "/v1/testgen/run", RunRequest{
		SourceFile:   filepath.Join(root, "app.py"),
		FunctionName: "parse_row",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Generated)
	require.Len(t, resp.Summary, 1)
	assert.Equal(t, "parse_row: 1/1 passed", resp.Summary[0])
}

func TestHandleStatus(t *testing.T) {
	svc, root := newTestService(t, &fakeModel{response: sampleModelResponse}, testConfig())
	router := newTestRouter(t, svc)
	sourceFile := filepath.Join(root, "app.py")

	req := httptest.NewRequest(http.MethodGet,
		"/v1/testgen/status?source_file="+sourceFile+"&function_name=parse_row", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "idle", string(resp.State))
	assert.Nil(t, resp.Binding)

	// Missing params are a client error.
	req = httptest.NewRequest(http.MethodGet, "/v1/testgen/status", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDeleteBinding(t *testing.T) {
	svc, root := newTestService(t, &fakeModel{response: sampleModelResponse}, testConfig())
	router := newTestRouter(t, svc)
	sourceFile := filepath.Join(root, "app.py")

	// Nothing registered yet.
	req := httptest.NewRequest(http.MethodDelete,
		"/v1/testgen/binding?source_file="+sourceFile+"&function_name=parse_row", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Register via the generate endpoint, then delete.
	gw := postJSON(t, router, "/v1/testgen/generate", GenerateRequest{
		SourceFile:   sourceFile,
		FunctionName: "parse_row",
	})
	require.Equal(t, http.StatusOK, gw.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, req.Clone(req.Context()))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, svc.HasTest(sourceFile, "parse_row"))
}

func TestHandleQueueAndCancel(t *testing.T) {
	svc, _ := newTestService(t, &fakeModel{response: sampleModelResponse}, testConfig())
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/testgen/queue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"queued":[]`)

	// Cancelling a garbage ID is a client error; an unknown ID is 404.
	req = httptest.NewRequest(http.MethodDelete, "/v1/testgen/queue/not-a-uuid", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodDelete,
		"/v1/testgen/queue/7b0d2a47-9864-4b1d-9ffb-0c51d6f8a0f1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleParse(t *testing.T) {
	svc, root := newTestService(t, &fakeModel{response: sampleModelResponse}, testConfig())
	router := newTestRouter(t, svc)

	w := postJSON(t, router, "/v1/testgen/parse", ParseRequest{
		FilePath: filepath.Join(root, "app.py"),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"parse_row"`)

	w = postJSON(t, router, "/v1/testgen/parse", ParseRequest{
		FilePath: filepath.Join(root, "absent.py"),
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleHealth(t *testing.T) {
	svc, _ := newTestService(t, &fakeModel{response: sampleModelResponse}, testConfig())
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/testgen/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}
