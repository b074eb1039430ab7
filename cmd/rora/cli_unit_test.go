// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// These are unit tests that don't require a running engine.

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoraAI/RoraEngine/services/testgen/datatypes"
)

func TestGetEngineBaseURL_Precedence(t *testing.T) {
	t.Cleanup(func() { engineURL = "" })

	engineURL = ""
	t.Setenv("RORA_ENGINE_URL", "")
	assert.Equal(t, "http://localhost:8321", getEngineBaseURL())

	t.Setenv("RORA_ENGINE_URL", "http://engine:9000")
	assert.Equal(t, "http://engine:9000", getEngineBaseURL())

	engineURL = "http://flag-wins:1234"
	assert.Equal(t, "http://flag-wins:1234", getEngineBaseURL())
}

func TestPostJSON_DecodesEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error": "parse_row is generating", "code": "OPERATION_IN_PROGRESS"}`))
	}))
	defer srv.Close()

	engineURL = srv.URL
	t.Cleanup(func() { engineURL = "" })

	var out generateResponse
	err := postJSON("/v1/testgen/generate", functionRequest{
		SourceFile: "/work/app.py", FunctionName: "parse_row",
	}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPERATION_IN_PROGRESS")
	assert.Contains(t, err.Error(), "parse_row is generating")
}

func TestPostJSON_DecodesSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/testgen/generate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"request_id": "abc", "binding": {"test_function_name": "test_parse_row", "test_file": "/work/tests/test_app.py"}}`))
	}))
	defer srv.Close()

	engineURL = srv.URL
	t.Cleanup(func() { engineURL = "" })

	var out generateResponse
	err := postJSON("/v1/testgen/generate", functionRequest{
		SourceFile: "/work/app.py", FunctionName: "parse_row",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "abc", out.RequestID)
	assert.Equal(t, "test_parse_row", out.Binding.TestFunctionName)
}

// The CLI's wire structs are hand-mirrored from the engine's responses, so
// decode an outcome the engine actually marshals rather than a hand-typed
// JSON literal.
func TestOutcomeInfo_DecodesEngineOutcome(t *testing.T) {
	raw, err := json.Marshal(datatypes.TestOutcome{
		Name:    "tests/test_app.py::test_parse_row",
		Status:  datatypes.StatusFailed,
		Message: "AssertionError: expected 3 fields",
	})
	require.NoError(t, err)

	var out outcomeInfo
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "tests/test_app.py::test_parse_row", out.Name)
	assert.Equal(t, string(datatypes.StatusFailed), out.Status)
	assert.Equal(t, "AssertionError: expected 3 fields", out.Message)
}

func TestDecodeResponse_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	engineURL = srv.URL
	t.Cleanup(func() { engineURL = "" })

	var out statusResponse
	err := getJSON(srv.URL+"/v1/testgen/status", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
