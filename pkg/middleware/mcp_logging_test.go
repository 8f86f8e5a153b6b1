package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/utilization-registry/pkg/auth"
)

func serveMCP(t *testing.T, logger *zap.Logger, reqBody, respBody string) *httptest.ResponseRecorder {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The handler must still see the full body after logging consumed it.
		got, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, reqBody, string(got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respBody))
	})

	rec := httptest.NewRecorder()
	MCPRequestLogger(logger)(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody)))
	return rec
}

func TestMCPRequestLogger_ToolCall(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	rec := serveMCP(t, zap.New(core),
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search_metric_names","arguments":{"query":"cpu"}}}`,
		`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"[]"}]}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, logs.Len(), "Should log request and response")

	requestLog := logs.All()[0]
	assert.Equal(t, "MCP request", requestLog.Message)
	assert.Equal(t, "tools/call", requestLog.ContextMap()["method"])
	assert.Equal(t, "search_metric_names", requestLog.ContextMap()["tool"])

	responseLog := logs.All()[1]
	assert.Equal(t, "MCP response success", responseLog.Message)
}

func TestMCPRequestLogger_ErrorResponse(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	serveMCP(t, zap.New(core),
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_metric_name","arguments":{"name":"cpu"}}}`,
		`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"database scope unavailable"}}`)

	require.Equal(t, 2, logs.Len())
	responseLog := logs.All()[1]
	assert.Equal(t, "MCP response error", responseLog.Message)
	assert.Equal(t, int64(-32603), responseLog.ContextMap()["error_code"])
	assert.Equal(t, "database scope unavailable", responseLog.ContextMap()["error_message"])
}

func TestMCPRequestLogger_SanitizesArguments(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	long := strings.Repeat("a", 250)

	serveMCP(t, zap.New(core),
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"create_metric_name","arguments":{"api_token":"abc","description":"`+long+`","name":"cpu"}}}`,
		`{"jsonrpc":"2.0","id":1,"result":{}}`)

	args := logs.All()[0].ContextMap()["arguments"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", args["api_token"])
	assert.Equal(t, "cpu", args["name"])
	assert.Len(t, args["description"], 203)
}

func TestMCPRequestLogger_NilLoggerAndBadJSON(t *testing.T) {
	rec := serveMCP(t, nil, `{}`, `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	core, _ := observer.New(zapcore.DebugLevel)
	rec = serveMCP(t, zap.New(core), `{invalid json`, `not json either`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMCPRequestLogger_ToolErrorResult(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	serveMCP(t, zap.New(core),
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"create_metric_name","arguments":{"name":"cpu_usage"}}}`,
		`{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[{"type":"text","text":"{\"code\":\"validation_failed\"}"}]}}`)

	require.Equal(t, 2, logs.Len())
	responseLog := logs.All()[1]
	assert.Equal(t, "MCP tool error result", responseLog.Message)
	assert.Equal(t, "create_metric_name", responseLog.ContextMap()["tool"])
	assert.Equal(t, int64(http.StatusOK), responseLog.ContextMap()["status"])
}

func TestMCPRequestLogger_RecordsCaller(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"health"}}`))
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "agent-7"},
	}))
	MCPRequestLogger(zap.New(core))(handler).ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "agent-7", logs.All()[0].ContextMap()["user_id"])
	assert.Equal(t, "agent-7", logs.All()[1].ContextMap()["user_id"])
}
