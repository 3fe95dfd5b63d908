package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vibelab/vibelab-engine/pkg/logging"
)

func jsonHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func TestMCPRequestLogger(t *testing.T) {
	t.Run("logs successful tool call", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		wrapped := MCPRequestLogger(zap.New(core))(jsonHandler(
			`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{}"}]}}`))

		reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_experiments","arguments":{}}}`
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody)))

		require.Equal(t, 2, logs.Len())
		requestLog := logs.All()[0]
		assert.Equal(t, "MCP request", requestLog.Message)
		assert.Equal(t, "tools/call", requestLog.ContextMap()["method"])
		assert.Equal(t, "list_experiments", requestLog.ContextMap()["tool"])

		responseLog := logs.All()[1]
		assert.Equal(t, "MCP call succeeded", responseLog.Message)
		assert.Equal(t, "list_experiments", responseLog.ContextMap()["tool"])
	})

	t.Run("logs JSON-RPC error at warn", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		wrapped := MCPRequestLogger(zap.New(core))(jsonHandler(
			`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"unknown tool"}}`))

		reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope"}}`
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody)))

		require.Equal(t, 2, logs.Len())
		responseLog := logs.All()[1]
		assert.Equal(t, "MCP call failed", responseLog.Message)
		assert.Equal(t, zapcore.WarnLevel, responseLog.Level)
		assert.Equal(t, int64(-32602), responseLog.ContextMap()["error_code"])
	})

	t.Run("logs tool error result", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		wrapped := MCPRequestLogger(zap.New(core))(jsonHandler(
			`{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[{"type":"text","text":"{\"error\":true}"}]}}`))

		reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_experiment","arguments":{"experiment_id":"x"}}}`
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody)))

		require.Equal(t, 2, logs.Len())
		assert.Equal(t, "MCP tool returned error result", logs.All()[1].Message)
	})

	t.Run("downstream handler sees the full body", func(t *testing.T) {
		core, _ := observer.New(zapcore.DebugLevel)
		reqBody := `{"jsonrpc":"2.0","id":7,"method":"initialize","params":{}}`

		var got string
		wrapped := MCPRequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			got = string(b)
		}))
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody)))

		assert.Equal(t, reqBody, got)
	})

	t.Run("non-POST passes through without logging", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		called := false
		wrapped := MCPRequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/mcp", nil))

		assert.True(t, called)
		assert.Equal(t, 0, logs.Len())
	})

	t.Run("nil logger", func(t *testing.T) {
		h := jsonHandler(`{}`)
		assert.NotNil(t, MCPRequestLogger(nil)(h))
	})
}

func TestSanitizeArguments(t *testing.T) {
	longPrompt := strings.Repeat("p", logging.MaxPromptLogLength+50)

	got := sanitizeArguments(map[string]any{
		"model":          "gpt-4o",
		"prompt":         longPrompt,
		"api_key":        "sk-live-123",
		"access_token":   "abc",
		"rank":           float64(1),
		"OPENAI_API_KEY": "sk-other",
	})

	assert.Equal(t, "gpt-4o", got["model"])
	assert.Equal(t, logging.PromptPreview(longPrompt), got["prompt"])
	assert.Equal(t, "[REDACTED]", got["api_key"])
	assert.Equal(t, "[REDACTED]", got["access_token"])
	assert.Equal(t, "[REDACTED]", got["OPENAI_API_KEY"])
	assert.Equal(t, float64(1), got["rank"])

	assert.Nil(t, sanitizeArguments(nil))
}
