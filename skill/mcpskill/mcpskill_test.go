package mcpskill

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceNamePrefixesMCP(t *testing.T) {
	s := New(Config{Name: "files"})
	assert.Equal(t, "mcp-files", s.Name())
	assert.Equal(t, "mcp", s.Type())
}

func TestExtractTextNoBlocksReturnsRawResponse(t *testing.T) {
	resp := &mcp.CallToolResult{}
	want, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Equal(t, string(want), extractText(resp))
}

func TestExtractTextSingleBlock(t *testing.T) {
	resp := &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "hello"}}}
	assert.Equal(t, "hello", extractText(resp))
}

func TestExtractTextMultipleBlocksJoinsWithNewline(t *testing.T) {
	resp := &mcp.CallToolResult{Content: []mcp.Content{
		mcp.TextContent{Type: "text", Text: "one"},
		mcp.TextContent{Type: "text", Text: "two"},
	}}
	assert.Equal(t, "one\ntwo", extractText(resp))
}

func TestToolsReturnsNilWhenDisconnected(t *testing.T) {
	s := New(Config{Name: "x"})
	assert.Nil(t, s.Tools())
}

func TestExecuteFailsWhenDisconnected(t *testing.T) {
	s := New(Config{Name: "x"})
	_, err := s.Execute(context.Background(), "mcp-x.something", nil)
	assert.Error(t, err)
}

// sseServer builds an httptest server that answers MCP JSON-RPC calls over
// plain JSON, dispatching by method name.
func sseServer(t *testing.T, handlers map[string]func(params json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		h, ok := handlers[req.Method]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		paramsJSON, _ := json.Marshal(req.Params)
		result, rpcErr := h(paramsJSON)

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result, _ = json.Marshal(result)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestConnectSSEAndExecute(t *testing.T) {
	server := sseServer(t, map[string]func(json.RawMessage) (any, *rpcError){
		"initialize": func(json.RawMessage) (any, *rpcError) {
			return map[string]any{"protocolVersion": "2024-11-05"}, nil
		},
		"tools/list": func(json.RawMessage) (any, *rpcError) {
			return map[string]any{
				"tools": []map[string]any{
					{"name": "echo", "description": "echoes input", "inputSchema": map[string]any{"type": "object"}},
				},
			}, nil
		},
		"tools/call": func(params json.RawMessage) (any, *rpcError) {
			return map[string]any{
				"isError": false,
				"content": []map[string]any{{"type": "text", "text": "echoed"}},
			}, nil
		},
	})
	defer server.Close()

	s := New(Config{Name: "demo", Type: TransportSSE, URL: server.URL})
	require.NoError(t, s.Initialize(context.Background()))
	defer s.Destroy(context.Background())

	tools := s.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "mcp-demo.echo", tools[0].Name)

	result, err := s.Execute(context.Background(), "mcp-demo.echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echoed", result)
}

func TestExecuteSSEToolErrorResult(t *testing.T) {
	server := sseServer(t, map[string]func(json.RawMessage) (any, *rpcError){
		"initialize": func(json.RawMessage) (any, *rpcError) { return map[string]any{}, nil },
		"tools/list": func(json.RawMessage) (any, *rpcError) {
			return map[string]any{"tools": []map[string]any{{"name": "boom"}}}, nil
		},
		"tools/call": func(json.RawMessage) (any, *rpcError) {
			return map[string]any{
				"isError": true,
				"content": []map[string]any{{"type": "text", "text": "something broke"}},
			}, nil
		},
	})
	defer server.Close()

	s := New(Config{Name: "demo", Type: TransportSSE, URL: server.URL})
	require.NoError(t, s.Initialize(context.Background()))
	defer s.Destroy(context.Background())

	_, err := s.Execute(context.Background(), "mcp-demo.boom", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "something broke")
}

func TestInitializeFailureSchedulesReconnectAndReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := New(Config{Name: "flaky", Type: TransportSSE, URL: server.URL})
	err := s.Initialize(context.Background())
	assert.Error(t, err)
	s.mu.Lock()
	assert.Equal(t, 1, s.reconnectAttempt)
	assert.NotNil(t, s.reconnectTimer)
	s.mu.Unlock()

	// Destroy before the scheduled reconnect timer fires, so the test
	// doesn't leak a background retry against the closed server.
	require.NoError(t, s.Destroy(context.Background()))
}

func TestRPCCallParsesSSEFramedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		resp := rpcResponse{JSONRPC: "2.0", ID: 1, Result: json.RawMessage(`{"ok":true}`)}
		data, _ := json.Marshal(resp)
		fmt.Fprintf(w, "data: %s\n\n", data)
	}))
	defer server.Close()

	s := New(Config{Name: "sse-framed", Type: TransportSSE, URL: server.URL})
	resp, err := s.rpcCall(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestDestroyStopsPendingReconnectTimer(t *testing.T) {
	s := New(Config{Name: "x", Type: TransportSSE, URL: "http://127.0.0.1:0"})
	s.scheduleReconnect(context.Background())
	require.NoError(t, s.Destroy(context.Background()))
	assert.False(t, s.reconnectTimer.Stop(), "Destroy already stopped the timer")

	// A further scheduleReconnect after Destroy must be a no-op (stopped).
	s.scheduleReconnect(context.Background())
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, s.reconnectAttempt)
}
