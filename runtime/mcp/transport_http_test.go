package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, toolsCallResultJSON string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Method {
		case "initialize":
			_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"capabilities":{}}`)})
		case "tools/call":
			_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(toolsCallResultJSON)})
		case "tools/list":
			_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"tools":[{"name":"search","description":"search the web"}]}`)})
		default:
			http.Error(w, "unknown method", http.StatusBadRequest)
		}
	}))
}

func TestHTTPClientCallToolNormalizesContent(t *testing.T) {
	srv := rpcServer(t, `{"content":[{"type":"text","text":"hello"}],"isError":false}`)
	defer srv.Close()

	c := New("search-server", Options{Kind: TransportHTTP, Endpoint: srv.URL})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	result, err := c.CallTool(context.Background(), "search", map[string]any{"query": "hi"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello", result.Content[0].Text)
}

func TestHTTPClientEmptyResultBecomesPlaceholder(t *testing.T) {
	srv := rpcServer(t, `{"content":[],"isError":false}`)
	defer srv.Close()

	c := New("search-server", Options{Kind: TransportHTTP, Endpoint: srv.URL})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	result, err := c.CallTool(context.Background(), "search", nil)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, emptyResultText, result.Content[0].Text)
}

func TestHTTPClientGetToolsDecodesDescriptors(t *testing.T) {
	srv := rpcServer(t, `{"content":[],"isError":false}`)
	defer srv.Close()

	c := New("search-server", Options{Kind: TransportHTTP, Endpoint: srv.URL})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	tools, err := c.GetTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)
}

func TestCallToolOnDisconnectedClientFails(t *testing.T) {
	c := New("search-server", Options{Kind: TransportHTTP, Endpoint: "http://127.0.0.1:0"})
	_, err := c.CallTool(context.Background(), "search", nil)
	assert.Error(t, err)
}

func TestGetStatusReflectsConnectFailure(t *testing.T) {
	c := New("search-server", Options{Kind: TransportHTTP, Endpoint: "http://127.0.0.1:1"})
	err := c.Connect(context.Background())
	assert.Error(t, err)
	status := c.GetStatus()
	assert.False(t, status.Connected)
	assert.NotEmpty(t, status.LastError)
}
