package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stdioHelperEnv, when set in the test binary's own environment, switches
// TestMain into acting as a minimal MCP stdio server instead of running the
// test suite. This lets the stdio transport tests exec the test binary
// itself as the child process, with no external fixture required.
const stdioHelperEnv = "MCP_STDIO_TEST_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(stdioHelperEnv) == "1" {
		runStdioHelper()
		return
	}
	os.Exit(m.Run())
}

func runStdioHelper() {
	reader := bufio.NewReader(os.Stdin)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			continue
		}
		var result json.RawMessage
		switch req.Method {
		case "initialize":
			result = json.RawMessage(`{"capabilities":{}}`)
		case "tools/call":
			result = json.RawMessage(`{"content":[{"type":"text","text":"helper-ok"}],"isError":false}`)
		case "ping":
			result = json.RawMessage(`{}`)
		default:
			resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: JSONRPCMethodNotFound, Message: "unknown method"}}
			writeHelperFrame(resp)
			continue
		}
		writeHelperFrame(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
	}
}

func writeHelperFrame(resp rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	fmt.Fprintf(os.Stdout, "Content-Length: %d\r\n\r\n", len(data))
	_, _ = os.Stdout.Write(data)
}

func newStdioHelperClient(t *testing.T) *ExternalToolClient {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)

	c := New("stdio-helper", Options{
		Kind:    TransportStdio,
		Command: self,
		Env:     []string{stdioHelperEnv + "=1"},
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestStdioClientCallToolRoundTrips(t *testing.T) {
	c := newStdioHelperClient(t)

	result, err := c.CallTool(context.Background(), "search", map[string]any{"q": "x"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "helper-ok", result.Content[0].Text)
}

func TestStdioClientPingSucceeds(t *testing.T) {
	c := newStdioHelperClient(t)
	assert.NoError(t, c.Ping(context.Background()))
	assert.True(t, c.GetStatus().Connected)
}

func TestStdioClientDisconnectStopsChildProcess(t *testing.T) {
	c := newStdioHelperClient(t)
	require.NoError(t, c.Disconnect())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.CallTool(ctx, "search", nil)
	assert.Error(t, err)
}
