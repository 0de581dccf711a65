// Package mcp implements ExternalToolClient (spec §4.7): one client per
// external tool server, speaking JSON-RPC 2.0 over a stdio, HTTP, or HTTP
// SSE transport, with tool discovery and a normalized call result shape.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fleetserve/servingplane/runtime/mcp/retry"
)

// JSON-RPC canonical error codes, per the JSON-RPC 2.0 spec.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// DefaultProtocolVersion is the MCP protocol version advertised during
// initialize when none is configured.
const DefaultProtocolVersion = "2024-11-05"

// Error represents a JSON-RPC error returned by the MCP server.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// ContentKind distinguishes the chunks that make up a Result.
type ContentKind string

const (
	ContentText ContentKind = "text"
	ContentJSON ContentKind = "json"
)

// Content is one chunk of a tool's output.
type Content struct {
	Kind ContentKind
	Text string
	JSON json.RawMessage
}

// Result is the normalized outcome of one CallTool invocation (spec §4.7:
// "each tool result is normalized to the internal tool-result shape").
type Result struct {
	Content []Content
	IsError bool
}

// emptyResultText is substituted for a tool call that returned no content
// at all, rather than surfacing that as a transport error.
const emptyResultText = "(empty result)"

// ToolDescriptor is one tool reported by GetTools.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Status reports connectivity for one external server.
type Status struct {
	Connected bool
	LastError string
	LastPing  time.Time
}

// transport is the minimal JSON-RPC surface every wire implementation
// (stdio, HTTP, SSE) provides. ExternalToolClient is built on top of it.
type transport interface {
	call(ctx context.Context, method string, params any, result any) error
	close() error
}

// Options selects and configures a transport for one external server.
type Options struct {
	// Kind selects the wire transport.
	Kind TransportKind

	// Stdio transport.
	Command string
	Args    []string
	Env     []string
	Dir     string

	// HTTP / SSE transport.
	Endpoint string
	Client   *http.Client

	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	InitTimeout     time.Duration
}

// TransportKind identifies the wire protocol an ExternalToolClient speaks.
type TransportKind string

const (
	TransportStdio      TransportKind = "stdio"
	TransportHTTP       TransportKind = "http"
	TransportHTTPStream TransportKind = "http_sse"
)

// ExternalToolClient is one connection to an external tool server (spec
// §4.7). It is safe for concurrent use once Connect succeeds.
type ExternalToolClient struct {
	serverName string
	opts       Options

	mu        sync.RWMutex
	transport transport
	status    Status
}

// New constructs a client for serverName. Call Connect before issuing any
// other operation.
func New(serverName string, opts Options) *ExternalToolClient {
	return &ExternalToolClient{serverName: serverName, opts: opts}
}

// Connect dials the configured transport and performs the MCP initialize
// handshake.
func (c *ExternalToolClient) Connect(ctx context.Context) error {
	t, err := dial(ctx, c.opts)
	if err != nil {
		c.mu.Lock()
		c.status = Status{Connected: false, LastError: err.Error()}
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.transport = t
	c.status = Status{Connected: true}
	c.mu.Unlock()
	return nil
}

// Disconnect tears down the transport. The client may be reconnected with
// a fresh Connect call afterward.
func (c *ExternalToolClient) Disconnect() error {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.status = Status{Connected: false}
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.close()
}

// GetTools discovers the tools the server currently exposes.
func (c *ExternalToolClient) GetTools(ctx context.Context) ([]ToolDescriptor, error) {
	t, err := c.activeTransport()
	if err != nil {
		return nil, err
	}
	var resp struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := t.call(ctx, "tools/list", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	out := make([]ToolDescriptor, 0, len(resp.Tools))
	for _, tl := range resp.Tools {
		out = append(out, ToolDescriptor{Name: tl.Name, Description: tl.Description, InputSchema: tl.InputSchema})
	}
	return out, nil
}

// CallTool invokes name (the server's original, non-namespaced name) with
// args and normalizes the result (spec §4.7).
func (c *ExternalToolClient) CallTool(ctx context.Context, name string, args map[string]any) (Result, error) {
	t, err := c.activeTransport()
	if err != nil {
		return Result{}, err
	}
	params := map[string]any{"name": name, "arguments": args}
	addTraceMeta(ctx, params)

	var raw toolsCallResult
	if err := t.call(ctx, "tools/call", params, &raw); err != nil {
		return Result{}, wrapInvalidParams(name, args, err)
	}
	return normalizeToolResult(raw), nil
}

// wrapInvalidParams turns an invalid-parameters RPC error into a
// retry.RetryableError carrying a repair prompt, so the caller can hand
// the prompt to the generating model and retry the same call with
// corrected arguments instead of failing the turn outright.
func wrapInvalidParams(name string, args map[string]any, err error) error {
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != JSONRPCInvalidParams {
		return err
	}
	example, marshalErr := json.Marshal(args)
	if marshalErr != nil {
		example = []byte("{}")
	}
	prompt := retry.BuildRepairPrompt(name, rpcErr.Message, string(example), "")
	return &retry.RetryableError{Prompt: prompt, Cause: err}
}

// Ping issues a lightweight round trip to confirm liveness and records the
// outcome for GetStatus.
func (c *ExternalToolClient) Ping(ctx context.Context) error {
	t, err := c.activeTransport()
	if err != nil {
		return err
	}
	err = t.call(ctx, "ping", map[string]any{}, nil)
	c.mu.Lock()
	if err != nil {
		c.status.LastError = err.Error()
	} else {
		c.status.LastError = ""
		c.status.LastPing = time.Now()
	}
	c.mu.Unlock()
	return err
}

// GetStatus reports the client's last known connectivity state.
func (c *ExternalToolClient) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *ExternalToolClient) activeTransport() (transport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.transport == nil {
		return nil, fmt.Errorf("mcp: %s is not connected", c.serverName)
	}
	return c.transport, nil
}

func dial(ctx context.Context, opts Options) (transport, error) {
	switch opts.Kind {
	case TransportStdio:
		return newStdioTransport(ctx, opts)
	case TransportHTTP:
		return newHTTPTransport(ctx, opts)
	case TransportHTTPStream:
		return newSSETransport(ctx, opts)
	default:
		return nil, fmt.Errorf("mcp: unknown transport kind %q", opts.Kind)
	}
}
