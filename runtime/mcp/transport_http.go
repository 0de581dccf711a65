package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// httpJSONTransport speaks MCP as plain JSON-RPC-over-HTTP: one POST per
// call, one JSON object per response.
type httpJSONTransport struct {
	endpoint string
	client   *http.Client
	id       uint64
}

func newHTTPTransport(ctx context.Context, opts Options) (*httpJSONTransport, error) {
	t := &httpJSONTransport{endpoint: resolveEndpoint(opts), client: resolveClient(opts)}
	if err := initializeHandshake(ctx, t, opts); err != nil {
		return nil, fmt.Errorf("mcp: initialize failed: %w", err)
	}
	return t, nil
}

func resolveEndpoint(opts Options) string {
	if opts.Endpoint != "" {
		return opts.Endpoint
	}
	return "http://127.0.0.1:8080/rpc"
}

func resolveClient(opts Options) *http.Client {
	if opts.Client != nil {
		return opts.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (t *httpJSONTransport) close() error { return nil }

func (t *httpJSONTransport) nextID() uint64 { return atomic.AddUint64(&t.id, 1) }

func (t *httpJSONTransport) call(ctx context.Context, method string, params any, result any) error {
	id := t.nextID()
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, ID: id, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	injectTraceHeaders(ctx, req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp: rpc status %d", resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error.callerError()
	}
	if result != nil && rpcResp.Result != nil {
		return json.Unmarshal(rpcResp.Result, result)
	}
	return nil
}
