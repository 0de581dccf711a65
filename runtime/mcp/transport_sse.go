package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// sseTransport speaks MCP as bidirectional streamable-HTTP: requests are
// POSTed and the response (plus any server-initiated notifications) arrive
// as a text/event-stream body on the same connection.
type sseTransport struct {
	http *httpJSONTransport
}

func newSSETransport(ctx context.Context, opts Options) (*sseTransport, error) {
	base := &httpJSONTransport{endpoint: resolveEndpoint(opts), client: resolveClient(opts)}
	t := &sseTransport{http: base}
	if err := initializeHandshake(ctx, t, opts); err != nil {
		return nil, fmt.Errorf("mcp: initialize failed: %w", err)
	}
	return t, nil
}

func (t *sseTransport) close() error { return t.http.close() }

func (t *sseTransport) call(ctx context.Context, method string, params any, result any) error {
	id := t.http.nextID()
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, ID: id, Params: params})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.http.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	injectTraceHeaders(ctx, httpReq.Header)

	resp, err := t.http.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mcp: rpc status %d: %s", resp.StatusCode, string(raw))
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mcp: unexpected content type %q: %s", resp.Header.Get("Content-Type"), string(raw))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		event, data, err := readSSEEvent(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("mcp: sse stream closed before response")
			}
			return err
		}
		switch event {
		case "response":
			var rpcResp rpcResponse
			if err := json.Unmarshal(data, &rpcResp); err != nil {
				return err
			}
			if rpcResp.Error != nil {
				return rpcResp.Error.callerError()
			}
			if result != nil && rpcResp.Result != nil {
				return json.Unmarshal(rpcResp.Result, result)
			}
			return nil
		case "error":
			var rpcResp rpcResponse
			if err := json.Unmarshal(data, &rpcResp); err != nil {
				return fmt.Errorf("mcp: error event: %w", err)
			}
			if rpcResp.Error != nil {
				return rpcResp.Error.callerError()
			}
			return errors.New("mcp: error event")
		case "", "notification":
			continue
		case "close":
			return errors.New("mcp: sse stream closed without response")
		default:
			continue
		}
	}
}

func readSSEEvent(reader *bufio.Reader) (string, []byte, error) {
	var event string
	var data []byte
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if event == "" && len(data) == 0 {
				continue
			}
			return event, data, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, after...)
			continue
		}
	}
}
