// Package grpcnode adapts a gRPC-reachable inference node to the
// cluster.NodeClient contract. It deliberately avoids a protoc-generated
// stub: the handful of RPCs exchange google.golang.org/protobuf's
// well-known Struct/Value/ListValue types directly over
// grpc.ClientConnInterface, which keeps the wire contract self-describing
// without a separate .proto build step for this internal transport.
package grpcnode

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fleetserve/servingplane/runtime/cluster"
)

const (
	serviceName = "fleetserve.node.v1.NodeService"

	methodProbe      = "/" + serviceName + "/Probe"
	methodListModels = "/" + serviceName + "/ListModels"
	methodWebSearch  = "/" + serviceName + "/WebSearch"
	methodGenerate   = "/" + serviceName + "/Generate"
)

// Client implements cluster.NodeClient over a gRPC connection to one node.
type Client struct {
	cc grpc.ClientConnInterface
}

var _ cluster.NodeClient = (*Client)(nil)

// New builds a Client around an established connection. Callers own the
// connection's lifecycle (dialing and closing it).
func New(cc grpc.ClientConnInterface) (*Client, error) {
	if cc == nil {
		return nil, errors.New("grpcnode: client connection is required")
	}
	return &Client{cc: cc}, nil
}

// IsAvailable calls Probe and reports the node's boolean health flag.
func (c *Client) IsAvailable(ctx context.Context) (bool, error) {
	resp := &wrapperspb.BoolValue{}
	if err := c.cc.Invoke(ctx, methodProbe, &emptypb.Empty{}, resp); err != nil {
		return false, fmt.Errorf("grpcnode: probe: %w", err)
	}
	return resp.GetValue(), nil
}

// ListModels calls ListModels and decodes the returned name list.
func (c *Client) ListModels(ctx context.Context) ([]cluster.Model, error) {
	resp := &structpb.ListValue{}
	if err := c.cc.Invoke(ctx, methodListModels, &emptypb.Empty{}, resp); err != nil {
		return nil, fmt.Errorf("grpcnode: list models: %w", err)
	}
	models := make([]cluster.Model, 0, len(resp.GetValues()))
	for _, v := range resp.GetValues() {
		if name := v.GetStringValue(); name != "" {
			models = append(models, cluster.Model{Name: name})
		}
	}
	return models, nil
}

// WebSearch calls WebSearch with the query and result cap, decoding the
// returned list of result snippets.
func (c *Client) WebSearch(ctx context.Context, query string, max int) ([]string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"query": query,
		"max":   float64(max),
	})
	if err != nil {
		return nil, fmt.Errorf("grpcnode: web search request: %w", err)
	}
	resp := &structpb.ListValue{}
	if err := c.cc.Invoke(ctx, methodWebSearch, req, resp); err != nil {
		return nil, fmt.Errorf("grpcnode: web search: %w", err)
	}
	results := make([]string, 0, len(resp.GetValues()))
	for _, v := range resp.GetValues() {
		results = append(results, v.GetStringValue())
	}
	return results, nil
}

// Generate opens a server-streaming Generate call and decodes each Struct
// chunk into a cluster.TokenEvent, forwarding it to onToken.
func (c *Client) Generate(ctx context.Context, model string, req cluster.GenerateRequest, onToken func(cluster.TokenEvent) error) (string, error) {
	reqStruct, err := encodeGenerateRequest(model, req)
	if err != nil {
		return "", fmt.Errorf("grpcnode: encode generate request: %w", err)
	}

	stream, err := c.cc.NewStream(ctx, &grpc.StreamDesc{StreamName: "Generate", ServerStreams: true}, methodGenerate)
	if err != nil {
		return "", fmt.Errorf("grpcnode: open generate stream: %w", err)
	}
	if err := stream.SendMsg(reqStruct); err != nil {
		return "", fmt.Errorf("grpcnode: send generate request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return "", fmt.Errorf("grpcnode: close generate send: %w", err)
	}

	return drainGenerateStream(stream, onToken)
}

func encodeGenerateRequest(model string, req cluster.GenerateRequest) (*structpb.Struct, error) {
	history := make([]any, 0, len(req.History))
	for _, h := range req.History {
		history = append(history, map[string]any{"role": h.Role, "content": h.Content})
	}
	tools := make([]any, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, t)
	}
	images := make([]any, 0, len(req.Images))
	for _, img := range req.Images {
		images = append(images, img)
	}
	return structpb.NewStruct(map[string]any{
		"model":          model,
		"message":        req.Message,
		"history":        history,
		"images":         images,
		"doc_id":         req.DocID,
		"web_search":     req.WebSearch,
		"discussion":     req.Discussion,
		"deep_research":  req.DeepResearch,
		"thinking":       req.Thinking,
		"thinking_level": req.ThinkingLevel,
		"tools":          tools,
	})
}

type generateStream interface {
	RecvMsg(m any) error
}

func drainGenerateStream(stream generateStream, onToken func(cluster.TokenEvent) error) (string, error) {
	var full []byte
	for {
		chunk := &structpb.Struct{}
		err := stream.RecvMsg(chunk)
		if errors.Is(err, io.EOF) {
			return string(full), nil
		}
		if err != nil {
			return string(full), fmt.Errorf("grpcnode: recv generate chunk: %w", err)
		}
		text := chunk.Fields["text"].GetStringValue()
		done := chunk.Fields["done"].GetBoolValue()
		full = append(full, text...)
		if err := onToken(cluster.TokenEvent{Text: text, Done: done}); err != nil {
			return string(full), err
		}
	}
}
