// Package anthropic adapts the Anthropic Messages API to the
// cluster.NodeClient contract, for a node that is really a direct API
// binding rather than a separate machine.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/fleetserve/servingplane/runtime/cluster"
)

// MessagesClient captures the subset of the Anthropic SDK used by Client,
// so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements cluster.NodeClient over the Anthropic Messages API.
type Client struct {
	msg       MessagesClient
	models    []cluster.Model
	maxTokens int
}

var _ cluster.NodeClient = (*Client)(nil)

// Options configures a Client.
type Options struct {
	// Models advertised by ListModels, in preference order.
	Models []string
	// MaxTokens bounds each completion when the request carries none.
	MaxTokens int
}

// New builds a Client around msg.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic nodeclient: messages client is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	models := make([]cluster.Model, 0, len(opts.Models))
	for _, m := range opts.Models {
		models = append(models, cluster.Model{Name: m})
	}
	return &Client{msg: msg, models: models, maxTokens: maxTokens}, nil
}

// NewFromAPIKey builds a Client using the standard Anthropic HTTP client.
func NewFromAPIKey(apiKey string, models []string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic nodeclient: api key is required")
	}
	sc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sc.Messages, Options{Models: models})
}

// IsAvailable issues a minimal request to confirm the API key and network
// path are working. A cheap 1-token completion stands in for a real health
// endpoint, which the Messages API does not expose.
func (c *Client) IsAvailable(ctx context.Context) (bool, error) {
	if len(c.models) == 0 {
		return false, errors.New("anthropic nodeclient: no models configured")
	}
	_, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.models[0].Name),
		MaxTokens: 1,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return false, fmt.Errorf("anthropic nodeclient: probe failed: %w", err)
	}
	return true, nil
}

// ListModels returns the statically configured model set.
func (c *Client) ListModels(ctx context.Context) ([]cluster.Model, error) {
	return c.models, nil
}

// WebSearch is not supported by a direct Messages API binding; tool-based
// web search is driven through the tool registry instead.
func (c *Client) WebSearch(ctx context.Context, query string, max int) ([]string, error) {
	return nil, errors.New("anthropic nodeclient: web search not supported directly, use the tool registry")
}

// Generate streams a completion, delivering text deltas through onToken.
func (c *Client) Generate(ctx context.Context, model string, req cluster.GenerateRequest, onToken func(cluster.TokenEvent) error) (string, error) {
	params := c.buildParams(model, req)
	stream := c.msg.NewStreaming(ctx, params)
	return drainStream(stream, onToken)
}

func (c *Client) buildParams(model string, req cluster.GenerateRequest) sdk.MessageNewParams {
	msgs := make([]sdk.MessageParam, 0, len(req.History)+1)
	for _, h := range req.History {
		if h.Role == "assistant" {
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(h.Content)))
		} else {
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(h.Content)))
		}
	}
	msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(req.Message)))
	return sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(c.maxTokens),
		Messages:  msgs,
	}
}
