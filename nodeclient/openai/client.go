// Package openai adapts the OpenAI Chat Completions API to the
// cluster.NodeClient contract.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/fleetserve/servingplane/runtime/cluster"
)

// ChatClient captures the subset of the OpenAI SDK used by Client.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Client implements cluster.NodeClient over OpenAI Chat Completions.
type Client struct {
	chat   ChatClient
	models []cluster.Model
}

var _ cluster.NodeClient = (*Client)(nil)

// Options configures a Client.
type Options struct {
	Models []string
}

// New builds a Client around chat.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai nodeclient: chat client is required")
	}
	models := make([]cluster.Model, 0, len(opts.Models))
	for _, m := range opts.Models {
		models = append(models, cluster.Model{Name: m})
	}
	return &Client{chat: chat, models: models}, nil
}

// NewFromAPIKey builds a Client using the standard OpenAI HTTP client.
func NewFromAPIKey(apiKey string, models []string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai nodeclient: api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, Options{Models: models})
}

// IsAvailable issues a minimal chat completion to confirm the API key and
// network path are working.
func (c *Client) IsAvailable(ctx context.Context) (bool, error) {
	if len(c.models) == 0 {
		return false, errors.New("openai nodeclient: no models configured")
	}
	_, err := c.chat.New(ctx, sdk.ChatCompletionNewParams{
		Model: c.models[0].Name,
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage("ping"),
		},
		MaxTokens: sdk.Int(1),
	})
	if err != nil {
		return false, fmt.Errorf("openai nodeclient: probe failed: %w", err)
	}
	return true, nil
}

// ListModels returns the statically configured model set.
func (c *Client) ListModels(ctx context.Context) ([]cluster.Model, error) {
	return c.models, nil
}

// WebSearch is not supported by Chat Completions directly.
func (c *Client) WebSearch(ctx context.Context, query string, max int) ([]string, error) {
	return nil, errors.New("openai nodeclient: web search not supported directly, use the tool registry")
}

// Generate streams a completion, forwarding text deltas to onToken.
func (c *Client) Generate(ctx context.Context, model string, req cluster.GenerateRequest, onToken func(cluster.TokenEvent) error) (string, error) {
	params := buildParams(model, req)
	stream := c.chat.NewStreaming(ctx, params)
	return drainStream(stream, onToken)
}

func buildParams(model string, req cluster.GenerateRequest) sdk.ChatCompletionNewParams {
	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	for _, h := range req.History {
		if h.Role == "assistant" {
			msgs = append(msgs, sdk.AssistantMessage(h.Content))
		} else {
			msgs = append(msgs, sdk.UserMessage(h.Content))
		}
	}
	msgs = append(msgs, sdk.UserMessage(req.Message))
	return sdk.ChatCompletionNewParams{
		Model:    model,
		Messages: msgs,
	}
}
