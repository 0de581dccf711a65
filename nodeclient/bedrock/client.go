// Package bedrock adapts the AWS Bedrock Converse API to the
// cluster.NodeClient contract.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/fleetserve/servingplane/runtime/cluster"
)

// StreamOutput is the subset of the AWS ConverseStream output type required
// by Client. *bedrockruntime.ConverseStreamOutput satisfies it; tests supply
// a fake built around a real bedrockruntime.ConverseStreamEventStream with a
// substituted reader.
type StreamOutput interface {
	GetStream() *bedrockruntime.ConverseStreamEventStream
}

// RuntimeClient is the subset of the Bedrock runtime client Client depends
// on. It is satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error)
}

// Client implements cluster.NodeClient over AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	models  []cluster.Model
}

var _ cluster.NodeClient = (*Client)(nil)

// Options configures a Client.
type Options struct {
	Runtime RuntimeClient
	// Models are the Bedrock model IDs this node advertises.
	Models []string
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock nodeclient: runtime client is required")
	}
	models := make([]cluster.Model, 0, len(opts.Models))
	for _, m := range opts.Models {
		models = append(models, cluster.Model{Name: m})
	}
	return &Client{runtime: opts.Runtime, models: models}, nil
}

// sdkRuntime adapts *bedrockruntime.Client's concrete ConverseStreamOutput
// return value to the StreamOutput interface so the real SDK client
// satisfies RuntimeClient.
type sdkRuntime struct {
	client *bedrockruntime.Client
}

func (r sdkRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return r.client.Converse(ctx, params, optFns...)
}

func (r sdkRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error) {
	return r.client.ConverseStream(ctx, params, optFns...)
}

// NewFromSDKClient builds a Client around a real *bedrockruntime.Client.
func NewFromSDKClient(client *bedrockruntime.Client, models []string) (*Client, error) {
	if client == nil {
		return nil, errors.New("bedrock nodeclient: sdk client is required")
	}
	return New(Options{Runtime: sdkRuntime{client: client}, Models: models})
}

// IsAvailable issues a minimal Converse call to confirm credentials and
// network reachability.
func (c *Client) IsAvailable(ctx context.Context) (bool, error) {
	if len(c.models) == 0 {
		return false, errors.New("bedrock nodeclient: no models configured")
	}
	modelID := c.models[0].Name
	_, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: &modelID,
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "ping"}},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: int32Ptr(1)},
	})
	if err != nil {
		return false, fmt.Errorf("bedrock nodeclient: probe failed: %w", err)
	}
	return true, nil
}

// ListModels returns the statically configured model set.
func (c *Client) ListModels(ctx context.Context) ([]cluster.Model, error) {
	return c.models, nil
}

// WebSearch is not supported by the Converse API directly.
func (c *Client) WebSearch(ctx context.Context, query string, max int) ([]string, error) {
	return nil, errors.New("bedrock nodeclient: web search not supported directly, use the tool registry")
}

// Generate streams a completion through ConverseStream, forwarding text
// deltas to onToken.
func (c *Client) Generate(ctx context.Context, model string, req cluster.GenerateRequest, onToken func(cluster.TokenEvent) error) (string, error) {
	messages := buildMessages(req)
	out, err := c.runtime.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:  &model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock nodeclient: converse stream: %w", err)
	}
	return drainStream(out, onToken)
}

func buildMessages(req cluster.GenerateRequest) []brtypes.Message {
	msgs := make([]brtypes.Message, 0, len(req.History)+1)
	for _, h := range req.History {
		role := brtypes.ConversationRoleUser
		if strings.EqualFold(h.Role, "assistant") {
			role = brtypes.ConversationRoleAssistant
		}
		msgs = append(msgs, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: h.Content}},
		})
	}
	msgs = append(msgs, brtypes.Message{
		Role:    brtypes.ConversationRoleUser,
		Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Message}},
	})
	return msgs
}

func int32Ptr(v int32) *int32 { return &v }
