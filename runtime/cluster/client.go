package cluster

import "context"

// EventKind distinguishes the streaming signals a NodeClient may emit while
// generating a turn. The zero value is EventToken, so existing NodeClient
// implementations that never set Kind keep streaming plain tokens.
type EventKind string

const (
	EventToken              EventKind = ""
	EventDiscussionProgress EventKind = "discussion_progress"
	EventResearchProgress   EventKind = "research_progress"
)

// TokenEvent is one incremental generation event delivered to the chat
// pipeline's token callback while streaming a turn. A NodeClient driving a
// Discussion or DeepResearch request (GenerateRequest.Discussion/
// DeepResearch) may interleave EventDiscussionProgress/EventResearchProgress
// events ahead of the EventToken events that make up the final answer.
type TokenEvent struct {
	Kind EventKind
	Text string
	Done bool
}

// NodeClient is the contract a concrete inference-node transport must
// satisfy (§6 "Cluster node contract"). The wire protocol behind it is out
// of scope for this core; nodeclient/* provides example implementations.
type NodeClient interface {
	// IsAvailable reports whether the node currently accepts requests.
	IsAvailable(ctx context.Context) (bool, error)
	// ListModels enumerates the models the node currently advertises.
	ListModels(ctx context.Context) ([]Model, error)
	// WebSearch performs a node-delegated web search, returning up to max results.
	WebSearch(ctx context.Context, query string, max int) ([]string, error)
	// Generate streams a completion for model, invoking onToken for each
	// incremental event. Generate must return promptly when ctx is
	// cancelled, without invoking onToken again.
	Generate(ctx context.Context, model string, prompt GenerateRequest, onToken func(TokenEvent) error) (string, error)
}

// GenerateRequest carries the inputs to one generation call. It is
// deliberately a plain data bag: the concrete wire format is the node
// transport's concern, not the cluster manager's.
type GenerateRequest struct {
	Message       string
	History       []HistoryTurn
	Images        []string
	DocID         string
	WebSearch     bool
	Discussion    bool
	DeepResearch  bool
	Thinking      bool
	ThinkingLevel string
	Tools         []string
}

// HistoryTurn is one prior turn supplied as conversation context.
type HistoryTurn struct {
	Role    string
	Content string
}

// ScopedClient is a short-lived handle bound to one node and one model for
// the duration of exactly one turn. It is owned exclusively by the turn
// that created it and must never be shared across turns or mutated
// concurrently — this is the central concurrency invariant of the cluster
// layer (spec §3, §5 P2).
type ScopedClient struct {
	NodeID string
	Model  string
	node   NodeClient
}

// WebSearch delegates to the underlying node client.
func (c *ScopedClient) WebSearch(ctx context.Context, query string, max int) ([]string, error) {
	return c.node.WebSearch(ctx, query, max)
}

// Generate delegates to the underlying node client, pinned to c.Model.
func (c *ScopedClient) Generate(ctx context.Context, req GenerateRequest, onToken func(TokenEvent) error) (string, error) {
	return c.node.Generate(ctx, c.Model, req, onToken)
}
