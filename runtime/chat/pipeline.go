// Package chat implements the per-turn chat orchestrator (spec §4.5,
// "ChatRequestHandler.processChat"): validation, model resolution, rate
// limiting, node acquisition, session binding, and generation.
package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/fleetserve/servingplane/runtime/apierrors"
	"github.com/fleetserve/servingplane/runtime/cluster"
	"github.com/fleetserve/servingplane/runtime/ratelimit"
	"github.com/fleetserve/servingplane/runtime/telemetry"
	"github.com/fleetserve/servingplane/store/contract"
)

// minExistingSessionIDLen is the threshold below which a caller-supplied
// session id is treated as a node identifier rather than a real session
// (spec §4.5 step 5).
const minExistingSessionIDLen = 10

// Input carries one chat turn's request fields.
type Input struct {
	PrincipalKey string
	UserID       *string
	Role         ratelimit.Role
	Tier         ratelimit.Tier

	SessionID string
	NodeID    string
	Model     string

	Message       string
	History       []cluster.HistoryTurn
	Images        []string
	DocID         string
	WebSearch     bool
	Discussion    bool
	DeepResearch  bool
	Thinking      bool
	ThinkingLevel string
	Tools         []string

	// Persist controls whether rate-limit durable writes are awaited.
	// Duplex-stream callers set true; HTTP-style callers may set false.
	Persist bool
}

// Callbacks delivers streaming side-channel events as the turn progresses.
// Every callback is optional; nil entries are skipped.
type Callbacks struct {
	OnSessionCreated     func(sessionID string)
	OnAgentSelected      func(nodeID, model string)
	OnDiscussionProgress func(text string)
	OnResearchProgress   func(text string)
	OnToken              func(text string)
}

// Result is the terminal success payload of one turn.
type Result struct {
	SessionID string
	Response  string
	Model     string
}

// Pipeline is the per-turn orchestrator described in spec §4.5.
type Pipeline struct {
	limiter *ratelimit.Limiter
	cluster *cluster.Manager
	store   contract.ConversationStore
	logger  telemetry.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for internal-failure reporting (§7).
func WithLogger(l telemetry.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New builds a Pipeline over its three collaborators.
func New(limiter *ratelimit.Limiter, clusterMgr *cluster.Manager, store contract.ConversationStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		limiter: limiter,
		cluster: clusterMgr,
		store:   store,
		logger:  telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessChat runs the nine-step algorithm in spec §4.5. ctx is expected to
// carry the turn's cancellation handle: observing ctx.Done() at any
// suspension point is mapped to *apierrors.Aborted, never to a generic
// error.
func (p *Pipeline) ProcessChat(ctx context.Context, in Input, cb Callbacks) (Result, error) {
	// 1. Validate.
	if in.Message == "" {
		return Result{}, &apierrors.InvalidRequest{Message: "메시지가 필요합니다"}
	}

	// 2. Resolve model.
	model := in.Model
	if model == "" || model == DefaultModelSentinel {
		model = selectModel(in.Message)
	}

	// 3. Rate limit.
	if err := p.limiter.Check(ctx, in.PrincipalKey, in.Role, in.Tier, in.Persist); err != nil {
		return Result{}, err
	}
	if aborted := checkAborted(ctx); aborted != nil {
		return Result{}, aborted
	}

	// 4. Acquire node.
	scoped, err := p.acquireScopedClient(in.NodeID, model)
	if err != nil {
		return Result{}, err
	}
	if aborted := checkAborted(ctx); aborted != nil {
		return Result{}, aborted
	}
	if cb.OnAgentSelected != nil {
		cb.OnAgentSelected(scoped.NodeID, scoped.Model)
	}

	// 5. Session bind.
	sessionID, isNew, err := p.bindSession(ctx, in)
	if err != nil {
		return Result{}, p.generic(ctx, "session bind failed", err)
	}
	if isNew && cb.OnSessionCreated != nil {
		cb.OnSessionCreated(sessionID)
	}

	// 6. Persist user turn.
	p.persistBestEffort(ctx, sessionID, contract.RoleUser, in.Message, nil)
	if aborted := checkAborted(ctx); aborted != nil {
		return Result{}, aborted
	}

	// 7. Drive generation.
	req := cluster.GenerateRequest{
		Message:       in.Message,
		History:       in.History,
		Images:        in.Images,
		DocID:         in.DocID,
		WebSearch:     in.WebSearch,
		Discussion:    in.Discussion,
		DeepResearch:  in.DeepResearch,
		Thinking:      in.Thinking,
		ThinkingLevel: in.ThinkingLevel,
		Tools:         in.Tools,
	}
	response, err := scoped.Generate(ctx, req, func(ev cluster.TokenEvent) error {
		if aborted := checkAborted(ctx); aborted != nil {
			return aborted
		}
		if ev.Text == "" {
			return nil
		}
		switch ev.Kind {
		case cluster.EventDiscussionProgress:
			if cb.OnDiscussionProgress != nil {
				cb.OnDiscussionProgress(ev.Text)
			}
		case cluster.EventResearchProgress:
			if cb.OnResearchProgress != nil {
				cb.OnResearchProgress(ev.Text)
			}
		default:
			if cb.OnToken != nil {
				cb.OnToken(ev.Text)
			}
		}
		return nil
	})
	if err != nil {
		var aborted *apierrors.Aborted
		if errors.As(err, &aborted) {
			return Result{}, aborted
		}
		var quota *apierrors.QuotaExceeded
		if errors.As(err, &quota) {
			return Result{}, quota
		}
		var keys *apierrors.KeysExhausted
		if errors.As(err, &keys) {
			return Result{}, keys
		}
		if aborted := checkAborted(ctx); aborted != nil {
			return Result{}, aborted
		}
		return Result{}, p.generic(ctx, "generation failed", err)
	}

	// 8. Persist assistant turn.
	p.persistBestEffort(ctx, sessionID, contract.RoleAssistant, response, map[string]any{"model": model})

	// 9. Emit done (caller observes success return; the done frame itself
	// is the duplex session handler's responsibility).
	return Result{SessionID: sessionID, Response: response, Model: model}, nil
}

func (p *Pipeline) acquireScopedClient(nodeID, model string) (*cluster.ScopedClient, error) {
	if nodeID != "" {
		scoped := p.cluster.CreateScopedClient(nodeID, model)
		if scoped == nil {
			return nil, &apierrors.NoNodeAvailable{}
		}
		return scoped, nil
	}
	best := p.cluster.GetBestNode(model)
	if best == nil {
		return nil, &apierrors.NoNodeAvailable{}
	}
	scoped := p.cluster.CreateScopedClient(best.ID, model)
	if scoped == nil {
		return nil, &apierrors.NoNodeAvailable{}
	}
	return scoped, nil
}

func (p *Pipeline) bindSession(ctx context.Context, in Input) (sessionID string, isNew bool, err error) {
	if len(in.SessionID) >= minExistingSessionIDLen {
		return in.SessionID, false, nil
	}
	title := in.Message
	if r := []rune(title); len(r) > 30 {
		title = string(r[:30])
	}
	sess, err := p.store.CreateSession(ctx, in.UserID, title, in.PrincipalKey)
	if err != nil {
		return "", false, err
	}
	return sess.ID, true, nil
}

func (p *Pipeline) persistBestEffort(ctx context.Context, sessionID string, role contract.Role, content string, meta map[string]any) {
	if err := p.store.AddMessage(ctx, sessionID, role, content, meta); err != nil {
		p.logger.Warn(ctx, "chat: persist message failed", "session", sessionID, "role", string(role), "error", err.Error())
	}
}

func (p *Pipeline) generic(ctx context.Context, msg string, cause error) error {
	p.logger.Error(ctx, "chat: "+msg, "error", cause.Error())
	return &apierrors.Upstream{Cause: cause}
}

func checkAborted(ctx context.Context) error {
	if ctx.Err() != nil {
		return &apierrors.Aborted{}
	}
	return nil
}

// NewMessageID returns a fresh identifier for one streamed turn's outbound
// frames (spec §6 "stable messageId string").
func NewMessageID() string {
	return uuid.NewString()
}
