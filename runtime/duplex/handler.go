// Package duplex implements the duplex session transport described in
// spec §4.6: connection accept and principal resolution, inbound framing
// and a closed dispatch table, per-turn cancellation, a heartbeat sweep,
// and broadcast of cluster events. It is built around the Conn interface
// so the websocket wiring (gorilla/websocket) stays swappable for tests.
package duplex

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetserve/servingplane/runtime/apierrors"
	"github.com/fleetserve/servingplane/runtime/chat"
	"github.com/fleetserve/servingplane/runtime/cluster"
	"github.com/fleetserve/servingplane/runtime/telemetry"
	"github.com/fleetserve/servingplane/runtime/toolregistry"
)

const serverName = "fleetserve"

const (
	errMsgTooBig     = "메시지가 너무 큽니다"
	errMsgMalformed  = "잘못된 메시지 형식입니다"
	defaultHeartbeat = 30 * time.Second
)

// MCPSettingsApplier applies an mcp_settings frame's payload to whatever
// per-principal MCP feature state the deployment maintains.
type MCPSettingsApplier interface {
	Apply(ctx context.Context, principal Principal, settings map[string]any) error
}

// noopMCPSettingsApplier is the default when no applier is configured.
type noopMCPSettingsApplier struct{}

func (noopMCPSettingsApplier) Apply(ctx context.Context, principal Principal, settings map[string]any) error {
	return nil
}

// SessionHandler terminates duplex client connections (spec §4.6).
type SessionHandler struct {
	pipeline *chat.Pipeline
	cluster  *cluster.Manager
	registry *toolregistry.Registry

	resolver AuthResolver
	mcp      MCPSettingsApplier
	logger   telemetry.Logger

	heartbeatInterval time.Duration
	upgrader          websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a SessionHandler.
type Option func(*SessionHandler)

// WithAuthResolver overrides principal resolution (default: always guest).
func WithAuthResolver(r AuthResolver) Option {
	return func(h *SessionHandler) { h.resolver = r }
}

// WithMCPSettingsApplier overrides mcp_settings handling (default: no-op).
func WithMCPSettingsApplier(a MCPSettingsApplier) Option {
	return func(h *SessionHandler) { h.mcp = a }
}

// WithLogger sets the logger used for internal-failure reporting.
func WithLogger(l telemetry.Logger) Option {
	return func(h *SessionHandler) { h.logger = l }
}

// WithHeartbeatInterval overrides the default 30s sweep period (tests use
// a short interval).
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *SessionHandler) { h.heartbeatInterval = d }
}

// New builds a SessionHandler over its collaborators.
func New(pipeline *chat.Pipeline, clusterMgr *cluster.Manager, registry *toolregistry.Registry, opts ...Option) *SessionHandler {
	h := &SessionHandler{
		pipeline:          pipeline,
		cluster:           clusterMgr,
		registry:          registry,
		resolver:          NoopAuthResolver{},
		mcp:               noopMCPSettingsApplier{},
		logger:            telemetry.NewNoopLogger(),
		heartbeatInterval: defaultHeartbeat,
		sessions:          make(map[string]*session),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins the heartbeat sweep and cluster-event forwarding loop.
func (h *SessionHandler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.wg.Add(2)
	go h.heartbeatLoop(ctx)
	go h.forwardClusterEvents(ctx)
}

// Stop cancels the background loops and closes every session.
func (h *SessionHandler) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*session)
	h.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// Accept registers conn as a new session, sends the init and stats frames,
// then blocks reading frames until the connection closes. Callers
// typically invoke it as `go handler.Accept(ctx, conn, token)` from an
// HTTP upgrade handler.
func (h *SessionHandler) Accept(ctx context.Context, conn Conn, bearerToken string) {
	principal, ok := h.resolver.Resolve(ctx, bearerToken)
	if !ok {
		principal = GuestPrincipal()
	}

	s := newSession(uuid.NewString(), conn, principal)
	conn.SetReadLimit(maxFrameBytes + 1)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		s.markAlive()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	defer h.drop(s)

	h.sendInit(s)
	h.sendFrame(s, TypeStats, h.statsPayload())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(ctx, s, data)
	}
}

func (h *SessionHandler) drop(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	s.close()
}

func (h *SessionHandler) handleFrame(ctx context.Context, s *session, data []byte) {
	if len(data) > maxFrameBytes {
		h.sendFrame(s, TypeError, errorFrame{Message: errMsgTooBig})
		return
	}
	in, err := decodeInbound(data)
	if err != nil {
		h.sendFrame(s, TypeError, errorFrame{Message: errMsgMalformed})
		return
	}

	switch in.Type {
	case TypeRefresh:
		h.sendFrame(s, TypeUpdate, h.updatePayload())
	case TypeMCPSettings:
		h.handleMCPSettings(ctx, s, in.Raw)
	case TypeRequestAgents:
		h.sendFrame(s, TypeAgents, h.agentsPayload(s.principal))
	case TypeChat:
		h.handleChat(ctx, s, in.Raw)
	case TypeAbort:
		if s.fireActiveCancel() {
			h.sendFrame(s, TypeAborted, nil)
		}
	default:
		// Unknown type: silently ignored per spec.
	}
}

func (h *SessionHandler) handleMCPSettings(ctx context.Context, s *session, raw json.RawMessage) {
	var f mcpSettingsFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.sendFrame(s, TypeError, errorFrame{Message: errMsgMalformed})
		return
	}
	if err := h.mcp.Apply(ctx, s.principal, f.Settings); err != nil {
		h.logger.Warn(ctx, "duplex: mcp settings apply failed", "session", s.id, "error", err.Error())
	}
	h.sendFrame(s, TypeMCPSettingsAck, nil)
}

func (h *SessionHandler) handleChat(ctx context.Context, s *session, raw json.RawMessage) {
	var f chatFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.sendFrame(s, TypeError, errorFrame{Message: errMsgMalformed})
		return
	}

	handle, turnCtx := newCancelHandle(ctx)
	s.setActiveCancel(handle)

	go h.runChatTurn(turnCtx, s, handle, f)
}

func (h *SessionHandler) runChatTurn(ctx context.Context, s *session, handle *cancelHandle, f chatFrame) {
	defer s.clearActiveCancel(handle)

	messageID := chat.NewMessageID()
	in := chat.Input{
		PrincipalKey:  s.principal.key(s.id),
		UserID:        s.principal.UserID,
		Role:          s.principal.Role,
		Tier:          s.principal.Tier,
		SessionID:     f.SessionID,
		NodeID:        f.NodeID,
		Model:         f.Model,
		Message:       f.Message,
		Images:        f.Images,
		DocID:         f.DocID,
		WebSearch:     f.WebSearch,
		Discussion:    f.Discussion,
		DeepResearch:  f.DeepResearch,
		Thinking:      f.Thinking,
		ThinkingLevel: f.ThinkingLevel,
		Tools:         f.Tools,
		Persist:       true,
	}

	result, err := h.pipeline.ProcessChat(ctx, in, chat.Callbacks{
		OnSessionCreated: func(sessionID string) {
			h.sendFrame(s, TypeSessionCreated, map[string]string{"sessionId": sessionID})
		},
		OnAgentSelected: func(nodeID, model string) {
			h.sendFrame(s, TypeAgentSelected, map[string]string{"nodeId": nodeID, "model": model})
		},
		OnDiscussionProgress: func(text string) {
			h.sendFrame(s, TypeDiscussionProgress, map[string]string{"messageId": messageID, "text": text})
		},
		OnResearchProgress: func(text string) {
			h.sendFrame(s, TypeResearchProgress, map[string]string{"messageId": messageID, "text": text})
		},
		OnToken: func(text string) {
			h.sendFrame(s, TypeToken, map[string]string{"messageId": messageID, "text": text})
		},
	})
	if err != nil {
		if apierrors.IsAborted(err) {
			h.sendFrame(s, TypeAborted, nil)
			return
		}
		h.sendFrame(s, TypeError, newErrorFrame(err))
		return
	}
	h.sendFrame(s, TypeDone, map[string]string{"messageId": messageID, "model": result.Model})
}

// Outbound errorType values: one each for QuotaExceeded, KeysExhausted,
// RateLimited, InvalidRequest and NoNodeAvailable, and "internal" for every
// other failure (spec §7, §8 scenario 5).
const (
	errorTypeQuotaExceeded  = "quota_exceeded"
	errorTypeKeysExhausted  = "keys_exhausted"
	errorTypeRateLimited    = "rate_limited"
	errorTypeInvalidRequest = "invalid_request"
	errorTypeNoNodeAvail    = "no_node_available"
	errorTypeInternal       = "internal"
)

// newErrorFrame maps a pipeline failure to the outbound error frame, filling
// in the typed quantitative fields spec §7/§8 scenario 5 require so the
// client can back off without string-matching the message.
func newErrorFrame(err error) errorFrame {
	switch e := err.(type) {
	case *apierrors.QuotaExceeded:
		return errorFrame{
			Message:    e.Error(),
			ErrorType:  errorTypeQuotaExceeded,
			RetryAfter: e.RetryAfterSeconds,
			Scope:      string(e.Scope),
			Used:       e.Used,
			Limit:      e.Limit,
		}
	case *apierrors.KeysExhausted:
		return errorFrame{
			Message:    e.DisplayMessage(""),
			ErrorType:  errorTypeKeysExhausted,
			RetryAfter: e.RetryAfterSeconds,
		}
	case *apierrors.RateLimited:
		return errorFrame{
			Message:    e.DisplayMessage(),
			ErrorType:  errorTypeRateLimited,
			RetryAfter: e.RetryAfterSeconds,
			Limit:      e.Limit,
		}
	case *apierrors.InvalidRequest:
		return errorFrame{Message: e.Message, ErrorType: errorTypeInvalidRequest}
	case *apierrors.NoNodeAvailable:
		return errorFrame{Message: e.Error(), ErrorType: errorTypeNoNodeAvail}
	default:
		return errorFrame{Message: apierrors.GenericMessage, ErrorType: errorTypeInternal}
	}
}

// Broadcast sends frame to every currently registered session.
func (h *SessionHandler) Broadcast(typ string, data any) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		h.sendFrame(s, typ, data)
	}
}

func (h *SessionHandler) forwardClusterEvents(ctx context.Context) {
	defer h.wg.Done()
	events := h.cluster.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			h.Broadcast(TypeClusterEvent, ev)
		}
	}
}

// heartbeatLoop runs the sweep described in spec §4.6 "Heartbeat": victims
// are collected before any registry mutation to avoid iteration hazards.
func (h *SessionHandler) heartbeatLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *SessionHandler) sweep() {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	var victims []*session
	var survivors []*session
	for _, s := range sessions {
		if s.checkAndClearAlive() {
			survivors = append(survivors, s)
		} else {
			victims = append(victims, s)
		}
	}

	for _, s := range victims {
		h.drop(s)
	}
	for _, s := range survivors {
		h.ping(s)
	}
}

func (h *SessionHandler) ping(s *session) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *SessionHandler) sendInit(s *session) {
	nodes := h.cluster.GetNodes()
	payload := initPayload{
		Name:  serverName,
		Stats: toStatsPayload(h.cluster.GetStats()),
		Nodes: make([]nodePayload, 0, len(nodes)),
	}
	for _, n := range nodes {
		payload.Nodes = append(payload.Nodes, nodePayload{ID: n.ID, Name: n.Name, Status: string(n.Status)})
	}
	h.sendFrame(s, TypeInit, payload)
}

func (h *SessionHandler) statsPayload() statsPayload {
	return toStatsPayload(h.cluster.GetStats())
}

func (h *SessionHandler) updatePayload() map[string]any {
	nodes := h.cluster.GetNodes()
	payload := make([]nodePayload, 0, len(nodes))
	for _, n := range nodes {
		payload = append(payload, nodePayload{ID: n.ID, Name: n.Name, Status: string(n.Status)})
	}
	return map[string]any{"stats": toStatsPayload(h.cluster.GetStats()), "nodes": payload}
}

func toStatsPayload(s cluster.Stats) statsPayload {
	return statsPayload{Total: s.Total, Online: s.Online, Models: s.Models}
}

func (h *SessionHandler) agentsPayload(principal Principal) []agentEntry {
	tools := h.registry.ListForTier(principal.toolTier())
	out := make([]agentEntry, 0, len(tools))
	for _, t := range tools {
		url := "local://" + t.Name
		if t.External {
			original := strings.TrimPrefix(t.Name, t.ServerName+toolregistry.Separator)
			url = "mcp://" + t.ServerName + "/" + original
		}
		out = append(out, agentEntry{URL: url, Name: t.Name, Description: t.Description, External: t.External})
	}
	return out
}

// sendFrame marshals and writes one frame, serializing with every other
// writer on the same connection (pings included).
func (h *SessionHandler) sendFrame(s *session, typ string, data any) {
	body, err := json.Marshal(frame(typ, data))
	if err != nil {
		h.logger.Error(context.Background(), "duplex: marshal frame failed", "type", typ, "error", err.Error())
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		h.logger.Warn(context.Background(), "duplex: write frame failed", "session", s.id, "type", typ, "error", err.Error())
	}
}
