package duplex

import "encoding/json"

// maxFrameBytes is the inbound frame size ceiling (spec §4.6 "Receive").
const maxFrameBytes = 1 << 20 // 1 MiB

// Inbound frame types (closed dispatch set, spec §4.6).
const (
	TypeRefresh       = "refresh"
	TypeMCPSettings   = "mcp_settings"
	TypeRequestAgents = "request_agents"
	TypeChat          = "chat"
	TypeAbort         = "abort"
)

// Outbound frame types.
const (
	TypeInit               = "init"
	TypeStats              = "stats"
	TypeUpdate             = "update"
	TypeMCPSettingsAck     = "mcp_settings_ack"
	TypeAgents             = "agents"
	TypeSessionCreated     = "session_created"
	TypeAgentSelected      = "agent_selected"
	TypeDiscussionProgress = "discussion_progress"
	TypeResearchProgress   = "research_progress"
	TypeToken              = "token"
	TypeDone               = "done"
	TypeAborted            = "aborted"
	TypeError              = "error"
	TypeClusterEvent       = "cluster_event"
)

// inboundFrame is the minimal shape every inbound message must match; the
// remaining fields are type-specific and decoded on demand from Raw.
type inboundFrame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func decodeInbound(data []byte) (inboundFrame, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return inboundFrame{}, err
	}
	if probe.Type == "" {
		return inboundFrame{}, errEmptyType
	}
	return inboundFrame{Type: probe.Type, Raw: json.RawMessage(data)}, nil
}

type chatFrame struct {
	SessionID     string   `json:"sessionId"`
	NodeID        string   `json:"nodeId"`
	Model         string   `json:"model"`
	Message       string   `json:"message"`
	Images        []string `json:"images"`
	DocID         string   `json:"docId"`
	WebSearch     bool     `json:"webSearch"`
	Discussion    bool     `json:"discussion"`
	DeepResearch  bool     `json:"deepResearch"`
	Thinking      bool     `json:"thinking"`
	ThinkingLevel string   `json:"thinkingLevel"`
	Tools         []string `json:"tools"`
}

type mcpSettingsFrame struct {
	Settings map[string]any `json:"settings"`
}

// outboundFrame is a generic envelope; Data is marshaled under the "data"
// key and omitted when nil.
type outboundFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func frame(typ string, data any) outboundFrame {
	return outboundFrame{Type: typ, Data: data}
}

// errorFrame is the payload shape for TypeError. Every failure carries
// Message and ErrorType; RetryAfter and the scope/used/limit trio are
// populated only for the structured apierrors kinds that surface with their
// fields (QuotaExceeded, KeysExhausted, RateLimited).
type errorFrame struct {
	Message    string `json:"message"`
	ErrorType  string `json:"errorType,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Used       int    `json:"used,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type agentEntry struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description"`
	External    bool   `json:"external"`
}

type statsPayload struct {
	Total  int      `json:"total"`
	Online int      `json:"online"`
	Models []string `json:"models"`
}

type initPayload struct {
	Name  string        `json:"name"`
	Stats statsPayload  `json:"stats"`
	Nodes []nodePayload `json:"nodes"`
}

type nodePayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}
