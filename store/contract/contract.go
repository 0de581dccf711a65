// Package contract defines the storage contract the core calls into
// (spec §6 "Storage contract"). Concrete implementations live under
// store/mongostore (durable) and store/memstore (tests, single process).
package contract

import "context"

// Role is the author of one persisted message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Session is the durable record created by CreateSession.
type Session struct {
	ID string
}

// ConversationStore persists sessions and messages. Failures are
// best-effort from the caller's point of view (§7): callers log them via
// telemetry.Logger and never fail the request because of a storage error
// alone, except where creating the session is itself on the critical path.
type ConversationStore interface {
	// CreateSession creates a new session. userID is nil for anonymous
	// sessions; title is truncated to 30 runes by the caller before this
	// call. anonSessionID ties together a guest's prior turns.
	CreateSession(ctx context.Context, userID *string, title string, anonSessionID string) (Session, error)
	// AddMessage appends one message under sessionID.
	AddMessage(ctx context.Context, sessionID string, role Role, content string, meta map[string]any) error
}
