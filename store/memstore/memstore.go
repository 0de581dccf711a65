// Package memstore is an in-memory ConversationStore for tests and
// single-process deployments where persistence across restarts is not
// required.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fleetserve/servingplane/store/contract"
)

type message struct {
	Role    contract.Role
	Content string
	Meta    map[string]any
}

// Store is a ConversationStore backed by an in-process map. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]contract.Session
	messages map[string][]message
}

var _ contract.ConversationStore = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]contract.Session),
		messages: make(map[string][]message),
	}
}

// CreateSession implements contract.ConversationStore.
func (s *Store) CreateSession(ctx context.Context, userID *string, title string, anonSessionID string) (contract.Session, error) {
	select {
	case <-ctx.Done():
		return contract.Session{}, ctx.Err()
	default:
	}
	sess := contract.Session{ID: uuid.NewString()}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

// AddMessage implements contract.ConversationStore.
func (s *Store) AddMessage(ctx context.Context, sessionID string, role contract.Role, content string, meta map[string]any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], message{Role: role, Content: content, Meta: meta})
	return nil
}

// Messages returns the roles of the messages recorded for sessionID, in
// insertion order, for test assertions.
func (s *Store) Messages(sessionID string) []contract.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contract.Role, 0, len(s.messages[sessionID]))
	for _, m := range s.messages[sessionID] {
		out = append(out, m.Role)
	}
	return out
}
