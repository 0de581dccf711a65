package duplex

import (
	"context"
	"sync"
)

// cancelHandle is the single per-session cancellation handle described in
// spec §5 "Cancellation semantics". Firing it is idempotent and safe to
// call from the read loop, the heartbeat sweep, or the turn itself.
type cancelHandle struct {
	once   sync.Once
	cancel context.CancelFunc
}

func newCancelHandle(parent context.Context) (*cancelHandle, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &cancelHandle{cancel: cancel}, ctx
}

// Fire cancels the turn's context. Safe to call more than once.
func (h *cancelHandle) Fire() { h.once.Do(h.cancel) }

// session is one registered duplex connection.
type session struct {
	id        string
	conn      Conn
	principal Principal

	writeMu sync.Mutex

	mu           sync.Mutex
	alive        bool
	activeCancel *cancelHandle

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id string, conn Conn, principal Principal) *session {
	return &session{
		id:        id,
		conn:      conn,
		principal: principal,
		alive:     true,
		closed:    make(chan struct{}),
	}
}

// markAlive restores the heartbeat liveness flag; called from the pong
// handler.
func (s *session) markAlive() {
	s.mu.Lock()
	s.alive = true
	s.mu.Unlock()
}

// checkAndClearAlive reports whether the session was seen alive since the
// previous sweep tick, then clears the flag for the next window.
func (s *session) checkAndClearAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasAlive := s.alive
	s.alive = false
	return wasAlive
}

func (s *session) setActiveCancel(h *cancelHandle) {
	s.mu.Lock()
	s.activeCancel = h
	s.mu.Unlock()
}

// clearActiveCancel removes h as the active handle only if it is still the
// current one, so a finishing turn never clobbers a newer turn's handle.
func (s *session) clearActiveCancel(h *cancelHandle) {
	s.mu.Lock()
	if s.activeCancel == h {
		s.activeCancel = nil
	}
	s.mu.Unlock()
}

func (s *session) fireActiveCancel() bool {
	s.mu.Lock()
	h := s.activeCancel
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h.Fire()
	return true
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.fireActiveCancel()
		close(s.closed)
		s.conn.Close()
	})
}
