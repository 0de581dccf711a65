package duplex

import (
	"net/http"
	"strings"
)

// ServeHTTP upgrades the request to a websocket connection and runs Accept
// on it, blocking until the connection closes. Mount it at the duplex
// session endpoint.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "duplex: upgrade failed", "error", err.Error())
		return
	}
	h.Accept(r.Context(), conn, bearerToken(r))
}

// bearerToken extracts the auth token per spec §4.6: prefer the auth_token
// cookie, fall back to an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	if c, err := r.Cookie("auth_token"); err == nil && c.Value != "" {
		return c.Value
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return ""
}
