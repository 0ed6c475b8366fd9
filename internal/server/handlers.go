// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, conversation history and attachment downloads.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the HTTP connection and admits the
// client. A missing or invalid credential does not refuse the upgrade; the
// connection then stays unauthenticated.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if g.closing.Load() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}
	g.admit(conn, r.RemoteAddr, credentialFrom(r, g.cfg.SessionCookie))
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relaychat server is running!")
}

// authenticate resolves the caller of a plain HTTP request.
func (g *Gateway) authenticate(r *http.Request) (chat.Identity, bool) {
	id, err := g.verifier.Verify(credentialFrom(r, g.cfg.SessionCookie))
	if err != nil {
		g.log.Debug("Rejected HTTP credential", "path", r.URL.Path, "error", err)
		return chat.Identity{}, false
	}
	return id, true
}

// HistoryHandler returns the conversation between the caller and the user
// named in the path, oldest first.
func (g *Gateway) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := g.authenticate(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	peer := r.PathValue("userId")
	if peer == "" {
		http.Error(w, "Missing user id", http.StatusBadRequest)
		return
	}

	messages, err := g.relay.History(r.Context(), caller.UserID, peer)
	if err != nil {
		g.log.Error("Failed to load conversation", "user", caller.UserID, "peer", peer, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, messages)
}

// ProfileHandler returns the caller's identity.
func (g *Gateway) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := g.authenticate(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, caller)
}

// UploadHandler serves a stored attachment by reference.
func (g *Gateway) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if g.uploads == nil {
		http.NotFound(w, r)
		return
	}
	path, err := g.uploads.Path(r.PathValue("file"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
