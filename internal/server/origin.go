// Package server validates HTTP origins for WebSocket requests to enforce
// configured access control.
package server

import (
	"log/slog"
	"net/http"

	"github.com/Tyrowin/relaychat/internal/config"
)

// originPolicy holds the normalized allow list. It is immutable once built.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *slog.Logger
}

func newOriginPolicy(origins []string, log *slog.Logger) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins)), log: log}
	for _, origin := range config.NormalizeOrigins(origins, log) {
		if origin == "*" {
			p.allowAll = true
			continue
		}
		p.allowed[origin] = struct{}{}
	}
	return p
}

func (p originPolicy) isAllowed(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalizedOrigin, ok := config.NormalizeOrigin(originHeader)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}

	_, exists := p.allowed[normalizedOrigin]
	return exists
}

func (p originPolicy) check(r *http.Request) bool {
	if p.isAllowed(r) {
		return true
	}

	p.log.Warn("Blocked WebSocket connection from disallowed origin", "origin", r.Header.Get("Origin"), "addr", r.RemoteAddr)
	return false
}
