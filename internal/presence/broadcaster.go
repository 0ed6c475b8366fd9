// Package presence pushes the online roster to every live connection
// whenever registry membership changes.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/registry"
)

//go:generate go run go.uber.org/mock/mockgen -source=broadcaster.go -destination=../mocks/mock_roster.go -package=mocks

// Roster is the part of the registry the broadcaster reads.
type Roster interface {
	Snapshot() []chat.Identity
	Connections() []registry.Conn
}

// Broadcaster sends presence events. Delivery is best-effort: a connection
// that cannot take the event misses it and catches up on the next change.
type Broadcaster struct {
	roster Roster
	log    *slog.Logger
	kick   chan struct{}
}

// NewBroadcaster creates a Broadcaster reading from roster.
func NewBroadcaster(roster Roster, log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		roster: roster,
		log:    log,
		kick:   make(chan struct{}, 1),
	}
}

// Broadcast sends the current snapshot to every live connection, bound or
// not, and returns how many sends succeeded.
func (b *Broadcaster) Broadcast() int {
	online := b.roster.Snapshot()
	payload, err := json.Marshal(chat.PresenceEvent{Online: online})
	if err != nil {
		b.log.Error("Failed to encode presence event", "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range b.roster.Connections() {
		if err := conn.Send(payload); err != nil {
			b.log.Debug("Presence event dropped", "error", err)
			continue
		}
		delivered++
	}
	b.log.Debug("Presence broadcast", "online", len(online), "delivered", delivered)
	return delivered
}

// Notify requests a broadcast from Run. Requests made while one is already
// pending collapse into a single broadcast of the latest state.
func (b *Broadcaster) Notify() {
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// Run serves Notify requests until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.kick:
			b.Broadcast()
		}
	}
}
