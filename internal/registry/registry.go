// Package registry tracks live gateway connections and their bindings to
// verified user identities.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/Tyrowin/relaychat/internal/chat"
)

//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../mocks/mock_conn.go -package=mocks

// Conn is the send/close capability of one live transport session.
// Implementations must be comparable (pointer receivers) and safe for
// concurrent use.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

type entry struct {
	conn     Conn
	identity *chat.Identity
	added    uint64
	bound    uint64
}

// Registry holds every live connection and the by-user index used for
// routing. All reads and writes go through a single lock so no reader can
// see an identity that is missing from the index or the other way round.
type Registry struct {
	mu      sync.RWMutex
	entries map[Conn]*entry
	byUser  map[string][]*entry
	nextSeq uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[Conn]*entry),
		byUser:  make(map[string][]*entry),
	}
}

// Add enrolls an unauthenticated connection. Adding a known connection is a no-op.
func (r *Registry) Add(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addLocked(conn)
}

func (r *Registry) addLocked(conn Conn) *entry {
	if e, ok := r.entries[conn]; ok {
		return e
	}
	r.nextSeq++
	e := &entry{conn: conn, added: r.nextSeq}
	r.entries[conn] = e
	return e
}

// Register binds identity to conn, enrolling it first if needed. A
// connection can be bound only once.
func (r *Registry) Register(conn Conn, identity chat.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.addLocked(conn)
	if e.identity != nil {
		return fmt.Errorf("%w: user %s", chat.ErrAlreadyBound, e.identity.UserID)
	}

	r.nextSeq++
	e.bound = r.nextSeq
	e.identity = &identity
	r.byUser[identity.UserID] = append(r.byUser[identity.UserID], e)
	return nil
}

// Unregister removes conn and reports whether it was present. Removing an
// unknown connection is not an error.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[conn]
	if !ok {
		return false
	}
	delete(r.entries, conn)

	if e.identity == nil {
		return true
	}
	userID := e.identity.UserID
	remaining := lo.Reject(r.byUser[userID], func(other *entry, _ int) bool {
		return other == e
	})
	if len(remaining) == 0 {
		delete(r.byUser, userID)
	} else {
		r.byUser[userID] = remaining
	}
	return true
}

// IdentityOf returns the identity bound to conn, if any.
func (r *Registry) IdentityOf(conn Conn) (chat.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[conn]
	if !ok || e.identity == nil {
		return chat.Identity{}, false
	}
	return *e.identity, true
}

// ConnectionsFor returns the live connections bound to userID in binding
// order. The result is empty, never nil, when the user is offline.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.byUser[userID], func(e *entry, _ int) Conn {
		return e.conn
	})
}

// Connections returns every live connection, bound or not, in enrollment order.
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := lo.Values(r.entries)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].added < entries[j].added
	})
	return lo.Map(entries, func(e *entry, _ int) Conn {
		return e.conn
	})
}

// Snapshot returns the distinct bound identities, ordered by the first
// binding of each user.
func (r *Registry) Snapshot() []chat.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bound := lo.Filter(lo.Values(r.entries), func(e *entry, _ int) bool {
		return e.identity != nil
	})
	sort.Slice(bound, func(i, j int) bool {
		return bound[i].bound < bound[j].bound
	})
	online := lo.Map(bound, func(e *entry, _ int) chat.Identity {
		return *e.identity
	})
	return lo.UniqBy(online, func(id chat.Identity) string {
		return id.UserID
	})
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
