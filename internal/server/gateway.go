// Package server coordinates connection admission, authentication, liveness
// and cleanup for the relaychat WebSocket system via the Gateway type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/identity"
	"github.com/Tyrowin/relaychat/internal/liveness"
	"github.com/Tyrowin/relaychat/internal/presence"
	"github.com/Tyrowin/relaychat/internal/registry"
	"github.com/Tyrowin/relaychat/internal/relay"
)

// Uploads resolves attachment references to files.
type Uploads interface {
	Path(ref string) (string, error)
}

// Deps are the collaborators of a Gateway.
type Deps struct {
	Store       relay.MessageStore
	Attachments relay.AttachmentStore
	Uploads     Uploads
	Verifier    identity.Verifier
	// Scheduler drives liveness timers; nil means the real clock.
	Scheduler liveness.Scheduler
}

// Gateway accepts WebSocket connections and wires each one into the
// registry, the liveness monitor and the relay.
type Gateway struct {
	cfg      config.Config
	reg      *registry.Registry
	monitor  *liveness.Monitor
	presence *presence.Broadcaster
	relay    *relay.Relay
	verifier identity.Verifier
	uploads  Uploads
	origins  originPolicy
	upgrader websocket.Upgrader
	log      *slog.Logger

	// admitMu orders admissions against Shutdown: once closing is set under
	// it, no connection joins the registry or the WaitGroup.
	admitMu  sync.Mutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	closing  atomic.Bool
	shutdown sync.Once
	done     chan struct{}
}

// NewGateway creates a Gateway and starts its presence loop. cfg is expected
// to be sanitized already.
func NewGateway(cfg config.Config, deps Deps, log *slog.Logger) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	reg := registry.New()

	g := &Gateway{
		cfg:      cfg,
		reg:      reg,
		presence: presence.NewBroadcaster(reg, log),
		relay: relay.New(deps.Store, deps.Attachments, reg,
			relay.Options{EchoToSender: cfg.EchoToSender}, log),
		verifier: deps.Verifier,
		uploads:  deps.Uploads,
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	g.monitor = liveness.NewMonitor(liveness.Config{
		Interval: cfg.Probe.Interval,
		Timeout:  cfg.Probe.Timeout,
		Jitter:   cfg.Probe.Jitter,
	}, deps.Scheduler, g.evict, log)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.origins.check,
	}

	go func() {
		defer close(g.done)
		g.presence.Run(ctx)
	}()
	return g
}

// Registry exposes the connection registry.
func (g *Gateway) Registry() *registry.Registry {
	return g.reg
}

// admit enrolls a freshly upgraded connection, binds it when the credential
// verifies and starts its heartbeat and pumps. It returns nil and closes conn
// when the gateway is shutting down.
func (g *Gateway) admit(conn *websocket.Conn, addr, credential string) *Client {
	g.admitMu.Lock()
	if g.closing.Load() {
		g.admitMu.Unlock()
		_ = conn.Close()
		return nil
	}
	client := NewClient(conn, g, addr)
	g.reg.Add(client)
	g.wg.Add(2)
	g.admitMu.Unlock()

	bound := false
	if id, err := g.verifier.Verify(credential); err != nil {
		client.log.Info("Connection stays unauthenticated", "reason", err)
	} else if err := g.reg.Register(client, id); err != nil {
		client.log.Error("Failed to bind connection", "error", err)
	} else {
		bound = true
		client.log = client.log.With("user", id.UserID)
		client.log.Info("Connection bound", "username", id.Username, "connections", g.reg.Len())
	}

	if bound || g.cfg.PresenceOnConnect == config.PresenceEager {
		g.presence.Notify()
	}

	client.heartbeat = g.monitor.Watch(client)

	go func() {
		defer g.wg.Done()
		client.writePump()
	}()
	go func() {
		defer g.wg.Done()
		client.readPump()
	}()
	return client
}

// remove is the cleanup for a transport that ended on its own.
func (g *Gateway) remove(c *Client) {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
	}
	g.drop(c)
	if err := c.Close(); err != nil {
		c.log.Debug("Error closing client", "error", err)
	}
}

// evict runs after the monitor declared a connection dead and closed it.
func (g *Gateway) evict(target liveness.Target) {
	c, ok := target.(*Client)
	if !ok {
		return
	}
	g.drop(c)
}

func (g *Gateway) drop(c *Client) {
	_, wasBound := g.reg.IdentityOf(c)
	if !g.reg.Unregister(c) {
		return
	}
	c.log.Info("Client unregistered", "connections", g.reg.Len())
	if wasBound || g.cfg.PresenceOnConnect == config.PresenceEager {
		g.presence.Notify()
	}
}

// Online returns the current presence snapshot.
func (g *Gateway) Online() []chat.Identity {
	return g.reg.Snapshot()
}

// shutdownClients closes every live connection.
func (g *Gateway) shutdownClients() {
	g.log.Info("Shutting down all client connections...")

	clients := g.reg.Connections()
	for _, conn := range clients {
		if err := conn.Close(); err != nil {
			g.log.Debug("Error closing client connection", "error", err)
		}
	}
	g.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown stops accepting connections, closes the live ones and waits for
// their goroutines, or until timeout.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	var err error
	g.shutdown.Do(func() {
		g.log.Info("Initiating gateway shutdown...")
		g.admitMu.Lock()
		g.closing.Store(true)
		g.admitMu.Unlock()
		g.shutdownClients()
		g.cancel()
		<-g.done

		done := make(chan struct{})
		go func() {
			g.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			g.log.Info("Gateway shutdown completed successfully")
		case <-time.After(timeout):
			g.log.Warn("Gateway shutdown timeout reached, some goroutines may still be running")
			err = context.DeadlineExceeded
		}
	})
	return err
}
