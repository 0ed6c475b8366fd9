// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/liveness"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// Client is one WebSocket connection. It is the registry.Conn the relay and
// the presence broadcaster send to, and the liveness.Target the monitor probes.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	gw             *Gateway
	addr           string
	id             string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      config.RateLimitConfig
	heartbeat      *liveness.Heartbeat
	log            *slog.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewClient creates a Client for conn. The send channel is buffered so a
// slow peer only loses frames and never blocks the sender.
func NewClient(conn *websocket.Conn, gw *Gateway, addr string) *Client {
	cfg := gw.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()[:8]

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		gw:             gw,
		addr:           addr,
		id:             id,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		log:            gw.log.With("conn", id, "addr", addr),
	}
}

// Send queues payload for the write pump. It never blocks.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return chat.ErrTransportDead
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return chat.ErrSendQueueFull
	}
}

// Ping sends a probe frame. WriteControl may run concurrently with the write pump.
func (c *Client) Ping() error {
	if c.isClosed() {
		return chat.ErrTransportDead
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close stops the write pump and closes the transport. It is idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		if c.conn == nil {
			return
		}
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(closeWait))
		if closeErr := c.conn.Close(); closeErr != nil && !isExpectedCloseError(closeErr) {
			err = closeErr
		}
	})
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setupReadConnection clears the deadline inherited from the HTTP server and
// acknowledges probes from pongs. Liveness is decided by the monitor.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		c.log.Debug("Error clearing read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if c.heartbeat != nil {
			c.heartbeat.Ack()
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.Info("Client disconnected", "reason", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.Info("Client connection closed", "reason", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.log.Warn("Unexpected WebSocket error", "error", err)
		return true
	}

	c.log.Warn("WebSocket read error", "error", err)
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("Rate limit exceeded; discarding message", "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage hands a raw frame to the relay. Failures are logged and
// never reported to the peer. A panic is contained to this frame.
func (c *Client) processMessage(rawMessage []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Recovered from panic while processing message", "panic", r)
		}
	}()

	msg, err := c.gw.relay.HandleInbound(c.gw.ctx, c, rawMessage)
	switch {
	case err == nil:
		c.log.Debug("Message relayed", "id", msg.ID, "recipient", msg.Recipient)
	case errors.Is(err, chat.ErrUnbound), errors.Is(err, chat.ErrMalformedEnvelope):
		c.log.Info("Inbound frame dropped", "error", err)
	default:
		c.log.Error("Inbound frame failed", "error", err)
	}
}

func (c *Client) readPump() {
	defer c.gw.remove(c)

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

// writePump writes queued frames one per WebSocket message until Close
// drains the queue or a write fails.
func (c *Client) writePump() {
	defer c.closeConnection()

	for message := range c.send {
		if !c.writeTextMessage(message) {
			return
		}
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("Error closing connection in writePump", "error", err)
	}
}

func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("Error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}
