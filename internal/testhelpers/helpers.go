// Package testhelpers provides common utilities shared by the relaychat tests.
//
// It contains an in-memory connection that records what the gateway sends to
// it, and helpers for dialing the WebSocket endpoint with a session cookie and
// reading typed events back with a deadline.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// RecordingConn is a registry.Conn that keeps every payload sent to it.
type RecordingConn struct {
	Name string

	mu      sync.Mutex
	sent    [][]byte
	closed  int
	sendErr error
}

// NewRecordingConn creates a RecordingConn labelled with name.
func NewRecordingConn(name string) *RecordingConn {
	return &RecordingConn{Name: name}
}

// FailSends makes every following Send return err.
func (c *RecordingConn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Send records payload.
func (c *RecordingConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

// Close counts close calls.
func (c *RecordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// Sent returns a copy of the recorded payloads.
func (c *RecordingConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// Closed returns how many times Close was called.
func (c *RecordingConn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// DecodeSent unmarshals the i-th recorded payload into v.
func DecodeSent(t *testing.T, c *RecordingConn, i int, v any) {
	t.Helper()
	sent := c.Sent()
	if i >= len(sent) {
		t.Fatalf("%s: expected at least %d payloads, got %d", c.Name, i+1, len(sent))
	}
	if err := json.Unmarshal(sent[i], v); err != nil {
		t.Fatalf("%s: decode payload %d: %v", c.Name, i, err)
	}
}

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with an allowed Origin header and, when token is
// not empty, the session cookie set.
func ConnectWebSocket(url, cookieName, token string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")
	if token != "" {
		headers.Set("Cookie", (&http.Cookie{Name: cookieName, Value: token}).String())
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
