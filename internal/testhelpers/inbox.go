package testhelpers

import (
	"sort"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one decoded JSON frame received from the gateway.
type Frame map[string]any

// Inbox reads a client connection in the background. Reading continuously
// keeps the client answering the gateway's pings.
type Inbox struct {
	frames chan Frame
}

// Listen starts reading conn. The inbox closes when the connection fails.
func Listen(conn *websocket.Conn) *Inbox {
	in := &Inbox{frames: make(chan Frame, 256)}
	go func() {
		defer close(in.frames)
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			in.frames <- f
		}
	}()
	return in
}

// Next returns the first frame matching match, discarding the others.
func (in *Inbox) Next(t *testing.T, timeout time.Duration, match func(Frame) bool) Frame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-in.frames:
			if !ok {
				t.Fatalf("connection closed before a matching frame arrived")
			}
			if match(f) {
				return f
			}
		case <-deadline:
			t.Fatalf("no matching frame within %s", timeout)
		}
	}
}

// ExpectNone fails the test if a frame matching match arrives within wait.
func (in *Inbox) ExpectNone(t *testing.T, wait time.Duration, match func(Frame) bool) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case f, ok := <-in.frames:
			if !ok {
				return
			}
			if match(f) {
				t.Fatalf("unexpected frame: %v", f)
			}
		case <-deadline:
			return
		}
	}
}

// WaitClosed reports whether the connection ended within timeout.
func (in *Inbox) WaitClosed(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-in.frames:
			if !ok {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// Presence matches a presence event listing exactly userIDs.
func Presence(userIDs ...string) func(Frame) bool {
	want := append([]string(nil), userIDs...)
	sort.Strings(want)
	return func(f Frame) bool {
		online, ok := f["online"].([]any)
		if !ok || len(online) != len(want) {
			return false
		}
		got := make([]string, 0, len(online))
		for _, entry := range online {
			m, ok := entry.(map[string]any)
			if !ok {
				return false
			}
			id, _ := m["userId"].(string)
			got = append(got, id)
		}
		sort.Strings(got)
		for i := range want {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}
}

// AnyPresence matches every presence event.
func AnyPresence(f Frame) bool {
	_, ok := f["online"]
	return ok
}

// MessageFrom matches a message event sent by sender.
func MessageFrom(sender string) func(Frame) bool {
	return func(f Frame) bool {
		s, ok := f["sender"].(string)
		return ok && s == sender
	}
}

// IsMessage matches every message event.
func IsMessage(f Frame) bool {
	_, ok := f["id"]
	return ok
}
