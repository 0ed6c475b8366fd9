package server

import (
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/liveness"
)

// Admit enrolls an already upgraded connection and reports whether it was accepted.
func (g *Gateway) Admit(conn *websocket.Conn, addr string) bool {
	return g.admit(conn, addr, "") != nil
}

// HeartbeatStates returns the heartbeat state of every connection bound to userID.
func (g *Gateway) HeartbeatStates(userID string) []liveness.State {
	conns := g.reg.ConnectionsFor(userID)
	states := make([]liveness.State, 0, len(conns))
	for _, conn := range conns {
		if c, ok := conn.(*Client); ok && c.heartbeat != nil {
			states = append(states, c.heartbeat.State())
		}
	}
	return states
}
