// Package server implements the HTTP and WebSocket gateway of relaychat.
//
// The implementation is organized into specialized files for the gateway,
// clients, origin checks, rate limiting, routing, and HTTP handlers. Message
// routing, presence and liveness live in their own packages; this package
// only wires a transport session into them.
package server
