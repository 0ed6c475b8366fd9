// Package chat defines the domain types shared by the relay gateway: bound
// identities, persisted messages, inbound envelopes and the outbound events
// written to WebSocket clients.
package chat
