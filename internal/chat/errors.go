package chat

import "errors"

var (
	// ErrAuthInvalid means the session credential is missing or failed verification.
	ErrAuthInvalid = errors.New("invalid or missing session credential")
	// ErrMalformedEnvelope means an inbound envelope lacks a recipient or any content.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrStorageFailure wraps failures of the message or attachment store.
	ErrStorageFailure = errors.New("storage failure")
	// ErrTransportDead means the connection missed a probe or its transport closed.
	ErrTransportDead = errors.New("transport dead")
	// ErrAlreadyBound is returned when a connection is bound a second time.
	ErrAlreadyBound = errors.New("connection already bound")
	// ErrUnbound is returned for traffic from an unauthenticated connection.
	ErrUnbound = errors.New("connection not bound to a user")
	// ErrSendQueueFull means an outbound frame was dropped for a slow connection.
	ErrSendQueueFull = errors.New("send queue full")
)
