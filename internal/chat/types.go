package chat

import (
	"strings"
	"time"
	"unicode"
)

// Identity is the verified binding of a connection to a user.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// ValidUserID reports whether id can name a user: non-empty and free of
// control characters, which the stores use as separators.
func ValidUserID(id string) bool {
	return id != "" && !strings.ContainsFunc(id, unicode.IsControl)
}

// Message is a persisted chat record. ID and CreatedAt are assigned by the
// store and never change afterwards.
type Message struct {
	ID            string    `json:"id"`
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	Text          string    `json:"text,omitempty"`
	AttachmentRef string    `json:"attachmentRef,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Attachment carries raw bytes encoded as base64, optionally wrapped in a
// data URL, plus the client's original file name.
type Attachment struct {
	Name string `json:"name" validate:"required"`
	Data string `json:"data" validate:"required"`
}

// Envelope is one inbound unit submitted by a client.
type Envelope struct {
	Recipient  string      `json:"recipient" validate:"required,userid"`
	Text       string      `json:"text" validate:"required_without=Attachment"`
	Attachment *Attachment `json:"attachment" validate:"required_without=Text"`
}

// MessageEvent is pushed to the recipient's live connections once the
// message has been persisted.
type MessageEvent struct {
	Text          string `json:"text,omitempty"`
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient"`
	AttachmentRef string `json:"attachmentRef,omitempty"`
	ID            string `json:"id"`
}

// PresenceEvent lists every user currently bound to at least one connection.
type PresenceEvent struct {
	Online []Identity `json:"online"`
}

// EventFor builds the outbound event for a persisted message.
func EventFor(m Message) MessageEvent {
	return MessageEvent{
		Text:          m.Text,
		Sender:        m.Sender,
		Recipient:     m.Recipient,
		AttachmentRef: m.AttachmentRef,
		ID:            m.ID,
	}
}
