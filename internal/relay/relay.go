// Package relay validates inbound envelopes, persists them as messages and
// forwards them to the recipient's live connections.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/registry"
)

//go:generate go run go.uber.org/mock/mockgen -source=relay.go -destination=../mocks/mock_relay.go -package=mocks

// MessageStore persists messages and replays conversations.
type MessageStore interface {
	// Append assigns ID and CreatedAt and stores m.
	Append(ctx context.Context, m chat.Message) (chat.Message, error)
	// Conversation returns the messages exchanged between a and b, oldest first.
	Conversation(ctx context.Context, a, b string) ([]chat.Message, error)
}

// AttachmentStore keeps attachment bytes and returns a retrievable reference.
type AttachmentStore interface {
	Save(ctx context.Context, nameHint string, data []byte) (string, error)
	// Delete removes a reference that was never persisted in a message.
	Delete(ref string) error
}

// Directory resolves bindings and routes.
type Directory interface {
	IdentityOf(conn registry.Conn) (chat.Identity, bool)
	ConnectionsFor(userID string) []registry.Conn
}

// Options tunes relay behaviour.
type Options struct {
	// EchoToSender also forwards a message to the sender's other connections.
	EchoToSender bool
}

// Relay handles inbound envelopes.
type Relay struct {
	store       MessageStore
	attachments AttachmentStore
	dir         Directory
	validate    *validator.Validate
	opts        Options
	log         *slog.Logger
}

// New creates a Relay.
func New(store MessageStore, attachments AttachmentStore, dir Directory, opts Options, log *slog.Logger) *Relay {
	return &Relay{
		store:       store,
		attachments: attachments,
		dir:         dir,
		validate:    newValidator(),
		opts:        opts,
		log:         log,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Only fails for an empty tag or a nil func.
	_ = v.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
		return chat.ValidUserID(fl.Field().String())
	})
	return v
}

// HandleInbound processes one raw frame from conn. Errors describe why the
// frame was dropped; they are meant for logging and are never sent back to
// the peer.
func (r *Relay) HandleInbound(ctx context.Context, conn registry.Conn, raw []byte) (chat.Message, error) {
	sender, ok := r.dir.IdentityOf(conn)
	if !ok {
		return chat.Message{}, chat.ErrUnbound
	}

	var env chat.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrMalformedEnvelope, err)
	}
	if err := r.validate.Struct(env); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrMalformedEnvelope, err)
	}

	var data []byte
	if env.Attachment != nil {
		decoded, err := decodeAttachment(env.Attachment.Data)
		if err != nil {
			return chat.Message{}, fmt.Errorf("%w: attachment: %v", chat.ErrMalformedEnvelope, err)
		}
		data = decoded
	}

	msg := chat.Message{
		Sender:    sender.UserID,
		Recipient: env.Recipient,
		Text:      env.Text,
	}
	if env.Attachment != nil {
		ref, err := r.attachments.Save(ctx, env.Attachment.Name, data)
		if err != nil {
			return chat.Message{}, fmt.Errorf("%w: attachment: %v", chat.ErrStorageFailure, err)
		}
		msg.AttachmentRef = ref
	}

	stored, err := r.store.Append(ctx, msg)
	if err != nil {
		if msg.AttachmentRef != "" {
			if delErr := r.attachments.Delete(msg.AttachmentRef); delErr != nil {
				r.log.Warn("Failed to remove orphaned attachment", "ref", msg.AttachmentRef, "error", delErr)
			}
		}
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrStorageFailure, err)
	}

	r.forward(conn, stored)
	return stored, nil
}

func (r *Relay) forward(from registry.Conn, m chat.Message) {
	payload, err := json.Marshal(chat.EventFor(m))
	if err != nil {
		r.log.Error("Failed to encode message event", "id", m.ID, "error", err)
		return
	}

	targets := r.dir.ConnectionsFor(m.Recipient)
	if r.opts.EchoToSender && m.Sender != m.Recipient {
		targets = append(targets, r.dir.ConnectionsFor(m.Sender)...)
	}
	targets = lo.Filter(lo.Uniq(targets), func(c registry.Conn, _ int) bool {
		return !r.opts.EchoToSender || c != from
	})

	if len(targets) == 0 {
		r.log.Debug("Recipient offline, message kept for history", "id", m.ID, "recipient", m.Recipient)
		return
	}
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			r.log.Warn("Failed to forward message", "id", m.ID, "recipient", m.Recipient, "error", err)
		}
	}
}

// History returns the conversation between a and b.
func (r *Relay) History(ctx context.Context, a, b string) ([]chat.Message, error) {
	messages, err := r.store.Conversation(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrStorageFailure, err)
	}
	return messages, nil
}

var errEmptyAttachment = errors.New("empty payload")

// decodeAttachment accepts plain base64 or a data URL such as
// "data:image/png;base64,iVBOR...".
func decodeAttachment(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		_, payload, found := strings.Cut(data, ",")
		if !found {
			return nil, errors.New("data url without payload")
		}
		data = payload
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}
	if len(decoded) == 0 {
		return nil, errEmptyAttachment
	}
	return decoded, nil
}
