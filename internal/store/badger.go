package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// BadgerStore keeps messages in BadgerDB.
type BadgerStore struct {
	db    *badger.DB
	log   *slog.Logger
	stamp *stamper
}

// NewBadgerStore wraps an open database. The caller owns db unless Close is used.
func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log, stamp: newStamper()}
}

// conversationPrefix is shared by both directions of a conversation. The NUL
// separators keep "ab"+"c" and "a"+"bc" apart; an id that itself contains NUL
// can still land under a foreign prefix, so Conversation checks each record.
func conversationPrefix(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("msg:%s\x00%s\x00", a, b)
}

// Append stores m under "msg:{lo}\x00{hi}\x00{unix_nano_padded}:{id}". The
// 19-digit padded timestamp makes a prefix scan return the conversation in
// creation order; the id separates equal timestamps.
func (s *BadgerStore) Append(ctx context.Context, m chat.Message) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	m.ID = uuid.NewString()
	m.CreatedAt = s.stamp.next()

	value, err := json.Marshal(m)
	if err != nil {
		return chat.Message{}, fmt.Errorf("encode message: %w", err)
	}
	key := fmt.Sprintf("%s%019d:%s", conversationPrefix(m.Sender, m.Recipient), m.CreatedAt.UnixNano(), m.ID)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("write message: %w", err)
	}
	return m, nil
}

// Conversation returns every message between a and b, oldest first.
func (s *BadgerStore) Conversation(ctx context.Context, a, b string) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(conversationPrefix(a, b))
	messages := make([]chat.Message, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var m chat.Message
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				if !between(m, a, b) {
					s.log.Warn("Skipping message stored under a foreign conversation", "id", m.ID)
					return nil
				}
				messages = append(messages, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	s.log.Debug("Conversation loaded", "messages", len(messages))
	return messages, nil
}

func between(m chat.Message, a, b string) bool {
	return (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a)
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
