package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// messageRecord is the messages table row.
type messageRecord struct {
	Seq           uint64    `gorm:"primaryKey;autoIncrement"`
	ID            string    `gorm:"uniqueIndex;size:36;not null"`
	Sender        string    `gorm:"index:idx_messages_pair;size:128;not null"`
	Recipient     string    `gorm:"index:idx_messages_pair;size:128;not null"`
	Text          string    `gorm:"type:text"`
	AttachmentRef string    `gorm:"size:255"`
	CreatedAt     time.Time `gorm:"index;not null"`
}

// TableName returns the table name for messageRecord.
func (messageRecord) TableName() string {
	return "messages"
}

func (r messageRecord) toMessage() chat.Message {
	return chat.Message{
		ID:            r.ID,
		Sender:        r.Sender,
		Recipient:     r.Recipient,
		Text:          r.Text,
		AttachmentRef: r.AttachmentRef,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

// SQLStore keeps messages in a relational database through GORM.
type SQLStore struct {
	db    *gorm.DB
	log   *slog.Logger
	stamp *stamper
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
// ":memory:" gives a throwaway database.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer, and every ":memory:" connection is its own database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLStore migrates the schema and returns a store backed by db.
func NewSQLStore(db *gorm.DB, log *slog.Logger) (*SQLStore, error) {
	if err := db.AutoMigrate(&messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate messages table: %w", err)
	}
	return &SQLStore{db: db, log: log, stamp: newStamper()}, nil
}

// Append inserts m with a fresh ID and CreatedAt.
func (s *SQLStore) Append(ctx context.Context, m chat.Message) (chat.Message, error) {
	record := messageRecord{
		ID:            uuid.NewString(),
		Sender:        m.Sender,
		Recipient:     m.Recipient,
		Text:          m.Text,
		AttachmentRef: m.AttachmentRef,
		CreatedAt:     s.stamp.next(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return chat.Message{}, fmt.Errorf("failed to create message: %w", err)
	}
	return record.toMessage(), nil
}

// Conversation returns every message between a and b, oldest first.
func (s *SQLStore) Conversation(ctx context.Context, a, b string) ([]chat.Message, error) {
	var records []messageRecord
	err := s.db.WithContext(ctx).
		Where("(sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)", a, b, b, a).
		Order("created_at ASC, seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}

	messages := make([]chat.Message, 0, len(records))
	for _, r := range records {
		messages = append(messages, r.toMessage())
	}
	s.log.Debug("Conversation loaded", "messages", len(messages))
	return messages, nil
}

// Close releases the database connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
