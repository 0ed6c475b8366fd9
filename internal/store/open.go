package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// Driver names a storage backend.
type Driver string

const (
	// DriverBadger stores messages in an embedded BadgerDB directory.
	DriverBadger Driver = "badger"
	// DriverSQLite stores messages in a SQLite file.
	DriverSQLite Driver = "sqlite"
)

// Store is a message store that owns its database.
type Store interface {
	Append(ctx context.Context, m chat.Message) (chat.Message, error)
	Conversation(ctx context.Context, a, b string) ([]chat.Message, error)
	Close() error
}

// Open opens the backend named by driver at path.
func Open(driver Driver, path string, log *slog.Logger) (Store, error) {
	switch driver {
	case DriverBadger:
		db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, fmt.Errorf("database opening failed: %w", err)
		}
		return NewBadgerStore(db, log), nil
	case DriverSQLite:
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLStore(db, log)
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
