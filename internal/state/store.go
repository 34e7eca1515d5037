// Package state keeps per-chat settings between updates.
package state

import (
	"context"
	"fmt"
	"time"
)

// ChatState is what the bot remembers about one chat.
type ChatState struct {
	ChatID int64

	// PendingPhoto is the temp file of the last photo awaiting an action.
	PendingPhoto string

	UpdatedAt time.Time
}

// Store persists ChatState. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the chat's state; an unknown chat yields a zero state.
	Get(ctx context.Context, chatID int64) (ChatState, error)
	SetPendingPhoto(ctx context.Context, chatID int64, path string) error
	ClearPendingPhoto(ctx context.Context, chatID int64) error
	Delete(ctx context.Context, chatID int64) error
	Close() error
}

// Open returns the store for driver ("memory" or "sqlite").
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown state driver %q", driver)
	}
}
