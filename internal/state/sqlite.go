package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists state in a SQLite file so pending photos survive
// restarts.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps :memory: databases coherent and avoids
	// SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_state (
			chat_id INTEGER PRIMARY KEY,
			pending_photo TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create chat_state table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, chatID int64) (ChatState, error) {
	var (
		pending string
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT pending_photo, updated_at FROM chat_state WHERE chat_id = ?`, chatID,
	).Scan(&pending, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatState{ChatID: chatID}, nil
	}
	if err != nil {
		return ChatState{}, fmt.Errorf("failed to load chat state: %w", err)
	}
	return ChatState{
		ChatID:       chatID,
		PendingPhoto: pending,
		UpdatedAt:    time.Unix(0, updated),
	}, nil
}

func (s *SQLiteStore) SetPendingPhoto(ctx context.Context, chatID int64, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_state (chat_id, pending_photo, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET pending_photo = excluded.pending_photo, updated_at = excluded.updated_at
	`, chatID, path, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save pending photo: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearPendingPhoto(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_state SET pending_photo = '', updated_at = ? WHERE chat_id = ?`,
		s.now().UnixNano(), chatID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear pending photo: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_state WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete chat state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
