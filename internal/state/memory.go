package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps state in a map; it is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[int64]ChatState
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats: make(map[int64]ChatState),
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, chatID int64) (ChatState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.chats[chatID]
	if !ok {
		return ChatState{ChatID: chatID}, nil
	}
	return st, nil
}

func (s *MemoryStore) SetPendingPhoto(_ context.Context, chatID int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID] = ChatState{ChatID: chatID, PendingPhoto: path, UpdatedAt: s.now()}
	return nil
}

func (s *MemoryStore) ClearPendingPhoto(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	st.PendingPhoto = ""
	st.UpdatedAt = s.now()
	s.chats[chatID] = st
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
