// Package memory holds a non-durable ConversationStore used in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"assistant-telegram-bot/internal/domain"
)

type Store struct {
	mu            sync.Mutex
	nextID        int64
	conversations map[int64][]domain.Message
	now           func() time.Time
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[int64][]domain.Message),
		now:           time.Now,
	}
}

func (s *Store) AppendMessage(_ context.Context, userID int64, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(userID, role, content)
	return nil
}

func (s *Store) History(_ context.Context, userID int64, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 0 {
		limit = 0
	}

	history := s.conversations[userID]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]domain.Message(nil), history...), nil
}

func (s *Store) ClearHistory(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, userID)
	return nil
}

func (s *Store) SetSystemPrompt(_ context.Context, userID int64, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.conversations[userID]
	kept := history[:0:0]
	for _, m := range history {
		if m.Role != domain.RoleSystem {
			kept = append(kept, m)
		}
	}
	s.conversations[userID] = kept
	s.append(userID, domain.RoleSystem, prompt)
	return nil
}

func (s *Store) SystemPrompt(_ context.Context, userID int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.conversations[userID]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleSystem {
			return history[i].Content, true, nil
		}
	}
	return "", false, nil
}

// append assumes the lock is held.
func (s *Store) append(userID int64, role, content string) {
	s.nextID++
	s.conversations[userID] = append(s.conversations[userID], domain.Message{
		ID:        s.nextID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})
}
