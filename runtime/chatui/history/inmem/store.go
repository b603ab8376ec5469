// Package inmem provides an in-memory implementation of history.Store.
//
// It is intended for tests and local development. Production deployments should
// use a durable implementation (for example features/history/mongo).
package inmem

import (
	"context"
	"sync"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/chatui/history"
)

// Store is an in-memory implementation of history.Store.
// It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	chats map[string][]*model.Message
}

// New returns an empty Store.
func New() *Store {
	return &Store{chats: make(map[string][]*model.Message)}
}

// Load implements history.Store.
func (s *Store) Load(_ context.Context, chatID string) ([]*model.Message, error) {
	if chatID == "" {
		return nil, history.ErrChatIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.chats[chatID]
	if len(msgs) == 0 {
		return nil, nil
	}
	return append([]*model.Message(nil), msgs...), nil
}

// Append implements history.Store.
func (s *Store) Append(_ context.Context, chatID string, msgs ...*model.Message) error {
	if chatID == "" {
		return history.ErrChatIDRequired
	}
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m != nil {
			s.chats[chatID] = append(s.chats[chatID], m)
		}
	}
	return nil
}

// Chats returns the ids of the chats with at least one message.
func (s *Store) Chats() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.chats))
	for id := range s.chats {
		ids = append(ids, id)
	}
	return ids
}
