package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

type chatKey struct {
	project domain.ProjectID
	owner   domain.OwnerEmail
}

// ChatLogStore is an append-only in-memory domain.ChatLogStore.
type ChatLogStore struct {
	mu       sync.RWMutex
	messages map[chatKey][]domain.Message
}

func NewChatLogStore() *ChatLogStore {
	return &ChatLogStore{
		messages: make(map[chatKey][]domain.Message),
	}
}

func (s *ChatLogStore) AppendChat(_ context.Context, projectID domain.ProjectID, owner domain.OwnerEmail, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := chatKey{project: projectID, owner: owner}
	s.messages[k] = append(s.messages[k], msg)
	return nil
}

func (s *ChatLogStore) ListChat(_ context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.Message{}, s.messages[chatKey{project: projectID, owner: owner}]...), nil
}

func (s *ChatLogStore) DeleteChatByProject(_ context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, chatKey{project: projectID, owner: owner})
	return nil
}

func (s *ChatLogStore) DeleteChatByOwner(_ context.Context, owner domain.OwnerEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.messages {
		if k.owner == owner {
			delete(s.messages, k)
		}
	}
	return nil
}
