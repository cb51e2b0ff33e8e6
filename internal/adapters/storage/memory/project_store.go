package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

type projectKey struct {
	owner domain.OwnerEmail
	id    domain.ProjectID
}

type ProjectStore struct {
	mu       sync.RWMutex
	projects map[projectKey]domain.Project
}

func NewProjectStore() *ProjectStore {
	return &ProjectStore{
		projects: make(map[projectKey]domain.Project),
	}
}

func (s *ProjectStore) GetProject(_ context.Context, owner domain.OwnerEmail, id domain.ProjectID) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectKey{owner: owner, id: id}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (s *ProjectStore) SaveProject(_ context.Context, p *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects[projectKey{owner: p.OwnerEmail, id: p.ID}] = *p
	return nil
}
