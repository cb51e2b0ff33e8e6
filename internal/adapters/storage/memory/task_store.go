package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

// TaskStore is an in-memory domain.TaskStore.
// It is NOT persistent and is only suitable for development / local mode.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[domain.TaskID]domain.Task
	now   func() time.Time
}

func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[domain.TaskID]domain.Task),
		now:   time.Now,
	}
}

func (s *TaskStore) ListTasks(_ context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Task{}
	for _, t := range s.tasks {
		if t.ProjectID == projectID && t.OwnerEmail == owner {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *TaskStore) CreateTask(_ context.Context, in domain.NewTask) (*domain.Task, error) {
	if in.Title == "" {
		return nil, domain.ErrEmptyTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := domain.Task{
		ID:         domain.TaskID(uuid.NewString()),
		Title:      in.Title,
		ProjectID:  in.ProjectID,
		OwnerEmail: in.OwnerEmail,
		CreatedAt:  s.now().UTC(),
		Deadline:   in.Deadline,
		Position:   in.Position,
	}
	t = t.Clone()
	s.tasks[t.ID] = t

	out := t.Clone()
	return &out, nil
}

func (s *TaskStore) UpdateTask(_ context.Context, id domain.TaskID, owner domain.OwnerEmail, patch domain.TaskPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.OwnerEmail != owner {
		return domain.ErrNotFound
	}
	patch.Apply(&t)
	s.tasks[id] = t
	return nil
}

func (s *TaskStore) DeleteTask(_ context.Context, id domain.TaskID, owner domain.OwnerEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.OwnerEmail != owner {
		return domain.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *TaskStore) DeleteProjectTasks(_ context.Context, projectID domain.ProjectID, owner domain.OwnerEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.tasks {
		if t.ProjectID == projectID && t.OwnerEmail == owner {
			delete(s.tasks, id)
		}
	}
	return nil
}

// ReorderTasks sets each listed task's position to its index. Tasks of other
// owners are left alone.
func (s *TaskStore) ReorderTasks(_ context.Context, owner domain.OwnerEmail, order []domain.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pos, id := range order {
		t, ok := s.tasks[id]
		if !ok || t.OwnerEmail != owner {
			return domain.ErrNotFound
		}
		t.Position = pos
		s.tasks[id] = t
	}
	return nil
}
