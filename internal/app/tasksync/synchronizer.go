// Package tasksync keeps one owner's local task view consistent with the
// remote task store.
//
// Creates and deletes are remote-first: local state changes only after the
// store confirms. Updates are optimistic: local state changes first and the
// patch's inverse is applied if the store rejects it.
package tasksync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/farum-tasks/internal/domain"
	"github.com/PabloGalante/farum-tasks/internal/observability"
	"github.com/PabloGalante/farum-tasks/internal/syncx"
)

// DefaultBatchConcurrency bounds in-flight creates of one batch.
const DefaultBatchConcurrency = 4

type Synchronizer struct {
	owner      domain.OwnerEmail
	remote     domain.TaskStore
	batchLimit int

	taskLocks *syncx.KeyedMutex[domain.TaskID]

	mu     sync.Mutex
	tasks  map[domain.ProjectID][]domain.Task
	loaded map[domain.ProjectID]bool
}

func New(owner domain.OwnerEmail, remote domain.TaskStore, batchConcurrency int) *Synchronizer {
	if batchConcurrency <= 0 {
		batchConcurrency = DefaultBatchConcurrency
	}
	return &Synchronizer{
		owner:      owner,
		remote:     remote,
		batchLimit: batchConcurrency,
		taskLocks:  syncx.NewKeyedMutex[domain.TaskID](),
		tasks:      make(map[domain.ProjectID][]domain.Task),
		loaded:     make(map[domain.ProjectID]bool),
	}
}

func (s *Synchronizer) Owner() domain.OwnerEmail { return s.owner }

// Load replaces the project's local tasks with the remote ones. On failure
// local state is left as it was.
func (s *Synchronizer) Load(ctx context.Context, projectID domain.ProjectID) ([]domain.Task, error) {
	remote, err := s.remote.ListTasks(ctx, projectID, s.owner)
	if err != nil {
		return nil, fmt.Errorf("load tasks of %s: %w", projectID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]domain.Task, 0, len(remote))
	seen := make(map[domain.TaskID]bool, len(remote))
	for _, t := range remote {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		list = append(list, t.Clone())
	}
	sortTasks(list)
	s.tasks[projectID] = list
	s.loaded[projectID] = true
	return cloneAll(list), nil
}

// Ensure loads the project once.
func (s *Synchronizer) Ensure(ctx context.Context, projectID domain.ProjectID) error {
	s.mu.Lock()
	done := s.loaded[projectID]
	s.mu.Unlock()
	if done {
		return nil
	}
	_, err := s.Load(ctx, projectID)
	return err
}

// Tasks returns a copy of the local view, ordered by position.
func (s *Synchronizer) Tasks(projectID domain.ProjectID) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.tasks[projectID])
}

// Find returns one local task.
func (s *Synchronizer) Find(projectID domain.ProjectID, id domain.TaskID) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.tasks[projectID], id)
	if i < 0 {
		return domain.Task{}, false
	}
	return s.tasks[projectID][i].Clone(), true
}

// Create inserts one task. Nothing is added locally unless the store confirms.
func (s *Synchronizer) Create(ctx context.Context, projectID domain.ProjectID, title string, deadline *time.Time) (*domain.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domain.ErrEmptyTitle
	}
	if err := s.Ensure(ctx, projectID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	position := len(s.tasks[projectID])
	s.mu.Unlock()

	created, err := s.remote.CreateTask(ctx, domain.NewTask{
		Title:      title,
		ProjectID:  projectID,
		OwnerEmail: s.owner,
		Deadline:   deadline,
		Position:   position,
	})
	if err != nil {
		return nil, fmt.Errorf("create task %q: %w", title, err)
	}

	s.mu.Lock()
	s.insertLocked(projectID, *created)
	s.mu.Unlock()

	out := created.Clone()
	return &out, nil
}

// BatchCreate submits every candidate independently. Each confirmed task is
// inserted as soon as its confirmation arrives. The returned error wraps
// domain.ErrBatchFailed only when no candidate succeeded.
func (s *Synchronizer) BatchCreate(ctx context.Context, projectID domain.ProjectID, candidates []domain.TaskCandidate) (domain.BatchResult, error) {
	result := domain.BatchResult{Created: []domain.Task{}, Failures: []domain.BatchFailure{}}
	if len(candidates) == 0 {
		return result, nil
	}
	if err := s.Ensure(ctx, projectID); err != nil {
		return result, err
	}

	log := observability.LoggerFromContext(ctx).With(
		zap.String("project_id", string(projectID)),
		zap.String("owner", string(s.owner)),
	)

	s.mu.Lock()
	base := len(s.tasks[projectID])
	s.mu.Unlock()

	var resMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchLimit)

	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			title := strings.TrimSpace(c.Title)
			var (
				created *domain.Task
				err     error
			)
			if title == "" {
				err = domain.ErrEmptyTitle
			} else {
				created, err = s.remote.CreateTask(gctx, domain.NewTask{
					Title:      title,
					ProjectID:  projectID,
					OwnerEmail: s.owner,
					Deadline:   c.Deadline,
					Position:   base + i,
				})
			}

			if err != nil {
				log.Warn("batch item failed", zap.Int("index", i), zap.String("title", title), zap.Error(err))
				resMu.Lock()
				result.Failures = append(result.Failures, domain.BatchFailure{Index: i, Title: c.Title, Err: err})
				resMu.Unlock()
				// A failed item never cancels the others.
				return nil
			}

			s.mu.Lock()
			s.insertLocked(projectID, *created)
			s.mu.Unlock()

			resMu.Lock()
			result.Created = append(result.Created, created.Clone())
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Failures, func(a, b int) bool { return result.Failures[a].Index < result.Failures[b].Index })
	sortTasks(result.Created)

	log.Info("batch create finished",
		zap.Int("requested", len(candidates)),
		zap.Int("created", len(result.Created)),
		zap.Int("failed", len(result.Failures)),
	)

	if len(result.Created) == 0 {
		return result, fmt.Errorf("%w: %d of %d failed", domain.ErrBatchFailed, len(result.Failures), len(candidates))
	}
	return result, nil
}

// Update applies patch optimistically. On remote failure the inverse patch
// restores the prior values of the fields that still hold the patched value.
func (s *Synchronizer) Update(ctx context.Context, projectID domain.ProjectID, id domain.TaskID, patch domain.TaskPatch) (domain.Task, error) {
	return s.update(ctx, projectID, id, func(domain.Task) (domain.TaskPatch, error) { return patch, nil })
}

func (s *Synchronizer) SetCompleted(ctx context.Context, projectID domain.ProjectID, id domain.TaskID, completed bool) (domain.Task, error) {
	return s.Update(ctx, projectID, id, domain.TaskPatch{Completed: &completed})
}

// ToggleCompleted flips the completion flag of the task as it is locally.
func (s *Synchronizer) ToggleCompleted(ctx context.Context, projectID domain.ProjectID, id domain.TaskID) (domain.Task, error) {
	return s.update(ctx, projectID, id, func(cur domain.Task) (domain.TaskPatch, error) {
		flipped := !cur.Completed
		return domain.TaskPatch{Completed: &flipped}, nil
	})
}

func (s *Synchronizer) update(ctx context.Context, projectID domain.ProjectID, id domain.TaskID, build func(domain.Task) (domain.TaskPatch, error)) (domain.Task, error) {
	if err := s.Ensure(ctx, projectID); err != nil {
		return domain.Task{}, err
	}
	unlock, err := s.taskLocks.Lock(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	defer unlock()

	s.mu.Lock()
	i := indexOf(s.tasks[projectID], id)
	if i < 0 {
		s.mu.Unlock()
		return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	prev := s.tasks[projectID][i].Clone()
	patch, err := build(prev)
	if err != nil {
		s.mu.Unlock()
		return domain.Task{}, err
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		s.mu.Unlock()
		return domain.Task{}, domain.ErrEmptyTitle
	}
	if patch.IsEmpty() {
		s.mu.Unlock()
		return prev, nil
	}
	inverse := patch.Inverse(prev)
	next := prev.Clone()
	patch.Apply(&next)
	s.tasks[projectID][i] = next
	s.mu.Unlock()

	if err := s.remote.UpdateTask(ctx, id, s.owner, patch); err != nil {
		s.compensate(projectID, id, patch, inverse)
		observability.LoggerFromContext(ctx).Warn("task update rolled back",
			zap.String("task_id", string(id)),
			zap.Error(err),
		)
		return prev, fmt.Errorf("update task %s: %w", id, err)
	}
	return next.Clone(), nil
}

// compensate applies inverse only where the optimistic values are still in place.
func (s *Synchronizer) compensate(projectID domain.ProjectID, id domain.TaskID, patch, inverse domain.TaskPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.tasks[projectID], id)
	if i < 0 {
		return
	}
	cur := s.tasks[projectID][i]
	if !patch.Holds(cur) {
		return
	}
	inverse.Apply(&cur)
	s.tasks[projectID][i] = cur
}

// Delete removes the task remotely, then locally. A failed remote delete
// leaves the task in place.
func (s *Synchronizer) Delete(ctx context.Context, projectID domain.ProjectID, id domain.TaskID) error {
	if err := s.Ensure(ctx, projectID); err != nil {
		return err
	}
	unlock, err := s.taskLocks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := s.Find(projectID, id); !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err := s.remote.DeleteTask(ctx, id, s.owner); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.tasks[projectID]
	if i := indexOf(list, id); i >= 0 {
		s.tasks[projectID] = append(list[:i:i], list[i+1:]...)
	}
	return nil
}

// DeleteAll removes every task of the project, remote first.
func (s *Synchronizer) DeleteAll(ctx context.Context, projectID domain.ProjectID) error {
	if err := s.remote.DeleteProjectTasks(ctx, projectID, s.owner); err != nil {
		return fmt.Errorf("delete tasks of %s: %w", projectID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[projectID] = nil
	s.loaded[projectID] = true
	return nil
}

// Reorder sets positions to follow order, optimistically. order must be a
// permutation of the project's task ids.
func (s *Synchronizer) Reorder(ctx context.Context, projectID domain.ProjectID, order []domain.TaskID) ([]domain.Task, error) {
	if err := s.Ensure(ctx, projectID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	list := s.tasks[projectID]
	if !isPermutation(list, order) {
		s.mu.Unlock()
		return nil, domain.ErrInvalidOrder
	}
	prev := make(map[domain.TaskID]int, len(list))
	for _, t := range list {
		prev[t.ID] = t.Position
	}
	want := make(map[domain.TaskID]int, len(order))
	for pos, id := range order {
		want[id] = pos
	}
	applyPositions(list, want, nil)
	s.mu.Unlock()

	if err := s.remote.ReorderTasks(ctx, s.owner, order); err != nil {
		s.mu.Lock()
		applyPositions(s.tasks[projectID], prev, want)
		s.mu.Unlock()
		return s.Tasks(projectID), fmt.Errorf("reorder tasks of %s: %w", projectID, err)
	}
	return s.Tasks(projectID), nil
}

// applyPositions sets positions from target. With guard set, a task is only
// touched while its position still equals guard's value.
func applyPositions(list []domain.Task, target, guard map[domain.TaskID]int) {
	for i := range list {
		pos, ok := target[list[i].ID]
		if !ok {
			continue
		}
		if guard != nil && list[i].Position != guard[list[i].ID] {
			continue
		}
		list[i].Position = pos
	}
	sortTasks(list)
}

func (s *Synchronizer) insertLocked(projectID domain.ProjectID, t domain.Task) {
	list := s.tasks[projectID]
	if i := indexOf(list, t.ID); i >= 0 {
		list[i] = t.Clone()
	} else {
		list = append(list, t.Clone())
	}
	sortTasks(list)
	s.tasks[projectID] = list
}

func indexOf(list []domain.Task, id domain.TaskID) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func isPermutation(list []domain.Task, order []domain.TaskID) bool {
	if len(list) != len(order) {
		return false
	}
	seen := make(map[domain.TaskID]bool, len(order))
	for _, id := range order {
		if seen[id] || indexOf(list, id) < 0 {
			return false
		}
		seen[id] = true
	}
	return true
}

func sortTasks(list []domain.Task) {
	sort.SliceStable(list, func(a, b int) bool {
		if list[a].Position != list[b].Position {
			return list[a].Position < list[b].Position
		}
		return list[a].CreatedAt.Before(list[b].CreatedAt)
	})
}

func cloneAll(list []domain.Task) []domain.Task {
	out := make([]domain.Task, len(list))
	for i, t := range list {
		out[i] = t.Clone()
	}
	return out
}
