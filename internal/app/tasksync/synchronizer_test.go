package tasksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

const owner domain.OwnerEmail = "ana@example.com"

var errRemote = errors.New("task store unavailable")

type fakeTaskStore struct {
	mu        sync.Mutex
	rows      map[domain.TaskID]domain.Task
	seq       int
	failTitle map[string]bool
	updateErr error
	deleteErr error
	orderErr  error
	listErr   error
	updates   int
	// failUpdate fails the update with that 1-based sequence number.
	failUpdate map[int]bool
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		rows:      make(map[domain.TaskID]domain.Task),
		failTitle: make(map[string]bool),
	}
}

func (f *fakeTaskStore) ListTasks(_ context.Context, projectID domain.ProjectID, o domain.OwnerEmail) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Task
	for _, t := range f.rows {
		if t.ProjectID == projectID && t.OwnerEmail == o {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskStore) CreateTask(_ context.Context, in domain.NewTask) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTitle[in.Title] {
		return nil, domain.NewNetworkError("tasks", "create", errRemote)
	}
	f.seq++
	t := domain.Task{
		ID:         domain.TaskID(fmt.Sprintf("t%d", f.seq)),
		Title:      in.Title,
		ProjectID:  in.ProjectID,
		OwnerEmail: in.OwnerEmail,
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, f.seq, 0, time.UTC),
		Deadline:   in.Deadline,
		Position:   in.Position,
	}
	f.rows[t.ID] = t
	return &t, nil
}

func (f *fakeTaskStore) UpdateTask(_ context.Context, id domain.TaskID, o domain.OwnerEmail, patch domain.TaskPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.failUpdate[f.updates] {
		return domain.NewNetworkError("tasks", "update", errRemote)
	}
	t, ok := f.rows[id]
	if !ok || t.OwnerEmail != o {
		return domain.ErrNotFound
	}
	patch.Apply(&t)
	f.rows[id] = t
	return nil
}

func (f *fakeTaskStore) DeleteTask(_ context.Context, id domain.TaskID, o domain.OwnerEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	t, ok := f.rows[id]
	if !ok || t.OwnerEmail != o {
		return domain.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeTaskStore) DeleteProjectTasks(_ context.Context, projectID domain.ProjectID, o domain.OwnerEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for id, t := range f.rows {
		if t.ProjectID == projectID && t.OwnerEmail == o {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *fakeTaskStore) ReorderTasks(_ context.Context, o domain.OwnerEmail, order []domain.TaskID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return f.orderErr
	}
	for pos, id := range order {
		t := f.rows[id]
		t.Position = pos
		f.rows[id] = t
	}
	return nil
}

func seeded(t *testing.T, titles ...string) (*Synchronizer, *fakeTaskStore) {
	t.Helper()
	store := newFakeTaskStore()
	s := New(owner, store, 2)
	for _, title := range titles {
		_, err := s.Create(context.Background(), "p1", title, nil)
		require.NoError(t, err)
	}
	return s, store
}

func TestBatchCreatePartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeTaskStore()
	store.failTitle["Item 2"] = true
	s := New(owner, store, 3)

	res, err := s.BatchCreate(ctx, "p1", []domain.TaskCandidate{
		{Title: "Item 1"},
		{Title: "Item 2"},
		{Title: "Item 3"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount())
	assert.True(t, res.Partial())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, "Item 2", res.Failures[0].Title)
	assert.True(t, domain.IsNetwork(res.Failures[0].Err))

	local := s.Tasks("p1")
	require.Len(t, local, 2)
	assert.Equal(t, "Item 1", local[0].Title)
	assert.Equal(t, "Item 3", local[1].Title)
}

func TestBatchCreateAllFail(t *testing.T) {
	store := newFakeTaskStore()
	store.failTitle["a"] = true
	store.failTitle["b"] = true
	s := New(owner, store, 0)

	res, err := s.BatchCreate(context.Background(), "p1", []domain.TaskCandidate{{Title: "a"}, {Title: "b"}})

	require.ErrorIs(t, err, domain.ErrBatchFailed)
	assert.Equal(t, 0, res.SuccessCount())
	assert.Len(t, res.Failures, 2)
	assert.Empty(t, s.Tasks("p1"))
}

func TestBatchCreateEmpty(t *testing.T) {
	s := New(owner, newFakeTaskStore(), 0)
	res, err := s.BatchCreate(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Failures)
}

func TestCreateFailureLeavesStateUnchanged(t *testing.T) {
	s, store := seeded(t, "first")
	store.failTitle["second"] = true

	_, err := s.Create(context.Background(), "p1", "second", nil)

	require.Error(t, err)
	assert.Len(t, s.Tasks("p1"), 1)
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	s := New(owner, newFakeTaskStore(), 0)
	_, err := s.Create(context.Background(), "p1", "   ", nil)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestToggleRollbackOnRemoteFailure(t *testing.T) {
	s, store := seeded(t, "Write brief")
	id := s.Tasks("p1")[0].ID
	store.updateErr = errRemote

	_, err := s.ToggleCompleted(context.Background(), "p1", id)

	require.ErrorIs(t, err, errRemote)
	got, ok := s.Find("p1", id)
	require.True(t, ok)
	assert.False(t, got.Completed)
	assert.Equal(t, 1, store.updates)
}

func TestToggleSuccess(t *testing.T) {
	s, store := seeded(t, "Write brief")
	id := s.Tasks("p1")[0].ID

	updated, err := s.ToggleCompleted(context.Background(), "p1", id)
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.True(t, store.rows[id].Completed)

	updated, err = s.ToggleCompleted(context.Background(), "p1", id)
	require.NoError(t, err)
	assert.False(t, updated.Completed)
}

func TestConcurrentTogglesAreSerialized(t *testing.T) {
	const n = 50
	s, store := seeded(t, "Write brief")
	id := s.Tasks("p1")[0].ID

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ToggleCompleted(context.Background(), "p1", id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	local, ok := s.Find("p1", id)
	require.True(t, ok)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, n, store.updates)
	assert.Equal(t, store.rows[id].Completed, local.Completed)
	assert.False(t, local.Completed)
}

func TestFailedToggleBetweenTogglesKeepsStateConsistent(t *testing.T) {
	ctx := context.Background()
	s, store := seeded(t, "Write brief")
	id := s.Tasks("p1")[0].ID
	store.failUpdate = map[int]bool{2: true}

	got, err := s.ToggleCompleted(ctx, "p1", id)
	require.NoError(t, err)
	assert.True(t, got.Completed)

	_, err = s.ToggleCompleted(ctx, "p1", id)
	require.True(t, domain.IsNetwork(err))
	local, _ := s.Find("p1", id)
	assert.True(t, local.Completed, "failed toggle rolls back to the confirmed value")

	got, err = s.ToggleCompleted(ctx, "p1", id)
	require.NoError(t, err)
	assert.False(t, got.Completed)
	assert.False(t, store.rows[id].Completed)
}

func TestConcurrentTogglesWithFailuresMatchRemote(t *testing.T) {
	const n = 20
	s, store := seeded(t, "Write brief")
	id := s.Tasks("p1")[0].ID
	store.failUpdate = map[int]bool{5: true, 11: true}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ToggleCompleted(context.Background(), "p1", id); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	local, ok := s.Find("p1", id)
	require.True(t, ok)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, n, store.updates)
	assert.Equal(t, 2, failed)
	assert.Equal(t, store.rows[id].Completed, local.Completed)
	assert.False(t, local.Completed, "eighteen confirmed flips end where they started")
}

func TestUpdateRollbackRestoresExactDeadline(t *testing.T) {
	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeTaskStore()
	s := New(owner, store, 0)
	created, err := s.Create(context.Background(), "p1", "Ship", &due)
	require.NoError(t, err)

	store.updateErr = errRemote
	title := "Ship v2"
	_, err = s.Update(context.Background(), "p1", created.ID, domain.TaskPatch{Title: &title, SetDeadline: true})
	require.Error(t, err)

	got, _ := s.Find("p1", created.ID)
	assert.Equal(t, "Ship", got.Title)
	require.NotNil(t, got.Deadline)
	assert.True(t, got.Deadline.Equal(due))
}

func TestUpdateUnknownTask(t *testing.T) {
	s, _ := seeded(t, "a")
	_, err := s.SetCompleted(context.Background(), "p1", "missing", true)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteIsRemoteFirst(t *testing.T) {
	s, store := seeded(t, "a", "b")
	id := s.Tasks("p1")[0].ID

	store.deleteErr = errRemote
	require.Error(t, s.Delete(context.Background(), "p1", id))
	assert.Len(t, s.Tasks("p1"), 2)

	store.deleteErr = nil
	require.NoError(t, s.Delete(context.Background(), "p1", id))
	local := s.Tasks("p1")
	require.Len(t, local, 1)
	assert.Equal(t, "b", local[0].Title)
}

func TestDeleteAll(t *testing.T) {
	s, store := seeded(t, "a", "b")
	require.NoError(t, s.DeleteAll(context.Background(), "p1"))
	assert.Empty(t, s.Tasks("p1"))
	assert.Empty(t, store.rows)
}

func TestReorder(t *testing.T) {
	s, store := seeded(t, "a", "b", "c")
	list := s.Tasks("p1")
	order := []domain.TaskID{list[2].ID, list[0].ID, list[1].ID}

	got, err := s.Reorder(context.Background(), "p1", order)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, titlesOf(got))

	store.orderErr = errRemote
	got, err = s.Reorder(context.Background(), "p1", []domain.TaskID{list[0].ID, list[1].ID, list[2].ID})
	require.Error(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, titlesOf(got))

	_, err = s.Reorder(context.Background(), "p1", []domain.TaskID{list[0].ID})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestLoadFailureKeepsState(t *testing.T) {
	s, store := seeded(t, "a")
	store.listErr = errRemote

	_, err := s.Load(context.Background(), "p1")
	require.Error(t, err)
	assert.Len(t, s.Tasks("p1"), 1)
}

func titlesOf(list []domain.Task) []string {
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.Title
	}
	return out
}
