package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

const owner domain.OwnerEmail = "ana@example.com"

func createTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "farum.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	due := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	a, err := s.CreateTask(ctx, domain.NewTask{Title: "Write brief", ProjectID: "p1", OwnerEmail: owner, Deadline: &due})
	require.NoError(t, err)
	b, err := s.CreateTask(ctx, domain.NewTask{Title: "Review code", ProjectID: "p1", OwnerEmail: owner, Position: 1})
	require.NoError(t, err)

	list, err := s.ListTasks(ctx, "p1", owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	if diff := cmp.Diff(*a, list[0]); diff != "" {
		t.Fatalf("task mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, list[1].Deadline)

	title := "Write the brief"
	done := true
	require.NoError(t, s.UpdateTask(ctx, a.ID, owner, domain.TaskPatch{Title: &title, Completed: &done, SetDeadline: true}))
	list, _ = s.ListTasks(ctx, "p1", owner)
	assert.Equal(t, "Write the brief", list[0].Title)
	assert.True(t, list[0].Completed)
	assert.Nil(t, list[0].Deadline)

	require.NoError(t, s.ReorderTasks(ctx, owner, []domain.TaskID{b.ID, a.ID}))
	list, _ = s.ListTasks(ctx, "p1", owner)
	assert.Equal(t, b.ID, list[0].ID)

	require.NoError(t, s.DeleteTask(ctx, a.ID, owner))
	list, _ = s.ListTasks(ctx, "p1", owner)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteProjectTasks(ctx, "p1", owner))
	list, _ = s.ListTasks(ctx, "p1", owner)
	assert.Empty(t, list)
}

func TestMutationsAreOwnerScoped(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	a, err := s.CreateTask(ctx, domain.NewTask{Title: "a", ProjectID: "p1", OwnerEmail: owner})
	require.NoError(t, err)

	done := true
	assert.ErrorIs(t, s.UpdateTask(ctx, a.ID, "bob@example.com", domain.TaskPatch{Completed: &done}), domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTask(ctx, a.ID, "bob@example.com"), domain.ErrNotFound)
	assert.ErrorIs(t, s.ReorderTasks(ctx, "bob@example.com", []domain.TaskID{a.ID}), domain.ErrNotFound)

	list, err := s.ListTasks(ctx, "p1", owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Completed)
}

func TestChatLogOrder(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	want := []domain.Message{
		{Sender: domain.SenderUser, Text: "one", Timestamp: base},
		{Sender: domain.SenderBot, Text: "two", Timestamp: base},
		{Sender: domain.SenderUser, Text: "three", Timestamp: base.Add(500 * time.Millisecond)},
		{Sender: domain.SenderBot, Text: "four", Timestamp: base.Add(time.Second)},
	}
	for _, m := range want {
		require.NoError(t, s.AppendChat(ctx, "p1", owner, m))
	}
	require.NoError(t, s.AppendChat(ctx, "p2", owner, domain.Message{Sender: domain.SenderUser, Text: "other", Timestamp: base}))

	got, err := s.ListChat(ctx, "p1", owner)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("chat mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, s.DeleteChatByProject(ctx, "p1", owner))
	got, _ = s.ListChat(ctx, "p1", owner)
	assert.Empty(t, got)
	got, _ = s.ListChat(ctx, "p2", owner)
	assert.Len(t, got, 1)

	require.NoError(t, s.DeleteChatByOwner(ctx, owner))
	got, _ = s.ListChat(ctx, "p2", owner)
	assert.Empty(t, got)
}

func TestProjects(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.GetProject(ctx, owner, "p1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SaveProject(ctx, &domain.Project{ID: "p1", OwnerEmail: owner, Name: "Site"}))
	require.NoError(t, s.SaveProject(ctx, &domain.Project{ID: "p1", OwnerEmail: owner, Name: "Site v2", Description: "d"}))

	p, err := s.GetProject(ctx, owner, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Site v2", p.Name)
	assert.Equal(t, "d", p.Description)
}
