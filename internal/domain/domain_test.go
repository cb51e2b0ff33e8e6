package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

func TestParseReferences(t *testing.T) {
	refs := domain.ParseReferences("complete @Task2 and @task10, then @Task2 again; ignore @Taskbar")
	require.Len(t, refs, 2)
	assert.Equal(t, domain.Reference{Raw: "@Task2", Index: 2}, refs[0])
	assert.Equal(t, domain.Reference{Raw: "@task10", Index: 10}, refs[1])

	assert.True(t, domain.HasReferences("done with @Task1"))
	assert.False(t, domain.HasReferences("no markers here"))
}

func TestTaskPatchInverseRestoresPriorValues(t *testing.T) {
	due := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	task := domain.Task{Title: "old", Deadline: &due, Completed: false}

	newTitle := "new"
	done := true
	patch := domain.TaskPatch{Title: &newTitle, SetDeadline: true, Completed: &done}

	inverse := patch.Inverse(task)
	patch.Apply(&task)
	assert.Equal(t, "new", task.Title)
	assert.Nil(t, task.Deadline)
	assert.True(t, task.Completed)
	assert.True(t, patch.Holds(task))

	inverse.Apply(&task)
	assert.Equal(t, "old", task.Title)
	require.NotNil(t, task.Deadline)
	assert.True(t, task.Deadline.Equal(due))
	assert.False(t, task.Completed)
	assert.False(t, patch.Holds(task))
}

func TestTaskCloneDoesNotShareDeadline(t *testing.T) {
	due := time.Now()
	orig := domain.Task{Deadline: &due}
	clone := orig.Clone()
	*clone.Deadline = clone.Deadline.Add(time.Hour)
	assert.True(t, orig.Deadline.Equal(due))
}

func TestNetworkError(t *testing.T) {
	assert.NoError(t, domain.NewNetworkError("tasks", "create", nil))
	assert.ErrorIs(t, domain.NewNetworkError("tasks", "get", domain.ErrNotFound), domain.ErrNotFound)
	assert.False(t, domain.IsNetwork(domain.NewNetworkError("tasks", "get", domain.ErrNotFound)))

	cause := errors.New("connection refused")
	err := fmt.Errorf("sync: %w", domain.NewNetworkError("tasks", "create", cause))
	assert.True(t, domain.IsNetwork(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "tasks create: connection refused")
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, 1, 10, 0, 0, 0, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "2025-01-09T23:00:00.000Z", domain.FormatTimestamp(ts))
	assert.Nil(t, domain.FormatDeadline(nil))
	assert.Equal(t, domain.GeneralProject, domain.NormalizeProject(""))
}

func TestBatchResultCounts(t *testing.T) {
	r := domain.BatchResult{
		Created:  []domain.Task{{ID: "a"}, {ID: "b"}},
		Failures: []domain.BatchFailure{{Index: 1, Title: "x"}},
	}
	assert.Equal(t, 2, r.SuccessCount())
	assert.True(t, r.Partial())
	assert.False(t, domain.BatchResult{Created: r.Created}.Partial())
}
