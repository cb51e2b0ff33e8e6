package assembler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

func newTestAssembler() *Assembler {
	a := New(4)
	a.now = func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) }
	return a
}

func TestNeedsTaskContext(t *testing.T) {
	assert.True(t, NeedsTaskContext("Suggest some TASKS please", false))
	assert.True(t, NeedsTaskContext("hello", true))
	assert.True(t, NeedsTaskContext("break @Task3 down", false))
	assert.False(t, NeedsTaskContext("what's the weather like?", false))
}

func TestAssembleMapsHistoryAndKeepsOriginal(t *testing.T) {
	a := newTestAssembler()
	project := &domain.Project{ID: "p1", Name: "Website", Description: "Launch the new site"}
	history := []domain.Message{
		{Sender: domain.SenderUser, Text: "hi"},
		{Sender: domain.SenderBot, Text: "hello!"},
	}

	req := a.Assemble(Input{History: history, Text: "give me tasks", Project: project})

	require.Len(t, req.Context, 3)
	assert.Equal(t, domain.RoleSystem, req.Context[0].Role)
	assert.Contains(t, req.Context[0].Content, "Website")
	assert.Contains(t, req.Context[0].Content, "2025-01-01")
	assert.Equal(t, domain.ChatEntry{Role: domain.RoleUser, Content: "hi"}, req.Context[1])
	assert.Equal(t, domain.ChatEntry{Role: domain.RoleAssistant, Content: "hello!"}, req.Context[2])

	assert.True(t, req.TaskContext)
	assert.Equal(t, "give me tasks", req.Original)
	assert.Contains(t, req.Prompt, "Project: Website")
	assert.Contains(t, req.Prompt, "Launch the new site")
	assert.Contains(t, req.Prompt, "at most 4 tasks")
	assert.Contains(t, req.Prompt, "(due: YYYY-MM-DD)")

	entries := req.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, domain.ChatEntry{Role: domain.RoleUser, Content: req.Prompt}, entries[3])

	completion := req.Completion()
	assert.Equal(t, req.Context, completion.Entries)
	assert.Equal(t, req.Prompt, completion.Message)
}

func TestAssemblePlainChatIsNotRewritten(t *testing.T) {
	req := newTestAssembler().Assemble(Input{Text: "how are you?"})

	assert.False(t, req.TaskContext)
	assert.Equal(t, "how are you?", req.Prompt)
	require.Len(t, req.Context, 1)
	assert.Contains(t, req.Context[0].Content, "No project is selected")
}

func TestAssembleIncludesReferencedTasks(t *testing.T) {
	due := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	req := newTestAssembler().Assemble(Input{
		Text:       "split @Task1 into steps",
		Project:    &domain.Project{Name: "Move"},
		Referenced: []domain.Task{{Title: "Pack boxes", Deadline: &due}},
	})

	assert.True(t, req.TaskContext)
	assert.Contains(t, req.Prompt, "- Pack boxes [open] (due: 2025-02-03)")
	assert.Contains(t, req.Prompt, "Project description: (none)")
}
