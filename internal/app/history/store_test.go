package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

type fakeChatLog struct {
	mu        sync.Mutex
	rows      map[domain.ProjectID][]domain.Message
	appendErr error
	listErr   error
	deleteErr error
	lists     int
}

func newFakeChatLog() *fakeChatLog {
	return &fakeChatLog{rows: make(map[domain.ProjectID][]domain.Message)}
}

func (f *fakeChatLog) AppendChat(_ context.Context, projectID domain.ProjectID, _ domain.OwnerEmail, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.rows[projectID] = append(f.rows[projectID], msg)
	return nil
}

func (f *fakeChatLog) ListChat(_ context.Context, projectID domain.ProjectID, _ domain.OwnerEmail) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Message(nil), f.rows[projectID]...), nil
}

func (f *fakeChatLog) DeleteChatByProject(_ context.Context, projectID domain.ProjectID, _ domain.OwnerEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.rows, projectID)
	return nil
}

func (f *fakeChatLog) DeleteChatByOwner(_ context.Context, _ domain.OwnerEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.rows = make(map[domain.ProjectID][]domain.Message)
	return nil
}

func msgAt(sender domain.Sender, text string, ts time.Time) domain.Message {
	return domain.Message{Sender: sender, Text: text, Timestamp: ts}
}

func TestAppendRoundTripAndClearProject(t *testing.T) {
	ctx := context.Background()
	remote := newFakeChatLog()
	s := New("ana@example.com", remote)

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	var want []domain.Message
	for i := 0; i < 5; i++ {
		m := msgAt(domain.SenderUser, fmt.Sprintf("msg %d", i), base.Add(time.Duration(i)*time.Second))
		want = append(want, s.Append(ctx, "p1", m))
	}
	s.Append(ctx, "p2", msgAt(domain.SenderBot, "other", base))

	got, err := s.History(ctx, "p1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, s.ClearProject(ctx, "p1"))

	got, err = s.History(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, got)

	other, err := s.History(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "other", other[0].Text)
	assert.Empty(t, remote.rows["p1"])
	assert.Len(t, remote.rows["p2"], 1)
}

func TestAppendClampsTimestamps(t *testing.T) {
	ctx := context.Background()
	s := New("ana@example.com", newFakeChatLog())
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	first := s.Append(ctx, "p1", msgAt(domain.SenderUser, "a", now.Add(time.Minute)))
	second := s.Append(ctx, "p1", msgAt(domain.SenderBot, "b", now))
	third := s.Append(ctx, "p1", domain.Message{Sender: domain.SenderUser, Text: "c"})

	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.False(t, third.Timestamp.Before(second.Timestamp))
}

func TestMirrorFailureKeepsLocalAppend(t *testing.T) {
	ctx := context.Background()
	remote := newFakeChatLog()
	remote.appendErr = errors.New("log service down")
	s := New("ana@example.com", remote)

	s.Append(ctx, "p1", domain.Message{Sender: domain.SenderUser, Text: "hello"})

	got, err := s.History(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Text)
}

func TestOutageAppendsSurviveLaterLoad(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	remote := newFakeChatLog()
	remote.rows["p1"] = []domain.Message{msgAt(domain.SenderUser, "earlier", base)}
	down := errors.New("log service down")
	remote.listErr, remote.appendErr = down, down

	s := New("ana@example.com", remote)
	s.now = func() time.Time { return base.Add(time.Minute) }

	s.Append(ctx, "p1", domain.Message{Sender: domain.SenderUser, Text: "hello"})
	s.Append(ctx, "p1", domain.Message{Sender: domain.SenderBot, Text: "Sorry, I couldn't get a reply."})

	got, err := s.History(ctx, "p1")
	require.ErrorIs(t, err, down)
	assert.Empty(t, got)

	remote.listErr, remote.appendErr = nil, nil
	got, err = s.History(ctx, "p1")
	require.NoError(t, err)

	want := []string{"earlier", "hello", "Sorry, I couldn't get a reply."}
	var texts []string
	for _, m := range got {
		texts = append(texts, m.Text)
	}
	if diff := cmp.Diff(want, texts); diff != "" {
		t.Fatalf("history after recovery (-want +got):\n%s", diff)
	}
	assert.Len(t, remote.rows["p1"], 3, "unsynced messages are mirrored after the load")
}

func TestMirroredAppendBeforeLoadIsNotDuplicated(t *testing.T) {
	ctx := context.Background()
	remote := newFakeChatLog()
	remote.listErr = errors.New("timeout")
	s := New("ana@example.com", remote)

	s.Append(ctx, "p1", domain.Message{Sender: domain.SenderUser, Text: "hello"})

	remote.listErr = nil
	got, err := s.History(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Text)
	assert.Len(t, remote.rows["p1"], 1)
}

func TestHydrationOverwritesOnce(t *testing.T) {
	ctx := context.Background()
	remote := newFakeChatLog()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	remote.rows["p1"] = []domain.Message{
		msgAt(domain.SenderUser, "persisted 1", ts),
		msgAt(domain.SenderBot, "persisted 2", ts.Add(time.Second)),
	}
	s := New("ana@example.com", remote)

	got, err := s.History(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	_, err = s.History(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.lists)
}

func TestHydrationFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	remote := newFakeChatLog()
	remote.listErr = errors.New("timeout")
	s := New("ana@example.com", remote)

	got, err := s.History(ctx, "p1")
	require.Error(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, s.Len("p1"))

	remote.listErr = nil
	remote.rows["p1"] = []domain.Message{{Sender: domain.SenderUser, Text: "late"}}
	got, err = s.History(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestEmptyProjectUsesGeneralKey(t *testing.T) {
	ctx := context.Background()
	s := New("ana@example.com", newFakeChatLog())

	s.Append(ctx, "", domain.Message{Sender: domain.SenderUser, Text: "no project"})

	got, err := s.History(ctx, domain.GeneralProject)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, s.Snapshot(), domain.GeneralProject)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	remote := newFakeChatLog()
	s := New("ana@example.com", remote)
	s.Append(ctx, "p1", domain.Message{Sender: domain.SenderUser, Text: "a"})
	s.Append(ctx, "p2", domain.Message{Sender: domain.SenderUser, Text: "b"})

	require.NoError(t, s.ClearAll(ctx))

	assert.Empty(t, s.Snapshot())
	assert.Empty(t, remote.rows)

	got, err := s.History(ctx, "p3")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClearProjectRemoteFailure(t *testing.T) {
	ctx := context.Background()
	remote := newFakeChatLog()
	s := New("ana@example.com", remote)
	s.Append(ctx, "p1", domain.Message{Sender: domain.SenderUser, Text: "a"})

	remote.deleteErr = errors.New("boom")
	err := s.ClearProject(ctx, "p1")

	require.Error(t, err)
	assert.ErrorIs(t, err, remote.deleteErr)
	assert.Equal(t, 0, s.Len("p1"))
}
