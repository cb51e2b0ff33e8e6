// Package history keeps the ordered per-project chat transcript of one owner
// and mirrors it to the remote chat log.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PabloGalante/farum-tasks/internal/domain"
	"github.com/PabloGalante/farum-tasks/internal/observability"
)

type Store struct {
	owner  domain.OwnerEmail
	remote domain.ChatLogStore
	now    func() time.Time

	mu       sync.Mutex
	logs     domain.ChatHistory
	hydrated map[domain.ProjectID]bool
	// unsynced holds appends made before the project was loaded whose mirror
	// is not confirmed. A later load keeps them after the remote messages.
	unsynced map[domain.ProjectID][]domain.Message
	// clearedAll makes every project count as hydrated after ClearAll.
	clearedAll bool
}

func New(owner domain.OwnerEmail, remote domain.ChatLogStore) *Store {
	return &Store{
		owner:    owner,
		remote:   remote,
		now:      time.Now,
		logs:     make(domain.ChatHistory),
		hydrated: make(map[domain.ProjectID]bool),
		unsynced: make(map[domain.ProjectID][]domain.Message),
	}
}

func (s *Store) Owner() domain.OwnerEmail { return s.owner }

// Append adds msg to the end of the project's log and mirrors it remotely.
// The returned message carries the timestamp actually stored. A mirror
// failure is logged and never undoes the local append.
func (s *Store) Append(ctx context.Context, projectID domain.ProjectID, msg domain.Message) domain.Message {
	projectID = domain.NormalizeProject(projectID)
	log := observability.LoggerFromContext(ctx).With(
		zap.String("project_id", string(projectID)),
		zap.String("owner", string(s.owner)),
	)

	if err := s.hydrate(ctx, projectID); err != nil {
		log.Warn("history hydration before append failed", zap.Error(err))
	}

	s.mu.Lock()
	msgs := s.logs[projectID]
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	if n := len(msgs); n > 0 && msg.Timestamp.Before(msgs[n-1].Timestamp) {
		msg.Timestamp = msgs[n-1].Timestamp
	}
	s.logs[projectID] = append(msgs, msg)
	early := !s.isHydrated(projectID)
	if early {
		s.unsynced[projectID] = append(s.unsynced[projectID], msg)
	}
	s.mu.Unlock()

	if err := s.remote.AppendChat(ctx, projectID, s.owner, msg); err != nil {
		log.Error("failed to mirror chat message", zap.String("sender", string(msg.Sender)), zap.Error(err))
		return msg
	}
	if early {
		s.mu.Lock()
		s.unsynced[projectID] = without(s.unsynced[projectID], msg)
		s.mu.Unlock()
	}
	return msg
}

// History returns a copy of the project's log, loading it from the remote
// chat log on first access. A failed load leaves local state untouched.
func (s *Store) History(ctx context.Context, projectID domain.ProjectID) ([]domain.Message, error) {
	projectID = domain.NormalizeProject(projectID)
	if err := s.hydrate(ctx, projectID); err != nil {
		return []domain.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message{}, s.logs[projectID]...), nil
}

// Len returns the number of locally held messages for the project.
func (s *Store) Len(projectID domain.ProjectID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs[domain.NormalizeProject(projectID)])
}

// Snapshot copies every locally held log.
func (s *Store) Snapshot() domain.ChatHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(domain.ChatHistory, len(s.logs))
	for id, msgs := range s.logs {
		out[id] = append([]domain.Message(nil), msgs...)
	}
	return out
}

// ClearProject removes only the given project's log, locally then remotely.
func (s *Store) ClearProject(ctx context.Context, projectID domain.ProjectID) error {
	projectID = domain.NormalizeProject(projectID)

	s.mu.Lock()
	delete(s.logs, projectID)
	delete(s.unsynced, projectID)
	s.hydrated[projectID] = true
	s.mu.Unlock()

	if err := s.remote.DeleteChatByProject(ctx, projectID, s.owner); err != nil {
		return fmt.Errorf("clear history of %s: %w", projectID, err)
	}
	return nil
}

// ClearAll removes every log of the owner, locally then remotely.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	s.logs = make(domain.ChatHistory)
	s.hydrated = make(map[domain.ProjectID]bool)
	s.unsynced = make(map[domain.ProjectID][]domain.Message)
	s.clearedAll = true
	s.mu.Unlock()

	if err := s.remote.DeleteChatByOwner(ctx, s.owner); err != nil {
		return fmt.Errorf("clear all history: %w", err)
	}
	return nil
}

func (s *Store) isHydrated(projectID domain.ProjectID) bool {
	return s.clearedAll || s.hydrated[projectID]
}

// hydrate replaces the local log with the remote one, once per project.
// Unsynced local appends are kept after the remote messages and mirrored again.
func (s *Store) hydrate(ctx context.Context, projectID domain.ProjectID) error {
	s.mu.Lock()
	done := s.isHydrated(projectID)
	s.mu.Unlock()
	if done {
		return nil
	}

	msgs, err := s.remote.ListChat(ctx, projectID, s.owner)
	if err != nil {
		return fmt.Errorf("load history of %s: %w", projectID, err)
	}

	s.mu.Lock()
	if s.isHydrated(projectID) {
		s.mu.Unlock()
		return nil
	}
	merged := append([]domain.Message(nil), msgs...)
	var replay []domain.Message
	for _, m := range s.unsynced[projectID] {
		if contains(msgs, m) {
			continue
		}
		if n := len(merged); n > 0 && m.Timestamp.Before(merged[n-1].Timestamp) {
			m.Timestamp = merged[n-1].Timestamp
		}
		merged = append(merged, m)
		replay = append(replay, m)
	}
	delete(s.unsynced, projectID)
	s.logs[projectID] = merged
	s.hydrated[projectID] = true
	s.mu.Unlock()

	for _, m := range replay {
		if err := s.remote.AppendChat(ctx, projectID, s.owner, m); err != nil {
			observability.LoggerFromContext(ctx).Warn("failed to mirror unsynced chat message",
				zap.String("project_id", string(projectID)),
				zap.Error(err),
			)
			break
		}
	}
	return nil
}

func sameMessage(a, b domain.Message) bool {
	return a.Sender == b.Sender && a.Text == b.Text && a.Timestamp.Equal(b.Timestamp)
}

func contains(msgs []domain.Message, m domain.Message) bool {
	for _, x := range msgs {
		if sameMessage(x, m) {
			return true
		}
	}
	return false
}

// without drops the first entry equal to m.
func without(msgs []domain.Message, m domain.Message) []domain.Message {
	for i, x := range msgs {
		if sameMessage(x, m) {
			return append(msgs[:i:i], msgs[i+1:]...)
		}
	}
	return msgs
}
