package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

// MockLLM replays scripted replies in order, then echoes. It records every
// request it receives.
type MockLLM struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []domain.CompletionRequest
}

func NewMockLLM(replies ...string) *MockLLM {
	return &MockLLM{replies: replies}
}

// FailNext makes the next call return err.
func (m *MockLLM) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Script queues more replies.
func (m *MockLLM) Script(replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

func (m *MockLLM) Requests() []domain.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CompletionRequest(nil), m.requests...)
}

func (m *MockLLM) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	if len(m.replies) > 0 {
		r := m.replies[0]
		m.replies = m.replies[1:]
		return r, nil
	}
	return fmt.Sprintf("You said %q. Tell me more about the project.", req.Message), nil
}
