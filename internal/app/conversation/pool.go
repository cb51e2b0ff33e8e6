package conversation

import (
	"strings"
	"sync"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

// Pool hands out one Service per owner, created on first use.
type Pool struct {
	deps Deps

	mu       sync.Mutex
	services map[domain.OwnerEmail]*Service
}

func NewPool(deps Deps) *Pool {
	return &Pool{
		deps:     deps,
		services: make(map[domain.OwnerEmail]*Service),
	}
}

func (p *Pool) For(owner domain.OwnerEmail) (*Service, error) {
	owner = domain.OwnerEmail(strings.ToLower(strings.TrimSpace(string(owner))))
	if owner == "" {
		return nil, domain.ErrMissingOwner
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if svc, ok := p.services[owner]; ok {
		return svc, nil
	}
	svc := NewService(owner, p.deps)
	p.services[owner] = svc
	return svc, nil
}

// Len reports how many owners have a service.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.services)
}
