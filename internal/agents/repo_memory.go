package agents

import (
	"context"
	"sync"
)

// MemoryProvider is an in-memory StatusProvider for tests and local runs.
// It is not intended for production use.

type MemoryProvider struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{statuses: make(map[string]Status)}
}

func (p *MemoryProvider) Set(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[s.AgentID] = s
}

func (p *MemoryProvider) GetStatus(ctx context.Context, agentID string) (Status, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.statuses[agentID]
	if !ok {
		return Status{}, ErrUnknownAgent
	}
	return s, nil
}
