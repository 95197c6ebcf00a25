package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	bySID map[string]Call
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bySID: map[string]Call{}}
}

func (s *MemoryStore) GetBySID(_ context.Context, callSID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.bySID[callSID]
	if !ok {
		return Call{}, ErrCallNotFound
	}
	return c, nil
}

func (s *MemoryStore) Save(_ context.Context, c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySID[c.CallSID] = c
	return nil
}

func (s *MemoryStore) ListRecent(_ context.Context, workspaceID string, limit int) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.bySID {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
