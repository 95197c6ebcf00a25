package ivr

import (
	"context"
	"sync"
)

// MemoryFlowStore is an in-memory FlowStore for tests and local runs.
type MemoryFlowStore struct {
	mu    sync.Mutex
	flows map[string]Flow
}

func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{flows: map[string]Flow{}}
}

func (s *MemoryFlowStore) Get(_ context.Context, flowID string) (Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowID]
	if !ok {
		return Flow{}, ErrFlowNotFound
	}
	return f, nil
}

func (s *MemoryFlowStore) Save(_ context.Context, f Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.FlowID] = f
	return nil
}

func (s *MemoryFlowStore) RecordSessionStart(_ context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowID]
	if !ok {
		return ErrFlowNotFound
	}
	f.TotalSessions++
	s.flows[flowID] = f
	return nil
}

func (s *MemoryFlowStore) RecordSessionEnd(_ context.Context, flowID string, completed bool, durationSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowID]
	if !ok {
		return ErrFlowNotFound
	}
	if completed {
		f.CompletedSessions++
	} else {
		f.AbandonedSessions++
	}
	ended := f.CompletedSessions + f.AbandonedSessions
	if ended > 0 {
		f.AverageDurationSeconds = (f.AverageDurationSeconds*float64(ended-1) + durationSeconds) / float64(ended)
	}
	s.flows[flowID] = f
	return nil
}

// MemorySessionStore is an in-memory SessionStore keyed by call SID.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]Session{}}
}

func (s *MemorySessionStore) Get(_ context.Context, callSID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callSID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemorySessionStore) Save(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.CallSID] = sess
	return nil
}
