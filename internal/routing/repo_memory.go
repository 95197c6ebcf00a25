package routing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory stores back tests and local runs. They are not intended for
// production use; the Postgres stores are the real persistence layer.

var ErrRuleNotFound = errors.New("routing: rule not found")

type MemoryRuleStore struct {
	mu    sync.Mutex
	rules map[string]*Rule
}

func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]*Rule)}
}

func (s *MemoryRuleStore) Save(ctx context.Context, r Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.RuleID == "" {
		r.RuleID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	cp := r
	s.rules[r.RuleID] = &cp
	return nil
}

func (s *MemoryRuleStore) Get(ctx context.Context, workspaceID, ruleID string) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok || r.WorkspaceID != workspaceID {
		return Rule{}, ErrRuleNotFound
	}
	return *r, nil
}

func (s *MemoryRuleStore) ListActiveRules(ctx context.Context, workspaceID, campaignID string) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Rule
	for _, r := range s.rules {
		if !r.IsActive || r.WorkspaceID != workspaceID {
			continue
		}
		if r.CampaignID != "" && r.CampaignID != campaignID {
			continue
		}
		out = append(out, *r)
	}
	// Priority ascending; creation order breaks ties (stable).
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryRuleStore) RecordRouteResult(ctx context.Context, ruleID string, success bool, routeTimeMs float64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return ErrRuleNotFound
	}
	r.TotalCallsRouted++
	if success {
		r.SuccessfulRoutes++
	}
	r.AverageRouteTimeMs = IncrementalMean(r.AverageRouteTimeMs, r.TotalCallsRouted, routeTimeMs)
	t := now
	r.LastUsedAt = &t
	return nil
}

type MemoryTargetStore struct {
	mu      sync.Mutex
	targets map[string][]Target // keyed by rule id
}

func NewMemoryTargetStore() *MemoryTargetStore {
	return &MemoryTargetStore{targets: make(map[string][]Target)}
}

func (s *MemoryTargetStore) Save(ctx context.Context, t Target) error {
	s.Add(t)
	return nil
}

func (s *MemoryTargetStore) ReplaceTargets(ctx context.Context, ruleID string, targets []Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.TargetID == "" {
			t.TargetID = uuid.NewString()
		}
		t.RuleID = ruleID
		out = append(out, t)
	}
	s.targets[ruleID] = out
	return nil
}

func (s *MemoryTargetStore) Add(t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.TargetID == "" {
		t.TargetID = uuid.NewString()
	}
	s.targets[t.RuleID] = append(s.targets[t.RuleID], t)
}

func (s *MemoryTargetStore) ListActiveTargets(ctx context.Context, ruleID string) ([]Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Target
	for _, t := range s.targets[ruleID] {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// MemoryLogStore is a simple append-only log sink useful for tests.
type MemoryLogStore struct {
	mu   sync.Mutex
	logs []Log
}

func NewMemoryLogStore() *MemoryLogStore { return &MemoryLogStore{} }

func (s *MemoryLogStore) Append(ctx context.Context, l Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.LogID == "" {
		l.LogID = uuid.NewString()
	}
	s.logs = append(s.logs, l)
	return nil
}

func (s *MemoryLogStore) Logs() []Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Log, len(s.logs))
	copy(out, s.logs)
	return out
}

// ListLogs filters by workspace and optional call SID, newest first.
func (s *MemoryLogStore) ListLogs(ctx context.Context, workspaceID, callSID string, limit int) ([]Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Log
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if l.WorkspaceID != workspaceID {
			continue
		}
		if callSID != "" && l.CallSID != callSID {
			continue
		}
		out = append(out, l)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
