package routing

import (
	"context"
	"strings"
	"sync"
	"time"
)

// CachedRuleStore caches ListActiveRules per (workspace, campaign) with a
// short TTL. The engine reads the rule list on every inbound call; rules
// change on the admin timescale.
//
// Consistency: cached copies carry counters as of the fetch, so a
// ROUND_ROBIN index may repeat within one TTL window. Counter writes go
// straight to the inner store; fairness is relaxed-consistency, exact
// precision is not promised.
type CachedRuleStore struct {
	inner RuleStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]ruleCacheEntry
}

type ruleCacheEntry struct {
	rules   []Rule
	expires time.Time
}

func NewCachedRuleStore(inner RuleStore, ttl time.Duration) *CachedRuleStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedRuleStore{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]ruleCacheEntry),
	}
}

func ruleCacheKey(workspaceID, campaignID string) string {
	return workspaceID + "|" + campaignID
}

func (s *CachedRuleStore) ListActiveRules(ctx context.Context, workspaceID, campaignID string) ([]Rule, error) {
	key := ruleCacheKey(workspaceID, campaignID)
	now := s.now()

	s.mu.Lock()
	entry, ok := s.entries[key]
	s.mu.Unlock()
	if ok && now.Before(entry.expires) {
		out := make([]Rule, len(entry.rules))
		copy(out, entry.rules)
		return out, nil
	}

	rules, err := s.inner.ListActiveRules(ctx, workspaceID, campaignID)
	if err != nil {
		return nil, err
	}
	cached := make([]Rule, len(rules))
	copy(cached, rules)

	s.mu.Lock()
	s.entries[key] = ruleCacheEntry{rules: cached, expires: now.Add(s.ttl)}
	s.mu.Unlock()
	return rules, nil
}

func (s *CachedRuleStore) Get(ctx context.Context, workspaceID, ruleID string) (Rule, error) {
	// Admin reads want the stored row, not a snapshot.
	return s.inner.Get(ctx, workspaceID, ruleID)
}

// Save writes through and drops the workspace's cached lists immediately,
// so admin edits take effect on the next call rather than the next TTL.
func (s *CachedRuleStore) Save(ctx context.Context, r Rule) error {
	if err := s.inner.Save(ctx, r); err != nil {
		return err
	}
	s.invalidateWorkspace(r.WorkspaceID)
	return nil
}

func (s *CachedRuleStore) RecordRouteResult(ctx context.Context, ruleID string, success bool, routeTimeMs float64, now time.Time) error {
	return s.inner.RecordRouteResult(ctx, ruleID, success, routeTimeMs, now)
}

func (s *CachedRuleStore) invalidateWorkspace(workspaceID string) {
	prefix := workspaceID + "|"
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
}
