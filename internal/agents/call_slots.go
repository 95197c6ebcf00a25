package agents

import (
	"context"
	"time"

	"voice-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// CallSlots tracks active calls per agent with atomic Redis counters.
//
// The selector filters on the ActiveCallCount snapshot, which lags presence
// updates; these counters are bumped at dial time so two near-simultaneous
// routes cannot both land on an agent's last slot. The TTL bounds leaked
// slots when a hangup event never arrives.
type CallSlots struct {
	rdb   *redis.Client
	Limit int
	TTL   time.Duration
}

const (
	defaultSlotLimit = 3
	defaultSlotTTL   = 4 * time.Hour
)

func NewCallSlots(rdb *redis.Client) *CallSlots {
	return &CallSlots{rdb: rdb, Limit: defaultSlotLimit, TTL: defaultSlotTTL}
}

func slotKey(agentID string) string { return "agent:slots:" + agentID }

// Reserve takes one call slot for the agent. It returns false when the
// agent is already at capacity.
func (s *CallSlots) Reserve(ctx context.Context, agentID string) (bool, error) {
	limit := s.Limit
	if limit <= 0 {
		limit = defaultSlotLimit
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultSlotTTL
	}
	return utils.AcquireConcurrencyCap(ctx, s.rdb, slotKey(agentID), limit, ttl)
}

// Release frees a previously reserved slot.
func (s *CallSlots) Release(ctx context.Context, agentID string) error {
	return utils.ReleaseConcurrencyCap(ctx, s.rdb, slotKey(agentID))
}
