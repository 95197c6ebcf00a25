package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvider reads agent snapshots from Redis hashes maintained by the
// presence tracker.
//
// Key layout: agent:status:{agent_id} ->
//
//	availability     string
//	skills           comma-separated
//	languages        comma-separated
//	last_active_at   RFC3339
//	active_calls     int
//
// The hash is written by the presence service; this provider is read-only.
type RedisProvider struct {
	rdb *redis.Client
}

func NewRedisProvider(rdb *redis.Client) *RedisProvider {
	return &RedisProvider{rdb: rdb}
}

func statusKey(agentID string) string { return "agent:status:" + agentID }

func (p *RedisProvider) GetStatus(ctx context.Context, agentID string) (Status, error) {
	if p.rdb == nil {
		return Status{}, fmt.Errorf("agents: redis client is nil")
	}
	if agentID == "" {
		return Status{}, fmt.Errorf("agents: agent_id is required")
	}

	fields, err := p.rdb.HGetAll(ctx, statusKey(agentID)).Result()
	if err != nil {
		return Status{}, err
	}
	if len(fields) == 0 {
		return Status{}, ErrUnknownAgent
	}

	s := Status{
		AgentID:      agentID,
		Availability: Availability(fields["availability"]),
		Skills:       splitTags(fields["skills"]),
		Languages:    splitTags(fields["languages"]),
	}
	if raw := fields["last_active_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			s.LastActiveAt = ts
		}
	}
	if raw := fields["active_calls"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			s.ActiveCallCount = n
		}
	}
	return s, nil
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
