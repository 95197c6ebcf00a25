package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOverrideStore resolves emergency overrides from Redis.
//
// Overrides are written by privileged internal tooling with a key TTL equal
// to their lifetime, so expiry needs no sweeper. Lookup order is most
// specific first: caller, then campaign, then workspace-wide.
//
// SECURITY NOTE:
// The write path is deliberately absent here. Only internal operator
// tooling may create overrides; this service only reads them.
type RedisOverrideStore struct {
	rdb *redis.Client
}

func NewRedisOverrideStore(rdb *redis.Client) *RedisOverrideStore {
	return &RedisOverrideStore{rdb: rdb}
}

func overrideKeys(workspaceID, campaignID, callerPhone string) []string {
	keys := make([]string, 0, 3)
	if callerPhone != "" {
		keys = append(keys, "routing:override:"+workspaceID+":caller:"+callerPhone)
	}
	if campaignID != "" {
		keys = append(keys, "routing:override:"+workspaceID+":campaign:"+campaignID)
	}
	keys = append(keys, "routing:override:"+workspaceID)
	return keys
}

func (s *RedisOverrideStore) GetActiveOverride(ctx context.Context, workspaceID, campaignID, callerPhone string, now time.Time) (Override, bool, error) {
	for _, key := range overrideKeys(workspaceID, campaignID, callerPhone) {
		raw, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Override{}, false, fmt.Errorf("redis get override: %w", err)
		}
		var o Override
		if err := json.Unmarshal(raw, &o); err != nil {
			return Override{}, false, fmt.Errorf("decode override %s: %w", key, err)
		}
		// The key TTL usually handles expiry; ExpiresAt is the authority
		// when the two disagree.
		if !o.ExpiresAt.IsZero() && !o.ExpiresAt.After(now) {
			continue
		}
		return o, true, nil
	}
	return Override{}, false, nil
}
