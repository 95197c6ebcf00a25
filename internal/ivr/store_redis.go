package ivr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps live sessions in Redis, keyed by call SID.
//
// Sessions are short-lived call state: a TTL bounds leakage when a hangup
// event never arrives (carrier drops, webhook loss). The TTL is refreshed on
// every save, so an active caller never expires mid-call.
type RedisSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

const defaultSessionTTL = 4 * time.Hour

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func sessionKey(callSID string) string {
	return "ivr:session:" + callSID
}

func (s *RedisSessionStore) Get(ctx context.Context, callSID string) (Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(callSID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("redis get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", callSID, err)
	}
	return sess, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.CallSID, err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.CallSID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}
