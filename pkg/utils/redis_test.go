package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestConcurrencyScriptsCompile(t *testing.T) {
	if concurrencyAcquireScript == nil || concurrencyReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

// Argument validation happens before any command is issued, so a client
// that never dials is enough here.
func TestAcquireConcurrencyCapRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	if _, err := AcquireConcurrencyCap(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "", 1, time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "k", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "k", 1, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if err := ReleaseConcurrencyCap(ctx, rdb, ""); err == nil {
		t.Fatalf("expected error for empty key on release")
	}
}
