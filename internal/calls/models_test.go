package calls

import (
	"context"
	"testing"
	"time"
)

func TestCallStatusValuesAreNonEmpty(t *testing.T) {
	statuses := []CallStatus{
		CallStatusQueued,
		CallStatusRinging,
		CallStatusInIVR,
		CallStatusInProgress,
		CallStatusCompleted,
		CallStatusFailed,
		CallStatusNoAnswer,
		CallStatusBusy,
		CallStatusCanceled,
	}
	for _, s := range statuses {
		if s == "" {
			t.Fatalf("expected non-empty status")
		}
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(NewMemoryStore())
	base := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	now := base
	reg.clock = func() time.Time { return now }
	ctx := context.Background()

	c, err := reg.StartInbound(ctx, "ws-1", "CA1", "+15550001111", "+15550002222", "camp-1")
	if err != nil {
		t.Fatalf("StartInbound: %v", err)
	}
	if c.Status != CallStatusQueued || c.Direction != DirectionInbound {
		t.Fatalf("unexpected call: %+v", c)
	}
	if c.CallID == "" {
		t.Fatal("missing internal call id")
	}

	if err := reg.MarkInIVR(ctx, "CA1", "flow-1"); err != nil {
		t.Fatalf("MarkInIVR: %v", err)
	}
	if err := reg.MarkRouted(ctx, "CA1", "rule-1", "agent:42"); err != nil {
		t.Fatalf("MarkRouted: %v", err)
	}

	now = base.Add(90 * time.Second)
	if err := reg.Complete(ctx, "CA1", CallStatusCompleted, "caller_hangup"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	c, err = reg.Get(ctx, "CA1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Status != CallStatusCompleted || c.IVRFlowID != "flow-1" || c.RoutedDestination != "agent:42" {
		t.Fatalf("unexpected final call: %+v", c)
	}
	if c.DurationSeconds != 90 {
		t.Fatalf("DurationSeconds = %d", c.DurationSeconds)
	}
}

func TestRegistryUnknownCall(t *testing.T) {
	reg := NewRegistry(NewMemoryStore())
	if err := reg.MarkRouted(context.Background(), "CA-missing", "r", "d"); err != ErrCallNotFound {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}
