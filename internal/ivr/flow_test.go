package ivr

import (
	"context"
	"errors"
	"testing"
	"time"
)

func validFlow() Flow {
	return Flow{
		FlowID:      "flow-1",
		WorkspaceID: "ws-1",
		Name:        "greeting",
		EntryNodeID: "hello",
		Nodes: map[string]Node{
			"hello": {Type: NodePlayMessage, Message: "Hello.", NextNode: "bye"},
			"bye":   {Type: NodeEndCall, Message: "Goodbye."},
		},
	}
}

func TestFlowValidate(t *testing.T) {
	if err := validFlow().Validate(); err != nil {
		t.Fatalf("valid flow rejected: %v", err)
	}

	f := validFlow()
	f.WorkspaceID = ""
	if err := f.Validate(); err == nil {
		t.Error("missing workspace accepted")
	}

	f = validFlow()
	f.EntryNodeID = "nope"
	if err := f.Validate(); err == nil {
		t.Error("dangling entry node accepted")
	}

	f = validFlow()
	n := f.Nodes["hello"]
	n.NextNode = "missing"
	f.Nodes["hello"] = n
	err := f.Validate()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("dangling reference: expected ConfigurationError, got %v", err)
	}

	f = validFlow()
	f.ErrorNodeID = "missing"
	if err := f.Validate(); err == nil {
		t.Error("dangling error node accepted")
	}

	f = validFlow()
	f.Nodes = nil
	if err := f.Validate(); err == nil {
		t.Error("empty flow accepted")
	}
}

func TestFlowValidateMenuOptions(t *testing.T) {
	f := validFlow()
	f.Nodes["menu"] = Node{
		Type:    NodeMenu,
		Message: "Press 1.",
		Options: map[string]string{"1": "not_there"},
	}
	if err := f.Validate(); err == nil {
		t.Fatal("dangling menu option accepted")
	}
}

func newFlowService(t *testing.T) (*FlowService, *MemoryFlowStore) {
	t.Helper()
	store := NewMemoryFlowStore()
	svc := NewFlowService(store)
	svc.clock = func() time.Time { return time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestFlowServiceCreateDefaults(t *testing.T) {
	svc, _ := newFlowService(t)

	f, err := svc.Create(context.Background(), validFlow())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.Version != 1 {
		t.Errorf("Version = %d", f.Version)
	}
	if f.MaxRetries != defaultMaxRetries || f.TimeoutSeconds != defaultTimeoutSeconds {
		t.Errorf("defaults not applied: retries=%d timeout=%d", f.MaxRetries, f.TimeoutSeconds)
	}
	if f.PublishedAt != nil {
		t.Error("new flow must start unpublished")
	}
}

func TestFlowServiceUpdateBumpsVersionAndKeepsCounters(t *testing.T) {
	svc, store := newFlowService(t)
	ctx := context.Background()

	f, err := svc.Create(ctx, validFlow())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.RecordSessionStart(ctx, f.FlowID); err != nil {
		t.Fatalf("RecordSessionStart: %v", err)
	}

	f.Name = "greeting v2"
	updated, err := svc.Update(ctx, f)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d", updated.Version)
	}
	if updated.TotalSessions != 1 {
		t.Errorf("counters not carried over: %+v", updated)
	}

	// Updates are workspace scoped.
	f.WorkspaceID = "ws-other"
	if _, err := svc.Update(ctx, f); err != ErrFlowNotFound {
		t.Errorf("cross-workspace update: got %v", err)
	}
}

func TestFlowServicePublishOnce(t *testing.T) {
	svc, _ := newFlowService(t)
	ctx := context.Background()

	f, err := svc.Create(ctx, validFlow())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	published, err := svc.Publish(ctx, "ws-1", f.FlowID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if published.PublishedAt == nil {
		t.Fatal("PublishedAt not set")
	}

	if _, err := svc.Publish(ctx, "ws-1", f.FlowID); err != ErrAlreadyPublished {
		t.Errorf("second publish: got %v", err)
	}
}

func TestMemoryFlowStoreAverageDuration(t *testing.T) {
	store := NewMemoryFlowStore()
	ctx := context.Background()
	if err := store.Save(ctx, validFlow()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := store.RecordSessionEnd(ctx, "flow-1", true, 30); err != nil {
		t.Fatalf("RecordSessionEnd: %v", err)
	}
	if err := store.RecordSessionEnd(ctx, "flow-1", false, 60); err != nil {
		t.Fatalf("RecordSessionEnd: %v", err)
	}

	f, _ := store.Get(ctx, "flow-1")
	if f.CompletedSessions != 1 || f.AbandonedSessions != 1 {
		t.Fatalf("counters: %+v", f)
	}
	if f.AverageDurationSeconds != 45 {
		t.Fatalf("AverageDurationSeconds = %f", f.AverageDurationSeconds)
	}
}
