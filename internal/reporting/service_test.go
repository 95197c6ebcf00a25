package reporting

import (
	"context"
	"testing"
	"time"

	"voice-platform/internal/calls"
	"voice-platform/internal/ivr"
	"voice-platform/internal/routing"
)

func TestReporting_WorkspaceIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Calls = []calls.Call{
		{CallID: "c1", WorkspaceID: "w1", CampaignID: "camp", Status: calls.CallStatusCompleted, DurationSeconds: 30, CreatedAt: now},
		{CallID: "c2", WorkspaceID: "w2", CampaignID: "camp", Status: calls.CallStatusCompleted, DurationSeconds: 50, CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{WorkspaceID: "w1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 {
		t.Fatalf("expected 1 call, got %d", out.TotalCalls)
	}
}

func TestReporting_RoutingSummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Logs = []routing.Log{
		{LogID: "l1", WorkspaceID: "w", Strategy: routing.StrategySkillBased, Success: true, RouteTimeMs: 10, CreatedAt: now},
		{LogID: "l2", WorkspaceID: "w", Strategy: routing.StrategySkillBased, Success: true, RouteTimeMs: 30, CreatedAt: now},
		{LogID: "l3", WorkspaceID: "w", FallbackUsed: true, RouteTimeMs: 20, CreatedAt: now},
		{LogID: "l4", WorkspaceID: "other", Success: true, RouteTimeMs: 99, CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.RoutingSummary(context.Background(), RoutingSummaryRequest{WorkspaceID: "w", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalDecisions != 3 || out.SuccessfulRoutes != 2 || out.FallbackRoutes != 1 {
		t.Fatalf("unexpected summary: %+v", out)
	}
	if out.AverageRouteTimeMs != 20 {
		t.Fatalf("expected avg 20ms, got %f", out.AverageRouteTimeMs)
	}
	if out.DecisionsByStrategy[string(routing.StrategySkillBased)] != 2 {
		t.Fatalf("unexpected per-strategy counts: %v", out.DecisionsByStrategy)
	}
}

func TestReporting_FlowSummary(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Flows = []ivr.Flow{
		{FlowID: "f1", WorkspaceID: "w", Name: "front door", TotalSessions: 10, CompletedSessions: 6, AbandonedSessions: 2, AverageDurationSeconds: 42},
	}
	svc := NewService(repo)

	out, err := svc.FlowSummary(context.Background(), FlowSummaryRequest{WorkspaceID: "w", FlowID: "f1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.CompletionRate != 0.75 {
		t.Fatalf("expected completion rate 0.75, got %f", out.CompletionRate)
	}
	if out.FlowName != "front door" || out.TotalSessions != 10 {
		t.Fatalf("unexpected summary: %+v", out)
	}

	if _, err := svc.FlowSummary(context.Background(), FlowSummaryRequest{WorkspaceID: "other", FlowID: "f1"}); err == nil {
		t.Fatalf("expected cross-workspace lookup to fail")
	}
}
