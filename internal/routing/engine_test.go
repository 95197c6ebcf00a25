package routing

import (
	"context"
	"testing"
	"time"

	"voice-platform/internal/agents"
	"voice-platform/internal/conditions"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryRuleStore, *MemoryTargetStore, *MemoryLogStore, *agents.MemoryProvider) {
	t.Helper()
	rules := NewMemoryRuleStore()
	targets := NewMemoryTargetStore()
	logs := NewMemoryLogStore()
	provider := agents.NewMemoryProvider()
	e := NewEngine(rules, targets, logs, NewSelector(provider))
	return e, rules, targets, logs, provider
}

func TestRouteCall_SingleRuleSingleTarget(t *testing.T) {
	e, rules, targets, logs, _ := newTestEngine(t)
	ctx := context.Background()

	if err := rules.Save(ctx, Rule{RuleID: "r1", WorkspaceID: "w", Name: "default", IsActive: true, Strategy: StrategyPriority}); err != nil {
		t.Fatalf("save rule: %v", err)
	}
	targets.Add(Target{TargetID: "t1", RuleID: "r1", TargetType: TargetQueue, Destination: "q-support", IsActive: true})

	res := e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA1", CallerPhone: "+15550001"})
	if !res.Success || res.FallbackUsed {
		t.Fatalf("expected direct success, got %+v", res)
	}
	if res.RuleID != "r1" || res.TargetID != "t1" || res.Destination != "q-support" {
		t.Fatalf("unexpected decision: %+v", res)
	}

	// Counters updated through the store.
	r, err := rules.Get(ctx, "w", "r1")
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if r.TotalCallsRouted != 1 || r.SuccessfulRoutes != 1 || r.LastUsedAt == nil {
		t.Fatalf("expected counters updated, got %+v", r)
	}

	// One immutable log per RouteCall invocation.
	if got := logs.Logs(); len(got) != 1 || !got[0].Success || got[0].FallbackUsed {
		t.Fatalf("expected one successful log, got %+v", got)
	}
}

func TestRouteCall_NoRulesFallsBackToVoicemail(t *testing.T) {
	e, _, _, logs, _ := newTestEngine(t)

	res := e.RouteCall(context.Background(), RouteRequest{WorkspaceID: "w", CallSID: "CA1"})
	if !res.FallbackUsed {
		t.Fatalf("expected fallback, got %+v", res)
	}
	if res.TargetType != TargetVoicemail {
		t.Fatalf("expected voicemail target type, got %q", res.TargetType)
	}
	if got := logs.Logs(); len(got) != 1 || !got[0].FallbackUsed {
		t.Fatalf("expected fallback log, got %+v", got)
	}
}

func TestRouteCall_PriorityOrderAndConditions(t *testing.T) {
	e, rules, targets, _, _ := newTestEngine(t)
	ctx := context.Background()

	// Lower priority value evaluates first, but its condition requires vip.
	_ = rules.Save(ctx, Rule{
		RuleID: "vip", WorkspaceID: "w", IsActive: true, Priority: 1, Strategy: StrategyPriority,
		Conditions: []conditions.Condition{{Field: "caller_priority", Operator: conditions.OpGte, Value: "5"}},
	})
	_ = rules.Save(ctx, Rule{RuleID: "catchall", WorkspaceID: "w", IsActive: true, Priority: 10, Strategy: StrategyPriority})
	targets.Add(Target{TargetID: "tv", RuleID: "vip", TargetType: TargetQueue, Destination: "q-vip", IsActive: true})
	targets.Add(Target{TargetID: "tc", RuleID: "catchall", TargetType: TargetQueue, Destination: "q-any", IsActive: true})

	res := e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA1", CallerPriority: 7})
	if res.RuleID != "vip" {
		t.Fatalf("expected vip rule for priority 7, got %+v", res)
	}

	res = e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA2", CallerPriority: 1})
	if res.RuleID != "catchall" {
		t.Fatalf("expected catchall for priority 1, got %+v", res)
	}
}

func TestRouteCall_BusinessHoursGate(t *testing.T) {
	e, rules, targets, _, _ := newTestEngine(t)
	ctx := context.Background()

	// Fixed clock: Wednesday 2026-01-07 10:00 UTC.
	e.Now = func() time.Time { return time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC) }

	_ = rules.Save(ctx, Rule{
		RuleID: "hours", WorkspaceID: "w", IsActive: true, Priority: 1, Strategy: StrategyPriority,
		BusinessHoursOnly: true,
		ActiveHours:       ActiveHours{"wednesday": {Start: "09:00", End: "17:00"}},
		Timezone:          "UTC",
	})
	targets.Add(Target{TargetID: "t1", RuleID: "hours", TargetType: TargetQueue, Destination: "q", IsActive: true})

	res := e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA1"})
	if res.RuleID != "hours" {
		t.Fatalf("expected rule inside business hours, got %+v", res)
	}

	// Same rule outside the window degrades to fallback.
	e.Now = func() time.Time { return time.Date(2026, 1, 7, 20, 0, 0, 0, time.UTC) }
	res = e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA2"})
	if !res.FallbackUsed {
		t.Fatalf("expected fallback outside hours, got %+v", res)
	}
}

func TestRouteCall_RoundRobinDistribution(t *testing.T) {
	e, rules, targets, _, _ := newTestEngine(t)
	ctx := context.Background()

	_ = rules.Save(ctx, Rule{RuleID: "rr", WorkspaceID: "w", IsActive: true, Strategy: StrategyRoundRobin})
	for i, dest := range []string{"agent-1", "agent-2", "agent-3"} {
		targets.Add(Target{TargetID: dest, RuleID: "rr", TargetType: TargetAgent, Destination: dest, IsActive: true, Priority: i})
	}

	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		res := e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA"})
		if !res.Success || res.FallbackUsed {
			t.Fatalf("unexpected miss on call %d: %+v", i, res)
		}
		counts[res.TargetID]++
	}
	for _, id := range []string{"agent-1", "agent-2", "agent-3"} {
		if counts[id] != 3 {
			t.Fatalf("expected even distribution, got %v", counts)
		}
	}
}

func TestRouteCall_SelectionMissFollowsRuleFallbackOnce(t *testing.T) {
	e, rules, targets, _, provider := newTestEngine(t)
	ctx := context.Background()

	// Primary rule's only agent is offline; its fallback rule has a queue.
	_ = rules.Save(ctx, Rule{
		RuleID: "primary", WorkspaceID: "w", IsActive: true, Priority: 1, Strategy: StrategyLongestIdle,
		FallbackEnabled: true, FallbackAction: FallbackActionRule, FallbackRuleID: "backup",
	})
	_ = rules.Save(ctx, Rule{RuleID: "backup", WorkspaceID: "w", IsActive: true, Priority: 99, Strategy: StrategyPriority})
	targets.Add(Target{TargetID: "t2", RuleID: "backup", TargetType: TargetQueue, Destination: "q-backup", IsActive: true})
	provider.Set(agents.Status{AgentID: "a1", Availability: agents.AvailabilityOffline})

	res := e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA1"})
	if res.RuleID != "backup" || res.FallbackUsed {
		t.Fatalf("expected backup rule via per-rule fallback, got %+v", res)
	}
}

func TestRouteCall_FallbackRuleCycleIsGuarded(t *testing.T) {
	e, rules, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	// a -> b -> a cycle, neither has targets. Must terminate in voicemail.
	_ = rules.Save(ctx, Rule{RuleID: "a", WorkspaceID: "w", IsActive: true, Priority: 1,
		FallbackEnabled: true, FallbackAction: FallbackActionRule, FallbackRuleID: "b"})
	_ = rules.Save(ctx, Rule{RuleID: "b", WorkspaceID: "w", IsActive: true, Priority: 2,
		FallbackEnabled: true, FallbackAction: FallbackActionRule, FallbackRuleID: "a"})

	res := e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA1"})
	if !res.FallbackUsed {
		t.Fatalf("expected voicemail fallback after cycle, got %+v", res)
	}
}

func TestRouteCall_MalformedConditionDegrades(t *testing.T) {
	e, rules, targets, _, _ := newTestEngine(t)
	ctx := context.Background()

	_ = rules.Save(ctx, Rule{
		RuleID: "broken", WorkspaceID: "w", IsActive: true, Priority: 1, Strategy: StrategyPriority,
		Conditions: []conditions.Condition{{Field: "bogus(((", Operator: "???", Value: ""}},
	})
	_ = rules.Save(ctx, Rule{RuleID: "good", WorkspaceID: "w", IsActive: true, Priority: 2, Strategy: StrategyPriority})
	targets.Add(Target{TargetID: "t1", RuleID: "good", TargetType: TargetQueue, Destination: "q", IsActive: true})

	res := e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA1"})
	if res.RuleID != "good" {
		t.Fatalf("expected broken rule to degrade to next rule, got %+v", res)
	}
}

func TestRouteCall_CampaignScoping(t *testing.T) {
	e, rules, targets, _, _ := newTestEngine(t)
	ctx := context.Background()

	_ = rules.Save(ctx, Rule{RuleID: "campaign", WorkspaceID: "w", CampaignID: "c1", IsActive: true, Priority: 1, Strategy: StrategyPriority})
	_ = rules.Save(ctx, Rule{RuleID: "global", WorkspaceID: "w", IsActive: true, Priority: 2, Strategy: StrategyPriority})
	targets.Add(Target{TargetID: "tc", RuleID: "campaign", TargetType: TargetQueue, Destination: "q-c1", IsActive: true})
	targets.Add(Target{TargetID: "tg", RuleID: "global", TargetType: TargetQueue, Destination: "q-g", IsActive: true})

	res := e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA1", CampaignID: "c1"})
	if res.RuleID != "campaign" {
		t.Fatalf("expected campaign-scoped rule, got %+v", res)
	}

	res = e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA2", CampaignID: "other"})
	if res.RuleID != "global" {
		t.Fatalf("expected campaign-agnostic rule for other campaign, got %+v", res)
	}
}

type stubOverrideStore struct {
	o  Override
	ok bool
}

func (s stubOverrideStore) GetActiveOverride(ctx context.Context, workspaceID, campaignID, callerPhone string, now time.Time) (Override, bool, error) {
	return s.o, s.ok, nil
}

func TestRouteCall_OverrideWinsAheadOfRules(t *testing.T) {
	e, rules, targets, logs, _ := newTestEngine(t)
	ctx := context.Background()

	_ = rules.Save(ctx, Rule{RuleID: "r1", WorkspaceID: "w", IsActive: true, Strategy: StrategyPriority})
	targets.Add(Target{TargetID: "t1", RuleID: "r1", TargetType: TargetQueue, Destination: "q", IsActive: true})

	e.Overrides = NewOverrideEngine(stubOverrideStore{
		o:  Override{OverrideID: "o1", Destination: "+15559999", ExpiresAt: time.Now().Add(time.Hour)},
		ok: true,
	}, logs)

	res := e.RouteCall(ctx, RouteRequest{WorkspaceID: "w", CallSID: "CA1"})
	if res.Destination != "+15559999" {
		t.Fatalf("expected override destination, got %+v", res)
	}
	// Silent routing: no override hint in the user-facing result.
	if res.Message != "" {
		t.Fatalf("override must not surface a message, got %q", res.Message)
	}
	// But the internal audit record exists.
	if got := logs.Logs(); len(got) != 1 {
		t.Fatalf("expected one internal audit log, got %d", len(got))
	}
}

func TestOverrideEngine_ExpiredIgnored(t *testing.T) {
	oe := NewOverrideEngine(stubOverrideStore{
		o:  Override{OverrideID: "o1", Destination: "+1555", ExpiresAt: time.Now().Add(-time.Minute)},
		ok: true,
	}, nil)
	_, applied, err := oe.Decide(context.Background(), "w", "", "CA1", "+1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if applied {
		t.Fatalf("expired override must not apply")
	}
}

func TestIncrementalMean(t *testing.T) {
	avg := 0.0
	samples := []float64{10, 20, 30}
	for i, s := range samples {
		avg = IncrementalMean(avg, int64(i+1), s)
	}
	if avg != 20 {
		t.Fatalf("expected running mean 20, got %v", avg)
	}
}
