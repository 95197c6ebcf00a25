package conditions

import (
	"context"
	"testing"
)

func TestEvaluate_NumericComparison(t *testing.T) {
	ctx := context.Background()
	if !Evaluate(ctx, "count > 5", map[string]any{"count": 10}) {
		t.Fatalf("expected count > 5 to hold for count=10")
	}
	if Evaluate(ctx, "count > 5", map[string]any{"count": 3}) {
		t.Fatalf("expected count > 5 to fail for count=3")
	}
	if !Evaluate(ctx, "score >= 2.5", map[string]any{"score": 2.5}) {
		t.Fatalf("expected score >= 2.5 to hold")
	}
}

func TestEvaluate_StringComparison(t *testing.T) {
	ctx := context.Background()
	if Evaluate(ctx, "lang == 'en'", map[string]any{"lang": "fr"}) {
		t.Fatalf("expected lang == 'en' to fail for fr")
	}
	if !Evaluate(ctx, "lang != 'en'", map[string]any{"lang": "fr"}) {
		t.Fatalf("expected lang != 'en' to hold for fr")
	}
	if !Evaluate(ctx, `tier == "gold"`, map[string]any{"tier": "gold"}) {
		t.Fatalf("expected double-quoted literal to match")
	}
}

func TestEvaluate_BooleanComparison(t *testing.T) {
	ctx := context.Background()
	if !Evaluate(ctx, "vip == true", map[string]any{"vip": true}) {
		t.Fatalf("expected vip == true")
	}
	if Evaluate(ctx, "vip > false", map[string]any{"vip": true}) {
		t.Fatalf("ordering booleans must evaluate to false")
	}
}

func TestEvaluate_StringFallbackCoercion(t *testing.T) {
	// Unbound token on the right stays a string; bound number on the left
	// compares as a string when the other side is not numeric.
	ctx := context.Background()
	if !Evaluate(ctx, "campaign == summer", map[string]any{"campaign": "summer"}) {
		t.Fatalf("expected bare token to compare as string")
	}
	if !Evaluate(ctx, "caller_priority == 5", map[string]any{"caller_priority": 5}) {
		t.Fatalf("expected numeric comparison for all-digit token")
	}
}

func TestEvaluate_MalformedNeverPanics(t *testing.T) {
	ctx := context.Background()
	for _, expr := range []string{"bogus(((", "", "   ", "a ==", "== b", "a"} {
		if Evaluate(ctx, expr, map[string]any{}) {
			t.Fatalf("malformed expression %q must evaluate to false", expr)
		}
	}
}

func TestEvaluate_OperatorInsideQuotesIgnored(t *testing.T) {
	ctx := context.Background()
	if !Evaluate(ctx, "note == 'a > b'", map[string]any{"note": "a > b"}) {
		t.Fatalf("operator inside quotes must not split the expression")
	}
}

func TestCombineRuleConditions_LeftFold(t *testing.T) {
	ctx := context.Background()
	bindings := map[string]any{"lang": "en", "priority": 9, "vip": false}

	// (lang == en) AND (priority > 5) -> true
	conds := []Condition{
		{Field: "lang", Operator: OpEq, Value: "en"},
		{Field: "priority", Operator: OpGt, Value: "5", Logic: LogicAnd},
	}
	if !CombineRuleConditions(ctx, conds, bindings) {
		t.Fatalf("expected AND fold to hold")
	}

	// ((lang == fr) OR (priority > 5)) AND (vip == true) -> false:
	// the fold is strictly left-to-right, Logic attaches to the next entry.
	conds = []Condition{
		{Field: "lang", Operator: OpEq, Value: "fr"},
		{Field: "priority", Operator: OpGt, Value: "5", Logic: LogicOr},
		{Field: "vip", Operator: OpEq, Value: "true", Logic: LogicAnd},
	}
	if CombineRuleConditions(ctx, conds, bindings) {
		t.Fatalf("expected fold to fail on trailing AND false")
	}
}

func TestCombineRuleConditions_EmptyListMatches(t *testing.T) {
	if !CombineRuleConditions(context.Background(), nil, map[string]any{}) {
		t.Fatalf("a rule with no conditions always matches")
	}
}
