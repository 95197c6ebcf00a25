package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"voice-platform/internal/conditions"
	"voice-platform/pkg/logger"

	"github.com/google/uuid"
)

// Engine evaluates routing for inbound call attempts.
//
// Pipeline per call:
//  1) Emergency override (expiry-bounded forced destination)
//  2) Active rules for the campaign, ascending priority
//     a) condition left-fold   b) business-hours gate   c) target selection
//  3) Per-rule fallback hop (FallbackRuleID, at most once)
//  4) Fixed voicemail fallback
//
// RouteCall never returns an error and never panics. Rule/condition errors
// degrade to the next rule; a total miss degrades to voicemail. The caller
// always gets a decision, never a dropped call.
type Engine struct {
	Rules   RuleStore
	Targets TargetStore
	Logs    LogSink

	Selector  *Selector
	Overrides *OverrideEngine

	// FallbackDestination is the fixed voicemail destination used when no
	// rule produces a target. Config-driven; defaults to "voicemail".
	FallbackDestination string

	Now func() time.Time
}

func NewEngine(rules RuleStore, targets TargetStore, logs LogSink, selector *Selector) *Engine {
	return &Engine{
		Rules:    rules,
		Targets:  targets,
		Logs:     logs,
		Selector: selector,
		Now:      time.Now,
	}
}

// RouteRequest is one inbound call to place.
type RouteRequest struct {
	WorkspaceID string `json:"workspace_id"`
	CallSID     string `json:"call_sid"`
	CallerPhone string `json:"caller_phone"`

	CallerPriority    int    `json:"caller_priority,omitempty"`
	CampaignID        string `json:"campaign_id,omitempty"`
	PreferredLanguage string `json:"preferred_language,omitempty"`

	RequiredSkills []string `json:"required_skills,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// RouteResult is the decision handed back to the call-control facade.
type RouteResult struct {
	Success bool `json:"success"`

	RuleID   string   `json:"rule_id,omitempty"`
	RuleName string   `json:"rule_name,omitempty"`
	Strategy Strategy `json:"strategy,omitempty"`

	TargetType  TargetType `json:"target_type,omitempty"`
	TargetID    string     `json:"target_id,omitempty"`
	TargetName  string     `json:"target_name,omitempty"`
	Destination string     `json:"destination,omitempty"`

	RouteTimeMs  float64 `json:"route_time_ms"`
	FallbackUsed bool    `json:"fallback_used"`
	Message      string  `json:"message,omitempty"`
}

// RouteCall picks a destination for the request.
func (e *Engine) RouteCall(ctx context.Context, req RouteRequest) (result RouteResult) {
	log := logger.From(ctx)
	if e.Now == nil {
		e.Now = time.Now
	}
	start := e.Now()

	// Last line of defense: an internal panic becomes the voicemail
	// fallback, never an aborted call.
	defer func() {
		if p := recover(); p != nil {
			log.Error("routing panic recovered", "call_sid", req.CallSID, "panic", fmt.Sprint(p))
			result = e.fallbackResult(ctx, req, start, fmt.Sprintf("internal error: %v", p))
		}
	}()

	if req.WorkspaceID == "" || req.CallSID == "" {
		return e.fallbackResult(ctx, req, start, "workspace_id and call_sid are required")
	}

	// 1) Emergency override, ahead of all rule evaluation. The override
	// engine writes its own audit record; nothing extra is logged here so
	// user-facing output stays indistinguishable from a rule match.
	if e.Overrides != nil {
		if dest, ok := e.overrideDecision(ctx, req); ok {
			return RouteResult{
				Success:     true,
				TargetType:  TargetExternalNumber,
				Destination: dest,
				RouteTimeMs: e.elapsedMs(start),
			}
		}
	}

	rules, err := e.Rules.ListActiveRules(ctx, req.WorkspaceID, req.CampaignID)
	if err != nil {
		log.Warn("rule listing failed", "call_sid", req.CallSID, "err", err)
		return e.fallbackResult(ctx, req, start, "rule store unavailable: "+err.Error())
	}

	bindings := e.buildBindings(req)

	visited := make(map[string]bool, len(rules))
	for i := range rules {
		res, matched := e.tryRule(ctx, rules[i], req, bindings, start, visited)
		if matched {
			return res
		}
	}

	// 4) Nothing matched anywhere.
	return e.fallbackResult(ctx, req, start, "no matching rule produced a target")
}

// tryRule evaluates one rule end to end. It returns (result, true) only when
// the rule (or its one-hop fallback rule) produced a target.
func (e *Engine) tryRule(ctx context.Context, r Rule, req RouteRequest, bindings map[string]any, start time.Time, visited map[string]bool) (RouteResult, bool) {
	log := logger.From(ctx)
	if visited[r.RuleID] {
		return RouteResult{}, false
	}
	visited[r.RuleID] = true

	if !e.ruleMatches(ctx, r, bindings) {
		return RouteResult{}, false
	}
	if !withinBusinessHours(ctx, r, e.Now()) {
		return RouteResult{}, false
	}

	targets, err := e.Targets.ListActiveTargets(ctx, r.RuleID)
	if err != nil {
		log.Warn("target listing failed", "rule_id", r.RuleID, "err", err)
		return RouteResult{}, false
	}

	target, err := e.Selector.Select(ctx, targets, r.Strategy, SelectionContext{
		Rule:              r,
		PreferredLanguage: req.PreferredLanguage,
		RequiredSkills:    req.RequiredSkills,
	})
	if err != nil {
		log.Warn("target selection failed", "rule_id", r.RuleID, "strategy", r.Strategy, "err", err)
		target = nil
	}

	if target == nil {
		// SelectionMiss. Follow the rule's own fallback rule once before
		// giving the next rule a chance.
		if r.FallbackEnabled && r.FallbackAction == FallbackActionRule && r.FallbackRuleID != "" {
			fb, err := e.Rules.Get(ctx, req.WorkspaceID, r.FallbackRuleID)
			if err != nil {
				log.Warn("fallback rule lookup failed", "rule_id", r.RuleID, "fallback_rule_id", r.FallbackRuleID, "err", err)
				return RouteResult{}, false
			}
			if fb.IsActive {
				return e.tryRule(ctx, fb, req, bindings, start, visited)
			}
		}
		return RouteResult{}, false
	}

	res := RouteResult{
		Success:     true,
		RuleID:      r.RuleID,
		RuleName:    r.Name,
		Strategy:    r.Strategy,
		TargetType:  target.TargetType,
		TargetID:    target.TargetID,
		TargetName:  target.Name,
		Destination: target.Destination,
		RouteTimeMs: e.elapsedMs(start),
	}

	// Counter updates and log writes are best-effort; the decision stands
	// even when persistence misbehaves.
	if err := e.Rules.RecordRouteResult(ctx, r.RuleID, true, res.RouteTimeMs, e.Now()); err != nil {
		log.Warn("rule counter update failed", "rule_id", r.RuleID, "err", err)
	}
	e.appendLog(ctx, req, res, "")
	return res, true
}

func (e *Engine) ruleMatches(ctx context.Context, r Rule, bindings map[string]any) bool {
	// Condition evaluation failures already degrade to false inside the
	// evaluator; nothing can escape from here.
	return conditions.CombineRuleConditions(ctx, r.Conditions, bindings)
}

// buildBindings assembles the variable context rule conditions see.
func (e *Engine) buildBindings(req RouteRequest) map[string]any {
	now := e.Now()
	b := map[string]any{
		"caller_phone":       req.CallerPhone,
		"caller_priority":    req.CallerPriority,
		"campaign_id":        req.CampaignID,
		"preferred_language": req.PreferredLanguage,
		"required_skills":    strings.Join(req.RequiredSkills, ","),
		"current_time":       now.Format("15:04"),
		"current_day":        strings.ToLower(now.Weekday().String()),
	}
	for k, v := range req.Metadata {
		if _, taken := b[k]; !taken {
			b[k] = v
		}
	}
	return b
}

func (e *Engine) overrideDecision(ctx context.Context, req RouteRequest) (string, bool) {
	dest, applied, err := e.Overrides.Decide(ctx, req.WorkspaceID, req.CampaignID, req.CallSID, req.CallerPhone)
	if err != nil {
		logger.From(ctx).Warn("override evaluation failed", "call_sid", req.CallSID, "err", err)
		return "", false
	}
	return dest, applied
}

// fallbackResult is the guaranteed default: send the caller to voicemail.
func (e *Engine) fallbackResult(ctx context.Context, req RouteRequest, start time.Time, reason string) RouteResult {
	dest := e.FallbackDestination
	if dest == "" {
		dest = "voicemail"
	}
	res := RouteResult{
		Success:      true,
		TargetType:   TargetVoicemail,
		Destination:  dest,
		RouteTimeMs:  e.elapsedMs(start),
		FallbackUsed: true,
		Message:      reason,
	}
	e.appendLog(ctx, req, res, reason)
	return res
}

// appendLog writes the immutable routing record. Fire-and-forget: sink
// failures are warnings, never part of the decision path.
func (e *Engine) appendLog(ctx context.Context, req RouteRequest, res RouteResult, failureReason string) {
	if e.Logs == nil {
		return
	}
	l := Log{
		LogID:         uuid.NewString(),
		WorkspaceID:   req.WorkspaceID,
		CallSID:       req.CallSID,
		CallerPhone:   req.CallerPhone,
		CampaignID:    req.CampaignID,
		RuleID:        res.RuleID,
		Strategy:      res.Strategy,
		TargetType:    res.TargetType,
		TargetID:      res.TargetID,
		Destination:   res.Destination,
		RouteTimeMs:   res.RouteTimeMs,
		Success:       res.Success && !res.FallbackUsed,
		FailureReason: failureReason,
		FallbackUsed:  res.FallbackUsed,
		SourceIP:      ClientIPFromContext(ctx),
		CreatedAt:     e.Now().UTC(),
	}
	if err := e.Logs.Append(ctx, l); err != nil {
		logger.From(ctx).Warn("routing log append failed", "call_sid", req.CallSID, "err", err)
	}
}

func (e *Engine) elapsedMs(start time.Time) float64 {
	return float64(e.Now().Sub(start).Microseconds()) / 1000.0
}
