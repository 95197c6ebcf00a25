package routing

import (
	"context"
	"fmt"
	"time"

	"voice-platform/internal/conditions"
)

// Strategy selects the target-picking algorithm for a rule.
type Strategy string

const (
	StrategySkillBased  Strategy = "SKILL_BASED"
	StrategyLeastBusy   Strategy = "LEAST_BUSY"
	StrategyLongestIdle Strategy = "LONGEST_IDLE"
	StrategyRoundRobin  Strategy = "ROUND_ROBIN"
	StrategyLanguage    Strategy = "LANGUAGE"
	StrategyPriority    Strategy = "PRIORITY"
	StrategyDefault     Strategy = "DEFAULT"
)

// TargetType classifies a routing destination.
type TargetType string

const (
	TargetAgent          TargetType = "agent"
	TargetQueue          TargetType = "queue"
	TargetExternalNumber TargetType = "external_number"

	// TargetVoicemail is only produced by the engine's fixed fallback,
	// never stored on a rule.
	TargetVoicemail TargetType = "voicemail"
)

// FallbackAction names what a matched-but-unfillable rule does next.
type FallbackAction string

const (
	FallbackActionRule      FallbackAction = "rule"
	FallbackActionVoicemail FallbackAction = "voicemail"
)

// DayWindow is a single [start,end] window in "HH:MM" local time.
type DayWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ActiveHours maps lowercase weekday names ("monday".."sunday") to a window.
// A missing weekday means the rule is inactive that day.
type ActiveHours map[string]DayWindow

// Rule is a prioritized, conditionally-applicable routing policy.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// Counter fields (TotalCallsRouted, SuccessfulRoutes, AverageRouteTimeMs,
// LastUsedAt) are relaxed-consistency analytics data mutated by many
// concurrent calls through RuleStore.RecordRouteResult. Lost updates are
// acceptable for the averages; ROUND_ROBIN fairness only requires
// TotalCallsRouted to be monotonically non-decreasing, not exact.
type Rule struct {
	RuleID      string `json:"rule_id" db:"rule_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Name        string `json:"name" db:"name"`

	// CampaignID scopes the rule; empty means campaign-agnostic.
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	TeamID     string `json:"team_id,omitempty" db:"team_id"`

	// Priority ascending = evaluated first. Ties break by CreatedAt
	// (stable sort on creation order).
	Priority int  `json:"priority" db:"priority"`
	IsActive bool `json:"is_active" db:"is_active"`

	Strategy Strategy `json:"strategy" db:"strategy"`

	// Conditions combine left-to-right; an empty list always matches.
	Conditions []conditions.Condition `json:"conditions,omitempty" db:"conditions"`

	BusinessHoursOnly bool        `json:"business_hours_only" db:"business_hours_only"`
	ActiveHours       ActiveHours `json:"active_hours,omitempty" db:"active_hours"`
	Timezone          string      `json:"timezone,omitempty" db:"timezone"`

	FallbackEnabled bool           `json:"fallback_enabled" db:"fallback_enabled"`
	FallbackRuleID  string         `json:"fallback_rule_id,omitempty" db:"fallback_rule_id"`
	FallbackAction  FallbackAction `json:"fallback_action,omitempty" db:"fallback_action"`

	TotalCallsRouted   int64      `json:"total_calls_routed" db:"total_calls_routed"`
	SuccessfulRoutes   int64      `json:"successful_routes" db:"successful_routes"`
	AverageRouteTimeMs float64    `json:"average_route_time_ms" db:"average_route_time_ms"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Target is one candidate destination owned by exactly one rule.
type Target struct {
	TargetID string `json:"target_id" db:"target_id"`
	RuleID   string `json:"rule_id" db:"rule_id"`

	TargetType TargetType `json:"target_type" db:"target_type"`

	// Destination identifies the concrete endpoint using the dial scheme:
	// "agent:<id>", "queue:<id>", an E.164 number, or a sip: URI.
	Destination string `json:"destination" db:"destination"`
	Name        string `json:"name,omitempty" db:"name"`

	Weight   int  `json:"weight" db:"weight"`
	IsActive bool `json:"is_active" db:"is_active"`

	RequiredSkills []string `json:"required_skills,omitempty" db:"required_skills"`

	// MinSkillLevel is 0..10; a SKILL_BASED match must score at least
	// MinSkillLevel/10.
	MinSkillLevel int `json:"min_skill_level" db:"min_skill_level"`

	RequiredLanguages []string `json:"required_languages,omitempty" db:"required_languages"`

	// Priority ascending is the tie-break within the rule.
	Priority int `json:"priority" db:"priority"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Log is the immutable audit record of a single routing attempt.
// Created once per RouteCall invocation; never mutated.
type Log struct {
	LogID       string `json:"log_id" db:"log_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	CallSID     string `json:"call_sid" db:"call_sid"`
	CallerPhone string `json:"caller_phone,omitempty" db:"caller_phone"`
	CampaignID  string `json:"campaign_id,omitempty" db:"campaign_id"`

	RuleID   string   `json:"rule_id,omitempty" db:"rule_id"`
	Strategy Strategy `json:"strategy,omitempty" db:"strategy"`

	TargetType  TargetType `json:"target_type,omitempty" db:"target_type"`
	TargetID    string     `json:"target_id,omitempty" db:"target_id"`
	Destination string     `json:"destination,omitempty" db:"destination"`

	RouteTimeMs   float64 `json:"route_time_ms" db:"route_time_ms"`
	Success       bool    `json:"success" db:"success"`
	FailureReason string  `json:"failure_reason,omitempty" db:"failure_reason"`
	FallbackUsed  bool    `json:"fallback_used" db:"fallback_used"`

	SourceIP string `json:"source_ip,omitempty" db:"source_ip"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RuleStore is the persistence contract for rules.
//
// ListActiveRules returns active rules that are either scoped to campaignID
// or campaign-agnostic, sorted ascending by (priority, created_at).
type RuleStore interface {
	ListActiveRules(ctx context.Context, workspaceID, campaignID string) ([]Rule, error)
	Get(ctx context.Context, workspaceID, ruleID string) (Rule, error)
	Save(ctx context.Context, r Rule) error

	// RecordRouteResult applies the counter update atomically at the
	// repository level: TotalCallsRouted++, SuccessfulRoutes++ on success,
	// LastUsedAt=now, and the incremental-mean fold of AverageRouteTimeMs
	// computed from a consistent snapshot.
	RecordRouteResult(ctx context.Context, ruleID string, success bool, routeTimeMs float64, now time.Time) error
}

// TargetStore lists a rule's candidate destinations.
// ListActiveTargets returns active targets sorted ascending by priority.
type TargetStore interface {
	ListActiveTargets(ctx context.Context, ruleID string) ([]Target, error)
}

// LogSink receives routing logs.
//
// It MUST be append-only and treated as best-effort by callers: a sink
// failure never blocks the call decision.
type LogSink interface {
	Append(ctx context.Context, l Log) error
}

// ConfigurationError marks a corrupt rule/target definition. It is fatal for
// the current attempt and should alert operators; it is not a runtime
// condition to retry.
type ConfigurationError struct {
	RuleID string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("routing: configuration error on rule %s: %s", e.RuleID, e.Detail)
}

// IncrementalMean folds one new sample into a running average that already
// covers n-1 samples (n is the new total). Both rule route times and flow
// durations use this exact formula.
func IncrementalMean(avg float64, n int64, sample float64) float64 {
	if n <= 0 {
		return sample
	}
	return (avg*float64(n-1) + sample) / float64(n)
}
