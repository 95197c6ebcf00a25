package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"voice-platform/pkg/utils"

	"github.com/google/uuid"
)

// Postgres-backed stores. Driver is pgx via database/sql (see pkg/utils).
//
// Counter updates happen inside a single UPDATE expression so the
// incremental mean is computed from a consistent row snapshot; concurrent
// calls cannot interleave a read-modify-write.

type PostgresRuleStore struct {
	DB *sql.DB
}

func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore { return &PostgresRuleStore{DB: db} }

const ruleColumns = `rule_id, workspace_id, name, campaign_id, team_id, priority, is_active,
	strategy, conditions, business_hours_only, active_hours, timezone,
	fallback_enabled, fallback_rule_id, fallback_action,
	total_calls_routed, successful_routes, average_route_time_ms, last_used_at,
	created_at, updated_at`

func (s *PostgresRuleStore) ListActiveRules(ctx context.Context, workspaceID, campaignID string) ([]Rule, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM routing_rules
		WHERE workspace_id = $1
		  AND is_active
		  AND (campaign_id = '' OR campaign_id = $2)
		ORDER BY priority ASC, created_at ASC`,
		workspaceID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresRuleStore) Get(ctx context.Context, workspaceID, ruleID string) (Rule, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM routing_rules
		WHERE workspace_id = $1 AND rule_id = $2`,
		workspaceID, ruleID)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, ErrRuleNotFound
	}
	return r, err
}

func (s *PostgresRuleStore) Save(ctx context.Context, r Rule) error {
	if r.RuleID == "" {
		r.RuleID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	condsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	hoursJSON, err := json.Marshal(r.ActiveHours)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO routing_rules (`+ruleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (rule_id) DO UPDATE SET
			name = EXCLUDED.name,
			campaign_id = EXCLUDED.campaign_id,
			team_id = EXCLUDED.team_id,
			priority = EXCLUDED.priority,
			is_active = EXCLUDED.is_active,
			strategy = EXCLUDED.strategy,
			conditions = EXCLUDED.conditions,
			business_hours_only = EXCLUDED.business_hours_only,
			active_hours = EXCLUDED.active_hours,
			timezone = EXCLUDED.timezone,
			fallback_enabled = EXCLUDED.fallback_enabled,
			fallback_rule_id = EXCLUDED.fallback_rule_id,
			fallback_action = EXCLUDED.fallback_action,
			updated_at = EXCLUDED.updated_at`,
		r.RuleID, r.WorkspaceID, r.Name, r.CampaignID, r.TeamID, r.Priority, r.IsActive,
		string(r.Strategy), condsJSON, r.BusinessHoursOnly, hoursJSON, r.Timezone,
		r.FallbackEnabled, r.FallbackRuleID, string(r.FallbackAction),
		r.TotalCallsRouted, r.SuccessfulRoutes, r.AverageRouteTimeMs, r.LastUsedAt,
		r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *PostgresRuleStore) RecordRouteResult(ctx context.Context, ruleID string, success bool, routeTimeMs float64, now time.Time) error {
	// One statement keeps the mean consistent with the counter it divides by.
	res, err := s.DB.ExecContext(ctx, `
		UPDATE routing_rules SET
			total_calls_routed = total_calls_routed + 1,
			successful_routes = successful_routes + CASE WHEN $2 THEN 1 ELSE 0 END,
			average_route_time_ms = (average_route_time_ms * total_calls_routed + $3) / (total_calls_routed + 1),
			last_used_at = $4
		WHERE rule_id = $1`,
		ruleID, success, routeTimeMs, now.UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (Rule, error) {
	var r Rule
	var strategy, fallbackAction string
	var condsJSON, hoursJSON []byte
	var lastUsed sql.NullTime

	err := row.Scan(
		&r.RuleID, &r.WorkspaceID, &r.Name, &r.CampaignID, &r.TeamID, &r.Priority, &r.IsActive,
		&strategy, &condsJSON, &r.BusinessHoursOnly, &hoursJSON, &r.Timezone,
		&r.FallbackEnabled, &r.FallbackRuleID, &fallbackAction,
		&r.TotalCallsRouted, &r.SuccessfulRoutes, &r.AverageRouteTimeMs, &lastUsed,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Rule{}, err
	}
	r.Strategy = Strategy(strategy)
	r.FallbackAction = FallbackAction(fallbackAction)
	if lastUsed.Valid {
		t := lastUsed.Time
		r.LastUsedAt = &t
	}
	if len(condsJSON) > 0 {
		if err := json.Unmarshal(condsJSON, &r.Conditions); err != nil {
			return Rule{}, &ConfigurationError{RuleID: r.RuleID, Detail: "conditions json invalid: " + err.Error()}
		}
	}
	if len(hoursJSON) > 0 {
		if err := json.Unmarshal(hoursJSON, &r.ActiveHours); err != nil {
			return Rule{}, &ConfigurationError{RuleID: r.RuleID, Detail: "active_hours json invalid: " + err.Error()}
		}
	}
	return r, nil
}

type PostgresTargetStore struct {
	DB *sql.DB
}

func NewPostgresTargetStore(db *sql.DB) *PostgresTargetStore { return &PostgresTargetStore{DB: db} }

func (s *PostgresTargetStore) Save(ctx context.Context, t Target) error {
	return upsertTarget(ctx, s.DB, t)
}

// ReplaceTargets swaps a rule's whole target list in one transaction, so a
// concurrent RouteCall sees either the old list or the new one, never a mix.
func (s *PostgresTargetStore) ReplaceTargets(ctx context.Context, ruleID string, targets []Target) error {
	return utils.WithTx(ctx, s.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM routing_targets WHERE rule_id = $1`, ruleID); err != nil {
			return err
		}
		for _, t := range targets {
			t.RuleID = ruleID
			if err := upsertTarget(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertTarget(ctx context.Context, db execer, t Target) error {
	if t.TargetID == "" {
		t.TargetID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	skillsJSON, err := json.Marshal(t.RequiredSkills)
	if err != nil {
		return err
	}
	langsJSON, err := json.Marshal(t.RequiredLanguages)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO routing_targets (
			target_id, rule_id, target_type, destination, name, weight, is_active,
			required_skills, min_skill_level, required_languages, priority, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (target_id) DO UPDATE SET
			target_type = EXCLUDED.target_type,
			destination = EXCLUDED.destination,
			name = EXCLUDED.name,
			weight = EXCLUDED.weight,
			is_active = EXCLUDED.is_active,
			required_skills = EXCLUDED.required_skills,
			min_skill_level = EXCLUDED.min_skill_level,
			required_languages = EXCLUDED.required_languages,
			priority = EXCLUDED.priority`,
		t.TargetID, t.RuleID, string(t.TargetType), t.Destination, t.Name, t.Weight, t.IsActive,
		skillsJSON, t.MinSkillLevel, langsJSON, t.Priority, t.CreatedAt)
	return err
}

func (s *PostgresTargetStore) ListActiveTargets(ctx context.Context, ruleID string) ([]Target, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT target_id, rule_id, target_type, destination, name, weight, is_active,
		       required_skills, min_skill_level, required_languages, priority, created_at
		FROM routing_targets
		WHERE rule_id = $1 AND is_active
		ORDER BY priority ASC, created_at ASC`,
		ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var t Target
		var targetType string
		var skillsJSON, langsJSON []byte
		if err := rows.Scan(&t.TargetID, &t.RuleID, &targetType, &t.Destination, &t.Name,
			&t.Weight, &t.IsActive, &skillsJSON, &t.MinSkillLevel, &langsJSON,
			&t.Priority, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.TargetType = TargetType(targetType)
		if len(skillsJSON) > 0 {
			if err := json.Unmarshal(skillsJSON, &t.RequiredSkills); err != nil {
				return nil, &ConfigurationError{RuleID: ruleID, Detail: "required_skills json invalid"}
			}
		}
		if len(langsJSON) > 0 {
			if err := json.Unmarshal(langsJSON, &t.RequiredLanguages); err != nil {
				return nil, &ConfigurationError{RuleID: ruleID, Detail: "required_languages json invalid"}
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PostgresLogStore appends immutable routing logs.
// Rows are never updated or deleted.
type PostgresLogStore struct {
	DB *sql.DB
}

func NewPostgresLogStore(db *sql.DB) *PostgresLogStore { return &PostgresLogStore{DB: db} }

func (s *PostgresLogStore) Append(ctx context.Context, l Log) error {
	if l.LogID == "" {
		l.LogID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO routing_logs (
			log_id, workspace_id, call_sid, caller_phone, campaign_id,
			rule_id, strategy, target_type, target_id, destination,
			route_time_ms, success, failure_reason, fallback_used, source_ip, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		l.LogID, l.WorkspaceID, l.CallSID, l.CallerPhone, l.CampaignID,
		l.RuleID, string(l.Strategy), string(l.TargetType), l.TargetID, l.Destination,
		l.RouteTimeMs, l.Success, l.FailureReason, l.FallbackUsed, l.SourceIP, l.CreatedAt)
	return err
}

// ListLogs returns recent routing logs for a workspace, newest first.
func (s *PostgresLogStore) ListLogs(ctx context.Context, workspaceID, callSID string, limit int) ([]Log, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT log_id, workspace_id, call_sid, caller_phone, campaign_id,
		       rule_id, strategy, target_type, target_id, destination,
		       route_time_ms, success, failure_reason, fallback_used, source_ip, created_at
		FROM routing_logs
		WHERE workspace_id = $1 AND ($2 = '' OR call_sid = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		workspaceID, callSID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Log
	for rows.Next() {
		var l Log
		var strategy, targetType string
		if err := rows.Scan(&l.LogID, &l.WorkspaceID, &l.CallSID, &l.CallerPhone, &l.CampaignID,
			&l.RuleID, &strategy, &targetType, &l.TargetID, &l.Destination,
			&l.RouteTimeMs, &l.Success, &l.FailureReason, &l.FallbackUsed, &l.SourceIP, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Strategy = Strategy(strategy)
		l.TargetType = TargetType(targetType)
		out = append(out, l)
	}
	return out, rows.Err()
}
