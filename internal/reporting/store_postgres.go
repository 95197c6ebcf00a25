package reporting

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voice-platform/internal/calls"
	"voice-platform/internal/ivr"
	"voice-platform/internal/routing"
)

// PostgresRepo reads summaries from the immutable sources directly.
//
// Queries project only the columns the summaries fold over; the returned
// structs are partial and must not be written back.
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{DB: db} }

func (r *PostgresRepo) ListCalls(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]calls.Call, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT status, duration, recording_url
		FROM calls
		WHERE workspace_id = $1
		  AND created_at >= $2 AND created_at < $3
		  AND ($4 = '' OR campaign_id = $4)`,
		workspaceID, from, to, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.Call
	for rows.Next() {
		var c calls.Call
		var status string
		if err := rows.Scan(&status, &c.DurationSeconds, &c.RecordingURL); err != nil {
			return nil, err
		}
		c.Status = calls.CallStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListRoutingLogs(ctx context.Context, workspaceID string, from, to time.Time) ([]routing.Log, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT strategy, route_time_ms, success, fallback_used
		FROM routing_logs
		WHERE workspace_id = $1
		  AND created_at >= $2 AND created_at < $3`,
		workspaceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []routing.Log
	for rows.Next() {
		var l routing.Log
		var strategy string
		if err := rows.Scan(&strategy, &l.RouteTimeMs, &l.Success, &l.FallbackUsed); err != nil {
			return nil, err
		}
		l.Strategy = routing.Strategy(strategy)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetFlow(ctx context.Context, workspaceID, flowID string) (ivr.Flow, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT flow_id, name, total_sessions, completed_sessions, abandoned_sessions, average_duration_seconds
		FROM ivr_flows
		WHERE workspace_id = $1 AND flow_id = $2`,
		workspaceID, flowID)

	var f ivr.Flow
	err := row.Scan(&f.FlowID, &f.Name, &f.TotalSessions, &f.CompletedSessions, &f.AbandonedSessions, &f.AverageDurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return ivr.Flow{}, ivr.ErrFlowNotFound
	}
	if err != nil {
		return ivr.Flow{}, err
	}
	f.WorkspaceID = workspaceID
	return f, nil
}
