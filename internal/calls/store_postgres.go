package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists the call registry. Driver is pgx via database/sql
// (see pkg/utils).
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{DB: db} }

const callColumns = `call_id, workspace_id, campaign_id, call_sid, from_number, to_number,
	direction, status, ivr_flow_id, routed_rule_id, routed_destination,
	duration, hangup_reason, recording_url, created_at, updated_at`

func (s *PostgresStore) GetBySID(ctx context.Context, callSID string) (Call, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE call_sid = $1`,
		callSID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrCallNotFound
	}
	return c, err
}

func (s *PostgresStore) Save(ctx context.Context, c Call) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO calls (`+callColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (call_sid) DO UPDATE SET
			status = EXCLUDED.status,
			ivr_flow_id = EXCLUDED.ivr_flow_id,
			routed_rule_id = EXCLUDED.routed_rule_id,
			routed_destination = EXCLUDED.routed_destination,
			duration = EXCLUDED.duration,
			hangup_reason = EXCLUDED.hangup_reason,
			recording_url = EXCLUDED.recording_url,
			updated_at = EXCLUDED.updated_at`,
		c.CallID, c.WorkspaceID, c.CampaignID, c.CallSID, c.From, c.To,
		string(c.Direction), string(c.Status), c.IVRFlowID, c.RoutedRuleID, c.RoutedDestination,
		c.DurationSeconds, c.HangupReason, c.RecordingURL, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *PostgresStore) ListRecent(ctx context.Context, workspaceID string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+callColumns+`
		FROM calls
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type callScanner interface {
	Scan(dest ...any) error
}

func scanCall(row callScanner) (Call, error) {
	var c Call
	var direction, status string
	err := row.Scan(
		&c.CallID, &c.WorkspaceID, &c.CampaignID, &c.CallSID, &c.From, &c.To,
		&direction, &status, &c.IVRFlowID, &c.RoutedRuleID, &c.RoutedDestination,
		&c.DurationSeconds, &c.HangupReason, &c.RecordingURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Call{}, err
	}
	c.Direction = Direction(direction)
	c.Status = CallStatus(status)
	return c, nil
}
