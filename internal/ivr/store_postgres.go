package ivr

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresFlowStore persists flow definitions. Driver is pgx via
// database/sql (see pkg/utils). Nodes are stored as a JSONB column; the
// graph shape is too fluid for a relational decomposition to pay off.
type PostgresFlowStore struct {
	DB *sql.DB
}

func NewPostgresFlowStore(db *sql.DB) *PostgresFlowStore { return &PostgresFlowStore{DB: db} }

const flowColumns = `flow_id, workspace_id, name, nodes, entry_node_id, default_language,
	max_retries, timeout_seconds, invalid_input_message, timeout_message, error_node_id,
	version, published_at,
	total_sessions, completed_sessions, abandoned_sessions, average_duration_seconds,
	created_at, updated_at`

func (s *PostgresFlowStore) Get(ctx context.Context, flowID string) (Flow, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+flowColumns+`
		FROM ivr_flows
		WHERE flow_id = $1`,
		flowID)

	var f Flow
	var nodesJSON []byte
	var published sql.NullTime
	err := row.Scan(
		&f.FlowID, &f.WorkspaceID, &f.Name, &nodesJSON, &f.EntryNodeID, &f.DefaultLanguage,
		&f.MaxRetries, &f.TimeoutSeconds, &f.InvalidInputMessage, &f.TimeoutMessage, &f.ErrorNodeID,
		&f.Version, &published,
		&f.TotalSessions, &f.CompletedSessions, &f.AbandonedSessions, &f.AverageDurationSeconds,
		&f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Flow{}, ErrFlowNotFound
	}
	if err != nil {
		return Flow{}, err
	}
	if published.Valid {
		t := published.Time
		f.PublishedAt = &t
	}
	if err := json.Unmarshal(nodesJSON, &f.Nodes); err != nil {
		return Flow{}, &ConfigurationError{FlowID: f.FlowID, Detail: "nodes json invalid: " + err.Error()}
	}
	return f, nil
}

func (s *PostgresFlowStore) Save(ctx context.Context, f Flow) error {
	if f.FlowID == "" {
		f.FlowID = uuid.NewString()
	}
	nodesJSON, err := json.Marshal(f.Nodes)
	if err != nil {
		return err
	}

	var published any
	if f.PublishedAt != nil {
		published = f.PublishedAt.UTC()
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO ivr_flows (`+flowColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (flow_id) DO UPDATE SET
			name = EXCLUDED.name,
			nodes = EXCLUDED.nodes,
			entry_node_id = EXCLUDED.entry_node_id,
			default_language = EXCLUDED.default_language,
			max_retries = EXCLUDED.max_retries,
			timeout_seconds = EXCLUDED.timeout_seconds,
			invalid_input_message = EXCLUDED.invalid_input_message,
			timeout_message = EXCLUDED.timeout_message,
			error_node_id = EXCLUDED.error_node_id,
			version = EXCLUDED.version,
			published_at = EXCLUDED.published_at,
			updated_at = EXCLUDED.updated_at`,
		f.FlowID, f.WorkspaceID, f.Name, nodesJSON, f.EntryNodeID, f.DefaultLanguage,
		f.MaxRetries, f.TimeoutSeconds, f.InvalidInputMessage, f.TimeoutMessage, f.ErrorNodeID,
		f.Version, published,
		f.TotalSessions, f.CompletedSessions, f.AbandonedSessions, f.AverageDurationSeconds,
		f.CreatedAt, f.UpdatedAt)
	return err
}

func (s *PostgresFlowStore) RecordSessionStart(ctx context.Context, flowID string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE ivr_flows SET total_sessions = total_sessions + 1, updated_at = $2
		WHERE flow_id = $1`,
		flowID, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func (s *PostgresFlowStore) RecordSessionEnd(ctx context.Context, flowID string, completed bool, durationSeconds float64) error {
	// One statement keeps the mean consistent with the counters it divides by.
	res, err := s.DB.ExecContext(ctx, `
		UPDATE ivr_flows SET
			completed_sessions = completed_sessions + CASE WHEN $2 THEN 1 ELSE 0 END,
			abandoned_sessions = abandoned_sessions + CASE WHEN $2 THEN 0 ELSE 1 END,
			average_duration_seconds =
				(average_duration_seconds * (completed_sessions + abandoned_sessions) + $3)
				/ (completed_sessions + abandoned_sessions + 1),
			updated_at = $4
		WHERE flow_id = $1`,
		flowID, completed, durationSeconds, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrFlowNotFound
	}
	return nil
}
