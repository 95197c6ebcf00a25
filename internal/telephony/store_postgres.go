package telephony

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNumberNotFound = errors.New("telephony: number not routed")

// PostgresNumberStore maps provisioned phone numbers to their owning
// workspace and the flow that answers them. One row per number; the
// number itself is the key since carriers never hand the same E.164
// number to two tenants.
type PostgresNumberStore struct {
	DB *sql.DB
}

func NewPostgresNumberStore(db *sql.DB) *PostgresNumberStore { return &PostgresNumberStore{DB: db} }

func (s *PostgresNumberStore) Resolve(ctx context.Context, phoneNumber string) (NumberRoute, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT workspace_id, flow_id, campaign_id
		FROM workspace_numbers
		WHERE phone_number = $1 AND is_active`,
		phoneNumber)

	var nr NumberRoute
	err := row.Scan(&nr.WorkspaceID, &nr.FlowID, &nr.CampaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return NumberRoute{}, ErrNumberNotFound
	}
	if err != nil {
		return NumberRoute{}, err
	}
	return nr, nil
}

func (s *PostgresNumberStore) Save(ctx context.Context, phoneNumber string, nr NumberRoute) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO workspace_numbers (phone_number, workspace_id, flow_id, campaign_id, is_active, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (phone_number) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			flow_id      = EXCLUDED.flow_id,
			campaign_id  = EXCLUDED.campaign_id,
			is_active    = TRUE,
			updated_at   = EXCLUDED.updated_at`,
		phoneNumber, nr.WorkspaceID, nr.FlowID, nr.CampaignID, time.Now().UTC())
	return err
}
