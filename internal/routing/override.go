package routing

import (
	"context"
	"errors"
	"time"
)

// OverrideEngine applies silent, expiry-based emergency routing overrides.
//
// Requirements:
// - Silent: callers must not be able to infer that an override was used,
//   so no special reason/message reaches user-facing results.
// - Expiry based: overrides are time-bounded.
// - Internal audit: every applied override lands in the routing log sink.
//
// It is placed ahead of normal rule evaluation and only decides; it never
// touches providers or persistence beyond the audit append.
type OverrideEngine struct {
	Store OverrideStore
	Audit LogSink
	Now   func() time.Time
}

// OverrideStore resolves currently-active overrides.
// Implementations may use Postgres/Redis.
//
// SECURITY NOTE:
// Keep this data plane accessible only to privileged internal services.
type OverrideStore interface {
	// GetActiveOverride returns an active override for this call, if any.
	// If none exists it returns (Override{}, false, nil).
	GetActiveOverride(ctx context.Context, workspaceID, campaignID, callerPhone string, now time.Time) (Override, bool, error)
}

type Override struct {
	OverrideID  string
	WorkspaceID string
	CampaignID  string

	// Destination is the forced dial target.
	Destination string

	// ExpiresAt marks when the override stops applying.
	ExpiresAt time.Time

	Metadata string
}

func NewOverrideEngine(store OverrideStore, audit LogSink) *OverrideEngine {
	return &OverrideEngine{Store: store, Audit: audit, Now: time.Now}
}

// Decide returns (destination, true, nil) when an active override applies.
func (e *OverrideEngine) Decide(ctx context.Context, workspaceID, campaignID, callSID, callerPhone string) (string, bool, error) {
	if workspaceID == "" {
		return "", false, errors.New("routing: workspace_id required")
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.Store == nil {
		return "", false, nil
	}

	now := e.Now()
	o, ok, err := e.Store.GetActiveOverride(ctx, workspaceID, campaignID, callerPhone, now)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	if !o.ExpiresAt.After(now) {
		// Treat as not found; the store should ideally filter these out.
		return "", false, nil
	}
	if o.Destination == "" {
		return "", false, errors.New("routing: override destination empty")
	}

	// Internal audit via the append-only routing log.
	if e.Audit != nil {
		_ = e.Audit.Append(ctx, Log{
			WorkspaceID: workspaceID,
			CallSID:     callSID,
			CallerPhone: callerPhone,
			CampaignID:  campaignID,
			RuleID:      o.OverrideID,
			TargetType:  TargetExternalNumber,
			Destination: o.Destination,
			Success:     true,
			SourceIP:    ClientIPFromContext(ctx),
			CreatedAt:   now.UTC(),
		})
	}

	return o.Destination, true, nil
}
