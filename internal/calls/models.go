package calls

import (
	"context"
	"errors"
	"time"
)

// Call represents a tenant-scoped phone call.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// NOTE: This is a domain model only. CallSID is the provider's identifier
// (Twilio CallSid or the SIP gateway's UUID) and is the join key for all
// webhook events; CallID stays internal and provider-agnostic.
type Call struct {
	CallID      string `json:"call_id" db:"call_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	CampaignID  string `json:"campaign_id,omitempty" db:"campaign_id"`

	CallSID string `json:"call_sid" db:"call_sid"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Direction Direction  `json:"direction" db:"direction"`
	Status    CallStatus `json:"status" db:"status"`

	// IVRFlowID is set when the call entered an IVR flow.
	IVRFlowID string `json:"ivr_flow_id,omitempty" db:"ivr_flow_id"`

	// Routing outcome, once the call left the IVR (or skipped it).
	RoutedRuleID      string `json:"routed_rule_id,omitempty" db:"routed_rule_id"`
	RoutedDestination string `json:"routed_destination,omitempty" db:"routed_destination"`

	// Duration is the call duration in seconds.
	// Keep as an int for JSON friendliness; store as INT in Postgres.
	DurationSeconds int `json:"duration" db:"duration"`

	HangupReason string `json:"hangup_reason,omitempty" db:"hangup_reason"`
	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInIVR      CallStatus = "in_ivr"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

var ErrCallNotFound = errors.New("calls: call not found")

// Store is the persistence contract for the call registry. Lookups are by
// provider call SID because that is what webhook events carry.
type Store interface {
	GetBySID(ctx context.Context, callSID string) (Call, error)
	Save(ctx context.Context, c Call) error
	ListRecent(ctx context.Context, workspaceID string, limit int) ([]Call, error)
}
