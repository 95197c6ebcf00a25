package calls

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Registry tracks the lifecycle of every call the platform touches. It is
// bookkeeping only; call-flow decisions live in routing and ivr.
type Registry struct {
	store Store
	clock func() time.Time
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store, clock: time.Now}
}

// StartInbound registers a new inbound call in queued state.
func (r *Registry) StartInbound(ctx context.Context, workspaceID, callSID, from, to, campaignID string) (Call, error) {
	now := r.clock().UTC()
	c := Call{
		CallID:      uuid.NewString(),
		WorkspaceID: workspaceID,
		CampaignID:  campaignID,
		CallSID:     callSID,
		From:        from,
		To:          to,
		Direction:   DirectionInbound,
		Status:      CallStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.Save(ctx, c); err != nil {
		return Call{}, err
	}
	return c, nil
}

// MarkInIVR records that the call entered an IVR flow.
func (r *Registry) MarkInIVR(ctx context.Context, callSID, flowID string) error {
	return r.update(ctx, callSID, func(c *Call) {
		c.Status = CallStatusInIVR
		c.IVRFlowID = flowID
	})
}

// MarkRouted records the routing outcome and moves the call in progress.
func (r *Registry) MarkRouted(ctx context.Context, callSID, ruleID, destination string) error {
	return r.update(ctx, callSID, func(c *Call) {
		c.Status = CallStatusInProgress
		c.RoutedRuleID = ruleID
		c.RoutedDestination = destination
	})
}

// Complete finalizes the call with its terminal status and duration.
func (r *Registry) Complete(ctx context.Context, callSID string, status CallStatus, hangupReason string) error {
	return r.update(ctx, callSID, func(c *Call) {
		c.Status = status
		c.HangupReason = hangupReason
		c.DurationSeconds = int(r.clock().UTC().Sub(c.CreatedAt).Seconds())
		if c.DurationSeconds < 0 {
			c.DurationSeconds = 0
		}
	})
}

// AttachRecording stores the voicemail recording URL on the call.
func (r *Registry) AttachRecording(ctx context.Context, callSID, recordingURL string) error {
	return r.update(ctx, callSID, func(c *Call) {
		c.RecordingURL = recordingURL
	})
}

func (r *Registry) Get(ctx context.Context, callSID string) (Call, error) {
	return r.store.GetBySID(ctx, callSID)
}

func (r *Registry) ListRecent(ctx context.Context, workspaceID string, limit int) ([]Call, error) {
	return r.store.ListRecent(ctx, workspaceID, limit)
}

func (r *Registry) update(ctx context.Context, callSID string, mutate func(*Call)) error {
	c, err := r.store.GetBySID(ctx, callSID)
	if err != nil {
		return err
	}
	mutate(&c)
	c.UpdatedAt = r.clock().UTC()
	return r.store.Save(ctx, c)
}
