package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"voice-platform/internal/calls"
	"voice-platform/internal/ivr"
	"voice-platform/internal/routing"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
// It enforces workspace isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Calls []calls.Call
	Logs  []routing.Log
	Flows []ivr.Flow
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCalls(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]calls.Call, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Call, 0)
	for _, c := range r.Calls {
		if c.WorkspaceID != workspaceID {
			continue
		}
		if !c.CreatedAt.IsZero() {
			if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
				continue
			}
		}
		if campaignID != "" && c.CampaignID != campaignID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListRoutingLogs(ctx context.Context, workspaceID string, from, to time.Time) ([]routing.Log, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]routing.Log, 0)
	for _, l := range r.Logs {
		if l.WorkspaceID != workspaceID {
			continue
		}
		if !l.CreatedAt.IsZero() {
			if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *MemoryRepo) GetFlow(ctx context.Context, workspaceID, flowID string) (ivr.Flow, error) {
	if workspaceID == "" {
		return ivr.Flow{}, errors.New("workspace_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.Flows {
		if f.WorkspaceID == workspaceID && f.FlowID == flowID {
			return f, nil
		}
	}
	return ivr.Flow{}, ivr.ErrFlowNotFound
}
