package reporting

import (
	"context"
	"errors"
	"time"

	"voice-platform/internal/calls"
	"voice-platform/internal/ivr"
	"voice-platform/internal/routing"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce workspace filtering.
// - Implementations should query immutable sources when possible (routing
//   logs, call records, flow aggregates).

type Repository interface {
	ListCalls(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]calls.Call, error)
	ListRoutingLogs(ctx context.Context, workspaceID string, from, to time.Time) ([]routing.Log, error)
	GetFlow(ctx context.Context, workspaceID, flowID string) (ivr.Flow, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.WorkspaceID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.WorkspaceID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{WorkspaceID: req.WorkspaceID, CampaignID: req.CampaignID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusCanceled:
			out.CanceledCalls++
		case calls.CallStatusInProgress:
			out.InProgressCalls++
		case calls.CallStatusInIVR:
			out.InIVRCalls++
		case calls.CallStatusRinging, calls.CallStatusQueued:
			// not counted separately
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

func (s *Service) RoutingSummary(ctx context.Context, req RoutingSummaryRequest) (RoutingSummary, error) {
	if req.WorkspaceID == "" {
		return RoutingSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return RoutingSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return RoutingSummary{}, errors.New("reporting: repository not configured")
	}

	logs, err := s.repo.ListRoutingLogs(ctx, req.WorkspaceID, req.Range.From, req.Range.To)
	if err != nil {
		return RoutingSummary{}, err
	}

	out := RoutingSummary{
		WorkspaceID:         req.WorkspaceID,
		DecisionsByStrategy: map[string]int{},
	}
	var totalMs float64
	for _, l := range logs {
		out.TotalDecisions++
		totalMs += l.RouteTimeMs
		if l.Success {
			out.SuccessfulRoutes++
		}
		if l.FallbackUsed {
			out.FallbackRoutes++
		}
		if l.Strategy != "" {
			out.DecisionsByStrategy[string(l.Strategy)]++
		}
	}
	if out.TotalDecisions > 0 {
		out.AverageRouteTimeMs = totalMs / float64(out.TotalDecisions)
	}
	return out, nil
}

func (s *Service) FlowSummary(ctx context.Context, req FlowSummaryRequest) (FlowSummary, error) {
	if req.WorkspaceID == "" || req.FlowID == "" {
		return FlowSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return FlowSummary{}, errors.New("reporting: repository not configured")
	}

	f, err := s.repo.GetFlow(ctx, req.WorkspaceID, req.FlowID)
	if err != nil {
		return FlowSummary{}, err
	}

	out := FlowSummary{
		WorkspaceID:            req.WorkspaceID,
		FlowID:                 f.FlowID,
		FlowName:               f.Name,
		TotalSessions:          f.TotalSessions,
		CompletedSessions:      f.CompletedSessions,
		AbandonedSessions:      f.AbandonedSessions,
		AverageDurationSeconds: f.AverageDurationSeconds,
	}
	if ended := f.CompletedSessions + f.AbandonedSessions; ended > 0 {
		out.CompletionRate = float64(f.CompletedSessions) / float64(ended)
	}
	return out, nil
}
