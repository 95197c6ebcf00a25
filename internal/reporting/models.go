package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Workspace isolation: WorkspaceID is required.

type CallsSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Range       TimeRange `json:"range"`
	CampaignID  string    `json:"campaign_id,omitempty"`
}

type CallsSummary struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	InIVRCalls      int `json:"in_ivr_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`
}

// RoutingSummaryRequest requests aggregated routing decision metrics,
// derived from the immutable routing log.

type RoutingSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Range       TimeRange `json:"range"`
}

type RoutingSummary struct {
	WorkspaceID string `json:"workspace_id"`

	TotalDecisions  int `json:"total_decisions"`
	SuccessfulRoutes int `json:"successful_routes"`
	FallbackRoutes  int `json:"fallback_routes"`

	AverageRouteTimeMs float64 `json:"average_route_time_ms"`

	// DecisionsByStrategy counts matched decisions per strategy.
	DecisionsByStrategy map[string]int `json:"decisions_by_strategy"`
}

// FlowSummaryRequest requests the session aggregates of one IVR flow.

type FlowSummaryRequest struct {
	WorkspaceID string `json:"workspace_id"`
	FlowID      string `json:"flow_id"`
}

type FlowSummary struct {
	WorkspaceID string `json:"workspace_id"`
	FlowID      string `json:"flow_id"`
	FlowName    string `json:"flow_name"`

	TotalSessions     int64 `json:"total_sessions"`
	CompletedSessions int64 `json:"completed_sessions"`
	AbandonedSessions int64 `json:"abandoned_sessions"`

	CompletionRate         float64 `json:"completion_rate"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
}
