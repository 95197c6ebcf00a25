package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"voice-platform/internal/auth"
	"voice-platform/internal/calls"
	"voice-platform/internal/ivr"
	"voice-platform/internal/rbac"
	"voice-platform/internal/reporting"
	"voice-platform/internal/routing"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

// TargetWriter is the admin-side write surface for routing targets; the
// engine itself only ever reads them.
type TargetWriter interface {
	Save(ctx context.Context, t routing.Target) error

	// ReplaceTargets swaps the rule's whole target list atomically.
	ReplaceTargets(ctx context.Context, ruleID string, targets []routing.Target) error
}

// LogLister reads the immutable routing log.
type LogLister interface {
	ListLogs(ctx context.Context, workspaceID, callSID string, limit int) ([]routing.Log, error)
}

type Handlers struct {
	Auth *auth.Manager

	Rules   routing.RuleStore
	Targets TargetWriter
	Logs    LogLister

	Flows    *ivr.FlowService
	Registry *calls.Registry
	Reports  *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Routing rules ---

func (h Handlers) SaveRule(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	var r routing.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	// The token decides the tenant, never the payload.
	r.WorkspaceID = workspaceID
	if err := h.Rules.Save(c.Request.Context(), r); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Handlers) GetRule(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	r, err := h.Rules.Get(c.Request.Context(), workspaceID, c.Param("rule_id"))
	if errors.Is(err, routing.ErrRuleNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rule lookup failed"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Handlers) ListRules(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	rules, err := h.Rules.ListActiveRules(c.Request.Context(), workspaceID, c.Query("campaign_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rule listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h Handlers) SaveTarget(c *gin.Context) {
	if _, ok := h.workspace(c); !ok {
		return
	}
	var t routing.Target
	if err := c.ShouldBindJSON(&t); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	t.RuleID = c.Param("rule_id")
	if t.RuleID == "" || t.Destination == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "rule_id and destination required"})
		return
	}
	if err := h.Targets.Save(c.Request.Context(), t); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h Handlers) ReplaceTargets(c *gin.Context) {
	if _, ok := h.workspace(c); !ok {
		return
	}
	var body struct {
		Targets []routing.Target `json:"targets"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ruleID := c.Param("rule_id")
	for _, t := range body.Targets {
		if t.Destination == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "destination required on every target"})
			return
		}
	}
	if err := h.Targets.ReplaceTargets(c.Request.Context(), ruleID, body.Targets); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule_id": ruleID, "targets": len(body.Targets)})
}

func (h Handlers) ListRoutingLogs(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.Logs.ListLogs(c.Request.Context(), workspaceID, c.Query("call_sid"), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "log listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// --- IVR flows ---

func (h Handlers) CreateFlow(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	var f ivr.Flow
	if err := c.ShouldBindJSON(&f); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	f.WorkspaceID = workspaceID
	created, err := h.Flows.Create(c.Request.Context(), f)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, created)
}

func (h Handlers) UpdateFlow(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	var f ivr.Flow
	if err := c.ShouldBindJSON(&f); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	f.FlowID = c.Param("flow_id")
	f.WorkspaceID = workspaceID
	updated, err := h.Flows.Update(c.Request.Context(), f)
	if errors.Is(err, ivr.ErrFlowNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "flow not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h Handlers) GetFlow(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	f, err := h.Flows.Get(c.Request.Context(), workspaceID, c.Param("flow_id"))
	if errors.Is(err, ivr.ErrFlowNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "flow not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "flow lookup failed"})
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h Handlers) PublishFlow(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	f, err := h.Flows.Publish(c.Request.Context(), workspaceID, c.Param("flow_id"))
	switch {
	case errors.Is(err, ivr.ErrFlowNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "flow not found"})
		return
	case errors.Is(err, ivr.ErrAlreadyPublished):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "flow already published"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
		return
	}
	c.JSON(http.StatusOK, f)
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := h.Registry.ListRecent(c.Request.Context(), workspaceID, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows})
}

// --- Reports ---

func (h Handlers) CallsReport(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	rng, ok := h.timeRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		WorkspaceID: workspaceID,
		Range:       rng,
		CampaignID:  c.Query("campaign_id"),
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) RoutingReport(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	rng, ok := h.timeRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.RoutingSummary(c.Request.Context(), reporting.RoutingSummaryRequest{
		WorkspaceID: workspaceID,
		Range:       rng,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) FlowReport(c *gin.Context) {
	workspaceID, ok := h.workspace(c)
	if !ok {
		return
	}
	out, err := h.Reports.FlowSummary(c.Request.Context(), reporting.FlowSummaryRequest{
		WorkspaceID: workspaceID,
		FlowID:      c.Param("flow_id"),
	})
	if errors.Is(err, ivr.ErrFlowNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "flow not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- helpers ---

func (h Handlers) workspace(c *gin.Context) (string, bool) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return "", false
	}
	return workspaceID, true
}

func (h Handlers) timeRange(c *gin.Context) (reporting.TimeRange, bool) {
	parse := func(key string, fallback time.Time) (time.Time, bool) {
		v := c.Query(key)
		if v == "" {
			return fallback, true
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC3339"})
			return time.Time{}, false
		}
		return t, true
	}
	now := time.Now().UTC()
	from, ok := parse("from", now.Add(-24*time.Hour))
	if !ok {
		return reporting.TimeRange{}, false
	}
	to, ok := parse("to", now)
	if !ok {
		return reporting.TimeRange{}, false
	}
	return reporting.TimeRange{From: from, To: to}, true
}

// Convenience middleware bundles.

func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
