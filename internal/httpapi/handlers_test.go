package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"voice-platform/internal/auth"
	"voice-platform/internal/calls"
	"voice-platform/internal/ivr"
	"voice-platform/internal/rbac"
	"voice-platform/internal/reporting"
	"voice-platform/internal/routing"

	"github.com/gin-gonic/gin"
)

func identityMW(workspaceID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u1", workspaceID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type apiFixture struct {
	router  *gin.Engine
	rules   *routing.MemoryRuleStore
	targets *routing.MemoryTargetStore
	logs    *routing.MemoryLogStore
	flows   *ivr.MemoryFlowStore
	reports *reporting.MemoryRepo
}

func newAPIFixture(t *testing.T, workspaceID, role string) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{
		rules:   routing.NewMemoryRuleStore(),
		targets: routing.NewMemoryTargetStore(),
		logs:    routing.NewMemoryLogStore(),
		flows:   ivr.NewMemoryFlowStore(),
		reports: reporting.NewMemoryRepo(),
	}
	h := Handlers{
		Rules:    f.rules,
		Targets:  f.targets,
		Logs:     f.logs,
		Flows:    ivr.NewFlowService(f.flows),
		Registry: calls.NewRegistry(calls.NewMemoryStore()),
		Reports:  reporting.NewService(f.reports),
	}

	r := gin.New()
	r.Use(identityMW(workspaceID, role))
	guarded := r.Group("", RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleSupervisor)...)
	guarded.POST("/rules", h.SaveRule)
	guarded.GET("/rules", h.ListRules)
	guarded.GET("/rules/:rule_id", h.GetRule)
	guarded.PUT("/rules/:rule_id/targets", h.ReplaceTargets)
	guarded.POST("/flows", h.CreateFlow)
	guarded.POST("/flows/:flow_id/publish", h.PublishFlow)
	guarded.GET("/flows/:flow_id/summary", h.FlowReport)
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestSaveRule_WorkspaceComesFromToken(t *testing.T) {
	f := newAPIFixture(t, "ws-1", rbac.RoleOwner)

	w := f.do(t, http.MethodPost, "/rules", routing.Rule{
		RuleID:      "rule-1",
		WorkspaceID: "ws-other", // must be overridden by the token workspace
		Name:        "vip",
		IsActive:    true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	saved, err := f.rules.Get(context.Background(), "ws-1", "rule-1")
	if err != nil {
		t.Fatalf("rule not saved under token workspace: %v", err)
	}
	if saved.WorkspaceID != "ws-1" {
		t.Fatalf("workspace = %s", saved.WorkspaceID)
	}
}

func TestGetRule_OtherWorkspaceIs404(t *testing.T) {
	f := newAPIFixture(t, "ws-1", rbac.RoleOwner)
	if err := f.rules.Save(context.Background(), routing.Rule{RuleID: "rule-2", WorkspaceID: "ws-2", IsActive: true}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	w := f.do(t, http.MethodGet, "/rules/rule-2", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestReplaceTargets(t *testing.T) {
	f := newAPIFixture(t, "ws-1", rbac.RoleSupervisor)
	f.targets.Add(routing.Target{RuleID: "rule-1", Destination: "agent:old", IsActive: true})

	w := f.do(t, http.MethodPut, "/rules/rule-1/targets", map[string]any{
		"targets": []routing.Target{
			{TargetType: routing.TargetAgent, Destination: "agent:42", IsActive: true},
			{TargetType: routing.TargetQueue, Destination: "queue:sales", IsActive: true, Priority: 1},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	targets, err := f.targets.ListActiveTargets(context.Background(), "rule-1")
	if err != nil {
		t.Fatalf("list targets: %v", err)
	}
	if len(targets) != 2 || targets[0].Destination != "agent:42" {
		t.Fatalf("targets = %+v", targets)
	}
}

func TestCreateAndPublishFlow(t *testing.T) {
	f := newAPIFixture(t, "ws-1", rbac.RoleOwner)

	flow := ivr.Flow{
		FlowID:      "flow-1",
		Name:        "front door",
		EntryNodeID: "bye",
		Nodes: map[string]ivr.Node{
			"bye": {Type: ivr.NodeEndCall, Message: "Goodbye."},
		},
	}
	if w := f.do(t, http.MethodPost, "/flows", flow); w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/flows/flow-1/publish", nil); w.Code != http.StatusOK {
		t.Fatalf("publish status = %d, body = %s", w.Code, w.Body.String())
	}
	// Publishing twice is a conflict.
	if w := f.do(t, http.MethodPost, "/flows/flow-1/publish", nil); w.Code != http.StatusConflict {
		t.Fatalf("second publish status = %d", w.Code)
	}
}

func TestFlowReport(t *testing.T) {
	f := newAPIFixture(t, "ws-1", rbac.RoleOwner)
	f.reports.Flows = append(f.reports.Flows, ivr.Flow{
		FlowID:            "flow-1",
		WorkspaceID:       "ws-1",
		Name:              "front door",
		TotalSessions:     4,
		CompletedSessions: 3,
		AbandonedSessions: 1,
	})

	w := f.do(t, http.MethodGet, "/flows/flow-1/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out reporting.FlowSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.CompletionRate != 0.75 {
		t.Fatalf("completion rate = %v", out.CompletionRate)
	}
}

func TestAgentRoleCannotWriteRules(t *testing.T) {
	f := newAPIFixture(t, "ws-1", rbac.RoleAgent)
	w := f.do(t, http.MethodPost, "/rules", routing.Rule{RuleID: "rule-1", Name: "vip"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}
