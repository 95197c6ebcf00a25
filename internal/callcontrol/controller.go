package callcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voice-platform/internal/calls"
	"voice-platform/internal/ivr"
	"voice-platform/internal/routing"
	"voice-platform/pkg/logger"
)

// Directive is the controller's answer to one telephony event: either an
// abstract IVR action to render, a routing result to dial, or both (a
// transfer carries the farewell prompt and the dial target).
type Directive struct {
	Action ivr.Action           `json:"action"`
	Dial   *routing.RouteResult `json:"dial,omitempty"`
}

// InboundRequest describes a new inbound call at the provider boundary.
type InboundRequest struct {
	WorkspaceID string `json:"workspace_id"`
	CallSID     string `json:"call_sid"`
	From        string `json:"from"`
	To          string `json:"to"`
	CampaignID  string `json:"campaign_id,omitempty"`

	// FlowID selects the IVR flow for the dialed number. Empty means the
	// call skips the IVR and goes straight to routing.
	FlowID   string `json:"flow_id,omitempty"`
	Language string `json:"language,omitempty"`
}

// WebhookClient executes WEBHOOK node requests. Failures are logged and the
// flow continues; a CRM being down must not strand the caller.
type WebhookClient interface {
	Do(ctx context.Context, method, url string, sess ivr.Session) error
}

// AgentSlots accounts per-agent active calls at dial time. Optional; nil
// disables the accounting.
type AgentSlots interface {
	Reserve(ctx context.Context, agentID string) (bool, error)
	Release(ctx context.Context, agentID string) error
}

// Controller orchestrates one call across the IVR interpreter, the routing
// engine, and the call registry. It owns no call-flow policy itself.
type Controller struct {
	Router   *routing.Engine
	IVR      *ivr.Interpreter
	Registry *calls.Registry
	Webhooks WebhookClient
	Slots    AgentSlots
}

func NewController(router *routing.Engine, interp *ivr.Interpreter, registry *calls.Registry) *Controller {
	return &Controller{
		Router:   router,
		IVR:      interp,
		Registry: registry,
		Webhooks: &HTTPWebhookClient{},
	}
}

// webhook chains are bounded: resuming past one webhook may land on another.
const maxWebhookChain = 5

// HandleInboundCall registers the call and either starts its IVR session or
// routes it immediately.
func (c *Controller) HandleInboundCall(ctx context.Context, req InboundRequest) (Directive, error) {
	if _, err := c.Registry.StartInbound(ctx, req.WorkspaceID, req.CallSID, req.From, req.To, req.CampaignID); err != nil {
		logger.From(ctx).Warn("call registration failed", "call_sid", req.CallSID, "err", err)
	}

	if req.FlowID == "" {
		return c.routeDirect(ctx, req)
	}

	_, action, err := c.IVR.StartSession(ctx, req.FlowID, req.WorkspaceID, req.CallSID, req.From, req.Language)
	if err != nil {
		logger.From(ctx).Error("ivr start failed, routing directly", "call_sid", req.CallSID, "flow_id", req.FlowID, "err", err)
		return c.routeDirect(ctx, req)
	}
	if err := c.Registry.MarkInIVR(ctx, req.CallSID, req.FlowID); err != nil {
		logger.From(ctx).Warn("call status update failed", "call_sid", req.CallSID, "err", err)
	}
	return c.dispatch(ctx, req.WorkspaceID, req.CallSID, action)
}

// HandleGather resumes the IVR session with caller input.
func (c *Controller) HandleGather(ctx context.Context, workspaceID, callSID, input, inputType string) (Directive, error) {
	action, err := c.IVR.HandleInput(ctx, callSID, input, inputType)
	if err != nil {
		return Directive{}, err
	}
	return c.dispatch(ctx, workspaceID, callSID, action)
}

// HandleTimeout resumes the IVR session after a gather timed out.
func (c *Controller) HandleTimeout(ctx context.Context, workspaceID, callSID string) (Directive, error) {
	action, err := c.IVR.HandleTimeout(ctx, callSID)
	if err != nil {
		return Directive{}, err
	}
	return c.dispatch(ctx, workspaceID, callSID, action)
}

// HandleHangup finalizes both the IVR session and the registry entry when
// the caller disconnects.
func (c *Controller) HandleHangup(ctx context.Context, callSID string) error {
	if _, err := c.IVR.EndSession(ctx, callSID, ivr.ExitCallerHangup, ""); err != nil && !errors.Is(err, ivr.ErrSessionNotFound) {
		// A hangup after the session already ended is normal event ordering.
		logger.From(ctx).Debug("hangup on ended session", "call_sid", callSID, "err", err)
	}
	c.releaseAgentSlot(ctx, callSID)
	if err := c.Registry.Complete(ctx, callSID, calls.CallStatusCompleted, "caller_hangup"); err != nil && !errors.Is(err, calls.ErrCallNotFound) {
		return err
	}
	return nil
}

// dispatch turns interpreter actions into directives, executing webhook
// nodes and transfer re-entries on the way.
func (c *Controller) dispatch(ctx context.Context, workspaceID, callSID string, action ivr.Action) (Directive, error) {
	for i := 0; action.Type == ivr.ActionWebhook; i++ {
		if i >= maxWebhookChain {
			return Directive{}, fmt.Errorf("callcontrol: webhook chain exceeded %d on call %s", maxWebhookChain, callSID)
		}
		c.runWebhook(ctx, callSID, action)
		next, err := c.IVR.ResumeWebhook(ctx, callSID)
		if err != nil {
			return Directive{}, err
		}
		action = next
	}

	if action.Type == ivr.ActionTransfer {
		return c.transfer(ctx, workspaceID, callSID, action)
	}

	if action.EndsSession {
		status := calls.CallStatusCompleted
		if action.ExitReason != ivr.ExitCompleted {
			status = calls.CallStatusFailed
		}
		if err := c.Registry.Complete(ctx, callSID, status, action.ExitReason); err != nil && !errors.Is(err, calls.ErrCallNotFound) {
			logger.From(ctx).Warn("call completion update failed", "call_sid", callSID, "err", err)
		}
	}
	return Directive{Action: action}, nil
}

// transfer re-enters the routing engine unless the target is already a
// literal dial destination (E.164 or SIP URI).
func (c *Controller) transfer(ctx context.Context, workspaceID, callSID string, action ivr.Action) (Directive, error) {
	target := action.TransferTo

	if strings.HasPrefix(target, "+") || strings.HasPrefix(strings.ToLower(target), "sip:") {
		res := routing.RouteResult{
			Success:     true,
			TargetType:  routing.TargetExternalNumber,
			Destination: target,
		}
		c.markRouted(ctx, callSID, res)
		return Directive{Action: action, Dial: &res}, nil
	}

	sess, err := c.IVR.Sessions.Get(ctx, callSID)
	if err != nil {
		return Directive{}, err
	}
	req := routing.RouteRequest{
		WorkspaceID:       workspaceID,
		CallSID:           callSID,
		CallerPhone:       sess.CallerPhone,
		PreferredLanguage: sess.Language,
		Metadata:          map[string]any{"transfer_to": target},
	}
	for k, v := range sess.Variables {
		req.Metadata[k] = v
	}
	res := c.Router.RouteCall(ctx, req)
	c.markRouted(ctx, callSID, res)
	return Directive{Action: action, Dial: &res}, nil
}

func (c *Controller) routeDirect(ctx context.Context, req InboundRequest) (Directive, error) {
	res := c.Router.RouteCall(ctx, routing.RouteRequest{
		WorkspaceID:       req.WorkspaceID,
		CallSID:           req.CallSID,
		CallerPhone:       req.From,
		CampaignID:        req.CampaignID,
		PreferredLanguage: req.Language,
		Metadata:          map[string]any{"dialed_number": req.To},
	})
	c.markRouted(ctx, req.CallSID, res)
	return Directive{Dial: &res}, nil
}

func (c *Controller) markRouted(ctx context.Context, callSID string, res routing.RouteResult) {
	if err := c.Registry.MarkRouted(ctx, callSID, res.RuleID, res.Destination); err != nil && !errors.Is(err, calls.ErrCallNotFound) {
		logger.From(ctx).Warn("call routing update failed", "call_sid", callSID, "err", err)
	}
	c.reserveAgentSlot(ctx, callSID, res.Destination)
}

// reserveAgentSlot bumps the agent's active-call counter when the decision
// dials an agent. The selector already filters on capacity; a rejection here
// means two routes raced for the last slot. The dial still proceeds, the
// warning is for operators.
func (c *Controller) reserveAgentSlot(ctx context.Context, callSID, destination string) {
	if c.Slots == nil {
		return
	}
	agentID, ok := strings.CutPrefix(destination, "agent:")
	if !ok || agentID == "" {
		return
	}
	reserved, err := c.Slots.Reserve(ctx, agentID)
	if err != nil {
		logger.From(ctx).Warn("agent slot reserve failed", "call_sid", callSID, "agent_id", agentID, "err", err)
		return
	}
	if !reserved {
		logger.From(ctx).Warn("agent routed past capacity", "call_sid", callSID, "agent_id", agentID)
	}
}

func (c *Controller) releaseAgentSlot(ctx context.Context, callSID string) {
	if c.Slots == nil {
		return
	}
	call, err := c.Registry.Get(ctx, callSID)
	if err != nil {
		return
	}
	agentID, ok := strings.CutPrefix(call.RoutedDestination, "agent:")
	if !ok || agentID == "" {
		return
	}
	if err := c.Slots.Release(ctx, agentID); err != nil {
		logger.From(ctx).Warn("agent slot release failed", "call_sid", callSID, "agent_id", agentID, "err", err)
	}
}

func (c *Controller) runWebhook(ctx context.Context, callSID string, action ivr.Action) {
	if c.Webhooks == nil {
		return
	}
	sess, err := c.IVR.Sessions.Get(ctx, callSID)
	if err != nil {
		logger.From(ctx).Warn("webhook session lookup failed", "call_sid", callSID, "err", err)
		return
	}
	if err := c.Webhooks.Do(ctx, action.WebhookMethod, action.WebhookURL, sess); err != nil {
		logger.From(ctx).Warn("ivr webhook failed", "call_sid", callSID, "url", action.WebhookURL, "err", err)
	}
}

// HTTPWebhookClient posts the session snapshot as JSON.
type HTTPWebhookClient struct {
	Client  *http.Client
	Timeout time.Duration
}

func (h *HTTPWebhookClient) Do(ctx context.Context, method, url string, sess ivr.Session) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := webhookBody(sess)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
	}
	return nil
}

func webhookBody(sess ivr.Session) (io.Reader, error) {
	raw, err := json.Marshal(map[string]any{
		"session_id":      sess.SessionID,
		"call_sid":        sess.CallSID,
		"workspace_id":    sess.WorkspaceID,
		"caller_phone":    sess.CallerPhone,
		"current_node_id": sess.CurrentNodeID,
		"variables":       sess.Variables,
	})
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}
