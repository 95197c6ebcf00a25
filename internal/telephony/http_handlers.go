package telephony

import (
	"net/http"

	"voice-platform/internal/callcontrol"
	"voice-platform/internal/routing"
	"voice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// NumberRoute is the workspace-side configuration of a dialed number: which
// tenant owns it and which IVR flow (if any) answers it.
type NumberRoute struct {
	WorkspaceID string
	FlowID      string
	CampaignID  string
}

// NumberResolver resolves which workspace owns the dialed number.
// Injected to keep persistence assumptions out of the adapter.
type NumberResolver func(c *gin.Context, toNumber string) (NumberRoute, error)

// TwilioWebhookHandler converts Twilio voice webhooks to internal types,
// delegates to call control, and writes TwiML.
//
// No business logic here.
type TwilioWebhookHandler struct {
	Controller *callcontrol.Controller
	Resolver   NumberResolver
	Paths      WebhookPaths

	// Validate checks the webhook signature when set.
	Validate func(r *http.Request) error
}

// HandleInboundCall answers the initial voice webhook for a new call.
func (h TwilioWebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	form, route, ok := h.parse(c)
	if !ok {
		return
	}

	ctx := routing.WithClientIP(c.Request.Context(), c.ClientIP())
	dir, err := h.Controller.HandleInboundCall(ctx, form.ToInboundRequest(route.WorkspaceID, route.FlowID, route.CampaignID))
	if err != nil {
		log.Error("inbound call handling failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call handling failed"})
		return
	}
	h.writeTwiML(c, dir)
}

// HandleGather answers the Gather action callback with the caller's input.
func (h TwilioWebhookHandler) HandleGather(c *gin.Context) {
	log := logger.FromGin(c)

	form, route, ok := h.parse(c)
	if !ok {
		return
	}

	input, inputType := form.Input()
	ctx := routing.WithClientIP(c.Request.Context(), c.ClientIP())

	var (
		dir callcontrol.Directive
		err error
	)
	if input == "" {
		dir, err = h.Controller.HandleTimeout(ctx, route.WorkspaceID, form.CallSid)
	} else {
		dir, err = h.Controller.HandleGather(ctx, route.WorkspaceID, form.CallSid, input, inputType)
	}
	if err != nil {
		log.Error("gather handling failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call handling failed"})
		return
	}
	h.writeTwiML(c, dir)
}

// HandleTimeout answers the redirect Twilio follows when a Gather produced
// no input at all.
func (h TwilioWebhookHandler) HandleTimeout(c *gin.Context) {
	log := logger.FromGin(c)

	form, route, ok := h.parse(c)
	if !ok {
		return
	}

	ctx := routing.WithClientIP(c.Request.Context(), c.ClientIP())
	dir, err := h.Controller.HandleTimeout(ctx, route.WorkspaceID, form.CallSid)
	if err != nil {
		log.Error("timeout handling failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call handling failed"})
		return
	}
	h.writeTwiML(c, dir)
}

// HandleStatus receives call status callbacks; terminal statuses finalize
// the session and the registry entry.
func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, _, ok := h.parse(c)
	if !ok {
		return
	}

	switch form.CallStatus {
	case "completed", "failed", "busy", "no-answer", "canceled":
		if err := h.Controller.HandleHangup(c.Request.Context(), form.CallSid); err != nil {
			log.Warn("hangup handling failed", "call_sid", form.CallSid, "err", err)
		}
	}
	c.Status(http.StatusNoContent)
}

// HandleRecording stores the voicemail recording URL and ends the call.
func (h TwilioWebhookHandler) HandleRecording(c *gin.Context) {
	log := logger.FromGin(c)

	form, _, ok := h.parse(c)
	if !ok {
		return
	}

	if form.RecordingUrl != "" {
		if err := h.Controller.Registry.AttachRecording(c.Request.Context(), form.CallSid, form.RecordingUrl); err != nil {
			log.Warn("recording attach failed", "call_sid", form.CallSid, "err", err)
		}
	}

	twiml, err := encodeTwiML(twimlResponse{Verbs: []any{twimlHangup{}}})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h TwilioWebhookHandler) parse(c *gin.Context) (TwilioVoiceForm, NumberRoute, bool) {
	log := logger.FromGin(c)

	if h.Controller == nil || h.Resolver == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony adapter not configured"})
		return TwilioVoiceForm{}, NumberRoute{}, false
	}
	if h.Validate != nil {
		if err := h.Validate(c.Request); err != nil {
			log.Warn("webhook signature rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return TwilioVoiceForm{}, NumberRoute{}, false
		}
	}

	form, err := ParseTwilioVoice(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return TwilioVoiceForm{}, NumberRoute{}, false
	}
	if form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid required"})
		return TwilioVoiceForm{}, NumberRoute{}, false
	}

	route, err := h.Resolver(c, form.To)
	if err != nil {
		log.Warn("workspace resolution failed", "to", form.To, "err", err)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown destination"})
		return TwilioVoiceForm{}, NumberRoute{}, false
	}
	return form, route, true
}

func (h TwilioWebhookHandler) writeTwiML(c *gin.Context, dir callcontrol.Directive) {
	paths := h.Paths
	if paths == (WebhookPaths{}) {
		paths = DefaultWebhookPaths()
	}
	twiml, err := RenderDirective(dir, paths)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
