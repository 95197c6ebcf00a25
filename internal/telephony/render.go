package telephony

import (
	"errors"
	"strings"

	"voice-platform/internal/callcontrol"
	"voice-platform/internal/ivr"
	"voice-platform/internal/routing"
)

// WebhookPaths are the callback URLs Twilio posts follow-up events to.
// They must be absolute or app-root-relative; Twilio resolves relative URLs
// against the webhook it just called.
type WebhookPaths struct {
	Gather    string
	Timeout   string
	Recording string
}

func DefaultWebhookPaths() WebhookPaths {
	return WebhookPaths{
		Gather:    "/webhooks/twilio/gather",
		Timeout:   "/webhooks/twilio/timeout",
		Recording: "/webhooks/twilio/recording",
	}
}

// RenderDirective maps a call-control directive to TwiML.
func RenderDirective(d callcontrol.Directive, paths WebhookPaths) (string, error) {
	var r twimlResponse

	switch d.Action.Type {
	case ivr.ActionGatherInput, ivr.ActionInvalidInput, ivr.ActionTimeout:
		g := twimlGather{
			Input:       gatherInput(d.Action.InputType),
			Action:      paths.Gather,
			Method:      "POST",
			Timeout:     d.Action.TimeoutSeconds,
			NumDigits:   d.Action.NumDigits,
			FinishOnKey: d.Action.FinishOnKey,
			Verbs:       promptVerbs(d.Action),
		}
		r.Verbs = append(r.Verbs, g)
		// No input at all falls through the Gather; hand the event back as a
		// timeout instead of dropping the call.
		r.Verbs = append(r.Verbs, twimlRedirect{Method: "POST", URL: paths.Timeout})

	case ivr.ActionVoicemail:
		r.Verbs = append(r.Verbs, promptVerbs(d.Action)...)
		r.Verbs = append(r.Verbs, twimlRecord{
			Action:    paths.Recording,
			Method:    "POST",
			MaxLength: 120,
			PlayBeep:  true,
		})

	case ivr.ActionPlayAndContinue, ivr.ActionEndCall:
		r.Verbs = append(r.Verbs, promptVerbs(d.Action)...)
		if d.Dial != nil {
			if err := appendDial(&r, *d.Dial, paths); err != nil {
				return "", err
			}
		} else {
			r.Verbs = append(r.Verbs, twimlHangup{})
		}

	case ivr.ActionTransfer:
		r.Verbs = append(r.Verbs, promptVerbs(d.Action)...)
		if d.Dial == nil {
			return "", errors.New("telephony: transfer directive without dial target")
		}
		if err := appendDial(&r, *d.Dial, paths); err != nil {
			return "", err
		}

	case ivr.ActionWebhook:
		// Webhook actions are consumed by call control, never rendered.
		return "", errors.New("telephony: webhook action reached the renderer")

	case "":
		// Pure routing decision, no IVR action attached.
		if d.Dial == nil {
			return "", errors.New("telephony: empty directive")
		}
		if err := appendDial(&r, *d.Dial, paths); err != nil {
			return "", err
		}

	default:
		return "", errors.New("telephony: unknown action " + string(d.Action.Type))
	}

	return encodeTwiML(r)
}

// appendDial renders a routing decision. Destinations are classified by
// shape: sip: URIs, E.164 numbers, queue:/agent: internal targets, and the
// fixed voicemail fallback.
func appendDial(r *twimlResponse, res routing.RouteResult, paths WebhookPaths) error {
	dest := strings.TrimSpace(res.Destination)
	if dest == "" {
		return errors.New("telephony: dial directive without destination")
	}

	if res.TargetType == routing.TargetVoicemail || dest == "voicemail" {
		r.Verbs = append(r.Verbs, twimlSay{Text: "Please leave a message after the tone."})
		r.Verbs = append(r.Verbs, twimlRecord{
			Action:    paths.Recording,
			Method:    "POST",
			MaxLength: 120,
			PlayBeep:  true,
		})
		return nil
	}

	d := twimlDial{}
	switch {
	case strings.HasPrefix(strings.ToLower(dest), "sip:"):
		d.Sip = &twimlSip{URI: dest}
	case strings.HasPrefix(dest, "queue:"):
		d.Queue = strings.TrimPrefix(dest, "queue:")
	case strings.HasPrefix(dest, "agent:"):
		d.Client = strings.TrimPrefix(dest, "agent:")
	default:
		d.Number = dest
	}
	r.Verbs = append(r.Verbs, d)
	return nil
}

func promptVerbs(a ivr.Action) []any {
	var verbs []any
	if a.AudioURL != "" {
		verbs = append(verbs, twimlPlay{URL: a.AudioURL})
	}
	for _, p := range a.Prompts {
		verbs = append(verbs, twimlSay{Language: a.Language, Text: p})
	}
	return verbs
}

func gatherInput(inputType string) string {
	switch inputType {
	case "speech":
		return "speech"
	case "digits", "":
		return "dtmf"
	default:
		return "dtmf speech"
	}
}
