package telephony

import (
	"net/http"
	"strings"

	"voice-platform/internal/callcontrol"
)

// TwilioVoiceForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Keep it minimal and provider-adapter-only.
// Business logic (IVR and routing decisions) is not made here.

type TwilioVoiceForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	ApiVersion string

	// Gather callbacks.
	Digits       string
	SpeechResult string

	// Recording callbacks.
	RecordingUrl      string
	RecordingDuration string

	CallerName    string
	FromCity      string
	FromState     string
	FromCountry   string
	ForwardedFrom string
}

func ParseTwilioVoice(r *http.Request) (TwilioVoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioVoiceForm{}, err
	}
	f := TwilioVoiceForm{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
		ApiVersion: r.PostFormValue("ApiVersion"),

		Digits:       r.PostFormValue("Digits"),
		SpeechResult: r.PostFormValue("SpeechResult"),

		RecordingUrl:      r.PostFormValue("RecordingUrl"),
		RecordingDuration: r.PostFormValue("RecordingDuration"),

		CallerName:    r.PostFormValue("CallerName"),
		FromCity:      r.PostFormValue("FromCity"),
		FromState:     r.PostFormValue("FromState"),
		FromCountry:   r.PostFormValue("FromCountry"),
		ForwardedFrom: normalizePhone(r.PostFormValue("ForwardedFrom")),
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// Input returns the caller's input and its type for the gather callback.
// Twilio sets exactly one of Digits / SpeechResult.
func (f TwilioVoiceForm) Input() (value, inputType string) {
	if f.SpeechResult != "" {
		return f.SpeechResult, "speech"
	}
	return f.Digits, "digits"
}

func (f TwilioVoiceForm) ToInboundRequest(workspaceID, flowID, campaignID string) callcontrol.InboundRequest {
	return callcontrol.InboundRequest{
		WorkspaceID: workspaceID,
		CallSID:     f.CallSid,
		From:        f.From,
		To:          f.To,
		CampaignID:  campaignID,
		FlowID:      flowID,
	}
}
