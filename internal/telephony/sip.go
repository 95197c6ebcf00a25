package telephony

import (
	"context"
	"net/http"
)

// SIPProvider is a stub adapter for SIP trunk / gateway integrations.
//
// Future FreeSWITCH integration (planned):
// - Inbound calls will arrive via FreeSWITCH ESL events or HTTP hooks from a gateway.
// - Gather input maps to DTMF events collected by the gateway.
// - Voicemail recordings are persisted to object storage by the media layer.
//
// IMPORTANT:
// - Keep this adapter free of business logic.
// - It should only translate SIP/FreeSWITCH boundary events into internal
//   types and delegate decisions to internal/callcontrol.
type SIPProvider struct{}

func (p *SIPProvider) Name() string { return "sip" }

func (p *SIPProvider) HealthCheck(ctx context.Context) error {
	return nil
}

func (p *SIPProvider) ValidateWebhook(r *http.Request) error {
	// Gateway traffic is expected to arrive over a private network.
	return nil
}
