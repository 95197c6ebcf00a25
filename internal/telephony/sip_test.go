package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProviderConformance(t *testing.T) {
	var _ TelephonyProvider = (*SIPProvider)(nil)
	var _ TelephonyProvider = (*TwilioProvider)(nil)
}

func TestSIPProviderAcceptsGatewayTraffic(t *testing.T) {
	p := &SIPProvider{}
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected nil err, got %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/webhooks/sip/voice", nil)
	if err := p.ValidateWebhook(r); err != nil {
		t.Fatalf("expected nil err, got %v", err)
	}
}
