package telephony

import (
	"context"
	"net/http"
)

// TelephonyProvider defines the provider-agnostic boundary contract.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Adapters only translate boundary events into internal types; IVR and
//   routing decisions live in internal/callcontrol and below.
// - Keep request/response types provider-agnostic; store provider raw
//   payloads in metadata if needed.
type TelephonyProvider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// ValidateWebhook authenticates an incoming webhook request.
	ValidateWebhook(r *http.Request) error
}
