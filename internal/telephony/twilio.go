package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"sort"
	"strings"
)

// TwilioProvider authenticates Twilio voice webhooks.
//
// Signature scheme: X-Twilio-Signature is base64(HMAC-SHA1(auth token,
// full URL + POST params concatenated key+value in sorted key order)).
// Ref: https://www.twilio.com/docs/usage/security#validating-requests
type TwilioProvider struct {
	// AuthToken is the account's webhook signing secret.
	AuthToken string

	// PublicBaseURL is the externally visible origin Twilio signed against
	// (scheme + host), needed when the service sits behind a proxy.
	PublicBaseURL string
}

func NewTwilioProvider(authToken, publicBaseURL string) *TwilioProvider {
	return &TwilioProvider{AuthToken: authToken, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	// Webhook-driven adapter; nothing to probe.
	return nil
}

func (p *TwilioProvider) ValidateWebhook(r *http.Request) error {
	if p.AuthToken == "" {
		return errors.New("telephony: twilio auth token not configured")
	}
	sig := r.Header.Get("X-Twilio-Signature")
	if sig == "" {
		return errors.New("telephony: missing X-Twilio-Signature")
	}
	if err := r.ParseForm(); err != nil {
		return err
	}

	expected := p.sign(p.requestURL(r), r.PostForm)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return errors.New("telephony: signature mismatch")
	}
	return nil
}

func (p *TwilioProvider) requestURL(r *http.Request) string {
	if p.PublicBaseURL != "" {
		u := p.PublicBaseURL + r.URL.Path
		if r.URL.RawQuery != "" {
			u += "?" + r.URL.RawQuery
		}
		return u
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (p *TwilioProvider) sign(url string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(p.AuthToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
