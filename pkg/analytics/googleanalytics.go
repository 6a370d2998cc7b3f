package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	gaName           = "google-analytics"
	gaDefaultBaseURL = "https://www.google-analytics.com"
)

// Credentials are the per-client Measurement Protocol secrets.
type Credentials struct {
	MeasurementID string
	APISecret     string
}

// CredentialFunc resolves the Measurement Protocol credentials for a
// client slug. Returning false skips delivery for that client.
type CredentialFunc func(client string) (Credentials, bool)

// GAOption configures the Google Analytics tracker.
type GAOption func(*GoogleAnalytics)

// WithGABaseURL overrides the Measurement Protocol endpoint.
func WithGABaseURL(u string) GAOption {
	return func(g *GoogleAnalytics) {
		g.baseURL = u
	}
}

// WithGAHTTPClient overrides the default http.Client.
func WithGAHTTPClient(hc *http.Client) GAOption {
	return func(g *GoogleAnalytics) {
		g.http = hc
	}
}

// WithGARateLimit overrides the default requests-per-second limit.
func WithGARateLimit(rps float64, burst int) GAOption {
	return func(g *GoogleAnalytics) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// GoogleAnalytics delivers events over the GA4 Measurement Protocol.
type GoogleAnalytics struct {
	creds   CredentialFunc
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewGoogleAnalytics creates a Measurement Protocol tracker. creds
// resolves per-client measurement id and API secret.
func NewGoogleAnalytics(creds CredentialFunc, opts ...GAOption) *GoogleAnalytics {
	g := &GoogleAnalytics{
		creds:   creds,
		baseURL: gaDefaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Name implements Tracker.
func (g *GoogleAnalytics) Name() string { return gaName }

type mpEvent struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

type mpPayload struct {
	ClientID string    `json:"client_id"`
	Events   []mpEvent `json:"events"`
}

// LogPhoneCall implements Tracker.
func (g *GoogleAnalytics) LogPhoneCall(ctx context.Context, ev CallEvent) error {
	return g.collect(ctx, ev.Client, clientID(ev.DeviceID, ev.PhoneNumber), mpEvent{
		Name: "phone_call",
		Params: map[string]any{
			"phone_number":     ev.PhoneNumber,
			"provider":         ev.Provider,
			"duration_seconds": int(ev.Duration.Seconds()),
		},
	})
}

// LogConversion implements Tracker.
func (g *GoogleAnalytics) LogConversion(ctx context.Context, ev ConversionEvent) error {
	return g.collect(ctx, ev.Client, clientID(ev.DeviceID, ev.PhoneNumber), mpEvent{
		Name: "new_contact",
		Params: map[string]any{
			"phone_number": ev.PhoneNumber,
			"channel":      ev.Channel,
		},
	})
}

// clientID prefers the analytics device id; the phone number stands in
// when the caller never touched the website.
func clientID(deviceID, phoneNumber string) string {
	if deviceID != "" {
		return deviceID
	}
	return phoneNumber
}

func (g *GoogleAnalytics) collect(ctx context.Context, client, cid string, ev mpEvent) error {
	creds, ok := g.creds(client)
	if !ok {
		return nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "analytics: rate limit wait")
	}

	body, err := json.Marshal(mpPayload{ClientID: cid, Events: []mpEvent{ev}})
	if err != nil {
		return eris.Wrap(err, "analytics: marshal payload")
	}

	q := url.Values{}
	q.Set("measurement_id", creds.MeasurementID)
	q.Set("api_secret", creds.APISecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/mp/collect?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "analytics: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "analytics: send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return eris.Errorf("analytics: measurement protocol returned status %d", resp.StatusCode)
	}
	return nil
}
