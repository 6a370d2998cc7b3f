// Package telco wraps the phone intelligence API used to validate
// phone numbers before any paid enrichment runs against them.
package telco

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-core/internal/resilience"
)

const defaultBaseURL = "https://api.numlookup.dev/v1"

// Client validates phone numbers.
type Client interface {
	Validate(ctx context.Context, phoneNumber string) (*ValidationResult, error)
}

// APIError is the provider's structured failure for a lookup that the
// API handled but could not complete.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

// ValidationResult is the outcome of one number lookup. Success false
// means the provider could not process the lookup; Valid is only
// meaningful when Success is true.
type ValidationResult struct {
	Success     bool      `json:"success"`
	Valid       bool      `json:"valid"`
	LineType    string    `json:"line_type"`
	Carrier     string    `json:"carrier"`
	CountryCode string    `json:"country_code"`
	Error       *APIError `json:"error,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(rc resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = rc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a phone validation client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Validate(ctx context.Context, phoneNumber string) (*ValidationResult, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*ValidationResult, error) {
		return c.validateOnce(ctx, phoneNumber)
	})
}

func (c *httpClient) validateOnce(ctx context.Context, phoneNumber string) (*ValidationResult, error) {
	q := url.Values{}
	q.Set("number", phoneNumber)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/validate?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "telco: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "telco: send request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "telco: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("telco: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result ValidationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "telco: unmarshal response")
	}
	return &result, nil
}
