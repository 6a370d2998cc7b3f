// Package peoplesearch wraps the people-data API used to look up a
// person by phone number and email during enrichment.
package peoplesearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-core/internal/resilience"
)

const defaultBaseURL = "https://api.peopledata.io/v5"

// Client searches for people by contact identifiers.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
}

// SearchRequest carries the identifiers to search on. At least one
// phone number is expected.
type SearchRequest struct {
	PhoneNumbers   []string `json:"phoneNumbers"`
	EmailAddresses []string `json:"emailAddresses,omitempty"`
}

// Match is one person returned by the search.
type Match struct {
	Name           string   `json:"name"`
	PhoneNumbers   []string `json:"phoneNumbers"`
	EmailAddresses []string `json:"emailAddresses"`
	Location       string   `json:"location,omitempty"`
	Occupation     string   `json:"occupation,omitempty"`
}

// SearchResult is the provider response. SearchID identifies this
// lookup in the provider's system and is recorded on the person for
// audit.
type SearchResult struct {
	SearchID string  `json:"searchId"`
	People   []Match `json:"people"`
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

// NewClient creates a people search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if len(req.PhoneNumbers) == 0 {
		return nil, eris.New("peoplesearch: at least one phone number is required")
	}
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*SearchResult, error) {
		return c.searchOnce(ctx, req)
	})
}

func (c *httpClient) searchOnce(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "peoplesearch: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/person/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "peoplesearch: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "peoplesearch: send request"), 0)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "peoplesearch: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("peoplesearch: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result SearchResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "peoplesearch: unmarshal response")
	}
	return &result, nil
}
