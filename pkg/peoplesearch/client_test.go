package peoplesearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/identity-core/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestSearchSingleMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/person/search", r.URL.Path)
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"+15551234567"}, req.PhoneNumbers)

		json.NewEncoder(w).Encode(SearchResult{
			SearchID: "search-1",
			People: []Match{
				{Name: "Jo Rivera", EmailAddresses: []string{"jo@example.com"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	res, err := c.Search(context.Background(), SearchRequest{PhoneNumbers: []string{"+15551234567"}})
	require.NoError(t, err)
	assert.Equal(t, "search-1", res.SearchID)
	require.Len(t, res.People, 1)
	assert.Equal(t, "Jo Rivera", res.People[0].Name)
}

func TestSearchNoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(SearchResult{SearchID: "search-2"})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	res, err := c.Search(context.Background(), SearchRequest{PhoneNumbers: []string{"+15551234567"}})
	require.NoError(t, err)
	assert.Equal(t, "search-2", res.SearchID)
	assert.Empty(t, res.People)
}

func TestSearchRequiresPhoneNumber(t *testing.T) {
	c := NewClient("test-key", WithRetryConfig(fastRetry()))
	_, err := c.Search(context.Background(), SearchRequest{EmailAddresses: []string{"jo@example.com"}})
	assert.Error(t, err)
}

func TestSearchRetriesTransientStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(SearchResult{SearchID: "search-3"})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	res, err := c.Search(context.Background(), SearchRequest{PhoneNumbers: []string{"+15551234567"}})
	require.NoError(t, err)
	assert.Equal(t, "search-3", res.SearchID)
	assert.Equal(t, 2, attempts)
}
