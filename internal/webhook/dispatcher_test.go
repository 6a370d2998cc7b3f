package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/identity-core/internal/model"
	"github.com/sells-group/identity-core/internal/tenant"
)

func TestNotifyRepeatContact(t *testing.T) {
	var got Event
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := tenant.NewRegistry(map[string]tenant.Tenant{
		"acme": {WebhookURL: srv.URL},
	})
	d := NewDispatcher(registry)

	p := &model.Person{ID: "p-1", Client: "acme", PhoneNumber: "+15551234567"}
	d.NotifyRepeatContact(context.Background(), model.ActivityPhoned, p, map[string]any{"duration": 42})

	require.Equal(t, 1, calls)
	assert.Equal(t, model.ActivityPhoned, got.Type)
	require.NotNil(t, got.Person)
	assert.Equal(t, "acme", got.Person.Client)
	assert.Equal(t, "+15551234567", got.Person.PhoneNumber)
	assert.Equal(t, "p-1", got.Person.ID)
	assert.NotEmpty(t, got.DeliveryID)
	assert.EqualValues(t, 42, got.Data["duration"])
}

func TestNotifySkipsTenantWithoutURL(t *testing.T) {
	d := NewDispatcher(tenant.NewRegistry(map[string]tenant.Tenant{"acme": {}}))

	// No server to hit; this must be a no-op rather than an error.
	p := &model.Person{ID: "p-1", Client: "acme", PhoneNumber: "+15551234567"}
	d.NotifyRepeatContact(context.Background(), model.ActivityPhoned, p, nil)
}

func TestNotifyFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	registry := tenant.NewRegistry(map[string]tenant.Tenant{
		"acme": {WebhookURL: srv.URL},
	})
	d := NewDispatcher(registry)

	p := &model.Person{ID: "p-1", Client: "acme", PhoneNumber: "+15551234567"}
	// Failures are logged, not surfaced.
	d.NotifyRepeatContact(context.Background(), model.ActivityOnWebsite, p, nil)
}
