package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/identity-core/internal/model"
)

func TestStringListAcceptsStringOrArray(t *testing.T) {
	var payload struct {
		Interests StringList `json:"interests"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"interests": "solar"}`), &payload))
	assert.Equal(t, StringList{"solar"}, payload.Interests)

	require.NoError(t, json.Unmarshal([]byte(`{"interests": ["solar", "battery"]}`), &payload))
	assert.Equal(t, StringList{"solar", "battery"}, payload.Interests)

	require.NoError(t, json.Unmarshal([]byte(`{"interests": ""}`), &payload))
	assert.Empty(t, payload.Interests)

	assert.Error(t, json.Unmarshal([]byte(`{"interests": 42}`), &payload))
}

func TestStringListCompact(t *testing.T) {
	s := StringList{" solar ", "", "battery"}
	assert.Equal(t, []string{"solar", "battery"}, s.compact())
}

func TestWebsiteVisitEventValidate(t *testing.T) {
	ev := WebsiteVisitEvent{PhoneNumber: "+15551234567"}
	assert.True(t, model.IsValidation(ev.Validate()))

	ev = WebsiteVisitEvent{Client: "acme"}
	assert.True(t, model.IsValidation(ev.Validate()))

	// The website tag sends canonical numbers; no plus prefix means a
	// broken payload, not one to repair.
	ev = WebsiteVisitEvent{Client: "acme", PhoneNumber: "15551234567"}
	assert.True(t, model.IsValidation(ev.Validate()))

	ev = WebsiteVisitEvent{Client: "acme", PhoneNumber: "not-a-number"}
	assert.True(t, model.IsValidation(ev.Validate()))

	ev = WebsiteVisitEvent{Client: "acme", PhoneNumber: "+15551234567"}
	assert.NoError(t, ev.Validate())
}

func TestAddPersonRequestValidate(t *testing.T) {
	var req AddPersonRequest
	assert.True(t, model.IsValidation(req.Validate()))

	req.Client = "acme"
	assert.True(t, model.IsValidation(req.Validate()))

	req.PhoneNumber = "+15551234567"
	assert.NoError(t, req.Validate())

	// CRM-sourced requests must carry both record ids.
	req.Source.Channel = model.ChannelCRM
	assert.True(t, model.IsValidation(req.Validate()))
	req.CRMInternalID = "in-1"
	req.CRMExternalID = "ex-1"
	assert.NoError(t, req.Validate())
}

func TestParseCallTrackingMetrics(t *testing.T) {
	call, err := ParseCall("calltrackingmetrics", map[string]any{
		"caller_number":   "+15551234567",
		"caller_name":     "Jo Rivera",
		"tracking_number": "+18005550199",
		"talk_time":       "120",
		"audio_url":       "https://ctm.example/rec/1.mp3",
		"called_at":       "2026-08-28T14:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", call.CallerNumber)
	assert.Equal(t, "Jo Rivera", call.CallerName)
	assert.Equal(t, 2*time.Minute, call.Duration)
	assert.Equal(t, time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC), call.CalledAt)
}

func TestParseCallRail(t *testing.T) {
	call, err := ParseCall("callrail", map[string]any{
		"customer_phone_number": "+15551234567",
		"tracking_phone_number": "+18885550200",
		"duration":              float64(45),
		"recording":             "https://callrail.example/rec/2.mp3",
	})
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", call.CallerNumber)
	assert.Equal(t, 45*time.Second, call.Duration)
	assert.Equal(t, "https://callrail.example/rec/2.mp3", call.RecordingURL)
	// No timestamp in the payload, so receipt time stands in.
	assert.False(t, call.CalledAt.IsZero())
}

func TestParseCallMissingCaller(t *testing.T) {
	_, err := ParseCall("callrail", map[string]any{"duration": float64(5)})
	assert.True(t, model.IsValidation(err))
}

func TestParseCallUnknownProvider(t *testing.T) {
	_, err := ParseCall("twilio", map[string]any{})
	assert.True(t, model.IsValidation(err))
}

func TestParseCallBadTimestamp(t *testing.T) {
	_, err := ParseCall("calltrackingmetrics", map[string]any{
		"caller_number": "+15551234567",
		"called_at":     "yesterday",
	})
	assert.Error(t, err)
}
