package ingest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-core/internal/model"
)

// PhoneCall is a call event normalized from a provider webhook payload.
type PhoneCall struct {
	CallerNumber   string
	CallerName     string
	TrackingNumber string
	DeviceID       string
	RecordingURL   string
	Duration       time.Duration
	CalledAt       time.Time
}

// CallParser converts one provider's raw webhook payload into a
// PhoneCall.
type CallParser func(payload map[string]any) (*PhoneCall, error)

// callParsers maps provider slugs, as they appear in the hook URL, to
// their payload shape.
var callParsers = map[string]CallParser{
	"calltrackingmetrics": parseCallTrackingMetrics,
	"callrail":            parseCallRail,
}

// ParseCall normalizes a raw call payload for the named provider.
func ParseCall(provider string, payload map[string]any) (*PhoneCall, error) {
	parser, ok := callParsers[provider]
	if !ok {
		return nil, model.NewValidationError("provider", fmt.Sprintf("unknown call provider %q", provider))
	}
	call, err := parser(payload)
	if err != nil {
		return nil, err
	}
	if call.CallerNumber == "" {
		return nil, model.NewValidationError("callerNumber", "missing from call payload")
	}
	if call.CalledAt.IsZero() {
		call.CalledAt = time.Now().UTC()
	}
	return call, nil
}

func parseCallTrackingMetrics(payload map[string]any) (*PhoneCall, error) {
	call := &PhoneCall{
		CallerNumber:   stringField(payload, "caller_number"),
		CallerName:     stringField(payload, "caller_name"),
		TrackingNumber: stringField(payload, "tracking_number"),
		DeviceID:       stringField(payload, "ga_client_id"),
		RecordingURL:   stringField(payload, "audio_url"),
		Duration:       time.Duration(intField(payload, "talk_time")) * time.Second,
	}
	if ts := stringField(payload, "called_at"); ts != "" {
		at, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: parse calltrackingmetrics called_at")
		}
		call.CalledAt = at.UTC()
	}
	return call, nil
}

func parseCallRail(payload map[string]any) (*PhoneCall, error) {
	call := &PhoneCall{
		CallerNumber:   stringField(payload, "customer_phone_number"),
		CallerName:     stringField(payload, "customer_name"),
		TrackingNumber: stringField(payload, "tracking_phone_number"),
		DeviceID:       stringField(payload, "ga_session_id"),
		RecordingURL:   stringField(payload, "recording"),
		Duration:       time.Duration(intField(payload, "duration")) * time.Second,
	}
	if ts := stringField(payload, "start_time"); ts != "" {
		at, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: parse callrail start_time")
		}
		call.CalledAt = at.UTC()
	}
	return call, nil
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// intField coerces a numeric payload field that providers send as
// either a JSON number or a quoted string.
func intField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
