// Package webhook notifies tenant endpoints about repeat contacts.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/identity-core/internal/model"
	"github.com/sells-group/identity-core/internal/tenant"
)

// Event is the payload delivered to a tenant webhook when a person who
// already exists makes contact again. Person is a full snapshot of the
// record at delivery time; Data carries the event-specific fields.
type Event struct {
	DeliveryID string         `json:"deliveryId"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`
	Person     *model.Person  `json:"person"`
	Data       map[string]any `json:"data,omitempty"`
}

// Dispatcher posts repeat-contact events to per-tenant endpoints.
// Delivery is best effort: failures are logged and dropped, never
// retried or queued.
type Dispatcher struct {
	registry *tenant.Registry
	client   *http.Client
}

// NewDispatcher creates a webhook dispatcher over the tenant registry.
func NewDispatcher(registry *tenant.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyRepeatContact sends an event for an existing person. Tenants
// without a webhook URL are skipped. Only already-known persons are
// announced here; first contact is handled inline by the ingest
// pipeline.
func (d *Dispatcher) NotifyRepeatContact(ctx context.Context, eventType string, p *model.Person, data map[string]any) {
	url := d.registry.WebhookURL(p.Client)
	if url == "" {
		return
	}

	ev := Event{
		DeliveryID: uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Person:     p,
		Data:       data,
	}

	if err := d.post(ctx, url, ev); err != nil {
		zap.L().Error("webhook: delivery failed",
			zap.String("client", p.Client),
			zap.String("type", eventType),
			zap.String("delivery_id", ev.DeliveryID),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("webhook: delivered",
		zap.String("client", p.Client),
		zap.String("type", eventType),
		zap.String("delivery_id", ev.DeliveryID),
	)
}

// post sends one event to the tenant endpoint.
func (d *Dispatcher) post(ctx context.Context, url string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "webhook: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "webhook: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "webhook: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
