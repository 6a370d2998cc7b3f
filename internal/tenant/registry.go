// Package tenant loads the per-client registry: webhook endpoints,
// telephony providers and analytics destinations.
package tenant

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Telephony describes one call-tracking provider configured for a tenant.
type Telephony struct {
	Provider string `yaml:"provider"`
	// IVRNumbers are the tenant's inbound lines with this provider. A
	// call log reporting a different dialed number was routed to someone
	// else's line.
	IVRNumbers []string `yaml:"ivr_numbers"`
}

// Analytics describes one analytics destination for conversion events.
type Analytics struct {
	Provider      string `yaml:"provider"`
	MeasurementID string `yaml:"measurement_id"`
	APISecret     string `yaml:"api_secret"`
}

// Tenant is one client's registry entry.
type Tenant struct {
	// WebhookURL receives repeat-contact notifications. Empty disables
	// webhook delivery for the tenant.
	WebhookURL string      `yaml:"webhook_url"`
	Telephony  []Telephony `yaml:"telephony"`
	Analytics  []Analytics `yaml:"analytics"`
}

// Registry maps client slugs to their tenant configuration.
type Registry struct {
	tenants map[string]Tenant
}

// Load reads the tenant registry from a YAML file.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tenant: read %s", path)
	}
	var file struct {
		Tenants map[string]Tenant `yaml:"tenants"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrapf(err, "tenant: parse %s", path)
	}
	if file.Tenants == nil {
		file.Tenants = map[string]Tenant{}
	}
	return &Registry{tenants: file.Tenants}, nil
}

// NewRegistry builds a registry from an in-memory map, mainly for tests.
func NewRegistry(tenants map[string]Tenant) *Registry {
	if tenants == nil {
		tenants = map[string]Tenant{}
	}
	return &Registry{tenants: tenants}
}

// Get returns the tenant entry for a client slug.
func (r *Registry) Get(client string) (Tenant, bool) {
	t, ok := r.tenants[client]
	return t, ok
}

// WebhookURL returns the client's webhook endpoint, empty when the
// client is unknown or has none configured.
func (r *Registry) WebhookURL(client string) string {
	return r.tenants[client].WebhookURL
}

// IsIVRNumber reports whether the dialed number is one of the client's
// registered lines with the given telephony provider.
func (r *Registry) IsIVRNumber(client, provider, phoneNumber string) bool {
	n := strings.TrimSpace(phoneNumber)
	for _, tel := range r.tenants[client].Telephony {
		if !strings.EqualFold(tel.Provider, provider) {
			continue
		}
		for _, ivr := range tel.IVRNumbers {
			if ivr == n {
				return true
			}
		}
	}
	return false
}

// AnalyticsDestinations returns the client's configured analytics
// destinations, nil when the client is unknown.
func (r *Registry) AnalyticsDestinations(client string) []Analytics {
	return r.tenants[client].Analytics
}
