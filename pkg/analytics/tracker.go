// Package analytics defines the interface and implementations for
// conversion tracking destinations.
package analytics

import (
	"context"
	"sync"
	"time"
)

// CallEvent describes an inbound phone call to report to analytics.
type CallEvent struct {
	Client      string
	PhoneNumber string
	DeviceID    string
	Provider    string
	CalledAt    time.Time
	Duration    time.Duration
}

// ConversionEvent describes a first-contact conversion. Only newly
// created persons are reported as conversions.
type ConversionEvent struct {
	Client      string
	PhoneNumber string
	DeviceID    string
	Channel     string
	OccurredAt  time.Time
}

// Tracker delivers events to one analytics destination.
type Tracker interface {
	// Name returns the destination identifier (matches the provider
	// name in the tenant registry).
	Name() string
	// LogPhoneCall reports an inbound call event.
	LogPhoneCall(ctx context.Context, ev CallEvent) error
	// LogConversion reports a first-contact conversion.
	LogConversion(ctx context.Context, ev ConversionEvent) error
}

// Registry manages available analytics trackers.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]Tracker
}

// NewRegistry creates an empty tracker registry.
func NewRegistry() *Registry {
	return &Registry{
		trackers: make(map[string]Tracker),
	}
}

// Register adds a tracker to the registry.
func (r *Registry) Register(t Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[t.Name()] = t
}

// Get returns a tracker by name, or nil if not found.
func (r *Registry) Get(name string) Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackers[name]
}

// List returns all registered tracker names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.trackers))
	for name := range r.trackers {
		names = append(names, name)
	}
	return names
}
