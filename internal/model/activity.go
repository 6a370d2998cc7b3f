package model

import "time"

// Activity types recorded by the ingest pipeline.
const (
	ActivityOnWebsite = "person/on/website"
	ActivityPhoned    = "person/phoned"
)

// Activity is a timestamped interaction touch-point for a Person.
// Append-mostly: created once per accepted event, immutable thereafter.
type Activity struct {
	ID              string         `json:"id,omitempty"`
	Type            string         `json:"type"`
	Client          string         `json:"client"`
	PhoneNumber     string         `json:"phoneNumber"`
	PersonID        string         `json:"personId,omitempty"`
	When            time.Time      `json:"when"`
	ServiceProvider string         `json:"serviceProvider,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}
