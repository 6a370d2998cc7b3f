// Package model defines the core document types shared across the
// identity pipeline: the canonical Person record, the Activity log entry,
// and the error taxonomy surfaced to callers.
package model

import (
	"time"
)

// Source channels a Person can originate from.
const (
	ChannelCRM     = "CRM"
	ChannelPhone   = "Phone"
	ChannelWebsite = "Website"
)

// Person is the canonical identity record for one contact within one
// tenant. Exactly one Person exists per (client, phoneNumber); the store's
// unique index is the sole enforcement mechanism.
type Person struct {
	ID          string `json:"id,omitempty"`
	Client      string `json:"client"`
	PhoneNumber string `json:"phoneNumber"`

	Name           string   `json:"name,omitempty"`
	Interests      []string `json:"interests,omitempty"`
	EmailAddresses []string `json:"emailAddresses,omitempty"`
	DeviceIDs      []string `json:"deviceIds,omitempty"`

	Source  Source         `json:"source"`
	Meta    Meta           `json:"meta"`
	Actions Actions        `json:"actions"`
	Other   map[string]any `json:"other,omitempty"`

	// DataAtSource holds the raw event payload that created the record,
	// written back on first contact instead of firing a webhook.
	DataAtSource map[string]any `json:"dataAtSource,omitempty"`
}

// Source records where and how a Person first arrived.
type Source struct {
	Channel      string         `json:"channel,omitempty"`
	Point        string         `json:"point,omitempty"`
	VerifiedWith string         `json:"verifiedWith,omitempty"`
	Provider     string         `json:"provider,omitempty"`
	ProviderData map[string]any `json:"providerData,omitempty"`
}

// Meta holds record-level metadata and enrichment results.
type Meta struct {
	CreatedOn            time.Time  `json:"createdOn"`
	IdentityVerified     bool       `json:"identityVerified,omitempty"`
	OnCRM                bool       `json:"onCRM,omitempty"`
	Spam                 bool       `json:"spam,omitempty"`
	PhoneNumberIsValid   *bool      `json:"phoneNumberIsValid,omitempty"`
	Error                bool       `json:"error,omitempty"`
	ErroredOn            *time.Time `json:"erroredOn,omitempty"`
	FetchedInformationOn *time.Time `json:"fetchedInformationOn,omitempty"`
	SearchID             string     `json:"searchId,omitempty"`
	CRMInternalID        string     `json:"crmInternalId,omitempty"`
	CRMExternalID        string     `json:"crmExternalId,omitempty"`
}

// Actions are the monotonic enrichment flags. Each is settable only
// false→true and gates one stage of the enrichment worker, so a restart
// resumes where the previous run stopped.
type Actions struct {
	ValidatePhoneNumber bool `json:"validatePhoneNumber,omitempty"`
	GatherInformation   bool `json:"gatherInformation,omitempty"`
	Research            bool `json:"research,omitempty"`
}

// AddInterests unions the given interests into the Person. Existing values
// are never removed; empty input is a no-op.
func (p *Person) AddInterests(interests ...string) *Person {
	p.Interests = unionStrings(p.Interests, interests)
	return p
}

// AddEmailAddresses unions the given email addresses into the Person.
func (p *Person) AddEmailAddresses(addrs ...string) *Person {
	p.EmailAddresses = unionStrings(p.EmailAddresses, addrs)
	return p
}

// AddDeviceIDs unions the given device ids into the Person.
func (p *Person) AddDeviceIDs(ids ...string) *Person {
	p.DeviceIDs = unionStrings(p.DeviceIDs, ids)
	return p
}

// SetOther stores a free-form provider extra, allocating the bag lazily.
func (p *Person) SetOther(key string, value any) *Person {
	if p.Other == nil {
		p.Other = map[string]any{}
	}
	p.Other[key] = value
	return p
}

func unionStrings(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range add {
		if s == "" || seen[s] {
			continue
		}
		existing = append(existing, s)
		seen[s] = true
	}
	return existing
}
