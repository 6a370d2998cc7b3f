// Package ingest normalizes inbound contact events and drives the
// resolve, record, notify pipeline behind the HTTP endpoints.
package ingest

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sells-group/identity-core/internal/model"
)

// websitePhonePattern is stricter than the general normalization: the
// website tag only ever knows a person by an already-canonical number,
// so a missing plus prefix means the payload is wrong, not sloppy.
var websitePhonePattern = regexp.MustCompile(`^\+\d+`)

// StringList accepts either a single JSON string or an array of strings.
// Upstream form handlers send whichever shape the form produced.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*s = nil
			return nil
		}
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = StringList(many)
	return nil
}

// compact drops empty entries after trimming.
func (s StringList) compact() []string {
	var out []string
	for _, v := range s {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// AddPersonRequest is the body of POST /people.
type AddPersonRequest struct {
	Client         string     `json:"client"`
	PhoneNumber    string     `json:"phoneNumber"`
	Name           string     `json:"name"`
	Interests      StringList `json:"interests"`
	EmailAddresses StringList `json:"emailAddresses"`

	Source struct {
		Channel      string         `json:"channel"`
		Point        string         `json:"point"`
		VerifiedWith string         `json:"verifiedWith"`
		Provider     string         `json:"provider"`
		ProviderData map[string]any `json:"providerData"`
	} `json:"source"`

	CRMInternalID string `json:"crmInternalId"`
	CRMExternalID string `json:"crmExternalId"`
}

// Validate checks the fields required before the request is accepted.
// The same checks run again inside the resolver; this copy exists so the
// HTTP layer can reject bad input before acknowledging.
func (req *AddPersonRequest) Validate() error {
	if strings.TrimSpace(req.Client) == "" {
		return model.NewValidationError("client", "required")
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return model.NewValidationError("phoneNumber", "required")
	}
	if req.Source.Channel == model.ChannelCRM {
		if req.CRMInternalID == "" || req.CRMExternalID == "" {
			return model.NewValidationError("crmIds", "internal and external record ids are required")
		}
	}
	return nil
}

// WebsiteVisitEvent is the body of POST /v2/hooks/person-on-website.
// The hook announces an already-known person browsing the site; it
// never creates a person.
type WebsiteVisitEvent struct {
	Client         string     `json:"client"`
	PhoneNumber    string     `json:"phoneNumber"`
	Name           string     `json:"name"`
	Where          string     `json:"where"`
	Interests      StringList `json:"interests"`
	EmailAddresses StringList `json:"emailAddresses"`
	DeviceIDs      StringList `json:"deviceIds"`
}

// Validate checks the fields the website hook requires before any
// store access.
func (ev *WebsiteVisitEvent) Validate() error {
	if strings.TrimSpace(ev.Client) == "" {
		return model.NewValidationError("client", "required")
	}
	if strings.TrimSpace(ev.PhoneNumber) == "" {
		return model.NewValidationError("phoneNumber", "required")
	}
	if !websitePhonePattern.MatchString(strings.TrimSpace(ev.PhoneNumber)) {
		return model.NewValidationError("phoneNumber", "must be a plus-prefixed number")
	}
	return nil
}
