// Package identity owns Person creation, lookup and attribute merge.
// Deduplication is delegated entirely to the store's unique index on
// (client, phoneNumber): the resolver inserts optimistically and treats
// a conflict as "already exists".
package identity

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/identity-core/internal/model"
	"github.com/sells-group/identity-core/internal/store"
)

var phonePattern = regexp.MustCompile(`^\+\d+$`)

// Resolver handles Person deduplication and identity resolution.
type Resolver struct {
	store store.PersonStore
}

// NewResolver creates a Person resolver.
func NewResolver(st store.PersonStore) *Resolver {
	return &Resolver{store: st}
}

// ResolveRequest carries the attributes of an inbound contact event.
type ResolveRequest struct {
	Client      string
	PhoneNumber string

	Name           string
	Interests      []string
	EmailAddresses []string
	DeviceIDs      []string

	// Channel is the source of first contact: CRM, Phone or Website.
	Channel      string
	SourcePoint  string
	VerifiedWith string
	Provider     string
	ProviderData map[string]any
	Other        map[string]any

	// CRM record ids, required when Channel is CRM.
	CRMInternalID string
	CRMExternalID string
}

// validate checks required fields before any store access.
func (req *ResolveRequest) validate() error {
	if strings.TrimSpace(req.Client) == "" {
		return model.NewValidationError("client", "required")
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return model.NewValidationError("phoneNumber", "required")
	}
	if req.Channel == model.ChannelCRM {
		if req.CRMInternalID == "" || req.CRMExternalID == "" {
			return model.NewValidationError("crmIds", "internal and external record ids are required")
		}
	}
	return nil
}

// NormalizePhoneNumber trims the raw number and ensures the leading +.
// Returns a ValidationError when the result is not a plus-prefixed digit
// string.
func NormalizePhoneNumber(raw string) (string, error) {
	n := strings.TrimSpace(raw)
	if n == "" {
		return "", model.NewValidationError("phoneNumber", "required")
	}
	if !strings.HasPrefix(n, "+") {
		n = "+" + n
	}
	if !phonePattern.MatchString(n) {
		return "", model.NewValidationError("phoneNumber", "must be a plus-prefixed number")
	}
	return n, nil
}

// Resolve finds or creates the canonical Person for (client, phoneNumber).
// Returns the stored Person and whether it already existed. When the
// caller is CRM-trusted and the Person exists, the CRM identity is merged
// in regardless of prior verification state; any other caller's conflict
// is reported upward as existed=true without mutating the record.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*model.Person, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}

	phoneNumber, err := NormalizePhoneNumber(req.PhoneNumber)
	if err != nil {
		return nil, false, err
	}

	candidate := &model.Person{
		Client:      req.Client,
		PhoneNumber: phoneNumber,
		Name:        req.Name,
		Source: model.Source{
			Channel:      req.Channel,
			Point:        req.SourcePoint,
			VerifiedWith: req.VerifiedWith,
			Provider:     req.Provider,
			ProviderData: req.ProviderData,
		},
		Other: req.Other,
	}
	candidate.AddInterests(req.Interests...)
	candidate.AddEmailAddresses(req.EmailAddresses...)
	candidate.AddDeviceIDs(req.DeviceIDs...)
	if req.Channel == model.ChannelCRM {
		candidate.Meta.IdentityVerified = true
		candidate.Meta.OnCRM = true
		candidate.Meta.CRMInternalID = req.CRMInternalID
		candidate.Meta.CRMExternalID = req.CRMExternalID
	}

	outcome, err := r.store.InsertPerson(ctx, candidate)
	if err != nil {
		return nil, false, eris.Wrap(err, "identity: insert person")
	}

	if outcome == store.Inserted {
		zap.L().Info("identity: created new person",
			zap.String("client", req.Client),
			zap.String("channel", req.Channel),
			zap.String("person_id", candidate.ID),
		)
		return candidate, false, nil
	}

	// The record already exists. Only the CRM is trusted to assert
	// identity over a prior record.
	if req.Channel == model.ChannelCRM {
		if err := r.store.MergeCRMIdentity(ctx, req.Client, phoneNumber, req.CRMInternalID, req.CRMExternalID); err != nil {
			return nil, true, eris.Wrap(err, "identity: merge crm identity")
		}
		zap.L().Info("identity: merged crm identity into existing person",
			zap.String("client", req.Client),
		)
	} else {
		zap.L().Debug("identity: person already exists",
			zap.String("client", req.Client),
			zap.String("channel", req.Channel),
		)
	}

	existing, err := r.store.GetPerson(ctx, req.Client, phoneNumber)
	if err != nil {
		return nil, true, eris.Wrap(err, "identity: get existing person")
	}
	return existing, true, nil
}

// Get returns the Person for (client, phoneNumber), normalizing the
// number first. Absent persons yield model.ErrNotFound.
func (r *Resolver) Get(ctx context.Context, client, phoneNumber string) (*model.Person, error) {
	if strings.TrimSpace(client) == "" {
		return nil, model.NewValidationError("client", "required")
	}
	normalized, err := NormalizePhoneNumber(phoneNumber)
	if err != nil {
		return nil, err
	}
	return r.store.GetPerson(ctx, client, normalized)
}

// RecordSourceData writes the originating event payload onto a newly
// created Person. First contact gets this direct update in place of the
// webhook that repeat contacts trigger.
func (r *Resolver) RecordSourceData(ctx context.Context, p *model.Person, data map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	p.DataAtSource = data
	if err := r.store.UpdatePerson(ctx, p); err != nil {
		return eris.Wrap(err, "identity: record source data")
	}
	return nil
}

// Attributes are the merge-only fields a repeat interaction may add.
type Attributes struct {
	DeviceIDs      []string
	EmailAddresses []string
	Interests      []string
}

// MergeAttributes unions the given attributes into the Person and
// persists it. Set-union only: existing values are never removed and
// empty input never overwrites. The write is skipped when nothing new
// was added.
func (r *Resolver) MergeAttributes(ctx context.Context, p *model.Person, attrs Attributes) error {
	before := len(p.DeviceIDs) + len(p.EmailAddresses) + len(p.Interests)
	p.AddDeviceIDs(attrs.DeviceIDs...)
	p.AddEmailAddresses(attrs.EmailAddresses...)
	p.AddInterests(attrs.Interests...)
	if len(p.DeviceIDs)+len(p.EmailAddresses)+len(p.Interests) == before {
		return nil
	}
	if err := r.store.UpdatePerson(ctx, p); err != nil {
		return eris.Wrap(err, "identity: merge attributes")
	}
	return nil
}
