package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/identity-core/internal/activity"
	"github.com/sells-group/identity-core/internal/identity"
	"github.com/sells-group/identity-core/internal/model"
	"github.com/sells-group/identity-core/internal/store"
	"github.com/sells-group/identity-core/internal/tenant"
	"github.com/sells-group/identity-core/pkg/analytics"
)

// otherKeyRecordingURL stashes the recording of a person's first call.
const otherKeyRecordingURL = "initialCallRecordingURL"

// websiteActivityProvider labels website activities; the pings come from
// the analytics tag embedded on the tenant's site.
const websiteActivityProvider = "Google Analytics"

// Notifier delivers repeat-contact events to tenant endpoints.
type Notifier interface {
	NotifyRepeatContact(ctx context.Context, eventType string, p *model.Person, data map[string]any)
}

// Pipeline wires the inbound endpoints to the resolver, activity log,
// webhook dispatcher and analytics destinations.
type Pipeline struct {
	resolver *identity.Resolver
	recorder *activity.Recorder
	notifier Notifier
	registry *tenant.Registry
	trackers *analytics.Registry
	logs     store.LogStore
}

// NewPipeline creates the ingest pipeline.
func NewPipeline(
	resolver *identity.Resolver,
	recorder *activity.Recorder,
	notifier Notifier,
	registry *tenant.Registry,
	trackers *analytics.Registry,
	logs store.LogStore,
) *Pipeline {
	return &Pipeline{
		resolver: resolver,
		recorder: recorder,
		notifier: notifier,
		registry: registry,
		trackers: trackers,
		logs:     logs,
	}
}

// AddPerson handles POST /people: find-or-create the canonical person.
// Returns the stored person and whether it already existed.
func (p *Pipeline) AddPerson(ctx context.Context, req AddPersonRequest) (*model.Person, bool, error) {
	return p.resolver.Resolve(ctx, identity.ResolveRequest{
		Client:         req.Client,
		PhoneNumber:    req.PhoneNumber,
		Name:           req.Name,
		Interests:      req.Interests.compact(),
		EmailAddresses: req.EmailAddresses.compact(),
		Channel:        req.Source.Channel,
		SourcePoint:    req.Source.Point,
		VerifiedWith:   req.Source.VerifiedWith,
		Provider:       req.Source.Provider,
		ProviderData:   req.Source.ProviderData,
		CRMInternalID:  req.CRMInternalID,
		CRMExternalID:  req.CRMExternalID,
	})
}

// LookupWebsiteVisitor validates a person-on-website hook and fetches
// the person it refers to. The website hook never creates persons: an
// unknown number surfaces model.ErrNotFound for the HTTP layer to turn
// into a 404 before the hook is acknowledged.
func (p *Pipeline) LookupWebsiteVisitor(ctx context.Context, ev WebsiteVisitEvent) (*model.Person, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return p.resolver.Get(ctx, ev.Client, ev.PhoneNumber)
}

// CompleteWebsiteVisit runs the post-ack side of the website hook:
// debounced activity, attribute merge, then the repeat-contact webhook.
// A visit inside the debounce window is dropped whole, merge included.
func (p *Pipeline) CompleteWebsiteVisit(ctx context.Context, person *model.Person, ev WebsiteVisitEvent) error {
	if person.ID == "" {
		// The record is still mid-insert from a concurrent first
		// contact; the next ping will find it whole.
		zap.L().Debug("ingest: website visitor has no id yet",
			zap.String("client", person.Client),
		)
		return nil
	}

	data := map[string]any{"where": ev.Where}
	if ids := ev.DeviceIDs.compact(); len(ids) > 0 {
		data["deviceId"] = ids[0]
	}
	wrote, err := p.recorder.Record(ctx, &model.Activity{
		Type:            model.ActivityOnWebsite,
		Client:          person.Client,
		PhoneNumber:     person.PhoneNumber,
		ServiceProvider: websiteActivityProvider,
		Data:            data,
	})
	if err != nil {
		return eris.Wrap(err, "ingest: record website activity")
	}
	if !wrote {
		zap.L().Debug("ingest: website visit debounced",
			zap.String("client", person.Client),
		)
		return nil
	}

	if err := p.resolver.MergeAttributes(ctx, person, identity.Attributes{
		DeviceIDs:      ev.DeviceIDs.compact(),
		EmailAddresses: ev.EmailAddresses.compact(),
		Interests:      ev.Interests.compact(),
	}); err != nil {
		return eris.Wrap(err, "ingest: merge website attributes")
	}

	p.notifier.NotifyRepeatContact(ctx, model.ActivityOnWebsite, person, map[string]any{
		"where": ev.Where,
	})

	zap.L().Info("ingest: website visit processed",
		zap.String("client", person.Client),
	)
	return nil
}

// HandlePhoneCall processes a post-call hook from a telephony provider.
// The raw payload is archived before anything can fail, call logs that
// were not routed through one of the tenant's registered numbers are
// dropped, and the caller is resolved into a person like any other
// contact.
func (p *Pipeline) HandlePhoneCall(ctx context.Context, client, provider string, payload map[string]any) error {
	if _, ok := p.registry.Get(client); !ok {
		zap.L().Error("ingest: call log for unknown tenant",
			zap.String("client", client),
			zap.String("provider", provider),
		)
		return nil
	}

	if err := p.logs.AppendLog(ctx, store.LogKindCalls, map[string]any{
		"client":   client,
		"provider": provider,
		"payload":  payload,
	}); err != nil {
		// The archive is best effort; the call itself still counts.
		zap.L().Error("ingest: archive call log", zap.String("client", client), zap.Error(err))
	}

	call, err := ParseCall(provider, payload)
	if err != nil {
		return err
	}
	phoneNumber, err := identity.NormalizePhoneNumber(call.CallerNumber)
	if err != nil {
		return err
	}

	// A call log whose dialed number is not one of the tenant's lines
	// with this provider belongs to another account.
	if !p.registry.IsIVRNumber(client, provider, call.TrackingNumber) {
		zap.L().Info("ingest: call for an unregistered number, dropping",
			zap.String("client", client),
			zap.String("provider", provider),
			zap.String("tracking_number", call.TrackingNumber),
		)
		return nil
	}

	activityData := map[string]any{
		"trackingNumber":  call.TrackingNumber,
		"durationSeconds": int(call.Duration.Seconds()),
	}
	if call.RecordingURL != "" {
		activityData["recordingUrl"] = call.RecordingURL
	}
	if _, err := p.recorder.Record(ctx, &model.Activity{
		Type:            model.ActivityPhoned,
		Client:          client,
		PhoneNumber:     phoneNumber,
		When:            call.CalledAt,
		ServiceProvider: provider,
		Data:            activityData,
	}); err != nil {
		return eris.Wrap(err, "ingest: record call activity")
	}

	req := identity.ResolveRequest{
		Client:      client,
		PhoneNumber: phoneNumber,
		Name:        call.CallerName,
		Channel:     model.ChannelPhone,
		SourcePoint: call.TrackingNumber,
		Provider:    provider,
	}
	if call.DeviceID != "" {
		req.DeviceIDs = []string{call.DeviceID}
	}
	if call.RecordingURL != "" {
		req.Other = map[string]any{otherKeyRecordingURL: call.RecordingURL}
	}

	person, existed, err := p.resolver.Resolve(ctx, req)
	if err != nil {
		return eris.Wrap(err, "ingest: resolve caller")
	}

	if existed {
		if call.DeviceID != "" {
			if err := p.resolver.MergeAttributes(ctx, person, identity.Attributes{
				DeviceIDs: []string{call.DeviceID},
			}); err != nil {
				return eris.Wrap(err, "ingest: merge caller attributes")
			}
		}
		p.notifier.NotifyRepeatContact(ctx, model.ActivityPhoned, person, activityData)
	} else {
		if err := p.resolver.RecordSourceData(ctx, person, activityData); err != nil {
			return eris.Wrap(err, "ingest: record call source data")
		}
		p.logConversion(ctx, person, call.DeviceID)
	}

	p.logPhoneCall(ctx, client, provider, phoneNumber, call)

	zap.L().Info("ingest: call processed",
		zap.String("client", client),
		zap.String("provider", provider),
		zap.Bool("existed", existed),
	)
	return nil
}

// logConversion reports a first contact to every analytics destination
// the tenant configured. Destination failures are isolated from the
// pipeline and from each other.
func (p *Pipeline) logConversion(ctx context.Context, person *model.Person, deviceID string) {
	for _, dest := range p.registry.AnalyticsDestinations(person.Client) {
		tracker := p.trackers.Get(dest.Provider)
		if tracker == nil {
			zap.L().Warn("ingest: no tracker registered for destination",
				zap.String("provider", dest.Provider),
			)
			continue
		}
		err := tracker.LogConversion(ctx, analytics.ConversionEvent{
			Client:      person.Client,
			PhoneNumber: person.PhoneNumber,
			DeviceID:    deviceID,
			Channel:     person.Source.Channel,
			OccurredAt:  time.Now().UTC(),
		})
		if err != nil {
			zap.L().Error("ingest: log conversion",
				zap.String("client", person.Client),
				zap.String("provider", dest.Provider),
				zap.Error(err),
			)
		}
	}
}

// logPhoneCall fans the call event out to the tenant's analytics
// destinations, also fault isolated.
func (p *Pipeline) logPhoneCall(ctx context.Context, client, provider, phoneNumber string, call *PhoneCall) {
	for _, dest := range p.registry.AnalyticsDestinations(client) {
		tracker := p.trackers.Get(dest.Provider)
		if tracker == nil {
			continue
		}
		err := tracker.LogPhoneCall(ctx, analytics.CallEvent{
			Client:      client,
			PhoneNumber: phoneNumber,
			DeviceID:    call.DeviceID,
			Provider:    provider,
			CalledAt:    call.CalledAt,
			Duration:    call.Duration,
		})
		if err != nil {
			zap.L().Error("ingest: log phone call",
				zap.String("client", client),
				zap.String("provider", dest.Provider),
				zap.Error(err),
			)
		}
	}
}

