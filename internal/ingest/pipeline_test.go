package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/identity-core/internal/activity"
	"github.com/sells-group/identity-core/internal/identity"
	"github.com/sells-group/identity-core/internal/model"
	"github.com/sells-group/identity-core/internal/store"
	"github.com/sells-group/identity-core/internal/tenant"
	"github.com/sells-group/identity-core/pkg/analytics"
)

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) NotifyRepeatContact(_ context.Context, eventType string, _ *model.Person, _ map[string]any) {
	f.events = append(f.events, eventType)
}

type fakeTracker struct {
	calls       []analytics.CallEvent
	conversions []analytics.ConversionEvent
}

func (f *fakeTracker) Name() string { return "google-analytics" }

func (f *fakeTracker) LogPhoneCall(_ context.Context, ev analytics.CallEvent) error {
	f.calls = append(f.calls, ev)
	return nil
}

func (f *fakeTracker) LogConversion(_ context.Context, ev analytics.ConversionEvent) error {
	f.conversions = append(f.conversions, ev)
	return nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    store.Store
	notifier *fakeNotifier
	tracker  *fakeTracker
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	registry := tenant.NewRegistry(map[string]tenant.Tenant{
		"acme": {
			WebhookURL: "https://hooks.acme.example/new-person",
			Telephony: []tenant.Telephony{
				{Provider: "calltrackingmetrics", IVRNumbers: []string{"+18005550199"}},
			},
			Analytics: []tenant.Analytics{
				{Provider: "google-analytics", MeasurementID: "G-ACME1"},
			},
		},
	})

	notifier := &fakeNotifier{}
	tracker := &fakeTracker{}
	trackers := analytics.NewRegistry()
	trackers.Register(tracker)

	pipeline := NewPipeline(
		identity.NewResolver(st),
		activity.NewRecorder(st, 10*time.Minute),
		notifier,
		registry,
		trackers,
		st,
	)
	return &pipelineFixture{pipeline: pipeline, store: st, notifier: notifier, tracker: tracker}
}

func TestAddPersonCreatesAndDetectsDuplicate(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	req := AddPersonRequest{
		Client:      "acme",
		PhoneNumber: "15551234567",
		Name:        "Jo Rivera",
		Interests:   StringList{"solar"},
	}
	req.Source.Channel = model.ChannelWebsite
	req.Source.Point = "contact-form"

	person, existed, err := f.pipeline.AddPerson(ctx, req)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, "+15551234567", person.PhoneNumber)

	_, existed, err = f.pipeline.AddPerson(ctx, req)
	require.NoError(t, err)
	assert.True(t, existed)
}

// addVisitor seeds a person the website hook can find.
func (f *pipelineFixture) addVisitor(t *testing.T, phoneNumber string) {
	t.Helper()
	req := AddPersonRequest{Client: "acme", PhoneNumber: phoneNumber}
	req.Source.Channel = model.ChannelWebsite
	req.Source.Point = "contact-form"
	_, existed, err := f.pipeline.AddPerson(context.Background(), req)
	require.NoError(t, err)
	require.False(t, existed)
}

func TestWebsiteVisitUnknownPersonIsNotFound(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.pipeline.LookupWebsiteVisitor(context.Background(), WebsiteVisitEvent{
		Client:      "acme",
		PhoneNumber: "+15551234567",
	})
	assert.ErrorIs(t, err, model.ErrNotFound)

	// The hook never creates a person.
	_, err = f.store.GetPerson(context.Background(), "acme", "+15551234567")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestWebsiteVisitKnownPerson(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	f.addVisitor(t, "+15551234567")

	ev := WebsiteVisitEvent{
		Client:         "acme",
		PhoneNumber:    "+15551234567",
		Where:          "/pricing",
		DeviceIDs:      StringList{"ga-device-2"},
		EmailAddresses: StringList{"jo@example.com"},
	}
	person, err := f.pipeline.LookupWebsiteVisitor(ctx, ev)
	require.NoError(t, err)
	require.NoError(t, f.pipeline.CompleteWebsiteVisit(ctx, person, ev))

	assert.Equal(t, []string{model.ActivityOnWebsite}, f.notifier.events)

	stored, err := f.store.GetPerson(ctx, "acme", "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, []string{"ga-device-2"}, stored.DeviceIDs)
	assert.Equal(t, []string{"jo@example.com"}, stored.EmailAddresses)

	latest, err := f.store.LatestActivity(ctx, model.ActivityOnWebsite, "acme", "+15551234567")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "/pricing", latest.Data["where"])
	assert.Equal(t, "ga-device-2", latest.Data["deviceId"])
}

func TestWebsiteVisitInsideDebounceWindowIsDropped(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	f.addVisitor(t, "+15551234567")

	first := WebsiteVisitEvent{Client: "acme", PhoneNumber: "+15551234567", Where: "/"}
	person, err := f.pipeline.LookupWebsiteVisitor(ctx, first)
	require.NoError(t, err)
	require.NoError(t, f.pipeline.CompleteWebsiteVisit(ctx, person, first))

	second := WebsiteVisitEvent{
		Client:         "acme",
		PhoneNumber:    "+15551234567",
		Where:          "/pricing",
		EmailAddresses: StringList{"jo@example.com"},
	}
	person, err = f.pipeline.LookupWebsiteVisitor(ctx, second)
	require.NoError(t, err)
	require.NoError(t, f.pipeline.CompleteWebsiteVisit(ctx, person, second))

	// Only the first visit notified; the second was debounced whole.
	assert.Equal(t, []string{model.ActivityOnWebsite}, f.notifier.events)
	stored, err := f.store.GetPerson(ctx, "acme", "+15551234567")
	require.NoError(t, err)
	assert.Empty(t, stored.EmailAddresses)
}

func TestWebsiteVisitRejectsMalformedNumber(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.pipeline.LookupWebsiteVisitor(context.Background(), WebsiteVisitEvent{
		Client:      "acme",
		PhoneNumber: "not-a-number",
	})
	assert.True(t, model.IsValidation(err))
}

func ctmPayload() map[string]any {
	return map[string]any{
		"caller_number":   "15551234567",
		"caller_name":     "Jo Rivera",
		"tracking_number": "+18005550199",
		"talk_time":       float64(95),
		"audio_url":       "https://ctm.example/rec/1.mp3",
		"ga_client_id":    "ga-device-7",
		"called_at":       time.Now().UTC().Format(time.RFC3339),
	}
}

func TestPhoneCallNewPerson(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	err := f.pipeline.HandlePhoneCall(ctx, "acme", "calltrackingmetrics", ctmPayload())
	require.NoError(t, err)

	person, err := f.store.GetPerson(ctx, "acme", "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, model.ChannelPhone, person.Source.Channel)
	assert.Equal(t, "Jo Rivera", person.Name)
	assert.Equal(t, "https://ctm.example/rec/1.mp3", person.Other[otherKeyRecordingURL])
	assert.Equal(t, "+18005550199", person.DataAtSource["trackingNumber"])

	assert.Empty(t, f.notifier.events)
	require.Len(t, f.tracker.conversions, 1)
	require.Len(t, f.tracker.calls, 1)
	assert.Equal(t, 95*time.Second, f.tracker.calls[0].Duration)
}

func TestPhoneCallExistingPerson(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pipeline.HandlePhoneCall(ctx, "acme", "calltrackingmetrics", ctmPayload()))
	require.NoError(t, f.pipeline.HandlePhoneCall(ctx, "acme", "calltrackingmetrics", ctmPayload()))

	assert.Equal(t, []string{model.ActivityPhoned}, f.notifier.events)
	assert.Len(t, f.tracker.conversions, 1)
	assert.Len(t, f.tracker.calls, 2)
}

func TestPhoneCallForUnregisteredNumberIsDropped(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	payload := ctmPayload()
	payload["tracking_number"] = "+18005550777"

	require.NoError(t, f.pipeline.HandlePhoneCall(ctx, "acme", "calltrackingmetrics", payload))

	_, err := f.store.GetPerson(ctx, "acme", "+15551234567")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, f.tracker.calls)
}

func TestPhoneCallForUnknownTenantIsDropped(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pipeline.HandlePhoneCall(ctx, "initech", "calltrackingmetrics", ctmPayload()))

	_, err := f.store.GetPerson(ctx, "initech", "+15551234567")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPhoneCallUnknownProvider(t *testing.T) {
	f := newPipelineFixture(t)

	err := f.pipeline.HandlePhoneCall(context.Background(), "acme", "twilio", ctmPayload())
	assert.True(t, model.IsValidation(err))
}

func TestPhoneCallArchivesRawPayload(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	// Even a payload that fails parsing lands in the raw archive.
	err := f.pipeline.HandlePhoneCall(ctx, "acme", "calltrackingmetrics", map[string]any{
		"talk_time": float64(5),
	})
	assert.True(t, model.IsValidation(err))
}
