package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/identity-core/internal/model"
)

type fakeActivityStore struct {
	entries []*model.Activity
}

func (f *fakeActivityStore) InsertActivity(_ context.Context, a *model.Activity) error {
	cp := *a
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeActivityStore) LatestActivity(_ context.Context, activityType, client, phone string) (*model.Activity, error) {
	var latest *model.Activity
	for _, a := range f.entries {
		if a.Type != activityType || a.Client != client || a.PhoneNumber != phone {
			continue
		}
		if latest == nil || a.When.After(latest.When) {
			latest = a
		}
	}
	return latest, nil
}

func TestRecordFirstEntry(t *testing.T) {
	fs := &fakeActivityStore{}
	r := NewRecorder(fs, 10*time.Minute)

	wrote, err := r.Record(context.Background(), &model.Activity{
		Type:        model.ActivityOnWebsite,
		Client:      "acme",
		PhoneNumber: "+15551234567",
	})
	require.NoError(t, err)
	assert.True(t, wrote)
	require.Len(t, fs.entries, 1)
	assert.False(t, fs.entries[0].When.IsZero())
}

func TestRecordDebouncesInsideWindow(t *testing.T) {
	fs := &fakeActivityStore{}
	r := NewRecorder(fs, 10*time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	wrote, err := r.Record(ctx, &model.Activity{
		Type:        model.ActivityOnWebsite,
		Client:      "acme",
		PhoneNumber: "+15551234567",
		When:        now,
	})
	require.NoError(t, err)
	require.True(t, wrote)

	wrote, err = r.Record(ctx, &model.Activity{
		Type:        model.ActivityOnWebsite,
		Client:      "acme",
		PhoneNumber: "+15551234567",
		When:        now.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Len(t, fs.entries, 1)
}

func TestRecordWritesAfterWindow(t *testing.T) {
	fs := &fakeActivityStore{}
	r := NewRecorder(fs, 10*time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := r.Record(ctx, &model.Activity{
		Type:        model.ActivityOnWebsite,
		Client:      "acme",
		PhoneNumber: "+15551234567",
		When:        now,
	})
	require.NoError(t, err)

	wrote, err := r.Record(ctx, &model.Activity{
		Type:        model.ActivityOnWebsite,
		Client:      "acme",
		PhoneNumber: "+15551234567",
		When:        now.Add(10 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Len(t, fs.entries, 2)
}

func TestRecordSeparateIdentitiesAndTypes(t *testing.T) {
	fs := &fakeActivityStore{}
	r := NewRecorder(fs, 10*time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, a := range []*model.Activity{
		{Type: model.ActivityOnWebsite, Client: "acme", PhoneNumber: "+15551234567", When: now},
		{Type: model.ActivityPhoned, Client: "acme", PhoneNumber: "+15551234567", When: now},
		{Type: model.ActivityOnWebsite, Client: "globex", PhoneNumber: "+15551234567", When: now},
	} {
		wrote, err := r.Record(ctx, a)
		require.NoError(t, err)
		assert.True(t, wrote)
	}
	assert.Len(t, fs.entries, 3)
}

func TestRecordValidation(t *testing.T) {
	r := NewRecorder(&fakeActivityStore{}, time.Minute)

	_, err := r.Record(context.Background(), &model.Activity{Client: "acme", PhoneNumber: "+1555"})
	assert.True(t, model.IsValidation(err))

	_, err = r.Record(context.Background(), &model.Activity{Type: model.ActivityPhoned, PhoneNumber: "+1555"})
	assert.True(t, model.IsValidation(err))
}
