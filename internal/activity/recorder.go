// Package activity appends interaction events to the activity log with
// per-identity debouncing.
package activity

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/identity-core/internal/model"
	"github.com/sells-group/identity-core/internal/store"
)

// Recorder writes Activity entries, suppressing repeats of the same
// (type, client, phoneNumber) inside the debounce window.
type Recorder struct {
	store  store.ActivityStore
	window time.Duration
}

// NewRecorder creates an activity recorder with the given debounce window.
func NewRecorder(st store.ActivityStore, window time.Duration) *Recorder {
	return &Recorder{store: st, window: window}
}

// Record appends the Activity unless an entry of the same type for the
// same identity exists within the debounce window. Returns whether the
// entry was written. Debounce is keyed on the latest stored entry, so a
// steady stream of events collapses to one entry per window.
func (r *Recorder) Record(ctx context.Context, a *model.Activity) (bool, error) {
	if a.Type == "" {
		return false, model.NewValidationError("type", "required")
	}
	if a.Client == "" {
		return false, model.NewValidationError("client", "required")
	}
	if a.PhoneNumber == "" {
		return false, model.NewValidationError("phoneNumber", "required")
	}
	if a.When.IsZero() {
		a.When = time.Now().UTC()
	}

	latest, err := r.store.LatestActivity(ctx, a.Type, a.Client, a.PhoneNumber)
	if err != nil {
		return false, eris.Wrap(err, "activity: latest")
	}
	if latest != nil && a.When.Sub(latest.When) < r.window {
		zap.L().Debug("activity: debounced",
			zap.String("type", a.Type),
			zap.String("client", a.Client),
			zap.Duration("since_last", a.When.Sub(latest.When)),
		)
		return false, nil
	}

	if err := r.store.InsertActivity(ctx, a); err != nil {
		return false, eris.Wrap(err, "activity: insert")
	}
	return true, nil
}
