// Package enrich runs the staged enrichment pass over recently created
// persons: validate the phone number, gather public information, then
// mark the record researched.
package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/identity-core/internal/model"
	"github.com/sells-group/identity-core/internal/store"
	"github.com/sells-group/identity-core/pkg/peoplesearch"
	"github.com/sells-group/identity-core/pkg/telco"
)

// Summary reports one enrichment run.
type Summary struct {
	Candidates    int
	Completed     int
	Spam          int
	Errored       int
	ErrorsCleared int
}

// Worker drives the enrichment stages. Every stage persists before the
// next begins, so a crash mid-record resumes where it left off; the
// action flags are monotonic and never unset by enrichment.
type Worker struct {
	store           store.PersonStore
	telco           telco.Client
	search          peoplesearch.Client
	lookback        time.Duration
	errorRetryAfter time.Duration
}

// NewWorker creates an enrichment worker.
func NewWorker(st store.PersonStore, tc telco.Client, ps peoplesearch.Client, lookback, errorRetryAfter time.Duration) *Worker {
	return &Worker{
		store:           st,
		telco:           tc,
		search:          ps,
		lookback:        lookback,
		errorRetryAfter: errorRetryAfter,
	}
}

// Run processes all enrichment candidates from the lookback window,
// oldest first. Errored records past the retry cool-down are put back
// in rotation before candidates are selected. A record that errors
// mid-run is halted for this run and picked up again later.
func (w *Worker) Run(ctx context.Context) (*Summary, error) {
	now := time.Now().UTC()
	since := now.Add(-w.lookback)

	summary := &Summary{}

	cleared, err := w.store.ClearStaleErrors(ctx, since, now.Add(-w.errorRetryAfter))
	if err != nil {
		return nil, eris.Wrap(err, "enrich: clear stale errors")
	}
	summary.ErrorsCleared = cleared

	candidates, err := w.store.ListEnrichmentCandidates(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list candidates")
	}
	summary.Candidates = len(candidates)

	for i := range candidates {
		if ctx.Err() != nil {
			return summary, eris.Wrap(ctx.Err(), "enrich: run cancelled")
		}
		p := &candidates[i]
		switch w.process(ctx, p) {
		case model.StageDone:
			if p.Meta.Spam {
				summary.Spam++
			}
			summary.Completed++
		case model.StageErrored:
			summary.Errored++
		}
	}

	zap.L().Info("enrich: run complete",
		zap.Int("candidates", summary.Candidates),
		zap.Int("completed", summary.Completed),
		zap.Int("spam", summary.Spam),
		zap.Int("errored", summary.Errored),
		zap.Int("errors_cleared", summary.ErrorsCleared),
	)
	return summary, nil
}

// process runs the remaining stages for one person and returns the
// stage the record landed on.
func (w *Worker) process(ctx context.Context, p *model.Person) model.EnrichmentStage {
	if !p.Actions.ValidatePhoneNumber {
		if done := w.validatePhone(ctx, p); done {
			return p.Stage()
		}
	}
	if !p.Actions.GatherInformation {
		if !w.gatherInformation(ctx, p) {
			return p.Stage()
		}
	}
	if !p.Actions.Research {
		if !w.finalize(ctx, p) {
			return p.Stage()
		}
	}
	return p.Stage()
}

// validatePhone runs stage one. Returns true when the record is
// finished for this run, either errored or short-circuited as spam.
func (w *Worker) validatePhone(ctx context.Context, p *model.Person) bool {
	res, err := w.telco.Validate(ctx, p.PhoneNumber)
	if err != nil {
		w.markError(ctx, p, model.NewExternalServiceError("telco", err))
		return true
	}
	if !res.Success {
		reason := "provider reported failure"
		if res.Error != nil {
			reason = res.Error.Info
		}
		w.markError(ctx, p, eris.Errorf("enrich: validate phone: %s", reason))
		return true
	}

	p.Actions.ValidatePhoneNumber = true
	p.Meta.PhoneNumberIsValid = &res.Valid

	if !res.Valid {
		// An unreachable number is not worth paid lookups. The record
		// jumps straight to done, flagged as spam.
		p.Meta.Spam = true
		p.Actions.Research = true
		if err := w.persist(ctx, p, model.StagePending); err != nil {
			return true
		}
		zap.L().Info("enrich: number invalid, flagged spam",
			zap.String("client", p.Client),
			zap.String("person_id", p.ID),
		)
		return true
	}

	return w.persist(ctx, p, model.StagePending) != nil
}

// gatherInformation runs stage two. Returns false when the record is
// halted for this run.
func (w *Worker) gatherInformation(ctx context.Context, p *model.Person) bool {
	res, err := w.search.Search(ctx, peoplesearch.SearchRequest{
		PhoneNumbers:   []string{p.PhoneNumber},
		EmailAddresses: p.EmailAddresses,
	})
	if err != nil {
		w.markError(ctx, p, model.NewExternalServiceError("peoplesearch", err))
		return false
	}

	switch len(res.People) {
	case 0:
		// Nothing found; the stage still completes so we never pay for
		// the same lookup twice.
	case 1:
		match := res.People[0]
		if p.Name == "" {
			p.Name = match.Name
		}
		p.AddEmailAddresses(match.EmailAddresses...)
		if match.Occupation != "" {
			p.SetOther("occupation", match.Occupation)
		}
		if match.Location != "" {
			p.SetOther("location", match.Location)
		}
	default:
		// Multiple candidates means the number is shared or recycled.
		// Copying any of them would pollute the record.
		zap.L().Warn("enrich: ambiguous search result",
			zap.String("person_id", p.ID),
			zap.Int("matches", len(res.People)),
		)
	}

	now := time.Now().UTC()
	p.Actions.GatherInformation = true
	p.Meta.FetchedInformationOn = &now
	p.Meta.SearchID = res.SearchID
	return w.persist(ctx, p, model.StagePhoneValidated) == nil
}

// finalize marks the record fully researched.
func (w *Worker) finalize(ctx context.Context, p *model.Person) bool {
	p.Actions.Research = true
	return w.persist(ctx, p, model.StageInformationGathered) == nil
}

// persist validates the stage transition and writes the record.
func (w *Worker) persist(ctx context.Context, p *model.Person, from model.EnrichmentStage) error {
	to := p.Stage()
	if !model.CanTransition(from, to) {
		err := eris.Errorf("enrich: illegal stage transition %s -> %s", from, to)
		w.markError(ctx, p, err)
		return err
	}
	if err := w.store.UpdatePerson(ctx, p); err != nil {
		zap.L().Error("enrich: persist person",
			zap.String("person_id", p.ID),
			zap.Error(err),
		)
		return eris.Wrap(err, "enrich: persist person")
	}
	return nil
}

// markError flags the record so later stages skip it until the retry
// cool-down expires.
func (w *Worker) markError(ctx context.Context, p *model.Person, cause error) {
	now := time.Now().UTC()
	p.Meta.Error = true
	p.Meta.ErroredOn = &now
	if err := w.store.UpdatePerson(ctx, p); err != nil {
		zap.L().Error("enrich: persist error flag",
			zap.String("person_id", p.ID),
			zap.Error(err),
		)
	}
	zap.L().Error("enrich: record halted",
		zap.String("client", p.Client),
		zap.String("person_id", p.ID),
		zap.Error(cause),
	)
}
