// Package store provides the persistence layer for Person and Activity
// documents. Two backends implement the same interface: PostgresStore
// (pgxpool) and SQLiteStore (modernc). Records are stored as JSON
// documents with the dedup key (client, phone_number) broken out into
// indexed columns; the unique index on that pair is the sole enforcement
// of the one-Person-per-contact invariant.
package store

import (
	"context"
	"time"

	"github.com/sells-group/identity-core/internal/model"
)

// InsertOutcome is the typed result of an insert attempt against a
// uniqueness-constrained collection. Callers branch on it instead of
// sniffing driver-specific error codes.
type InsertOutcome int

const (
	// Inserted means a new document was created.
	Inserted InsertOutcome = iota
	// AlreadyExists means the uniqueness constraint matched an existing
	// document and nothing was written.
	AlreadyExists
)

// Log kinds for the raw payload archive.
const (
	LogKindCalls = "Calls"
)

// PersonStore persists canonical Person documents.
type PersonStore interface {
	// InsertPerson attempts to create the Person. On Inserted the Person's
	// ID and Meta.CreatedOn are populated. On AlreadyExists the document
	// is untouched and the passed Person keeps its zero ID.
	InsertPerson(ctx context.Context, p *model.Person) (InsertOutcome, error)

	// GetPerson returns the Person for (client, phoneNumber) or
	// model.ErrNotFound.
	GetPerson(ctx context.Context, client, phoneNumber string) (*model.Person, error)

	// UpdatePerson replaces the stored document for the Person's id.
	UpdatePerson(ctx context.Context, p *model.Person) error

	// MergeCRMIdentity marks an existing Person as CRM-verified and
	// records its CRM ids, regardless of prior verification state.
	MergeCRMIdentity(ctx context.Context, client, phoneNumber, internalID, externalID string) error

	// ListEnrichmentCandidates returns Persons with research != true,
	// error != true and createdOn >= since, oldest first.
	ListEnrichmentCandidates(ctx context.Context, since time.Time) ([]model.Person, error)

	// ClearStaleErrors resets the error flag on Persons created on or
	// after since whose error was flagged at or before the before cutoff,
	// making them eligible for the next sweep. Returns the number of
	// records cleared.
	ClearStaleErrors(ctx context.Context, since, before time.Time) (int, error)
}

// ActivityStore persists the append-mostly Activity log.
type ActivityStore interface {
	InsertActivity(ctx context.Context, a *model.Activity) error

	// LatestActivity returns the most recent Activity of the given type
	// for (client, phoneNumber), or nil when none exists.
	LatestActivity(ctx context.Context, activityType, client, phoneNumber string) (*model.Activity, error)
}

// LogStore archives raw provider payloads. Failures here must never
// abort the pipeline that produced the payload.
type LogStore interface {
	AppendLog(ctx context.Context, kind string, payload any) error
}

// Store is the full persistence interface with explicit lifecycle:
// constructed once at startup, injected into each component, closed at
// shutdown.
type Store interface {
	PersonStore
	ActivityStore
	LogStore

	Migrate(ctx context.Context) error
	Close() error
}
