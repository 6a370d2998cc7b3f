package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/identity-core/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix nanoseconds so range predicates and ordering are exact.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS persons (
	id           TEXT PRIMARY KEY,
	client       TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	doc          TEXT NOT NULL,
	created_on   INTEGER NOT NULL,
	updated_on   INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_persons_client_phone ON persons(client, phone_number);
CREATE INDEX IF NOT EXISTS idx_persons_created_on ON persons(created_on);

CREATE TABLE IF NOT EXISTS activities (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	client       TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	at           INTEGER NOT NULL,
	doc          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activities_lookup ON activities(type, client, phone_number, at DESC);

CREATE TABLE IF NOT EXISTS logs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_on INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_logs_kind ON logs(kind, created_on);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation detects the SQLite unique-constraint error without
// leaking the driver error type to callers.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// InsertPerson attempts to create the Person document, mapping a unique
// constraint conflict to AlreadyExists.
func (s *SQLiteStore) InsertPerson(ctx context.Context, p *model.Person) (InsertOutcome, error) {
	id := uuid.NewString()
	createdOn := p.Meta.CreatedOn
	if createdOn.IsZero() {
		createdOn = time.Now().UTC()
	}

	candidate := *p
	candidate.ID = id
	candidate.Meta.CreatedOn = createdOn

	doc, err := json.Marshal(&candidate)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal person")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO persons (id, client, phone_number, doc, created_on, updated_on) VALUES (?, ?, ?, ?, ?, ?)`,
		id, candidate.Client, candidate.PhoneNumber, string(doc), createdOn.UnixNano(), createdOn.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return AlreadyExists, nil
		}
		return 0, eris.Wrap(err, "sqlite: insert person")
	}

	p.ID = id
	p.Meta.CreatedOn = createdOn
	return Inserted, nil
}

// GetPerson returns the Person for (client, phoneNumber) or model.ErrNotFound.
func (s *SQLiteStore) GetPerson(ctx context.Context, client, phoneNumber string) (*model.Person, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM persons WHERE client = ? AND phone_number = ?`,
		client, phoneNumber,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get person")
	}
	return unmarshalPerson([]byte(doc))
}

// UpdatePerson replaces the stored document for the Person's id.
func (s *SQLiteStore) UpdatePerson(ctx context.Context, p *model.Person) error {
	if p.ID == "" {
		return eris.New("sqlite: update person: missing id")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal person")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE persons SET doc = ?, updated_on = ? WHERE id = ?`,
		string(doc), time.Now().UTC().UnixNano(), p.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update person")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// MergeCRMIdentity marks an existing Person as CRM-verified via
// read-modify-write; single-writer batch semantics make this safe on the
// SQLite backend.
func (s *SQLiteStore) MergeCRMIdentity(ctx context.Context, client, phoneNumber, internalID, externalID string) error {
	p, err := s.GetPerson(ctx, client, phoneNumber)
	if err != nil {
		return err
	}
	p.Meta.IdentityVerified = true
	p.Meta.OnCRM = true
	p.Meta.CRMInternalID = internalID
	p.Meta.CRMExternalID = externalID
	return s.UpdatePerson(ctx, p)
}

// ListEnrichmentCandidates returns un-researched, un-errored Persons
// created on or after since, oldest first.
func (s *SQLiteStore) ListEnrichmentCandidates(ctx context.Context, since time.Time) ([]model.Person, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM persons
		 WHERE COALESCE(json_extract(doc, '$.actions.research'), 0) != 1
		   AND COALESCE(json_extract(doc, '$.meta.error'), 0) != 1
		   AND created_on >= ?
		 ORDER BY created_on ASC`,
		since.UnixNano(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close()

	var persons []model.Person
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		p, err := unmarshalPerson([]byte(doc))
		if err != nil {
			return nil, err
		}
		persons = append(persons, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate candidates")
	}
	return persons, nil
}

// ClearStaleErrors resets the error flag on records whose error is older
// than the cool-down cutoff.
func (s *SQLiteStore) ClearStaleErrors(ctx context.Context, since, before time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM persons
		 WHERE COALESCE(json_extract(doc, '$.meta.error'), 0) = 1
		   AND created_on >= ?`,
		since.UnixNano(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: select errored")
	}
	defer rows.Close()

	var stale []*model.Person
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return 0, eris.Wrap(err, "sqlite: scan errored")
		}
		p, err := unmarshalPerson([]byte(doc))
		if err != nil {
			return 0, err
		}
		if p.Meta.ErroredOn != nil && !p.Meta.ErroredOn.After(before) {
			stale = append(stale, p)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: iterate errored")
	}

	cleared := 0
	for _, p := range stale {
		p.Meta.Error = false
		if err := s.UpdatePerson(ctx, p); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

// InsertActivity appends one Activity document.
func (s *SQLiteStore) InsertActivity(ctx context.Context, a *model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.When.IsZero() {
		a.When = time.Now().UTC()
	}
	doc, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal activity")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO activities (id, type, client, phone_number, at, doc) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Client, a.PhoneNumber, a.When.UnixNano(), string(doc),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert activity")
	}
	return nil
}

// LatestActivity returns the most recent Activity of the given type for
// (client, phoneNumber), or nil when none exists.
func (s *SQLiteStore) LatestActivity(ctx context.Context, activityType, client, phoneNumber string) (*model.Activity, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM activities WHERE type = ? AND client = ? AND phone_number = ? ORDER BY at DESC LIMIT 1`,
		activityType, client, phoneNumber,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: latest activity")
	}
	var a model.Activity
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal activity")
	}
	return &a, nil
}

// AppendLog archives a raw provider payload.
func (s *SQLiteStore) AppendLog(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal log payload")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO logs (id, kind, payload, created_on) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), kind, string(body), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: append log")
	}
	return nil
}
