package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-core/internal/model"
)

// Pool is the subset of pgxpool.Pool used by the store. Satisfied by
// pgxmock.PgxPoolIface in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

const uniqueViolation = "23505"

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of the ingest pipeline.
var preparedStatements = map[string]string{
	"insert_person":   sqlInsertPerson,
	"get_person":      sqlGetPerson,
	"update_person":   sqlUpdatePerson,
	"insert_activity": sqlInsertActivity,
	"latest_activity": sqlLatestActivity,
}

const (
	sqlInsertPerson = `INSERT INTO persons (id, client, phone_number, doc, created_on) VALUES ($1, $2, $3, $4, $5)`
	sqlGetPerson    = `SELECT doc FROM persons WHERE client = $1 AND phone_number = $2`
	sqlUpdatePerson = `UPDATE persons SET doc = $1, updated_on = now() WHERE id = $2`
	sqlMergeCRM     = `UPDATE persons SET doc = doc || jsonb_build_object('meta', (doc->'meta') || $3::jsonb), updated_on = now() WHERE client = $1 AND phone_number = $2`

	sqlListCandidates = `SELECT doc FROM persons
		WHERE (doc->'actions'->>'research') IS DISTINCT FROM 'true'
		  AND (doc->'meta'->>'error') IS DISTINCT FROM 'true'
		  AND created_on >= $1
		ORDER BY created_on ASC`

	sqlClearStaleErrors = `UPDATE persons
		SET doc = jsonb_set(doc, '{meta,error}', 'false'::jsonb), updated_on = now()
		WHERE (doc->'meta'->>'error') = 'true'
		  AND created_on >= $1
		  AND (doc->'meta'->>'erroredOn') IS NOT NULL
		  AND (doc->'meta'->>'erroredOn')::timestamptz <= $2`

	sqlInsertActivity = `INSERT INTO activities (id, type, client, phone_number, at, doc) VALUES ($1, $2, $3, $4, $5, $6)`
	sqlLatestActivity = `SELECT doc FROM activities WHERE type = $1 AND client = $2 AND phone_number = $3 ORDER BY at DESC LIMIT 1`

	sqlAppendLog = `INSERT INTO logs (id, kind, payload, created_on) VALUES ($1, $2, $3, $4)`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS persons (
	id           TEXT PRIMARY KEY,
	client       TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	doc          JSONB NOT NULL,
	created_on   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_on   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_persons_client_phone ON persons(client, phone_number);
CREATE INDEX IF NOT EXISTS idx_persons_created_on ON persons(created_on);

CREATE TABLE IF NOT EXISTS activities (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	client       TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	at           TIMESTAMPTZ NOT NULL,
	doc          JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activities_lookup ON activities(type, client, phone_number, at DESC);

CREATE TABLE IF NOT EXISTS logs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_on TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_logs_kind ON logs(kind, created_on);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// InsertPerson attempts to create the Person document. A unique-index
// conflict on (client, phone_number) is mapped to AlreadyExists, never
// surfaced as an error.
func (s *PostgresStore) InsertPerson(ctx context.Context, p *model.Person) (InsertOutcome, error) {
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
		return 0, eris.Wrap(err, "postgres: marshal person")
	}

	_, err = s.pool.Exec(ctx, sqlInsertPerson, id, candidate.Client, candidate.PhoneNumber, doc, createdOn)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return AlreadyExists, nil
		}
		return 0, eris.Wrap(err, "postgres: insert person")
	}

	p.ID = id
	p.Meta.CreatedOn = createdOn
	return Inserted, nil
}

// GetPerson returns the Person for (client, phoneNumber) or model.ErrNotFound.
func (s *PostgresStore) GetPerson(ctx context.Context, client, phoneNumber string) (*model.Person, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, sqlGetPerson, client, phoneNumber).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get person")
	}
	return unmarshalPerson(doc)
}

// UpdatePerson replaces the stored document for the Person's id.
func (s *PostgresStore) UpdatePerson(ctx context.Context, p *model.Person) error {
	if p.ID == "" {
		return eris.New("postgres: update person: missing id")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal person")
	}
	tag, err := s.pool.Exec(ctx, sqlUpdatePerson, doc, p.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: update person")
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// MergeCRMIdentity marks an existing Person as verified by the CRM and
// attaches its CRM ids in a single atomic document update.
func (s *PostgresStore) MergeCRMIdentity(ctx context.Context, client, phoneNumber, internalID, externalID string) error {
	patch, err := json.Marshal(map[string]any{
		"identityVerified": true,
		"onCRM":            true,
		"crmInternalId":    internalID,
		"crmExternalId":    externalID,
	})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal crm patch")
	}
	tag, err := s.pool.Exec(ctx, sqlMergeCRM, client, phoneNumber, patch)
	if err != nil {
		return eris.Wrap(err, "postgres: merge crm identity")
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ListEnrichmentCandidates returns un-researched, un-errored Persons
// created on or after since, oldest first.
func (s *PostgresStore) ListEnrichmentCandidates(ctx context.Context, since time.Time) ([]model.Person, error) {
	rows, err := s.pool.Query(ctx, sqlListCandidates, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var persons []model.Person
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		p, err := unmarshalPerson(doc)
		if err != nil {
			return nil, err
		}
		persons = append(persons, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate candidates")
	}
	return persons, nil
}

// ClearStaleErrors resets the error flag on records whose error is older
// than the cool-down, re-admitting them to candidate selection.
func (s *PostgresStore) ClearStaleErrors(ctx context.Context, since, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, sqlClearStaleErrors, since, before)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear stale errors")
	}
	return int(tag.RowsAffected()), nil
}

// InsertActivity appends one Activity document.
func (s *PostgresStore) InsertActivity(ctx context.Context, a *model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.When.IsZero() {
		a.When = time.Now().UTC()
	}
	doc, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal activity")
	}
	if _, err := s.pool.Exec(ctx, sqlInsertActivity, a.ID, a.Type, a.Client, a.PhoneNumber, a.When, doc); err != nil {
		return eris.Wrap(err, "postgres: insert activity")
	}
	return nil
}

// LatestActivity returns the most recent Activity of the given type for
// (client, phoneNumber), or nil when none exists.
func (s *PostgresStore) LatestActivity(ctx context.Context, activityType, client, phoneNumber string) (*model.Activity, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, sqlLatestActivity, activityType, client, phoneNumber).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest activity")
	}
	var a model.Activity
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal activity")
	}
	return &a, nil
}

// AppendLog archives a raw provider payload.
func (s *PostgresStore) AppendLog(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal log payload")
	}
	if _, err := s.pool.Exec(ctx, sqlAppendLog, uuid.NewString(), kind, body, time.Now().UTC()); err != nil {
		return eris.Wrap(err, "postgres: append log")
	}
	return nil
}

func unmarshalPerson(doc []byte) (*model.Person, error) {
	var p model.Person
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal person")
	}
	return &p, nil
}
