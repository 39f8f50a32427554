// Package store provides the persistent data store of the data-manager,
// backed by a PostgreSQL database.
//
// All updates are performed inside transactions so that the database cannot
// be left in an inconsistent state if the service crashes. This ensures that
// no jobs get lost once a user has been notified that they were submitted.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/eocis-portal/data-manager/go/now"
	"github.com/eocis-portal/data-manager/go/skerr"
	"github.com/eocis-portal/data-manager/go/sklog"
)

// SchemaVersion identifies the database schema expected by this version of
// the software. It is written into the metadata table when the database is
// first created and checked on every subsequent open.
const SchemaVersion = "V1"

// Timestamp layouts used on disk. The zero time encodes as the empty string.
const (
	TimestampFormat = "2006/01/02 15:04:05"
	DateFormat      = "2006/01/02"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when an insert collides with an existing
	// primary key.
	ErrAlreadyExists = errors.New("already exists")

	// ErrSchemaVersion is returned when the database metadata is missing,
	// duplicated, or was written by a different version of the software.
	ErrSchemaVersion = errors.New("database schema version mismatch")
)

// uniqueViolation is the PostgreSQL error code for a unique constraint
// violation.
const uniqueViolation = "23505"

// schemaDDL lists the statements which create the tables. Each runs with
// IF NOT EXISTS so that opening an existing database is a no-op.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS bundles (
		bundle_id text,
		bundle_name text,
		spec text,
		minx double precision,
		miny double precision,
		maxx double precision,
		maxy double precision,
		PRIMARY KEY (bundle_id)
	)`,
	`CREATE TABLE IF NOT EXISTS datasets (
		dataset_id text,
		dataset_name text,
		temporal_resolution text,
		spatial_resolution text,
		start_date text,
		end_date text,
		location text,
		spec text,
		PRIMARY KEY (dataset_id)
	)`,
	`CREATE TABLE IF NOT EXISTS dataset_bundle (
		bundle_id text,
		dataset_id text,
		PRIMARY KEY (bundle_id, dataset_id),
		FOREIGN KEY (bundle_id) REFERENCES bundles (bundle_id) ON DELETE CASCADE,
		FOREIGN KEY (dataset_id) REFERENCES datasets (dataset_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS variables (
		variable_id text,
		dataset_id text,
		variable_name text,
		spec text,
		PRIMARY KEY (variable_id, dataset_id),
		FOREIGN KEY (dataset_id) REFERENCES datasets (dataset_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id text,
		submission_date text,
		submitter_id text,
		spec text,
		state text,
		completion_date text,
		error text DEFAULT '',
		PRIMARY KEY (job_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		parent_job_id text,
		task_name text,
		task_type text,
		submission_date text,
		remote_task_id text,
		spec text,
		state text,
		completion_date text,
		error text DEFAULT '',
		retry_count int DEFAULT 0,
		PRIMARY KEY (parent_job_id, task_name),
		FOREIGN KEY (parent_job_id) REFERENCES jobs (job_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS task_queue (
		id BIGSERIAL PRIMARY KEY,
		job_id text,
		task_name text,
		queue_time TIMESTAMPTZ DEFAULT now(),
		UNIQUE (job_id, task_name)
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		schema text,
		creation_date text
	)`,
}

// Store owns the connection pool to the backing database and hands out
// Transactions against it.
type Store struct {
	db *pgxpool.Pool
}

// New connects to the database at the given URL, creates the tables if they
// do not already exist, and verifies the schema version.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, skerr.Wrapf(err, "parsing database URL")
	}
	db, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, skerr.Wrapf(err, "connecting to database")
	}
	s, err := NewFromPool(ctx, db)
	if err != nil {
		db.Close()
		return nil, skerr.Wrap(err)
	}
	return s, nil
}

// NewFromPool builds a Store on an existing connection pool. The pool is
// closed by Close.
func NewFromPool(ctx context.Context, db *pgxpool.Pool) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, skerr.Wrap(err)
	}
	sklog.Infof("store opened, schema %s", SchemaVersion)
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return skerr.Wrapf(err, "creating tables")
		}
	}
	// Write the metadata row exactly once, then verify it.
	const insertMetadata = `INSERT INTO metadata (schema, creation_date)
		SELECT $1, $2 WHERE NOT EXISTS (SELECT 1 FROM metadata)`
	if _, err := s.db.Exec(ctx, insertMetadata, SchemaVersion, EncodeDate(now.Now(ctx))); err != nil {
		return skerr.Wrapf(err, "writing metadata")
	}
	rows, err := s.db.Query(ctx, "SELECT schema FROM metadata")
	if err != nil {
		return skerr.Wrapf(err, "reading metadata")
	}
	defer rows.Close()
	schemas := []string{}
	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return skerr.Wrap(err)
		}
		schemas = append(schemas, schema)
	}
	if err := rows.Err(); err != nil {
		return skerr.Wrap(err)
	}
	if len(schemas) != 1 {
		return skerr.Wrapf(ErrSchemaVersion, "metadata is corrupted; found %d rows", len(schemas))
	}
	if schemas[0] != SchemaVersion {
		return skerr.Wrapf(ErrSchemaVersion, "database schema %s differs from current version %s", schemas[0], SchemaVersion)
	}
	return nil
}

// EncodeDateTime encodes a time as a string, compatible with DecodeDateTime.
// The zone is stripped; the zero time encodes as the empty string.
func EncodeDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampFormat)
}

// DecodeDateTime decodes a string produced by EncodeDateTime. The empty
// string decodes to the zero time.
func DecodeDateTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(TimestampFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, skerr.Wrapf(err, "decoding timestamp %q", s)
	}
	return t, nil
}

// EncodeDate encodes a date as a string, compatible with DecodeDate. The
// zero time encodes as the empty string.
func EncodeDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateFormat)
}

// DecodeDate decodes a string produced by EncodeDate. The empty string
// decodes to the zero time.
func DecodeDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(DateFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, skerr.Wrapf(err, "decoding date %q", s)
	}
	return t, nil
}

// RenderValueList renders values for interpolation into an IN (...) clause.
// Only safe for values drawn from a closed enum; everything else binds via
// placeholders.
func RenderValueList(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, "'"+v+"'")
	}
	return strings.Join(quoted, ",")
}

// storeError maps low-level database errors onto the store's sentinel
// errors where one applies.
func storeError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return skerr.Wrapf(ErrAlreadyExists, "%s", pgErr.Message)
	}
	return skerr.Wrap(err)
}
