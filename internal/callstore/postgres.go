package callstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the calls table. [PostgresStore.Migrate] applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
    id          TEXT        PRIMARY KEY,
    stream_id   TEXT        NOT NULL DEFAULT '',
    caller      JSONB       NOT NULL DEFAULT '{}',
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ,
    turns       INTEGER     NOT NULL DEFAULT 0,
    nudges      INTEGER     NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls (started_at DESC);
`

// DB is the subset of *pgxpool.Pool used by [PostgresStore]. *pgx.Conn
// satisfies it too.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection or pool. The caller keeps
// ownership of db; Close does not close it.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}}
}

// Open connects a pool to dsn and applies [Schema].
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("callstore: connect: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the calls table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("callstore: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Start(ctx context.Context, rec Record) error {
	caller, err := json.Marshal(emptyMap(rec.Caller))
	if err != nil {
		return fmt.Errorf("callstore: marshal caller: %w", err)
	}
	const query = `
		INSERT INTO calls (id, stream_id, caller, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			stream_id = EXCLUDED.stream_id,
			caller = EXCLUDED.caller,
			started_at = EXCLUDED.started_at,
			ended_at = NULL, turns = 0, nudges = 0`
	if _, err := s.db.Exec(ctx, query, rec.ID, rec.StreamID, caller, rec.StartedAt); err != nil {
		return fmt.Errorf("callstore: start %q: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Finish(ctx context.Context, id string, endedAt time.Time, turns, nudges int) error {
	const query = `UPDATE calls SET ended_at = $2, turns = $3, nudges = $4 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, endedAt, turns, nudges)
	if err != nil {
		return fmt.Errorf("callstore: finish %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT id, stream_id, caller, started_at, ended_at, turns, nudges FROM calls`

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("callstore: get %q: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, selectColumns+` ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("callstore: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("callstore: recent: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callstore: recent: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Close releases the pool when the store was created by [Open].
func (s *PostgresStore) Close() { s.close() }

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec     Record
		caller  []byte
		endedAt *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.StreamID, &caller, &rec.StartedAt, &endedAt, &rec.Turns, &rec.Nudges); err != nil {
		return Record{}, err
	}
	if endedAt != nil {
		rec.EndedAt = *endedAt
	}
	if err := json.Unmarshal(caller, &rec.Caller); err != nil {
		return Record{}, fmt.Errorf("unmarshal caller: %w", err)
	}
	return rec, nil
}

func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
