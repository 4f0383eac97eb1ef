package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Schema creates the leaderboard table.
const Schema = `
CREATE TABLE IF NOT EXISTS leaderboard (
	id          UUID PRIMARY KEY,
	game        TEXT NOT NULL,
	policy      TEXT NOT NULL,
	score       INTEGER NOT NULL,
	steps       INTEGER NOT NULL,
	max_hit     INTEGER NOT NULL,
	reward_sum  DOUBLE PRECISION NOT NULL,
	trace_path  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS leaderboard_rank ON leaderboard (score DESC, created_at ASC);`

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn and makes sure the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return NewPostgresStore(db), nil
}

func (p *PostgresStore) Save(ctx context.Context, entry *Entry) error {
	prepare(entry)
	query := `
		INSERT INTO leaderboard (id, game, policy, score, steps, max_hit, reward_sum, trace_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := p.db.ExecContext(ctx, query,
		entry.ID, entry.Game, entry.Policy, entry.Score, entry.Steps,
		entry.MaxHit, entry.RewardSum, entry.TracePath, entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

const selectEntry = `
	SELECT id, game, policy, score, steps, max_hit, reward_sum, trace_path, created_at
	FROM leaderboard`

func (p *PostgresStore) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	err := scanEntry(p.db.QueryRowContext(ctx, selectEntry+` WHERE id = $1`, id), &e)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

func (p *PostgresStore) Top(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = DefaultCapacity
	}
	rows, err := p.db.QueryContext(ctx, selectEntry+` ORDER BY score DESC, created_at ASC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := scanEntry(rows, &e); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner, e *Entry) error {
	return row.Scan(&e.ID, &e.Game, &e.Policy, &e.Score, &e.Steps,
		&e.MaxHit, &e.RewardSum, &e.TracePath, &e.CreatedAt)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
