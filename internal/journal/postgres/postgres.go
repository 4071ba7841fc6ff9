// Package postgres is a [journal.Store] on PostgreSQL via a pgx connection
// pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/glyphcast/internal/journal"
	"github.com/MrWong99/glyphcast/pkg/types"
)

var _ journal.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS cast_events (
    seq          BIGSERIAL        PRIMARY KEY,
    id           TEXT             NOT NULL UNIQUE,
    session_id   TEXT             NOT NULL,
    actor        TEXT             NOT NULL,
    spell_id     TEXT             NOT NULL,
    accuracy     DOUBLE PRECISION NOT NULL,
    chain        INTEGER          NOT NULL,
    damage       INTEGER          NOT NULL,
    has_reaction BOOLEAN          NOT NULL,
    cast_at      TIMESTAMPTZ      NOT NULL,
    payload      JSONB            NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cast_events_actor_time ON cast_events (actor, cast_at DESC);
CREATE INDEX IF NOT EXISTS idx_cast_events_time ON cast_events (cast_at DESC);
`

// Migrate creates the journal tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("journal postgres: migrate: %w", err)
	}
	return nil
}

// Store is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, pings the server and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Append implements [journal.Store].
func (s *Store) Append(ctx context.Context, e types.CastEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal postgres: encode event: %w", err)
	}
	const q = `
		INSERT INTO cast_events
		    (id, session_id, actor, spell_id, accuracy, chain, damage, has_reaction, cast_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, q,
		e.ID,
		e.SessionID,
		e.Actor,
		e.SpellID,
		e.Accuracy,
		e.Chain,
		e.Damage,
		e.Reaction != nil,
		e.Timestamp,
		payload,
	)
	if err != nil {
		return fmt.Errorf("journal postgres: append: %w", err)
	}
	return nil
}

// Recent implements [journal.Store].
func (s *Store) Recent(ctx context.Context, actor string, limit int) ([]types.CastEvent, error) {
	if limit <= 0 {
		limit = journal.DefaultLimit
	}
	const q = `
		SELECT payload
		FROM   cast_events
		WHERE  $1 = '' OR actor = $1
		ORDER  BY cast_at DESC, seq DESC
		LIMIT  $2`
	rows, err := s.pool.Query(ctx, q, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: recent: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.CastEvent, error) {
		var raw []byte
		var e types.CastEvent
		if err := row.Scan(&raw); err != nil {
			return e, err
		}
		return e, json.Unmarshal(raw, &e)
	})
	if err != nil {
		return nil, fmt.Errorf("journal postgres: recent: %w", err)
	}
	return events, nil
}

// Stats implements [journal.Store].
func (s *Store) Stats(ctx context.Context, actor string) (journal.Stats, error) {
	const q = `
		SELECT count(*),
		       coalesce(avg(accuracy), 0),
		       coalesce(max(chain), 0),
		       count(*) FILTER (WHERE has_reaction),
		       coalesce(sum(damage), 0)
		FROM   cast_events
		WHERE  $1 = '' OR actor = $1`
	var casts, best, reactions, damage int64
	var avg float64
	if err := s.pool.QueryRow(ctx, q, actor).Scan(&casts, &avg, &best, &reactions, &damage); err != nil {
		return journal.Stats{}, fmt.Errorf("journal postgres: stats: %w", err)
	}
	return journal.Stats{
		Casts:           int(casts),
		AverageAccuracy: avg,
		BestChain:       int(best),
		Reactions:       int(reactions),
		TotalDamage:     int(damage),
	}, nil
}

// Ping checks the connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
