// Package sqlite is a [journal.Store] in an embedded SQLite file, using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/MrWong99/glyphcast/internal/journal"
	"github.com/MrWong99/glyphcast/pkg/types"
)

var _ journal.Store = (*Store)(nil)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS cast_events (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT    NOT NULL UNIQUE,
		session_id   TEXT    NOT NULL,
		actor        TEXT    NOT NULL,
		spell_id     TEXT    NOT NULL,
		accuracy     REAL    NOT NULL,
		chain        INTEGER NOT NULL,
		damage       INTEGER NOT NULL,
		has_reaction INTEGER NOT NULL,
		cast_at      INTEGER NOT NULL,
		payload      TEXT    NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_cast_events_actor_time ON cast_events(actor, cast_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_cast_events_time ON cast_events(cast_at DESC);`,
}

// Store is safe for concurrent use. Writes are serialised by a single
// connection.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal sqlite: migrate: %w", err)
	}
	for _, q := range migrations {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("journal sqlite: migrate: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal sqlite: migrate: %w", err)
	}
	return nil
}

// Append implements [journal.Store].
func (s *Store) Append(ctx context.Context, e types.CastEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal sqlite: encode event: %w", err)
	}
	const q = `
		INSERT OR IGNORE INTO cast_events
		    (id, session_id, actor, spell_id, accuracy, chain, damage, has_reaction, cast_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		e.ID,
		e.SessionID,
		e.Actor,
		e.SpellID,
		e.Accuracy,
		e.Chain,
		e.Damage,
		e.Reaction != nil,
		e.Timestamp.UnixNano(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("journal sqlite: append: %w", err)
	}
	return nil
}

// Recent implements [journal.Store].
func (s *Store) Recent(ctx context.Context, actor string, limit int) ([]types.CastEvent, error) {
	if limit <= 0 {
		limit = journal.DefaultLimit
	}
	const q = `
		SELECT payload FROM cast_events
		WHERE  ?1 = '' OR actor = ?1
		ORDER  BY cast_at DESC, seq DESC
		LIMIT  ?2`
	rows, err := s.db.QueryContext(ctx, q, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("journal sqlite: recent: %w", err)
	}
	defer rows.Close()

	var out []types.CastEvent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("journal sqlite: recent: %w", err)
		}
		var e types.CastEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("journal sqlite: decode event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal sqlite: recent: %w", err)
	}
	return out, nil
}

// Stats implements [journal.Store].
func (s *Store) Stats(ctx context.Context, actor string) (journal.Stats, error) {
	const q = `
		SELECT COUNT(*),
		       COALESCE(AVG(accuracy), 0),
		       COALESCE(MAX(chain), 0),
		       COALESCE(SUM(has_reaction), 0),
		       COALESCE(SUM(damage), 0)
		FROM   cast_events
		WHERE  ?1 = '' OR actor = ?1`
	var st journal.Stats
	err := s.db.QueryRowContext(ctx, q, actor).Scan(&st.Casts, &st.AverageAccuracy, &st.BestChain, &st.Reactions, &st.TotalDamage)
	if err != nil {
		return journal.Stats{}, fmt.Errorf("journal sqlite: stats: %w", err)
	}
	return st, nil
}

// Ping checks the database, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }
