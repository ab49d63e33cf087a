package store

import (
	"context"
	"fmt"

	"github.com/githubnext/gh-aw-core/internal/breaker"
)

var breakerSchemaStmts = []string{
	`CREATE TABLE IF NOT EXISTS breaker_state (
		backend TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		failures INTEGER NOT NULL,
		opened_at_ms INTEGER NOT NULL DEFAULT 0,
		updated_at_ms INTEGER NOT NULL
	);`,
}

// BreakerStateStore persists per-backend circuit breaker state, implementing
// breaker.Persister.
type BreakerStateStore struct {
	db *DB
}

// OpenBreakerStateStore opens (or creates) the breaker-state table at path.
func OpenBreakerStateStore(path string) (*BreakerStateStore, error) {
	db, err := Open(path, breakerSchemaStmts)
	if err != nil {
		return nil, err
	}
	return &BreakerStateStore{db: db}, nil
}

func (s *BreakerStateStore) Close() error { return s.db.Close() }

// Save upserts one backend's state row. Called synchronously on every
// breaker state mutation.
func (s *BreakerStateStore) Save(ctx context.Context, st breaker.PersistedState) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO breaker_state (backend, state, failures, opened_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(backend) DO UPDATE SET
			state = excluded.state,
			failures = excluded.failures,
			opened_at_ms = excluded.opened_at_ms,
			updated_at_ms = excluded.updated_at_ms`,
		st.Backend, st.State, st.Failures, st.OpenedAtMs, st.UpdatedAtMs)
	if err != nil {
		return fmt.Errorf("breaker state: save %s: %w", st.Backend, err)
	}
	return nil
}

// LoadAll returns every persisted backend row, for registry seeding at startup.
func (s *BreakerStateStore) LoadAll(ctx context.Context) ([]breaker.PersistedState, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT backend, state, failures, opened_at_ms, updated_at_ms FROM breaker_state`)
	if err != nil {
		return nil, fmt.Errorf("breaker state: load all: %w", err)
	}
	defer rows.Close()

	var out []breaker.PersistedState
	for rows.Next() {
		var st breaker.PersistedState
		if err := rows.Scan(&st.Backend, &st.State, &st.Failures, &st.OpenedAtMs, &st.UpdatedAtMs); err != nil {
			return nil, fmt.Errorf("breaker state: scan row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
