package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation contexts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_contexts (
			user_id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			history JSONB NOT NULL DEFAULT '[]',
			current_task JSONB,
			preferences JSONB NOT NULL DEFAULT '{}',
			last_interaction TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_contexts_last ON conversation_contexts (last_interaction);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, userID string) (Context, error) {
	var (
		c        Context
		platform string
		r        row
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, platform, history, current_task, preferences, last_interaction, created_at
		 FROM conversation_contexts WHERE user_id=$1`,
		userID,
	).Scan(&c.UserID, &platform, &r.history, &r.currentTask, &r.preferences, &c.LastInteraction, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Context{}, ErrNotFound
	}
	if err != nil {
		return Context{}, fmt.Errorf("query context: %w", err)
	}
	c.Platform = providerID(platform)
	if err := r.decodeInto(&c); err != nil {
		return Context{}, err
	}
	c.LastInteraction = c.LastInteraction.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *PostgresStore) Save(ctx context.Context, c Context) error {
	r, err := encodeRow(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_contexts (user_id, platform, history, current_task, preferences, last_interaction, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
			platform = EXCLUDED.platform,
			history = EXCLUDED.history,
			current_task = EXCLUDED.current_task,
			preferences = EXCLUDED.preferences,
			last_interaction = EXCLUDED.last_interaction,
			created_at = EXCLUDED.created_at`,
		c.UserID,
		string(c.Platform),
		r.history,
		r.currentTask,
		r.preferences,
		c.LastInteraction,
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_contexts WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
