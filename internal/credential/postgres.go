package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/workmate/internal/provider"
)

// PostgresStore persists provider credentials in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS provider_credentials (
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			scopes TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, provider)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string, id provider.ID) (Credential, error) {
	var (
		c         Credential
		scopes    string
		expiresAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT provider, access_token, refresh_token, expires_at, scopes, updated_at
		 FROM provider_credentials WHERE user_id=$1 AND provider=$2`,
		userID,
		string(id),
	).Scan(&c.Provider, &c.AccessToken, &c.RefreshToken, &expiresAt, &scopes, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("query credential: %w", err)
	}
	c.ExpiresAt = expiresAt
	c.Scopes = strings.Fields(scopes)
	return c, nil
}

func (s *PostgresStore) Put(ctx context.Context, userID string, c Credential) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_credentials (user_id, provider, access_token, refresh_token, expires_at, scopes, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			updated_at = EXCLUDED.updated_at`,
		userID,
		string(c.Provider),
		c.AccessToken,
		c.RefreshToken,
		c.ExpiresAt,
		strings.Join(c.Scopes, " "),
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, id provider.ID) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM provider_credentials WHERE user_id=$1 AND provider=$2`,
		userID,
		string(id),
	); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
