package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antoniostano/workmate/internal/provider"
)

// SQLiteStore persists provider credentials in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS provider_credentials (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		expires_at INTEGER,
		scopes TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, provider)
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string, id provider.ID) (Credential, error) {
	var (
		c         Credential
		expiresAt sql.NullInt64
		scopes    string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, access_token, refresh_token, expires_at, scopes, updated_at
		 FROM provider_credentials WHERE user_id = ? AND provider = ?`,
		userID, string(id),
	).Scan(&c.Provider, &c.AccessToken, &c.RefreshToken, &expiresAt, &scopes, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("scan credential row: %w", err)
	}
	if expiresAt.Valid {
		exp := time.Unix(0, expiresAt.Int64).UTC()
		c.ExpiresAt = &exp
	}
	c.Scopes = strings.Fields(scopes)
	c.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return c, nil
}

func (s *SQLiteStore) Put(ctx context.Context, userID string, c Credential) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	var expiresAt sql.NullInt64
	if c.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: c.ExpiresAt.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_credentials (user_id, provider, access_token, refresh_token, expires_at, scopes, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at`,
		userID, string(c.Provider), c.AccessToken, c.RefreshToken, expiresAt,
		strings.Join(c.Scopes, " "), c.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string, id provider.ID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_credentials WHERE user_id = ? AND provider = ?`,
		userID, string(id),
	); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
