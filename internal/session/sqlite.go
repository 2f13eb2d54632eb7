package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antoniostano/workmate/internal/provider"
)

// SQLiteStore persists conversation contexts in a local SQLite file.
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
	CREATE TABLE IF NOT EXISTS conversation_contexts (
		user_id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		history TEXT NOT NULL DEFAULT '[]',
		current_task TEXT,
		preferences TEXT NOT NULL DEFAULT '{}',
		last_interaction INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, userID string) (Context, error) {
	var (
		c               Context
		platform        string
		history, prefs  string
		task            sql.NullString
		lastInteraction int64
		createdAt       int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, platform, history, current_task, preferences, last_interaction, created_at
		 FROM conversation_contexts WHERE user_id = ?`,
		userID,
	).Scan(&c.UserID, &platform, &history, &task, &prefs, &lastInteraction, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Context{}, ErrNotFound
	}
	if err != nil {
		return Context{}, fmt.Errorf("scan context row: %w", err)
	}
	c.Platform = providerID(platform)
	r := row{history: []byte(history), preferences: []byte(prefs)}
	if task.Valid {
		r.currentTask = []byte(task.String)
	}
	if err := r.decodeInto(&c); err != nil {
		return Context{}, err
	}
	c.LastInteraction = time.Unix(0, lastInteraction).UTC()
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	return c, nil
}

func (s *SQLiteStore) Save(ctx context.Context, c Context) error {
	r, err := encodeRow(c)
	if err != nil {
		return err
	}
	var task sql.NullString
	if r.currentTask != nil {
		task = sql.NullString{String: string(r.currentTask), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_contexts (user_id, platform, history, current_task, preferences, last_interaction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			platform = excluded.platform,
			history = excluded.history,
			current_task = excluded.current_task,
			preferences = excluded.preferences,
			last_interaction = excluded.last_interaction,
			created_at = excluded.created_at`,
		c.UserID, string(c.Platform), string(r.history), task, string(r.preferences),
		c.LastInteraction.UnixNano(), c.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_contexts WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func providerID(s string) provider.ID { return provider.ID(s) }
