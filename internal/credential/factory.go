package credential

import (
	"context"
	"fmt"
	"strings"
)

// NewStore picks a backend from the DATABASE_URL scheme: empty means
// in-memory, postgres:// uses pgx, sqlite:// uses a local SQLite file.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return NewPostgresStore(ctx, u)
	case strings.HasPrefix(u, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(u, "sqlite://"))
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %q", u)
	}
}
