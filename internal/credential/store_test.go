package credential

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antoniostano/workmate/internal/provider"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "u1", provider.Google)
	require.ErrorIs(t, err, ErrNotFound)

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	in := Credential{
		Provider:     provider.Google,
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    &exp,
		Scopes:       []string{"s1", "s2"},
		UpdatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.Put(ctx, "u1", in))

	got, err := s.Get(ctx, "u1", provider.Google)
	require.NoError(t, err)
	require.Equal(t, "a1", got.AccessToken)
	require.Equal(t, "r1", got.RefreshToken)
	require.Equal(t, []string{"s1", "s2"}, got.Scopes)
	require.NotNil(t, got.ExpiresAt)
	require.True(t, exp.Equal(*got.ExpiresAt))

	in.AccessToken = "a2"
	in.ExpiresAt = nil
	require.NoError(t, s.Put(ctx, "u1", in))
	got, err = s.Get(ctx, "u1", provider.Google)
	require.NoError(t, err)
	require.Equal(t, "a2", got.AccessToken)
	require.Nil(t, got.ExpiresAt)

	_, err = s.Get(ctx, "u1", provider.Microsoft)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "u1", provider.Google))
	_, err = s.Get(ctx, "u1", provider.Google)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestInMemoryStoreReturnsCopies(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "u1", Credential{Provider: provider.Google, AccessToken: "a", Scopes: []string{"x"}}))

	got, err := s.Get(ctx, "u1", provider.Google)
	require.NoError(t, err)
	got.Scopes[0] = "mutated"

	again, err := s.Get(ctx, "u1", provider.Google)
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, again.Scopes)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, "")
	require.NoError(t, err)
	require.IsType(t, &InMemoryStore{}, s)

	s, err = NewStore(ctx, "sqlite://"+filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewStore(ctx, "mysql://nope")
	require.Error(t, err)
}
