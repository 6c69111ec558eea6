package credentials

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	cred := Credential{Host: "localhost", Port: 5432, Username: "u", Password: "p", Database: "d", Dialect: "postgres", AuthType: AuthBasic}

	guid, err := store.Put(ctx, cred)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(guid, KeyPrefix), guid)

	got, err := store.Get(ctx, guid)
	require.NoError(t, err)
	assert.Equal(t, cred, got)

	other, err := store.Put(ctx, cred)
	require.NoError(t, err)
	assert.NotEqual(t, guid, other)

	require.NoError(t, store.Delete(ctx, guid))
	_, err = store.Get(ctx, guid)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, KeyPrefix+"missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	exerciseStore(t, store)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("METADATA_DATABASE_URL")
	if url == "" {
		t.Skip("METADATA_DATABASE_URL not set, skipping postgres credential store test")
	}
	store, err := NewPostgresStore(context.Background(), url, "")
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestNewPostgresStoreRequiresURL(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), "", "")
	assert.Error(t, err)
}
