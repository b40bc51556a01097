package prefs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"chatbot/internal/domain"
)

func openTestStore(t *testing.T, defaults map[string]string) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "nested", "prefs.db"), defaults)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreGetFallsBackToDefault(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, map[string]string{KeyAppID: "APP-DEFAULT"})
	ctx := context.Background()

	value, err := store.Get(ctx, KeyAppID)
	require.NoError(t, err)
	assert.Equal(t, "APP-DEFAULT", value)

	value, err = store.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestStoreSetOverwrites(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, map[string]string{KeyAppID: "APP-DEFAULT"})
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, KeyAppID, "first"))
	require.NoError(t, store.Set(ctx, KeyAppID, "second"))

	value, err := store.Get(ctx, KeyAppID)
	require.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prefs.db")
	ctx := context.Background()

	store, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, KeyUserID, "alice"))
	require.NoError(t, store.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	value, err := reopened.Get(ctx, KeyUserID)
	require.NoError(t, err)
	assert.Equal(t, "alice", value)
}

func TestCredentialsRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, map[string]string{KeyAppID: "APP-DEFAULT"})
	repo := NewCredentialsRepository(store)
	ctx := context.Background()

	creds, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Credentials{AppID: "APP-DEFAULT"}, creds)
	assert.False(t, creds.Complete())

	require.NoError(t, repo.Save(ctx, domain.Credentials{AppID: " APP ", UserID: "bob "}))
	creds, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Credentials{AppID: "APP", UserID: "bob"}, creds)
	assert.True(t, creds.Complete())
}

func TestTokenVault(t *testing.T) {
	keyring.MockInit()

	vault := NewTokenVault("")

	token, err := vault.Token("alice")
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, vault.SetToken("alice", "secret"))
	token, err = vault.Token("alice")
	require.NoError(t, err)
	assert.Equal(t, "secret", token)

	require.NoError(t, vault.SetToken("alice", ""))
	token, err = vault.Token("alice")
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, vault.DeleteToken("nobody"))
}
