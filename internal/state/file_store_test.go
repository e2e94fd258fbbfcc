package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, KeySessionID, "44"))

	got, err := store.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.Equal(t, "44", got)

	require.NoError(t, store.Delete(ctx, KeySessionID))
	_, err = store.Get(ctx, KeySessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreMissingKey(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "never-written")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, store.Delete(context.Background(), "never-written"))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, KeyToken, "tok-1"))
	require.NoError(t, store.Set(ctx, KeySessionID, "44"))
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	token, err := reopened.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	session, err := reopened.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.Equal(t, "44", session)
}

func TestFileStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), KeyToken, "tok"))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}
