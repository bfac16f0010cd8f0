package callback

import (
	"os"
	"testing"
	"time"

	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenResolveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	ctx := model.CallbackToken{
		WorkspaceID:   "WH",
		WorkspacePath: "/w",
		SessionID:     "S1",
		Action:        "workflow_fix-links",
		CorrelationID: "C1",
		Timestamp:     "2026-01-01T00:00:00Z",
	}

	token, err := store.Create(ctx)
	require.NoError(t, err)
	assert.Len(t, token, 11) // "cb_" + 8 hex chars

	got, err := store.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, ctx, got)

	// Resolving again within TTL still works (not single-use).
	got2, err := store.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, ctx, got2)
}

func TestResolveUnknownTokenNotFound(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Resolve("cb_deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveExpiredTokenDeletesFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	ctx := model.CallbackToken{WorkspaceID: "WH", SessionID: "S1", Action: "reject"}
	token, err := store.Create(ctx)
	require.NoError(t, err)

	old := time.Now().Add(-6 * time.Minute)
	require.NoError(t, os.Chtimes(store.path(token), old, old))

	_, err = store.Resolve(token)
	assert.ErrorIs(t, err, ErrExpired)

	_, statErr := os.Stat(store.path(token))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSweepRemovesExpiredAndExcess(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	for i := 0; i < 3; i++ {
		_, err := store.Create(model.CallbackToken{SessionID: "S", Action: "x", Timestamp: string(rune('a' + i))})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, store.Sweep(2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCreateIsDeterministicForSameContext(t *testing.T) {
	store := NewStore(t.TempDir())
	ctx := model.CallbackToken{WorkspaceID: "WH", SessionID: "S1", Action: "reject"}

	t1, err := store.Create(ctx)
	require.NoError(t, err)
	t2, err := store.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
}
