package tracking

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	key := Key{WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links"}

	require.NoError(t, store.Put(key, model.TrackingRecord{MessageID: "42", WorkflowName: "Fix Links"}))
	rec, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, "42", rec.MessageID)

	require.NoError(t, store.Delete(key))
	_, ok = store.Get(key)
	assert.False(t, ok)

	_, statErr := os.Stat(filepath.Join(dir, key.filename()))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRestoreRepopulatesFromDisk(t *testing.T) {
	dir := t.TempDir()
	first := NewStore(dir)
	key := Key{WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links"}
	require.NoError(t, first.Put(key, model.TrackingRecord{MessageID: "42"}))

	second := NewStore(dir)
	require.NoError(t, second.Restore(nil))
	rec, ok := second.Get(key)
	require.True(t, ok)
	assert.Equal(t, "42", rec.MessageID)
}

func TestRestoreSkipsCorruptFileAndContinues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "WH_S1_fix-links_tracking.json"), []byte("not json"), 0o644))

	goodKey := Key{WorkspaceID: "WH", SessionID: "S2", WorkflowID: "commit"}
	good := NewStore(dir)
	require.NoError(t, good.Put(goodKey, model.TrackingRecord{MessageID: "7"}))

	var badPaths []string
	store := NewStore(dir)
	require.NoError(t, store.Restore(func(path string, err error) { badPaths = append(badPaths, path) }))

	assert.Len(t, badPaths, 1)
	rec, ok := store.Get(goodKey)
	require.True(t, ok)
	assert.Equal(t, "7", rec.MessageID)
}

func TestSweepExpiredRemovesOldEntries(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	key := Key{WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links"}
	require.NoError(t, store.Put(key, model.TrackingRecord{MessageID: "42"}))

	old := time.Now().Add(-31 * time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(dir, key.filename()), old, old))

	require.NoError(t, store.SweepExpired())
	_, ok := store.Get(key)
	assert.False(t, ok)
}
