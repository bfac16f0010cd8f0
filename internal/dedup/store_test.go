package dedup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordThenIsDuplicate(t *testing.T) {
	store := NewStore(t.TempDir())
	key := Key{WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links"}
	hash := HashText("Fixed 3 links")

	dup, err := store.IsDuplicate(key, hash)
	require.NoError(t, err)
	assert.False(t, dup)

	require.NoError(t, store.RecordSent(key, hash))

	dup, err = store.IsDuplicate(key, hash)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = store.IsDuplicate(key, HashText("different text"))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestIsDuplicateSurvivesRestartViaDisk(t *testing.T) {
	dir := t.TempDir()
	key := Key{WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links"}
	hash := HashText("Fixed 3 links")

	first := NewStore(dir)
	require.NoError(t, first.RecordSent(key, hash))

	second := NewStore(dir) // fresh process, empty memory cache
	dup, err := second.IsDuplicate(key, hash)
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestCleanupRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	key := Key{WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links"}
	hash := HashText("done")
	require.NoError(t, store.RecordSent(key, hash))

	require.NoError(t, store.Cleanup(key))

	dup, err := store.IsDuplicate(key, hash)
	require.NoError(t, err)
	assert.False(t, dup)
	_, statErr := os.Stat(filepath.Join(dir, key.filename()))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRestoreAllSweepsExpiredEntries(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	key := Key{WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links"}
	require.NoError(t, store.RecordSent(key, HashText("x")))

	old := time.Now().Add(-31 * time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(dir, key.filename()), old, old))

	valid, err := store.RestoreAll()
	require.NoError(t, err)
	assert.Equal(t, 0, valid)

	_, statErr := os.Stat(filepath.Join(dir, key.filename()))
	assert.True(t, os.IsNotExist(statErr))
}

func TestS5DuplicateSuppressionExactlyOneSendObserved(t *testing.T) {
	store := NewStore(t.TempDir())
	key := Key{WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links"}

	sends := 0
	send := func(text string) error {
		hash := HashText(text)
		dup, err := store.IsDuplicate(key, hash)
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
		sends++
		return store.RecordSent(key, hash)
	}

	require.NoError(t, send("stage=executing percent=50"))
	require.NoError(t, send("stage=executing percent=50"))
	assert.Equal(t, 1, sends)
}
