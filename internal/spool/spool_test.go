package spool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomicThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary_S1_WH.json")

	require.NoError(t, WriteJSONAtomic(path, map[string]any{
		"correlation_id":   "C1",
		"workspace_path":   "/w",
		"workspace_id":     "WH",
		"session_id":       "S1",
		"timestamp":        "2026-01-01T00:00:00Z",
		"duration_seconds": 12.0,
		"git_status":       map[string]any{"branch": "main"},
		"lychee_status":    map[string]any{"error_count": 3},
	}))

	var got map[string]any
	err := ReadJSONValidated(path, []string{"correlation_id", "workspace_id"}, &got)
	require.NoError(t, err)
	assert.Equal(t, "C1", got["correlation_id"])

	// No leftover temp files.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadJSONValidatedMissingFieldRejectsInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary_bad.json")
	require.NoError(t, WriteAtomic(path, []byte(`{"workspace_id":"WH"}`)))

	var got map[string]any
	err := ReadJSONValidated(path, []string{"workspace_id", "session_id"}, &got)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "session_id")

	// File is kept, not deleted, so a human can repair it.
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestReadJSONValidatedMalformedJSONDumpsLineMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary_malformed.json")
	require.NoError(t, WriteAtomic(path, []byte("{\n  \"a\": 1,\n  bad\n}")))

	var got map[string]any
	err := ReadJSONValidated(path, nil, &got)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Dump, "<-- ERROR")
}

func TestReadJSONValidatedGoneIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary_gone.json")

	var got map[string]any
	err := ReadJSONValidated(path, nil, &got)
	require.Error(t, err)
	assert.True(t, IsGone(err))
}

func TestConsumeToleratesConcurrentUnlink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")
	require.NoError(t, Consume(path)) // never existed; must not error
}

func TestListSortedIgnoresDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
	require.NoError(t, WriteAtomic(filepath.Join(dir, "b.json"), []byte(`{}`)))
	require.NoError(t, WriteAtomic(filepath.Join(dir, "a.json"), []byte(`{}`)))
	require.NoError(t, WriteAtomic(filepath.Join(dir, "schema.json"), []byte(`{}`)))

	files, err := List(dir, "*.json")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dir, "a.json"), files[0])
}
