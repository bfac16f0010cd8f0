package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceHashIsStableAndAbsolute(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	abs := WorkspaceHash(filepath.Join(wd, "project"))
	rel := WorkspaceHash("project")
	assert.Equal(t, abs, rel, "relative and absolute forms of the same path must hash the same")
	assert.Len(t, abs, 8)

	assert.NotEqual(t, WorkspaceHash(filepath.Join(wd, "project")), WorkspaceHash(filepath.Join(wd, "other")))
}

func TestEnsureAllCreatesEveryDir(t *testing.T) {
	layout, err := NewLayout(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, layout.EnsureAll())

	for _, d := range layout.Dirs() {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	// Idempotent: calling again must not fail.
	require.NoError(t, layout.EnsureAll())
}

func TestNewLayoutResolvesRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	layout, err := NewLayout(".")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(layout.Root))
}
