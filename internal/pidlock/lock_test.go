package pidlock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPIDAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.pid")

	lock, err := Acquire(path, "bus")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), strconv.Itoa(os.Getpid()))

	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "release must remove the pid file")
}

func TestAcquireContendedReturnsAnotherInstanceRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.pid")

	lock, err := Acquire(path, "bus")
	require.NoError(t, err)
	defer lock.Release()

	_, err = Acquire(path, "bus")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnotherInstanceRunning))
}

func TestAcquireAfterReleaseSucceedsAgain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.pid")

	lock, err := Acquire(path, "bus")
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	lock2, err := Acquire(path, "bus")
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}
