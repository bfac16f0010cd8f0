package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRejectsMissingCorrelationID(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer l.Close()

	err = l.Log(context.Background(), "", "WH", "S1", ComponentBot, EventBotStarted, nil)
	assert.ErrorIs(t, err, ErrCorrelationIDMissing)
}

func TestLogRejectsUnknownComponent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer l.Close()

	err = l.Log(context.Background(), "C1", "WH", "S1", "not-a-component", EventBotStarted, nil)
	require.Error(t, err)
}

func TestLogInsertsRowWithMetadata(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	l, err := Open(dbPath)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Log(context.Background(), "C1", "WH", "S1", ComponentOrchestrator,
		EventWorkflowStarted, map[string]any{"workflow_id": "fix-links"}))

	var count int
	row := l.db.QueryRow(`SELECT COUNT(*) FROM session_events WHERE correlation_id = ? AND event_type = ?`, "C1", EventWorkflowStarted)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpenIsIdempotentOnExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	l1, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := Open(dbPath)
	require.NoError(t, err)
	defer l2.Close()
	require.NoError(t, l2.Log(context.Background(), "C2", "WH", "S2", ComponentHook, EventSummaryReceived, nil))
}
