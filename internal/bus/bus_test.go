package bus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborist-dev/quiescebus/internal/callback"
	"github.com/arborist-dev/quiescebus/internal/config"
	"github.com/arborist-dev/quiescebus/internal/dedup"
	"github.com/arborist-dev/quiescebus/internal/eventlog"
	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/paths"
	"github.com/arborist-dev/quiescebus/internal/spool"
	"github.com/arborist-dev/quiescebus/internal/tracking"
	"github.com/arborist-dev/quiescebus/internal/transport"
)

// passthroughDialect does no escaping or rendering, enough for assertions
// on message content.
type passthroughDialect struct{}

func (passthroughDialect) Escape(s string) string { return s }
func (passthroughDialect) Render(s string) string { return s }

// fakeTransport is an in-memory stand-in for transport.Transport: it
// records every Send/Edit/Delete call instead of talking to a real backend.
type fakeTransport struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentCall
	edited  []editCall
	deleted []string
	inbound chan transport.CallbackEvent
}

type sentCall struct {
	ChatID, Text string
	Keyboard     *transport.Keyboard
}

type editCall struct {
	ChatID, MessageID, Text string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan transport.CallbackEvent, 8)}
}

func (f *fakeTransport) Send(_ context.Context, chatID, text string, kb *transport.Keyboard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := filepath.Join("msg", string(rune('0'+f.nextID)))
	f.sent = append(f.sent, sentCall{ChatID: chatID, Text: text, Keyboard: kb})
	return id, nil
}

func (f *fakeTransport) Edit(_ context.Context, chatID, messageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, editCall{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) Inbound() <-chan transport.CallbackEvent { return f.inbound }
func (f *fakeTransport) Dialect() transport.Dialect              { return passthroughDialect{} }

func newTestBus(t *testing.T, reg model.WorkflowRegistry) (*Bus, paths.Layout, *fakeTransport) {
	t.Helper()
	layout, err := paths.NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureAll())

	events, err := eventlog.Open(layout.EventsDB())
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	ft := newFakeTransport()
	adapter := transport.NewAdapter(ft, dedup.NewStore(layout.Dedup()))

	// spawnWorker execs WorkerBinary directly; stand in a no-op script so
	// handleWorkflowSelection/handleApproval don't fail looking up a real
	// "worker" binary on PATH.
	workerBinary := filepath.Join(layout.Root, "fake-worker.sh")
	require.NoError(t, os.WriteFile(workerBinary, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	b := New(layout, &config.Config{ChatID: "chat-1"}, model.WorkspaceRegistry{}, reg,
		adapter, dedup.NewStore(layout.Dedup()), tracking.NewStore(layout.Tracking()),
		callback.NewStore(layout.Callbacks()), events, workerBinary, filepath.Join(layout.Root, "spawn.log"))
	return b, layout, ft
}

func TestScanMenusPostsMenuForAlwaysTrigger(t *testing.T) {
	always := true
	reg := model.WorkflowRegistry{Workflows: map[string]model.WorkflowManifest{
		"fix-links": {Name: "Fix links", Triggers: model.Triggers{Always: &always}, PromptTemplate: "fix"},
	}}
	b, layout, ft := newTestBus(t, reg)

	summary := model.SessionSummary{
		CorrelationID: "C1", WorkspacePath: "/tmp/proj", WorkspaceID: "ignored",
		SessionID: "S1", Timestamp: "2026-01-01T00:00:00Z", DurationSeconds: 1.5,
	}
	summaryPath := filepath.Join(layout.Summaries(), "summary_S1.json")
	require.NoError(t, spool.WriteJSONAtomic(summaryPath, summary))

	require.NoError(t, b.scanMenus(context.Background()))

	assert.Len(t, ft.sent, 1)
	assert.Equal(t, "chat-1", ft.sent[0].ChatID)
	require.NotNil(t, ft.sent[0].Keyboard)
	assert.Len(t, ft.sent[0].Keyboard.Rows, 2) // one workflow row + custom-prompt row

	err := spool.ReadJSONValidated(summaryPath, nil, &model.SessionSummary{})
	assert.True(t, spool.IsGone(err), "menu scan must consume the summary file")

	_, cached := b.cachedSummary(paths.WorkspaceHash("/tmp/proj"), "S1")
	assert.True(t, cached)
}

func TestScanMenusSkipsSessionWithNoMatchingTriggers(t *testing.T) {
	reg := model.WorkflowRegistry{Workflows: map[string]model.WorkflowManifest{
		"fix-links": {Name: "Fix links", Triggers: model.Triggers{}},
	}}
	b, layout, ft := newTestBus(t, reg)

	summary := model.SessionSummary{
		WorkspacePath: "/tmp/proj", SessionID: "S2", Timestamp: "2026-01-01T00:00:00Z",
	}
	summaryPath := filepath.Join(layout.Summaries(), "summary_S2.json")
	require.NoError(t, spool.WriteJSONAtomic(summaryPath, summary))

	require.NoError(t, b.scanMenus(context.Background()))
	assert.Empty(t, ft.sent)
}

func TestScanProgressSkipsUntrackedSnapshot(t *testing.T) {
	b, layout, ft := newTestBus(t, model.WorkflowRegistry{})

	snap := model.ProgressSnapshot{
		WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links",
		Status: model.StatusRunning, Stage: model.StageExecuting, ProgressPercent: 50,
		Message: "working", Timestamp: "2026-01-01T00:00:00Z",
	}
	progressPath := filepath.Join(layout.Progress(), "WH_S1_fix-links.json")
	require.NoError(t, spool.WriteJSONAtomic(progressPath, snap))

	require.NoError(t, b.scanProgress(context.Background()))
	assert.Empty(t, ft.edited, "an untracked snapshot must not produce a message edit")
}

func TestScanProgressEditsTrackedMessageAndConsumesOnCompleted(t *testing.T) {
	b, layout, ft := newTestBus(t, model.WorkflowRegistry{})

	key := tracking.Key{WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links"}
	require.NoError(t, b.Tracking.Put(key, model.TrackingRecord{MessageID: "msg-1", WorkflowName: "Fix links"}))

	snap := model.ProgressSnapshot{
		WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links",
		Status: model.StatusSuccess, Stage: model.StageCompleted, ProgressPercent: 100,
		Message: "done", Timestamp: "2026-01-01T00:00:00Z",
	}
	progressPath := filepath.Join(layout.Progress(), "WH_S1_fix-links.json")
	require.NoError(t, spool.WriteJSONAtomic(progressPath, snap))

	require.NoError(t, b.scanProgress(context.Background()))

	require.Len(t, ft.edited, 1)
	assert.Equal(t, "msg-1", ft.edited[0].MessageID)

	err := spool.ReadJSONValidated(progressPath, nil, &model.ProgressSnapshot{})
	assert.True(t, spool.IsGone(err), "a completed progress snapshot must be consumed")
}

func TestScanExecutionsFallsBackWhenTrackingMissing(t *testing.T) {
	b, layout, ft := newTestBus(t, model.WorkflowRegistry{})

	exec := model.WorkflowExecution{
		CorrelationID: "C1", WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links",
		WorkflowName: "Fix links", Status: model.StatusSuccess, ExitCode: 0,
		DurationSeconds: 1.2, Timestamp: "2026-01-01T00:00:00Z",
	}
	execPath := filepath.Join(layout.Executions(), "execution_S1_WH_fix-links.json")
	require.NoError(t, spool.WriteJSONAtomic(execPath, exec))

	require.NoError(t, b.scanExecutions(context.Background()))

	assert.Empty(t, ft.edited)
	require.Len(t, ft.sent, 1, "untracked execution must fall back to a standalone message")
}
