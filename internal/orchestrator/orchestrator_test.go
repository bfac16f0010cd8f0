package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborist-dev/quiescebus/internal/eventlog"
	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/paths"
	"github.com/arborist-dev/quiescebus/internal/spool"
)

// writeFakeClaude drops a shell script standing in for claude-cli: it
// ignores its arguments and prints a fixed --output-format json payload.
func writeFakeClaude(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestWorker(t *testing.T, reg model.WorkflowRegistry) (*Worker, paths.Layout) {
	t.Helper()
	layout, err := paths.NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureAll())

	events, err := eventlog.Open(layout.EventsDB())
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	return New(layout, events, 5*time.Second, reg), layout
}

func TestProcessSelectionSuccessWritesExecutionAndProgress(t *testing.T) {
	orig := ClaudeBinary
	ClaudeBinary = writeFakeClaude(t, `echo '{"session_id":"abc123"}'`)
	defer func() { ClaudeBinary = orig }()

	reg := model.WorkflowRegistry{Workflows: map[string]model.WorkflowManifest{
		"hello": {Name: "Hello", PromptTemplate: "do the thing"},
	}}
	w, layout := newTestWorker(t, reg)

	workspaceDir := t.TempDir()
	selection := model.WorkflowSelection{
		WorkspacePath: workspaceDir,
		WorkspaceID:   paths.WorkspaceHash(workspaceDir),
		SessionID:     "S1",
		Workflows:     []string{"hello"},
		CorrelationID: "C1",
		Timestamp:     "2026-01-01T00:00:00Z",
		SummaryData:   model.SessionSummary{SessionID: "S1"},
	}
	selectionPath := filepath.Join(layout.Selections(), "selection_S1.json")
	require.NoError(t, spool.WriteJSONAtomic(selectionPath, selection))

	require.NoError(t, w.Run(context.Background(), selectionPath))

	_, err := os.Stat(selectionPath)
	assert.True(t, os.IsNotExist(err), "successful run must consume the selection file")

	workspaceHash := paths.WorkspaceHash(workspaceDir)
	execPath := filepath.Join(layout.Executions(), "execution_S1_"+workspaceHash+"_hello.json")
	var exec model.WorkflowExecution
	require.NoError(t, spool.ReadJSONValidated(execPath, model.RequiredExecutionFields, &exec))
	assert.Equal(t, model.StatusSuccess, exec.Status)
	assert.Equal(t, 0, exec.ExitCode)
	assert.Equal(t, "abc123", exec.HeadlessSessionID)

	progressPath := filepath.Join(layout.Progress(), workspaceHash+"_S1_hello.json")
	var snap model.ProgressSnapshot
	require.NoError(t, spool.ReadJSONValidated(progressPath, nil, &snap))
	assert.Equal(t, model.StageCompleted, snap.Stage)
	assert.Equal(t, 100, snap.ProgressPercent)

	_, err = os.Stat(layout.AntiFeedbackMarker())
	assert.True(t, os.IsNotExist(err), "anti-feedback marker must be removed after a completed workflow")
}

func TestProcessSelectionUnknownWorkflowIDIsError(t *testing.T) {
	reg := model.WorkflowRegistry{Workflows: map[string]model.WorkflowManifest{}}
	w, layout := newTestWorker(t, reg)

	workspaceDir := t.TempDir()
	selection := model.WorkflowSelection{
		WorkspacePath: workspaceDir,
		WorkspaceID:   paths.WorkspaceHash(workspaceDir),
		SessionID:     "S1",
		Workflows:     []string{"does-not-exist"},
		Timestamp:     "2026-01-01T00:00:00Z",
		SummaryData:   model.SessionSummary{SessionID: "S1"},
	}
	selectionPath := filepath.Join(layout.Selections(), "selection_S1.json")
	require.NoError(t, spool.WriteJSONAtomic(selectionPath, selection))

	err := w.Run(context.Background(), selectionPath)
	assert.Error(t, err)
}

func TestProcessApprovalRejectWritesNoCompletion(t *testing.T) {
	w, layout := newTestWorker(t, model.WorkflowRegistry{})

	workspaceDir := t.TempDir()
	rec := model.ApprovalRecord{
		WorkspacePath: workspaceDir,
		SessionID:     "S2",
		Decision:      "reject",
		Timestamp:     "2026-01-01T00:00:00Z",
	}
	approvalPath := filepath.Join(layout.Approvals(), "approval_S2.json")
	require.NoError(t, spool.WriteJSONAtomic(approvalPath, rec))

	require.NoError(t, w.Run(context.Background(), approvalPath))

	entries, err := os.ReadDir(layout.Completions())
	require.NoError(t, err)
	assert.Empty(t, entries, "reject must not emit a completion record")
}

func TestProcessApprovalAutoFixAllWritesCompletion(t *testing.T) {
	orig := ClaudeBinary
	ClaudeBinary = writeFakeClaude(t, `echo '{"type":"result","subtype":"success","result":"Fixed 3 links"}'`)
	defer func() { ClaudeBinary = orig }()

	w, layout := newTestWorker(t, model.WorkflowRegistry{})

	workspaceDir := t.TempDir()
	rec := model.ApprovalRecord{
		WorkspacePath: workspaceDir,
		SessionID:     "S3",
		Decision:      "auto_fix_all",
		Timestamp:     "2026-01-01T00:00:00Z",
	}
	approvalPath := filepath.Join(layout.Approvals(), "approval_S3.json")
	require.NoError(t, spool.WriteJSONAtomic(approvalPath, rec))

	require.NoError(t, w.Run(context.Background(), approvalPath))

	workspaceHash := paths.WorkspaceHash(workspaceDir)
	completionPath := filepath.Join(layout.Completions(), "completion_S3_"+workspaceHash+".json")
	var completion model.CompletionNotification
	require.NoError(t, spool.ReadJSONValidated(completionPath, model.RequiredCompletionFields, &completion))
	assert.Equal(t, model.StatusSuccess, completion.Status)
	assert.Equal(t, "Fixed 3 links", completion.Summary)
}

func TestUnrecognizedInputFileIsRejected(t *testing.T) {
	w, layout := newTestWorker(t, model.WorkflowRegistry{})
	badPath := filepath.Join(layout.Root, "mystery_file.json")
	require.NoError(t, os.WriteFile(badPath, []byte("{}"), 0o644))

	err := w.Run(context.Background(), badPath)
	assert.Error(t, err)
}
