package bus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborist-dev/quiescebus/internal/callback"
	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/spool"
	"github.com/arborist-dev/quiescebus/internal/tracking"
	"github.com/arborist-dev/quiescebus/internal/transport"
)

func TestHandleCallbackUnresolvableTokenIsSilentlyIgnored(t *testing.T) {
	b, _, ft := newTestBus(t, model.WorkflowRegistry{})

	event := transport.CallbackEvent{CallbackToken: "cb_doesnotexist", ChatID: "chat-1", MessageID: "m1"}
	require.NoError(t, b.handleCallback(context.Background(), event))
	assert.Empty(t, ft.sent, "a token with no backing file is a stale/double press, not an error")
}

func TestHandleCallbackExpiredTokenSendsNotice(t *testing.T) {
	b, layout, ft := newTestBus(t, model.WorkflowRegistry{})

	tok := model.CallbackToken{
		WorkspaceID: "WH", WorkspacePath: "/tmp/proj", SessionID: "S1",
		Action: model.ActionReject, Timestamp: "2026-01-01T00:00:00Z",
	}
	token, err := b.Callbacks.Create(tok)
	require.NoError(t, err)

	tokenPath := filepath.Join(layout.Callbacks(), token+".json")
	old := time.Now().Add(-callback.TTL - time.Minute)
	require.NoError(t, os.Chtimes(tokenPath, old, old))

	event := transport.CallbackEvent{CallbackToken: token, ChatID: "chat-1", MessageID: "m1"}
	require.NoError(t, b.handleCallback(context.Background(), event))

	require.Len(t, ft.sent, 1)
	assert.Contains(t, ft.sent[0].Text, "expired")
}

func TestHandleCallbackWorkflowSelectionWritesSelectionAndTracksIt(t *testing.T) {
	reg := model.WorkflowRegistry{Workflows: map[string]model.WorkflowManifest{
		"fix-links": {Name: "Fix links"},
	}}
	b, layout, ft := newTestBus(t, reg)

	tok := model.CallbackToken{
		WorkspaceID: "WH", WorkspacePath: "/tmp/proj", SessionID: "S1",
		Action: model.WorkflowActionPrefix + "fix-links", CorrelationID: "C1",
		Timestamp: "2026-01-01T00:00:00Z",
	}
	token, err := b.Callbacks.Create(tok)
	require.NoError(t, err)

	event := transport.CallbackEvent{CallbackToken: token, ChatID: "chat-1", MessageID: "menu-msg"}
	require.NoError(t, b.handleCallback(context.Background(), event))

	assert.Contains(t, ft.deleted, "menu-msg")
	require.Len(t, ft.sent, 1)

	files, err := spool.List(layout.Selections(), "selection_*.json")
	require.NoError(t, err)
	require.Len(t, files, 1)

	var sel model.WorkflowSelection
	require.NoError(t, spool.ReadJSONValidated(files[0], nil, &sel))
	assert.Equal(t, []string{"fix-links"}, sel.Workflows)

	_, tracked := b.Tracking.Get(tracking.Key{WorkspaceID: "WH", SessionID: "S1", WorkflowID: "fix-links"})
	assert.True(t, tracked)
}

func TestHandleCallbackRejectWritesApprovalNoWorkerSpawn(t *testing.T) {
	b, layout, ft := newTestBus(t, model.WorkflowRegistry{})

	tok := model.CallbackToken{
		WorkspaceID: "WH", WorkspacePath: "/tmp/proj", SessionID: "S1",
		Action: model.ActionReject, CorrelationID: "C1", Timestamp: "2026-01-01T00:00:00Z",
	}
	token, err := b.Callbacks.Create(tok)
	require.NoError(t, err)

	event := transport.CallbackEvent{CallbackToken: token, ChatID: "chat-1", MessageID: "notif-msg"}
	require.NoError(t, b.handleCallback(context.Background(), event))

	approvalPath := filepath.Join(layout.Approvals(), "approval_S1_WH.json")
	var rec model.ApprovalRecord
	require.NoError(t, spool.ReadJSONValidated(approvalPath, nil, &rec))
	assert.Equal(t, "reject", rec.Decision)

	require.Len(t, ft.sent, 1)
	assert.Contains(t, ft.sent[0].Text, "Rejected")
}

func TestHandleCallbackUnknownActionIsError(t *testing.T) {
	b, _, _ := newTestBus(t, model.WorkflowRegistry{})

	tok := model.CallbackToken{
		WorkspaceID: "WH", WorkspacePath: "/tmp/proj", SessionID: "S1",
		Action: "not_a_real_action", Timestamp: "2026-01-01T00:00:00Z",
	}
	token, err := b.Callbacks.Create(tok)
	require.NoError(t, err)

	event := transport.CallbackEvent{CallbackToken: token, ChatID: "chat-1"}
	err = b.handleCallback(context.Background(), event)
	assert.Error(t, err)
}
