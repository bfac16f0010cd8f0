package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arborist-dev/quiescebus/internal/callback"
	"github.com/arborist-dev/quiescebus/internal/eventlog"
	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/registry"
	"github.com/arborist-dev/quiescebus/internal/spool"
	"github.com/arborist-dev/quiescebus/internal/tracking"
	"github.com/arborist-dev/quiescebus/internal/transport"
)

// runCallbackRouter drains the transport's inbound button-press stream and
// dispatches each one by its CallbackToken.Action (spec §4.9). Grounded on
// the teacher's overall dispatch shape combined with handler_classes.py's
// per-action handlers, since the teacher has no button-callback concept of
// its own.
func (b *Bus) runCallbackRouter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.Adapter.Inbound():
			if !ok {
				return
			}
			if b.shuttingDown() {
				return
			}
			if err := b.handleCallback(ctx, event); err != nil {
				log.Printf("bus: callback %s: %v", event.CallbackToken, err)
			}
			b.touchActivity()
		}
	}
}

func (b *Bus) handleCallback(ctx context.Context, event transport.CallbackEvent) error {
	tok, err := b.Callbacks.Resolve(event.CallbackToken)
	if err != nil {
		if err == callback.ErrExpired {
			text := b.Adapter.Dialect().Render(renderExpiredMessage())
			_, sendErr := b.Adapter.Send(ctx, event.ChatID, text, nil)
			return sendErr
		}
		if err == callback.ErrNotFound {
			log.Printf("bus: callback token %s not found (stale or double press)", event.CallbackToken)
			return nil
		}
		return fmt.Errorf("resolve callback: %w", err)
	}

	correlationID := tok.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	switch {
	case tok.Action == model.ActionViewDetails:
		return b.handleViewDetails(ctx, event, tok)
	case tok.Action == model.ActionCustomPrompt:
		text := b.Adapter.Dialect().Render(renderCustomPromptStub())
		_, err := b.Adapter.Send(ctx, event.ChatID, text, nil)
		return err
	case tok.Action == model.ActionAutoFixAll:
		return b.handleApproval(ctx, event, tok, correlationID, "auto_fix_all")
	case tok.Action == model.ActionReject:
		return b.handleApproval(ctx, event, tok, correlationID, "reject")
	case strings.HasPrefix(tok.Action, model.WorkflowActionPrefix):
		workflowID := strings.TrimPrefix(tok.Action, model.WorkflowActionPrefix)
		return b.handleWorkflowSelection(ctx, event, tok, correlationID, workflowID)
	default:
		return fmt.Errorf("unknown callback action %q", tok.Action)
	}
}

// handleApproval writes the legacy v3 binary approval record and, for
// auto_fix_all, spawns the Worker against it (spec "Legacy v3 paths").
// Grounded on ApprovalOrchestrator._read_approval and handler_classes.py's
// auto-fix/reject button handlers.
func (b *Bus) handleApproval(ctx context.Context, event transport.CallbackEvent, tok model.CallbackToken, correlationID, decision string) error {
	rec := model.ApprovalRecord{
		WorkspacePath: tok.WorkspacePath,
		SessionID:     tok.SessionID,
		Decision:      decision,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CorrelationID: correlationID,
	}
	path := filepath.Join(b.Layout.Approvals(), fmt.Sprintf("approval_%s_%s.json", tok.SessionID, tok.WorkspaceID))
	if err := spool.WriteJSONAtomic(path, rec); err != nil {
		return fmt.Errorf("write approval: %w", err)
	}

	ackText := "❌ Rejected."
	if decision == "auto_fix_all" {
		ackText = "⏳ Starting Auto-Fix..."
		if err := b.spawnWorker(path); err != nil {
			return fmt.Errorf("spawn worker for approval: %w", err)
		}
		b.Metrics.WorkersSpawned.Inc()
	}

	if err := b.Adapter.Delete(ctx, event.ChatID, event.MessageID); err != nil {
		log.Printf("bus: delete notification message: %v", err)
	}
	if _, err := b.Adapter.Send(ctx, event.ChatID, b.Adapter.Dialect().Render(ackText), nil); err != nil {
		return fmt.Errorf("send approval ack: %w", err)
	}

	return b.Events.Log(ctx, correlationID, tok.WorkspaceID, tok.SessionID, eventlog.ComponentBot, eventlog.EventSelectionCreated, map[string]any{"decision": decision})
}

// handleWorkflowSelection writes a v4 WorkflowSelection, spawns the Worker,
// and replaces the menu message with a tracked "starting" message. Grounded
// on handler_classes.py's workflow-button callback and
// bot_state.active_progress_updates bookkeeping.
func (b *Bus) handleWorkflowSelection(ctx context.Context, event transport.CallbackEvent, tok model.CallbackToken, correlationID, workflowID string) error {
	summary, ok := b.cachedSummary(tok.WorkspaceID, tok.SessionID)
	if !ok {
		log.Printf("bus: WARNING no cached summary for workspace=%s session=%s, falling back to empty summary", tok.WorkspaceID, tok.SessionID)
		summary = model.SessionSummary{
			WorkspacePath: tok.WorkspacePath,
			WorkspaceID:   tok.WorkspaceID,
			SessionID:     tok.SessionID,
		}
	}

	manifest, known := b.WFRegistry.Workflows[workflowID]
	displayName := workflowID
	if known {
		displayName = manifest.Name
	}

	emoji, _ := registry.DisplayFor(b.WSRegistry, tok.WorkspaceID)

	selection := model.WorkflowSelection{
		WorkspacePath: tok.WorkspacePath,
		WorkspaceID:   tok.WorkspaceID,
		SessionID:     tok.SessionID,
		Workflows:     []string{workflowID},
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		SummaryData:   summary,
		Metadata:      map[string]string{"callback_token": event.CallbackToken},
	}
	selectionPath := filepath.Join(b.Layout.Selections(), fmt.Sprintf("selection_%s_%s.json", tok.SessionID, tok.WorkspaceID))
	if err := spool.WriteJSONAtomic(selectionPath, selection); err != nil {
		return fmt.Errorf("write selection: %w", err)
	}
	if err := b.Events.Log(ctx, correlationID, tok.WorkspaceID, tok.SessionID, eventlog.ComponentBot, eventlog.EventSelectionCreated, map[string]any{"workflow_id": workflowID}); err != nil {
		log.Printf("bus: log selection.created: %v", err)
	}

	if err := b.spawnWorker(selectionPath); err != nil {
		return fmt.Errorf("spawn worker: %w", err)
	}
	b.Metrics.WorkersSpawned.Inc()

	startText := b.Adapter.Dialect().Render(renderWorkflowStartMessage(emoji, displayName, tok.SessionID, summary, summary.LastUserPrompt, summary.LastResponse))

	if err := b.Adapter.Delete(ctx, event.ChatID, event.MessageID); err != nil {
		log.Printf("bus: delete menu message: %v", err)
	}
	messageID, err := b.Adapter.Send(ctx, event.ChatID, startText, nil)
	if err != nil {
		return fmt.Errorf("send tracking message: %w", err)
	}

	rec := model.TrackingRecord{
		MessageID:        messageID,
		WorkspaceID:      tok.WorkspaceID,
		RepositoryRoot:   summary.RepositoryRoot,
		WorkingDirectory: summary.WorkingDirectory,
		GitBranch:        summary.GitStatus.Branch,
		GitModified:      summary.GitStatus.ModifiedFiles,
		GitStaged:        summary.GitStatus.StagedFiles,
		GitUntracked:     summary.GitStatus.UntrackedFiles,
		WorkflowName:     displayName,
		SessionID:        tok.SessionID,
		UserPrompt:       summary.LastUserPrompt,
		LastResponse:     summary.LastResponse,
	}
	key := tracking.Key{WorkspaceID: tok.WorkspaceID, SessionID: tok.SessionID, WorkflowID: workflowID}
	return b.Tracking.Put(key, rec)
}

// lycheeError mirrors one entry of a .lychee-results.json per-file error list.
type lycheeError struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// handleViewDetails replies with a per-file error breakdown read from
// .lychee-results.json under the workspace root. Grounded on
// handler_classes.handle_view_details.
func (b *Bus) handleViewDetails(ctx context.Context, event transport.CallbackEvent, tok model.CallbackToken) error {
	path := lycheeResultsPath(tok.WorkspacePath)
	raw, err := os.ReadFile(path)
	if err != nil {
		text := "📋 No detailed results found. Link validation results may have been cleared."
		_, sendErr := b.Adapter.Send(ctx, event.ChatID, b.Adapter.Dialect().Render(text), nil)
		return sendErr
	}

	var byFile map[string][]lycheeError
	if err := json.Unmarshal(raw, &byFile); err != nil {
		text := "📋 Error reading results file: malformed JSON."
		_, sendErr := b.Adapter.Send(ctx, event.ChatID, b.Adapter.Dialect().Render(text), nil)
		return sendErr
	}

	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}

	var details strings.Builder
	for _, f := range files {
		errs := byFile[f]
		short := stripWorkspacePrefix(f, tok.WorkspacePath)
		fmt.Fprintf(&details, "**%s** (%d errors):\n", short, len(errs))
		limit := errs
		more := 0
		if len(limit) > 5 {
			more = len(limit) - 5
			limit = limit[:5]
		}
		for _, e := range limit {
			fmt.Fprintf(&details, "• %s\n  %s\n", e.URL, e.Text)
		}
		if more > 0 {
			fmt.Fprintf(&details, "  ...and %d more errors\n", more)
		}
		details.WriteString("\n")
	}

	body := details.String()
	if len(body) > 3800 {
		body = body[:3800] + "... (truncated)"
	}

	text := "📋 **Detailed Error Breakdown**\n\n" + body
	_, err = b.Adapter.Send(ctx, event.ChatID, b.Adapter.Dialect().Render(text), nil)
	return err
}
