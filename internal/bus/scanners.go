package bus

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/arborist-dev/quiescebus/internal/dedup"
	"github.com/arborist-dev/quiescebus/internal/eventlog"
	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/paths"
	"github.com/arborist-dev/quiescebus/internal/registry"
	"github.com/arborist-dev/quiescebus/internal/spool"
	"github.com/arborist-dev/quiescebus/internal/tracking"
	"github.com/arborist-dev/quiescebus/internal/transcript"
)

// orUnknown substitutes "unknown" for an empty correlation id so an
// eventlog.Log call never fails on ErrCorrelationIDMissing for a record the
// spec otherwise treats as best-effort, matching the original's own
// `.get("correlation_id", "unknown")` pattern.
func orUnknown(id string) string {
	if id == "" {
		return "unknown"
	}
	return id
}

// scanMenus lists summaries/summary_*.json, filters each against the
// workflow registry, and posts the v4 workflow menu (spec §4.4, §4.8 step
// 2). Grounded on SummaryHandler.send_workflow_menu.
func (b *Bus) scanMenus(ctx context.Context) error {
	files, err := spool.List(b.Layout.Summaries(), "summary_*.json")
	if err != nil {
		return fmt.Errorf("scan menus: list: %w", err)
	}
	for _, path := range files {
		if err := b.processSummary(ctx, path); err != nil {
			log.Printf("bus: summary %s: %v", path, err)
		}
	}
	return nil
}

func (b *Bus) processSummary(ctx context.Context, path string) error {
	var summary model.SessionSummary
	if err := spool.ReadJSONValidated(path, model.RequiredSummaryFields, &summary); err != nil {
		if spool.IsGone(err) {
			return nil
		}
		if ve, ok := err.(*spool.ValidationError); ok {
			log.Printf("bus: rejected summary %s: %s\n%s", ve.Path, ve.Reason, ve.Dump)
			return nil
		}
		return err
	}
	defer spool.Consume(path)

	correlationID := orUnknown(summary.CorrelationID)
	workspaceID := paths.WorkspaceHash(summary.WorkspacePath)

	if err := b.Events.Log(ctx, correlationID, workspaceID, summary.SessionID, eventlog.ComponentBot, eventlog.EventSummaryReceived, map[string]any{"summary_file": filepath.Base(path)}); err != nil {
		log.Printf("bus: log summary.received: %v", err)
	}

	filtered := registry.Filter(b.WFRegistry, summary)
	if len(filtered) == 0 {
		log.Printf("bus: no workflows available for session %s (no triggers matched)", summary.SessionID)
		return nil
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })

	emoji, _ := registry.DisplayFor(b.WSRegistry, workspaceID)

	userPrompt, lastResponse := summary.LastUserPrompt, summary.LastResponse
	if lastResponse == "" {
		lastResponse = "Session completed"
	}
	if home, err := os.UserHomeDir(); err == nil {
		transcriptPath := filepath.Join(home, ".claude", "projects", summary.SessionID+".jsonl")
		if ex, err := transcript.ExtractFromFile(transcriptPath); err == nil {
			userPrompt, lastResponse = ex.UserPrompt, ex.AssistantResponse
		}
	}

	b.cacheSummary(model.SessionSummary{
		CorrelationID: correlationID, WorkspacePath: summary.WorkspacePath, WorkspaceID: workspaceID,
		SessionID: summary.SessionID, DurationSeconds: summary.DurationSeconds,
		RepositoryRoot: summary.RepositoryRoot, WorkingDirectory: summary.WorkingDirectory,
		GitStatus: summary.GitStatus, LycheeStatus: summary.LycheeStatus,
		LastUserPrompt: userPrompt, LastResponse: lastResponse,
	})

	text := renderMenuMessage(summary, emoji, userPrompt, lastResponse, filtered)

	tokens := make([]string, len(filtered))
	for i, fw := range filtered {
		token, err := b.Callbacks.Create(model.CallbackToken{
			WorkspaceID: workspaceID, WorkspacePath: summary.WorkspacePath, SessionID: summary.SessionID,
			Action: model.WorkflowActionPrefix + fw.ID, CorrelationID: correlationID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("create callback token: %w", err)
		}
		tokens[i] = token
	}
	customToken, err := b.Callbacks.Create(model.CallbackToken{
		WorkspaceID: workspaceID, WorkspacePath: summary.WorkspacePath, SessionID: summary.SessionID,
		Action: model.ActionCustomPrompt, CorrelationID: correlationID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("create custom-prompt token: %w", err)
	}

	kb := workflowMenuKeyboard(tokens, filtered, customToken)
	rendered := b.Adapter.Dialect().Render(text)
	if _, err := b.Adapter.Send(ctx, b.Cfg.ChatID, rendered, &kb); err != nil {
		return fmt.Errorf("send menu: %w", err)
	}
	b.touchActivity()

	if err := b.Events.Log(ctx, correlationID, workspaceID, summary.SessionID, eventlog.ComponentBot, eventlog.EventSummaryProcessed, map[string]any{"workspace_id": workspaceID, "workflows_count": len(filtered)}); err != nil {
		log.Printf("bus: log summary.processed: %v", err)
	}
	return nil
}

// scanProgress edits the tracked message for every live progress snapshot
// and silently skips any snapshot whose (workspace, session, workflow) is
// not currently tracked (spec §8 invariant 1), grounded on
// bot_services.progress_poller.
func (b *Bus) scanProgress(ctx context.Context) error {
	files, err := spool.List(b.Layout.Progress(), "*.json")
	if err != nil {
		return fmt.Errorf("scan progress: list: %w", err)
	}
	for _, path := range files {
		if filepath.Base(path) == "schema.json" {
			continue
		}
		if err := b.processProgress(ctx, path); err != nil {
			log.Printf("bus: progress %s: %v", path, err)
		}
	}
	return nil
}

func (b *Bus) processProgress(ctx context.Context, path string) error {
	var snap model.ProgressSnapshot
	required := []string{"workspace_id", "session_id", "workflow_id", "status", "stage", "progress_percent", "message"}
	if err := spool.ReadJSONValidated(path, required, &snap); err != nil {
		if spool.IsGone(err) {
			return nil
		}
		if ve, ok := err.(*spool.ValidationError); ok {
			log.Printf("bus: rejected progress %s: %s", ve.Path, ve.Reason)
			return nil
		}
		return err
	}

	key := tracking.Key{WorkspaceID: snap.WorkspaceID, SessionID: snap.SessionID, WorkflowID: snap.WorkflowID}
	rec, ok := b.Tracking.Get(key)
	if !ok {
		return nil
	}

	text := b.Adapter.Dialect().Render(renderProgressMessage(rec, snap))
	dkey := dedup.Key{WorkspaceID: snap.WorkspaceID, SessionID: snap.SessionID, WorkflowID: snap.WorkflowID}
	if err := b.Adapter.Edit(ctx, dkey, b.Cfg.ChatID, rec.MessageID, text); err != nil {
		return fmt.Errorf("edit progress message: %w", err)
	}
	b.touchActivity()

	if snap.Stage == model.StageCompleted {
		return spool.Consume(path)
	}
	return nil
}

// scanExecutions finalizes the tracked message for each completed execution
// (editing it if tracking survived, or posting a standalone "recovered"
// notice otherwise, per spec §8 invariant 2), grounded on
// WorkflowExecutionHandler.send_execution_completion.
func (b *Bus) scanExecutions(ctx context.Context) error {
	files, err := spool.List(b.Layout.Executions(), "execution_*.json")
	if err != nil {
		return fmt.Errorf("scan executions: list: %w", err)
	}
	for _, path := range files {
		if err := b.processExecution(ctx, path); err != nil {
			log.Printf("bus: execution %s: %v", path, err)
		}
	}
	return nil
}

func (b *Bus) processExecution(ctx context.Context, path string) error {
	var exec model.WorkflowExecution
	if err := spool.ReadJSONValidated(path, model.RequiredExecutionFields, &exec); err != nil {
		if spool.IsGone(err) {
			return nil
		}
		if ve, ok := err.(*spool.ValidationError); ok {
			log.Printf("bus: rejected execution %s: %s", ve.Path, ve.Reason)
			return nil
		}
		return err
	}
	defer spool.Consume(path)

	key := tracking.Key{WorkspaceID: exec.WorkspaceID, SessionID: exec.SessionID, WorkflowID: exec.WorkflowID}
	dkey := dedup.Key{WorkspaceID: exec.WorkspaceID, SessionID: exec.SessionID, WorkflowID: exec.WorkflowID}

	if rec, ok := b.Tracking.Get(key); ok {
		text := b.Adapter.Dialect().Render(renderExecutionMessage(rec, exec))
		if err := b.Adapter.Edit(ctx, dkey, b.Cfg.ChatID, rec.MessageID, text); err != nil {
			return fmt.Errorf("edit execution message: %w", err)
		}
		if err := b.Tracking.Delete(key); err != nil {
			log.Printf("bus: delete tracking %v: %v", key, err)
		}
		if err := b.Dedup.Cleanup(dkey); err != nil {
			log.Printf("bus: cleanup dedup %v: %v", dkey, err)
		}
	} else {
		log.Printf("bus: WARNING no progress tracking found for %+v, sending fallback notification", key)
		text := b.Adapter.Dialect().Render(renderFallbackExecutionMessage(exec))
		if _, err := b.Adapter.Send(ctx, b.Cfg.ChatID, text, nil); err != nil {
			return fmt.Errorf("send fallback execution message: %w", err)
		}
	}

	correlationID := orUnknown(exec.CorrelationID)
	if err := b.Events.Log(ctx, correlationID, exec.WorkspaceID, exec.SessionID, eventlog.ComponentBot, eventlog.EventWorkflowCompleted, map[string]any{"workflow_id": exec.WorkflowID, "status": exec.Status}); err != nil {
		log.Printf("bus: log workflow.completed: %v", err)
	}
	b.touchActivity()
	return nil
}

// scanNotifications handles the legacy v3 link-validation notifications
// (notify_*.json), posting the auto_fix_all/reject/view_details keyboard.
// Grounded on NotificationHandler.send_notification.
func (b *Bus) scanNotifications(ctx context.Context) error {
	files, err := spool.List(b.Layout.Notifications(), "notify_*.json")
	if err != nil {
		return fmt.Errorf("scan notifications: list: %w", err)
	}
	for _, path := range files {
		if err := b.processNotification(ctx, path); err != nil {
			log.Printf("bus: notification %s: %v", path, err)
		}
	}
	return nil
}

func (b *Bus) processNotification(ctx context.Context, path string) error {
	var req model.NotificationRequest
	if err := spool.ReadJSONValidated(path, model.RequiredNotificationFields, &req); err != nil {
		if spool.IsGone(err) {
			return nil
		}
		if ve, ok := err.(*spool.ValidationError); ok {
			log.Printf("bus: rejected notification %s: %s", ve.Path, ve.Reason)
			return nil
		}
		return err
	}
	defer spool.Consume(path)

	workspaceID := req.WorkspaceHash
	if workspaceID == "" {
		workspaceID = paths.WorkspaceHash(req.WorkspacePath)
	}
	correlationID := orUnknown(req.CorrelationID)

	if err := b.Events.Log(ctx, correlationID, workspaceID, req.SessionID, eventlog.ComponentBot, "notification.received", map[string]any{"notification_file": filepath.Base(path), "error_count": req.ErrorCount}); err != nil {
		log.Printf("bus: log notification.received: %v", err)
	}

	emoji, wsName := registry.DisplayFor(b.WSRegistry, workspaceID)
	text := b.Adapter.Dialect().Render(renderNotificationMessage(req, emoji, wsName))

	autoFixToken, err := b.Callbacks.Create(model.CallbackToken{WorkspaceID: workspaceID, WorkspacePath: req.WorkspacePath, SessionID: req.SessionID, Action: model.ActionAutoFixAll, CorrelationID: correlationID, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	rejectToken, err := b.Callbacks.Create(model.CallbackToken{WorkspaceID: workspaceID, WorkspacePath: req.WorkspacePath, SessionID: req.SessionID, Action: model.ActionReject, CorrelationID: correlationID, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	viewToken, err := b.Callbacks.Create(model.CallbackToken{WorkspaceID: workspaceID, WorkspacePath: req.WorkspacePath, SessionID: req.SessionID, Action: model.ActionViewDetails, CorrelationID: correlationID, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}

	kb := notificationKeyboard(autoFixToken, rejectToken, viewToken)
	if _, err := b.Adapter.Send(ctx, b.Cfg.ChatID, text, &kb); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	b.touchActivity()

	return b.Events.Log(ctx, correlationID, workspaceID, req.SessionID, eventlog.ComponentBot, "notification.processed", map[string]any{"workspace_id": workspaceID})
}

// scanCompletions handles legacy v3 status-only completion notices
// (completion_*.json), grounded on CompletionHandler.send_completion.
func (b *Bus) scanCompletions(ctx context.Context) error {
	files, err := spool.List(b.Layout.Completions(), "completion_*.json")
	if err != nil {
		return fmt.Errorf("scan completions: list: %w", err)
	}
	for _, path := range files {
		if err := b.processCompletion(ctx, path); err != nil {
			log.Printf("bus: completion %s: %v", path, err)
		}
	}
	return nil
}

func (b *Bus) processCompletion(ctx context.Context, path string) error {
	var c model.CompletionNotification
	if err := spool.ReadJSONValidated(path, model.RequiredCompletionFields, &c); err != nil {
		if spool.IsGone(err) {
			return nil
		}
		if ve, ok := err.(*spool.ValidationError); ok {
			log.Printf("bus: rejected completion %s: %s", ve.Path, ve.Reason)
			return nil
		}
		return err
	}
	defer spool.Consume(path)

	emoji, _ := registry.DisplayFor(b.WSRegistry, c.WorkspaceID)
	text := b.Adapter.Dialect().Render(renderCompletionMessage(c, emoji))
	if _, err := b.Adapter.Send(ctx, b.Cfg.ChatID, text, nil); err != nil {
		return fmt.Errorf("send completion: %w", err)
	}
	b.touchActivity()
	return nil
}

// lycheeResultsPath is where handle_view_details reads its per-file error
// breakdown from, relative to a workspace root.
func lycheeResultsPath(workspacePath string) string {
	return filepath.Join(workspacePath, ".lychee-results.json")
}

// stripWorkspacePrefix shortens an absolute file path relative to workspacePath,
// matching handlers.handle_view_details's short_path computation.
func stripWorkspacePrefix(path, workspacePath string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, workspacePath), "/")
}
