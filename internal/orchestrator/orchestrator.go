// Package orchestrator implements the Worker: a one-shot process that
// reads exactly one selection or legacy approval file, executes its
// workflow(s) against the claude-cli subprocess, and exits (spec §5).
// Grounded on
// original_source/automation/lychee/runtime/orchestrator/multi-workspace-orchestrator.py's
// WorkflowOrchestrator (v4 selections) and ApprovalOrchestrator (v3 legacy
// approvals) — both one-shot classes that process a single input file and
// emit progress/execution/completion records, never watching anything.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/arborist-dev/quiescebus/internal/eventlog"
	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/paths"
	"github.com/arborist-dev/quiescebus/internal/spool"
	"github.com/arborist-dev/quiescebus/internal/template"
)

// ClaudeBinary is the claude-cli executable invoked for every workflow.
// Overridable for tests.
var ClaudeBinary = "claude"

// Worker is the one-shot orchestrator. It owns no long-lived state beyond
// what a single input-file invocation needs.
type Worker struct {
	Layout   paths.Layout
	Events   *eventlog.Logger
	Timeout  time.Duration
	Registry model.WorkflowRegistry
}

// New builds a Worker. The caller has already loaded the workflow registry
// (spec §5 step 1: "load workflows.json — fail fast if missing/invalid").
func New(layout paths.Layout, events *eventlog.Logger, timeout time.Duration, reg model.WorkflowRegistry) *Worker {
	return &Worker{Layout: layout, Events: events, Timeout: timeout, Registry: reg}
}

// Run routes path to the v4 selection or v3 approval pipeline by filename
// prefix, matching the original's own "selection_" / "approval_" dispatch
// in main().
func (w *Worker) Run(ctx context.Context, path string) error {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "selection_"):
		return w.processSelection(ctx, path)
	case strings.HasPrefix(base, "approval_"):
		return w.processApproval(ctx, path)
	default:
		return fmt.Errorf("orchestrator: unrecognized input file %q (expected selection_*.json or approval_*.json)", base)
	}
}

// orUnknown substitutes "unknown" for an empty correlation id, mirroring
// the original's `state.get("correlation_id") or os.environ.get("CORRELATION_ID", "unknown")`.
func orUnknown(id string) string {
	if id == "" {
		return "unknown"
	}
	return id
}

// ---- v4: WorkflowSelection pipeline ----

func (w *Worker) processSelection(ctx context.Context, path string) error {
	var selection model.WorkflowSelection
	required := []string{"workspace_path", "workspace_id", "session_id", "workflows", "timestamp"}
	if err := spool.ReadJSONValidated(path, required, &selection); err != nil {
		if spool.IsGone(err) {
			return nil
		}
		return fmt.Errorf("read selection: %w", err)
	}
	defer spool.Consume(path)

	correlationID := orUnknown(selection.CorrelationID)
	workspaceHash := paths.WorkspaceHash(selection.WorkspacePath)

	if err := w.Events.Log(ctx, correlationID, workspaceHash, selection.SessionID, eventlog.ComponentOrchestrator, "selection.received", map[string]any{"selection_file": filepath.Base(path), "workflow_ids": selection.Workflows}); err != nil {
		return fmt.Errorf("log selection.received: %w", err)
	}

	orderedIDs := w.resolveDependencyOrder(selection.Workflows)

	summary := selection.SummaryData
	if summary.SessionID == "" {
		loaded, err := w.readSessionSummaryFallback(selection.SessionID, workspaceHash)
		if err != nil {
			return fmt.Errorf("no summary_data embedded and fallback load failed: %w", err)
		}
		summary = loaded
	}

	tctx := template.Context{
		WorkspacePath: selection.WorkspacePath,
		SessionID:     selection.SessionID,
		CorrelationID: correlationID,
		GitStatus:     summary.GitStatus,
		LycheeStatus:  summary.LycheeStatus,
	}

	var firstErr error
	for _, workflowID := range orderedIDs {
		if err := w.executeWorkflow(ctx, correlationID, workspaceHash, selection.SessionID, selection.WorkspacePath, workflowID, tctx); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := w.Events.Log(ctx, correlationID, workspaceHash, selection.SessionID, eventlog.ComponentOrchestrator, eventlog.EventOrchestratorDone, map[string]any{"workflow_count": len(selection.Workflows)}); err != nil {
		return fmt.Errorf("log orchestrator.completed: %w", err)
	}
	return firstErr
}

// resolveDependencyOrder returns ids unchanged: workflow dependencies are
// recorded in the manifest but never used to reorder execution (spec §4.10,
// §9 open question), matching resolve_workflow_dependencies's Phase-4
// no-op. A manifest naming dependencies gets one warning, not enforcement.
func (w *Worker) resolveDependencyOrder(ids []string) []string {
	for _, id := range ids {
		if m, ok := w.Registry.Workflows[id]; ok && len(m.Dependencies) > 0 {
			fmt.Fprintf(os.Stderr, "orchestrator: workflow %q declares dependencies %v; dependency resolution is not implemented, executing in provided order\n", id, m.Dependencies)
		}
	}
	return ids
}

func (w *Worker) readSessionSummaryFallback(sessionID, workspaceHash string) (model.SessionSummary, error) {
	path := filepath.Join(w.Layout.Summaries(), fmt.Sprintf("summary_%s_%s.json", sessionID, workspaceHash))
	var summary model.SessionSummary
	if err := spool.ReadJSONValidated(path, model.RequiredSummaryFields, &summary); err != nil {
		return model.SessionSummary{}, fmt.Errorf("session summary not found at %s (bot may have already consumed it): %w", path, err)
	}
	return summary, nil
}

// executeWorkflow renders the prompt, runs claude-cli, emits progress at
// each stage, and emits a WorkflowExecution record for every run that
// gets past the workflow.started event — success, failure, template
// error, or timeout (spec §5, §4.10). A workflow id missing from the
// registry, or a failure to log workflow.started, returns an error
// without an execution record.
func (w *Worker) executeWorkflow(ctx context.Context, correlationID, workspaceHash, sessionID, workspacePath, workflowID string, tctx template.Context) error {
	start := time.Now()

	manifest, ok := w.Registry.Workflows[workflowID]
	if !ok {
		return fmt.Errorf("workflow not found in registry: %s", workflowID)
	}

	if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventWorkflowStarted, map[string]any{"workflow_id": workflowID, "workflow_name": manifest.Name}); err != nil {
		return fmt.Errorf("log workflow.started: %w", err)
	}
	w.emitProgress(workspaceHash, sessionID, workflowID, model.StatusRunning, model.StageStarting, fmt.Sprintf("Starting workflow: %s", manifest.Name))

	marker, markerErr := w.writeAntiFeedbackMarker(sessionID, workspacePath, workflowID, manifest.Name, correlationID)
	if markerErr != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: failed to create anti-feedback marker: %v\n", markerErr)
	}
	defer func() {
		if marker {
			w.removeAntiFeedbackMarker(ctx, correlationID, workspaceHash, sessionID, workflowID)
		}
	}()

	prompt, err := template.Render(manifest.PromptTemplate, tctx)
	if err != nil {
		w.emitExecution(ctx, correlationID, workspaceHash, workspacePath, sessionID, workflowID, manifest, model.StatusError, -1, "", fmt.Sprintf("template rendering failed: %v", err), time.Since(start).Seconds(), "")
		w.emitProgress(workspaceHash, sessionID, workflowID, model.StatusError, model.StageCompleted, "Template rendering failed")
		return fmt.Errorf("render template for %s: %w", workflowID, err)
	}
	w.emitProgress(workspaceHash, sessionID, workflowID, model.StatusRunning, model.StageRendering, fmt.Sprintf("Template rendered (%d chars)", len(prompt)))

	status, exitCode, stdout, stderr, headlessSessionID := w.runClaudeCLI(ctx, correlationID, workspaceHash, sessionID, workflowID, workspacePath, prompt)

	duration := time.Since(start).Seconds()
	w.emitExecution(ctx, correlationID, workspaceHash, workspacePath, sessionID, workflowID, manifest, status, exitCode, stdout, stderr, duration, headlessSessionID)

	if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventWorkflowCompleted, map[string]any{"workflow_id": workflowID, "status": status, "exit_code": exitCode, "duration_seconds": duration}); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: log workflow.completed: %v\n", err)
	}
	w.emitProgress(workspaceHash, sessionID, workflowID, status, model.StageCompleted, fmt.Sprintf("Workflow completed: %s (exit %d)", status, exitCode))

	if status != model.StatusSuccess {
		return fmt.Errorf("workflow %s finished with status %s (exit %d)", workflowID, status, exitCode)
	}
	return nil
}

// runClaudeCLI invokes claude-cli bounded by w.Timeout, killing the process
// on expiry (its own child processes are not signalled) (spec §5 "claude-cli timeout": 300s default, kill on
// expiry). Stdout is parsed as JSON afterward to recover a headless
// session id the CLI reports in --output-format json mode.
func (w *Worker) runClaudeCLI(ctx context.Context, correlationID, workspaceHash, sessionID, workflowID, workspacePath, prompt string) (status string, exitCode int, stdout, stderr, headlessSessionID string) {
	runCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, ClaudeBinary, "-p", prompt, "--output-format", "json")
	cmd.Dir = workspacePath
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Start(); err != nil {
		return model.StatusError, -1, "", fmt.Sprintf("failed to start claude-cli: %v", err), ""
	}

	if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventClaudeCLIStarted, map[string]any{"pid": cmd.Process.Pid, "workflow_id": workflowID, "timeout_seconds": int(w.Timeout.Seconds())}); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: log claude_cli.started: %v\n", err)
	}
	w.emitProgress(workspaceHash, sessionID, workflowID, model.StatusRunning, model.StageExecuting, fmt.Sprintf("Claude CLI executing (PID: %d)", cmd.Process.Pid))
	w.emitProgress(workspaceHash, sessionID, workflowID, model.StatusRunning, model.StageWaiting, fmt.Sprintf("Waiting for Claude CLI completion (timeout: %ds)", int(w.Timeout.Seconds())))

	waitErr := cmd.Wait()
	stdout, stderr = outBuf.String(), errBuf.String()

	if runCtx.Err() == context.DeadlineExceeded {
		if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventClaudeCLITimeout, map[string]any{"pid": cmd.Process.Pid, "timeout_seconds": int(w.Timeout.Seconds())}); err != nil {
			fmt.Fprintf(os.Stderr, "orchestrator: log claude_cli.timeout: %v\n", err)
		}
		if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventClaudeCLIKilled, map[string]any{"pid": cmd.Process.Pid, "reason": "timeout"}); err != nil {
			fmt.Fprintf(os.Stderr, "orchestrator: log claude_cli.killed: %v\n", err)
		}
		return model.StatusTimeout, -1, stdout, fmt.Sprintf("process exceeded %ds timeout", int(w.Timeout.Seconds())), ""
	}

	exitCode = 0
	status = model.StatusSuccess
	if waitErr != nil {
		status = model.StatusError
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderr = fmt.Sprintf("unexpected error: %v\n%s", waitErr, stderr)
		}
	}

	if stdout != "" {
		var parsed struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal([]byte(stdout), &parsed); err == nil {
			headlessSessionID = parsed.SessionID
		}
	}

	if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventClaudeCLICompleted, map[string]any{"pid": cmd.Process.Pid, "exit_code": exitCode, "status": status, "stdout_length": len(stdout), "stderr_length": len(stderr)}); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: log claude_cli.completed: %v\n", err)
	}
	return status, exitCode, stdout, stderr, headlessSessionID
}

func (w *Worker) emitProgress(workspaceHash, sessionID, workflowID, status, stage, message string) {
	if len(message) > 200 {
		message = message[:200]
	}
	snap := model.ProgressSnapshot{
		WorkspaceID:     workspaceHash,
		SessionID:       sessionID,
		WorkflowID:      workflowID,
		Status:          status,
		Stage:           stage,
		ProgressPercent: model.StagePercent[stage],
		Message:         message,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	path := filepath.Join(w.Layout.Progress(), fmt.Sprintf("%s_%s_%s.json", workspaceHash, sessionID, workflowID))
	if err := spool.WriteJSONAtomic(path, snap); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: write progress: %v\n", err)
	}
}

func (w *Worker) emitExecution(ctx context.Context, correlationID, workspaceHash, workspacePath, sessionID, workflowID string, manifest model.WorkflowManifest, status string, exitCode int, stdout, stderr string, duration float64, headlessSessionID string) {
	exec := model.WorkflowExecution{
		CorrelationID:     correlationID,
		WorkspacePath:     workspacePath,
		WorkspaceID:       workspaceHash,
		SessionID:         sessionID,
		WorkflowID:        workflowID,
		WorkflowName:      manifest.Name,
		Status:            status,
		ExitCode:          exitCode,
		DurationSeconds:   roundTenth(duration),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		Stdout:            stdout,
		Stderr:            stderr,
		HeadlessSessionID: headlessSessionID,
		Metadata: map[string]string{
			"estimated_duration": manifest.EstimatedDuration,
			"risk_level":         manifest.RiskLevel,
			"category":           manifest.Category,
			"icon":               manifest.Icon,
		},
	}
	path := filepath.Join(w.Layout.Executions(), fmt.Sprintf("execution_%s_%s_%s.json", sessionID, workspaceHash, workflowID))
	if err := spool.WriteJSONAtomic(path, exec); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: write execution result: %v\n", err)
		return
	}
	if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventExecutionCreated, map[string]any{"execution_file": filepath.Base(path), "workflow_id": workflowID, "status": status}); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: log execution.created: %v\n", err)
	}
}

func roundTenth(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}

// writeAntiFeedbackMarker creates the singleton marker file whose presence
// tells the session hook to skip emitting a new summary for the session
// named in it while a headless workflow runs (spec §4.10 "anti-feedback-loop
// marker"). Returns true if the marker was created, so the caller knows
// whether to remove it afterward.
func (w *Worker) writeAntiFeedbackMarker(sessionID, workspacePath, workflowID, workflowName, correlationID string) (bool, error) {
	marker := model.AntiFeedbackMarker{
		SessionID:       sessionID,
		WorkspacePath:   workspacePath,
		WorkflowID:      workflowID,
		WorkflowName:    workflowName,
		StartedAt:       time.Now().UTC().Format(time.RFC3339),
		OrchestratorPID: os.Getpid(),
		CorrelationID:   correlationID,
	}
	if err := spool.WriteJSONAtomic(w.Layout.AntiFeedbackMarker(), marker); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Worker) removeAntiFeedbackMarker(ctx context.Context, correlationID, workspaceHash, sessionID, workflowID string) {
	path := w.Layout.AntiFeedbackMarker()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "orchestrator: remove anti-feedback marker: %v\n", err)
		return
	}
	if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventStateFileRemoved, map[string]any{"state_file": path, "workflow_id": workflowID}); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: log state_file.removed: %v\n", err)
	}
}

// ---- v3: legacy ApprovalRecord pipeline ----

func (w *Worker) processApproval(ctx context.Context, path string) error {
	var rec model.ApprovalRecord
	if err := spool.ReadJSONValidated(path, model.RequiredApprovalFields, &rec); err != nil {
		if spool.IsGone(err) {
			return nil
		}
		return fmt.Errorf("read approval: %w", err)
	}
	defer spool.Consume(path)

	correlationID := orUnknown(rec.CorrelationID)
	workspaceHash := paths.WorkspaceHash(rec.WorkspacePath)

	if err := w.Events.Log(ctx, correlationID, workspaceHash, rec.SessionID, eventlog.ComponentOrchestrator, eventlog.EventOrchestratorStarted, map[string]any{"approval_file": filepath.Base(path), "decision": rec.Decision}); err != nil {
		return fmt.Errorf("log orchestrator.started: %w", err)
	}

	status, exitCode, stdout, stderr := model.StatusSuccess, 0, "", ""
	duration := 0.0

	switch rec.Decision {
	case "auto_fix_all":
		start := time.Now()
		marker, markerErr := w.writeAntiFeedbackMarker(rec.SessionID, rec.WorkspacePath, "", "", correlationID)
		if markerErr != nil {
			fmt.Fprintf(os.Stderr, "orchestrator: failed to create anti-feedback marker: %v\n", markerErr)
		}

		prompt := legacyAutoFixPrompt(rec.SessionID)
		s, code, out, errText, _ := w.runClaudeCLILegacy(ctx, correlationID, workspaceHash, rec.SessionID, rec.WorkspacePath, prompt)
		status, exitCode, stdout, stderr = s, code, out, errText
		duration = time.Since(start).Seconds()

		if marker {
			if err := os.Remove(w.Layout.AntiFeedbackMarker()); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "orchestrator: remove anti-feedback marker: %v\n", err)
			}
		}
	case "reject":
		fmt.Fprintf(os.Stdout, "rejected: %s in %s\n", rec.SessionID, rec.WorkspacePath)
	default:
		fmt.Fprintf(os.Stderr, "orchestrator: unknown decision %q\n", rec.Decision)
	}

	if err := w.Events.Log(ctx, correlationID, workspaceHash, rec.SessionID, eventlog.ComponentOrchestrator, eventlog.EventOrchestratorDone, map[string]any{"decision": rec.Decision}); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: log orchestrator.completed: %v\n", err)
	}

	if rec.Decision == "auto_fix_all" {
		return w.emitCompletion(ctx, correlationID, workspaceHash, rec.WorkspacePath, rec.SessionID, status, exitCode, stdout, stderr, duration)
	}
	return nil
}

// legacyAutoFixPrompt reconstructs the fixed v3 prompt text, grounded on
// ApprovalOrchestrator._invoke_claude_cli's literal prompt string.
func legacyAutoFixPrompt(sessionID string) string {
	return fmt.Sprintf(`Fix broken links detected by Lychee link validator.

Session: %s

Instructions:
- Read .lychee-results.txt (in workspace root) for list of broken links
- Use Edit tool to fix broken links with high confidence
- Focus on fragment links and typos
- Report all changes made
`, sessionID)
}

// runClaudeCLILegacy is runClaudeCLI without the workflow-id-keyed progress
// events the v4 path emits (the legacy approval flow predates per-workflow
// progress tracking).
func (w *Worker) runClaudeCLILegacy(ctx context.Context, correlationID, workspaceHash, sessionID, workspacePath, prompt string) (status string, exitCode int, stdout, stderr, headlessSessionID string) {
	runCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, ClaudeBinary, "-p", prompt, "--output-format", "json")
	cmd.Dir = workspacePath
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Start(); err != nil {
		return model.StatusError, -1, "", fmt.Sprintf("failed to start claude-cli: %v", err), ""
	}
	if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventClaudeCLIStarted, map[string]any{"pid": cmd.Process.Pid, "timeout_seconds": int(w.Timeout.Seconds())}); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: log claude_cli.started: %v\n", err)
	}

	waitErr := cmd.Wait()
	stdout, stderr = outBuf.String(), errBuf.String()

	if runCtx.Err() == context.DeadlineExceeded {
		if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventClaudeCLITimeout, map[string]any{"pid": cmd.Process.Pid, "timeout_seconds": int(w.Timeout.Seconds())}); err != nil {
			fmt.Fprintf(os.Stderr, "orchestrator: log claude_cli.timeout: %v\n", err)
		}
		return model.StatusTimeout, -1, stdout, fmt.Sprintf("process exceeded %ds timeout", int(w.Timeout.Seconds())), ""
	}

	exitCode = 0
	status = model.StatusSuccess
	if waitErr != nil {
		status = model.StatusError
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	if err := w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, eventlog.EventClaudeCLICompleted, map[string]any{"pid": cmd.Process.Pid, "exit_code": exitCode, "status": status}); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: log claude_cli.completed: %v\n", err)
	}
	return status, exitCode, stdout, stderr, headlessSessionID
}

// emitCompletion writes the legacy v3 CompletionNotification, deriving its
// one-line summary the way _emit_completion does: parse stdout as JSON and
// take the first non-heading line of its "result" field on success, the
// first line of stderr on error, a fixed string on timeout.
func (w *Worker) emitCompletion(ctx context.Context, correlationID, workspaceHash, workspacePath, sessionID, status string, exitCode int, stdout, stderr string, duration float64) error {
	summary := extractLegacySummary(status, exitCode, stdout, stderr)

	completion := model.CompletionNotification{
		WorkspaceID:     workspaceHash,
		WorkspacePath:   workspacePath,
		SessionID:       sessionID,
		Status:          status,
		ExitCode:        exitCode,
		DurationSeconds: roundTenth(duration),
		Summary:         summary,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	path := filepath.Join(w.Layout.Completions(), fmt.Sprintf("completion_%s_%s.json", sessionID, workspaceHash))
	if err := spool.WriteJSONAtomic(path, completion); err != nil {
		return fmt.Errorf("write completion: %w", err)
	}
	return w.Events.Log(ctx, correlationID, workspaceHash, sessionID, eventlog.ComponentOrchestrator, "completion.emitted", map[string]any{"completion_file": filepath.Base(path), "status": status, "exit_code": exitCode})
}

func extractLegacySummary(status string, exitCode int, stdout, stderr string) string {
	switch status {
	case model.StatusSuccess:
		if stdout == "" {
			return "No output"
		}
		var parsed struct {
			Result  string `json:"result"`
			Subtype string `json:"subtype"`
			Type    string `json:"type"`
		}
		if err := json.Unmarshal([]byte(stdout), &parsed); err == nil {
			if parsed.Result != "" {
				for _, line := range strings.Split(parsed.Result, "\n") {
					line = strings.TrimSpace(line)
					if line != "" && !strings.HasPrefix(line, "#") {
						return truncate(line, 200)
					}
				}
			}
			if parsed.Subtype != "" {
				return fmt.Sprintf("%s: %s", orDefault(parsed.Type, "result"), parsed.Subtype)
			}
			if parsed.Type != "" {
				return parsed.Type
			}
		}
		for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "{") && !strings.HasPrefix(line, "[") {
				return truncate(line, 200)
			}
		}
		return "No output"
	case model.StatusTimeout:
		return "Claude CLI exceeded 5-minute timeout"
	default:
		if stderr != "" {
			first := strings.SplitN(stderr, "\n", 2)[0]
			return truncate(first, 200)
		}
		return fmt.Sprintf("Process failed with exit code %d", exitCode)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
