package bus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/registry"
	"github.com/arborist-dev/quiescebus/internal/transport"
)

// Message builders. All of these produce markdown-ish text meant to be
// passed through transport.Dialect.Render before being sent — grounded on
// message_builders.py/handler_classes.py/bot_services.py's hand-assembled
// f-strings, kept as plain string concatenation the same way.

func formatGitStatusCompact(modified, staged, untracked int) string {
	return fmt.Sprintf("M:%d S:%d U:%d", modified, staged, untracked)
}

// formatRepoDisplay replaces the user's home directory with ~, matching
// format_utils.format_repo_display.
func formatRepoDisplay(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return strings.Replace(path, home, "~", 1)
}

func porcelainBlock(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	display := lines
	suffix := ""
	if len(display) > 10 {
		suffix = fmt.Sprintf("\n... and %d more", len(display)-10)
		display = display[:10]
	}
	return "\n```\n" + strings.Join(display, "\n") + suffix + "\n```"
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// workflowMenuKeyboard builds the per-button keyboard for the menu message:
// two workflow buttons per row, a trailing single-row custom-prompt button.
// Grounded on keyboard_builders.build_workflow_keyboard.
func workflowMenuKeyboard(tokens []string, workflows []registry.FilteredWorkflow, customPromptToken string) transport.Keyboard {
	var kb transport.Keyboard
	for i := 0; i < len(workflows); i += 2 {
		var row []transport.Button
		for j := i; j < i+2 && j < len(workflows); j++ {
			row = append(row, transport.Button{
				Label: workflows[j].Manifest.Icon + " " + workflows[j].Manifest.Name,
				Data:  tokens[j],
			})
		}
		kb.Rows = append(kb.Rows, row)
	}
	kb.Rows = append(kb.Rows, []transport.Button{{Label: "✏️ Custom Prompt", Data: customPromptToken}})
	return kb
}

// notificationKeyboard is the legacy v3 keyboard: Auto-Fix All / Reject on
// one row, View Details on its own row below (spec "Legacy v3 paths").
func notificationKeyboard(autoFixToken, rejectToken, viewDetailsToken string) transport.Keyboard {
	return transport.Keyboard{Rows: [][]transport.Button{
		{{Label: "✅ Auto-Fix All", Data: autoFixToken}, {Label: "❌ Reject", Data: rejectToken}},
		{{Label: "📋 View Details", Data: viewDetailsToken}},
	}}
}

// renderMenuMessage builds the v4 workflow menu text, grounded on
// SummaryHandler.send_workflow_menu.
func renderMenuMessage(summary model.SessionSummary, emoji string, userPrompt, lastResponse string, workflows []registry.FilteredWorkflow) string {
	repoDisplay := formatRepoDisplay(summary.RepositoryRoot)
	gitCompact := formatGitStatusCompact(summary.GitStatus.ModifiedFiles, summary.GitStatus.StagedFiles, summary.GitStatus.UntrackedFiles)
	porcelain := porcelainBlock(summary.GitStatus.Porcelain)

	var promptLine string
	if userPrompt != "" {
		promptLine = "❓ " + strings.TrimSpace(strings.ReplaceAll(userPrompt, "\n", " ")) + "\n"
	}

	lycheeDetails := summary.LycheeStatus.Details
	if lycheeDetails == "" {
		lycheeDetails = "Not run"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s %s\n\n", promptLine, emoji, lastResponse)
	fmt.Fprintf(&b, "`%s` | `%s`\n", repoDisplay, summary.WorkingDirectory)
	fmt.Fprintf(&b, "`session=%s`\n", summary.SessionID)
	fmt.Fprintf(&b, "`debug=~/.claude/debug/${session}.txt` (%vs)\n", summary.DurationSeconds)
	fmt.Fprintf(&b, "**↯**: `%s` | %s%s\n\n", summary.GitStatus.Branch, gitCompact, porcelain)
	fmt.Fprintf(&b, "**Lychee**: %s\n\n", lycheeDetails)
	fmt.Fprintf(&b, "**Available Workflows** (%d):\n", len(workflows))
	return b.String()
}

// renderWorkflowStartMessage is the initial tracking message, grounded on
// message_builders.build_workflow_start_message.
func renderWorkflowStartMessage(emoji, workflowName, sessionID string, summary model.SessionSummary, userPrompt, lastResponse string) string {
	repoDisplay := formatRepoDisplay(summary.RepositoryRoot)
	gitCompact := formatGitStatusCompact(summary.GitStatus.ModifiedFiles, summary.GitStatus.StagedFiles, summary.GitStatus.UntrackedFiles)
	porcelain := porcelainBlock(summary.GitStatus.Porcelain)

	userPrompt = truncate(userPrompt, 100)
	if lastResponse == "" {
		lastResponse = "Session completed"
	}
	lastResponse = truncate(lastResponse, 100)

	lycheeDetails := summary.LycheeStatus.Details
	if lycheeDetails == "" {
		lycheeDetails = "Not run"
	}

	var promptLine string
	if userPrompt != "" {
		promptLine = "❓ _" + userPrompt + "_\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s **%s**\n\n", promptLine, emoji, lastResponse)
	fmt.Fprintf(&b, "`%s` | `%s`\n", repoDisplay, summary.WorkingDirectory)
	fmt.Fprintf(&b, "`session=%s | 🐛 debug=~/.claude/debug/${session}.txt` (%vs)\n", sessionID, summary.DurationSeconds)
	fmt.Fprintf(&b, "**↯**: `%s` | %s%s\n\n", summary.GitStatus.Branch, gitCompact, porcelain)
	fmt.Fprintf(&b, "**Lychee**: %s\n\n", lycheeDetails)
	fmt.Fprintf(&b, "⏳ **Workflow: %s**\n", workflowName)
	fmt.Fprintf(&b, "**Stage**: starting | **Progress**: 0%%\n")
	fmt.Fprintf(&b, "**Status**: Starting...")
	return b.String()
}

// renderProgressMessage builds the single-message progress edit, grounded
// on bot_services.progress_poller.
func renderProgressMessage(rec model.TrackingRecord, snap model.ProgressSnapshot) string {
	stageEmoji := map[string]string{
		"starting": "🎬", "rendering": "📝", "executing": "⚙️", "waiting": "⏳",
	}
	emoji, ok := stageEmoji[snap.Stage]
	if !ok {
		if snap.Stage == model.StageCompleted {
			if snap.Status == model.StatusSuccess {
				emoji = "✅"
			} else {
				emoji = "❌"
			}
		} else {
			emoji = "📊"
		}
	}

	repoDisplay := formatRepoDisplay(rec.RepositoryRoot)
	gitCompact := formatGitStatusCompact(rec.GitModified, rec.GitStaged, rec.GitUntracked)

	var b strings.Builder
	fmt.Fprintf(&b, "%s **Workflow: %s**\n\n", emoji, rec.WorkflowName)
	fmt.Fprintf(&b, "**Repository**: `%s`\n", repoDisplay)
	fmt.Fprintf(&b, "**Directory**: `%s`\n", rec.WorkingDirectory)
	fmt.Fprintf(&b, "**Branch**: `%s`\n", rec.GitBranch)
	fmt.Fprintf(&b, "**↯**: %s\n\n", gitCompact)
	fmt.Fprintf(&b, "`session=%s | 🐛 debug=~/.claude/debug/${session}.txt`\n", rec.SessionID)
	fmt.Fprintf(&b, "**Stage**: %s\n", snap.Stage)
	fmt.Fprintf(&b, "**Progress**: %d%%\n", snap.ProgressPercent)
	fmt.Fprintf(&b, "**Status**: %s", snap.Message)
	return b.String()
}

func statusEmojiAndTitle(status string) (emoji, title string) {
	switch status {
	case model.StatusSuccess:
		return "✅", "Completed"
	case model.StatusError:
		return "❌", "Failed"
	case model.StatusTimeout:
		return "⏱️", "Timeout"
	default:
		return "❓", "Unknown"
	}
}

// extractSummaryLine pulls the first non-empty stdout line (or its JSON
// "result" field, if stdout parses as a {"result": "..."} document) as a
// one-line summary, grounded on the identical extraction repeated in
// build_completion_message/build_execution_message/send_execution_completion.
func extractSummaryLine(stdout string, maxLen int) string {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return "Workflow completed"
	}
	content := stdout
	var parsed struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal([]byte(stdout), &parsed); err == nil && parsed.Result != "" {
		content = parsed.Result
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return truncate(line, maxLen)
		}
	}
	return "Workflow completed"
}

// renderExecutionMessage builds the final tracked-message text once a
// workflow execution completes, grounded on
// WorkflowExecutionHandler.send_execution_completion's "tracked" branch.
func renderExecutionMessage(rec model.TrackingRecord, exec model.WorkflowExecution) string {
	statusEmoji, _ := statusEmojiAndTitle(exec.Status)
	summary := "Workflow completed"
	if exec.Status == model.StatusSuccess {
		summary = extractSummaryLine(exec.Stdout, 100)
	}

	repoDisplay := formatRepoDisplay(rec.RepositoryRoot)
	gitCompact := formatGitStatusCompact(rec.GitModified, rec.GitStaged, rec.GitUntracked)

	var original string
	if rec.UserPrompt != "" && rec.LastResponse != "" {
		original = "❓ " + strings.ReplaceAll(rec.UserPrompt, "\n", " ") + "\n" + rec.LastResponse + "\n\n"
	}

	debugLines := fmt.Sprintf("`session=%s`\n`debug=~/.claude/debug/${session}.txt`", rec.SessionID)
	if exec.HeadlessSessionID != "" {
		debugLines = fmt.Sprintf("`session=%s`\n`headless=%s`\n`debug=~/.claude/debug/${session}.txt`", rec.SessionID, exec.HeadlessSessionID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s **Workflow: %s**\n\n", original, statusEmoji, rec.WorkflowName)
	fmt.Fprintf(&b, "**Repository**: `%s`\n", repoDisplay)
	fmt.Fprintf(&b, "**Directory**: `%s`\n", rec.WorkingDirectory)
	fmt.Fprintf(&b, "**Branch**: `%s`\n", rec.GitBranch)
	fmt.Fprintf(&b, "**↯**: %s\n\n", gitCompact)
	fmt.Fprintf(&b, "%s\n", debugLines)
	fmt.Fprintf(&b, "**Status**: %s\n", exec.Status)
	fmt.Fprintf(&b, "**Duration**: %vs\n", exec.DurationSeconds)
	fmt.Fprintf(&b, "**Output**: %s", summary)
	return b.String()
}

// renderFallbackExecutionMessage is sent as a new message (rather than an
// edit) when no tracking survived for an execution, grounded on the "no
// active progress tracking" branch of send_execution_completion.
func renderFallbackExecutionMessage(exec model.WorkflowExecution) string {
	statusEmoji, _ := statusEmojiAndTitle(exec.Status)
	summary := "Workflow completed"
	if exec.Status == model.StatusSuccess {
		summary = extractSummaryLine(exec.Stdout, 100)
	}

	debugLines := fmt.Sprintf("`session=%s`\n`debug=~/.claude/debug/${session}.txt`", exec.SessionID)
	if exec.HeadlessSessionID != "" {
		debugLines = fmt.Sprintf("`session=%s`\n`headless=%s`\n`debug=~/.claude/debug/${session}.txt`", exec.SessionID, exec.HeadlessSessionID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📨 **Workflow Completed** (recovered execution)\n\n")
	fmt.Fprintf(&b, "%s **Workflow**: %s\n", statusEmoji, exec.WorkflowID)
	fmt.Fprintf(&b, "**Workspace**: `%s`\n", exec.WorkspaceID)
	fmt.Fprintf(&b, "%s\n", debugLines)
	fmt.Fprintf(&b, "**Status**: %s\n", exec.Status)
	fmt.Fprintf(&b, "**Duration**: %vs\n", exec.DurationSeconds)
	fmt.Fprintf(&b, "**Output**: %s\n\n", summary)
	fmt.Fprintf(&b, "ℹ️ _Progress tracking was lost (bot restart or crash). This is a fallback notification._")
	return b.String()
}

// renderNotificationMessage is the legacy v3 link-validation notification,
// grounded on NotificationHandler.send_notification.
func renderNotificationMessage(req model.NotificationRequest, emoji, wsName string) string {
	var filesSection string
	if req.ErrorDetails != "" {
		var lines []string
		for _, line := range strings.Split(strings.TrimSpace(req.ErrorDetails), "\n") {
			if idx := strings.Index(line, ":"); idx >= 0 {
				path := strings.TrimPrefix(strings.TrimPrefix(line[:idx], req.WorkspacePath), "/")
				lines = append(lines, fmt.Sprintf("• %s (%s errors)", path, strings.TrimSpace(line[idx+1:])))
			}
		}
		if len(lines) > 0 {
			filesSection = "\n\nFiles affected:\n" + strings.Join(lines, "\n")
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s **Link Validation** - %s\n\n", emoji, wsName)
	fmt.Fprintf(&b, "**Workspace**: `%s`\n", req.WorkspacePath)
	fmt.Fprintf(&b, "`session=%s`\n", req.SessionID)
	fmt.Fprintf(&b, "`debug=~/.claude/debug/${session}.txt`\n\n")
	fmt.Fprintf(&b, "%s%s\n\n", req.Details, filesSection)
	fmt.Fprintf(&b, "Choose action:")
	return b.String()
}

// renderCompletionMessage is the legacy v3 status-only completion notice,
// grounded on message_builders.build_completion_message.
func renderCompletionMessage(c model.CompletionNotification, emoji string) string {
	statusEmoji, title, statusLine := completionStatusLine(c.Status, c.DurationSeconds, c.ExitCode)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s **%s**\n\n", emoji, statusEmoji, title)
	fmt.Fprintf(&b, "**Workspace**: `%s`\n", c.WorkspaceID)
	fmt.Fprintf(&b, "`session=%s | 🐛 debug=~/.claude/debug/${session}.txt`\n", c.SessionID)
	fmt.Fprintf(&b, "%s\n\n", statusLine)
	fmt.Fprintf(&b, "**Summary**:\n%s\n", c.Summary)
	return b.String()
}

func completionStatusLine(status string, duration float64, exitCode int) (emoji, title, line string) {
	switch status {
	case model.StatusSuccess:
		return "✅", "Auto-Fix Completed", fmt.Sprintf("**Duration**: %vs", duration)
	case model.StatusError:
		return "❌", "Auto-Fix Failed", fmt.Sprintf("**Duration**: %vs | **Exit Code**: %d", duration, exitCode)
	case model.StatusTimeout:
		return "⏱️", "Auto-Fix Timeout", fmt.Sprintf("**Duration**: %vs (limit reached)", duration)
	default:
		return "⚠️", "Unknown Status", "**Status**: " + status
	}
}

// renderExpiredMessage replies to a callback whose token has expired,
// grounded on the spec's "expired token" S6 scenario.
func renderExpiredMessage() string {
	return "⌛ This menu has expired. The workflow decision window has closed; the session has likely already moved on."
}

// renderCustomPromptStub is the static reply to a custom_prompt press
// (spec §9 open question: "custom_prompt not implemented"), grounded on
// handlers.handle_workflow_selection's early-return stub.
func renderCustomPromptStub() string {
	return "✏️ Custom Prompt\n\nFree-form prompt input will be available in a future phase. Choose one of the listed workflows instead."
}

