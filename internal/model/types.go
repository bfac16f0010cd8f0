// Package model defines the wire records exchanged through the spool
// directories (spec §3). Every type here is a JSON document written
// atomically by one component and read by another; field names are the
// wire contract and must not be renamed casually.
package model

// WorkspaceEntry is one value in the hand-edited WorkspaceRegistry.
type WorkspaceEntry struct {
	Path  string `json:"path"`
	Emoji string `json:"emoji"`
	Name  string `json:"name"`
}

// WorkspaceRegistry maps workspace_id to display metadata. It is read-only
// and may not cover all observed paths.
type WorkspaceRegistry struct {
	Version   int                       `json:"version"`
	Workspaces map[string]WorkspaceEntry `json:"workspaces"`
}

// Triggers names the three mutually-prioritized activation conditions for a
// WorkflowManifest. Exactly one is honored, in the order
// lychee_errors > git_modified > always.
type Triggers struct {
	LycheeErrors *bool `json:"lychee_errors,omitempty" yaml:"lychee_errors,omitempty"`
	GitModified  *bool `json:"git_modified,omitempty" yaml:"git_modified,omitempty"`
	Always       *bool `json:"always,omitempty"`
}

// WorkflowManifest is one entry in the WorkflowRegistry.
type WorkflowManifest struct {
	Name             string   `json:"name"`
	Icon             string   `json:"icon"`
	Category         string   `json:"category"`
	RiskLevel        string   `json:"risk_level" yaml:"risk_level"`
	EstimatedDuration string  `json:"estimated_duration" yaml:"estimated_duration"`
	Triggers         Triggers `json:"triggers"`
	PromptTemplate   string   `json:"prompt_template" yaml:"prompt_template"`
	// Dependencies is carried for forward compatibility but is never
	// consulted to reorder execution (spec §4.10, §9 open question).
	Dependencies []string `json:"dependencies,omitempty"`
}

// WorkflowRegistry is the hand-edited catalog of available workflows.
type WorkflowRegistry struct {
	Version   int                         `json:"version"`
	Workflows map[string]WorkflowManifest `json:"workflows"`
}

// GitStatus is the git-derived portion of a SessionSummary.
type GitStatus struct {
	Branch         string   `json:"branch"`
	ModifiedFiles  int      `json:"modified_files"`
	StagedFiles    int      `json:"staged_files"`
	UntrackedFiles int      `json:"untracked_files"`
	Porcelain      []string `json:"porcelain"`
}

// LycheeStatus is the link-validator-derived portion of a SessionSummary.
type LycheeStatus struct {
	ErrorCount int    `json:"error_count"`
	Details    string `json:"details"`
}

// SessionSummary is emitted by the external session hook when a session
// quiesces. Required fields are validated on read (spec §3, §7); a summary
// missing one is rejected in place, not dropped.
type SessionSummary struct {
	CorrelationID    string       `json:"correlation_id"`
	WorkspacePath    string       `json:"workspace_path"`
	WorkspaceID      string       `json:"workspace_id"`
	SessionID        string       `json:"session_id"`
	Timestamp        string       `json:"timestamp"`
	DurationSeconds  float64      `json:"duration_seconds"`
	RepositoryRoot   string       `json:"repository_root"`
	WorkingDirectory string       `json:"working_directory"`
	GitStatus        GitStatus    `json:"git_status"`
	LycheeStatus     LycheeStatus `json:"lychee_status"`
	LastUserPrompt   string       `json:"last_user_prompt,omitempty"`
	LastResponse     string       `json:"last_response,omitempty"`
}

// RequiredSummaryFields lists the fields file_validators.validate_summary_file
// treats as mandatory; used by internal/spool for reject-in-place validation.
var RequiredSummaryFields = []string{
	"correlation_id", "workspace_path", "workspace_id", "session_id",
	"timestamp", "duration_seconds", "git_status", "lychee_status",
}

// CallbackToken is the context a short inline-button payload points at.
type CallbackToken struct {
	WorkspaceID   string `json:"workspace_id"`
	WorkspacePath string `json:"workspace_path"`
	SessionID     string `json:"session_id"`
	Action        string `json:"action"`
	CorrelationID string `json:"correlation_id"`
	Timestamp     string `json:"timestamp"`
}

// Known CallbackToken.Action values.
const (
	ActionAutoFixAll     = "auto_fix_all"
	ActionReject         = "reject"
	ActionViewDetails    = "view_details"
	ActionCustomPrompt   = "custom_prompt"
	WorkflowActionPrefix = "workflow_"
)

// WorkflowSelection is written by Bus and consumed by Worker. summary_data
// is embedded so the Worker does not depend on the summary file surviving.
type WorkflowSelection struct {
	WorkspacePath string            `json:"workspace_path"`
	WorkspaceID   string            `json:"workspace_id"`
	SessionID     string            `json:"session_id"`
	Workflows     []string          `json:"workflows"`
	CorrelationID string            `json:"correlation_id"`
	Timestamp     string            `json:"timestamp"`
	SummaryData   SessionSummary    `json:"summary_data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TrackingRecord links a live workflow instance to the chat message it
// edits. Durable: one file per live workflow, swept at 30 minutes.
type TrackingRecord struct {
	MessageID        string `json:"message_id"`
	WorkspaceID      string `json:"workspace_id"`
	RepositoryRoot   string `json:"repository_root"`
	WorkingDirectory string `json:"working_directory"`
	GitBranch        string `json:"git_branch"`
	GitModified      int    `json:"git_modified"`
	GitStaged        int    `json:"git_staged"`
	GitUntracked     int    `json:"git_untracked"`
	WorkflowName     string `json:"workflow_name"`
	SessionID        string `json:"session_id"`
	UserPrompt       string `json:"user_prompt"`
	LastResponse     string `json:"last_response"`
}

// Progress stage names, in their total order (spec §4.10, §5).
const (
	StageStarting  = "starting"
	StageRendering = "rendering"
	StageExecuting = "executing"
	StageWaiting   = "waiting"
	StageCompleted = "completed"
)

// Canonical percent-complete per stage (spec §4.10).
var StagePercent = map[string]int{
	StageStarting:  0,
	StageRendering: 25,
	StageExecuting: 50,
	StageWaiting:   75,
	StageCompleted: 100,
}

// Progress/execution status values.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// ProgressSnapshot is overwritten in place at each Worker state transition
// and deleted by Bus once stage == completed.
type ProgressSnapshot struct {
	WorkspaceID     string `json:"workspace_id"`
	SessionID       string `json:"session_id"`
	WorkflowID      string `json:"workflow_id"`
	Status          string `json:"status"`
	Stage           string `json:"stage"`
	ProgressPercent int    `json:"progress_percent"`
	Message         string `json:"message"`
	Timestamp       string `json:"timestamp"`
}

// WorkflowExecution is written exactly once per workflow invocation.
type WorkflowExecution struct {
	CorrelationID     string            `json:"correlation_id"`
	WorkspaceID       string            `json:"workspace_id"`
	WorkspacePath     string            `json:"workspace_path,omitempty"`
	SessionID         string            `json:"session_id"`
	WorkflowID        string            `json:"workflow_id"`
	WorkflowName      string            `json:"workflow_name"`
	Status            string            `json:"status"`
	ExitCode          int               `json:"exit_code"`
	DurationSeconds   float64           `json:"duration_seconds"`
	Timestamp         string            `json:"timestamp"`
	Stdout            string            `json:"stdout"`
	Stderr            string            `json:"stderr"`
	HeadlessSessionID string            `json:"headless_session_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// RequiredExecutionFields mirrors file_validators.validate_execution_file.
var RequiredExecutionFields = []string{
	"correlation_id", "workspace_id", "session_id", "workflow_id",
	"workflow_name", "status", "exit_code", "duration_seconds", "timestamp",
}

// NotificationRequest is the legacy v3 link-validation notification that
// drives the auto_fix_all/reject/view_details keyboard (spec "Legacy v3
// paths"), grounded on notification_sender's request schema.
type NotificationRequest struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	WorkspacePath string `json:"workspace_path"`
	WorkspaceHash string `json:"workspace_hash,omitempty"`
	SessionID     string `json:"session_id"`
	ErrorCount    int    `json:"error_count"`
	Details       string `json:"details"`
	ErrorDetails  string `json:"error_details,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// RequiredNotificationFields mirrors validate_notification_file.
var RequiredNotificationFields = []string{
	"workspace_path", "session_id", "error_count", "details", "timestamp",
}

// CompletionNotification is the legacy v3 orchestrator-completion record
// (pre-tracking-message, status-only notification), distinct from the v4
// WorkflowExecution that a tracked message is updated from.
type CompletionNotification struct {
	WorkspaceID     string  `json:"workspace_id"`
	WorkspacePath   string  `json:"workspace_path,omitempty"`
	SessionID       string  `json:"session_id"`
	Status          string  `json:"status"`
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
	Summary         string  `json:"summary"`
	Timestamp       string  `json:"timestamp"`
}

// RequiredCompletionFields mirrors validate_completion_file.
var RequiredCompletionFields = []string{
	"workspace_id", "session_id", "status", "exit_code",
	"duration_seconds", "summary", "timestamp",
}

// ApprovalRecord is the legacy v3 selection file (approvals/approval_*.json):
// a binary auto_fix_all/reject decision, as opposed to v4's named-workflow
// WorkflowSelection. Grounded on ApprovalOrchestrator._read_approval.
type ApprovalRecord struct {
	WorkspacePath string `json:"workspace_path"`
	SessionID     string `json:"session_id"`
	Decision      string `json:"decision"`
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// RequiredApprovalFields mirrors _read_approval's required set.
var RequiredApprovalFields = []string{
	"workspace_path", "session_id", "decision", "timestamp",
}

// AntiFeedbackMarker is the singleton file whose presence suppresses new
// summary emissions while a workflow runs against the named session.
type AntiFeedbackMarker struct {
	SessionID     string `json:"session_id"`
	WorkspacePath string `json:"workspace_path"`
	WorkflowID    string `json:"workflow_id"`
	WorkflowName  string `json:"workflow_name"`
	StartedAt     string `json:"started_at"`
	OrchestratorPID int  `json:"orchestrator_pid"`
	CorrelationID string `json:"correlation_id"`
}
