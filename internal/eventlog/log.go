// Package eventlog is the append-only structured event store (spec §4.11),
// grounded on event_logger.log_event: a SQLite session_events table keyed
// by (correlation_id, workspace_id, session_id, component, event_type,
// timestamp, metadata). Every append failure propagates to the caller
// (fail-fast, never silently dropped). Each successful append also starts
// and ends one OpenTelemetry span tagged with correlation_id, on the global
// tracer provider; this module installs no provider or exporter itself, so
// the spans go wherever the embedding process's global provider sends them.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Valid component names, matching log_event's valid_components set.
const (
	ComponentHook         = "hook"
	ComponentBot          = "bot"
	ComponentOrchestrator = "orchestrator"
	ComponentClaudeCLI    = "claude-cli"
)

var validComponents = map[string]bool{
	ComponentHook: true, ComponentBot: true,
	ComponentOrchestrator: true, ComponentClaudeCLI: true,
}

// Hierarchical event type names used across the system (spec §4.11).
const (
	EventBotStarted           = "bot.started"
	EventSummaryReceived      = "summary.received"
	EventSummaryProcessed     = "summary.processed"
	EventSelectionCreated     = "selection.created"
	EventOrchestratorStarted  = "orchestrator.started"
	EventWorkflowStarted      = "workflow.started"
	EventClaudeCLIStarted     = "claude_cli.started"
	EventClaudeCLIHeartbeat   = "claude_cli.heartbeat"
	EventClaudeCLICompleted   = "claude_cli.completed"
	EventClaudeCLITimeout     = "claude_cli.timeout"
	EventClaudeCLIKilled      = "claude_cli.killed"
	EventExecutionCreated     = "execution.created"
	EventOrchestratorDone     = "orchestrator.completed"
	EventOrchestratorFailed   = "orchestrator.failed"
	EventBotShutdown          = "bot.shutdown"
	EventStateFileCreated     = "state_file.created"
	EventStateFileRemoved     = "state_file.removed"
	EventWorkflowCompleted    = "workflow.completed"
)

// ErrCorrelationIDMissing matches log_event's CorrelationIDMissing.
var ErrCorrelationIDMissing = fmt.Errorf("eventlog: correlation_id is required")

// Logger appends events to a SQLite-backed store and mirrors each stored
// event as an OTel span.
type Logger struct {
	db     *sql.DB
	tracer trace.Tracer
}

// Open opens (creating if needed) the events.db at path and ensures the
// session_events table exists.
func Open(path string) (*Logger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: connect to %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	component TEXT NOT NULL,
	event_type TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_session_events_correlation ON session_events(correlation_id);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: create schema: %w", err)
	}
	return &Logger{db: db, tracer: otel.Tracer("quiescebus/eventlog")}, nil
}

// Close releases the underlying database handle.
func (l *Logger) Close() error {
	return l.db.Close()
}

// Log appends one event. It fails fast on a missing correlation_id or an
// unrecognized component, and propagates any database error — callers must
// not swallow the returned error (spec §4.11, §7).
func (l *Logger) Log(ctx context.Context, correlationID, workspaceID, sessionID, component, eventType string, metadata map[string]any) error {
	if correlationID == "" {
		return ErrCorrelationIDMissing
	}
	if !validComponents[component] {
		return fmt.Errorf("eventlog: invalid component %q", component)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	var metadataJSON sql.NullString
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("eventlog: encode metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO session_events
		(correlation_id, workspace_id, session_id, component, event_type, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, correlationID, workspaceID, sessionID, component, eventType, timestamp, metadataJSON)
	if err != nil {
		return fmt.Errorf("eventlog: insert event: %w", err)
	}

	_, span := l.tracer.Start(ctx, eventType, trace.WithAttributes(
		attribute.String("correlation_id", correlationID),
		attribute.String("workspace_id", workspaceID),
		attribute.String("session_id", sessionID),
		attribute.String("component", component),
	))
	span.End()

	return nil
}
