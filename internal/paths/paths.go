// Package paths centralizes the on-disk state layout (spec §6) and the
// workspace identity hash shared by every producer and consumer.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

// Layout is the root of the state tree described in spec §6. All spool
// directories, the registries, the PID file, and the event store live under
// it.
type Layout struct {
	Root string
}

// NewLayout resolves root to an absolute path and returns a Layout rooted
// there. Callers are responsible for calling EnsureAll before first use.
func NewLayout(root string) (Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, err
	}
	return Layout{Root: abs}, nil
}

func (l Layout) WorkspaceRegistry() string { return filepath.Join(l.Root, "registry.json") }
func (l Layout) WorkflowRegistry() string  { return filepath.Join(l.Root, "workflows.json") }
func (l Layout) PIDFile() string           { return filepath.Join(l.Root, "bot.pid") }
func (l Layout) EventsDB() string          { return filepath.Join(l.Root, "events.db") }
func (l Layout) AntiFeedbackMarker() string {
	return filepath.Join(l.Root, "autofix-in-progress.json")
}

func (l Layout) Notifications() string { return filepath.Join(l.Root, "notifications") }
func (l Layout) Approvals() string     { return filepath.Join(l.Root, "approvals") }
func (l Layout) Completions() string   { return filepath.Join(l.Root, "completions") }
func (l Layout) Summaries() string     { return filepath.Join(l.Root, "summaries") }
func (l Layout) Selections() string    { return filepath.Join(l.Root, "selections") }
func (l Layout) Executions() string    { return filepath.Join(l.Root, "executions") }
func (l Layout) Progress() string      { return filepath.Join(l.Root, "progress") }
func (l Layout) Tracking() string      { return filepath.Join(l.Root, "tracking") }
func (l Layout) Dedup() string         { return filepath.Join(l.Root, "dedup") }
func (l Layout) Callbacks() string     { return filepath.Join(l.Root, "callbacks") }

// Dirs lists every spool directory that must exist before the Bus or Worker
// can run.
func (l Layout) Dirs() []string {
	return []string{
		l.Notifications(), l.Approvals(), l.Completions(),
		l.Summaries(), l.Selections(), l.Executions(),
		l.Progress(), l.Tracking(), l.Dedup(), l.Callbacks(),
	}
}

// EnsureAll creates every spool directory, idempotently.
func (l Layout) EnsureAll() error {
	for _, d := range l.Dirs() {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// WorkspaceHash is first8hex(sha256(absolute_path)): the canonical
// workspace_id used in every wire record except the hand-edited registry.
func WorkspaceHash(workspacePath string) string {
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		abs = workspacePath
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:4])
}
