// Package registry loads the workspace and workflow registries and filters
// workflows against a session summary (spec §3, §4.4). LoadWorkflowRegistry
// also accepts a whole .yaml/.yml registry document, after the teacher's
// core/internal/workflow/service.go YAML convention, but the registry is
// stored and exchanged on disk as the JSON WorkflowRegistry document.
package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arborist-dev/quiescebus/internal/model"
	"gopkg.in/yaml.v3"
)

// LoadWorkspaceRegistry reads the hand-edited workspace registry. A missing
// file is not an error: unregistered paths fall back to the hash directly
// as id (spec §3).
func LoadWorkspaceRegistry(path string) (model.WorkspaceRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.WorkspaceRegistry{Version: 1, Workspaces: map[string]model.WorkspaceEntry{}}, nil
		}
		return model.WorkspaceRegistry{}, fmt.Errorf("registry: read workspace registry: %w", err)
	}
	var reg model.WorkspaceRegistry
	if err := json.Unmarshal(raw, &reg); err != nil {
		return model.WorkspaceRegistry{}, fmt.Errorf("registry: parse workspace registry: %w", err)
	}
	return reg, nil
}

// LoadWorkflowRegistry reads the workflow registry. Bus and Worker both
// fail-fast on a missing or invalid registry (spec §4.8, §7).
func LoadWorkflowRegistry(path string) (model.WorkflowRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.WorkflowRegistry{}, fmt.Errorf("registry: workflow registry unavailable: %w", err)
	}

	var reg model.WorkflowRegistry
	switch ext := fileExt(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &reg); err != nil {
			return model.WorkflowRegistry{}, fmt.Errorf("registry: invalid workflow registry: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &reg); err != nil {
			return model.WorkflowRegistry{}, fmt.Errorf("registry: invalid workflow registry: %w", err)
		}
	}

	if reg.Workflows == nil {
		return model.WorkflowRegistry{}, fmt.Errorf("registry: invalid workflow registry schema: no workflows map")
	}
	return reg, nil
}

func fileExt(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

// ResolveWorkspaceID returns the registry id for a path if registered, and
// whether it was found. Callers fall back to the workspace hash otherwise.
func ResolveWorkspaceID(reg model.WorkspaceRegistry, workspacePath string) (string, model.WorkspaceEntry, bool) {
	for id, entry := range reg.Workspaces {
		if entry.Path == workspacePath {
			return id, entry, true
		}
	}
	return "", model.WorkspaceEntry{}, false
}

// DisplayFor returns the emoji/name to show for a workspace id, defaulting
// to a folder glyph and the id itself when unregistered.
func DisplayFor(reg model.WorkspaceRegistry, id string) (emoji, name string) {
	if entry, ok := reg.Workspaces[id]; ok {
		return entry.Emoji, entry.Name
	}
	return "📁", id
}
