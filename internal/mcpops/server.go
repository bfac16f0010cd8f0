// Package mcpops retains the teacher's MCP tool surface, adapted from an
// IDE-bridging tool server into an operator-facing introspection tool for
// this spec's own state: the workflow registry and the live tracking/
// progress/execution records a Bus and Worker leave on disk (spec §3, §6).
// The teacher's MCP server exposed IDE/Telegram-bridge tools (notify, ask,
// send file) over stdio for an editor's AI assistant to call; none of that
// has a home here, since this spec already has a file-spool bridge for
// Bus/Worker communication and explicitly puts the external assistant
// subprocess out of scope (spec §1). What IS grounded here is the
// server-construction and tool-registration shape itself
// (mcp.NewTool/AddTool via ServeStdio), carried from the richest example of
// that pattern in the retrieval pack.
package mcpops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/paths"
	"github.com/arborist-dev/quiescebus/internal/registry"
	"github.com/arborist-dev/quiescebus/internal/spool"
	"github.com/arborist-dev/quiescebus/internal/tracking"
)

// Server wraps the MCP server and the read-only state it reports on.
type Server struct {
	mcpServer *server.MCPServer
	layout    paths.Layout
}

// New builds a Server rooted at layout. It registers its tools immediately;
// there is nothing optional to wire in.
func New(layout paths.Layout) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("quiescebus", "dev"),
		layout:    layout,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "quiescebus_list_workflows",
		Description: "List the workflows in the registry, with their trigger and risk metadata.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListWorkflows)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "quiescebus_workflow_status",
		Description: "Report the current progress, tracking, and (if finished) execution outcome for one workflow instance.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workspace_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the workspace the workflow ran in",
				},
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session id the summary/selection carried",
				},
				"workflow_id": map[string]interface{}{
					"type":        "string",
					"description": "Workflow id from the registry",
				},
			},
			Required: []string{"workspace_path", "session_id", "workflow_id"},
		},
	}, s.handleWorkflowStatus)
}

// Run serves the registered tools over stdio until the client disconnects.
func (s *Server) Run(_ context.Context) error {
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcpops: serve stdio: %w", err)
	}
	return nil
}

// jsonResult renders v as pretty-printed JSON text. The tool results in this
// package are for a human operator reading a terminal, not a structured
// caller, so plain text is enough and keeps this grounded in the one result
// constructor the retrieval pack actually exercises.
func jsonResult(v any) *mcp.CallToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err))
	}
	return mcp.NewToolResultText(string(raw))
}

func (s *Server) handleListWorkflows(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reg, err := registry.LoadWorkflowRegistry(s.layout.WorkflowRegistry())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load workflow registry: %v", err)), nil
	}
	rows := make([]map[string]any, 0, len(reg.Workflows))
	for id, m := range reg.Workflows {
		rows = append(rows, map[string]any{
			"id":                 id,
			"name":               m.Name,
			"category":           m.Category,
			"risk_level":         m.RiskLevel,
			"estimated_duration": m.EstimatedDuration,
			"triggers":           m.Triggers,
		})
	}
	return jsonResult(map[string]any{"workflows": rows}), nil
}

func (s *Server) handleWorkflowStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workspacePath, err := request.RequireString("workspace_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	workflowID, err := request.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	workspaceHash := paths.WorkspaceHash(workspacePath)
	result := map[string]any{"workspace_id": workspaceHash, "session_id": sessionID, "workflow_id": workflowID}

	progressPath := s.layout.Progress() + "/" + workspaceHash + "_" + sessionID + "_" + workflowID + ".json"
	var snap model.ProgressSnapshot
	if err := spool.ReadJSONValidated(progressPath, nil, &snap); err == nil {
		result["progress"] = snap
	} else if !spool.IsGone(err) {
		result["progress_error"] = err.Error()
	}

	trackingStore := tracking.NewStore(s.layout.Tracking())
	if err := trackingStore.Restore(func(string, error) {}); err != nil {
		result["tracking_error"] = err.Error()
	} else if rec, ok := trackingStore.Get(tracking.Key{WorkspaceID: workspaceHash, SessionID: sessionID, WorkflowID: workflowID}); ok {
		result["tracking"] = rec
	}

	executionPath := s.layout.Executions() + "/execution_" + sessionID + "_" + workspaceHash + "_" + workflowID + ".json"
	var exec model.WorkflowExecution
	if err := spool.ReadJSONValidated(executionPath, nil, &exec); err == nil {
		result["execution"] = exec
	} else if !spool.IsGone(err) {
		result["execution_error"] = err.Error()
	}

	return jsonResult(result), nil
}
