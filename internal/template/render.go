// Package template renders a workflow's prompt_template against the
// session context (spec §4.5). Variable substitution is hand-rolled in the
// style of the teacher's workflow.Engine.interpolate; the "simple
// conditionals" half is delegated to github.com/expr-lang/expr so
// {{if <expr>}}...{{end}} blocks can test real boolean expressions over the
// context instead of a second hand-rolled mini-language.
package template

import (
	"fmt"
	"strings"

	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/expr-lang/expr"
)

// Context is the render-time data a prompt_template may reference. Field
// names here are the variable names available as {{workspace_path}},
// {{session_id}}, {{correlation_id}}, {{git_status}}, {{lychee_status}}.
type Context struct {
	WorkspacePath string
	SessionID     string
	CorrelationID string
	GitStatus     model.GitStatus
	LycheeStatus  model.LycheeStatus
}

// toVars flattens Context into the map expr and the substitution pass both
// read from. git_status/lychee_status are exposed as nested maps so
// {{git_status.branch}} and conditionals like
// {{if git_status.modified_files > 0}} both work against the same data.
func (c Context) toVars() map[string]any {
	return map[string]any{
		"workspace_path": c.WorkspacePath,
		"session_id":     c.SessionID,
		"correlation_id": c.CorrelationID,
		"git_status": map[string]any{
			"branch":          c.GitStatus.Branch,
			"modified_files":  c.GitStatus.ModifiedFiles,
			"staged_files":    c.GitStatus.StagedFiles,
			"untracked_files": c.GitStatus.UntrackedFiles,
		},
		"lychee_status": map[string]any{
			"error_count": c.LycheeStatus.ErrorCount,
			"details":     c.LycheeStatus.Details,
		},
	}
}

// UnknownVariablePolicy documents this implementation's choice for the open
// question in spec §4.5/§9: unknown variables render to empty rather than
// failing the render. This keeps a template with an optional field from
// hard-failing every workflow that doesn't populate it.
const UnknownVariablePolicy = "render-empty"

// Render expands tmpl against ctx. A conditional block whose guard fails to
// evaluate (unknown identifier, type error) is treated as false, consistent
// with the render-empty policy for substitution.
func Render(tmpl string, ctx Context) (string, error) {
	vars := ctx.toVars()

	out, err := renderConditionals(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("template: %w", err)
	}
	return substituteVars(out, vars), nil
}

// substituteVars replaces every {{path}} token with its value from vars,
// walking dotted paths into nested maps. Unknown paths render to empty
// (UnknownVariablePolicy), matching the teacher's ReplaceAll-per-key loop
// but generalized to nested lookups.
func substituteVars(text string, vars map[string]any) string {
	for {
		start := strings.Index(text, "{{")
		if start == -1 {
			return text
		}
		end := strings.Index(text[start:], "}}")
		if end == -1 {
			return text
		}
		end += start

		token := strings.TrimSpace(text[start+2 : end])
		if strings.HasPrefix(token, "if ") || token == "end" {
			// Left over from a malformed conditional block; drop its braces
			// and keep the inner text, so the scan moves past it instead of
			// looping forever.
			text = text[:start] + text[start+2:end] + text[end+2:]
			continue
		}

		val, ok := lookup(vars, token)
		replacement := ""
		if ok {
			replacement = fmt.Sprintf("%v", val)
		}
		text = text[:start] + replacement + text[end+2:]
	}
}

func lookup(vars map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = vars
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// renderConditionals strips {{if <expr>}}...{{end}} blocks, keeping the
// body iff expr evaluates truthy against vars via expr-lang/expr. Blocks do
// not nest.
func renderConditionals(text string, vars map[string]any) (string, error) {
	var b strings.Builder
	for {
		start := strings.Index(text, "{{if ")
		if start == -1 {
			b.WriteString(text)
			return b.String(), nil
		}
		guardEnd := strings.Index(text[start:], "}}")
		if guardEnd == -1 {
			b.WriteString(text)
			return b.String(), nil
		}
		guardEnd += start
		guard := strings.TrimSpace(text[start+len("{{if ") : guardEnd])

		bodyStart := guardEnd + 2
		endTag := strings.Index(text[bodyStart:], "{{end}}")
		if endTag == -1 {
			return "", fmt.Errorf("unterminated {{if %s}} block", guard)
		}
		endTag += bodyStart
		body := text[bodyStart:endTag]

		b.WriteString(text[:start])

		keep, err := evalGuard(guard, vars)
		if err != nil {
			return "", fmt.Errorf("conditional guard %q: %w", guard, err)
		}
		if keep {
			b.WriteString(body)
		}

		text = text[endTag+len("{{end}}"):]
	}
}

func evalGuard(guard string, vars map[string]any) (bool, error) {
	program, err := expr.Compile(guard, expr.Env(vars), expr.AsBool())
	if err != nil {
		// An unknown identifier in the guard is treated as false rather
		// than a hard failure, matching the render-empty policy.
		return false, nil
	}
	out, err := expr.Run(program, vars)
	if err != nil {
		return false, nil
	}
	b, _ := out.(bool)
	return b, nil
}
