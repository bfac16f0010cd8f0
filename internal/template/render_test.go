package template

import (
	"testing"

	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSubstitutesFlatVariables(t *testing.T) {
	out, err := Render("Fix links in {{workspace_path}} for {{session_id}}", Context{
		WorkspacePath: "/w",
		SessionID:     "S1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Fix links in /w for S1", out)
}

func TestRenderSubstitutesNestedPaths(t *testing.T) {
	out, err := Render("branch={{git_status.branch}} errs={{lychee_status.error_count}}", Context{
		GitStatus:    model.GitStatus{Branch: "main"},
		LycheeStatus: model.LycheeStatus{ErrorCount: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "branch=main errs=3", out)
}

func TestRenderUnknownVariableRendersEmpty(t *testing.T) {
	out, err := Render("before[{{nonexistent}}]after", Context{})
	require.NoError(t, err)
	assert.Equal(t, "before[]after", out)
}

func TestRenderConditionalKeepsBodyWhenTrue(t *testing.T) {
	out, err := Render("{{if git_status.modified_files > 0}}dirty{{end}}", Context{
		GitStatus: model.GitStatus{ModifiedFiles: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "dirty", out)
}

func TestRenderConditionalDropsBodyWhenFalse(t *testing.T) {
	out, err := Render("{{if git_status.modified_files > 0}}dirty{{end}}clean", Context{
		GitStatus: model.GitStatus{ModifiedFiles: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, "clean", out)
}

func TestRenderUnterminatedConditionalErrors(t *testing.T) {
	_, err := Render("{{if true}}oops", Context{})
	require.Error(t, err)
}
