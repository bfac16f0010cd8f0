package registry

import (
	"testing"

	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestFilterS1HappyPath(t *testing.T) {
	reg := model.WorkflowRegistry{
		Workflows: map[string]model.WorkflowManifest{
			"fix-links": {Triggers: model.Triggers{LycheeErrors: boolPtr(true)}},
			"commit":    {Triggers: model.Triggers{GitModified: boolPtr(true)}},
			"noop":      {Triggers: model.Triggers{}},
		},
	}
	summary := model.SessionSummary{
		LycheeStatus: model.LycheeStatus{ErrorCount: 3},
		GitStatus:    model.GitStatus{ModifiedFiles: 2},
	}

	got := Filter(reg, summary)
	ids := map[string]bool{}
	for _, f := range got {
		ids[f.ID] = true
	}
	assert.True(t, ids["fix-links"])
	assert.True(t, ids["commit"])
	assert.False(t, ids["noop"])
	assert.Len(t, got, 2)
}

func TestFilterZeroErrorsZeroModifiedOnlyAlwaysFires(t *testing.T) {
	reg := model.WorkflowRegistry{
		Workflows: map[string]model.WorkflowManifest{
			"fix-links": {Triggers: model.Triggers{LycheeErrors: boolPtr(true)}},
			"commit":    {Triggers: model.Triggers{GitModified: boolPtr(true)}},
			"standup":   {Triggers: model.Triggers{Always: boolPtr(true)}},
		},
	}
	summary := model.SessionSummary{}

	got := Filter(reg, summary)
	assert.Len(t, got, 1)
	assert.Equal(t, "standup", got[0].ID)
}

func TestFilterLycheeErrorsFalseFallsThroughToGitModified(t *testing.T) {
	// triggers.lychee_errors explicitly false must fall through to
	// git_modified, matching the original's truthy (not presence) check.
	reg := model.WorkflowRegistry{
		Workflows: map[string]model.WorkflowManifest{
			"mixed": {Triggers: model.Triggers{
				LycheeErrors: boolPtr(false),
				GitModified:  boolPtr(true),
			}},
		},
	}
	summary := model.SessionSummary{GitStatus: model.GitStatus{ModifiedFiles: 5}}

	got := Filter(reg, summary)
	require.Len(t, got, 1)
	assert.Equal(t, "mixed", got[0].ID)
}
