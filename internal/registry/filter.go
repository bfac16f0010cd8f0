package registry

import "github.com/arborist-dev/quiescebus/internal/model"

// FilteredWorkflow is one manifest that survived trigger evaluation, paired
// with its id for callback-token and prompt-rendering purposes.
type FilteredWorkflow struct {
	ID       string
	Manifest model.WorkflowManifest
}

// Filter evaluates every manifest's trigger against summary and returns the
// ones that fire, in Go map-iteration order over the registry, which is not
// stable between calls (callers that need determinism should sort by ID).
// Exactly one trigger is honored per manifest, in priority order
// lychee_errors > git_modified > always (spec §4.4); additional triggers
// present on the same manifest are ignored once an earlier one is true.
//
// Grounded on calculate_workflows.filter_workflows: the Python tests each
// trigger key with `if triggers.get('lychee_errors'):` — a truthy check, not
// a presence check — so a present-but-false value falls through to the next
// trigger exactly like an absent one; only a *true* value short-circuits the
// rest of the chain.
func Filter(reg model.WorkflowRegistry, summary model.SessionSummary) []FilteredWorkflow {
	var out []FilteredWorkflow
	for id, manifest := range reg.Workflows {
		if fires(manifest.Triggers, summary) {
			out = append(out, FilteredWorkflow{ID: id, Manifest: manifest})
		}
	}
	return out
}

func fires(t model.Triggers, summary model.SessionSummary) bool {
	if t.LycheeErrors != nil && *t.LycheeErrors {
		return summary.LycheeStatus.ErrorCount > 0
	}
	if t.GitModified != nil && *t.GitModified {
		return summary.GitStatus.ModifiedFiles > 0
	}
	if t.Always != nil {
		return *t.Always
	}
	return false
}
