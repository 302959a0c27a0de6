package repair

import (
	"context"
	"fmt"

	"paper2nb/internal/logging"
	"paper2nb/internal/notebook"
	"paper2nb/internal/perception"
	"paper2nb/internal/tactile"
)

// Attempt records one repair try.
type Attempt struct {
	Report FailureReport

	// Fix is the parsed model response, nil when none could be parsed.
	Fix *Fix

	// Artifact is the patched copy, nil when the repair failed.
	Artifact *notebook.Artifact
}

// Repairer asks the model to patch a failed notebook.
type Repairer struct {
	client perception.Client
}

// NewRepairer creates a repairer.
func NewRepairer(client perception.Client) *Repairer {
	return &Repairer{client: client}
}

// Repair classifies the failure in result, prompts for a fix and applies it
// to a copy of artifact. The input artifact is never modified. The returned
// Attempt is never nil; on error it carries whatever was obtained before
// the failure.
func (r *Repairer) Repair(ctx context.Context, result *tactile.NotebookResult, artifact *notebook.Artifact) (*Attempt, error) {
	timer := logging.StartTimer(logging.CategoryRepair, "Repair")
	defer timer.Stop()

	attempt := &Attempt{Report: Classify(result, artifact)}
	if attempt.Report.CellIndex != nil {
		logging.Repair("Failure classified: kind=%s cell=%d", attempt.Report.ErrorKind, *attempt.Report.CellIndex)
	} else {
		logging.Repair("Failure classified: kind=%s cell=unknown", attempt.Report.ErrorKind)
	}

	comp, err := r.client.Complete(ctx, BuildPrompt(attempt.Report, artifact))
	if err != nil {
		logging.RepairWarn("Fix generation failed: %v", err)
		return attempt, fmt.Errorf("model call failed: %w", err)
	}

	fix, err := ParsePatch(comp.Text)
	if err != nil {
		logging.RepairWarn("Could not parse fix: %v", err)
		return attempt, err
	}
	attempt.Fix = fix

	patched := artifact.Clone()
	if err := patched.ApplyPatches(fix.Cells); err != nil {
		logging.RepairWarn("Fix rejected: %v", err)
		return attempt, err
	}
	attempt.Artifact = patched

	logging.RepairDebug("Applied %d cell patches: %s", len(fix.Cells), fix.Analysis)
	return attempt, nil
}
