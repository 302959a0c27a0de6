package repair

import (
	_ "embed"
	"fmt"
	"strings"

	"paper2nb/internal/notebook"
)

//go:embed prompts/repair.txt
var repairTemplate string

// ContextWindow is how many cells before and after the failing cell are
// included in the repair prompt.
const ContextWindow = 2

const noCells = "None"

// BuildPrompt renders the repair prompt for report. When the failing cell
// is unknown the neighbour sections are "None" and the model relies on the
// outline and trace.
func BuildPrompt(report FailureReport, artifact *notebook.Artifact) string {
	previous, following := noCells, noCells
	if report.Located(artifact) {
		prev, next := artifact.Context(*report.CellIndex, ContextWindow, ContextWindow)
		previous = formatCells(prev)
		following = formatCells(next)
	}

	outline := ""
	if artifact != nil {
		outline = strings.TrimRight(artifact.Outline(), "\n")
	}

	r := strings.NewReplacer(
		"{failing_cell}", report.CellSource,
		"{error_trace}", report.Trace,
		"{previous_cells}", previous,
		"{following_cells}", following,
		"{outline}", outline,
	)
	return r.Replace(strings.TrimSpace(repairTemplate))
}

func formatCells(cells []notebook.IndexedCell) string {
	if len(cells) == 0 {
		return noCells
	}
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = fmt.Sprintf("Cell %d:\n%s", c.Index, c.Cell.Source)
	}
	return strings.Join(parts, "\n\n")
}
