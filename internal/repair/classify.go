// Package repair turns a failed notebook execution into a model-generated
// patch: it classifies the failure, builds the repair prompt, parses the
// returned cell patches and applies them to a copy of the notebook.
package repair

import (
	"regexp"
	"strconv"
	"strings"

	"paper2nb/internal/notebook"
	"paper2nb/internal/tactile"
)

// ErrorKindUnknown is reported when no known error token appears.
const ErrorKindUnknown = "Unknown"

// ErrorKinds are matched against the execution output in this order; the
// first token present wins.
var ErrorKinds = []string{
	"ImportError",
	"ModuleNotFoundError",
	"ValueError",
	"TypeError",
	"NameError",
	"KeyError",
	"AttributeError",
	"SyntaxError",
	"RuntimeError",
}

const tracebackMarker = "Traceback"

var cellRef = regexp.MustCompile(`[Cc]ell (\d+)`)

// nbconvert prints the failing cell between dashed rules:
//
//	An error occurred while executing the following cell:
//	------------------
//	<source>
//	------------------
var failingCellBlock = regexp.MustCompile(`(?s)executing the following cell:\s*\n-{3,}\n(.*?)\n-{3,}`)

// FailureReport describes why a notebook execution failed.
type FailureReport struct {
	// CellIndex is the failing cell, nil when it could not be located.
	CellIndex  *int   `json:"cell_index"`
	CellSource string `json:"cell_source"`
	Trace      string `json:"trace"`
	ErrorKind  string `json:"error_kind"`
}

// Located reports whether the failing cell is known and inside artifact.
func (r FailureReport) Located(artifact *notebook.Artifact) bool {
	return r.CellIndex != nil && artifact != nil && *r.CellIndex >= 0 && *r.CellIndex < artifact.Len()
}

// Classify derives a FailureReport from a failed execution.
//
// The cell index comes from the first "cell N" marker in the combined
// output; failing that, from matching the cell source nbconvert echoes
// against the artifact. The trace starts at the first traceback, or is the
// whole output when there is none.
func Classify(result *tactile.NotebookResult, artifact *notebook.Artifact) FailureReport {
	combined := result.Combined()
	report := FailureReport{
		Trace:     combined,
		ErrorKind: ErrorKindUnknown,
	}

	if m := cellRef.FindStringSubmatch(combined); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil {
			report.CellIndex = &idx
		}
	}
	if report.CellIndex == nil {
		if idx, ok := locateEchoedCell(combined, artifact); ok {
			report.CellIndex = &idx
		}
	}

	for _, kind := range ErrorKinds {
		if strings.Contains(combined, kind) {
			report.ErrorKind = kind
			break
		}
	}

	if i := strings.Index(combined, tracebackMarker); i != -1 {
		report.Trace = combined[i:]
	}

	if report.Located(artifact) {
		report.CellSource = artifact.Cells[*report.CellIndex].Source
	}
	return report
}

func locateEchoedCell(output string, artifact *notebook.Artifact) (int, bool) {
	if artifact == nil {
		return 0, false
	}
	m := failingCellBlock.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	echoed := strings.TrimSpace(m[1])
	if echoed == "" {
		return 0, false
	}
	for i, c := range artifact.Cells {
		if c.Kind == notebook.CellCode && strings.TrimSpace(c.Source) == echoed {
			return i, true
		}
	}
	return 0, false
}
