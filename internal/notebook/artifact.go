// Package notebook models the generated notebook: typed cells, the nbformat
// v4 file format, index-addressed patching, a syntax pre-flight and the
// model-driven cell synthesizer.
package notebook

import (
	"fmt"
	"strings"
)

// CellKind is a notebook cell type.
type CellKind string

const (
	CellCode     CellKind = "code"
	CellMarkdown CellKind = "markdown"
	CellRaw      CellKind = "raw"
)

// Cell is one notebook unit.
type Cell struct {
	Kind   CellKind `json:"cell_type"`
	Source string   `json:"source"`
}

// Artifact is an ordered notebook. Cells are replaced in place by index
// during repair; they are never reordered or removed.
type Artifact struct {
	Cells []Cell
}

// NewArtifact builds an artifact from cells.
func NewArtifact(cells []Cell) *Artifact {
	return &Artifact{Cells: append([]Cell(nil), cells...)}
}

// Len returns the number of cells.
func (a *Artifact) Len() int {
	return len(a.Cells)
}

// Clone returns a deep copy.
func (a *Artifact) Clone() *Artifact {
	return NewArtifact(a.Cells)
}

// CodeCells counts code cells.
func (a *Artifact) CodeCells() int {
	n := 0
	for _, c := range a.Cells {
		if c.Kind == CellCode {
			n++
		}
	}
	return n
}

// Patch replaces the source of one cell.
type Patch struct {
	CellIndex int    `json:"cell_index"`
	Source    string `json:"source"`
}

// IndexOutOfRangeError reports a patch addressing a cell that does not exist.
type IndexOutOfRangeError struct {
	Index int
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("cell index %d out of bounds (notebook has %d cells)", e.Index, e.Len)
}

// ApplyPatches replaces cell sources in place. Every index is checked
// before any cell changes, so a bad patch leaves the artifact untouched.
func (a *Artifact) ApplyPatches(patches []Patch) error {
	for _, p := range patches {
		if p.CellIndex < 0 || p.CellIndex >= len(a.Cells) {
			return &IndexOutOfRangeError{Index: p.CellIndex, Len: len(a.Cells)}
		}
	}
	for _, p := range patches {
		a.Cells[p.CellIndex].Source = p.Source
	}
	return nil
}

// IndexedCell is a cell with its position.
type IndexedCell struct {
	Index int
	Cell  Cell
}

// Context returns up to before cells preceding index i and up to after
// cells following it, excluding i itself.
func (a *Artifact) Context(i, before, after int) (prev, next []IndexedCell) {
	if i < 0 || i >= len(a.Cells) {
		return nil, nil
	}
	for j := max(0, i-before); j < i; j++ {
		prev = append(prev, IndexedCell{Index: j, Cell: a.Cells[j]})
	}
	for j := i + 1; j < len(a.Cells) && j <= i+after; j++ {
		next = append(next, IndexedCell{Index: j, Cell: a.Cells[j]})
	}
	return prev, next
}

// Outline renders a short listing of the cells for logs and prompts.
func (a *Artifact) Outline() string {
	var sb strings.Builder
	for i, c := range a.Cells {
		first := strings.SplitN(strings.TrimSpace(c.Source), "\n", 2)[0]
		first = truncate(first, 60)
		fmt.Fprintf(&sb, "[%d] %s: %s\n", i, c.Kind, first)
	}
	return sb.String()
}
