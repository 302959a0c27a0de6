package notebook

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"paper2nb/internal/logging"
)

// LintFinding is a syntax problem in one code cell.
type LintFinding struct {
	CellIndex int    `json:"cell_index"`
	Line      int    `json:"line"` // 1-based, within the cell
	Column    int    `json:"column"`
	Message   string `json:"message"`
}

func (f LintFinding) String() string {
	return fmt.Sprintf("cell %d line %d:%d: %s", f.CellIndex, f.Line, f.Column, f.Message)
}

// Lint parses every code cell with the tree-sitter Python grammar and
// reports the first syntax error per cell. IPython shell ("!") and magic
// ("%") lines are blanked out first. Findings are advisory.
func Lint(ctx context.Context, a *Artifact) ([]LintFinding, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	var findings []LintFinding
	for i, c := range a.Cells {
		if c.Kind != CellCode || strings.TrimSpace(c.Source) == "" {
			continue
		}
		src := []byte(stripIPython(c.Source))
		tree, err := parser.ParseCtx(ctx, nil, src)
		if err != nil {
			return findings, fmt.Errorf("parse cell %d: %w", i, err)
		}
		root := tree.RootNode()
		if root.HasError() {
			if n := firstErrorNode(root); n != nil {
				pt := n.StartPoint()
				msg := "syntax error"
				if n.IsMissing() {
					msg = fmt.Sprintf("missing %s", n.Type())
				} else if text := strings.TrimSpace(n.Content(src)); text != "" {
					msg = fmt.Sprintf("syntax error near %q", truncate(text, 40))
				}
				findings = append(findings, LintFinding{
					CellIndex: i,
					Line:      int(pt.Row) + 1,
					Column:    int(pt.Column) + 1,
					Message:   msg,
				})
			}
		}
		tree.Close()
	}

	if len(findings) > 0 {
		logging.SynthDebug("Lint: %d findings in %d cells", len(findings), a.Len())
	}
	return findings, nil
}

// stripIPython replaces shell and magic lines with an indented pass so the
// surrounding block structure stays valid.
func stripIPython(src string) string {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "!") || strings.HasPrefix(trimmed, "%") {
			lines[i] = line[:len(line)-len(trimmed)] + "pass"
		}
	}
	return strings.Join(lines, "\n")
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !(child.HasError() || child.IsMissing()) {
			continue
		}
		if found := firstErrorNode(child); found != nil {
			return found
		}
	}
	return nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
