package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"paper2nb/internal/decompose"
	"paper2nb/internal/pipeline"
	"paper2nb/internal/store"
)

var (
	successColor = lipgloss.Color("#04B575")
	failureColor = lipgloss.Color("#FF5F87")
	mutedColor   = lipgloss.Color("#888888")

	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2)

	failureStyle = lipgloss.NewStyle().Foreground(failureColor).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

// renderBanner summarizes a finished run.
func renderBanner(res *pipeline.Result) string {
	color := failureColor
	status := "FAILED"
	if res.Success() {
		color = successColor
		status = "SUCCESS"
	}
	title := lipgloss.NewStyle().Foreground(color).Bold(true).Render(
		fmt.Sprintf("PIPELINE COMPLETE: %s (%s)", status, res.State.Status))

	lines := []string{title}
	field := func(k, v string) {
		lines = append(lines, labelStyle.Render(k+": ")+v)
	}

	if r := res.Report; r != nil {
		field("Experiment", fmt.Sprintf("%d - %s", r.ExperimentIndex, r.ExperimentTitle))
		field("Iterations", fmt.Sprintf("%d (final exit code %d)", r.Execution.Iterations, r.Execution.FinalReturnCode))
		field("Total time", fmt.Sprintf("%.1fs", r.TotalTime))
		field("Notebook", r.Files.Notebook)
		if r.Files.ExecutedNotebook != nil {
			field("Executed", *r.Files.ExecutedNotebook)
		}
		if len(r.Execution.Artifacts) > 0 {
			field("Artifacts", strings.Join(r.Execution.Artifacts, ", "))
		}
		field("Output", r.OutputDirectory)
	}
	if f := res.Failure; f != nil {
		field("Step", f.Step)
		field("Error", failureStyle.Render(f.Error))
	}
	if res.ReportPath != "" {
		field("Report", res.ReportPath)
	}
	return bannerStyle.BorderForeground(color).Render(strings.Join(lines, "\n"))
}

// decompositionMarkdown renders a spec summary.
func decompositionMarkdown(spec *decompose.Spec) string {
	var sb strings.Builder
	title := spec.TitleString()
	if title == "" {
		title = "Untitled paper"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if len(spec.Authors) > 0 {
		fmt.Fprintf(&sb, "*%s*\n\n", strings.Join(spec.Authors, ", "))
	}
	if abs := spec.AbstractString(); abs != "" {
		fmt.Fprintf(&sb, "%s\n\n", abs)
	}

	fmt.Fprintf(&sb, "## Experiments (%d)\n\n", len(spec.Experiments))
	for i, exp := range spec.Experiments {
		fmt.Fprintf(&sb, "%d. **%s** (`%s`)", i, exp.Title, exp.ID)
		if exp.Description != "" {
			fmt.Fprintf(&sb, ": %s", exp.Description)
		}
		sb.WriteString("\n")
		if len(exp.MetricsReported) > 0 {
			fmt.Fprintf(&sb, "   - metrics: %s\n", strings.Join(exp.MetricsReported, ", "))
		}
	}

	if r := spec.Reproducibility; r != nil {
		fmt.Fprintf(&sb, "\n## Reproducibility\n\n- difficulty: %s\n- estimated effort: %.1f hours\n", r.Difficulty, r.EstimatedEffortHours)
		if r.Notes != "" {
			fmt.Fprintf(&sb, "- notes: %s\n", r.Notes)
		}
	}
	return sb.String()
}

// runMarkdown renders a stored run with its steps.
func runMarkdown(run *store.Run, steps []store.StepRecord, spec *decompose.Spec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&sb, "| field | value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| input | %s |\n", run.Input)
	fmt.Fprintf(&sb, "| paper | %s |\n", run.PaperID)
	fmt.Fprintf(&sb, "| experiment | %d |\n", run.ExperimentIndex)
	fmt.Fprintf(&sb, "| status | %s |\n", run.Status)
	fmt.Fprintf(&sb, "| started | %s |\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, "| finished | %s |\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if run.ReportPath != "" {
		fmt.Fprintf(&sb, "| report | %s |\n", run.ReportPath)
	}
	if run.Error != "" {
		fmt.Fprintf(&sb, "\n> **Error:** %s\n", run.Error)
	}

	if len(steps) > 0 {
		sb.WriteString("\n## Trajectory\n\n| # | step | time | data |\n|---|---|---|---|\n")
		for _, st := range steps {
			fmt.Fprintf(&sb, "| %d | %s | %s | `%s` |\n", st.Seq, st.Step, st.Timestamp.Format("15:04:05"), truncate(string(st.Data), 80))
		}
	}

	if spec != nil {
		sb.WriteString("\n---\n\n")
		sb.WriteString(strings.Replace(decompositionMarkdown(spec), "# ", "## ", 1))
	}
	return sb.String()
}

// renderMarkdown renders md for the terminal, falling back to the raw text.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
