package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"paper2nb/internal/decompose"
	"paper2nb/internal/store"
)

// runsCmd inspects the run store
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
	Long: `List and show runs recorded in the run store.

Subcommands:
  list         - List recent runs
  show <id>    - Show one run (id or unique prefix)`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its trajectory and decomposition",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var (
	runsLimit int
	runsRaw   bool
)

func init() {
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list (0 = all)")
	runsShowCmd.Flags().BoolVar(&runsRaw, "raw", false, "Print Markdown without terminal styling")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

func openRunStore() (*store.RunStore, error) {
	if !cfg.Store.Enabled {
		return nil, errors.New("run store is disabled in the configuration")
	}
	return store.NewRunStore(cfg.Store.Path)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	rs, err := openRunStore()
	if err != nil {
		return err
	}
	defer rs.Close()

	runs, err := rs.ListRuns(context.Background(), runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPAPER\tEXP\tSTATUS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.ID[:8], r.PaperID, r.ExperimentIndex, r.Status, r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out, strings.Repeat("─", 50))
	fmt.Fprintf(out, "Total: %d runs\n", len(runs))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	rs, err := openRunStore()
	if err != nil {
		return err
	}
	defer rs.Close()

	ctx := context.Background()
	run, err := rs.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	steps, err := rs.Steps(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to load trajectory: %w", err)
	}

	var spec *decompose.Spec
	if len(run.Decomposition) > 0 {
		var s decompose.Spec
		if err := json.Unmarshal(run.Decomposition, &s); err == nil {
			spec = &s
		} else {
			logger.Sugar().Warnf("Stored decomposition for %s is unreadable: %v", run.ID, err)
		}
	}

	md := runMarkdown(run, steps, spec)
	if runsRaw {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), renderMarkdown(md))
	return nil
}
