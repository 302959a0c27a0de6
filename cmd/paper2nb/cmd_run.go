package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paper2nb/internal/config"
	"paper2nb/internal/ingest"
	"paper2nb/internal/perception"
	"paper2nb/internal/pipeline"
	"paper2nb/internal/store"
	"paper2nb/internal/tactile"
)

// runCmd runs the whole pipeline for one paper
var runCmd = &cobra.Command{
	Use:   "run <paper>",
	Short: "Build, execute and repair a notebook for one experiment",
	Long: `Runs the full pipeline:
  1. Fetch the paper (arXiv id or URL) or read the local file
  2. Extract text and split it into chunks
  3. Decompose the chunks into a structured spec
  4. Generate a notebook for the selected experiment
  5. Execute it in the sandbox, repairing failing cells between iterations
  6. Write run_report.json and trajectory.json

Examples:
  paper2nb run 1706.03762
  paper2nb run https://arxiv.org/abs/1706.03762 --experiment 1
  paper2nb run paper.pdf --backend local --max-iterations 3`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

// decomposeCmd stops after decomposition
var decomposeCmd = &cobra.Command{
	Use:   "decompose <paper>",
	Short: "Extract the structured decomposition of a paper",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecompose,
}

// runFlags are the per-invocation overrides of the config file.
type runFlags struct {
	experiment    int
	toy           bool
	noToy         bool
	image         string
	maxIterations int
	timeoutSec    int
	outputDir     string
	backend       string
	workers       int
}

var flags runFlags

func init() {
	for _, c := range []*cobra.Command{runCmd, decomposeCmd} {
		c.Flags().StringVarP(&flags.outputDir, "output-dir", "o", "output", "Directory for run output")
		c.Flags().IntVar(&flags.workers, "workers", 1, "Concurrent chunk extractions")
	}
	runCmd.Flags().IntVarP(&flags.experiment, "experiment", "e", 0, "Index of the experiment to reproduce")
	runCmd.Flags().BoolVar(&flags.toy, "toy", true, "Use synthetic data instead of real datasets")
	runCmd.Flags().BoolVar(&flags.noToy, "no-toy", false, "Allow real datasets")
	runCmd.Flags().StringVar(&flags.image, "image", "python:3.11-slim", "Sandbox image")
	runCmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 5, "Execute/repair iterations")
	runCmd.Flags().IntVar(&flags.timeoutSec, "timeout", 600, "Notebook execution timeout in seconds")
	runCmd.Flags().StringVar(&flags.backend, "backend", "docker", "Sandbox backend: docker or local")
	runCmd.MarkFlagsMutuallyExclusive("toy", "no-toy")
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, c *config.Config, f runFlags) {
	changed := cmd.Flags().Changed
	if changed("output-dir") {
		c.Pipeline.OutputDir = f.outputDir
	}
	if changed("workers") {
		c.Pipeline.ExtractWorkers = f.workers
	}
	if changed("toy") {
		c.Pipeline.ToyMode = f.toy
	}
	if changed("no-toy") && f.noToy {
		c.Pipeline.ToyMode = false
	}
	if changed("image") {
		c.Sandbox.Image = f.image
	}
	if changed("max-iterations") {
		c.Pipeline.MaxIterations = f.maxIterations
	}
	if changed("timeout") {
		c.Sandbox.Timeout = fmt.Sprintf("%ds", f.timeoutSec)
	}
	if changed("backend") {
		c.Sandbox.Backend = f.backend
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore opens the run store when enabled. A store that cannot be
// opened disables persistence rather than failing the run.
func openStore(c *config.Config) *store.RunStore {
	if !c.Store.Enabled {
		return nil
	}
	rs, err := store.NewRunStore(c.Store.Path)
	if err != nil {
		logger.Warn("Run store disabled", zap.String("path", c.Store.Path), zap.Error(err))
		return nil
	}
	return rs
}

// buildController wires the model client, run store and sandbox. Without
// a sandbox (withSandbox false) the controller can only decompose.
func buildController(ctx context.Context, c *config.Config, withSandbox bool) (*pipeline.Controller, *store.RunStore, error) {
	client, err := perception.NewClientFromConfig(ctx, c.LLM, c.GetLLMTimeout())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model client: %w", err)
	}

	deps := pipeline.Deps{Fetcher: ingest.NewFetcher(c.GetDownloadTimeout())}
	rs := openStore(c)
	if rs != nil {
		client = perception.NewTracingClient(client, rs)
		deps.Recorder = rs
	}
	deps.Client = client

	if withSandbox {
		backend, err := tactile.NewBackend(c.Sandbox)
		if err != nil {
			if rs != nil {
				rs.Close()
			}
			return nil, nil, err
		}
		logger.Info("Sandbox ready", zap.String("backend", backend.Name()), zap.String("image", c.Sandbox.Image))
		deps.Executor = tactile.NewNotebookRunner(backend)
	}

	return pipeline.NewController(deps, pipeline.OptionsFromConfig(c)), rs, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	applyFlags(cmd, cfg, flags)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	ctrl, rs, err := buildController(ctx, cfg, true)
	if err != nil {
		return err
	}
	if rs != nil {
		defer rs.Close()
	}

	logger.Info("Starting run",
		zap.String("paper", args[0]),
		zap.Int("experiment", flags.experiment),
		zap.Bool("toy", cfg.Pipeline.ToyMode),
		zap.Int("max_iterations", cfg.Pipeline.MaxIterations))

	res := ctrl.Run(ctx, args[0], flags.experiment)
	fmt.Fprintln(cmd.OutOrStdout(), renderBanner(res))

	if !res.Success() {
		logger.Info("Run did not succeed", zap.String("status", string(res.State.Status)), zap.String("error", res.Error()))
		return errRunFailed
	}
	return nil
}

func runDecompose(cmd *cobra.Command, args []string) error {
	applyFlags(cmd, cfg, flags)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	ctrl, rs, err := buildController(ctx, cfg, false)
	if err != nil {
		return err
	}
	if rs != nil {
		defer rs.Close()
	}

	dec, err := ctrl.Decompose(ctx, args[0])
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), failureStyle.Render(err.Error()))
		return errRunFailed
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderMarkdown(decompositionMarkdown(dec.Result.Spec)))
	fmt.Fprintf(cmd.OutOrStdout(), "Decomposition saved to %s\n", dec.Path)
	return nil
}
