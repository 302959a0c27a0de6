package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"paper2nb/internal/config"
	"paper2nb/internal/decompose"
	"paper2nb/internal/ingest"
	"paper2nb/internal/logging"
	"paper2nb/internal/notebook"
	"paper2nb/internal/perception"
	"paper2nb/internal/repair"
	"paper2nb/internal/store"
	"paper2nb/internal/tactile"
)

// StepExperimentSelection names the abort step for an out-of-range
// experiment index. It never appears in the trajectory.
const StepExperimentSelection = "experiment_selection"

// Downloader fetches remote papers. *ingest.Fetcher implements it.
type Downloader interface {
	Download(ctx context.Context, src ingest.Source, dir string) (string, error)
	FetchArxivMetadata(ctx context.Context, id string) (*ingest.PaperMetadata, error)
}

// RunRecorder persists run lifecycle and trajectory. *store.RunStore
// implements it.
type RunRecorder interface {
	StepSink
	CreateRun(ctx context.Context, input, paperID string, experimentIndex int) (*store.Run, error)
	FinishRun(ctx context.Context, runID string, out store.Outcome) error
}

// Options are the per-controller pipeline settings.
type Options struct {
	OutputDir      string
	ChunkSize      int
	ChunkOverlap   int
	MaxPages       int
	MaxRetries     int
	MaxIterations  int
	ExperimentCap  int
	ExtractWorkers int
	ToyMode        bool
	Image          string
	Limits         tactile.Limits
}

// OptionsFromConfig derives controller options from a loaded config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OutputDir:      cfg.Pipeline.OutputDir,
		ChunkSize:      cfg.Pipeline.ChunkSize,
		ChunkOverlap:   cfg.Pipeline.ChunkOverlap,
		MaxPages:       cfg.Pipeline.MaxPages,
		MaxRetries:     cfg.Pipeline.MaxRetries,
		MaxIterations:  cfg.Pipeline.MaxIterations,
		ExperimentCap:  cfg.Pipeline.ExperimentCap,
		ExtractWorkers: cfg.Pipeline.ExtractWorkers,
		ToyMode:        cfg.Pipeline.ToyMode,
		Image:          cfg.Sandbox.Image,
		Limits:         tactile.LimitsFromConfig(cfg.Sandbox, cfg.GetSandboxTimeout()),
	}
}

// Deps are the controller's collaborators. Fetcher defaults to an
// ingest.Fetcher; Recorder is optional.
type Deps struct {
	Client   perception.Client
	Executor Executor
	Fetcher  Downloader
	Recorder RunRecorder
}

// Controller runs the whole pipeline for one paper at a time.
type Controller struct {
	client   perception.Client
	executor Executor
	fetcher  Downloader
	recorder RunRecorder
	opts     Options
}

// NewController creates a controller, filling unset options with defaults.
func NewController(deps Deps, opts Options) *Controller {
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 8000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 200
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 5
	}
	if opts.Image == "" {
		opts.Image = "python:3.11-slim"
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = ingest.NewFetcher(0)
	}
	return &Controller{
		client:   deps.Client,
		executor: deps.Executor,
		fetcher:  fetcher,
		recorder: deps.Recorder,
		opts:     opts,
	}
}

// Decomposition is the outcome of the ingest and decomposition stages.
type Decomposition struct {
	Source   ingest.Source
	PaperDir string
	Path     string // decomposition.json
	Metadata *ingest.PaperMetadata
	Result   *decompose.Result
}

// Decompose runs the stages up to and including decomposition and writes
// decomposition.json. Structural failures are returned as *StepError.
func (c *Controller) Decompose(ctx context.Context, input string) (*Decomposition, error) {
	src, err := ingest.ResolveSource(input)
	if err != nil {
		return nil, &StepError{Step: StepTextExtraction, Message: fmt.Sprintf("Invalid paper input: %v", err), Err: err}
	}
	return c.decompose(ctx, src, NewTrajectory())
}

// Run executes the full pipeline for the experiment at experimentIndex.
// It never returns an error: structural failures become an aborted Result
// carrying a FailureReport.
func (c *Controller) Run(ctx context.Context, input string, experimentIndex int) *Result {
	start := time.Now()
	traj := NewTrajectory()
	logging.Pipeline("Starting pipeline: input=%s experiment=%d", input, experimentIndex)

	src, srcErr := ingest.ResolveSource(input)
	runID := c.beginRun(ctx, input, src.PaperID, experimentIndex, traj)
	if runID != "" {
		ctx = perception.WithRunID(ctx, runID)
	}

	if srcErr != nil {
		msg := fmt.Sprintf("Invalid paper input: %v", srcErr)
		traj.Log(ctx, StepTextExtraction, map[string]interface{}{"success": false, "error": srcErr.Error()})
		return c.abort(ctx, runID, "", &StepError{Step: StepTextExtraction, Message: msg, Err: srcErr}, traj, nil)
	}

	dec, err := c.decompose(ctx, src, traj)
	if err != nil {
		paperDir := ""
		if dec != nil {
			paperDir = dec.PaperDir
		}
		return c.abort(ctx, runID, paperDir, asStepError(err, StepDecomposition), traj, nil)
	}
	specJSON := specDocument(dec.Result.Spec)

	experiments := dec.Result.Spec.Experiments
	if experimentIndex < 0 || experimentIndex >= len(experiments) {
		msg := fmt.Sprintf("Experiment index %d out of range (only %d experiments found)", experimentIndex, len(experiments))
		return c.abort(ctx, runID, dec.PaperDir, &StepError{Step: StepExperimentSelection, Message: msg}, traj, specJSON)
	}
	exp := experiments[experimentIndex]

	logging.Pipeline("Generating notebook for experiment %d: %s", experimentIndex, exp.Title)
	synth := notebook.NewSynthesizer(c.client, c.opts.MaxRetries)
	artifact, err := synth.Synthesize(perception.WithStep(ctx, StepNotebookGeneration), exp, c.opts.ToyMode)
	if err != nil {
		traj.Log(ctx, StepNotebookGeneration, map[string]interface{}{"success": false, "error": err.Error()})
		se := &StepError{Step: StepNotebookGeneration, Message: fmt.Sprintf("Failed to generate notebook: %v", err), Err: err}
		return c.abort(ctx, runID, dec.PaperDir, se, traj, specJSON)
	}
	traj.Log(ctx, StepNotebookGeneration, map[string]interface{}{
		"num_cells":     artifact.Len(),
		"experiment_id": exp.ID,
		"success":       true,
	})

	notebookPath := filepath.Join(dec.PaperDir, fmt.Sprintf("notebook-experiment%d.ipynb", experimentIndex))
	if err := notebook.Save(artifact, notebookPath); err != nil {
		se := &StepError{Step: StepNotebookGeneration, Message: fmt.Sprintf("Failed to save notebook: %v", err), Err: err}
		return c.abort(ctx, runID, dec.PaperDir, se, traj, specJSON)
	}

	c.preflight(ctx, artifact, traj)

	logging.Pipeline("Executing notebook (max %d iterations)", c.opts.MaxIterations)
	loop := NewRepairLoop(c.executor, repair.NewRepairer(c.client), c.opts.MaxIterations, traj)
	lr := loop.Run(ctx, artifact, tactile.RunOptions{
		Image:        c.opts.Image,
		Limits:       c.opts.Limits,
		NotebookPath: notebookPath,
	})

	trajectoryPath := filepath.Join(dec.PaperDir, "trajectory.json")
	report := &Report{
		Success:         lr.State.Status == StatusSucceeded,
		Status:          lr.State.Status,
		RunID:           runID,
		PaperID:         src.PaperID,
		ExperimentIndex: experimentIndex,
		ExperimentTitle: exp.Title,
		OutputDirectory: dec.PaperDir,
		Files: Files{
			Decomposition: dec.Path,
			Notebook:      notebookPath,
			Trajectory:    trajectoryPath,
		},
		Execution: ExecutionSummary{
			Iterations:      len(lr.Iterations),
			FinalReturnCode: -1,
			Artifacts:       []string{},
			History:         lr.Iterations,
		},
	}
	if lr.Final != nil {
		report.Execution.FinalReturnCode = lr.Final.ExitCode
		report.Execution.ExecutionTime = lr.Final.Duration.Seconds()
		if lr.Final.Artifacts != nil {
			report.Execution.Artifacts = lr.Final.Artifacts
		}
		if lr.Final.ExecutedNotebook != "" {
			executed := lr.Final.ExecutedNotebook
			report.Files.ExecutedNotebook = &executed
		}
	}
	report.TotalTime = time.Since(start).Seconds()
	report.Trajectory = traj.Entries()

	res := &Result{State: lr.State, Report: report}
	reportPath := filepath.Join(dec.PaperDir, "run_report.json")
	if err := writeJSON(reportPath, report); err != nil {
		logging.PipelineError("Failed to write run report: %v", err)
	} else {
		res.ReportPath = reportPath
	}
	if err := traj.Save(trajectoryPath); err != nil {
		logging.PipelineError("Failed to write trajectory: %v", err)
	}

	out := store.Outcome{
		Status:        store.RunStatus(lr.State.Status),
		Error:         lr.State.Reason,
		ReportPath:    res.ReportPath,
		Decomposition: specJSON,
	}
	if lr.State.Status == StatusExhausted {
		out.Error = "Max iterations reached"
	}
	c.finishRun(ctx, runID, out)

	logging.Pipeline("Pipeline complete: status=%s iterations=%d total=%.1fs", lr.State, len(lr.Iterations), report.TotalTime)
	return res
}

// decompose resolves, reads, chunks and decomposes the paper. The returned
// Decomposition is non-nil whenever the output directory was created, even
// on error, so failure reports can be written next to partial output.
func (c *Controller) decompose(ctx context.Context, src ingest.Source, traj *Trajectory) (*Decomposition, error) {
	dec := &Decomposition{Source: src, PaperDir: filepath.Join(c.opts.OutputDir, src.PaperID)}
	if err := os.MkdirAll(dec.PaperDir, 0755); err != nil {
		return nil, &StepError{Step: StepTextExtraction, Message: fmt.Sprintf("Failed to create output directory: %v", err), Err: err}
	}

	path := src.Path
	if src.Remote() {
		logging.Pipeline("Fetching paper from %s", src.URL)
		downloaded, err := c.fetcher.Download(ctx, src, dec.PaperDir)
		if err != nil {
			traj.Log(ctx, StepArxivFetch, map[string]interface{}{"url": src.URL, "success": false, "error": err.Error()})
			return dec, &StepError{Step: StepArxivFetch, Message: fmt.Sprintf("Failed to download paper: %v", err), Err: err}
		}
		path = downloaded
		data := map[string]interface{}{"url": src.URL, "success": true, "path": downloaded}
		if src.ArxivID != "" {
			dec.Metadata = c.fetchMetadata(ctx, src.ArxivID, dec.PaperDir)
			if dec.Metadata != nil {
				data["title"] = dec.Metadata.Title
			}
		}
		traj.Log(ctx, StepArxivFetch, data)
	}

	text, err := ingest.ExtractText(path, c.opts.MaxPages)
	if err != nil {
		traj.Log(ctx, StepTextExtraction, map[string]interface{}{"success": false, "error": err.Error()})
		return dec, &StepError{Step: StepTextExtraction, Message: fmt.Sprintf("Failed to extract text: %v", err), Err: err}
	}
	traj.Log(ctx, StepTextExtraction, map[string]interface{}{"length": len(text), "success": true})

	chunks := ingest.ChunkText(text, c.opts.ChunkSize, c.opts.ChunkOverlap)
	traj.Log(ctx, StepChunking, map[string]interface{}{"num_chunks": len(chunks)})
	if len(chunks) == 0 {
		return dec, &StepError{Step: StepChunking, Message: "Failed to extract text: paper text is empty", Err: ingest.ErrNoText}
	}

	logging.Pipeline("Decomposing %d chunks", len(chunks))
	d := decompose.NewDecomposer(c.client, decompose.Options{
		MaxAttempts:   c.opts.MaxRetries,
		Workers:       c.opts.ExtractWorkers,
		ExperimentCap: c.opts.ExperimentCap,
	})
	result, err := d.Decompose(perception.WithStep(ctx, StepDecomposition), chunks)
	if err != nil {
		traj.Log(ctx, StepDecomposition, map[string]interface{}{"success": false, "error": err.Error()})
		return dec, &StepError{Step: StepDecomposition, Message: fmt.Sprintf("Failed to decompose paper: %v", err), Err: err}
	}
	dec.Result = result
	traj.Log(ctx, StepDecomposition, map[string]interface{}{
		"num_experiments": len(result.Spec.Experiments),
		"accepted_chunks": result.Accepted,
		"skipped_chunks":  len(result.SkippedChunks),
		"success":         true,
	})

	dec.Path = filepath.Join(dec.PaperDir, "decomposition.json")
	if err := writeJSON(dec.Path, result.Spec); err != nil {
		return dec, &StepError{Step: StepDecomposition, Message: fmt.Sprintf("Failed to save decomposition: %v", err), Err: err}
	}
	logging.Pipeline("Decomposition saved to %s (%d experiments)", dec.Path, len(result.Spec.Experiments))
	return dec, nil
}

// fetchMetadata is best effort: the abs page only enriches the output.
func (c *Controller) fetchMetadata(ctx context.Context, arxivID, dir string) *ingest.PaperMetadata {
	meta, err := c.fetcher.FetchArxivMetadata(ctx, arxivID)
	if err != nil {
		logging.PipelineWarn("arXiv metadata unavailable for %s: %v", arxivID, err)
		return nil
	}
	if err := writeJSON(filepath.Join(dir, "metadata.json"), meta); err != nil {
		logging.PipelineWarn("Failed to save metadata: %v", err)
	}
	return meta
}

func (c *Controller) preflight(ctx context.Context, artifact *notebook.Artifact, traj *Trajectory) {
	findings, err := notebook.Lint(ctx, artifact)
	if err != nil {
		logging.PipelineWarn("Pre-flight lint failed: %v", err)
		traj.Log(ctx, StepPreflight, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	msgs := make([]string, len(findings))
	for i, f := range findings {
		msgs[i] = f.String()
	}
	if len(findings) > 0 {
		logging.PipelineWarn("Pre-flight lint found %d issues; executing anyway", len(findings))
	}
	traj.Log(ctx, StepPreflight, map[string]interface{}{
		"success":  len(findings) == 0,
		"findings": msgs,
	})
}

func (c *Controller) beginRun(ctx context.Context, input, paperID string, experimentIndex int, traj *Trajectory) string {
	if c.recorder == nil {
		return ""
	}
	run, err := c.recorder.CreateRun(ctx, input, paperID, experimentIndex)
	if err != nil {
		logging.PipelineWarn("Run store unavailable, continuing without it: %v", err)
		return ""
	}
	traj.Attach(c.recorder, run.ID)
	logging.Pipeline("Run %s started", run.ID)
	return run.ID
}

func (c *Controller) finishRun(ctx context.Context, runID string, out store.Outcome) {
	if c.recorder == nil || runID == "" {
		return
	}
	if err := c.recorder.FinishRun(context.WithoutCancel(ctx), runID, out); err != nil {
		logging.PipelineWarn("Failed to record run outcome: %v", err)
	}
}

func (c *Controller) abort(ctx context.Context, runID, paperDir string, se *StepError, traj *Trajectory, specJSON json.RawMessage) *Result {
	logging.PipelineError("Pipeline aborted at %s: %s", se.Step, se.Message)
	failure := &FailureReport{
		Success:    false,
		Status:     StatusAborted,
		RunID:      runID,
		Step:       se.Step,
		Error:      se.Message,
		Trajectory: traj.Entries(),
	}
	res := &Result{State: Aborted(se.Message), Failure: failure}

	if paperDir != "" {
		reportPath := filepath.Join(paperDir, "run_report.json")
		if err := writeJSON(reportPath, failure); err != nil {
			logging.PipelineWarn("Failed to write failure report: %v", err)
		} else {
			res.ReportPath = reportPath
		}
		if err := traj.Save(filepath.Join(paperDir, "trajectory.json")); err != nil {
			logging.PipelineWarn("Failed to write trajectory: %v", err)
		}
	}

	c.finishRun(ctx, runID, store.Outcome{
		Status:        store.StatusAborted,
		Error:         se.Message,
		ReportPath:    res.ReportPath,
		Decomposition: specJSON,
	})
	return res
}

// specDocument encodes spec for the run store. An encoding failure only
// loses the stored copy, so it is logged and nil is returned.
func specDocument(spec *decompose.Spec) json.RawMessage {
	data, err := json.Marshal(spec)
	if err != nil {
		logging.PipelineWarn("Failed to encode decomposition for the run store: %v", err)
		return nil
	}
	return data
}

func asStepError(err error, fallback string) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		return se
	}
	return &StepError{Step: fallback, Message: err.Error(), Err: err}
}
