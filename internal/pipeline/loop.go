package pipeline

import (
	"context"
	"time"

	"paper2nb/internal/logging"
	"paper2nb/internal/notebook"
	"paper2nb/internal/perception"
	"paper2nb/internal/repair"
	"paper2nb/internal/tactile"
)

// Executor runs a notebook artifact. *tactile.NotebookRunner implements it.
// Execute never fails: sandbox errors come back as a failed result.
type Executor interface {
	Execute(ctx context.Context, artifact *notebook.Artifact, opts tactile.RunOptions) *tactile.NotebookResult
}

// Iteration summarizes one execute (and possibly repair) round.
type Iteration struct {
	Number        int      `json:"iteration"`
	ReturnCode    int      `json:"returncode"`
	ExecutionTime float64  `json:"execution_time"`
	Artifacts     []string `json:"artifacts,omitempty"`
	ErrorKind     string   `json:"error_kind,omitempty"`
	FailingCell   *int     `json:"failing_cell,omitempty"`
	FixApplied    bool     `json:"fix_applied"`
	FixError      string   `json:"fix_error,omitempty"`
}

// LoopResult is the outcome of the execute/repair loop.
type LoopResult struct {
	State      State
	Final      *tactile.NotebookResult // last execution, nil if none ran
	Artifact   *notebook.Artifact      // last-known artifact
	Iterations []Iteration

	// ExecutionTime is the summed sandbox time of every iteration.
	ExecutionTime time.Duration
}

// RepairLoop executes a notebook and patches it after each failure until it
// runs cleanly or the iteration budget is spent.
type RepairLoop struct {
	executor      Executor
	repairer      *repair.Repairer
	maxIterations int
	traj          *Trajectory
}

// NewRepairLoop creates a loop. maxIterations < 1 is treated as 1.
func NewRepairLoop(executor Executor, repairer *repair.Repairer, maxIterations int, traj *Trajectory) *RepairLoop {
	if maxIterations < 1 {
		maxIterations = 1
	}
	if traj == nil {
		traj = NewTrajectory()
	}
	return &RepairLoop{
		executor:      executor,
		repairer:      repairer,
		maxIterations: maxIterations,
		traj:          traj,
	}
}

// Run drives the loop from Running(1). A failed repair never stops the
// loop; the next iteration re-executes the last-known artifact. Patched
// notebooks are written back to opts.NotebookPath when it is set. Only
// context cancellation aborts.
func (l *RepairLoop) Run(ctx context.Context, artifact *notebook.Artifact, opts tactile.RunOptions) *LoopResult {
	res := &LoopResult{State: Running(1), Artifact: artifact}

	for !res.State.Terminal() {
		if err := ctx.Err(); err != nil {
			res.State = Aborted(err.Error())
			break
		}
		i := res.State.Iteration
		logging.Pipeline("Iteration %d/%d: executing notebook", i, l.maxIterations)

		result := l.executor.Execute(perception.WithStep(ctx, StepExecution), res.Artifact, opts)
		res.Final = result
		res.ExecutionTime += result.Duration
		it := Iteration{
			Number:        i,
			ReturnCode:    result.ExitCode,
			ExecutionTime: result.Duration.Seconds(),
			Artifacts:     result.Artifacts,
		}

		if err := ctx.Err(); err != nil {
			res.Iterations = append(res.Iterations, it)
			l.traj.Log(ctx, StepExecution, map[string]interface{}{
				"success": false, "iteration": i, "returncode": result.ExitCode, "error": err.Error(),
			})
			res.State = Aborted(err.Error())
			break
		}

		res.State = res.State.Next(result.Succeeded(), l.maxIterations)
		switch res.State.Status {
		case StatusSucceeded:
			logging.Pipeline("Notebook executed successfully on iteration %d", i)
			l.traj.Log(ctx, StepExecution, map[string]interface{}{
				"success":        true,
				"iteration":      i,
				"returncode":     result.ExitCode,
				"execution_time": it.ExecutionTime,
				"artifacts":      result.Artifacts,
			})
		case StatusExhausted:
			logging.PipelineWarn("Max iterations (%d) reached without a clean run", l.maxIterations)
			l.traj.Log(ctx, StepExecution, map[string]interface{}{
				"success":        false,
				"iteration":      i,
				"returncode":     result.ExitCode,
				"execution_time": it.ExecutionTime,
				"error":          "Max iterations reached",
			})
		default:
			l.traj.Log(ctx, StepExecution, map[string]interface{}{
				"success":        false,
				"iteration":      i,
				"returncode":     result.ExitCode,
				"execution_time": it.ExecutionTime,
			})
			l.repair(ctx, result, res, &it, opts.NotebookPath)
		}
		res.Iterations = append(res.Iterations, it)
	}

	logging.Pipeline("Repair loop finished: %s", res.State)
	return res
}

func (l *RepairLoop) repair(ctx context.Context, result *tactile.NotebookResult, res *LoopResult, it *Iteration, notebookPath string) {
	attempt, err := l.repairer.Repair(perception.WithStep(ctx, StepFixGeneration), result, res.Artifact)
	it.ErrorKind = attempt.Report.ErrorKind
	it.FailingCell = attempt.Report.CellIndex

	data := map[string]interface{}{
		"iteration":  it.Number,
		"error_kind": attempt.Report.ErrorKind,
	}
	if attempt.Report.CellIndex != nil {
		data["failing_cell"] = *attempt.Report.CellIndex
	}
	if attempt.Fix != nil {
		data["analysis"] = attempt.Fix.Analysis
		data["num_fixes"] = len(attempt.Fix.Cells)
	}

	if err != nil {
		it.FixError = err.Error()
		data["success"] = false
		data["error"] = err.Error()
		l.traj.Log(ctx, StepFixGeneration, data)
		return
	}

	it.FixApplied = true
	data["success"] = true
	l.traj.Log(ctx, StepFixGeneration, data)
	res.Artifact = attempt.Artifact

	if notebookPath != "" {
		if err := notebook.Save(res.Artifact, notebookPath); err != nil {
			logging.PipelineWarn("Failed to save patched notebook: %v", err)
		}
	}
}
