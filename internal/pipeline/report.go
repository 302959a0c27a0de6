package pipeline

// Files lists the paths a run produced.
type Files struct {
	Decomposition    string  `json:"decomposition"`
	Notebook         string  `json:"notebook"`
	ExecutedNotebook *string `json:"executed_notebook"`
	Trajectory       string  `json:"trajectory"`
}

// ExecutionSummary describes the last execution and the iteration history.
type ExecutionSummary struct {
	Iterations      int         `json:"iterations"`
	FinalReturnCode int         `json:"final_returncode"`
	ExecutionTime   float64     `json:"execution_time"` // seconds, last execution
	Artifacts       []string    `json:"artifacts"`
	History         []Iteration `json:"history"`
}

// Report is written to run_report.json when the pipeline reaches the
// execute/repair loop, whether or not the notebook ends up running cleanly.
type Report struct {
	Success         bool             `json:"success"`
	Status          Status           `json:"status"`
	RunID           string           `json:"run_id,omitempty"`
	PaperID         string           `json:"paper_id"`
	ExperimentIndex int              `json:"experiment_index"`
	ExperimentTitle string           `json:"experiment_title"`
	OutputDirectory string           `json:"output_directory"`
	Files           Files            `json:"files"`
	Execution       ExecutionSummary `json:"execution"`
	TotalTime       float64          `json:"total_time"` // seconds
	Trajectory      []Entry          `json:"trajectory"`
}

// FailureReport describes a run that aborted before or during the loop.
type FailureReport struct {
	Success    bool    `json:"success"`
	Status     Status  `json:"status"`
	RunID      string  `json:"run_id,omitempty"`
	Step       string  `json:"step"`
	Error      string  `json:"error"`
	Trajectory []Entry `json:"trajectory"`
}

// Result is what Controller.Run returns. Exactly one of Report and Failure
// is set.
type Result struct {
	State      State
	Report     *Report
	Failure    *FailureReport
	ReportPath string // "" when no report file could be written
}

// Success reports whether the notebook executed cleanly.
func (r *Result) Success() bool {
	return r.Report != nil && r.Report.Success
}

// Document returns the JSON document describing the run.
func (r *Result) Document() interface{} {
	if r.Report != nil {
		return r.Report
	}
	return r.Failure
}

// Error returns the abort reason, "" for runs that reached the loop and
// finished without being aborted.
func (r *Result) Error() string {
	if r.Failure != nil {
		return r.Failure.Error
	}
	if r.State.Status == StatusAborted {
		return r.State.Reason
	}
	return ""
}

// StepError is a structural failure that aborts a run at Step.
type StepError struct {
	Step    string
	Message string
	Err     error
}

func (e *StepError) Error() string { return e.Message }

func (e *StepError) Unwrap() error { return e.Err }
