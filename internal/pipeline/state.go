package pipeline

import "fmt"

// Status is the coarse state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
	StatusAborted   Status = "aborted"
)

// State is the repair loop state machine: Running(i) until the notebook
// executes cleanly (Succeeded), the iteration budget is spent (Exhausted)
// or a structural error stops the run (Aborted).
type State struct {
	Status    Status
	Iteration int    // current iteration while running, last iteration otherwise
	Reason    string // set when aborted
}

// Running returns the state for iteration i.
func Running(i int) State { return State{Status: StatusRunning, Iteration: i} }

// Aborted returns the terminal state for a structural failure.
func Aborted(reason string) State { return State{Status: StatusAborted, Reason: reason} }

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s.Status != StatusRunning
}

// Next computes the transition after iteration s.Iteration finished with
// the given execution outcome, under a budget of max iterations.
func (s State) Next(succeeded bool, max int) State {
	if s.Terminal() {
		return s
	}
	switch {
	case succeeded:
		return State{Status: StatusSucceeded, Iteration: s.Iteration}
	case s.Iteration >= max:
		return State{Status: StatusExhausted, Iteration: s.Iteration}
	default:
		return Running(s.Iteration + 1)
	}
}

func (s State) String() string {
	switch s.Status {
	case StatusRunning:
		return fmt.Sprintf("Running(%d)", s.Iteration)
	case StatusAborted:
		return fmt.Sprintf("Aborted(%s)", s.Reason)
	case StatusSucceeded:
		return "Succeeded"
	case StatusExhausted:
		return "Exhausted"
	}
	return string(s.Status)
}
