package workflow

import (
	"context"
	"slices"
)

// Result is the tagged value every step returns.
type Result struct {
	Signal Signal
	Data   map[string]string
	Err    error
	Step   string
}

// Terminal reports whether the result stops the sequence.
func (r Result) Terminal() bool {
	return r.Signal != SignalContinue
}

// Continue lets the sequencer move on to the next step.
func Continue() Result {
	return Result{}
}

// Succeed ends the sequence with an explicit success and its report payload.
func Succeed(data map[string]string) Result {
	return Result{Signal: SignalSuccess, Data: data}
}

// Terminate ends the sequence with sig.
func Terminate(sig Signal, err error) Result {
	return Result{Signal: sig, Err: err}
}

// FromError converts a helper error into a result.
func FromError(err error) Result {
	if err == nil {
		return Continue()
	}
	return Result{Signal: SignalOf(err), Err: err}
}

// StepFunc is the body of a step.
type StepFunc func(ctx context.Context, run *Run) Result

// Step is a named unit of work in a pipeline.
type Step struct {
	Name string

	// Requires lists entity fields that must be non-empty for the step to run.
	Requires []string

	// Required steps end the run with SignalEntityInvalid when Requires is
	// not met; optional steps are skipped silently.
	Required bool

	// Expects is the set of terminal signals the step may raise. Anything
	// else is treated as unclassified. SignalTerminatedByUser is always
	// accepted.
	Expects []Signal

	Run StepFunc
}

func (s Step) expects(sig Signal) bool {
	if sig == SignalTerminatedByUser || sig == SignalUnclassified {
		return true
	}
	return slices.Contains(s.Expects, sig)
}

// Do adapts an error-returning helper into a StepFunc.
func Do(fn func(ctx context.Context, run *Run) error) StepFunc {
	return func(ctx context.Context, run *Run) Result {
		return FromError(fn(ctx, run))
	}
}
