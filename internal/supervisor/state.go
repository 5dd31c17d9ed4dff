// Package supervisor awaits spawned processes with a bound on how long they
// may run and classifies how they ended.
package supervisor

import (
	"fmt"
	"time"
)

// OutcomeKind is the terminal classification of an awaited process.
type OutcomeKind int

const (
	// Success means the process exited with status 0.
	Success OutcomeKind = iota

	// Failure means the process exited with a non-zero status, or could not
	// be awaited at all.
	Failure

	// Timeout means the process outlived its allotted time and was killed.
	Timeout
)

// String returns a human-readable name for the outcome.
func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Outcome describes how an awaited process ended.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int
	Duration time.Duration

	// Err is set when the wait itself was interrupted, e.g. by cancellation.
	Err error
}

// OK reports whether the outcome is Success.
func (o Outcome) OK() bool {
	return o.Kind == Success
}

func (o Outcome) String() string {
	switch {
	case o.Err != nil:
		return fmt.Sprintf("%s (%v)", o.Kind, o.Err)
	case o.Kind == Failure:
		return fmt.Sprintf("%s (exit %d)", o.Kind, o.ExitCode)
	default:
		return o.Kind.String()
	}
}
