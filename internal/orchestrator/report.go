package orchestrator

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/supervisor"
)

// Status is the verdict class of a test or of the build step.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// RunResult maps client-slot ids to their terminal outcome. Each worker
// writes only its own slot.
type RunResult struct {
	mu       sync.Mutex
	outcomes map[int]supervisor.OutcomeKind
}

// NewRunResult returns an empty result.
func NewRunResult() *RunResult {
	return &RunResult{outcomes: make(map[int]supervisor.OutcomeKind)}
}

// Set records the outcome of slot.
func (r *RunResult) Set(slot int, kind supervisor.OutcomeKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[slot] = kind
}

// Len returns the number of resolved slots.
func (r *RunResult) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

// Counts returns how many slots resolved to each outcome.
func (r *RunResult) Counts() (successes, failures, timeouts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.outcomes {
		switch k {
		case supervisor.Success:
			successes++
		case supervisor.Failure:
			failures++
		case supervisor.Timeout:
			timeouts++
		}
	}
	return
}

// Snapshot returns a copy of the outcome map.
func (r *RunResult) Snapshot() map[int]supervisor.OutcomeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.outcomes)
}

// Report is the structured result of one test run.
type Report struct {
	Name    string
	Run     int
	Status  Status
	Message string

	Scheduled int
	Successes int
	Failures  int
	Timeouts  int
	Outcomes  map[int]supervisor.OutcomeKind

	// StopFailed is diagnostic only; it never changes Status.
	StopFailed bool

	// NodeKills is how many service nodes the injector killed.
	NodeKills int

	Duration time.Duration
}

// Passed reports whether the test passed.
func (r Report) Passed() bool {
	return r.Status == StatusPass
}

// Line formats the report as "<name>: <status> (<message>)".
func (r Report) Line() string {
	return FormatLine(r.Name, r.Status, r.Message)
}

// FormatLine formats one verdict line.
func FormatLine(name string, status Status, message string) string {
	return fmt.Sprintf("%s: %s (%s)", name, status, message)
}

// Verdict computes the status and message of a completed run. A test with
// no successful clients cannot pass, even if nothing failed.
func Verdict(run, successes, failures, timeouts int) (Status, string) {
	if failures == 0 && timeouts == 0 && successes > 0 {
		return StatusPass, "success"
	}
	// Timed out clients also count as failed in the headline figure.
	failed := failures + timeouts
	return StatusFail, fmt.Sprintf(
		"test %d failed, total %d/%d clients failed, %d clients timed out, see '*_%d.log' files for details",
		run, failed, failed+successes, timeouts, run)
}

func startupFailureMessage(run int) string {
	return fmt.Sprintf("test %d failed, mserver failed to start, see '*_%d.log' files for details", run, run)
}

func cancelledMessage(run int) string {
	return fmt.Sprintf("test %d cancelled during mserver warmup", run)
}
