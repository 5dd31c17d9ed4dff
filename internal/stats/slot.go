package stats

import (
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/supervisor"
)

// SlotStats tracks one client slot within the current test.
type SlotStats struct {
	Slot       int
	Host       string
	Started    time.Time
	Iterations int

	LastExitCode int
	LastDuration time.Duration

	Done    bool
	Outcome supervisor.OutcomeKind
}

func newSlotStats(slot int, host string) *SlotStats {
	return &SlotStats{Slot: slot, Host: host, Started: time.Now()}
}

func (s *SlotStats) recordIteration(out supervisor.Outcome) {
	s.Iterations++
	s.LastExitCode = out.ExitCode
	s.LastDuration = out.Duration
}

func (s *SlotStats) finish(kind supervisor.OutcomeKind) {
	s.Done = true
	s.Outcome = kind
}

// State is "running" until the slot finishes, then its outcome.
func (s SlotStats) State() string {
	if !s.Done {
		return "running"
	}
	return s.Outcome.String()
}
