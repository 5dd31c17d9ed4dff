// Package stats collects what happened during a test batch: verdicts per
// test, per-slot progress, client iteration timings and node kills.
//
// The Aggregator is fed by engine callbacks from many goroutines and read
// by the dashboard and the exit summary through Snapshot.
package stats

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-kvs-tester/internal/supervisor"
	"github.com/randomizedcoder/go-kvs-tester/internal/timeseries"
)

// TestResult is the outcome of one test case.
type TestResult struct {
	Name       string
	Run        int
	Status     string // pass, fail, error
	Message    string
	Scheduled  int
	Successes  int
	Failures   int
	Timeouts   int
	NodeKills  int
	StopFailed bool
	Duration   time.Duration
}

// CurrentTest describes the test in progress.
type CurrentTest struct {
	Name    string
	Run     int
	Phase   string
	Started time.Time
}

// Snapshot is a point-in-time copy of the aggregated state.
type Snapshot struct {
	Timestamp  time.Time
	Elapsed    time.Duration
	Build      string // "", pass, error
	TotalTests int

	Current *CurrentTest
	Slots   []SlotStats
	Results []TestResult

	Passed  int
	Failed  int
	Errored int

	Iterations      map[supervisor.OutcomeKind]int64
	TotalIterations int64
	IterationP50    time.Duration
	IterationP95    time.Duration
	IterationP99    time.Duration
	IterationMax    time.Duration

	// Client iterations per second over the short and long windows.
	IterationRate     float64
	IterationRateLong float64

	ExitCodes map[int]int
	NodeKills int64
}

// Aggregator accumulates batch statistics. It is safe for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	start      time.Time
	totalTests int
	build      string

	current *CurrentTest
	slots   map[int]*SlotStats
	results []TestResult

	digest     *tdigest.TDigest
	iterations map[supervisor.OutcomeKind]int64
	maxIter    time.Duration
	rate       *timeseries.RateTracker
	exitCodes  map[int]int
	nodeKills  int64
}

// NewAggregator creates an Aggregator for a batch of totalTests tests.
func NewAggregator(totalTests int) *Aggregator {
	return &Aggregator{
		start:      time.Now(),
		totalTests: totalTests,
		slots:      make(map[int]*SlotStats),
		digest:     tdigest.NewWithCompression(100),
		iterations: make(map[supervisor.OutcomeKind]int64),
		rate:       timeseries.NewRateTracker(),
		exitCodes:  make(map[int]int),
	}
}

// SetBuild records the build verdict.
func (a *Aggregator) SetBuild(status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.build = status
}

// TestStarted begins tracking a new test and clears per-slot state.
func (a *Aggregator) TestStarted(run int, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = &CurrentTest{Name: name, Run: run, Phase: "idle", Started: time.Now()}
	a.slots = make(map[int]*SlotStats)
}

// SetPhase records the lifecycle phase of the current test.
func (a *Aggregator) SetPhase(run int, phase string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil && a.current.Run == run {
		a.current.Phase = phase
	}
}

// SlotStarted records a client slot beginning its iterations.
func (a *Aggregator) SlotStarted(run, slot int, host string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots[slot] = newSlotStats(slot, host)
}

// IterationDone records one client invocation.
func (a *Aggregator) IterationDone(run, slot int, out supervisor.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.iterations[out.Kind]++
	a.rate.Add(1)
	a.exitCodes[out.ExitCode]++
	if out.Duration > 0 {
		a.digest.Add(out.Duration.Seconds(), 1)
		a.maxIter = max(a.maxIter, out.Duration)
	}
	if s, ok := a.slots[slot]; ok {
		s.recordIteration(out)
	}
}

// SlotDone records a slot's terminal outcome.
func (a *Aggregator) SlotDone(run, slot int, kind supervisor.OutcomeKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[slot]; ok {
		s.finish(kind)
	}
}

// NodeKilled records one fault-injection kill.
func (a *Aggregator) NodeKilled(index int, host string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nodeKills++
}

// TestFinished records a test's result.
func (a *Aggregator) TestFinished(r TestResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
	if a.current != nil && a.current.Run == r.Run {
		a.current.Phase = "reported"
	}
}

// Snapshot returns a copy of the current state.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	s := &Snapshot{
		Timestamp:  now,
		Elapsed:    now.Sub(a.start),
		Build:      a.build,
		TotalTests: a.totalTests,
		Results:    slices.Clone(a.results),
		Iterations: maps.Clone(a.iterations),
		ExitCodes:  maps.Clone(a.exitCodes),
		NodeKills:  a.nodeKills,
	}
	if a.current != nil {
		cur := *a.current
		s.Current = &cur
	}

	for _, slot := range a.slots {
		s.Slots = append(s.Slots, *slot)
	}
	slices.SortFunc(s.Slots, func(x, y SlotStats) int { return x.Slot - y.Slot })

	for _, r := range a.results {
		switch r.Status {
		case "pass":
			s.Passed++
		case "fail":
			s.Failed++
		default:
			s.Errored++
		}
	}

	for _, n := range a.iterations {
		s.TotalIterations += n
	}
	if a.digest.Count() > 0 {
		s.IterationP50 = seconds(a.digest.Quantile(0.50))
		s.IterationP95 = seconds(a.digest.Quantile(0.95))
		s.IterationP99 = seconds(a.digest.Quantile(0.99))
	}
	s.IterationMax = a.maxIter

	a.rate.Sample()
	rates := a.rate.Rates()
	s.IterationRate = rates.Short
	s.IterationRateLong = rates.Long

	return s
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
