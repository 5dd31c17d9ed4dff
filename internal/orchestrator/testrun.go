package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/injector"
	"github.com/randomizedcoder/go-kvs-tester/internal/logging"
	"github.com/randomizedcoder/go-kvs-tester/internal/process"
	"github.com/randomizedcoder/go-kvs-tester/internal/supervisor"
	"github.com/randomizedcoder/go-kvs-tester/internal/testcase"
)

// Executor runs commands and copies files on test hosts. remote.Shell
// implements it.
type Executor interface {
	Start(ctx context.Context, host, workdir string, argv []string, opts process.StartOptions) (*process.Handle, error)
	Run(ctx context.Context, host, workdir string, argv []string) (int, error)
	CopyTo(ctx context.Context, host, localPath, remotePath string, exclude []string) bool
	CopyFrom(ctx context.Context, host, remotePath, localPath string, exclude []string) bool
	KillAll(ctx context.Context, host, name string) error
	KillPattern(ctx context.Context, host, pattern string) error
}

// Engine defaults.
const (
	DefaultWarmup        = 5 * time.Second
	DefaultStopTimeout   = 30 * time.Second
	DefaultInjectorDelay = time.Second
)

// RunnerCallbacks contains optional callbacks for test run events. They may
// be called from worker goroutines concurrently.
type RunnerCallbacks struct {
	OnPhase     func(run int, phase Phase)
	OnSlotStart func(run, slot int, host string)
	OnIteration func(run, slot, iteration int, out supervisor.Outcome)
	OnSlotDone  func(run, slot int, kind supervisor.OutcomeKind)
	OnNodeKill  func(index int, host string, err error)
}

// RunnerConfig holds configuration for creating a TestRunner.
type RunnerConfig struct {
	Executor   Executor
	Supervisor *supervisor.Supervisor
	Service    *process.ServiceConfig
	Topology   *testcase.Topology

	// SrcDir is the deployed tree on every host; commands run inside it.
	SrcDir string

	Warmup        time.Duration
	StopTimeout   time.Duration
	InjectorDelay time.Duration

	// Seed drives fault-injection target selection. Zero picks a random seed.
	Seed int64

	Logger    *slog.Logger
	Callbacks RunnerCallbacks
}

// TestRunner executes one test case end to end: coordinator, fault
// injection, client workers, teardown and verdict.
type TestRunner struct {
	exec     Executor
	sup      *supervisor.Supervisor
	service  *process.ServiceConfig
	topology *testcase.Topology
	srcDir   string

	warmup        time.Duration
	stopTimeout   time.Duration
	injectorDelay time.Duration
	seed          int64

	logger    *slog.Logger
	callbacks RunnerCallbacks
}

// NewTestRunner creates a TestRunner, applying engine defaults to unset
// durations.
func NewTestRunner(cfg RunnerConfig) *TestRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	sup := cfg.Supervisor
	if sup == nil {
		sup = supervisor.New(supervisor.Config{Logger: logger})
	}
	service := cfg.Service
	if service == nil {
		service = process.DefaultServiceConfig()
	}
	r := &TestRunner{
		exec:          cfg.Executor,
		sup:           sup,
		service:       service,
		topology:      cfg.Topology,
		srcDir:        cfg.SrcDir,
		warmup:        cfg.Warmup,
		stopTimeout:   cfg.StopTimeout,
		injectorDelay: cfg.InjectorDelay,
		seed:          cfg.Seed,
		logger:        logger,
		callbacks:     cfg.Callbacks,
	}
	if r.srcDir == "" {
		r.srcDir = "."
	}
	if r.warmup <= 0 {
		r.warmup = DefaultWarmup
	}
	if r.stopTimeout <= 0 {
		r.stopTimeout = DefaultStopTimeout
	}
	if r.injectorDelay <= 0 {
		r.injectorDelay = DefaultInjectorDelay
	}
	return r
}

// Run executes tc as run number run and returns its report. Per-test
// failures are reported in the verdict, never returned.
func (r *TestRunner) Run(ctx context.Context, tc *testcase.TestCase, run int) Report {
	start := time.Now()
	rep := Report{Name: tc.Name, Run: run}
	logger := r.logger.With("test", tc.Name, "run", run)

	r.phase(run, PhaseIdle)
	r.killLeftovers(ctx)

	r.phase(run, PhaseCoordinatorStarting)
	coord, err := r.exec.Start(ctx, r.topology.CoordinatorHost, r.srcDir,
		r.service.CoordinatorArgs(run, tc.Verbose), process.StartOptions{Stdin: true})
	if err != nil {
		logger.Error("coordinator_start_failed", "error", err)
		return r.aborted(rep, start, startupFailureMessage(run))
	}
	logger.Info("coordinator_started", "host", r.topology.CoordinatorHost, "pid", coord.Pid())

	r.phase(run, PhaseCoordinatorWarmup)
	if !sleepCtx(ctx, r.warmup) {
		logger.Warn("coordinator_warmup_cancelled", "error", ctx.Err())
		r.sup.Stop(ctx, coord, r.stopTimeout)
		return r.aborted(rep, start, cancelledMessage(run))
	}
	if coord.Exited() {
		logger.Error("coordinator_exited_during_warmup", "exit_code", coord.ExitCode())
		r.sup.Stop(ctx, coord, r.stopTimeout)
		return r.aborted(rep, start, startupFailureMessage(run))
	}

	r.phase(run, PhaseRunning)
	inj := injector.New(injector.Config{
		Killer: r.exec,
		Logger: logger,
		Seed:   r.seed,
		OnKill: r.callbacks.OnNodeKill,
	})
	if tc.FailPeriod > 0 {
		inj.Start(ctx, r.topology.ServiceNodes, tc.FailPeriod, r.injectorDelay)
	}

	results := r.runSlots(ctx, tc, run, logger)

	r.phase(run, PhaseDraining)
	inj.Stop()
	rep.NodeKills = inj.Fired()

	stop := r.sup.Stop(ctx, coord, r.stopTimeout)
	if !stop.OK() {
		rep.StopFailed = true
		logger.Warn("coordinator_stop_failed", "outcome", stop.String())
	}
	r.phase(run, PhaseStopped)

	rep.Scheduled = tc.ScheduledSlots(len(r.topology.Clients))
	rep.Successes, rep.Failures, rep.Timeouts = results.Counts()
	rep.Outcomes = results.Snapshot()
	rep.Status, rep.Message = Verdict(run, rep.Successes, rep.Failures, rep.Timeouts)
	rep.Duration = time.Since(start)

	logger.Info("test_finished",
		"status", string(rep.Status),
		"successes", rep.Successes,
		"failures", rep.Failures,
		"timeouts", rep.Timeouts,
		"node_kills", rep.NodeKills,
		"duration", rep.Duration.String(),
	)
	r.phase(run, PhaseReported)
	return rep
}

// aborted reports a test that ended before any client ran.
func (r *TestRunner) aborted(rep Report, start time.Time, msg string) Report {
	rep.Status = StatusError
	rep.Message = msg
	rep.Outcomes = map[int]supervisor.OutcomeKind{}
	rep.Duration = time.Since(start)
	r.phase(rep.Run, PhaseReported)
	return rep
}

// runSlots launches one worker per scheduled client slot, in slot order,
// and waits for all of them.
func (r *TestRunner) runSlots(ctx context.Context, tc *testcase.TestCase, run int, logger *slog.Logger) *RunResult {
	results := NewRunResult()
	n := tc.ScheduledSlots(len(r.topology.Clients))
	if n < len(tc.ClientOps) {
		logger.Info("client_ops_truncated", "client_ops", len(tc.ClientOps), "slots", n)
	}

	var wg sync.WaitGroup
	for slot := 0; slot < n; slot++ {
		host := r.topology.Clients[slot]
		groups := tc.ClientOps[slot]

		wg.Add(1)
		go func() {
			defer wg.Done()
			kind := supervisor.Failure
			if len(groups) > 0 {
				// Only the first workload group of a client line is run.
				kind = r.runSlot(ctx, run, slot, host, groups[0], tc.Verbose, logger)
			}
			results.Set(slot, kind)
			if r.callbacks.OnSlotDone != nil {
				r.callbacks.OnSlotDone(run, slot, kind)
			}
		}()
	}
	wg.Wait()
	return results
}

// runSlot runs cs.Repeat client iterations back to back. The first
// iteration that does not succeed ends the slot with its outcome.
func (r *TestRunner) runSlot(ctx context.Context, run, slot int, host string, cs testcase.ClientSpec, verbose bool, logger *slog.Logger) supervisor.OutcomeKind {
	logger = logger.With("slot", slot, "host", host)
	if r.callbacks.OnSlotStart != nil {
		r.callbacks.OnSlotStart(run, slot, host)
	}

	for i := 0; i < cs.Repeat; i++ {
		h, err := r.exec.Start(ctx, host, r.srcDir,
			r.service.ClientArgs(slot, cs.OpFile, run, verbose), process.StartOptions{})
		if err != nil {
			logger.Error("client_start_failed", "iteration", i, "error", err)
			out := supervisor.Outcome{Kind: supervisor.Failure, ExitCode: -1, Err: err}
			if r.callbacks.OnIteration != nil {
				r.callbacks.OnIteration(run, slot, i, out)
			}
			return out.Kind
		}

		// Zero bounds the client immediately; only Await itself treats
		// zero as unbounded.
		timeout := cs.Timeout
		if timeout <= 0 {
			timeout = time.Nanosecond
		}
		out := r.sup.Await(ctx, h, timeout)
		if r.callbacks.OnIteration != nil {
			r.callbacks.OnIteration(run, slot, i, out)
		}
		if !out.OK() {
			logger.Info("client_failed",
				"iteration", i,
				"op_file", cs.OpFile,
				"outcome", out.String(),
			)
			return out.Kind
		}
	}

	logger.Debug("client_slot_passed", "iterations", cs.Repeat)
	return supervisor.Success
}

// killLeftovers removes coordinator, node and client processes of earlier
// runs. Failures, including "nothing to kill", are ignored.
func (r *TestRunner) killLeftovers(ctx context.Context) {
	killServiceProcesses(ctx, r.exec, r.topology, r.logger)
}

// killServiceProcesses kills every coordinator, node and client process of
// the test user on the hosts of topology.
func killServiceProcesses(ctx context.Context, exec Executor, topology *testcase.Topology, logger *slog.Logger) {
	targets := []struct {
		hosts []string
		name  string
	}{
		{[]string{topology.CoordinatorHost}, process.CoordinatorName},
		{topology.ServiceHosts(), process.ServerName},
		{topology.ClientHosts(), process.ClientName},
	}
	for _, t := range targets {
		for _, host := range t.hosts {
			if err := exec.KillAll(ctx, host, t.name); err != nil {
				logger.Debug("cleanup_kill", "host", host, "name", t.name, "error", err)
			}
		}
	}
}

func (r *TestRunner) phase(run int, p Phase) {
	r.logger.Debug("phase", "run", run, "phase", p.String())
	if r.callbacks.OnPhase != nil {
		r.callbacks.OnPhase(run, p)
	}
}

// sleepCtx sleeps for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
