package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/config"
	"github.com/randomizedcoder/go-kvs-tester/internal/metrics"
	"github.com/randomizedcoder/go-kvs-tester/internal/preflight"
	"github.com/randomizedcoder/go-kvs-tester/internal/process"
	"github.com/randomizedcoder/go-kvs-tester/internal/remote"
	"github.com/randomizedcoder/go-kvs-tester/internal/stats"
	"github.com/randomizedcoder/go-kvs-tester/internal/supervisor"
	"github.com/randomizedcoder/go-kvs-tester/internal/testcase"
)

var (
	// ErrBuildFailed means the service could not be built on some host.
	ErrBuildFailed = errors.New("build failed")

	// ErrDistribute means configuration or operation files could not be
	// copied to the test hosts.
	ErrDistribute = errors.New("distribution failed")

	// ErrOpsGeneration means the operation-file generator failed.
	ErrOpsGeneration = errors.New("operation file generation failed")
)

// Options carries the collaborators of an Orchestrator.
type Options struct {
	// Executor reaches the test hosts. Required.
	Executor Executor

	// Local runs the operation generator on this machine. Defaults to a
	// local remote.Shell.
	Local Executor

	Topology testcase.Topology

	// Tests are test-case file names relative to the tests directory, in
	// run order.
	Tests []string

	// Out receives verdict lines and the exit summary. Defaults to stdout.
	Out io.Writer

	Version string
}

// Orchestrator runs a batch of tests: setup, build, distribution, every
// test in order, and the teardown that always follows.
type Orchestrator struct {
	config   *config.Config
	logger   *slog.Logger
	out      io.Writer
	exec     Executor
	local    Executor
	topology *testcase.Topology
	tests    []string
	version  string

	runner        *TestRunner
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	stats         *stats.Aggregator

	startTime time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *Orchestrator {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	local := opts.Local
	if local == nil {
		rc := remote.DefaultConfig(cfg.User)
		rc.PrintCommands = cfg.PrintCmds
		rc.Out = out
		rc.Logger = logger
		local = remote.New(rc)
	}
	topology := opts.Topology

	o := &Orchestrator{
		config:   cfg,
		logger:   logger,
		out:      out,
		exec:     opts.Executor,
		local:    local,
		topology: &topology,
		tests:    opts.Tests,
		version:  opts.Version,
		metrics:  metrics.NewCollector(),
		stats:    stats.NewAggregator(len(opts.Tests)),
	}
	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, o.metrics.Registry(), logger)
	}

	service := &process.ServiceConfig{
		CoordinatorBinary: "./" + process.CoordinatorName,
		ClientBinary:      "./" + process.ClientName,
		CoordinatorHost:   cfg.MserverHost,
		ClientPort:        cfg.ClientPort,
		ServerPort:        cfg.ServerPort,
		ServerConfig:      filepath.Base(cfg.ServerConfig),
	}

	phases := PhaseNames()
	o.runner = NewTestRunner(RunnerConfig{
		Executor:      opts.Executor,
		Service:       service,
		Topology:      o.topology,
		SrcDir:        cfg.RemoteSrcDir(),
		Warmup:        cfg.Warmup,
		StopTimeout:   cfg.StopTimeout,
		InjectorDelay: cfg.InjectorDelay,
		Seed:          cfg.Seed,
		Logger:        logger,
		Callbacks: RunnerCallbacks{
			OnPhase: func(run int, p Phase) {
				o.metrics.SetPhase(run, p.String(), phases)
				o.stats.SetPhase(run, p.String())
			},
			OnSlotStart: func(run, slot int, host string) {
				o.metrics.SlotStarted()
				o.stats.SlotStarted(run, slot, host)
			},
			OnIteration: func(run, slot, iteration int, out supervisor.Outcome) {
				o.metrics.RecordIteration(out.Kind.String(), out.ExitCode, out.Duration)
				o.stats.IterationDone(run, slot, out)
			},
			OnSlotDone: func(run, slot int, kind supervisor.OutcomeKind) {
				o.metrics.SlotFinished(kind.String())
				o.stats.SlotDone(run, slot, kind)
			},
			OnNodeKill: func(index int, host string, err error) {
				o.metrics.RecordNodeKill(host, err)
				o.stats.NodeKilled(index, host)
			},
		},
	})

	return o
}

// Run executes the batch. It blocks until every test has run or a signal
// arrives. Per-test failures are printed as verdicts and do not make Run
// fail; build, distribution and operation-generation failures do.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	if !o.config.SkipPreflight {
		result := preflight.RunAll(o.preflightOptions())
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use --skip-preflight to override)")
		}
	}

	mode := "local"
	if o.config.Remote {
		mode = "remote"
	}
	o.metrics.SetInfo(o.version, mode, o.config.MserverHost)

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
				o.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if o.config.GenerateOps {
		if err := o.generateOps(ctx); err != nil {
			return err
		}
	}

	o.logger.Info("batch_starting",
		"tests", len(o.tests),
		"mode", mode,
		"mserver_host", o.topology.CoordinatorHost,
		"service_nodes", len(o.topology.ServiceNodes),
		"client_slots", len(o.topology.Clients),
	)

	killServiceProcesses(ctx, o.exec, o.topology, o.logger)
	defer o.teardown(ctx)

	if !o.buildAll(ctx) {
		return ErrBuildFailed
	}
	if err := o.distribute(ctx); err != nil {
		return err
	}

	for run, name := range o.tests {
		if ctx.Err() != nil {
			o.logger.Info("batch_cancelled", "completed", run, "tests", len(o.tests))
			return ctx.Err()
		}
		o.runTest(ctx, run, name)
	}

	o.logger.Info("batch_finished",
		"tests", len(o.tests),
		"duration", time.Since(o.startTime).String(),
	)
	return nil
}

// runTest loads, runs and reports one test, then archives or removes the
// service-node logs of the run.
func (o *Orchestrator) runTest(ctx context.Context, run int, name string) {
	o.stats.TestStarted(run, name)

	tc, err := testcase.LoadTestCase(o.config.TestsPath() + name)
	if err != nil {
		o.logger.Error("test_load_failed", "test", name, "run", run, "error", err)
		rep := Report{
			Name:    name,
			Run:     run,
			Status:  StatusError,
			Message: fmt.Sprintf("test %d failed, cannot load test case: %v", run, err),
		}
		o.report(rep)
		return
	}

	o.logger.Info("test_started",
		"test", tc.Name,
		"run", run,
		"fail_period", tc.FailPeriod.String(),
		"clients", tc.ScheduledSlots(len(o.topology.Clients)),
	)
	rep := o.runner.Run(ctx, &tc, run)
	o.report(rep)
	o.rotateServerLogs(ctx, run, tc.Verbose)
}

func (o *Orchestrator) report(rep Report) {
	fmt.Fprintln(o.out, rep.Line())
	o.metrics.RecordTest(string(rep.Status), rep.Duration, rep.StopFailed)
	o.stats.TestFinished(stats.TestResult{
		Name:       rep.Name,
		Run:        rep.Run,
		Status:     string(rep.Status),
		Message:    rep.Message,
		Scheduled:  rep.Scheduled,
		Successes:  rep.Successes,
		Failures:   rep.Failures,
		Timeouts:   rep.Timeouts,
		NodeKills:  rep.NodeKills,
		StopFailed: rep.StopFailed,
		Duration:   rep.Duration,
	})
}

// generateOps runs the operation generator once per ops-list line, from
// the tester directory.
func (o *Orchestrator) generateOps(ctx context.Context) error {
	lines, err := testcase.LoadList(o.config.OpsListPath())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpsGeneration, err)
	}
	for _, line := range lines {
		argv := append([]string{o.config.OpsGenerator}, strings.Fields(line)...)
		argv = append(argv, ">", "/dev/null")

		code, err := o.local.Run(ctx, "localhost", o.config.TesterPath, argv)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrOpsGeneration, line, err)
		}
		if code != 0 {
			return fmt.Errorf("%w: %q exited with status %d", ErrOpsGeneration, line, code)
		}
		o.logger.Debug("ops_generated", "args", line)
	}
	o.logger.Info("ops_generation_complete", "invocations", len(lines))
	return nil
}

// buildAll deploys and builds the source on the coordinator host and, in
// remote mode, on every node and client host. It prints the make verdict.
func (o *Orchestrator) buildAll(ctx context.Context) bool {
	ok := o.build(ctx, o.config.SourcePath(), o.topology.CoordinatorHost)
	if ok && o.config.Remote {
		for _, host := range o.topology.ServiceHosts() {
			if ok = o.build(ctx, o.config.SourcePath(), host); !ok {
				break
			}
		}
	}
	if ok && o.config.Remote {
		for _, host := range o.topology.ClientHosts() {
			if ok = o.build(ctx, o.config.ClientSourcePath(), host); !ok {
				break
			}
		}
	}

	status, msg := StatusPass, "success"
	if !ok {
		status, msg = StatusError, "make failed, see 'make.log' for details"
	}
	fmt.Fprintln(o.out, FormatLine("make", status, msg))
	o.metrics.RecordBuild(ok)
	o.stats.SetBuild(string(status))
	return ok
}

// build replaces the deployed tree on host with src and runs make in it.
func (o *Orchestrator) build(ctx context.Context, src, host string) bool {
	dst := o.config.RemoteSrcDir()
	logger := o.logger.With("host", host)

	o.exec.Run(ctx, host, ".", []string{"rm", "-rf", dst})

	if code, err := o.exec.Run(ctx, host, ".", []string{"mkdir", "-p", dst}); err != nil || code != 0 {
		logger.Error("deploy_mkdir_failed", "dir", dst, "exit_code", code, "error", err)
		return false
	}
	if !o.exec.CopyTo(ctx, host, src, dst, o.config.Exclude) {
		logger.Error("deploy_copy_failed", "src", src, "dst", dst)
		return false
	}

	start := time.Now()
	code, err := o.exec.Run(ctx, host, dst, []string{"make", ">", "make.log", "2>&1"})
	if err != nil || code != 0 {
		logger.Error("build_failed", "exit_code", code, "error", err)
		return false
	}
	logger.Info("build_complete", "duration", time.Since(start).String())
	return true
}

// distribute copies the node configuration to the coordinator host and the
// operation files to every client host.
func (o *Orchestrator) distribute(ctx context.Context) error {
	dst := o.config.RemoteSrcDir()

	if !o.exec.CopyTo(ctx, o.topology.CoordinatorHost, o.config.ServerConfigPath(), dst, nil) {
		return fmt.Errorf("%w: server config to %s", ErrDistribute, o.topology.CoordinatorHost)
	}

	hosts := []string{"localhost"}
	if o.config.Remote {
		hosts = o.topology.ClientHosts()
	}
	for _, host := range hosts {
		o.exec.Run(ctx, host, dst, []string{"rm", "-f", "ops_*.txt"})
		if !o.exec.CopyTo(ctx, host, o.config.TestsPath(), dst, nil) {
			return fmt.Errorf("%w: operation files to %s", ErrDistribute, host)
		}
	}
	return nil
}

// rotateServerLogs keeps each node's log under a run-indexed name when the
// test is verbose and deletes it otherwise.
func (o *Orchestrator) rotateServerLogs(ctx context.Context, run int, verbose bool) {
	dst := o.config.RemoteSrcDir()
	for i, host := range o.topology.ServiceNodes {
		argv := []string{"rm", "-f", process.ServerLogName(i)}
		if verbose {
			argv = []string{"mv", process.ServerLogName(i), process.ServerRunLogName(i, run)}
		}
		if code, err := o.exec.Run(ctx, host, dst, argv); err != nil || code != 0 {
			o.logger.Debug("server_log_rotate", "host", host, "node", i, "exit_code", code, "error", err)
		}
	}
}

// teardown collects logs and kills every service process. It runs even if
// the batch was cancelled.
func (o *Orchestrator) teardown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	o.collectLogs(ctx)
	killServiceProcesses(ctx, o.exec, o.topology, o.logger)
	if o.config.CleanupSrc {
		o.cleanupSrc(ctx)
	}

	if o.config.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(o.config.MetricsTextfile, o.metrics.Registry()); err != nil {
			o.logger.Warn("metrics_textfile_failed", "path", o.config.MetricsTextfile, "error", err)
		}
	}
	if !o.config.TUIEnabled {
		fmt.Fprint(o.out, o.Summary())
	}
}

func (o *Orchestrator) collectLogs(ctx context.Context) {
	pattern := o.config.RemoteSrcDir() + "*.log"
	if o.config.StderrLogsOnly {
		pattern = o.config.RemoteSrcDir() + "*_stderr.log"
	}
	for _, host := range o.hosts() {
		if !o.exec.CopyFrom(ctx, host, pattern, o.config.LogDir, nil) {
			o.logger.Debug("log_collection_incomplete", "host", host, "pattern", pattern)
		}
	}
}

func (o *Orchestrator) cleanupSrc(ctx context.Context) {
	dst := o.config.RemoteSrcDir()
	for _, host := range o.hosts() {
		if code, err := o.exec.Run(ctx, host, ".", []string{"rm", "-rf", dst}); err != nil || code != 0 {
			o.logger.Warn("cleanup_src_failed", "host", host, "exit_code", code, "error", err)
		}
	}
}

// hosts is every host that received a deployed tree.
func (o *Orchestrator) hosts() []string {
	if !o.config.Remote {
		return []string{o.topology.CoordinatorHost}
	}
	return o.topology.AllHosts()
}

func (o *Orchestrator) preflightOptions() preflight.Options {
	tools := append([]string{}, preflight.LocalTools...)
	processes := len(o.topology.Clients) + 1
	if o.config.Remote {
		tools = append(tools, preflight.RemoteTools...)
	} else {
		processes += len(o.topology.ServiceNodes)
	}
	return preflight.Options{Processes: processes, Tools: tools}
}

// Summary formats the exit summary of the batch so far.
func (o *Orchestrator) Summary() string {
	mode := "local"
	if o.config.Remote {
		mode = "remote"
	}
	return stats.FormatExitSummary(o.stats.Snapshot(), stats.SummaryConfig{
		Mode:        mode,
		MetricsAddr: o.config.MetricsAddr,
		LogDir:      o.config.LogDir,
	})
}

// Stats returns the batch statistics for external access.
func (o *Orchestrator) Stats() *stats.Aggregator {
	return o.stats
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}
