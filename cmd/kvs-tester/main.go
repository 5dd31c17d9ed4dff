// Package main provides the kvs-tester CLI entry point.
//
// kvs-tester builds a distributed key-value store on every test host, runs a
// batch of test cases against it with optional service-node fault injection,
// and reports a pass/fail/error verdict per test.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-kvs-tester/internal/config"
	"github.com/randomizedcoder/go-kvs-tester/internal/logging"
	"github.com/randomizedcoder/go-kvs-tester/internal/orchestrator"
	"github.com/randomizedcoder/go-kvs-tester/internal/remote"
	"github.com/randomizedcoder/go-kvs-tester/internal/testcase"
	"github.com/randomizedcoder/go-kvs-tester/internal/tui"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/kvs-tester
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if cfg.PrintVersion {
		fmt.Printf("kvs-tester %s\n", version)
		return 0
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.Discard()
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	topo, err := testcase.LoadTopology(cfg.MserverHost, cfg.ServerConfigPath(), cfg.ClientConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Topology error: %v\n", err)
		return 1
	}
	tests, err := testcase.LoadList(cfg.TestsListPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Test list error: %v\n", err)
		return 1
	}

	out := io.Writer(os.Stdout)
	if cfg.TUIEnabled {
		out = io.Discard
	}

	rc := remote.DefaultConfig(cfg.User)
	rc.Local = cfg.Local()
	rc.Users = topo.Users
	rc.PrintCommands = cfg.PrintCmds
	rc.Out = out
	rc.Logger = logger
	shell := remote.New(rc)

	logger.Info("starting",
		"version", version,
		"remote", cfg.Remote,
		"mserver_host", cfg.MserverHost,
		"service_nodes", len(topo.ServiceNodes),
		"client_hosts", len(topo.ClientHosts()),
		"tests", len(tests),
		"metrics_addr", cfg.MetricsAddr,
	)

	orch := orchestrator.New(cfg, orchestrator.Options{
		Executor: shell,
		Topology: topo,
		Tests:    tests,
		Out:      out,
		Version:  version,
	}, logger)

	if cfg.TUIEnabled {
		err = runWithTUI(cfg, orch)
	} else {
		printBanner(cfg, topo, len(tests))
		err = orch.Run(context.Background())
	}

	if err != nil {
		logger.Error("batch_failed", "error", err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	return 0
}

// runWithTUI runs the batch behind the dashboard. Quitting the dashboard
// cancels the batch; teardown still runs before this returns.
func runWithTUI(cfg *config.Config, orch *orchestrator.Orchestrator) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mode := "local"
	if cfg.Remote {
		mode = "remote"
	}
	p := tea.NewProgram(tui.New(tui.Config{
		Mode:        mode,
		MserverHost: cfg.MserverHost,
		MetricsAddr: cfg.MetricsAddr,
		StatsSource: orch.Stats(),
	}), tea.WithAltScreen())

	done := make(chan error, 1)
	go func() {
		err := orch.Run(ctx)
		done <- err
		tui.SendDone(p, err)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return fmt.Errorf("tui: %w", err)
	}
	cancel()
	err := <-done

	// The dashboard owned the terminal; print what the batch would have.
	for _, r := range orch.Stats().Snapshot().Results {
		fmt.Println(orchestrator.FormatLine(r.Name, orchestrator.Status(r.Status), r.Message))
	}
	fmt.Print(orch.Summary())
	return err
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config, topo testcase.Topology, tests int) {
	mode := "local (all processes on this machine)"
	if cfg.Remote {
		mode = "remote (ssh/rsync as " + cfg.User + ")"
	}
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                          kvs-tester                               ║")
	fmt.Println("║     Distributed KV Store Testing with Fault Injection             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Mode:          %s\n", mode)
	fmt.Printf("  mserver:       %s\n", cfg.MserverHost)
	fmt.Printf("  Service nodes: %d\n", len(topo.ServiceNodes))
	fmt.Printf("  Client hosts:  %d\n", len(topo.ClientHosts()))
	fmt.Printf("  Tests:         %d\n", tests)
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:       http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}
