package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/config"
	"github.com/randomizedcoder/go-kvs-tester/internal/remote"
	"github.com/randomizedcoder/go-kvs-tester/internal/testcase"
)

// =============================================================================
// Batch fixtures
// =============================================================================

type batch struct {
	cfg    *config.Config
	exec   *fakeExecutor
	out    *bytes.Buffer
	srcDir string
}

// newBatch lays out a tester directory with the given test-case files and
// a deployed tree with fake service binaries.
func newBatch(t *testing.T, tests map[string]string) *batch {
	t.Helper()

	testerDir := t.TempDir()
	testsDir := filepath.Join(testerDir, "tests")
	if err := os.MkdirAll(testsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range tests {
		if err := os.WriteFile(filepath.Join(testsDir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.TesterPath = testerDir
	cfg.RemoteSrc = writeService(t, coordinatorOK)
	cfg.LogDir = t.TempDir()
	cfg.SkipPreflight = true
	cfg.Warmup = 150 * time.Millisecond
	cfg.StopTimeout = 2 * time.Second
	cfg.InjectorDelay = 50 * time.Millisecond
	cfg.Seed = 1

	return &batch{
		cfg:    cfg,
		exec:   newFakeExecutor(),
		out:    &bytes.Buffer{},
		srcDir: cfg.RemoteSrc,
	}
}

func (b *batch) orchestrator(topo testcase.Topology, tests []string) *Orchestrator {
	return New(b.cfg, Options{
		Executor: b.exec,
		Topology: topo,
		Tests:    tests,
		Out:      b.out,
		Version:  "test",
	}, testLogger())
}

func (b *batch) lines() []string {
	var lines []string
	for _, l := range strings.Split(b.out.String(), "\n") {
		if strings.Contains(l, ": pass (") || strings.Contains(l, ": fail (") || strings.Contains(l, ": error (") {
			lines = append(lines, l)
		}
	}
	return lines
}

func indexOf(list []string, want string) int {
	return slices.IndexFunc(list, func(s string) bool { return strings.Contains(s, want) })
}

// =============================================================================
// Tests: Batch driver
// =============================================================================

func TestOrchestrator_RunsTestsInOrder(t *testing.T) {
	b := newBatch(t, map[string]string{
		"basic.txt":   "basic\n0 1\nok_a.txt 1 5\nok_b.txt 1 5\n",
		"failing.txt": "failing\n# quiet, no fault injection\n0 0\nok.txt 1 5\nfail.txt 1 5\n",
	})
	topo := testcase.Topology{
		CoordinatorHost: "localhost",
		ServiceNodes:    []string{"localhost", "localhost"},
		Clients:         []string{"localhost", "localhost"},
	}

	orch := b.orchestrator(topo, []string{"basic.txt", "failing.txt", "missing.txt"})
	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := b.lines()
	want := []string{
		"make: pass (success)",
		"basic: pass (success)",
		"failing: fail (test 1 failed, total 1/2 clients failed, 0 clients timed out, see '*_1.log' files for details)",
	}
	if len(lines) != 4 {
		t.Fatalf("verdict lines = %q", lines)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q\nwant     %q", i, lines[i], w)
		}
	}
	if !strings.HasPrefix(lines[3], "missing.txt: error (test 2 failed, cannot load test case") {
		t.Errorf("load failure line = %q", lines[3])
	}

	runs, copies, _, _ := b.exec.recorded()

	// Verbose test keeps node logs under a run-indexed name; quiet test drops them.
	for _, w := range []string{
		"localhost: mv server_0.log server_0_0.log",
		"localhost: mv server_1.log server_1_0.log",
		"localhost: rm -f server_0.log",
		"localhost: rm -f server_1.log",
	} {
		if !slices.Contains(runs, w) {
			t.Errorf("missing command %q in %q", w, runs)
		}
	}

	// Build happens before distribution, and logs are collected at the end.
	if indexOf(runs, "make > make.log 2>&1") < 0 {
		t.Fatal("make never ran")
	}
	if indexOf(copies, "srvcfg_local.txt") < 0 {
		t.Errorf("server config not distributed: %q", copies)
	}
	if indexOf(copies, "tests/") < 0 {
		t.Errorf("operation files not distributed: %q", copies)
	}
	last := copies[len(copies)-1]
	if !strings.HasPrefix(last, "from localhost") || !strings.Contains(last, "*.log") {
		t.Errorf("last copy = %q, want log collection", last)
	}

	if !strings.Contains(b.out.String(), "Exit Summary") {
		t.Error("exit summary not printed")
	}
	snap := orch.Stats().Snapshot()
	if snap.Passed != 1 || snap.Failed != 1 || snap.Errored != 1 {
		t.Errorf("stats = pass %d fail %d error %d", snap.Passed, snap.Failed, snap.Errored)
	}
}

func TestOrchestrator_BuildFailure(t *testing.T) {
	b := newBatch(t, map[string]string{"basic.txt": "basic\n0 0\nok.txt 1 5\n"})
	b.exec.runCode = func(host string, argv []string) int {
		if argv[0] == "make" {
			return 2
		}
		return 0
	}

	topo := testcase.Topology{CoordinatorHost: "localhost", ServiceNodes: []string{"localhost"}, Clients: []string{"localhost"}}
	err := b.orchestrator(topo, []string{"basic.txt"}).Run(context.Background())

	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("err = %v, want ErrBuildFailed", err)
	}
	lines := b.lines()
	if len(lines) != 1 || lines[0] != "make: error (make failed, see 'make.log' for details)" {
		t.Errorf("lines = %q", lines)
	}
	if calls := clientCalls(t, b.srcDir); len(calls) != 0 {
		t.Errorf("tests ran after a failed build: %v", calls)
	}

	// Teardown still collects logs and kills leftovers.
	_, copies, kills, _ := b.exec.recorded()
	if indexOf(copies, "*.log") < 0 {
		t.Error("logs not collected after build failure")
	}
	if len(kills) < 6 {
		t.Errorf("kills = %v, want initial and final cleanup", kills)
	}
}

func TestOrchestrator_DeployFailureFailsBuild(t *testing.T) {
	b := newBatch(t, nil)
	b.exec.copyOK = func(src, dst string) bool {
		return src != b.cfg.SourcePath()
	}

	topo := testcase.Topology{CoordinatorHost: "localhost"}
	err := b.orchestrator(topo, nil).Run(context.Background())

	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("err = %v, want ErrBuildFailed", err)
	}
	runs, _, _, _ := b.exec.recorded()
	if indexOf(runs, "make >") >= 0 {
		t.Error("make ran although the source copy failed")
	}
}

func TestOrchestrator_DistributionFailure(t *testing.T) {
	b := newBatch(t, nil)
	b.exec.copyOK = func(src, dst string) bool {
		return !strings.HasSuffix(src, "tests/")
	}

	topo := testcase.Topology{CoordinatorHost: "localhost"}
	err := b.orchestrator(topo, nil).Run(context.Background())

	if !errors.Is(err, ErrDistribute) {
		t.Fatalf("err = %v, want ErrDistribute", err)
	}
}

func TestOrchestrator_RemoteBuildHosts(t *testing.T) {
	b := newBatch(t, nil)
	b.cfg.Remote = true
	b.cfg.ClientSrc = "/src/client"

	topo := testcase.Topology{
		CoordinatorHost: "m",
		ServiceNodes:    []string{"n1", "n2", "n1"},
		Clients:         []string{"c1", "c2", "c1"},
	}
	if err := b.orchestrator(topo, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, copies, _, _ := b.exec.recorded()
	var built []string
	for _, r := range runs {
		if strings.HasSuffix(r, "make > make.log 2>&1") {
			built = append(built, strings.SplitN(r, ":", 2)[0])
		}
	}
	if want := []string{"m", "n1", "n2", "c1", "c2"}; !slices.Equal(built, want) {
		t.Errorf("built on %v, want %v", built, want)
	}

	if indexOf(copies, "to c1 /src/client/") < 0 {
		t.Errorf("client hosts did not receive the client tree: %q", copies)
	}
	// Operation files go to every distinct client host.
	for _, host := range []string{"c1", "c2"} {
		if !slices.ContainsFunc(copies, func(c string) bool {
			return strings.HasPrefix(c, "to "+host+" ") && strings.Contains(c, "tests/")
		}) {
			t.Errorf("no operation files copied to %s", host)
		}
	}
	// Logs come back from every host.
	for _, host := range []string{"m", "n1", "n2", "c1", "c2"} {
		if indexOf(copies, "from "+host+" ") < 0 {
			t.Errorf("logs not collected from %s", host)
		}
	}
}

func TestOrchestrator_CleanupSrc(t *testing.T) {
	b := newBatch(t, nil)
	b.cfg.CleanupSrc = true

	topo := testcase.Topology{CoordinatorHost: "localhost"}
	if err := b.orchestrator(topo, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, _, _, _ := b.exec.recorded()
	want := "localhost: rm -rf " + b.cfg.RemoteSrcDir()
	if n := strings.Count(strings.Join(runs, "\n"), want); n != 2 {
		t.Errorf("%q ran %d times, want 2 (before build and at teardown)", want, n)
	}
}

func TestOrchestrator_GenerateOps(t *testing.T) {
	b := newBatch(t, nil)
	b.cfg.GenerateOps = true

	// printf, not echo: dash's echo swallows a leading -n.
	script := "#!/bin/sh\nprintf '%s\\n' \"$*\" >> generated.txt\n"
	if err := os.WriteFile(filepath.Join(b.cfg.TesterPath, "opsgen2.py"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	ops := "# generator arguments\n-n 10 -o ops_a.txt\n\n-n 20 -o ops_b.txt\n"
	if err := os.WriteFile(b.cfg.OpsListPath(), []byte(ops), 0o644); err != nil {
		t.Fatal(err)
	}

	topo := testcase.Topology{CoordinatorHost: "localhost"}
	orch := New(b.cfg, Options{
		Executor: b.exec,
		Local:    remote.New(remote.Config{Local: true, Out: io.Discard, Logger: testLogger()}),
		Topology: topo,
		Out:      b.out,
	}, testLogger())

	if err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(b.cfg.TesterPath, "generated.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "-n 10 -o ops_a.txt\n-n 20 -o ops_b.txt\n" {
		t.Errorf("generator invocations = %q", got)
	}
}

func TestOrchestrator_GenerateOpsFailure(t *testing.T) {
	b := newBatch(t, nil)
	b.cfg.GenerateOps = true

	if err := os.WriteFile(filepath.Join(b.cfg.TesterPath, "opsgen2.py"), []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b.cfg.OpsListPath(), []byte("-n 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	topo := testcase.Topology{CoordinatorHost: "localhost"}
	err := b.orchestrator(topo, nil).Run(context.Background())

	if !errors.Is(err, ErrOpsGeneration) {
		t.Fatalf("err = %v, want ErrOpsGeneration", err)
	}
	if runs, _, _, _ := b.exec.recorded(); len(runs) != 0 {
		t.Errorf("batch continued after generator failure: %q", runs)
	}
}

func TestOrchestrator_MetricsTextfile(t *testing.T) {
	b := newBatch(t, map[string]string{"basic.txt": "basic\n0 0\nok.txt 1 5\n"})
	b.cfg.MetricsTextfile = filepath.Join(t.TempDir(), "kvs.prom")

	topo := testcase.Topology{CoordinatorHost: "localhost", Clients: []string{"localhost"}}
	if err := b.orchestrator(topo, []string{"basic.txt"}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(b.cfg.MetricsTextfile)
	if err != nil {
		t.Fatalf("textfile not written: %v", err)
	}
	for _, want := range []string{
		`kvs_tester_tests_total{status="pass"} 1`,
		"kvs_tester_build_success 1",
		`kvs_tester_client_iterations_total{outcome="success"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q", want)
		}
	}
}

func TestOrchestrator_CancelledBatch(t *testing.T) {
	b := newBatch(t, map[string]string{"basic.txt": "basic\n0 0\nok.txt 1 5\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	topo := testcase.Topology{CoordinatorHost: "localhost", Clients: []string{"localhost"}}
	err := b.orchestrator(topo, []string{"basic.txt"}).Run(ctx)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls := clientCalls(t, b.srcDir); len(calls) != 0 {
		t.Errorf("clients ran in a cancelled batch: %v", calls)
	}
	// Cleanup still runs.
	if _, copies, _, _ := b.exec.recorded(); indexOf(copies, "*.log") < 0 {
		t.Error("logs not collected after cancellation")
	}
}

func TestOrchestrator_TUIModeSkipsSummary(t *testing.T) {
	b := newBatch(t, nil)
	b.cfg.TUIEnabled = true

	orch := b.orchestrator(testcase.Topology{CoordinatorHost: "localhost"}, nil)
	if err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(b.out.String(), "Exit Summary") {
		t.Error("summary printed while the dashboard owns the terminal")
	}
	if !strings.Contains(orch.Summary(), "Exit Summary") {
		t.Error("Summary() empty")
	}
}
