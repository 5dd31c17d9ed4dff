package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/supervisor"
)

// =============================================================================
// Table-Driven Tests: Formatting Functions
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"zero", 0, "00:00:00"},
		{"one second", time.Second, "00:00:01"},
		{"one minute", time.Minute, "00:01:00"},
		{"one hour", time.Hour, "01:00:00"},
		{"mixed", 2*time.Hour + 30*time.Minute + 45*time.Second, "02:30:45"},
		{"sub-second", 500 * time.Millisecond, "00:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.duration); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		want string
	}{
		{"zero", 0, "0"},
		{"999", 999, "999"},
		{"1K", 1000, "1.0K"},
		{"1.5K", 1500, "1.5K"},
		{"1M", 1000000, "1.0M"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatNumber(tt.n); got != tt.want {
				t.Errorf("FormatNumber(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"zero", 0, "0 ms"},
		{"100 ms", 100 * time.Millisecond, "100 ms"},
		{"1 second", time.Second, "1000 ms"},
		{"sub-ms", 500 * time.Microsecond, "500 µs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMs(tt.duration); got != tt.want {
				t.Errorf("FormatMs(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestExitCodeLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{-1, "(not started)"},
		{0, "(clean)"},
		{1, "(error)"},
		{137, "(SIGKILL)"},
		{143, "(SIGTERM)"},
		{2, ""},
	}

	for _, tt := range tests {
		if got := exitCodeLabel(tt.code); got != tt.want {
			t.Errorf("exitCodeLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

// =============================================================================
// Tests: FormatExitSummary
// =============================================================================

func TestFormatExitSummary_Empty(t *testing.T) {
	out := FormatExitSummary(&Snapshot{TotalTests: 2}, SummaryConfig{Mode: "local"})

	for _, want := range []string{"Exit Summary", "Mode:                   local", "Build:                  not run", "Tests Run:              0 of 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	for _, absent := range []string{"Verdicts", "Client Iterations", "Fault Injection", "Exit Codes"} {
		if strings.Contains(out, absent) {
			t.Errorf("empty summary should not contain %q", absent)
		}
	}
}

func TestFormatExitSummary_Verdicts(t *testing.T) {
	snap := &Snapshot{
		Elapsed:    90 * time.Second,
		Build:      "pass",
		TotalTests: 2,
		Results: []TestResult{
			{Name: "basic", Run: 0, Status: "pass", Successes: 4, Duration: 30 * time.Second},
			{Name: "failover", Run: 1, Status: "fail", Successes: 2, Failures: 1, Timeouts: 1, StopFailed: true},
		},
		Passed: 1,
		Failed: 1,
	}

	out := FormatExitSummary(snap, SummaryConfig{})

	for _, want := range []string{
		"Run Duration:           00:01:30",
		"Tests Run:              2 of 2",
		"basic",
		"failover",
		"Passed: 1   Failed: 1   Errors: 0",
		"coordinator did not stop",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestFormatExitSummary_Iterations(t *testing.T) {
	snap := &Snapshot{
		Iterations: map[supervisor.OutcomeKind]int64{
			supervisor.Success: 10,
			supervisor.Timeout: 2,
		},
		TotalIterations: 12,
		IterationP50:    15 * time.Millisecond,
		IterationP99:    900 * time.Millisecond,
		ExitCodes:       map[int]int{0: 10, 137: 2},
		NodeKills:       3,
	}

	out := FormatExitSummary(snap, SummaryConfig{MetricsAddr: "0.0.0.0:17091", LogDir: "."})

	for _, want := range []string{
		"Client Iterations",
		"Succeeded:            10",
		"Timed Out:            2",
		"P50 (median):         15 ms",
		"P99:                  900 ms",
		"Service nodes killed: 3",
		"(SIGKILL)",
		"http://0.0.0.0:17091/metrics",
		"Logs collected in: .",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	// Exit codes are listed in ascending order.
	if strings.Index(out, "(clean)") > strings.Index(out, "(SIGKILL)") {
		t.Error("exit codes not sorted")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("a-very-long-test-name", 8); got != "a-very-…" {
		t.Errorf("truncate long = %q", got)
	}
}
