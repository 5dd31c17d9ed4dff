package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/supervisor"
)

const (
	rule    = "═══════════════════════════════════════════════════════════════════════════════\n"
	section = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Mode is "local" or "remote".
	Mode string

	// MetricsAddr is the Prometheus metrics endpoint address, if any.
	MetricsAddr string

	// LogDir is where collected logs were copied.
	LogDir string
}

// FormatExitSummary formats aggregated stats for display at program exit.
func FormatExitSummary(s *Snapshot, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("                          kvs-tester Exit Summary\n")
	b.WriteString(rule + "\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(s.Elapsed))
	if cfg.Mode != "" {
		fmt.Fprintf(&b, "Mode:                   %s\n", cfg.Mode)
	}
	build := s.Build
	if build == "" {
		build = "not run"
	}
	fmt.Fprintf(&b, "Build:                  %s\n", build)
	fmt.Fprintf(&b, "Tests Run:              %d of %d\n\n", len(s.Results), s.TotalTests)

	if len(s.Results) > 0 {
		writeSection(&b, "Verdicts")
		fmt.Fprintf(&b, "  %-4s %-28s %-6s %8s %8s %8s %10s\n", "Run", "Test", "Status", "Success", "Failed", "Timeout", "Duration")
		b.WriteString("  " + strings.Repeat("─", 78) + "\n")
		for _, r := range s.Results {
			flag := ""
			if r.StopFailed {
				flag = " *"
			}
			fmt.Fprintf(&b, "  %-4d %-28s %-6s %8d %8d %8d %10s%s\n",
				r.Run, truncate(r.Name, 28), r.Status,
				r.Successes, r.Failures, r.Timeouts,
				FormatDuration(r.Duration), flag)
		}
		fmt.Fprintf(&b, "\n  Passed: %d   Failed: %d   Errors: %d\n", s.Passed, s.Failed, s.Errored)
		if anyStopFailed(s.Results) {
			b.WriteString("  * coordinator did not stop within the timeout\n")
		}
		b.WriteString("\n")
	}

	if s.TotalIterations > 0 {
		writeSection(&b, "Client Iterations")
		fmt.Fprintf(&b, "  Total:                %s\n", FormatNumber(s.TotalIterations))
		fmt.Fprintf(&b, "  Succeeded:            %d\n", s.Iterations[supervisor.Success])
		fmt.Fprintf(&b, "  Failed:               %d\n", s.Iterations[supervisor.Failure])
		fmt.Fprintf(&b, "  Timed Out:            %d\n\n", s.Iterations[supervisor.Timeout])
		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatMs(s.IterationP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatMs(s.IterationP95))
		fmt.Fprintf(&b, "  P99:                  %s\n", FormatMs(s.IterationP99))
		fmt.Fprintf(&b, "  Max:                  %s\n\n", FormatMs(s.IterationMax))
	}

	if s.NodeKills > 0 {
		writeSection(&b, "Fault Injection")
		fmt.Fprintf(&b, "  Service nodes killed: %d\n\n", s.NodeKills)
	}

	if len(s.ExitCodes) > 0 {
		writeSection(&b, "Exit Codes")

		codes := make([]int, 0, len(s.ExitCodes))
		for code := range s.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		for _, code := range codes {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, exitCodeLabel(code), s.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	if cfg.LogDir != "" {
		fmt.Fprintf(&b, "Logs collected in: %s\n", cfg.LogDir)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(rule)
	return b.String()
}

func writeSection(b *strings.Builder, title string) {
	b.WriteString(section)
	pad := max(0, (79-len(title))/2)
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(section + "\n")
}

func anyStopFailed(results []TestResult) bool {
	for _, r := range results {
		if r.StopFailed {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case -1:
		return "(not started)"
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
