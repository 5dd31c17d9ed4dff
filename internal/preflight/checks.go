// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Process limits are read from /proc/self/limits, which reports the same
// soft limit as "ulimit -u" for the whole user rather than this process.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options describes the batch being checked.
type Options struct {
	// Processes is the peak number of tester-spawned processes on this
	// machine: coordinator, service nodes and client slots in local mode,
	// ssh wrappers in remote mode.
	Processes int

	// Tools are the commands the batch shells out to.
	Tools []string
}

// LocalTools are needed in every mode.
var LocalTools = []string{"sh", "rsync", "make", "killall", "pkill"}

// RemoteTools are additionally needed to reach other hosts.
var RemoteTools = []string{"ssh"}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 2+len(opts.Tools)),
		Passed: true,
	}

	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkFileDescriptors(opts.Processes))
	add(checkProcessLimit(opts.Processes))
	for _, tool := range opts.Tools {
		add(checkTool(tool))
	}

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(processes int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// Each child holds a stderr pipe, sometimes a stdin pipe, and the
	// waiter's descriptors.
	required := processes*4 + 64
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d processes)", actual, required, processes),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(processes int) Check {
	// Every wrapper is an sh plus its child.
	required := processes*2 + 50

	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseMaxProcesses reads the soft "Max processes" limit from the contents
// of /proc/self/limits. Zero means unknown.
func parseMaxProcesses(limits string) int {
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0
		}
		if fields[2] == "unlimited" {
			return 1000000
		}
		var n int
		fmt.Sscanf(fields[2], "%d", &n)
		return n
	}
	return 0
}

// checkTool verifies a command is on PATH.
func checkTool(name string) Check {
	path, err := exec.LookPath(name)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("not found in PATH: %v", err),
		}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: "found at " + path,
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "rsync", "ssh", "make":
		return "install " + name + " (apt install " + name + ")"
	case "killall", "pkill":
		return "install psmisc and procps (apt install psmisc procps)"
	default:
		return "see documentation"
	}
}
