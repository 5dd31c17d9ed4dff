package testcase

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientSpec is one workload group for a client slot: run OpFile Repeat
// times in sequence, each invocation bounded by Timeout.
type ClientSpec struct {
	OpFile  string
	Repeat  int
	Timeout time.Duration
}

// TestCase is a single declared test.
type TestCase struct {
	Name string

	// FailPeriod is the interval between injected node crashes; 0 disables
	// fault injection.
	FailPeriod time.Duration

	// Verbose keeps run-indexed logs instead of discarding them.
	Verbose bool

	// ClientOps holds one entry per client line. A line may list several
	// sequential groups, but only the first group is scheduled.
	ClientOps [][]ClientSpec
}

// ScheduledSlots returns how many client slots run for the given number of
// available client processes. Extra client lines are ignored.
func (tc TestCase) ScheduledSlots(available int) int {
	return min(available, len(tc.ClientOps))
}

// ParseTestCase parses a test-case description.
func ParseTestCase(r io.Reader) (TestCase, error) {
	lines, err := readLines(r)
	if err != nil {
		return TestCase{}, err
	}
	if len(lines) == 0 {
		return TestCase{}, fmt.Errorf("test case: empty file")
	}

	// The first line is always the name, even if it starts with '#'.
	tc := TestCase{Name: strings.TrimSpace(lines[0])}

	body := significant(lines[1:])
	if len(body) == 0 {
		return TestCase{}, fmt.Errorf("test case %q: missing \"<fail_period> <verbosity>\" line", tc.Name)
	}

	header := strings.Fields(body[0])
	if len(header) < 2 {
		return TestCase{}, fmt.Errorf("test case %q: want \"<fail_period> <verbosity>\", got %q", tc.Name, body[0])
	}
	period, err := strconv.Atoi(header[0])
	if err != nil || period < 0 {
		return TestCase{}, fmt.Errorf("test case %q: invalid fail period %q", tc.Name, header[0])
	}
	verbosity, err := strconv.Atoi(header[1])
	if err != nil {
		return TestCase{}, fmt.Errorf("test case %q: invalid verbosity %q", tc.Name, header[1])
	}
	tc.FailPeriod = time.Duration(period) * time.Second
	tc.Verbose = verbosity != 0

	for i, line := range body[1:] {
		groups, err := parseClientLine(line)
		if err != nil {
			return TestCase{}, fmt.Errorf("test case %q: client %d: %w", tc.Name, i, err)
		}
		tc.ClientOps = append(tc.ClientOps, groups)
	}
	return tc, nil
}

func parseClientLine(line string) ([]ClientSpec, error) {
	tokens := strings.Fields(line)
	if len(tokens)%3 != 0 {
		return nil, fmt.Errorf("want groups of \"<ops_file> <count> <timeout>\", got %d tokens", len(tokens))
	}

	groups := make([]ClientSpec, 0, len(tokens)/3)
	for i := 0; i < len(tokens); i += 3 {
		repeat, err := strconv.Atoi(tokens[i+1])
		if err != nil || repeat < 0 {
			return nil, fmt.Errorf("invalid repeat count %q", tokens[i+1])
		}
		timeout, err := strconv.Atoi(tokens[i+2])
		if err != nil || timeout < 0 {
			return nil, fmt.Errorf("invalid timeout %q", tokens[i+2])
		}
		groups = append(groups, ClientSpec{
			OpFile:  tokens[i],
			Repeat:  repeat,
			Timeout: time.Duration(timeout) * time.Second,
		})
	}
	return groups, nil
}

// LoadTestCase reads and parses a test-case file.
func LoadTestCase(path string) (TestCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return TestCase{}, fmt.Errorf("open test case: %w", err)
	}
	defer f.Close()

	tc, err := ParseTestCase(f)
	if err != nil {
		return TestCase{}, fmt.Errorf("%s: %w", path, err)
	}
	return tc, nil
}

// ParseList returns the non-comment, non-blank lines of r with surrounding
// whitespace removed. It reads both the tests list and the ops list.
func ParseList(r io.Reader) ([]string, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	out := significant(lines)
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out, nil
}

// LoadList reads a list file (tests list or ops list).
func LoadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open list: %w", err)
	}
	defer f.Close()
	return ParseList(f)
}
