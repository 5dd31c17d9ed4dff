package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per handler.
	MaxBufferedLines = 64
)

// StderrHandler receives the stderr of a command wrapper (sh, ssh, rsync,
// killall) and logs it line by line. The service processes themselves
// redirect their output to files, so anything arriving here is a transport
// or setup diagnostic.
//
// StderrHandler implements io.Writer so it can be assigned to exec.Cmd.Stderr.
type StderrHandler struct {
	host   string
	tool   string
	logger *slog.Logger

	mu      sync.Mutex
	partial []byte
	buffer  []string
	bufIdx  int
	count   int
}

// NewStderrHandler creates a handler tagging every line with host and tool.
func NewStderrHandler(logger *slog.Logger, host, tool string) *StderrHandler {
	return &StderrHandler{
		host:   host,
		tool:   tool,
		logger: logger,
		buffer: make([]string, MaxBufferedLines),
	}
}

// Write splits p into lines and handles each complete line.
// An incomplete trailing line is kept until the next Write or Flush.
func (h *StderrHandler) Write(p []byte) (int, error) {
	h.mu.Lock()
	h.partial = append(h.partial, p...)
	var lines []string
	for {
		i := bytes.IndexByte(h.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(h.partial[:i]))
		h.partial = h.partial[i+1:]
	}
	h.mu.Unlock()

	for _, line := range lines {
		h.HandleLine(line)
	}
	return len(p), nil
}

// Flush handles any buffered partial line.
func (h *StderrHandler) Flush() {
	h.mu.Lock()
	rest := string(h.partial)
	h.partial = nil
	h.mu.Unlock()

	if rest != "" {
		h.HandleLine(rest)
	}
}

// HandleLine stores and logs a single line.
func (h *StderrHandler) HandleLine(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.count++
	h.mu.Unlock()

	if h.logger == nil {
		return
	}
	h.logger.Log(context.Background(), ClassifyLine(line), "wrapper_stderr",
		"host", h.host,
		"tool", h.tool,
		"line", line,
	)
}

// ClassifyLine picks a log level for a wrapper diagnostic.
func ClassifyLine(line string) slog.Level {
	lower := strings.ToLower(line)
	for _, pattern := range ErrorPatterns {
		if strings.Contains(lower, pattern) {
			return slog.LevelWarn
		}
	}
	return slog.LevelDebug
}

// ErrorPatterns are wrapper messages that usually explain a failed step.
var ErrorPatterns = []string{
	"connection refused",
	"permission denied",
	"host key verification failed",
	"could not resolve hostname",
	"rsync error",
	"no such file or directory",
	"command not found",
	"make: ***",
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *StderrHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	if n > h.count {
		n = h.count
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.buffer[idx])
	}
	return lines
}

// Lines returns the total number of lines handled.
func (h *StderrHandler) Lines() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
