package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/logging"
	"github.com/randomizedcoder/go-kvs-tester/internal/process"
)

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnExit is called once per awaited process with its outcome.
	OnExit func(name string, outcome Outcome)

	// OnTimeout is called before a process that ran too long is killed.
	OnTimeout func(name string, pid int, timeout time.Duration)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Logger    *slog.Logger
	Callbacks Callbacks
}

// Supervisor bounds the lifetime of process handles. It holds no per-process
// state, so one Supervisor may await many handles concurrently.
type Supervisor struct {
	logger    *slog.Logger
	callbacks Callbacks
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Supervisor{
		logger:    logger,
		callbacks: cfg.Callbacks,
	}
}

// Await waits for h to exit for at most timeout; zero waits indefinitely.
// A process that runs past its timeout, or is still running when ctx is
// cancelled, is killed with its whole process group. The process has always
// exited and been reaped when Await returns.
func (s *Supervisor) Await(ctx context.Context, h *process.Handle, timeout time.Duration) Outcome {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var out Outcome
	select {
	case <-h.Done():
		out = exited(h)

	case <-expired:
		s.logger.Warn("process_timeout",
			"name", h.Name(),
			"pid", h.Pid(),
			"timeout", timeout.String(),
		)
		if s.callbacks.OnTimeout != nil {
			s.callbacks.OnTimeout(h.Name(), h.Pid(), timeout)
		}
		s.kill(h)
		// It may have exited on its own between the timer and the kill.
		out = Outcome{Kind: Timeout, ExitCode: h.ExitCode(), Duration: h.Uptime()}

	case <-ctx.Done():
		s.kill(h)
		out = Outcome{Kind: Failure, ExitCode: h.ExitCode(), Duration: h.Uptime(), Err: ctx.Err()}
	}

	s.logger.Debug("process_exited",
		"name", h.Name(),
		"pid", h.Pid(),
		"outcome", out.Kind.String(),
		"exit_code", out.ExitCode,
		"uptime", out.Duration.String(),
	)
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(h.Name(), out)
	}
	return out
}

// Stop closes h's stdin, which asks a well-behaved service to shut down,
// and awaits it for at most timeout. A Timeout outcome means the process
// ignored the request and had to be killed.
func (s *Supervisor) Stop(ctx context.Context, h *process.Handle, timeout time.Duration) Outcome {
	if err := h.CloseStdin(); err != nil {
		s.logger.Debug("close_stdin_failed", "name", h.Name(), "error", err)
	}
	out := s.Await(ctx, h, timeout)
	if out.Kind == Timeout {
		s.logger.Warn("stop_failed",
			"name", h.Name(),
			"timeout", timeout.String(),
		)
	}
	return out
}

func (s *Supervisor) kill(h *process.Handle) {
	if err := h.Kill(); err != nil {
		s.logger.Warn("kill_failed", "name", h.Name(), "pid", h.Pid(), "error", err)
	}
	<-h.Done()
}

func exited(h *process.Handle) Outcome {
	code := h.ExitCode()
	kind := Success
	if code != 0 {
		kind = Failure
	}
	return Outcome{Kind: kind, ExitCode: code, Duration: h.Uptime()}
}
