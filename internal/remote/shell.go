// Package remote runs commands and copies files on test hosts.
//
// Every command is a logical "cd <workdir> && <argv>" line. In local mode
// the line runs under sh on this machine and host names are ignored; in
// remote mode the same line is delivered with ssh. File copies use rsync
// in both modes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/logging"
	"github.com/randomizedcoder/go-kvs-tester/internal/process"
)

// Config configures a Shell.
type Config struct {
	// Local runs everything on this machine, ignoring hosts and users.
	Local bool

	// User is the login for remote hosts and the owner filter for kills.
	User string

	// Users overrides User for specific hosts ("user@host" entries).
	Users map[string]string

	// PrintCommands echoes every wrapped command to Out.
	PrintCommands bool
	Out           io.Writer

	ShellPath  string
	SSHPath    string
	RsyncPath  string
	SSHOptions []string

	// KillTimeout bounds each killall/pkill invocation.
	KillTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a local-mode configuration for user.
func DefaultConfig(user string) Config {
	return Config{
		Local:       true,
		User:        user,
		Out:         os.Stdout,
		ShellPath:   "sh",
		SSHPath:     "ssh",
		RsyncPath:   "rsync",
		SSHOptions:  []string{"-o", "StrictHostKeyChecking=no"},
		KillTimeout: 30 * time.Second,
	}
}

// ExitError reports a wrapped command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%q exited with status %d", e.Command, e.Code)
}

// Shell is the remote execution adapter.
type Shell struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Shell, filling unset fields from DefaultConfig.
func New(cfg Config) *Shell {
	def := DefaultConfig(cfg.User)
	if cfg.Out == nil {
		cfg.Out = def.Out
	}
	if cfg.ShellPath == "" {
		cfg.ShellPath = def.ShellPath
	}
	if cfg.SSHPath == "" {
		cfg.SSHPath = def.SSHPath
	}
	if cfg.RsyncPath == "" {
		cfg.RsyncPath = def.RsyncPath
	}
	if cfg.SSHOptions == nil {
		cfg.SSHOptions = def.SSHOptions
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = def.KillTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Shell{cfg: cfg, logger: logger}
}

// Local reports whether the shell runs everything on this machine.
func (s *Shell) Local() bool {
	return s.cfg.Local
}

// UserFor returns the login used on host.
func (s *Shell) UserFor(host string) string {
	if u, ok := s.cfg.Users[host]; ok && u != "" {
		return u
	}
	return s.cfg.User
}

// Command builds, without starting, the command that runs argv in workdir
// on host.
func (s *Shell) Command(host, workdir string, argv []string) *exec.Cmd {
	line := append([]string{"cd", workdir, "&&"}, argv...)

	var cmd *exec.Cmd
	if s.cfg.Local {
		cmd = exec.Command(s.cfg.ShellPath, "-c", strings.Join(line, " "))
	} else {
		args := append(append([]string{}, s.cfg.SSHOptions...), s.UserFor(host)+"@"+host)
		cmd = exec.Command(s.cfg.SSHPath, append(args, line...)...)
	}
	s.echo(cmd)
	return cmd
}

// Start spawns argv in workdir on host. Wrapper stderr is logged unless
// opts.Stderr is set.
func (s *Shell) Start(ctx context.Context, host, workdir string, argv []string, opts process.StartOptions) (*process.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("start on %s: empty command", host)
	}
	if opts.Stderr == nil {
		opts.Stderr = logging.NewStderrHandler(s.logger, host, s.tool())
	}
	return process.Start(s.Command(host, workdir, argv), filepath.Base(argv[0]), opts)
}

// Run executes argv in workdir on host and waits for it. A cancelled ctx
// kills the command. The returned error is non-nil only when the command
// could not run to completion; a non-zero exit is reported via the code.
func (s *Shell) Run(ctx context.Context, host, workdir string, argv []string) (int, error) {
	h, err := s.Start(ctx, host, workdir, argv, process.StartOptions{})
	if err != nil {
		return -1, err
	}
	return awaitCtx(ctx, h)
}

// CopyTo copies localPath to remotePath on host.
func (s *Shell) CopyTo(ctx context.Context, host, localPath, remotePath string, exclude []string) bool {
	dst := remotePath
	if !s.cfg.Local {
		dst = s.UserFor(host) + "@" + host + ":" + remotePath
	}
	return s.rsync(ctx, host, localPath, dst, exclude)
}

// CopyFrom copies remotePath on host to localPath. remotePath may contain
// shell globs.
func (s *Shell) CopyFrom(ctx context.Context, host, remotePath, localPath string, exclude []string) bool {
	src := remotePath
	if !s.cfg.Local {
		src = s.UserFor(host) + "@" + host + ":" + remotePath
	}
	return s.rsync(ctx, host, src, localPath, exclude)
}

func (s *Shell) rsync(ctx context.Context, host, src, dst string, exclude []string) bool {
	args := []string{"-rltPq"}
	for _, x := range exclude {
		args = append(args, "--exclude", x)
	}
	args = append(args, src, dst)

	var cmd *exec.Cmd
	if s.cfg.Local {
		// Through sh so globs in src expand the same way a remote side would.
		cmd = exec.Command(s.cfg.ShellPath, "-c", s.cfg.RsyncPath+" "+strings.Join(args, " "))
	} else {
		cmd = exec.Command(s.cfg.RsyncPath, args...)
	}
	s.echo(cmd)

	h, err := process.Start(cmd, "rsync", process.StartOptions{
		Stderr: logging.NewStderrHandler(s.logger, host, "rsync"),
	})
	if err != nil {
		s.logger.Warn("copy_failed", "host", host, "src", src, "dst", dst, "error", err)
		return false
	}
	code, err := awaitCtx(ctx, h)
	if err != nil || code != 0 {
		s.logger.Debug("copy_incomplete", "host", host, "src", src, "dst", dst, "exit_code", code, "error", err)
		return false
	}
	return true
}

// KillAll sends SIGKILL to every process named name owned by the host's user.
func (s *Shell) KillAll(ctx context.Context, host, name string) error {
	return s.kill(ctx, host, []string{"killall", "-s", "SIGKILL", "-u", s.UserFor(host), "-q", name})
}

// KillPattern sends SIGKILL to processes whose full command line matches
// pattern.
func (s *Shell) KillPattern(ctx context.Context, host, pattern string) error {
	return s.kill(ctx, host, []string{"pkill", "-SIGKILL", "-u", s.UserFor(host), "-f", Quote(pattern)})
}

func (s *Shell) kill(ctx context.Context, host string, argv []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.KillTimeout)
	defer cancel()

	code, err := s.Run(ctx, host, ".", argv)
	if err != nil {
		return fmt.Errorf("%s on %s: %w", argv[0], host, err)
	}
	if code != 0 {
		return &ExitError{Command: argv[0], Code: code}
	}
	return nil
}

func (s *Shell) tool() string {
	if s.cfg.Local {
		return "sh"
	}
	return "ssh"
}

func (s *Shell) echo(cmd *exec.Cmd) {
	if s.cfg.PrintCommands {
		fmt.Fprintln(s.cfg.Out, strings.Join(cmd.Args, " "))
	}
}

func awaitCtx(ctx context.Context, h *process.Handle) (int, error) {
	select {
	case <-h.Done():
		code, err := h.Wait()
		var exitErr *exec.ExitError
		if err == nil || errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
			return code, nil
		}
		return code, err
	case <-ctx.Done():
		h.Kill()
		code, _ := h.Wait()
		return code, ctx.Err()
	}
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
