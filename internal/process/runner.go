// Package process provides handles for spawned service processes and the
// command lines of the service under test.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultWaitDelay bounds how long Wait keeps copying wrapper output after
// the process exits, in case a grandchild still holds the pipe.
const DefaultWaitDelay = 2 * time.Second

// StartOptions controls how a command is spawned.
type StartOptions struct {
	// Stdin keeps a pipe to the process's standard input so it can be
	// closed later (the coordinator shuts down on EOF).
	Stdin bool

	// Stderr receives the wrapper's standard error. Nil discards it.
	Stderr io.Writer
}

// Handle is a started process. A single waiter goroutine reaps the process
// as soon as it is spawned; Done is closed once the process has exited.
//
// A Handle belongs to the code that started it. It must not be shared
// between concurrent awaiters.
type Handle struct {
	name    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started time.Time

	done     chan struct{}
	waitErr  error
	exitCode int
	ended    time.Time
}

// Start spawns cmd in its own process group and returns its handle.
func Start(cmd *exec.Cmd, name string, opts StartOptions) (*Handle, error) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	// A separate group lets Kill reach the shell wrapper and its children.
	cmd.SysProcAttr.Setpgid = true
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	}

	h := &Handle{
		name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}

	if opts.Stdin {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("%s: stdin pipe: %w", name, err)
		}
		h.stdin = stdin
	}

	h.started = time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: start: %w", name, err)
	}

	go h.wait()
	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.waitErr = err
	h.exitCode = ExitCode(err)
	h.ended = time.Now()
	close(h.done)
}

// Name returns the label the handle was started with.
func (h *Handle) Name() string {
	return h.name
}

// Pid returns the OS process id of the spawned command.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Done is closed after the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports, without blocking, whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns its exit code.
func (h *Handle) Wait() (int, error) {
	<-h.done
	return h.exitCode, h.waitErr
}

// ExitCode returns the exit code. Only meaningful after Done is closed.
func (h *Handle) ExitCode() int {
	return h.exitCode
}

// Uptime returns how long the process ran, or has been running so far.
func (h *Handle) Uptime() time.Duration {
	if h.Exited() {
		return h.ended.Sub(h.started)
	}
	return time.Since(h.started)
}

// CloseStdin closes the stdin pipe. It is a no-op without one.
func (h *Handle) CloseStdin() error {
	if h.stdin == nil {
		return nil
	}
	err := h.stdin.Close()
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) || errors.Is(err, unix.EPIPE) {
		return nil
	}
	return err
}

// Kill sends SIGKILL to the process group. A process that is already gone
// is not an error.
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}
	pid := h.cmd.Process.Pid
	if pgid, err := unix.Getpgid(pid); err == nil {
		err = unix.Kill(-pgid, unix.SIGKILL)
		if err == nil || errors.Is(err, unix.ESRCH) {
			return nil
		}
	}
	err := h.cmd.Process.Kill()
	if errors.Is(err, unix.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// ExitCode extracts the exit code from a Wait error. A process terminated
// by a signal reports 128 + signal number, like a shell does.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}

	return 1
}
