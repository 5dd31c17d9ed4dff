package remote

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/process"
)

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestShell_LocalCommand(t *testing.T) {
	s := New(Config{Local: true, User: "alice"})
	cmd := s.Command("ignored-host", "src/", []string{"./mserver", "-c", "1"})

	want := []string{"sh", "-c", "cd src/ && ./mserver -c 1"}
	if strings.Join(cmd.Args, "|") != strings.Join(want, "|") {
		t.Errorf("args = %q, want %q", cmd.Args, want)
	}
}

func TestShell_RemoteCommand(t *testing.T) {
	s := New(Config{
		User:  "alice",
		Users: map[string]string{"node2": "bob"},
	})

	testCases := []struct {
		host string
		want string
	}{
		{"node1", "ssh -o StrictHostKeyChecking=no alice@node1 cd src/ && make"},
		{"node2", "ssh -o StrictHostKeyChecking=no bob@node2 cd src/ && make"},
	}

	for _, tc := range testCases {
		t.Run(tc.host, func(t *testing.T) {
			cmd := s.Command(tc.host, "src/", []string{"make"})
			if got := strings.Join(cmd.Args, " "); got != tc.want {
				t.Errorf("got  %q\nwant %q", got, tc.want)
			}
		})
	}
}

func TestShell_PrintCommands(t *testing.T) {
	var out bytes.Buffer
	s := New(Config{Local: true, User: "alice", PrintCommands: true, Out: &out})
	s.Command("h", ".", []string{"echo", "hi"})

	if got := strings.TrimSpace(out.String()); got != "sh -c cd . && echo hi" {
		t.Errorf("printed %q", got)
	}
}

func TestShell_RunInWorkdir(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Local: true})

	code, err := s.Run(context.Background(), "localhost", dir, []string{"touch", "marker", "&&", "exit", "4"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 4 {
		t.Errorf("exit code = %d, want 4", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "marker")); err != nil {
		t.Errorf("command did not run in workdir: %v", err)
	}
}

func TestShell_RunCancelled(t *testing.T) {
	s := New(Config{Local: true})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Run(ctx, "localhost", ".", []string{"sleep", "30"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancelled command was not killed promptly")
	}
}

func TestShell_RunNonZeroExitIsNotError(t *testing.T) {
	s := New(Config{Local: true})

	for _, code := range []int{0, 1, 3, 7} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			got, err := s.Run(context.Background(), "localhost", ".", []string{"exit", strconv.Itoa(code)})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got != code {
				t.Errorf("exit code = %d, want %d", got, code)
			}
		})
	}
}

func TestShell_KillNonZeroExit(t *testing.T) {
	s := New(Config{Local: true})

	err := s.kill(context.Background(), "localhost", []string{"false"})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.Code != 1 {
		t.Errorf("code = %d, want 1", exitErr.Code)
	}
}

func TestShell_StartKeepsStdin(t *testing.T) {
	s := New(Config{Local: true})
	h, err := s.Start(context.Background(), "localhost", ".", []string{"cat", ">", "/dev/null"}, process.StartOptions{Stdin: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.Name() != "cat" {
		t.Errorf("Name = %q", h.Name())
	}
	h.CloseStdin()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		h.Kill()
		t.Fatal("process did not exit on stdin EOF")
	}
}

func TestShell_StartEmpty(t *testing.T) {
	s := New(Config{Local: true})
	if _, err := s.Start(context.Background(), "h", ".", nil, process.StartOptions{}); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestShell_CopyToWithExclude(t *testing.T) {
	requireTool(t, "rsync")

	src := t.TempDir()
	dst := t.TempDir()
	os.WriteFile(filepath.Join(src, "keep.txt"), []byte("k"), 0o644)
	os.WriteFile(filepath.Join(src, "skip.txt"), []byte("s"), 0o644)

	s := New(Config{Local: true})
	if !s.CopyTo(context.Background(), "localhost", src+"/", dst, []string{"skip.txt"}) {
		t.Fatal("CopyTo failed")
	}

	if _, err := os.Stat(filepath.Join(dst, "keep.txt")); err != nil {
		t.Errorf("keep.txt missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "skip.txt")); err == nil {
		t.Error("excluded file was copied")
	}
}

func TestShell_CopyFromGlob(t *testing.T) {
	requireTool(t, "rsync")

	src := t.TempDir()
	dst := t.TempDir()
	os.WriteFile(filepath.Join(src, "a.log"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(src, "b.txt"), []byte("b"), 0o644)

	s := New(Config{Local: true})
	if !s.CopyFrom(context.Background(), "localhost", src+"/*.log", dst, nil) {
		t.Fatal("CopyFrom failed")
	}
	if _, err := os.Stat(filepath.Join(dst, "a.log")); err != nil {
		t.Errorf("a.log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "b.txt")); err == nil {
		t.Error("non-matching file was copied")
	}
}

func TestShell_CopyMissingSource(t *testing.T) {
	requireTool(t, "rsync")

	s := New(Config{Local: true})
	if s.CopyTo(context.Background(), "localhost", "/nonexistent/src/", t.TempDir(), nil) {
		t.Error("CopyTo of missing source should fail")
	}
}

func TestShell_KillPattern(t *testing.T) {
	requireTool(t, "pkill")

	user := os.Getenv("USER")
	if user == "" {
		t.Skip("USER not set")
	}

	victim := exec.Command("sh", "-c", "sleep 30; : kvs-tester-victim-marker")
	if err := victim.Start(); err != nil {
		t.Fatalf("start victim: %v", err)
	}
	done := make(chan struct{})
	go func() {
		victim.Wait()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	s := New(Config{Local: true, User: user})
	s.KillPattern(context.Background(), "localhost", "[k]vs-tester-victim-marker")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		victim.Process.Kill()
		t.Fatal("KillPattern did not kill the matching process")
	}
}

func TestShell_KillAllNoMatch(t *testing.T) {
	requireTool(t, "killall")

	s := New(Config{Local: true, User: "nobody"})
	err := s.KillAll(context.Background(), "localhost", "no-such-process-name")

	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		t.Errorf("unexpected error type: %v", err)
	}
}

func TestQuote(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"server .* -S 1 .*", `'server .* -S 1 .*'`},
		{"it's", `'it'\''s'`},
		{"", `''`},
	}

	for _, tc := range testCases {
		if got := Quote(tc.in); got != tc.want {
			t.Errorf("Quote(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
