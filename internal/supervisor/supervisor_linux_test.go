//go:build linux

package supervisor

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// =============================================================================
// Helpers
// =============================================================================

// assertExitInvariant checks that exactly one of exited / signaled / launch
// failure describes the result.
func assertExitInvariant(t *testing.T, res Result, err error) {
	t.Helper()
	exited := res.ExitCode >= 0 && res.ExitSignal == -1
	signaled := res.ExitSignal >= 0 && res.ExitCode == -1
	launchFailed := errors.Is(err, ErrLaunchFailed) || errors.Is(err, ErrResourceExhausted)
	count := 0
	for _, b := range []bool{exited, signaled, launchFailed} {
		if b {
			count++
		}
	}
	if count != 1 {
		t.Errorf("exit invariant broken: code=%d signal=%d err=%v", res.ExitCode, res.ExitSignal, err)
	}
}

func assertBounds(t *testing.T, req Request, res Result) {
	t.Helper()
	if res.StdoutRead > len(req.Stdout) {
		t.Errorf("StdoutRead = %d exceeds capacity %d", res.StdoutRead, len(req.Stdout))
	}
	if res.StderrRead > len(req.Stderr) {
		t.Errorf("StderrRead = %d exceeds capacity %d", res.StderrRead, len(req.Stderr))
	}
	if res.StdinWritten > len(req.Stdin) {
		t.Errorf("StdinWritten = %d exceeds input %d", res.StdinWritten, len(req.Stdin))
	}
}

// assertReaped checks that no zombie is left for pid.
func assertReaped(t *testing.T, pid int) {
	t.Helper()
	if pid <= 0 {
		return
	}
	var ws unix.WaitStatus
	_, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if !errors.Is(err, unix.ECHILD) {
		t.Errorf("wait4(%d) = %v, want ECHILD (child already reaped)", pid, err)
	}
}

func countOpenFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot read /proc/self/fd: %v", err)
	}
	return len(entries)
}

// =============================================================================
// Scenarios
// =============================================================================

func TestRun_ExitCode(t *testing.T) {
	req := helperRequest(t, "exit_code")

	res, err := Sync(req)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Pid <= 0 {
		t.Errorf("Pid = %d, want > 0", res.Pid)
	}
	if res.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", res.ExitCode)
	}
	if res.ExitSignal != -1 {
		t.Errorf("ExitSignal = %d, want -1", res.ExitSignal)
	}
	if res.ExitTimeout {
		t.Error("ExitTimeout = true, want false")
	}
	assertExitInvariant(t, res, err)
	assertReaped(t, res.Pid)
}

func TestRun_ExitSignal(t *testing.T) {
	req := helperRequest(t, "exit_signal")

	res, err := Sync(req)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.ExitSignal != int(syscall.SIGKILL) {
		t.Errorf("ExitSignal = %d, want %d", res.ExitSignal, syscall.SIGKILL)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if res.ExitTimeout {
		t.Error("self-kill must not be reported as a timeout")
	}
	assertExitInvariant(t, res, err)
	assertReaped(t, res.Pid)
}

func TestRun_Stdio(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*Request)
		wantStdout string
		wantStderr string
	}{
		{
			name:       "both captured",
			modify:     func(*Request) {},
			wantStdout: "stdout\n",
			wantStderr: "stderr\n",
		},
		{
			name:       "stdout only",
			modify:     func(r *Request) { r.Stderr = nil },
			wantStdout: "stdout\n",
		},
		{
			name:       "stderr only",
			modify:     func(r *Request) { r.Stdout = nil },
			wantStderr: "stderr\n",
		},
		{
			name: "combined",
			modify: func(r *Request) {
				r.Stderr = nil
				r.CombineStderr = true
			},
			wantStdout: "stdout\nstderr\n",
		},
		{
			name:       "combined ignores stderr buffer",
			modify:     func(r *Request) { r.CombineStderr = true },
			wantStdout: "stdout\nstderr\n",
		},
		{
			name: "combined with stdout discarded",
			modify: func(r *Request) {
				r.Stdout = nil
				r.CombineStderr = true
			},
		},
		{
			name: "stdout exactly at capacity",
			modify: func(r *Request) {
				r.Stdout = make([]byte, len("stdout\n"))
			},
			wantStdout: "stdout\n",
			wantStderr: "stderr\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := helperRequest(t, "stdout_stderr")
			tt.modify(&req)

			res, err := Sync(req)
			if err != nil {
				t.Fatalf("Sync() error = %v", err)
			}
			if got := string(res.Stdout); got != tt.wantStdout {
				t.Errorf("stdout = %q, want %q", got, tt.wantStdout)
			}
			if got := string(res.Stderr); got != tt.wantStderr {
				t.Errorf("stderr = %q, want %q", got, tt.wantStderr)
			}
			if res.StdoutRead != len(tt.wantStdout) {
				t.Errorf("StdoutRead = %d, want %d", res.StdoutRead, len(tt.wantStdout))
			}
			if res.StderrRead != len(tt.wantStderr) {
				t.Errorf("StderrRead = %d, want %d", res.StderrRead, len(tt.wantStderr))
			}
			if res.ExitCode != 0 {
				t.Errorf("ExitCode = %d, want 0", res.ExitCode)
			}
			if req.Stdout != nil && !bytes.Equal(req.Stdout[:res.StdoutRead], res.Stdout) {
				t.Error("Result.Stdout must alias the request buffer")
			}
			assertExitInvariant(t, res, err)
			assertBounds(t, req, res)
			assertReaped(t, res.Pid)
		})
	}
}

func TestRun_Overflow(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Request)
		check  func(*testing.T, Result)
	}{
		{
			name:   "stdout",
			modify: func(r *Request) { r.Stdout = make([]byte, 1) },
			check: func(t *testing.T, res Result) {
				if res.StdoutRead != 1 {
					t.Errorf("StdoutRead = %d, want 1", res.StdoutRead)
				}
				if string(res.Stdout) != "s" {
					t.Errorf("stdout = %q, want %q", res.Stdout, "s")
				}
			},
		},
		{
			name:   "stderr",
			modify: func(r *Request) { r.Stderr = make([]byte, 1) },
			check: func(t *testing.T, res Result) {
				if res.StderrRead != 1 {
					t.Errorf("StderrRead = %d, want 1", res.StderrRead)
				}
			},
		},
		{
			name:   "zero capacity buffer",
			modify: func(r *Request) { r.Stdout = []byte{} },
			check: func(t *testing.T, res Result) {
				if res.StdoutRead != 0 {
					t.Errorf("StdoutRead = %d, want 0", res.StdoutRead)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := helperRequest(t, "stdout_stderr")
			tt.modify(&req)

			res, err := Sync(req)
			if !errors.Is(err, ErrOverflow) {
				t.Fatalf("Sync() error = %v, want overflow", err)
			}
			if KindOf(err) != KindOverflow {
				t.Errorf("KindOf() = %v, want overflow", KindOf(err))
			}
			tt.check(t, res)
			assertExitInvariant(t, res, err)
			assertBounds(t, req, res)
			assertReaped(t, res.Pid)
		})
	}
}

func TestRun_OverflowEscalatesToKill(t *testing.T) {
	req := helperRequest(t, "flood_ignore_term")
	req.Timeout = 10 * time.Second
	req.Stdout = make([]byte, 100)

	sup := New(Config{OverflowGrace: 50 * time.Millisecond})
	start := time.Now()
	res, err := sup.Run(req)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("Run() error = %v, want overflow", err)
	}
	if res.StdoutRead != 100 {
		t.Errorf("StdoutRead = %d, want 100", res.StdoutRead)
	}
	if res.ExitSignal != int(syscall.SIGKILL) {
		t.Errorf("ExitSignal = %d, want SIGKILL (child ignores SIGTERM)", res.ExitSignal)
	}
	if res.ExitTimeout {
		t.Error("overflow must not be reported as a timeout")
	}
	if elapsed > 5*time.Second {
		t.Errorf("Run() took %v, the grace window should have ended it", elapsed)
	}
	assertReaped(t, res.Pid)
}

func TestRun_Stdin(t *testing.T) {
	for _, helper := range []string{"stdin", "stdin_stream"} {
		t.Run(helper, func(t *testing.T) {
			req := helperRequest(t, helper)
			req.Stdin = []byte("stdin\n")

			res, err := Sync(req)
			if err != nil {
				t.Fatalf("Sync() error = %v", err)
			}
			if string(res.Stdout) != "stdin\n" {
				t.Errorf("stdout = %q, want %q", res.Stdout, "stdin\n")
			}
			if res.StdoutRead != 6 {
				t.Errorf("StdoutRead = %d, want 6", res.StdoutRead)
			}
			if res.StdinWritten != 6 {
				t.Errorf("StdinWritten = %d, want 6", res.StdinWritten)
			}
			assertReaped(t, res.Pid)
		})
	}
}

func TestRun_StdinNotConsumed(t *testing.T) {
	req := helperRequest(t, "ignore_stdin")
	req.Stdin = bytes.Repeat([]byte("z"), 1<<20)

	res, err := Sync(req)
	if err != nil {
		t.Fatalf("Sync() error = %v (a closed stdin is not an error)", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.StdinWritten >= len(req.Stdin) {
		t.Errorf("StdinWritten = %d, want less than %d", res.StdinWritten, len(req.Stdin))
	}
	assertBounds(t, req, res)
}

func TestRun_Timeout(t *testing.T) {
	req := helperRequest(t, "timeout")

	start := time.Now()
	res, err := Sync(req)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Sync() error = %v, timeouts are not errors", err)
	}
	if !res.ExitTimeout {
		t.Error("ExitTimeout = false, want true")
	}
	if res.ExitSignal != int(syscall.SIGKILL) {
		t.Errorf("ExitSignal = %d, want %d", res.ExitSignal, syscall.SIGKILL)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	if elapsed < req.Timeout {
		t.Errorf("returned after %v, before the %v deadline", elapsed, req.Timeout)
	}
	if elapsed > req.Timeout+2*time.Second {
		t.Errorf("returned after %v, want within %v", elapsed, req.Timeout+2*time.Second)
	}
	if Classify(res, err) != OutcomeTimeout {
		t.Errorf("Classify() = %s, want timeout", Classify(res, err))
	}
	assertExitInvariant(t, res, err)
	assertReaped(t, res.Pid)
}

func TestRun_TimeoutCustomSignal(t *testing.T) {
	req := helperRequest(t, "timeout")
	req.Timeout = 200 * time.Millisecond
	req.KillSignal = syscall.SIGTERM

	res, err := Sync(req)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !res.ExitTimeout {
		t.Error("ExitTimeout = false, want true")
	}
	if res.ExitSignal != int(syscall.SIGTERM) {
		t.Errorf("ExitSignal = %d, want SIGTERM", res.ExitSignal)
	}
}

func TestRun_TimeoutTrappedSignal(t *testing.T) {
	req := helperRequest(t, "trap_term")
	req.Timeout = 500 * time.Millisecond
	req.KillSignal = syscall.SIGTERM

	res, err := Sync(req)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !res.ExitTimeout {
		t.Error("ExitTimeout = false, want true: the deadline forced the exit")
	}
	if res.ExitCode != 0 || res.ExitSignal != -1 {
		t.Errorf("exit = (%d, %d), want (0, -1) from the trapped signal", res.ExitCode, res.ExitSignal)
	}
	if got := Classify(res, err); got != OutcomeTimeout {
		t.Errorf("Classify() = %s, want timeout", got)
	}
	assertExitInvariant(t, res, err)
	assertReaped(t, res.Pid)
}

func TestRun_TimeoutInProcessGroup(t *testing.T) {
	req := helperRequest(t, "timeout")
	req.Timeout = 200 * time.Millisecond
	req.NewProcessGroup = true

	res, err := Sync(req)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !res.ExitTimeout || res.ExitSignal != int(syscall.SIGKILL) {
		t.Errorf("got timeout=%v signal=%d, want timeout with SIGKILL", res.ExitTimeout, res.ExitSignal)
	}
	assertReaped(t, res.Pid)
}

func TestRun_NoDeadline(t *testing.T) {
	req := helperRequest(t, "stdout_stderr")
	req.Timeout = 0

	res, err := Sync(req)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.ExitTimeout || res.ExitCode != 0 {
		t.Errorf("got timeout=%v code=%d, want clean exit", res.ExitTimeout, res.ExitCode)
	}
}

func TestRun_GrandchildHoldsPipe(t *testing.T) {
	if _, err := os.Stat("/bin/sleep"); err != nil {
		t.Skip("/bin/sleep not available")
	}
	req := helperRequest(t, "grandchild")
	req.Timeout = 500 * time.Millisecond

	res, err := Sync(req)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.ExitTimeout {
		t.Error("child exited on its own; ExitTimeout must be false")
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if string(res.Stdout) != "parent\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "parent\n")
	}
}

func TestRun_EnvAndDir(t *testing.T) {
	t.Run("env", func(t *testing.T) {
		req := helperRequest(t, "env")
		req.Env = append(req.Env, "SPAWN_SYNC_VALUE=hello")

		res, err := Sync(req)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if string(res.Stdout) != "hello" {
			t.Errorf("stdout = %q, want %q", res.Stdout, "hello")
		}
	})

	t.Run("dir", func(t *testing.T) {
		dir := t.TempDir()
		req := helperRequest(t, "pwd")
		req.Dir = dir

		res, err := Sync(req)
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if string(res.Stdout) != dir {
			t.Errorf("stdout = %q, want %q", res.Stdout, dir)
		}
	})
}

func TestRun_LaunchFailed(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Request)
		wantErrno syscall.Errno
	}{
		{
			name:      "missing executable",
			modify:    func(r *Request) { r.File = "/nonexistent/spawn-sync-binary" },
			wantErrno: syscall.ENOENT,
		},
		{
			name:      "missing working directory",
			modify:    func(r *Request) { r.Dir = "/nonexistent/spawn-sync-dir" },
			wantErrno: syscall.ENOENT,
		},
		{
			name:      "empty file",
			modify:    func(r *Request) { r.File = "" },
			wantErrno: syscall.EINVAL,
		},
		{
			name:      "negative timeout",
			modify:    func(r *Request) { r.Timeout = -time.Second },
			wantErrno: syscall.EINVAL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := helperRequest(t, "exit_code")
			tt.modify(&req)

			res, err := Sync(req)
			if !errors.Is(err, ErrLaunchFailed) {
				t.Fatalf("Sync() error = %v, want launch failure", err)
			}
			if !errors.Is(err, tt.wantErrno) {
				t.Errorf("Sync() error = %v, want errno %v", err, tt.wantErrno)
			}
			if res.Pid != -1 {
				t.Errorf("Pid = %d, want -1", res.Pid)
			}
			if res.ExitCode != -1 || res.ExitSignal != -1 {
				t.Errorf("exit = (%d, %d), want (-1, -1)", res.ExitCode, res.ExitSignal)
			}
			if Classify(res, err) != OutcomeLaunchFailed {
				t.Errorf("Classify() = %s, want launch_failed", Classify(res, err))
			}
			assertExitInvariant(t, res, err)
		})
	}
}

func TestRun_NoDescriptorLeak(t *testing.T) {
	countOpenFDs(t) // warm up the runtime poller used by ReadDir
	before := countOpenFDs(t)

	for _, name := range []string{"stdout_stderr", "exit_code", "timeout"} {
		req := helperRequest(t, name)
		req.Timeout = 200 * time.Millisecond
		req.Stdin = []byte("input")
		if _, err := Sync(req); err != nil {
			t.Fatalf("%s: Sync() error = %v", name, err)
		}
	}
	req := helperRequest(t, "stdout_stderr")
	req.Stdout = make([]byte, 1)
	if _, err := Sync(req); !errors.Is(err, ErrOverflow) {
		t.Fatalf("overflow run error = %v", err)
	}
	req.File = "/nonexistent/spawn-sync-binary"
	if _, err := Sync(req); err == nil {
		t.Fatal("expected launch failure")
	}

	if after := countOpenFDs(t); after != before {
		t.Errorf("open descriptors: before=%d after=%d", before, after)
	}
}

func TestRun_InheritedDescriptorNotLeaked(t *testing.T) {
	// A descriptor without close-on-exec, as a parent process or syscall.Dup
	// would leave it.
	const fd = 211
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	if err := unix.Dup3(fds[0], fd, 0); err != nil {
		t.Fatalf("dup3: %v", err)
	}
	defer unix.Close(fd)

	req := helperRequest(t, "inherited_fd")
	req.Env = append(req.Env, "SPAWN_SYNC_FD=211")

	res, err := Sync(req)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, stdout = %q: fd %d reached the child", res.ExitCode, res.Stdout, fd)
	}
}

func TestRun_PipeIOError(t *testing.T) {
	// Swap the stdout pump onto the write end of a reader-less pipe: poll
	// reports POLLERR and the read fails with EBADF.
	pumpsStartedHook = func(r *spawnRun) {
		var fds [2]int
		if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
			t.Errorf("pipe2: %v", err)
			return
		}
		unix.Close(fds[0])
		closeFD(&r.stdoutPump.fd)
		r.stdoutPump.fd = fds[1]
	}
	defer func() { pumpsStartedHook = nil }()

	req := helperRequest(t, "timeout")
	req.Timeout = 5 * time.Second

	start := time.Now()
	res, err := Sync(req)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrIO) {
		t.Fatalf("Sync() error = %v, want ErrIO", err)
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Errno != unix.EBADF {
		t.Errorf("error = %#v, want errno EBADF", err)
	}
	if res.Pid <= 0 {
		t.Errorf("Pid = %d, want the launched child", res.Pid)
	}
	if res.ExitSignal != int(syscall.SIGKILL) || res.ExitCode != -1 {
		t.Errorf("exit = (%d, %d), want killed by SIGKILL", res.ExitCode, res.ExitSignal)
	}
	if res.ExitTimeout {
		t.Error("ExitTimeout = true, want false")
	}
	if elapsed > 2*time.Second {
		t.Errorf("returned after %v, want prompt kill well before the deadline", elapsed)
	}
	if got := Classify(res, err); got != OutcomeIOError {
		t.Errorf("Classify() = %s, want io_error", got)
	}
	assertExitInvariant(t, res, err)
	assertBounds(t, req, res)
	assertReaped(t, res.Pid)
}

func TestRun_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sup := New(Config{Logger: logger})

	req := helperRequest(t, "stdout_stderr")
	if _, err := sup.Run(req); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	out := buf.String()
	for _, event := range []string{"spawn_started", "spawn_finished"} {
		if !bytes.Contains([]byte(out), []byte(event)) {
			t.Errorf("log output missing %q:\n%s", event, out)
		}
	}
}

// =============================================================================
// Properties
// =============================================================================

func TestRun_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sizes := []int{1, 17, 4096, 65537, 1 << 18}

	for _, n := range sizes {
		input := make([]byte, n)
		rng.Read(input)

		for _, helper := range []string{"stdin", "stdin_stream"} {
			req := helperRequest(t, helper)
			req.Timeout = 20 * time.Second
			req.Stdin = input
			req.Stdout = make([]byte, n)

			res, err := Sync(req)
			if err != nil {
				t.Fatalf("%s n=%d: Sync() error = %v", helper, n, err)
			}
			if res.StdinWritten != n {
				t.Errorf("%s n=%d: StdinWritten = %d", helper, n, res.StdinWritten)
			}
			if res.StdoutRead != n || !bytes.Equal(res.Stdout, input) {
				t.Errorf("%s n=%d: echoed %d bytes, content equal=%v", helper, n, res.StdoutRead, bytes.Equal(res.Stdout, input))
			}
			assertBounds(t, req, res)
			assertReaped(t, res.Pid)
		}
	}
}

func TestRun_RandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	helpers := []string{"exit_code", "exit_signal", "stdout_stderr", "stdin", "ignore_stdin"}

	for i := 0; i < 20; i++ {
		req := helperRequest(t, helpers[rng.Intn(len(helpers))])
		req.Stdout = make([]byte, rng.Intn(16))
		req.Stderr = make([]byte, rng.Intn(16))
		req.CombineStderr = rng.Intn(2) == 0
		if rng.Intn(2) == 0 {
			req.Stdin = bytes.Repeat([]byte("i"), rng.Intn(32))
		}

		res, err := Sync(req)
		if err != nil && !errors.Is(err, ErrOverflow) {
			t.Fatalf("iteration %d (%s): Sync() error = %v", i, req.Args[1], err)
		}
		assertExitInvariant(t, res, err)
		assertBounds(t, req, res)
		assertReaped(t, res.Pid)
	}
}
