//go:build linux

package supervisor

import (
	"errors"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// pumpsStartedHook, when set, sees each run right after its pumps exist.
// Tests use it to put a pump in a state the kernel will not produce on demand.
var pumpsStartedHook func(r *spawnRun)

// spawnRun is the state of one Run call. Nothing in it outlives the call.
type spawnRun struct {
	sup *Supervisor
	req *Request

	stdin  pipePair
	stdout pipePair
	stderr pipePair
	null   int
	files  [3]int

	stdinPump  *pump
	stdoutPump *pump
	stderrPump *pump
	pumps      []*pump

	reaper   *reaper
	deadline *Deadline
	grace    *Deadline

	forced   bool
	timedOut bool
	err      error
}

// Run spawns req.File and blocks until the child has been reaped.
//
// A nil error means the supervisor did its job: the child exited, was
// killed by a signal, or was terminated at the deadline (ExitTimeout).
// Errors are *Error values of kind launch_failed, overflow, io_error or
// resource_exhausted; res is filled in as far as the run got either way.
func (s *Supervisor) Run(req Request) (Result, error) {
	res := newResult()
	if err := req.validate(); err != nil {
		return res, err
	}

	r := &spawnRun{
		sup:      s,
		req:      &req,
		stdin:    noPipe,
		stdout:   noPipe,
		stderr:   noPipe,
		null:     -1,
		deadline: &Deadline{},
		grace:    &Deadline{},
	}
	defer r.release()

	if err := r.setup(); err != nil {
		s.logger.Warn("spawn_setup_failed", "file", req.File, "error", err)
		return res, err
	}

	start := time.Now()
	pid, err := launch(&req, r.files)
	// EOF never reaches the parent while it still holds the child's ends.
	r.closeChildEnds()
	if err != nil {
		s.logger.Warn("spawn_launch_failed", "file", req.File, "error", err)
		return res, err
	}

	res.Pid = pid
	r.reaper = newReaper(pid, req.NewProcessGroup)
	r.deadline = NewDeadline(start, req.Timeout)
	r.startPumps()
	if pumpsStartedHook != nil {
		pumpsStartedHook(r)
	}

	s.logger.Debug("spawn_started",
		"pid", pid,
		"file", req.File,
		"timeout", req.Timeout.String(),
		"stdout", req.stdoutMode().String(),
		"stderr", req.stderrMode().String(),
		"pidfd", r.reaper.fd() >= 0,
	)

	r.loop()
	r.finish()
	res.Duration = time.Since(start)
	r.fill(&res)

	s.logger.Debug("spawn_finished",
		"pid", pid,
		"exit_code", res.ExitCode,
		"exit_signal", res.ExitSignal,
		"timeout", res.ExitTimeout,
		"stdin_written", res.StdinWritten,
		"stdout_read", res.StdoutRead,
		"stderr_read", res.StderrRead,
		"duration", res.Duration.String(),
	)
	return res, r.err
}

func (r *spawnRun) setup() error {
	var err error

	if len(r.req.Stdin) > 0 {
		if r.stdin, err = makePipe(parentWrites); err != nil {
			return err
		}
		r.files[0] = r.stdin.r
	} else {
		if r.files[0], err = r.nullFD(); err != nil {
			return err
		}
	}

	switch r.req.stdoutMode() {
	case streamCaptured:
		if r.stdout, err = makePipe(parentReads); err != nil {
			return err
		}
		r.files[1] = r.stdout.w
	default:
		if r.files[1], err = r.nullFD(); err != nil {
			return err
		}
	}

	switch r.req.stderrMode() {
	case streamCaptured:
		if r.stderr, err = makePipe(parentReads); err != nil {
			return err
		}
		r.files[2] = r.stderr.w
	case streamCombined:
		r.files[2] = r.files[1]
	default:
		if r.files[2], err = r.nullFD(); err != nil {
			return err
		}
	}
	return nil
}

func (r *spawnRun) nullFD() (int, error) {
	if r.null >= 0 {
		return r.null, nil
	}
	fd, err := openNull()
	if err != nil {
		return -1, err
	}
	r.null = fd
	return fd, nil
}

func (r *spawnRun) closeChildEnds() {
	r.stdin.closeChild(parentWrites)
	r.stdout.closeChild(parentReads)
	r.stderr.closeChild(parentReads)
	closeFD(&r.null)
}

func (r *spawnRun) startPumps() {
	if r.stdin.w >= 0 {
		r.stdinPump = newWriter("stdin", r.stdin.takeParent(parentWrites), r.req.Stdin)
		r.pumps = append(r.pumps, r.stdinPump)
	}
	if r.stdout.r >= 0 {
		r.stdoutPump = newReader("stdout", r.stdout.takeParent(parentReads), r.req.Stdout)
		r.pumps = append(r.pumps, r.stdoutPump)
	}
	if r.stderr.r >= 0 {
		r.stderrPump = newReader("stderr", r.stderr.takeParent(parentReads), r.req.Stderr)
		r.pumps = append(r.pumps, r.stderrPump)
	}
}

// loop drives the pumps until the child is reaped and every pump is done,
// or until a fatal error. Child exit beats the deadline within one wake-up.
func (r *spawnRun) loop() {
	fds := make([]unix.PollFd, 0, len(r.pumps)+1)
	polled := make([]*pump, 0, len(r.pumps))

	for {
		fds, polled = fds[:0], polled[:0]
		for _, p := range r.pumps {
			if p.active() {
				fds = append(fds, unix.PollFd{Fd: int32(p.fd), Events: p.events()})
				polled = append(polled, p)
			}
		}
		if fd := r.reaper.fd(); fd >= 0 {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		}

		_, err := unix.Poll(fds, r.pollTimeout(time.Now()))
		if err != nil && !errors.Is(err, unix.EINTR) {
			r.abort(newError(KindIO, "poll", err))
			return
		}

		for i, p := range polled {
			if fds[i].Revents != 0 {
				r.observe(p, p.advance())
			}
		}

		exited, err := r.reaper.poll()
		if err != nil {
			r.abort(newError(KindIO, "wait4", err))
			return
		}
		if exited {
			// After a forced kill, keep only what is already in the pipes.
			if r.forced {
				r.drain()
			}
			if r.pumpsDone() {
				return
			}
		}

		now := time.Now()
		if r.deadline.Fire(now) {
			if exited {
				// Something else still holds the pipes open; the child is gone.
				r.stopPumps()
				return
			}
			r.timeout(now)
			continue
		}
		if r.grace.Fire(now) {
			r.kill(syscall.SIGKILL)
		}
	}
}

func (r *spawnRun) pollTimeout(now time.Time) int {
	t := minPollTimeout(r.deadline.PollTimeout(now), r.grace.PollTimeout(now))
	if !r.reaper.reaped && r.reaper.fd() < 0 {
		t = minPollTimeout(t, durationToPollMs(r.sup.reapInterval))
	}
	return t
}

// observe reacts to a pump reaching a terminal status.
func (r *spawnRun) observe(p *pump, status PumpStatus) {
	switch status {
	case PumpOverflow:
		r.setErr(&Error{Kind: KindOverflow, Op: p.stream + " buffer full"})
		r.sup.logger.Warn("spawn_overflow",
			"pid", r.reaper.pid,
			"stream", p.stream,
			"capacity", len(p.buf),
		)
		if !r.forced {
			r.forced = true
			r.kill(syscall.SIGTERM)
			r.armGrace(time.Now())
		}
	case PumpIOError:
		r.setErr(&Error{Kind: KindIO, Op: p.stream, Errno: p.errno})
		r.sup.logger.Warn("spawn_pipe_error",
			"pid", r.reaper.pid,
			"stream", p.stream,
			"error", p.errno.Error(),
		)
		r.forced = true
		r.kill(syscall.SIGKILL)
	}
}

func (r *spawnRun) timeout(now time.Time) {
	sig := r.req.killSignal()
	r.sup.logger.Info("spawn_timeout",
		"pid", r.reaper.pid,
		"timeout", r.req.Timeout.String(),
		"signal", sig.String(),
	)
	r.timedOut = true
	r.forced = true
	r.stopPumps()
	r.kill(sig)
	if sig != syscall.SIGKILL {
		r.armGrace(now)
	}
}

// armGrace schedules the follow-up SIGKILL.
func (r *spawnRun) armGrace(now time.Time) {
	if r.sup.overflowGrace < 0 {
		r.kill(syscall.SIGKILL)
		return
	}
	r.grace = NewDeadline(now, r.sup.overflowGrace)
}

func (r *spawnRun) kill(sig syscall.Signal) {
	if err := r.reaper.signal(sig); err != nil {
		r.sup.logger.Warn("spawn_signal_failed",
			"pid", r.reaper.pid,
			"signal", sig.String(),
			"error", err,
		)
	}
}

func (r *spawnRun) abort(err error) {
	r.setErr(err)
	r.forced = true
	r.stopPumps()
	r.kill(syscall.SIGKILL)
}

func (r *spawnRun) setErr(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *spawnRun) drain() {
	for _, p := range r.pumps {
		if p.active() {
			r.observe(p, p.advance())
			p.stop()
		}
	}
}

func (r *spawnRun) pumpsDone() bool {
	for _, p := range r.pumps {
		if p.active() {
			return false
		}
	}
	return true
}

func (r *spawnRun) stopPumps() {
	for _, p := range r.pumps {
		p.stop()
	}
}

// finish guarantees the child is reaped, killing it first if the loop left early.
func (r *spawnRun) finish() {
	r.stopPumps()
	r.deadline.Cancel()
	r.grace.Cancel()
	if r.reaper.reaped {
		return
	}
	r.kill(syscall.SIGKILL)
	if err := r.reaper.wait(); err != nil {
		r.setErr(newError(KindIO, "wait4", err))
	}
}

func (r *spawnRun) fill(res *Result) {
	if p := r.stdinPump; p != nil {
		res.StdinWritten = p.n
	}
	if p := r.stdoutPump; p != nil {
		res.StdoutRead = p.n
		res.Stdout = r.req.Stdout[:p.n]
	}
	if p := r.stderrPump; p != nil {
		res.StderrRead = p.n
		res.Stderr = r.req.Stderr[:p.n]
	}
	res.ExitCode, res.ExitSignal = r.reaper.exitInfo()
	// timedOut is only set while the child is still unreaped, so the
	// deadline forced the end even when a catchable KillSignal was trapped
	// and the child then exited with a code.
	res.ExitTimeout = r.timedOut
}

// release closes every descriptor the run still holds and, should the run
// have unwound early, kills and reaps the child.
func (r *spawnRun) release() {
	r.stdin.close()
	r.stdout.close()
	r.stderr.close()
	closeFD(&r.null)
	for _, p := range r.pumps {
		p.stop()
	}
	if r.reaper == nil {
		return
	}
	if !r.reaper.reaped {
		_ = r.reaper.signal(syscall.SIGKILL)
		_ = r.reaper.wait()
	}
	r.reaper.close()
}
