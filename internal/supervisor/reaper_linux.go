//go:build linux

package supervisor

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// reaper collects the exit status of one child exactly once.
//
// When the kernel supports pidfd_open the pidfd joins the poll set and becomes
// readable when the child exits. Otherwise the run loop wakes on a short
// interval and polls wait4 with WNOHANG.
type reaper struct {
	pid    int
	group  bool
	pidfd  int
	reaped bool
	status unix.WaitStatus
}

func newReaper(pid int, group bool) *reaper {
	r := &reaper{pid: pid, group: group, pidfd: -1}
	if fd, err := unix.PidfdOpen(pid, 0); err == nil {
		r.pidfd = fd
	}
	return r
}

// fd returns the pidfd to poll for exit, or -1.
func (r *reaper) fd() int {
	return r.pidfd
}

// poll reaps the child if it has exited, without blocking.
func (r *reaper) poll() (bool, error) {
	if r.reaped {
		return true, nil
	}
	return r.wait4(unix.WNOHANG)
}

// wait blocks until the child is reaped.
func (r *reaper) wait() error {
	if r.reaped {
		return nil
	}
	_, err := r.wait4(0)
	return err
}

func (r *reaper) wait4(options int) (bool, error) {
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(r.pid, &ws, options, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		if wpid == 0 {
			return false, nil
		}
		r.status = ws
		r.reaped = true
		closeFD(&r.pidfd)
		return true, nil
	}
}

// signal delivers sig to the child, or to its process group. Once the child
// has been reaped its pid may be reused, so nothing is sent.
func (r *reaper) signal(sig syscall.Signal) error {
	if r.reaped {
		return nil
	}
	target := r.pid
	if r.group {
		target = -r.pid
	}
	err := unix.Kill(target, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// exitInfo returns (exit code, signal) with -1 for whichever does not apply.
func (r *reaper) exitInfo() (code, sig int) {
	switch {
	case !r.reaped:
		return -1, -1
	case r.status.Exited():
		return r.status.ExitStatus(), -1
	case r.status.Signaled():
		return -1, int(r.status.Signal())
	default:
		return -1, -1
	}
}

func (r *reaper) close() {
	closeFD(&r.pidfd)
}
