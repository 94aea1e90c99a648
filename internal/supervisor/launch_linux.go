//go:build linux

package supervisor

import (
	"math"
	"os"
	"strconv"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// closeRangeUnsupported is set once close_range(2) has failed with ENOSYS
// or EINVAL (kernels before 5.11).
var closeRangeUnsupported atomic.Bool

// launch forks and execs the child with files as its fds 0, 1 and 2.
//
// syscall.ForkExec owns the pre-exec error channel: a close-on-exec pipe the
// child writes its errno to if chdir, dup2 or execve fail. On such a failure
// ForkExec has already waited for the short-lived child, so no zombie is left.
// ForkExec closes nothing itself, so every descriptor above 2 is marked
// close-on-exec first and the child starts with only the three given here.
func launch(req *Request, files [3]int) (int, error) {
	env := req.Env
	if env == nil {
		env = os.Environ()
	}
	attr := &syscall.ProcAttr{
		Dir:   req.Dir,
		Env:   env,
		Files: []uintptr{uintptr(files[0]), uintptr(files[1]), uintptr(files[2])},
		Sys: &syscall.SysProcAttr{
			Setpgid: req.NewProcessGroup,
		},
	}

	if err := markInheritedCloexec(); err != nil {
		return -1, newError(KindLaunchFailed, "mark close-on-exec", err)
	}

	pid, err := syscall.ForkExec(req.File, req.argv(), attr)
	if err != nil {
		if errnoOf(err) == syscall.EAGAIN {
			return -1, newError(KindResourceExhausted, "fork/exec "+req.File, err)
		}
		return -1, newError(KindLaunchFailed, "fork/exec "+req.File, err)
	}
	return pid, nil
}

// markInheritedCloexec sets FD_CLOEXEC on every descriptor above 2. ForkLock
// keeps other goroutines from creating a descriptor in the middle of the walk
// through the os and syscall paths that honour it.
func markInheritedCloexec() error {
	syscall.ForkLock.Lock()
	defer syscall.ForkLock.Unlock()

	if !closeRangeUnsupported.Load() {
		err := unix.CloseRange(3, math.MaxUint32, unix.CLOSE_RANGE_CLOEXEC)
		if err == nil {
			return nil
		}
		if err != unix.ENOSYS && err != unix.EINVAL {
			return err
		}
		closeRangeUnsupported.Store(true)
	}
	return markCloexecFromProc()
}

// markCloexecFromProc is the close_range fallback: it walks /proc/self/fd.
func markCloexecFromProc() error {
	dir, err := unix.Open("/proc/self/fd", unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(dir)

	buf := make([]byte, 4096)
	var names []string
	for {
		n, err := unix.Getdents(dir, buf)
		if err != nil {
			return err
		}
		if n <= 0 {
			break
		}
		_, _, names = unix.ParseDirent(buf[:n], -1, names)
	}

	for _, name := range names {
		fd, err := strconv.Atoi(name)
		if err != nil || fd <= 2 || fd == dir {
			continue
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil && err != unix.EBADF {
			return err
		}
	}
	return nil
}
