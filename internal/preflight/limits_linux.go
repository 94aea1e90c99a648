//go:build linux

package preflight

import (
	"math"

	"golang.org/x/sys/unix"
)

func fileLimit() (int, bool) {
	return rlimit(unix.RLIMIT_NOFILE)
}

func processLimit() (int, bool) {
	return rlimit(unix.RLIMIT_NPROC)
}

func rlimit(resource int) (int, bool) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(resource, &lim); err != nil {
		return 0, false
	}
	if lim.Cur == unix.RLIM_INFINITY || lim.Cur > math.MaxInt32 {
		return math.MaxInt32, true
	}
	return int(lim.Cur), true
}

func canExecute(path string) error {
	return unix.Access(path, unix.X_OK)
}
