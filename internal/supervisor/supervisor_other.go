//go:build !linux

package supervisor

import "syscall"

// Run is only implemented on Linux, where pipe2, poll, wait4 and pidfd are available.
func (s *Supervisor) Run(req Request) (Result, error) {
	res := newResult()
	if err := req.validate(); err != nil {
		return res, err
	}
	return res, &Error{Kind: KindLaunchFailed, Op: "spawn is only supported on linux", Errno: syscall.ENOSYS}
}
