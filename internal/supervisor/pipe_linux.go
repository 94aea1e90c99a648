//go:build linux

package supervisor

import (
	"golang.org/x/sys/unix"
)

// pipeEnd names the end of a pipe that stays in the parent.
type pipeEnd int

const (
	parentReads pipeEnd = iota
	parentWrites
)

// pipePair holds both descriptors of a pipe; -1 marks a closed end.
type pipePair struct {
	r int
	w int
}

var noPipe = pipePair{r: -1, w: -1}

// makePipe creates a close-on-exec pipe and makes the parent's end
// non-blocking. The child's end stays blocking.
func makePipe(parent pipeEnd) (pipePair, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return noPipe, resourceError("pipe2", err)
	}
	p := pipePair{r: fds[0], w: fds[1]}

	fd := p.r
	if parent == parentWrites {
		fd = p.w
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		p.close()
		return noPipe, newError(KindIO, "set nonblock", err)
	}
	return p, nil
}

// takeParent returns the parent's end and forgets it, handing ownership to the caller.
func (p *pipePair) takeParent(parent pipeEnd) int {
	if parent == parentWrites {
		fd := p.w
		p.w = -1
		return fd
	}
	fd := p.r
	p.r = -1
	return fd
}

// closeChild closes the end that was handed to the child.
func (p *pipePair) closeChild(parent pipeEnd) {
	if parent == parentWrites {
		closeFD(&p.r)
		return
	}
	closeFD(&p.w)
}

func (p *pipePair) close() {
	closeFD(&p.r)
	closeFD(&p.w)
}

// openNull opens /dev/null close-on-exec for discarded streams.
func openNull() (int, error) {
	fd, err := unix.Open("/dev/null", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, resourceError("open /dev/null", err)
	}
	return fd, nil
}

func closeFD(fd *int) {
	if *fd < 0 {
		return
	}
	_ = unix.Close(*fd)
	*fd = -1
}
