//go:build linux

package supervisor

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// discardSize is the scratch buffer used to detect bytes beyond a full
// capture buffer. Those bytes are dropped.
const discardSize = 512

type pumpKind int

const (
	pumpReader pumpKind = iota
	pumpWriter
)

// pump moves bytes between one non-blocking pipe end and a fixed buffer.
type pump struct {
	stream string
	kind   pumpKind
	fd     int
	buf    []byte
	n      int
	status PumpStatus
	errno  syscall.Errno
}

func newReader(stream string, fd int, buf []byte) *pump {
	return &pump{stream: stream, kind: pumpReader, fd: fd, buf: buf}
}

func newWriter(stream string, fd int, buf []byte) *pump {
	return &pump{stream: stream, kind: pumpWriter, fd: fd, buf: buf}
}

func (p *pump) active() bool {
	return p.status == PumpInProgress
}

func (p *pump) events() int16 {
	if p.kind == pumpWriter {
		return unix.POLLOUT
	}
	return unix.POLLIN
}

// advance moves as many bytes as the kernel allows without blocking.
func (p *pump) advance() PumpStatus {
	if !p.active() {
		return p.status
	}
	if p.kind == pumpWriter {
		return p.write()
	}
	return p.read()
}

func (p *pump) read() PumpStatus {
	var discard [discardSize]byte
	for {
		dst := p.buf[p.n:]
		if len(dst) == 0 {
			dst = discard[:]
		}
		n, err := unix.Read(p.fd, dst)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return p.status
		case err != nil:
			return p.finish(PumpIOError, err)
		case n == 0:
			return p.finish(PumpCompleted, nil)
		case p.n == len(p.buf):
			return p.finish(PumpOverflow, nil)
		}
		p.n += n
	}
}

func (p *pump) write() PumpStatus {
	for p.n < len(p.buf) {
		n, err := unix.Write(p.fd, p.buf[p.n:])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return p.status
		case errors.Is(err, unix.EPIPE):
			// The child closed its stdin; what it took is what it got.
			return p.finish(PumpCompleted, nil)
		case err != nil:
			return p.finish(PumpIOError, err)
		}
		p.n += n
	}
	return p.finish(PumpCompleted, nil)
}

func (p *pump) finish(status PumpStatus, err error) PumpStatus {
	p.status = status
	p.errno = errnoOf(err)
	closeFD(&p.fd)
	return status
}

// stop aborts an active pump. Bytes already moved are kept.
func (p *pump) stop() {
	if p.active() {
		p.finish(PumpAborted, nil)
	}
}
