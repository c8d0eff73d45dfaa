// Package device provides a unified non-blocking byte source/sink over a
// raw OS file descriptor, matching the Device contract of spec.md
// section 4.1: read/write never block, and a return of ErrWouldBlock means
// "try later" rather than an actual failure.
package device

import (
	"errors"
	"net"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Read/Write when the underlying fd is not
// ready and the caller should retry once the Reactor reports readiness
// again.
var ErrWouldBlock = errors.New("device: would block")

// ErrClosed is returned by Read/Write on a Device that has been closed.
var ErrClosed = errors.New("device: closed")

// Device owns one OS file descriptor and offers non-blocking Read/Write.
type Device interface {
	// Read copies up to len(buf) bytes into buf. It returns (0,
	// ErrWouldBlock) if no data is currently available.
	Read(buf []byte) (n int, err error)
	// Write writes up to len(buf) bytes from buf. It returns (0,
	// ErrWouldBlock) if the fd is not currently writable.
	Write(buf []byte) (n int, err error)
	// Fd returns the underlying file descriptor.
	Fd() int
	// Connected reports whether the device has not yet observed EOF or a
	// hard I/O error.
	Connected() bool
	// Close releases the underlying file descriptor.
	Close() error
}

// FDDevice is the concrete Device implementation over a raw fd.
type FDDevice struct {
	fd        int
	connected int32
}

// New wraps fd as a Device, setting O_NONBLOCK and FD_CLOEXEC as required
// by spec.md's Device contract.
func New(fd int) (*FDDevice, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return nil, err
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags|unix.FD_CLOEXEC); err != nil {
		return nil, err
	}
	return &FDDevice{fd: fd, connected: 1}, nil
}

// NewInherited wraps an inherited fd (e.g. from DTC_TOPOLOGY_FD,
// DTC_FRONTIERS, DTC_BRIDGES) without forcing close-on-exec, since the
// child may itself need to pass the fd further along a bridge table.
func NewInherited(fd int) (*FDDevice, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return &FDDevice{fd: fd, connected: 1}, nil
}

// Socketpair returns two connected FDDevices, used for intra streams and
// control sockets (spec.md section 3 Lifecycle).
func Socketpair() (a, b *FDDevice, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	a, err = New(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err = New(fds[1])
	if err != nil {
		a.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return a, b, nil
}

// FromConn extracts the raw fd from a net.Conn (a dialed or accepted TCP
// connection, used for inter streams and frontier sockets) and wraps it as
// a Device. The returned Device owns its own duplicate of the fd; conn is
// closed and must not be used again.
func FromConn(conn net.Conn) (*FDDevice, error) {
	type fileConn interface {
		File() (*os.File, error)
	}

	fc, ok := conn.(fileConn)
	if !ok {
		return nil, errors.New("device: connection does not expose a raw fd")
	}

	f, err := fc.File()
	if err != nil {
		return nil, err
	}
	// File already returned a duplicate, but f's finalizer would close it;
	// take a copy the Device owns outright, then close f and the conn.
	fd, err := unix.Dup(int(f.Fd()))
	f.Close()
	conn.Close()
	if err != nil {
		return nil, err
	}
	return New(fd)
}

// Fd returns the underlying file descriptor.
func (d *FDDevice) Fd() int { return d.fd }

// Connected reports whether EOF or a hard error has not yet been observed.
func (d *FDDevice) Connected() bool { return atomic.LoadInt32(&d.connected) == 1 }

func (d *FDDevice) markDisconnected() { atomic.StoreInt32(&d.connected, 0) }

// Read implements Device.
func (d *FDDevice) Read(buf []byte) (n int, err error) {
	if !d.Connected() {
		return 0, ErrClosed
	}

	n, err = unix.Read(d.fd, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return 0, ErrWouldBlock
	case err != nil:
		d.markDisconnected()
		return 0, err
	case n == 0 && len(buf) > 0:
		// EOF.
		d.markDisconnected()
		return 0, err
	}
	return n, nil
}

// Write implements Device.
func (d *FDDevice) Write(buf []byte) (n int, err error) {
	if !d.Connected() {
		return 0, ErrClosed
	}

	n, err = unix.Write(d.fd, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return 0, ErrWouldBlock
	case err != nil:
		d.markDisconnected()
		return 0, err
	}
	return n, nil
}

// Close releases the underlying file descriptor.
func (d *FDDevice) Close() error {
	d.markDisconnected()
	return unix.Close(d.fd)
}
