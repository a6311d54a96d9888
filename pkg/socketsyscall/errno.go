// Package socketsyscall translates guest socket syscalls into calls on
// the TCP/UDP cores and the per-process descriptor table, per spec.md §6
// "Socket syscall surface" and §7 "Error handling design".
package socketsyscall

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/shadow-sim/engine/pkg/descriptor"
	"github.com/shadow-sim/engine/pkg/tcp"
	"github.com/shadow-sim/engine/pkg/udp"
)

// ErrnoError wraps a POSIX errno for return to the guest.
type ErrnoError struct {
	Errno unix.Errno
}

func (e *ErrnoError) Error() string { return e.Errno.Error() }

// Errno extracts the POSIX errno a Go error should be reported to the
// guest as, translating every typed error this package's dependencies
// can return per spec.md §7's table.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}

	var tcpErr *tcp.OpError
	if errors.As(err, &tcpErr) {
		return tcpErrno(tcpErr.Kind)
	}

	var udpErr *udp.OpError
	if errors.As(err, &udpErr) {
		return udpErrno(udpErr.Kind)
	}

	if errors.Is(err, descriptor.ErrBadFD) {
		return unix.EBADF
	}

	var errnoErr *ErrnoError
	if errors.As(err, &errnoErr) {
		return errnoErr.Errno
	}

	return unix.EIO
}

func tcpErrno(k tcp.ErrKind) unix.Errno {
	switch k {
	case tcp.ErrInvalidState:
		return unix.EINVAL
	case tcp.ErrInProgress:
		return unix.EALREADY
	case tcp.ErrAlreadyConnected:
		return unix.EISCONN
	case tcp.ErrIsListening:
		return unix.EOPNOTSUPP
	case tcp.ErrFailedAssociation:
		return unix.EADDRINUSE
	case tcp.ErrNothingToAccept:
		return unix.EAGAIN
	case tcp.ErrFull:
		return unix.EWOULDBLOCK
	case tcp.ErrNotConnected:
		return unix.ENOTCONN
	case tcp.ErrStreamClosed:
		return unix.EPIPE
	case tcp.ErrEmpty:
		return unix.EAGAIN
	case tcp.ErrNoPacket:
		return unix.EAGAIN
	case tcp.ErrIO:
		return unix.EIO
	default:
		return unix.EIO
	}
}

func udpErrno(k udp.ErrKind) unix.Errno {
	switch k {
	case udp.ErrMsgSize:
		return unix.EMSGSIZE
	case udp.ErrNotConnected:
		return unix.EDESTADDRREQ
	case udp.ErrWouldBlockEmpty:
		return unix.EAGAIN
	case udp.ErrFull:
		return unix.EWOULDBLOCK
	case udp.ErrShutdown:
		return unix.EPIPE
	default:
		return unix.EIO
	}
}

// asyncErrno maps a latched TCP async error to the errno SO_ERROR or a
// subsequent connect/recv result should surface, per spec.md §7.
func asyncErrno(e tcp.AsyncError) unix.Errno {
	switch e {
	case tcp.ResetSent, tcp.ResetReceived:
		return unix.ECONNRESET
	case tcp.ClosedWhileConnecting:
		return unix.ECONNABORTED
	case tcp.TimedOut:
		return unix.ETIMEDOUT
	default:
		return 0
	}
}
