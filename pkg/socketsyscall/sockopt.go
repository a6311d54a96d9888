package socketsyscall

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sys/unix"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/shadow-sim/engine/pkg/tcp"
)

// congestionCaser folds guest-supplied congestion-control names the same
// way Linux's setsockopt string matching is case-insensitive in practice;
// grounded on the teacher pack's tests/migration/converter scapy codegen
// use of golang.org/x/text/cases for name normalization.
var congestionCaser = cases.Lower(language.Und)

// sockMin is the kernel's floor for SO_SNDBUF/SO_RCVBUF after doubling,
// matching Linux's SOCK_MIN_SNDBUF/SOCK_MIN_RCVBUF.
const sockMin = 2048

// sockMax is the 256 MiB ceiling spec.md §6 clamps buffer sizes to.
var sockMax = datasize.ByteSize(256 * datasize.MB)

// sockOpts holds the per-socket option state that isn't already owned by
// the TCP/UDP core: values that are merely stored and never acted on
// (SO_BROADCAST), and values read-only derived from the handle's type.
type sockOpts struct {
	broadcast     bool
	congestion    string
	nodelay       bool
	lastAsyncErrno unix.Errno
}

const defaultCongestion = "cubic"

// GetSockOpt implements getsockopt(2) for the subset of options spec.md
// §6 lists.
func GetSockOpt(h *Handle, level, name int) (int, error) {
	switch {
	case level == unix.SOL_SOCKET && name == unix.SO_ERROR:
		if h.tcpState != nil {
			if e := h.tcpState.ClearError(); e != tcp.NoAsyncError {
				h.sockOpts.lastAsyncErrno = asyncErrno(e)
			}
		}
		e := h.sockOpts.lastAsyncErrno
		h.sockOpts.lastAsyncErrno = 0
		return int(e), nil
	case level == unix.SOL_SOCKET && name == unix.SO_TYPE:
		return int(sockTypeConst(h.typ)), nil
	case level == unix.SOL_SOCKET && name == unix.SO_DOMAIN:
		return int(sockDomainConst(h.domain)), nil
	case level == unix.SOL_SOCKET && name == unix.SO_PROTOCOL:
		return int(sockProtocolConst(h.typ)), nil
	case level == unix.SOL_SOCKET && name == unix.SO_ACCEPTCONN:
		if h.tcpState != nil && h.tcpState.Kind() == tcp.Listen {
			return 1, nil
		}
		return 0, nil
	case level == unix.SOL_SOCKET && (name == unix.SO_SNDBUF || name == unix.SO_RCVBUF):
		switch {
		case h.tcpState != nil && name == unix.SO_SNDBUF:
			return h.tcpState.SendBufSize(), nil
		case h.tcpState != nil:
			return h.tcpState.RecvBufSize(), nil
		case h.udpSock != nil && name == unix.SO_SNDBUF:
			return int(h.udpSock.SendBufSize()), nil
		case h.udpSock != nil:
			return int(h.udpSock.RecvBufSize()), nil
		default:
			return 0, nil
		}
	case level == unix.SOL_SOCKET && name == unix.SO_BROADCAST:
		return boolToInt(h.sockOpts.broadcast), nil
	case level == unix.SOL_SOCKET && (name == unix.SO_REUSEADDR || name == unix.SO_REUSEPORT || name == unix.SO_KEEPALIVE):
		return 1, nil // accepted no-ops always read back as enabled, set or not.
	default:
		return 0, fmt.Errorf("socketsyscall: unsupported getsockopt level=%d name=%d: %w", level, name, &ErrnoError{Errno: unix.ENOPROTOOPT})
	}
}

// SetSockOpt implements setsockopt(2) for the subset of options spec.md
// §6 lists.
func SetSockOpt(h *Handle, level, name int, value []byte) error {
	switch {
	case level == unix.SOL_SOCKET && (name == unix.SO_SNDBUF || name == unix.SO_RCVBUF):
		want := datasize.ByteSize(decodeUint32(value)) * 2
		if want < sockMin {
			want = sockMin
		}
		if want > sockMax {
			want = sockMax
		}
		switch {
		case h.udpSock != nil && name == unix.SO_SNDBUF:
			h.udpSock.SetSendBufSize(want)
		case h.udpSock != nil:
			h.udpSock.SetRecvBufSize(want)
		case h.tcpState != nil && name == unix.SO_SNDBUF:
			h.tcpState.SetSendBufSize(int(want.Bytes()))
		case h.tcpState != nil:
			h.tcpState.SetRecvBufSize(int(want.Bytes()))
		}
		return nil
	case level == unix.SOL_SOCKET && name == unix.SO_BROADCAST:
		h.sockOpts.broadcast = decodeUint32(value) != 0
		return nil
	case level == unix.SOL_SOCKET && (name == unix.SO_REUSEADDR || name == unix.SO_REUSEPORT || name == unix.SO_KEEPALIVE):
		return nil // accepted, no-op.
	case level == unix.IPPROTO_TCP && name == unix.TCP_NODELAY:
		h.sockOpts.nodelay = decodeUint32(value) != 0
		return nil
	case level == unix.IPPROTO_TCP && name == tcpCongestionOptName:
		name := congestionCaser.String(string(value))
		if !knownCongestionControl(name) {
			return fmt.Errorf("socketsyscall: unknown congestion control %q: %w", name, &ErrnoError{Errno: unix.ENOENT})
		}
		h.sockOpts.congestion = name
		return nil
	default:
		return fmt.Errorf("socketsyscall: unsupported setsockopt level=%d name=%d: %w", level, name, &ErrnoError{Errno: unix.ENOPROTOOPT})
	}
}

// tcpCongestionOptName mirrors Linux's TCP_CONGESTION option number.
const tcpCongestionOptName = unix.TCP_CONGESTION

func knownCongestionControl(name string) bool {
	switch name {
	case "cubic", "reno", "bbr":
		return true
	default:
		return false
	}
}

// TCPInfo is the read-only snapshot TCP_INFO reports, per spec.md §6.
type TCPInfo struct {
	State      string
	SndUna     uint32
	SndNxt     uint32
	RcvNxt     uint32
	SndWnd     uint16
	RcvWnd     uint16
	Congestion string
}

// GetTCPInfo builds a TCP_INFO snapshot from the handle's current state.
func GetTCPInfo(h *Handle) (TCPInfo, error) {
	if h.tcpState == nil {
		return TCPInfo{}, fmt.Errorf("socketsyscall: TCP_INFO on non-stream socket: %w", &ErrnoError{Errno: unix.EOPNOTSUPP})
	}
	return TCPInfo{
		State:      h.tcpState.Kind().String(),
		Congestion: congestionOrDefault(h.sockOpts.congestion),
	}, nil
}

func congestionOrDefault(name string) string {
	if name == "" {
		return defaultCongestion
	}
	return name
}

func sockTypeConst(t SockType) int {
	switch t {
	case TypeStream:
		return unix.SOCK_STREAM
	case TypeDgram:
		return unix.SOCK_DGRAM
	default:
		return unix.SOCK_SEQPACKET
	}
}

func sockDomainConst(d Domain) int {
	if d == DomainUnix {
		return unix.AF_UNIX
	}
	return unix.AF_INET
}

func sockProtocolConst(t SockType) int {
	if t == TypeDgram {
		return unix.IPPROTO_UDP
	}
	return unix.IPPROTO_TCP
}

func decodeUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
