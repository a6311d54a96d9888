// Package tcp implements the sans-I/O RFC 9293 TCP state machine, per
// spec.md §4.6. The machine has no knowledge of sockets or the kernel: it
// is driven entirely by PushPacket/PopPacket and timer callbacks supplied
// through a Dependencies capability bundle.
package tcp

import (
	"fmt"

	"github.com/shadow-sim/engine/pkg/byteq"
	"github.com/shadow-sim/engine/pkg/packet"
	"github.com/shadow-sim/engine/pkg/simtime"
	"github.com/shadow-sim/engine/pkg/sockaddr"
)

// Kind tags one of the 13 RFC 9293 states.
type Kind int

const (
	Init Kind = iota
	Listen
	SynSent
	SynReceived
	Established
	FinWait1
	FinWait2
	Closing
	TimeWait
	CloseWait
	LastAck
	Rst
	Closed
)

func (k Kind) String() string {
	names := [...]string{
		"Init", "Listen", "SynSent", "SynReceived", "Established",
		"FinWait1", "FinWait2", "Closing", "TimeWait", "CloseWait",
		"LastAck", "Rst", "Closed",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// TimerRegisteredBy distinguishes timers registered by a pre-accept child
// state (dispatching to the listener) from timers owned by the state
// itself, per spec.md §4.6.
type TimerRegisteredBy int

const (
	RegisteredByParent TimerRegisteredBy = iota
	RegisteredByChild
)

// TimerFunc is invoked when a registered timer fires. registeredBy tells
// the callback whether it is firing against a still-pre-accept child (in
// which case it must look the child up through the listener) or directly
// against the owning state.
type TimerFunc func(by TimerRegisteredBy)

// Dependencies is the capability bundle a TcpState is driven through: a
// clock, timer registration, and the ability to produce dependencies for
// a forked child state during accept (spec.md §4.6).
type Dependencies interface {
	Now() simtime.SimulationTime
	RegisterTimer(deadline simtime.SimulationTime, cb TimerFunc)
	Fork() Dependencies
}

// AssociateFunc binds a socket to a local address, returning the bound
// address or an error (e.g. port already in use). Supplied by the host
// networking layer so the TCP core never has opinions about port
// allocation (spec.md §4.6 connect/listen).
type AssociateFunc func(wantLocal *sockaddr.Addr) (*sockaddr.Addr, error)

// PollFlags is the bitmask returned by Poll, per spec.md §4.6.
type PollFlags uint32

const (
	Readable PollFlags = 1 << iota
	Writable
	ErrorFlag
	RecvClosed
	SendClosed
	Listening
	ReadyToAccept
	Connecting
	Connected
	ClosedFlag
)

func (f PollFlags) Has(flag PollFlags) bool { return f&flag != 0 }

// ShutdownHow selects which half of the connection to shut down.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

// AsyncError is a latched error delivered via SO_ERROR or a subsequent
// connect/recv result, per spec.md §7.
type AsyncError int

const (
	NoAsyncError AsyncError = iota
	ResetSent
	ResetReceived
	ClosedWhileConnecting
	TimedOut
)

func (e AsyncError) Error() string {
	switch e {
	case ResetSent:
		return "tcp: reset sent"
	case ResetReceived:
		return "tcp: reset received"
	case ClosedWhileConnecting:
		return "tcp: closed while connecting"
	case TimedOut:
		return "tcp: timed out"
	default:
		return "tcp: no error"
	}
}

// outSegment is one outbound TCP segment awaiting PopPacket.
type outSegment struct {
	hdr     packet.TCPHeader
	payload []byte
}

// defaultSendBufSize/defaultRecvBufSize seed SO_SNDBUF/SO_RCVBUF before any
// setsockopt call, matching the udp package's kernel-default sizing
// (net.core.{r,w}mem_default) so both protocols start from the same
// baseline (spec.md §6).
const (
	defaultSendBufSize = 212 * 1024
	defaultRecvBufSize = 212 * 1024
)

// child is a pre-accept SynReceived connection owned by a Listen state.
type child struct {
	state *TcpState
	// parentDeps is the Dependencies the child was forked with; its
	// timers dispatch back here (RegisteredByChild) until Finalize.
	parentDeps Dependencies
}

// TcpState holds exactly one of the 13 RFC 9293 state variants at a time.
// Every public operation consumes the current variant's state and
// transitions it forward in place; spec.md's "old variant never readable
// afterwards" invariant is realized by every transition clearing the
// fields the old state owned exclusively (retry counters, syn queues,
// etc.) as part of moving on.
type TcpState struct {
	kind Kind
	deps Dependencies

	local  *sockaddr.Addr
	remote *sockaddr.Addr

	recvBuf *byteq.ByteQueue
	reasm   *reassemblyQueue

	sndUna, sndNxt uint32
	rcvNxt         uint32
	sndWnd, rcvWnd uint16

	windowScale *uint8
	sackEnabled bool

	outQueue []outSegment

	sendCap, recvCap int

	// Listen-only.
	backlog     int
	synQueue    map[uint32]*child // keyed by remote seq for lookup on 3rd-leg ACK
	acceptQueue []*child

	// SynSent/SynReceived-only.
	retries int

	// onEstablished is set on a pre-accept child (forked from a Listen's
	// pushPacketListen) and fires exactly once, the moment the child's
	// own PushPacket drives it from SynReceived into Established. It
	// moves the child from the listener's synQueue into its acceptQueue;
	// nil on every state that isn't a pending child.
	onEstablished func()

	finSent, finRecvd bool
	closeRequested    bool

	timeWaitDeadline simtime.SimulationTime

	lastErr AsyncError
}

// New returns a fresh TcpState in the Init state.
func New(deps Dependencies) *TcpState {
	return &TcpState{
		kind:    Init,
		deps:    deps,
		recvBuf: byteq.New(0),
		reasm:   newReassemblyQueue(),
		sendCap: defaultSendBufSize,
		recvCap: defaultRecvBufSize,
	}
}

// Kind returns the current state variant.
func (s *TcpState) Kind() Kind { return s.kind }

// SendBufSize returns the current SO_SNDBUF capacity in bytes.
func (s *TcpState) SendBufSize() int { return s.sendCap }

// SetSendBufSize applies an SO_SNDBUF request. Callers (socketsyscall)
// own the kernel doubling/clamping policy; this just stores the result.
func (s *TcpState) SetSendBufSize(n int) { s.sendCap = n }

// RecvBufSize returns the current SO_RCVBUF capacity in bytes.
func (s *TcpState) RecvBufSize() int { return s.recvCap }

// SetRecvBufSize applies an SO_RCVBUF request.
func (s *TcpState) SetRecvBufSize(n int) { s.recvCap = n }

// LocalAddr returns the bound local address, if any.
func (s *TcpState) LocalAddr() (*sockaddr.Addr, bool) {
	if s.local == nil {
		return nil, false
	}
	return s.local, true
}

// RemoteAddr returns the connected peer address, if any.
func (s *TcpState) RemoteAddr() (*sockaddr.Addr, bool) {
	if s.remote == nil {
		return nil, false
	}
	return s.remote, true
}

// SetRemoteAddr records the peer address for a connection PushPacket
// couldn't infer one for: TCPHeader carries ports only, never an IP, so a
// listener's freshly-forked child has no remote address until a caller
// that does see the decoded packet's source (the engine's demux layer)
// sets it explicitly. A no-op on states Connect already addressed.
func (s *TcpState) SetRemoteAddr(addr *sockaddr.Addr) {
	if s.remote == nil {
		s.remote = addr
	}
}

// WantsToSend reports whether an outbound segment is pending.
func (s *TcpState) WantsToSend() bool { return len(s.outQueue) > 0 }

// OpError is the typed error family every TcpState operation returns.
type OpError struct {
	Op   string
	Kind ErrKind
}

// ErrKind enumerates the error kinds listed in spec.md §4.6's operation
// table.
type ErrKind int

const (
	ErrInvalidState ErrKind = iota
	ErrInProgress
	ErrAlreadyConnected
	ErrIsListening
	ErrFailedAssociation
	ErrNothingToAccept
	ErrFull
	ErrNotConnected
	ErrStreamClosed
	ErrIO
	ErrEmpty
	ErrNoPacket
)

func (e *OpError) Error() string {
	return fmt.Sprintf("tcp: %s: %s", e.Op, e.Kind)
}

func (k ErrKind) String() string {
	names := map[ErrKind]string{
		ErrInvalidState:      "invalid state",
		ErrInProgress:        "in progress",
		ErrAlreadyConnected:  "already connected",
		ErrIsListening:       "is listening",
		ErrFailedAssociation: "failed association",
		ErrNothingToAccept:   "nothing to accept",
		ErrFull:              "full",
		ErrNotConnected:      "not connected",
		ErrStreamClosed:      "stream closed",
		ErrIO:                "io error",
		ErrEmpty:             "empty",
		ErrNoPacket:          "no packet",
	}
	return names[k]
}

func invalidState(op string) error { return &OpError{Op: op, Kind: ErrInvalidState} }
