// Package udp implements a sans-I/O UDP socket core: fixed-capacity
// datagram buffers with kernel-style doubling, MSG_TRUNC truncation, and
// peer-matching discard for connected sockets, per spec.md §4.7.
package udp

import (
	"fmt"

	"github.com/c2h5oh/datasize"

	"github.com/shadow-sim/engine/pkg/sockaddr"
)

// MaxDatagramLen is the largest UDP payload the kernel will ever accept
// in a single sendmsg before returning EMSGSIZE (spec.md §4.7, E2E
// scenario #4): 65507 bytes of UDP payload inside a 65535-byte IPv4
// datagram.
const MaxDatagramLen = 65507

// defaultBufSize is the initial datagram buffer capacity, matching the
// Linux default net.core.{r,w}mem_default.
var defaultBufSize = uint64(212 * datasize.KB)

// maxBufSize is the hard ceiling SO_SNDBUF/SO_RCVBUF doubling clamps to.
var maxBufSize = uint64(256 * datasize.MB)

// datagram is one queued, length-preserving UDP payload plus its peer
// address.
type datagram struct {
	from *sockaddr.Addr
	data []byte
}

// ErrKind enumerates the socket-level error outcomes a UDP operation can
// report.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrMsgSize
	ErrNotConnected
	ErrWouldBlockEmpty
	ErrFull
	ErrShutdown
)

// OpError is returned by every Socket operation that fails.
type OpError struct {
	Op   string
	Kind ErrKind
}

func (e *OpError) Error() string { return fmt.Sprintf("udp: %s: %s", e.Op, e.Kind) }

func (k ErrKind) String() string {
	switch k {
	case ErrMsgSize:
		return "message too long"
	case ErrNotConnected:
		return "not connected"
	case ErrWouldBlockEmpty:
		return "empty"
	case ErrFull:
		return "full"
	case ErrShutdown:
		return "shut down"
	default:
		return "no error"
	}
}

// ShutdownHow selects which half of a connected UDP socket to disable.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

// Socket is a connectionless datagram endpoint. Unlike TCP there is no
// state machine: a Socket is either unbound, bound, or additionally
// connected to a fixed peer, tracked by local/remote being non-nil.
type Socket struct {
	local  *sockaddr.Addr
	remote *sockaddr.Addr

	recvQueue []datagram
	sendCap   uint64
	recvCap   uint64
	recvUsed  uint64

	shutRead, shutWrite bool
}

// New returns an unbound Socket with kernel-default buffer sizes.
func New() *Socket {
	return &Socket{sendCap: defaultBufSize, recvCap: defaultBufSize}
}

// Bind assigns the local address, calling associate to resolve wildcard
// ports the same way TCP does.
func (s *Socket) Bind(want *sockaddr.Addr, associate func(*sockaddr.Addr) (*sockaddr.Addr, error)) error {
	local, err := associate(want)
	if err != nil {
		return &OpError{Op: "bind", Kind: ErrNotConnected}
	}
	s.local = local
	return nil
}

// Connect fixes the socket's peer; subsequent SendTo calls may omit a
// destination and PushInPacket discards datagrams from any other peer.
func (s *Socket) Connect(remote *sockaddr.Addr) { s.remote = remote }

// LocalAddr returns the bound local address, if any.
func (s *Socket) LocalAddr() (*sockaddr.Addr, bool) {
	if s.local == nil {
		return nil, false
	}
	return s.local, true
}

// RemoteAddr returns the connected peer address, if any.
func (s *Socket) RemoteAddr() (*sockaddr.Addr, bool) {
	if s.remote == nil {
		return nil, false
	}
	return s.remote, true
}

// SendMsg validates an outbound datagram (shutdown state, size, and a
// destination or connected peer). It does not queue or store the payload;
// the socket has no send queue.
func (s *Socket) SendMsg(to *sockaddr.Addr, payload []byte) error {
	if s.shutWrite {
		return &OpError{Op: "sendmsg", Kind: ErrShutdown}
	}
	if len(payload) > MaxDatagramLen {
		return &OpError{Op: "sendmsg", Kind: ErrMsgSize}
	}
	if to == nil {
		if s.remote == nil {
			return &OpError{Op: "sendmsg", Kind: ErrNotConnected}
		}
	}
	return nil
}

// PushInPacket delivers a received datagram into the socket's receive
// queue. Datagrams from a peer other than a connected socket's fixed
// remote are silently discarded, per spec.md §4.7.
func (s *Socket) PushInPacket(from *sockaddr.Addr, payload []byte) {
	if s.shutRead {
		return
	}
	if s.remote != nil && !sameInet(s.remote, from) {
		return
	}

	need := uint64(len(payload))
	if s.recvUsed+need > s.recvCap {
		s.growRecv(s.recvUsed + need)
	}
	if s.recvUsed+need > s.recvCap {
		return // still doesn't fit even at the 256MiB ceiling: drop.
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.recvQueue = append(s.recvQueue, datagram{from: from, data: cp})
	s.recvUsed += need
}

func (s *Socket) growRecv(need uint64) {
	cap := s.recvCap
	for cap < need && cap < maxBufSize {
		cap *= 2
	}
	if cap > maxBufSize {
		cap = maxBufSize
	}
	s.recvCap = cap
}

// RecvMsg dequeues the oldest buffered datagram. If buf is shorter than
// the datagram, the excess is discarded and truncated reports true
// (MSG_TRUNC), matching real UDP semantics.
func (s *Socket) RecvMsg(buf []byte) (n int, from *sockaddr.Addr, truncated bool, err error) {
	if len(s.recvQueue) == 0 {
		return 0, nil, false, &OpError{Op: "recvmsg", Kind: ErrWouldBlockEmpty}
	}

	d := s.recvQueue[0]
	s.recvQueue = s.recvQueue[1:]
	s.recvUsed -= uint64(len(d.data))

	n = copy(buf, d.data)
	truncated = n < len(d.data)
	return n, d.from, truncated, nil
}

// Shutdown disables the read and/or write half of a connected socket.
func (s *Socket) Shutdown(how ShutdownHow) {
	switch how {
	case ShutdownRead:
		s.shutRead = true
	case ShutdownWrite:
		s.shutWrite = true
	case ShutdownBoth:
		s.shutRead, s.shutWrite = true, true
	}
}

// SendBufSize returns the current SO_SNDBUF capacity in bytes.
func (s *Socket) SendBufSize() uint64 { return s.sendCap }

// RecvBufSize returns the current SO_RCVBUF capacity in bytes.
func (s *Socket) RecvBufSize() uint64 { return s.recvCap }

// SetRecvBufSize applies an SO_RCVBUF size as given (the caller has
// already doubled it), clamped to 256MiB; zero restores the default.
func (s *Socket) SetRecvBufSize(want datasize.ByteSize) {
	s.recvCap = clampBuf(uint64(want.Bytes()))
}

// SetSendBufSize applies an SO_SNDBUF request with the same clamp.
func (s *Socket) SetSendBufSize(want datasize.ByteSize) {
	s.sendCap = clampBuf(uint64(want.Bytes()))
}

func clampBuf(want uint64) uint64 {
	if want > maxBufSize {
		return maxBufSize
	}
	if want == 0 {
		return defaultBufSize
	}
	return want
}

func sameInet(a, b *sockaddr.Addr) bool {
	av, aok := a.AsInet()
	bv, bok := b.AsInet()
	if aok && bok {
		return av.Addr == bv.Addr && av.Port == bv.Port
	}
	av6, aok6 := a.AsInet6()
	bv6, bok6 := b.AsInet6()
	if aok6 && bok6 {
		return av6.Addr == bv6.Addr && av6.Port == bv6.Port
	}
	return false
}
