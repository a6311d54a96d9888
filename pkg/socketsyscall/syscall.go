package socketsyscall

import (
	"fmt"
	"io"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/shadow-sim/engine/pkg/descriptor"
	"github.com/shadow-sim/engine/pkg/memmgr"
	"github.com/shadow-sim/engine/pkg/sockaddr"
	"github.com/shadow-sim/engine/pkg/tcp"
	"github.com/shadow-sim/engine/pkg/udp"
)

// Domain/Type mirror the subset of socket(2) arguments spec.md §6 names.
type Domain int
type SockType int

const (
	DomainInet Domain = iota
	DomainUnix
)

const (
	TypeStream SockType = iota
	TypeDgram
	TypeSeqpacket
)

// ephemeralLow/High bound the ephemeral port scan range, per spec.md §6.
const (
	ephemeralLow  = 10000
	ephemeralHigh = 65535
)

// PortAllocator tracks which (ip, port) pairs are already bound on a
// host, handing out ephemeral ports on wildcard binds.
type PortAllocator struct {
	bound map[netip.AddrPort]bool
}

// NewPortAllocator returns an empty allocator.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{bound: make(map[netip.AddrPort]bool)}
}

// Associate resolves a requested bind address: if want specifies a port,
// that exact (ip, port) is claimed or rejected with EADDRINUSE; if the
// port is 0, the lowest free ephemeral port is assigned.
func (p *PortAllocator) Associate(ip netip.Addr, want *sockaddr.Addr) (*sockaddr.Addr, error) {
	if want != nil {
		if v, ok := want.AsInet(); ok && v.Port != 0 {
			ap := netip.AddrPortFrom(ip, v.Port)
			if p.bound[ap] {
				return nil, fmt.Errorf("socketsyscall: port %d in use: %w", v.Port, &ErrnoError{Errno: unix.EADDRINUSE})
			}
			p.bound[ap] = true
			return sockaddr.NewInet(ip, v.Port), nil
		}
	}

	for port := ephemeralLow; port <= ephemeralHigh; port++ {
		ap := netip.AddrPortFrom(ip, uint16(port))
		if !p.bound[ap] {
			p.bound[ap] = true
			return sockaddr.NewInet(ip, uint16(port)), nil
		}
	}
	return nil, fmt.Errorf("socketsyscall: ephemeral ports exhausted: %w", &ErrnoError{Errno: unix.EADDRINUSE})
}

// Release frees a previously-bound (ip, port) pair.
func (p *PortAllocator) Release(ip netip.Addr, port uint16) {
	delete(p.bound, netip.AddrPortFrom(ip, port))
}

// Handle is one open socket, wrapping either a TCP or UDP core. It
// implements descriptor.File so it can be installed directly into a
// process's descriptor table.
type Handle struct {
	domain Domain
	typ    SockType

	tcpState *tcp.TcpState
	udpSock  *udp.Socket

	sockOpts sockOpts
}

// TCPState returns the handle's wrapped TCP core, if it wraps one. A
// host's network stack uses this to register a socket's core directly
// against the dispatch-driven demux/timer wiring in pkg/engine.
func (h *Handle) TCPState() (*tcp.TcpState, bool) {
	if h.tcpState == nil {
		return nil, false
	}
	return h.tcpState, true
}

func (h *Handle) Close() error {
	if h.tcpState != nil {
		return h.tcpState.Close()
	}
	return nil
}

// Socket implements the socket(2) syscall, returning a fresh Handle
// installed into table.
func Socket(table *descriptor.Table, domain Domain, typ SockType, deps tcp.Dependencies) (int, *Handle, error) {
	h := &Handle{domain: domain, typ: typ}
	switch typ {
	case TypeStream, TypeSeqpacket:
		h.tcpState = tcp.New(deps)
	case TypeDgram:
		h.udpSock = udp.New()
	}
	fd := table.Open(h, descriptor.Flags{})
	return fd, h, nil
}

// Bind implements bind(2).
func Bind(h *Handle, alloc *PortAllocator, localIP netip.Addr, want *sockaddr.Addr) error {
	associate := func(w *sockaddr.Addr) (*sockaddr.Addr, error) {
		if w == nil {
			w = want
		}
		return alloc.Associate(localIP, w)
	}
	if h.tcpState != nil {
		return h.tcpState.Listen(0, func(w *sockaddr.Addr) (*sockaddr.Addr, error) {
			return associate(w)
		})
	}
	return h.udpSock.Bind(want, associate)
}

// Listen implements listen(2) for a TCP handle.
func Listen(h *Handle, backlog int, alloc *PortAllocator, localIP netip.Addr) error {
	return h.tcpState.Listen(backlog, func(w *sockaddr.Addr) (*sockaddr.Addr, error) {
		return alloc.Associate(localIP, w)
	})
}

// Connect implements connect(2)/connect(2)-for-UDP.
func Connect(h *Handle, remote *sockaddr.Addr, alloc *PortAllocator, localIP netip.Addr) error {
	if h.tcpState != nil {
		return h.tcpState.Connect(remote, func(w *sockaddr.Addr) (*sockaddr.Addr, error) {
			return alloc.Associate(localIP, w)
		})
	}
	h.udpSock.Connect(remote)
	return nil
}

// Accept implements accept(2)/accept4(2), installing the accepted
// connection as a new descriptor table entry.
func Accept(h *Handle, table *descriptor.Table) (int, *tcp.AcceptedTcpState, error) {
	accepted, err := h.tcpState.Accept()
	if err != nil {
		return 0, nil, err
	}
	childHandle := &Handle{domain: h.domain, typ: h.typ, tcpState: accepted.State()}
	fd := table.Open(childHandle, descriptor.Flags{})
	return fd, accepted, nil
}

// SendTo implements sendto(2)/sendmsg(2) for both TCP (as a stream
// write, ignoring `to`) and UDP. For UDP the datagram is only validated by
// udp.Socket.SendMsg and its length returned; the payload is not queued or
// dispatched.
func SendTo(h *Handle, to *sockaddr.Addr, payload []byte) (int, error) {
	if h.tcpState != nil {
		return h.tcpState.Send(&byteReader{b: payload}, len(payload))
	}
	if err := h.udpSock.SendMsg(to, payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// RecvFrom implements recvfrom(2)/recvmsg(2).
func RecvFrom(h *Handle, buf []byte) (int, *sockaddr.Addr, error) {
	if h.tcpState != nil {
		w := &byteWriter{dst: buf}
		n, err := h.tcpState.Recv(w, len(buf))
		if err != nil {
			return 0, nil, err
		}
		remote, _ := h.tcpState.RemoteAddr()
		return n, remote, nil
	}
	n, from, _, err := h.udpSock.RecvMsg(buf)
	return n, from, err
}

// SendToGuest implements sendto(2)/sendmsg(2) when the payload lives in
// guest memory rather than already-copied Go bytes: mgr resolves addr
// through its mapped-or-process_vm_readv strategy (spec.md §4.9), so the
// syscall layer never has to care which strategy backs a given host.
func SendToGuest(h *Handle, mgr *memmgr.Manager, to *sockaddr.Addr, addr uintptr, n int) (int, error) {
	if h.tcpState != nil {
		return h.tcpState.Send(mgr.NewReader(addr, n), n)
	}
	buf := make([]byte, n)
	if err := mgr.ReadInto(addr, buf); err != nil {
		return 0, fmt.Errorf("socketsyscall: sendto guest buffer: %w", err)
	}
	if err := h.udpSock.SendMsg(to, buf); err != nil {
		return 0, err
	}
	return n, nil
}

// RecvFromGuest implements recvfrom(2)/recvmsg(2) writing straight into
// guest memory at addr instead of returning a Go []byte.
func RecvFromGuest(h *Handle, mgr *memmgr.Manager, addr uintptr, n int) (int, *sockaddr.Addr, error) {
	if h.tcpState != nil {
		got, err := h.tcpState.Recv(mgr.NewWriter(addr, n), n)
		if err != nil {
			return 0, nil, err
		}
		remote, _ := h.tcpState.RemoteAddr()
		return got, remote, nil
	}
	buf := make([]byte, n)
	got, from, _, err := h.udpSock.RecvMsg(buf)
	if err != nil {
		return 0, nil, err
	}
	if err := mgr.WriteFrom(addr, buf[:got]); err != nil {
		return 0, nil, fmt.Errorf("socketsyscall: recvfrom guest buffer: %w", err)
	}
	return got, from, nil
}

// Shutdown implements shutdown(2).
func Shutdown(h *Handle, how int) error {
	if h.tcpState != nil {
		return h.tcpState.Shutdown(tcpShutdownHow(how))
	}
	h.udpSock.Shutdown(udpShutdownHow(how))
	return nil
}

func tcpShutdownHow(how int) tcp.ShutdownHow {
	switch how {
	case unix.SHUT_RD:
		return tcp.ShutdownRead
	case unix.SHUT_WR:
		return tcp.ShutdownWrite
	default:
		return tcp.ShutdownBoth
	}
}

func udpShutdownHow(how int) udp.ShutdownHow {
	switch how {
	case unix.SHUT_RD:
		return udp.ShutdownRead
	case unix.SHUT_WR:
		return udp.ShutdownWrite
	default:
		return udp.ShutdownBoth
	}
}

// SocketPair implements socketpair(2): it builds two TCP cores and drives
// a full three-way handshake between them synchronously, with no network
// or event loop involved, so callers get back two already-Established
// handles installed into table. Real socketpair(2) skips the handshake
// entirely; modelling it as an immediate, zero-latency connect keeps this
// core's single code path (PushPacket/PopPacket) as the only way bytes
// ever move between two TcpStates, per spec.md §4.6/§9's "prefer the
// existing dispatch over a second implementation" framing.
func SocketPair(table *descriptor.Table, depsA, depsB tcp.Dependencies) (int, int, error) {
	a := tcp.New(depsA)
	b := tcp.New(depsB)

	localA := sockaddr.NewUnixUnnamed()
	localB := sockaddr.NewUnixUnnamed()

	if err := b.Listen(1, func(want *sockaddr.Addr) (*sockaddr.Addr, error) { return localB, nil }); err != nil {
		return 0, 0, fmt.Errorf("socketsyscall: socketpair listen: %w", err)
	}
	if err := a.Connect(localB, func(want *sockaddr.Addr) (*sockaddr.Addr, error) { return localA, nil }); err != nil {
		return 0, 0, fmt.Errorf("socketsyscall: socketpair connect: %w", err)
	}

	accepted, err := pumpUntilEstablished(a, b, depsB)
	if err != nil {
		return 0, 0, err
	}

	handleA := &Handle{domain: DomainUnix, typ: TypeStream, tcpState: a}
	handleB := &Handle{domain: DomainUnix, typ: TypeStream, tcpState: accepted.State()}
	fdA := table.Open(handleA, descriptor.Flags{})
	fdB := table.Open(handleB, descriptor.Flags{})
	return fdA, fdB, nil
}

// pumpUntilEstablished shuttles segments between a and b's cores (and, once
// b's SYN produces a pre-accept child, between a and that child) until
// both a and the accepted child settle in Established, mirroring the
// packet-dispatch loop the worker pool normally drives one round at a
// time. b itself never leaves Listen; its accepted child is what ends up
// Established and is what SocketPair hands back as the second endpoint.
func pumpUntilEstablished(a, b *tcp.TcpState, childDeps tcp.Dependencies) (*tcp.AcceptedTcpState, error) {
	var accepted *tcp.AcceptedTcpState

	// bSide is whichever TcpState a segment from a must be pushed into:
	// b itself for the opening SYN (before any child exists), the
	// pre-accept child once the SYN has produced one, or the finalized
	// child's own state once accepted.
	bSide := func() *tcp.TcpState {
		if accepted != nil {
			return accepted.State()
		}
		if c, ok := b.PendingChild(); ok {
			return c
		}
		return b
	}

	converged := func() bool {
		return a.Kind() == tcp.Established && accepted != nil && accepted.State().Kind() == tcp.Established
	}

	for steps := 0; !converged() && steps < 8; steps++ {
		progressed := false

		if a.WantsToSend() {
			target := bSide()
			hdr, payload, err := a.PopPacket()
			if err != nil {
				return nil, fmt.Errorf("socketsyscall: socketpair: %w", err)
			}
			if _, err := target.PushPacket(hdr, payload); err != nil {
				return nil, fmt.Errorf("socketsyscall: socketpair: %w", err)
			}
			progressed = true
		}

		if accepted == nil && b.Poll().Has(tcp.ReadyToAccept) {
			acc, err := b.Accept()
			if err != nil {
				return nil, fmt.Errorf("socketsyscall: socketpair: %w", err)
			}
			accepted = acc
			accepted.Finalize(childDeps)
			progressed = true
		}

		// b itself (Listen) never has an outbound segment of its own;
		// only a pending or accepted child does.
		if source := bSide(); source != b && source.WantsToSend() {
			hdr, payload, err := source.PopPacket()
			if err != nil {
				return nil, fmt.Errorf("socketsyscall: socketpair: %w", err)
			}
			if _, err := a.PushPacket(hdr, payload); err != nil {
				return nil, fmt.Errorf("socketsyscall: socketpair: %w", err)
			}
			progressed = true
		}

		if !progressed {
			break
		}
	}

	if !converged() {
		return nil, fmt.Errorf("socketsyscall: socketpair: handshake did not converge")
	}
	return accepted, nil
}

// GetSockName/GetPeerName implement getsockname(2)/getpeername(2).
func GetSockName(h *Handle) (*sockaddr.Addr, bool) {
	if h.tcpState != nil {
		return h.tcpState.LocalAddr()
	}
	return h.udpSock.LocalAddr()
}

func GetPeerName(h *Handle) (*sockaddr.Addr, bool) {
	if h.tcpState != nil {
		return h.tcpState.RemoteAddr()
	}
	return h.udpSock.RemoteAddr()
}

// byteReader/byteWriter adapt plain []byte to io.Reader/io.Writer without
// an extra allocation for the common single-shot send/recv path.
type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

// byteWriter accumulates writes into a fixed-capacity destination slice,
// tracking how much of it has been filled across repeated calls.
type byteWriter struct {
	dst []byte
	pos int
}

func (w *byteWriter) Write(p []byte) (int, error) {
	n := copy(w.dst[w.pos:], p)
	w.pos += n
	return n, nil
}
