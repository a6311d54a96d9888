package tcp

import (
	"bytes"
	"io"
	"sort"

	"github.com/shadow-sim/engine/pkg/packet"
	"github.com/shadow-sim/engine/pkg/sockaddr"
)

// Connect transitions Init -> SynSent, binding the local address via
// associate and queuing the initial SYN for PopPacket.
func (s *TcpState) Connect(remote *sockaddr.Addr, associate AssociateFunc) error {
	switch s.kind {
	case SynSent:
		return &OpError{Op: "connect", Kind: ErrInProgress}
	case Established, FinWait1, FinWait2, Closing, TimeWait, CloseWait, LastAck:
		return &OpError{Op: "connect", Kind: ErrAlreadyConnected}
	case Listen:
		return &OpError{Op: "connect", Kind: ErrIsListening}
	case Init:
		// fallthrough to the connect logic below.
	default:
		return invalidState("connect")
	}

	local, err := associate(s.local)
	if err != nil {
		return &OpError{Op: "connect", Kind: ErrFailedAssociation}
	}
	s.local = local
	s.remote = remote
	s.sndNxt = initialSeq()
	s.sndUna = s.sndNxt

	s.kind = SynSent
	s.queueSegment(packet.TCPHeader{Flags: packet.TCPFlags{SYN: true}, Seq: s.sndNxt, Window: defaultWindow}, nil)
	s.sndNxt++

	s.armSynSentRetry()
	return nil
}

// Listen transitions Init or Listen -> Listen, updating the backlog.
func (s *TcpState) Listen(backlog int, associate AssociateFunc) error {
	switch s.kind {
	case Init, Listen:
	default:
		return invalidState("listen")
	}

	if s.local == nil {
		local, err := associate(nil)
		if err != nil {
			return &OpError{Op: "listen", Kind: ErrFailedAssociation}
		}
		s.local = local
	}

	s.backlog = backlog
	if s.synQueue == nil {
		s.synQueue = make(map[uint32]*child)
	}
	s.kind = Listen
	return nil
}

// AcceptedTcpState wraps a child connection produced by Accept. Finalize
// MUST be called before control returns to any other handler, rewiring
// the child's timers away from the listener (spec.md §4.6, §9).
type AcceptedTcpState struct {
	listener *TcpState
	c        *child
}

// LocalAddr returns the accepted connection's local address.
func (a *AcceptedTcpState) LocalAddr() (*sockaddr.Addr, bool) { return a.c.state.LocalAddr() }

// RemoteAddr returns the accepted connection's remote address.
func (a *AcceptedTcpState) RemoteAddr() (*sockaddr.Addr, bool) { return a.c.state.RemoteAddr() }

// State returns the child's TcpState. Do not call operations on it before
// Finalize has run.
func (a *AcceptedTcpState) State() *TcpState { return a.c.state }

// Finalize rewires the child's timers to dispatch directly against its
// own TcpState instead of through the listener.
func (a *AcceptedTcpState) Finalize(newDeps Dependencies) {
	a.c.state.deps = newDeps
	a.c.parentDeps = nil
}

// Accept pops the oldest ready child off the listener's accept queue.
func (s *TcpState) Accept() (*AcceptedTcpState, error) {
	if s.kind != Listen {
		return nil, invalidState("accept")
	}
	if len(s.acceptQueue) == 0 {
		return nil, &OpError{Op: "accept", Kind: ErrNothingToAccept}
	}

	c := s.acceptQueue[0]
	s.acceptQueue = s.acceptQueue[1:]
	return &AcceptedTcpState{listener: s, c: c}, nil
}

// PendingChild returns the TcpState of one not-yet-accepted child
// connection (lowest remote seq first, for determinism), so a caller can
// drive its handshake — pop its SYN-ACK, push the closing ACK into it
// directly — without a packet-dispatch loop in between (spec.md §3
// "Listener-owned children" / §4.6 accept). The third-leg ACK must go to
// this TcpState directly, not through the listener's own PushPacket:
// routing it here is what moves the child from synQueue to acceptQueue.
// Reports false if s isn't Listen or nothing is pending.
func (s *TcpState) PendingChild() (*TcpState, bool) {
	if s.kind != Listen || len(s.synQueue) == 0 {
		return nil, false
	}
	seqs := make([]uint32, 0, len(s.synQueue))
	for seq := range s.synQueue {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return s.synQueue[seqs[0]].state, true
}

// PushPacket feeds a received segment into the state machine, returning
// the number of bytes accepted into the receive buffer.
func (s *TcpState) PushPacket(hdr packet.TCPHeader, payload []byte) (int, error) {
	if hdr.Flags.RST {
		s.kind = Rst
		s.lastErr = ResetReceived
		s.kind = Closed
		return 0, nil
	}

	switch s.kind {
	case Listen:
		return s.pushPacketListen(hdr, payload)
	case SynSent:
		return s.pushPacketSynSent(hdr)
	case SynReceived:
		return s.pushPacketSynReceived(hdr)
	case Established, CloseWait:
		return s.pushPacketData(hdr, payload)
	case FinWait1:
		n, err := s.pushPacketData(hdr, payload)
		if hdr.Flags.ACK {
			s.kind = FinWait2
		}
		if s.finRecvd {
			if s.kind == FinWait2 {
				s.enterTimeWait()
			} else {
				s.kind = Closing
			}
		}
		return n, err
	case FinWait2:
		n, err := s.pushPacketData(hdr, payload)
		if s.finRecvd {
			s.enterTimeWait()
		}
		return n, err
	case Closing:
		if hdr.Flags.ACK {
			s.enterTimeWait()
		}
		return 0, nil
	case LastAck:
		if hdr.Flags.ACK {
			s.kind = Closed
		}
		return 0, nil
	case Init, Closed, Rst, TimeWait:
		return 0, invalidState("push_packet")
	default:
		return 0, invalidState("push_packet")
	}
}

func (s *TcpState) pushPacketListen(hdr packet.TCPHeader, _ []byte) (int, error) {
	if !hdr.Flags.SYN {
		return 0, nil
	}

	childDeps := s.deps.Fork()
	cs := New(childDeps)
	cs.kind = SynReceived
	cs.local = s.local
	cs.rcvNxt = hdr.Seq + 1
	cs.sndNxt = initialSeq()
	cs.sndUna = cs.sndNxt

	c := &child{state: cs, parentDeps: s.deps}
	s.synQueue[hdr.Seq] = c

	cs.queueSegment(packet.TCPHeader{
		Flags:  packet.TCPFlags{SYN: true, ACK: true},
		Seq:    cs.sndNxt,
		Ack:    cs.rcvNxt,
		Window: defaultWindow,
	}, nil)
	cs.sndNxt++

	cs.onEstablished = func() {
		delete(s.synQueue, hdr.Seq)
		s.acceptQueue = append(s.acceptQueue, c)
	}

	cs.armSynReceivedAbort(func() {
		delete(s.synQueue, hdr.Seq)
	})

	return 0, nil
}

func (s *TcpState) pushPacketSynSent(hdr packet.TCPHeader) (int, error) {
	if hdr.Flags.SYN && hdr.Flags.ACK {
		s.rcvNxt = hdr.Seq + 1
		s.sndUna = hdr.Ack
		s.kind = Established
		s.retries = 0
		s.queueSegment(packet.TCPHeader{Flags: packet.TCPFlags{ACK: true}, Seq: s.sndNxt, Ack: s.rcvNxt, Window: defaultWindow}, nil)
		return 0, nil
	}
	return 0, nil
}

func (s *TcpState) pushPacketSynReceived(hdr packet.TCPHeader) (int, error) {
	if hdr.Flags.ACK {
		s.sndUna = hdr.Ack
		s.kind = Established
		if s.onEstablished != nil {
			s.onEstablished()
			s.onEstablished = nil
		}
		return 0, nil
	}
	return 0, nil
}

func (s *TcpState) pushPacketData(hdr packet.TCPHeader, payload []byte) (int, error) {
	accepted := 0
	if len(payload) > 0 {
		accepted = s.reasm.Insert(hdr.Seq, payload)
		if contiguous := s.reasm.PopContiguous(s.rcvNxt); len(contiguous) > 0 {
			_, _ = s.recvBuf.PushStream(bytes.NewReader(contiguous))
			s.rcvNxt += uint32(len(contiguous))
		}
	}

	if hdr.Flags.FIN && !s.finRecvd {
		s.finRecvd = true
		s.rcvNxt++
		if s.kind == Established {
			s.kind = CloseWait
		}
	}

	if len(payload) > 0 || hdr.Flags.FIN {
		s.queueSegment(packet.TCPHeader{Flags: packet.TCPFlags{ACK: true}, Seq: s.sndNxt, Ack: s.rcvNxt, Window: defaultWindow}, nil)
	}

	return accepted, nil
}

func (s *TcpState) enterTimeWait() {
	s.kind = TimeWait
	s.timeWaitDeadline = s.deps.Now() + 2*MSL
	s.deps.RegisterTimer(s.timeWaitDeadline, func(TimerRegisteredBy) {
		if s.kind == TimeWait {
			s.kind = Closed
		}
	})
}

// PopPacket returns the next queued outbound segment.
func (s *TcpState) PopPacket() (packet.TCPHeader, []byte, error) {
	if len(s.outQueue) == 0 {
		return packet.TCPHeader{}, nil, &OpError{Op: "pop_packet", Kind: ErrNoPacket}
	}
	seg := s.outQueue[0]
	s.outQueue = s.outQueue[1:]
	return seg.hdr, seg.payload, nil
}

func (s *TcpState) queueSegment(hdr packet.TCPHeader, payload []byte) {
	s.outQueue = append(s.outQueue, outSegment{hdr: hdr, payload: payload})
}

// outQueueBytes sums the payload bytes still awaiting PopPacket, the
// buffered-but-unsent portion SO_SNDBUF bounds.
func (s *TcpState) outQueueBytes() int {
	total := 0
	for _, seg := range s.outQueue {
		total += len(seg.payload)
	}
	return total
}

// Send buffers up to len bytes read from r for later transmission,
// returning the number of bytes accepted.
func (s *TcpState) Send(r io.Reader, n int) (int, error) {
	switch s.kind {
	case Established, CloseWait:
	default:
		return 0, invalidState("send")
	}
	if s.finSent {
		return 0, &OpError{Op: "send", Kind: ErrStreamClosed}
	}

	avail := s.sendCap - s.outQueueBytes()
	if avail <= 0 {
		return 0, &OpError{Op: "send", Kind: ErrFull}
	}
	if n > avail {
		n = avail
	}

	var buf bytes.Buffer
	written, err := io.Copy(&buf, io.LimitReader(r, int64(n)))
	if err != nil {
		return int(written), &OpError{Op: "send", Kind: ErrIO}
	}

	if written > 0 {
		s.queueSegment(packet.TCPHeader{Flags: packet.TCPFlags{ACK: true, PSH: true}, Seq: s.sndNxt, Ack: s.rcvNxt, Window: defaultWindow}, buf.Bytes())
		s.sndNxt += uint32(written)
	}

	return int(written), nil
}

// Recv delivers up to len buffered bytes into w.
func (s *TcpState) Recv(w io.Writer, n int) (int, error) {
	switch s.kind {
	case Established, FinWait1, FinWait2, CloseWait:
	default:
		return 0, invalidState("recv")
	}

	if s.recvBuf.Empty() {
		if s.finRecvd {
			return 0, nil // EOF.
		}
		return 0, &OpError{Op: "recv", Kind: ErrEmpty}
	}

	limited := &limitedWriter{w: w, remaining: n}
	res, err := s.recvBuf.Pop(limited)
	if err != nil {
		return res.Copied, &OpError{Op: "recv", Kind: ErrIO}
	}
	return res.Copied, nil
}

type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, nil
	}
	if len(p) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.w.Write(p)
	l.remaining -= n
	return n, err
}

// Shutdown transitions toward FinWait1/CloseWait depending on how.
func (s *TcpState) Shutdown(how ShutdownHow) error {
	switch s.kind {
	case Established:
		if how == ShutdownWrite || how == ShutdownBoth {
			s.finSent = true
			s.queueSegment(packet.TCPHeader{Flags: packet.TCPFlags{FIN: true, ACK: true}, Seq: s.sndNxt, Ack: s.rcvNxt, Window: defaultWindow}, nil)
			s.sndNxt++
			s.kind = FinWait1
		}
		return nil
	case CloseWait:
		if how == ShutdownWrite || how == ShutdownBoth {
			s.finSent = true
			s.queueSegment(packet.TCPHeader{Flags: packet.TCPFlags{FIN: true, ACK: true}, Seq: s.sndNxt, Ack: s.rcvNxt, Window: defaultWindow}, nil)
			s.sndNxt++
			s.kind = LastAck
		}
		return nil
	case Init, Listen, SynSent:
		return &OpError{Op: "shutdown", Kind: ErrNotConnected}
	default:
		return invalidState("shutdown")
	}
}

// Close transitions the state machine toward Closed.
func (s *TcpState) Close() error {
	s.closeRequested = true
	switch s.kind {
	case Init, SynSent:
		s.kind = Closed
		return nil
	case Listen:
		s.kind = Closed
		return nil
	case Established:
		return s.Shutdown(ShutdownBoth)
	case CloseWait:
		return s.Shutdown(ShutdownBoth)
	case FinWait1, FinWait2, Closing, TimeWait, LastAck, Closed, Rst:
		return nil
	default:
		return invalidState("close")
	}
}

// ClearError returns any latched asynchronous error and clears it.
func (s *TcpState) ClearError() AsyncError {
	e := s.lastErr
	s.lastErr = NoAsyncError
	return e
}

// Poll returns the current readiness flag set, per spec.md §4.6.
func (s *TcpState) Poll() PollFlags {
	var f PollFlags
	switch s.kind {
	case Listen:
		f |= Listening
		if len(s.acceptQueue) > 0 {
			f |= ReadyToAccept
		}
	case SynSent, SynReceived:
		f |= Connecting
	case Established:
		f |= Connected | Writable
		if !s.recvBuf.Empty() {
			f |= Readable
		}
	case FinWait1, FinWait2:
		f |= Connected
		if !s.recvBuf.Empty() {
			f |= Readable
		}
	case CloseWait:
		f |= Connected | Writable | Readable | RecvClosed
	case LastAck, Closing, TimeWait:
		f |= SendClosed | RecvClosed
	case Closed:
		f |= ClosedFlag
	case Rst:
		f |= ErrorFlag | ClosedFlag
	}
	if s.lastErr != NoAsyncError {
		f |= ErrorFlag
	}
	return f
}
