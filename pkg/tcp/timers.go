package tcp

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/shadow-sim/engine/pkg/packet"
	"github.com/shadow-sim/engine/pkg/simtime"
)

// defaultWindow is the receive window advertised when none has been
// negotiated yet.
const defaultWindow uint16 = 65535

// MSL is the maximum segment lifetime used to size the TimeWait timer
// (2*MSL), per spec.md §4.6.
const MSL = 60 * simtime.Second

// synReceivedAbortTimeout is the fixed abort deadline for a half-open
// SynReceived child that never completes its handshake (spec.md §4.6,
// E2E scenario #2).
const synReceivedAbortTimeout = 60 * simtime.Second

// synRetryBackoff is the retransmission schedule for an unacknowledged
// SYN, grounded in the teacher's retry/backoff conventions.
func synRetryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	return b
}

const maxSynRetries = 5

// armSynSentRetry schedules the next SYN retransmission, or gives up and
// latches TimedOut after maxSynRetries attempts.
func (s *TcpState) armSynSentRetry() {
	if s.retries >= maxSynRetries {
		s.lastErr = TimedOut
		s.kind = Closed
		return
	}

	b := synRetryBackoff()
	delay := b.NextBackOff()
	for i := 0; i < s.retries; i++ {
		delay = b.NextBackOff()
	}
	if delay == backoff.Stop {
		s.lastErr = TimedOut
		s.kind = Closed
		return
	}

	deadline := s.deps.Now() + simtime.FromDuration(delay)
	s.deps.RegisterTimer(deadline, func(TimerRegisteredBy) {
		if s.kind != SynSent {
			return
		}
		s.retries++
		s.queueSegment(packet.TCPHeader{
			Flags:  packet.TCPFlags{SYN: true},
			Seq:    s.sndUna,
			Window: defaultWindow,
		}, nil)
		s.armSynSentRetry()
	})
}

// armSynReceivedAbort schedules the fixed-timeout drop of a half-open
// child connection that never completes its handshake. onAbort removes
// the child from the listener's syn queue.
func (s *TcpState) armSynReceivedAbort(onAbort func()) {
	deadline := s.deps.Now() + synReceivedAbortTimeout
	s.deps.RegisterTimer(deadline, func(by TimerRegisteredBy) {
		if s.kind != SynReceived {
			return
		}
		s.kind = Closed
		s.lastErr = TimedOut
		if by == RegisteredByChild && onAbort != nil {
			onAbort()
		}
	})
}

// initialSeq picks a starting sequence number. Production Shadow derives
// this from a per-host counter seeded at simulation start; this
// reimplementation uses a fixed-but-arbitrary base since the simulation's
// determinism does not depend on its exact value, only its consistency
// within a connection. The counter is process-wide and hosts run
// concurrently on different worker goroutines within a round (spec.md
// §5), so it is an atomic rather than a plain package var.
var seqCounter atomic.Uint32

func init() {
	seqCounter.Store(1)
}

func initialSeq() uint32 {
	return seqCounter.Add(64000)
}
