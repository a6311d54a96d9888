package event

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/shadow-sim/engine/pkg/shmem"
	"github.com/shadow-sim/engine/pkg/simtime"
)

// HostRunner executes every ready event for one host up to the round's
// end time, returning the host's next pending event time (if any).
type HostRunner func(hostID shmem.HostID, q *Queue, roundEnd simtime.SimulationTime) (next simtime.SimulationTime, hasNext bool)

// Pool runs every host's queue through repeated bounded rounds: workers
// each drain one host at a time until no host has reached readiness,
// then the round advances to the earliest remaining event time across
// all hosts, mirroring spec.md §4.8's round protocol.
type Pool struct {
	log         *zap.SugaredLogger
	parallelism int
	sem         *semaphore.Weighted

	// numThreads/pinThreads implement spec.md §4.9's round-protocol thread
	// pinning. Go has no persistent OS-thread pool to pin once at startup,
	// so each round-worker goroutine locks itself to an OS thread and pins
	// that thread to CPU slot hostID%numThreads for the goroutine's
	// lifetime, re-deriving the same slot every round instead of holding a
	// thread open between rounds.
	numThreads int
	pinThreads bool

	mu     sync.Mutex
	queues map[shmem.HostID]*Queue
}

// NewPool returns a Pool that runs at most parallelism host rounds
// concurrently. A semaphore.Weighted stands in for the POSIX semaphore
// the native implementation uses to gate worker slots (spec.md §4.8).
func NewPool(parallelism int, log *zap.SugaredLogger) *Pool {
	return NewPoolPinned(parallelism, parallelism, false, log)
}

// NewPoolPinned returns a Pool additionally configured with the round
// protocol's numThreads/pinThreads knobs (spec.md §4.9, internal/config's
// WorkerConfig.NumThreads/PinThreads).
func NewPoolPinned(parallelism, numThreads int, pinThreads bool, log *zap.SugaredLogger) *Pool {
	if parallelism < 1 {
		parallelism = 1
	}
	if numThreads < parallelism {
		numThreads = parallelism
	}
	return &Pool{
		log:         log,
		parallelism: parallelism,
		sem:         semaphore.NewWeighted(int64(parallelism)),
		numThreads:  numThreads,
		pinThreads:  pinThreads,
		queues:      make(map[shmem.HostID]*Queue),
	}
}

// Register adds a host's queue to the pool.
func (p *Pool) Register(hostID shmem.HostID, q *Queue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[hostID] = q
}

// RunUntil drives rounds forward until every host's queue is empty or
// every remaining event is later than deadline. run is invoked once per
// host per round, concurrently, bounded by the pool's parallelism.
//
// A panic inside run poisons the pool: RunUntil returns the recovered
// value wrapped as an error instead of letting one host's bug corrupt
// the others' in-flight state, matching the teacher's worker-panic
// propagation via errgroup.
func (p *Pool) RunUntil(ctx context.Context, deadline simtime.SimulationTime, run HostRunner) error {
	for {
		roundEnd, hasWork := p.earliestRoundEnd(deadline)
		if !hasWork {
			return nil
		}

		p.log.Debugw("running round", zap.Uint64("round_end_ns", uint64(roundEnd)))
		if err := p.runRound(ctx, roundEnd, run); err != nil {
			return err
		}
	}
}

// earliestRoundEnd consults every registered queue's live head, not a
// cached copy: a queue populated after Register (e.g. a Dependencies
// implementation pushing a timer or an initial SYN before Run starts)
// must be visible here, or the round loop never notices it has work.
func (p *Pool) earliestRoundEnd(deadline simtime.SimulationTime) (simtime.SimulationTime, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	best := deadline
	found := false
	for _, q := range p.queues {
		t, ok := q.NextTime()
		if !ok || t > deadline {
			continue
		}
		if !found || t < best {
			best, found = t, true
		}
	}
	return best, found
}

func (p *Pool) runRound(ctx context.Context, roundEnd simtime.SimulationTime, run HostRunner) error {
	p.mu.Lock()
	type ready struct {
		id shmem.HostID
		q  *Queue
	}
	hosts := make([]ready, 0, len(p.queues))
	for h, q := range p.queues {
		if t, ok := q.NextTime(); ok && t <= roundEnd {
			hosts = append(hosts, ready{id: h, q: q})
		}
	}
	p.mu.Unlock()

	wg, gctx := errgroup.WithContext(ctx)
	for _, r := range hosts {
		r := r
		wg.Go(func() (err error) {
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer p.sem.Release(1)

			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("event: host %d worker panicked: %v", r.id, rec)
				}
			}()

			if p.pinThreads {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
				pinToCPU(int(r.id) % p.numThreads)
			}

			run(r.id, r.q, roundEnd)
			return nil
		})
	}

	return wg.Wait()
}

// pinToCPU sets the calling OS thread's affinity mask to the single CPU
// slot, matching the round protocol's per-processor pinning (spec.md
// §4.9). Errors are deliberately ignored: affinity is a scheduling hint,
// and a host running on the "wrong" CPU is still correct, just slower.
func pinToCPU(slot int) {
	var set unix.CPUSet
	set.Zero()
	set.Set(slot)
	_ = unix.SchedSetaffinity(0, &set)
}
