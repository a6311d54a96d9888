// Package dispatch implements the packet dispatch algorithm invoked
// whenever a host sends a packet onto the network, per spec.md §4.10.
package dispatch

import (
	"math/rand/v2"
	"sync"

	"github.com/shadow-sim/engine/pkg/event"
	"github.com/shadow-sim/engine/pkg/netgraph"
	"github.com/shadow-sim/engine/pkg/packet"
	"github.com/shadow-sim/engine/pkg/shmem"
	"github.com/shadow-sim/engine/pkg/simtime"
)

// HostClock exposes the per-host state dispatch needs to read and
// update: the current round's boundaries and this host's latched
// lowest-used latency (spec.md §4.9's runahead floor).
type HostClock interface {
	Current() simtime.SimulationTime
	RoundEnd() simtime.SimulationTime
	SimEnd() simtime.SimulationTime
	BootstrapEnd() simtime.SimulationTime
	// UpdateLowestUsedLatency folds delay into this host's latched
	// lowest-used latency, which is never zero.
	UpdateLowestUsedLatency(delay simtime.SimulationTime)
	// UpdateNextEventTime contributes deliverTime to the floor the
	// worker will not advance its clock past next round.
	UpdateNextEventTime(deliverTime simtime.SimulationTime)
}

// Dispatcher routes packets between hosts using a precomputed routing
// table and a source-keyed RNG for the per-packet reliability draw.
type Dispatcher struct {
	routing *netgraph.RoutingInfo
	rngs    map[shmem.HostID]*rand.Rand
	queues  map[shmem.HostID]*event.Queue

	mu        sync.Mutex
	onDeliver map[shmem.HostID]func(*packet.Packet)
}

// SetDeliveryHandler registers fn to run against every packet delivered
// to hostID, after it's marked StatusDelivered but before it's released.
// This is the hook a host's network stack uses to actually feed arriving
// bytes into its TCP/UDP cores (spec.md §4.10's delivery step).
func (d *Dispatcher) SetDeliveryHandler(hostID shmem.HostID, fn func(*packet.Packet)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDeliver[hostID] = fn
}

// New returns a Dispatcher over routing, with one RNG per host seeded
// from seedBase so runs are reproducible given the same seed.
func New(routing *netgraph.RoutingInfo, hosts []shmem.HostID, seedBase uint64, queues map[shmem.HostID]*event.Queue) *Dispatcher {
	d := &Dispatcher{
		routing:   routing,
		rngs:      make(map[shmem.HostID]*rand.Rand, len(hosts)),
		queues:    queues,
		onDeliver: make(map[shmem.HostID]func(*packet.Packet), len(hosts)),
	}
	for _, h := range hosts {
		d.rngs[h] = rand.New(rand.NewPCG(seedBase, uint64(h)))
	}
	return d
}

// Send runs the dispatch algorithm for one packet leaving srcHost bound
// for dstHost, per spec.md §4.10's seven steps.
func (d *Dispatcher) Send(srcHost, dstHost shmem.HostID, clock HostClock, p *packet.Packet) {
	current := clock.Current()

	// 1. Discard packets sent at or after simulation end.
	if current >= clock.SimEnd() {
		p.Release()
		return
	}

	srcNode, dstNode := netgraph.NodeID(srcHost), netgraph.NodeID(dstHost)

	// 2-3. Reliability draw, bypassed during bootstrap.
	if current >= clock.BootstrapEnd() {
		loss, ok := d.routing.PacketLoss(srcNode, dstNode)
		if ok && p.Len() > 0 {
			u := d.rngs[srcHost].Float64()
			if u >= 1-loss {
				p.SetStatus(packet.StatusDropped)
				p.Release()
				return
			}
		}
	}

	// 4. Compute latency and update this host's lowest-used latency.
	delay, ok := d.routing.Latency(srcNode, dstNode)
	if !ok {
		p.Release()
		return
	}
	clock.UpdateLowestUsedLatency(delay)

	// 5. Delivery cannot land inside the current round.
	deliverTime := current.SaturatingAdd(delay)
	if deliverTime < clock.RoundEnd() {
		deliverTime = clock.RoundEnd()
	}

	// 6. Contribute to the next-round clock floor.
	clock.UpdateNextEventTime(deliverTime)

	// 7. Push a copy onto the destination host's queue.
	q, ok := d.queues[dstHost]
	if !ok {
		p.Release()
		return
	}
	delivered := p.Clone()
	q.Push(event.Event{
		Time:   deliverTime,
		HostID: dstHost,
		Run: func() {
			delivered.SetStatus(packet.StatusDelivered)
			d.mu.Lock()
			handler := d.onDeliver[dstHost]
			d.mu.Unlock()
			if handler != nil {
				handler(delivered)
			}
			delivered.Release()
		},
	})
	p.Release()
}
