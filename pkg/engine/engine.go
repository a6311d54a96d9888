// Package engine wires the topology, host runtimes, event queues, and
// packet dispatcher into the end-to-end simulation driver, mirroring the
// way the teacher's director assembles its long-lived components and
// runs them to completion (controlplane/pkg/yncp/director.go).
package engine

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/shadow-sim/engine/internal/config"
	"github.com/shadow-sim/engine/pkg/descriptor"
	"github.com/shadow-sim/engine/pkg/dispatch"
	"github.com/shadow-sim/engine/pkg/event"
	"github.com/shadow-sim/engine/pkg/netgraph"
	"github.com/shadow-sim/engine/pkg/shmem"
	"github.com/shadow-sim/engine/pkg/simtime"
	"github.com/shadow-sim/engine/pkg/socketsyscall"
	"github.com/shadow-sim/engine/pkg/workerctx"
)

// Host bundles one simulated machine's shared-memory control blocks and
// per-host runtime state.
type Host struct {
	ID          shmem.HostID
	Shm         *shmem.HostShm
	Process     *shmem.ProcessShm
	Thread      *shmem.ThreadShm
	Descriptors *descriptor.Table
	Ports       *socketsyscall.PortAllocator
	IP          netip.Addr
	Queue       *event.Queue
	Clock       *workerctx.Context
}

// Engine owns every host's runtime state, the precomputed routing table,
// the worker pool that drains host queues in lockstep rounds, and the
// dispatcher that delivers packets between hosts.
type Engine struct {
	log *zap.SugaredLogger

	graph   *netgraph.Graph
	routing *netgraph.RoutingInfo
	ips     *netgraph.IPAssignment

	shared *workerctx.Shared
	hosts  map[shmem.HostID]*Host

	netStacks map[shmem.HostID]*netStack

	pool       *event.Pool
	dispatcher *dispatch.Dispatcher

	// hostFilter gates per-host debug logging (internal/config's
	// Logging.HostFilter); nil matches every host.
	hostFilter glob.Glob

	simEnd simtime.SimulationTime
}

// New parses the topology graph named by cfg, precomputes routing, and
// constructs one Host per graph node.
func New(cfg *config.Config, log *zap.SugaredLogger) (*Engine, error) {
	graph, err := netgraph.LoadFile(cfg.GraphPath)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load graph: %w", err)
	}

	nodeIDs := make([]netgraph.NodeID, 0, len(graph.Nodes))
	for id := range graph.Nodes {
		nodeIDs = append(nodeIDs, id)
	}

	routing, err := netgraph.PrecomputeShortestPaths(graph, nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to compute routing: %w", err)
	}

	simEnd, err := parseDuration(cfg.Simulation.StopTime)
	if err != nil {
		return nil, fmt.Errorf("engine: invalid stop_time: %w", err)
	}
	bootstrapEnd, err := parseDuration(cfg.Simulation.BootstrapEndTime)
	if err != nil {
		return nil, fmt.Errorf("engine: invalid bootstrap_end_time: %w", err)
	}

	shared := workerctx.NewShared(bootstrapEnd, simEnd)
	ips := netgraph.NewIPAssignment()

	var hostFilter glob.Glob
	if cfg.Logging.HostFilter != "" {
		hostFilter, err = glob.Compile(cfg.Logging.HostFilter)
		if err != nil {
			return nil, fmt.Errorf("engine: invalid logging.host_filter %q: %w", cfg.Logging.HostFilter, err)
		}
	}

	e := &Engine{
		log:        log,
		graph:      graph,
		routing:    routing,
		ips:        ips,
		shared:     shared,
		hosts:      make(map[shmem.HostID]*Host, len(nodeIDs)),
		netStacks:  make(map[shmem.HostID]*netStack, len(nodeIDs)),
		pool:       event.NewPoolPinned(cfg.Worker.Parallelism, cfg.Worker.NumThreads, cfg.Worker.PinThreads, log),
		hostFilter: hostFilter,
		simEnd:     simEnd,
	}

	queues := make(map[shmem.HostID]*event.Queue, len(nodeIDs))
	hostIDs := make([]shmem.HostID, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		hostID := shmem.HostID(nodeID)
		ip, err := ips.AssignNext(nodeID)
		if err != nil {
			return nil, fmt.Errorf("engine: failed to assign address for node %d: %w", nodeID, err)
		}

		q := event.New()
		h := &Host{
			ID:          hostID,
			Shm:         shmem.NewHostShm(hostID, shmem.DeriveCapability(cfg.Simulation.Seed, hostID), 0),
			Process:     shmem.NewProcessShm(hostID),
			Thread:      shmem.NewThreadShm(hostID, 1),
			Descriptors: descriptor.NewTable(),
			Ports:       socketsyscall.NewPortAllocator(),
			IP:          ip,
			Queue:       q,
			Clock:       &workerctx.Context{ActiveHost: hostID, Shared: shared},
		}

		e.hosts[hostID] = h
		e.netStacks[hostID] = newNetStack()
		queues[hostID] = q
		hostIDs = append(hostIDs, hostID)
		e.pool.Register(hostID, q)
	}

	e.dispatcher = dispatch.New(routing, hostIDs, cfg.Simulation.Seed, queues)
	for _, hostID := range hostIDs {
		h := e.hosts[hostID]
		e.dispatcher.SetDeliveryHandler(hostID, e.handleDeliver(h))
	}

	return e, nil
}

// Host returns the runtime state for a simulated host, if it exists.
func (e *Engine) Host(id shmem.HostID) (*Host, bool) {
	h, ok := e.hosts[id]
	return h, ok
}

// Dispatcher returns the engine's packet dispatcher, so hosts can hand
// off outbound packets to other hosts' queues.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// Run drains every host's event queue in lockstep rounds until the
// configured simulation end time is reached or ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Infow("starting simulation", "sim_end", e.simEnd, "hosts", len(e.hosts))

	err := e.pool.RunUntil(ctx, e.simEnd, e.runHost)
	if err != nil {
		return fmt.Errorf("engine: simulation run failed: %w", err)
	}

	e.log.Infow("simulation complete", "sim_end", e.simEnd)
	return nil
}

// runHost executes every event due on a host's queue by roundEnd,
// advancing the host's shared-memory and worker-context clocks as it
// goes, and reports the host's next pending event time.
func (e *Engine) runHost(hostID shmem.HostID, q *event.Queue, roundEnd simtime.SimulationTime) (simtime.SimulationTime, bool) {
	h := e.hosts[hostID]
	h.Clock.RoundEndTime = roundEnd

	events := q.PopUpTo(roundEnd)
	if e.hostLoggingEnabled(hostID) {
		e.log.Debugw("running host round", "host", hostID, "round_end", roundEnd, "events", len(events))
	}

	for _, ev := range events {
		h.Clock.CurrentTime = ev.Time
		h.Shm.SetCurrentSimTime(ev.Time)
		ev.Run()
	}

	return q.NextTime()
}

// hostLoggingEnabled reports whether per-round debug logging is enabled
// for hostID, per the Logging.HostFilter glob (empty filter matches every
// host).
func (e *Engine) hostLoggingEnabled(hostID shmem.HostID) bool {
	if e.hostFilter == nil {
		return true
	}
	return e.hostFilter.Match(fmt.Sprintf("host-%d", hostID))
}

func parseDuration(s string) (simtime.SimulationTime, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return simtime.FromDuration(d), nil
}
