package dispatch

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-sim/engine/pkg/event"
	"github.com/shadow-sim/engine/pkg/netgraph"
	"github.com/shadow-sim/engine/pkg/packet"
	"github.com/shadow-sim/engine/pkg/shmem"
	"github.com/shadow-sim/engine/pkg/simtime"
	"github.com/shadow-sim/engine/pkg/sockaddr"
)

type fakeClock struct {
	current, roundEnd, simEnd, bootstrapEnd simtime.SimulationTime
	lowestLatency                            simtime.SimulationTime
	nextEventFloor                            simtime.SimulationTime
}

func (c *fakeClock) Current() simtime.SimulationTime      { return c.current }
func (c *fakeClock) RoundEnd() simtime.SimulationTime      { return c.roundEnd }
func (c *fakeClock) SimEnd() simtime.SimulationTime        { return c.simEnd }
func (c *fakeClock) BootstrapEnd() simtime.SimulationTime  { return c.bootstrapEnd }
func (c *fakeClock) UpdateLowestUsedLatency(d simtime.SimulationTime) {
	if c.lowestLatency == 0 || d < c.lowestLatency {
		c.lowestLatency = d
	}
}
func (c *fakeClock) UpdateNextEventTime(t simtime.SimulationTime) {
	if c.nextEventFloor == 0 || t < c.nextEventFloor {
		c.nextEventFloor = t
	}
}

func testRouting(t *testing.T) *netgraph.RoutingInfo {
	g := &netgraph.Graph{
		Directed: true,
		Nodes:    map[netgraph.NodeID]netgraph.Node{1: {ID: 1}, 2: {ID: 2}},
		Edges: []netgraph.Edge{
			{Source: 1, Target: 2, Latency: netgraph.Duration(10 * simtime.Second), PacketLoss: 0},
		},
	}
	r, err := netgraph.PrecomputeShortestPaths(g, []netgraph.NodeID{1, 2})
	require.NoError(t, err)
	return r
}

func newPacket(t *testing.T) *packet.Packet {
	src := sockaddr.NewInet(netip.MustParseAddr("11.0.0.1"), 1000)
	dst := sockaddr.NewInet(netip.MustParseAddr("11.0.0.2"), 2000)
	p, err := packet.New(src, dst, packet.ProtoUDP, [][]byte{[]byte("hi")})
	require.NoError(t, err)
	return p
}

func Test_SendDiscardsPastSimEnd(t *testing.T) {
	r := testRouting(t)
	qa, qb := event.New(), event.New()
	d := New(r, []shmem.HostID{1, 2}, 1, map[shmem.HostID]*event.Queue{1: qa, 2: qb})

	clock := &fakeClock{current: 100, simEnd: 100}
	p := newPacket(t)
	d.Send(1, 2, clock, p)

	assert.Equal(t, 0, qb.Len())
}

func Test_SendDeliversAfterRoundEndWithLatency(t *testing.T) {
	r := testRouting(t)
	qa, qb := event.New(), event.New()
	d := New(r, []shmem.HostID{1, 2}, 1, map[shmem.HostID]*event.Queue{1: qa, 2: qb})

	clock := &fakeClock{current: 0, roundEnd: 5 * simtime.Second, simEnd: 1000 * simtime.Second, bootstrapEnd: 0}
	p := newPacket(t)
	d.Send(1, 2, clock, p)

	require.Equal(t, 1, qb.Len())
	nt, ok := qb.NextTime()
	require.True(t, ok)
	assert.Equal(t, 10*simtime.Second, nt) // current(0)+latency(10s) > round_end(5s)
}

func Test_SendClampsToRoundEndWhenLatencyIsSmall(t *testing.T) {
	g := &netgraph.Graph{
		Directed: true,
		Nodes:    map[netgraph.NodeID]netgraph.Node{1: {ID: 1}, 2: {ID: 2}},
		Edges:    []netgraph.Edge{{Source: 1, Target: 2, Latency: netgraph.Duration(1), PacketLoss: 0}},
	}
	r, err := netgraph.PrecomputeShortestPaths(g, []netgraph.NodeID{1, 2})
	require.NoError(t, err)

	qa, qb := event.New(), event.New()
	d := New(r, []shmem.HostID{1, 2}, 1, map[shmem.HostID]*event.Queue{1: qa, 2: qb})

	clock := &fakeClock{current: 0, roundEnd: 5 * simtime.Second, simEnd: 1000 * simtime.Second}
	p := newPacket(t)
	d.Send(1, 2, clock, p)

	nt, ok := qb.NextTime()
	require.True(t, ok)
	assert.Equal(t, 5*simtime.Second, nt)
}

func Test_BootstrapBypassesReliabilityDrop(t *testing.T) {
	g := &netgraph.Graph{
		Directed: true,
		Nodes:    map[netgraph.NodeID]netgraph.Node{1: {ID: 1}, 2: {ID: 2}},
		Edges:    []netgraph.Edge{{Source: 1, Target: 2, Latency: netgraph.Duration(simtime.Second), PacketLoss: 1}},
	}
	r, err := netgraph.PrecomputeShortestPaths(g, []netgraph.NodeID{1, 2})
	require.NoError(t, err)

	qa, qb := event.New(), event.New()
	d := New(r, []shmem.HostID{1, 2}, 1, map[shmem.HostID]*event.Queue{1: qa, 2: qb})

	clock := &fakeClock{current: 0, roundEnd: 0, simEnd: 1000 * simtime.Second, bootstrapEnd: 100 * simtime.Second}
	p := newPacket(t)
	d.Send(1, 2, clock, p)

	assert.Equal(t, 1, qb.Len(), "100%% loss route must still deliver during bootstrap")
}
