package netgraph

import (
	"container/heap"
	"fmt"

	"github.com/shadow-sim/engine/pkg/simtime"
)

// Path is a composed (latency, packet-loss) pair between two nodes.
type Path struct {
	Latency    simtime.SimulationTime
	PacketLoss float64
}

// Compose concatenates two paths: latencies sum, loss composes as
// 1 - (1-p1)(1-p2), per spec.md §4.5.
func Compose(a, b Path) Path {
	return Path{
		Latency:    a.Latency.SaturatingAdd(b.Latency),
		PacketLoss: 1 - (1-a.PacketLoss)*(1-b.PacketLoss),
	}
}

// Less orders paths primarily by latency, secondarily by loss, matching
// the ordering spec.md §4.5 and §2 require for path composition.
func (a Path) Less(b Path) bool {
	if a.Latency != b.Latency {
		return a.Latency < b.Latency
	}
	return a.PacketLoss < b.PacketLoss
}

// RoutingInfo is the precomputed (src,dst) -> Path lookup table.
type RoutingInfo struct {
	paths map[routeKey]Path
}

type routeKey struct {
	src, dst NodeID
}

// Latency returns the latency between src and dst, or false if unknown.
func (r *RoutingInfo) Latency(src, dst NodeID) (simtime.SimulationTime, bool) {
	p, ok := r.paths[routeKey{src, dst}]
	if !ok {
		return 0, false
	}
	return p.Latency, true
}

// PacketLoss returns the reliability draw threshold between src and dst:
// the probability a packet sent on this route is dropped.
func (r *RoutingInfo) PacketLoss(src, dst NodeID) (float64, bool) {
	p, ok := r.paths[routeKey{src, dst}]
	if !ok {
		return 0, false
	}
	return p.PacketLoss, true
}

// PrecomputeShortestPaths runs Dijkstra from every node in `used` against
// the full graph, producing a dense (node,node) -> Path table.
//
// The diagonal (n,n) entry is not the Dijkstra-trivial zero: it is
// min over edges e leaving n of weight(e) + shortest(e.target -> n), an
// honest round trip, per spec.md §4.5.
func PrecomputeShortestPaths(g *Graph, used []NodeID) (*RoutingInfo, error) {
	r := &RoutingInfo{paths: make(map[routeKey]Path)}

	adjacency := make(map[NodeID][]Edge, len(g.Nodes))
	for n := range g.Nodes {
		adjacency[n] = g.AdjacentEdges(n)
	}

	for _, src := range used {
		dist, err := dijkstra(adjacency, src)
		if err != nil {
			return nil, err
		}
		for _, dst := range used {
			if dst == src {
				continue // diagonal filled in separately below.
			}
			if p, ok := dist[dst]; ok {
				r.paths[routeKey{src, dst}] = p
			}
		}
	}

	for _, n := range used {
		best, ok := selfRoundTrip(adjacency, r, n)
		if ok {
			r.paths[routeKey{n, n}] = best
		}
	}

	return r, nil
}

// selfRoundTrip computes the diagonal entry for n: the cheapest path that
// leaves n via one edge and returns via the precomputed shortest path.
func selfRoundTrip(adjacency map[NodeID][]Edge, r *RoutingInfo, n NodeID) (Path, bool) {
	var best Path
	found := false

	for _, e := range adjacency[n] {
		hop := Path{Latency: e.Latency.SimTime(), PacketLoss: e.PacketLoss}

		candidate := hop
		if e.Target != n {
			back, ok := r.paths[routeKey{e.Target, n}]
			if !ok {
				continue
			}
			candidate = Compose(hop, back)
		}

		if !found || candidate.Less(best) {
			best = candidate
			found = true
		}
	}

	return best, found
}

// dijkstra runs single-source shortest paths from src using latency_ns as
// weight, returning every reachable node's best Path.
func dijkstra(adjacency map[NodeID][]Edge, src NodeID) (map[NodeID]Path, error) {
	dist := map[NodeID]Path{src: {}}
	visited := map[NodeID]bool{}

	pq := &pathHeap{{node: src, path: Path{}}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true

		for _, e := range adjacency[cur.node] {
			hop := Path{Latency: e.Latency.SimTime(), PacketLoss: e.PacketLoss}
			candidate := Compose(cur.path, hop)

			if existing, ok := dist[e.Target]; !ok || candidate.Less(existing) {
				dist[e.Target] = candidate
				heap.Push(pq, pqItem{node: e.Target, path: candidate})
			}
		}
	}

	return dist, nil
}

type pqItem struct {
	node NodeID
	path Path
}

type pathHeap []pqItem

func (h pathHeap) Len() int            { return len(h) }
func (h pathHeap) Less(i, j int) bool  { return h[i].path.Less(h[j].path) }
func (h pathHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pathHeap) Push(x any)         { *h = append(*h, x.(pqItem)) }
func (h *pathHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DirectEdgesOnly builds a RoutingInfo using only direct edges, erroring
// if any pair among `used` lacks exactly one direct edge — the
// alternative lookup mode described in spec.md §4.5.
func DirectEdgesOnly(g *Graph, used []NodeID) (*RoutingInfo, error) {
	r := &RoutingInfo{paths: make(map[routeKey]Path)}

	direct := make(map[routeKey]Path)
	count := make(map[routeKey]int)
	for _, e := range g.Edges {
		direct[routeKey{e.Source, e.Target}] = Path{Latency: e.Latency.SimTime(), PacketLoss: e.PacketLoss}
		count[routeKey{e.Source, e.Target}]++
		if !g.Directed {
			direct[routeKey{e.Target, e.Source}] = Path{Latency: e.Latency.SimTime(), PacketLoss: e.PacketLoss}
			count[routeKey{e.Target, e.Source}]++
		}
	}

	for _, src := range used {
		for _, dst := range used {
			if src == dst {
				continue
			}
			p, ok := direct[routeKey{src, dst}]
			if !ok || count[routeKey{src, dst}] != 1 {
				return nil, fmt.Errorf("netgraph: direct-edge routing requires exactly one edge %d -> %d", src, dst)
			}
			r.paths[routeKey{src, dst}] = p
		}
	}

	return r, nil
}
