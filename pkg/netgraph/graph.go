// Package netgraph parses the weighted topology graph, assigns IPv4
// addresses to nodes, and precomputes shortest-path routing, per spec.md
// §4.5 and §6.
package netgraph

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// NodeID identifies a graph node.
type NodeID uint32

// Node is one topology node: an identifier plus optional interface
// bandwidth caps.
type Node struct {
	ID               NodeID `yaml:"id"`
	HostBandwidthDown *datasize.ByteSize `yaml:"host_bandwidth_down,omitempty"`
	HostBandwidthUp   *datasize.ByteSize `yaml:"host_bandwidth_up,omitempty"`
}

// Edge is one weighted link between two nodes.
type Edge struct {
	Source     NodeID  `yaml:"source"`
	Target     NodeID  `yaml:"target"`
	Latency    Duration `yaml:"latency"`
	PacketLoss float64 `yaml:"packet_loss"`
}

// rawFile is the on-disk shape of the graph file (spec.md §6).
type rawFile struct {
	Directed bool   `yaml:"directed"`
	Nodes    []Node `yaml:"nodes"`
	Edges    []Edge `yaml:"edges"`
}

// Graph is a parsed, validated network topology.
type Graph struct {
	Directed bool
	Nodes    map[NodeID]Node
	Edges    []Edge
}

// LoadFile parses and validates a graph file from path.
func LoadFile(path string) (*Graph, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("netgraph: failed to read graph file: %w", err)
	}
	return Parse(buf)
}

// Parse parses and validates a graph file's contents.
func Parse(buf []byte) (*Graph, error) {
	var raw rawFile
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return nil, fmt.Errorf("netgraph: failed to deserialize graph: %w", err)
	}

	g := &Graph{
		Directed: raw.Directed,
		Nodes:    make(map[NodeID]Node, len(raw.Nodes)),
		Edges:    raw.Edges,
	}
	for _, n := range raw.Nodes {
		g.Nodes[n.ID] = n
	}

	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// validate checks every edge endpoint exists and every packet_loss is in
// [0,1], collecting every problem found instead of stopping at the first
// (SPEC_FULL.md ambient error-handling rule).
func (g *Graph) validate() error {
	var errs *multierror.Error

	for i, e := range g.Edges {
		if _, ok := g.Nodes[e.Source]; !ok {
			errs = multierror.Append(errs, fmt.Errorf("edge %d: source node %d does not exist", i, e.Source))
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			errs = multierror.Append(errs, fmt.Errorf("edge %d: target node %d does not exist", i, e.Target))
		}
		if e.PacketLoss < 0 || e.PacketLoss > 1 {
			errs = multierror.Append(errs, fmt.Errorf("edge %d: packet_loss %f out of range [0,1]", i, e.PacketLoss))
		}
	}

	return errs.ErrorOrNil()
}

// AdjacentEdges returns every edge outgoing from node (both directions
// count as outgoing when the graph is undirected).
func (g *Graph) AdjacentEdges(node NodeID) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == node {
			out = append(out, e)
		} else if !g.Directed && e.Target == node {
			out = append(out, Edge{Source: node, Target: e.Source, Latency: e.Latency, PacketLoss: e.PacketLoss})
		}
	}
	return out
}
