package journey

import (
	"strings"

	"github.com/Jcateye/omini-channel/pkg/models"
)

// Graph is a traversal index over a journey's nodes and edges. Nodes and
// edges stay in their flat table form; the index only holds IDs, so graphs
// load and traverse without pointer cycles.
type Graph struct {
	nodes    map[string]*models.Node
	outgoing map[string][]*models.Edge
	incoming map[string]int
	order    []string
}

// NewGraph indexes a journey's nodes and edges. Edges referencing unknown
// nodes are ignored.
func NewGraph(journey *models.Journey) *Graph {
	g := &Graph{
		nodes:    make(map[string]*models.Node, len(journey.Nodes)),
		outgoing: make(map[string][]*models.Edge),
		incoming: make(map[string]int),
	}

	for _, node := range journey.Nodes {
		if _, exists := g.nodes[node.ID]; exists {
			continue
		}

		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)
	}

	for _, edge := range journey.Edges {
		if g.nodes[edge.FromNodeID] == nil || g.nodes[edge.ToNodeID] == nil {
			continue
		}

		g.outgoing[edge.FromNodeID] = append(g.outgoing[edge.FromNodeID], edge)
		g.incoming[edge.ToNodeID]++
	}

	return g
}

// Node returns the indexed node, or nil.
func (g *Graph) Node(id string) *models.Node {
	return g.nodes[id]
}

// StartNodes returns every node without an incoming edge, in definition
// order. An empty result means the graph has no entry point.
func (g *Graph) StartNodes() []*models.Node {
	starts := make([]*models.Node, 0)

	for _, id := range g.order {
		if g.incoming[id] == 0 {
			starts = append(starts, g.nodes[id])
		}
	}

	return starts
}

// Outgoing returns the edges leaving a node.
func (g *Graph) Outgoing(nodeID string) []*models.Edge {
	return g.outgoing[nodeID]
}

// BranchEdges selects the continuation edges after a condition node. Edges
// labeled "true"/"false" (case-insensitive) are matched against the outcome;
// when no edge carries a matching label every outgoing edge is traversed.
func (g *Graph) BranchEdges(nodeID string, outcome bool) []*models.Edge {
	want := "false"
	if outcome {
		want = "true"
	}

	edges := g.outgoing[nodeID]
	matched := make([]*models.Edge, 0)

	for _, edge := range edges {
		if strings.EqualFold(edge.Label, want) {
			matched = append(matched, edge)
		}
	}

	if len(matched) > 0 {
		return matched
	}

	// No labeled branch: fall back to every outgoing edge.
	return edges
}

// HasCycle reports whether the graph contains a directed cycle. Used by the
// authoring layer as a validation warning; the engine itself never recurses.
func (g *Graph) HasCycle() bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := make(map[string]int, len(g.nodes))

	var visit func(id string) bool

	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}

		state[id] = visiting

		for _, edge := range g.outgoing[id] {
			if visit(edge.ToNodeID) {
				return true
			}
		}

		state[id] = done

		return false
	}

	for _, id := range g.order {
		if visit(id) {
			return true
		}
	}

	return false
}
