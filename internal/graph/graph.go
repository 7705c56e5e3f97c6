// Package graph builds the workspace dependency graph.
//
// Nodes are package names, edges are declared dependency relationships. The
// topological order is computed with Kahn's algorithm: nodes with zero
// in-degree are peeled off repeatedly; any node never peeled belongs to a
// cycle. Cycles never abort a build - they are reported and their nodes are
// simply absent from the topological order.
package graph

import (
	"errors"
	"fmt"
	"sort"

	dgraph "github.com/dominikbraun/graph"
)

// EdgeType classifies a dependency declaration.
type EdgeType string

const (
	EdgeProd EdgeType = "prod"
	EdgeDev  EdgeType = "dev"
	EdgePeer EdgeType = "peer"
)

// DepEdge is one declared dependency relationship.
type DepEdge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeType `json:"type"`
}

// PackageGraph is the immutable result of one graph build.
type PackageGraph struct {
	// Nodes is the sorted list of package names in the graph.
	Nodes []string `json:"nodes"`

	// Edges is every declared dependency relationship, including edges to
	// packages that exist only outside the workspace.
	Edges []DepEdge `json:"edges"`

	// Topological is the Kahn order. Nodes participating in a cycle are absent.
	Topological []string `json:"topological"`

	// Cycles groups the nodes that could not be ordered.
	Cycles [][]string `json:"cycles,omitempty"`
}

// HasCycles reports whether any dependency cycle was detected.
func (g *PackageGraph) HasCycles() bool {
	return len(g.Cycles) > 0
}

// InCycle reports whether the named package participates in a cycle.
func (g *PackageGraph) InCycle(name string) bool {
	for _, cycle := range g.Cycles {
		for _, n := range cycle {
			if n == name {
				return true
			}
		}
	}
	return false
}

// Build constructs a PackageGraph from the given node names and edges.
// Edge endpoints not present in nodes are added as external leaf nodes so
// the planner can still reason about them. The result is deterministic:
// ties in the Kahn order are broken lexicographically.
func Build(nodes []string, edges []DepEdge) (*PackageGraph, error) {
	g := dgraph.New(dgraph.StringHash, dgraph.Directed())

	all := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		all[n] = true
	}
	for _, e := range edges {
		all[e.From] = true
		all[e.To] = true
	}

	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if err := g.AddVertex(n); err != nil {
			return nil, fmt.Errorf("failed to add node %s: %w", n, err)
		}
	}
	for _, e := range edges {
		if err := g.AddEdge(e.From, e.To); err != nil {
			// prod+peer double declarations produce parallel edges
			if errors.Is(err, dgraph.ErrEdgeAlreadyExists) {
				continue
			}
			return nil, fmt.Errorf("failed to add edge %s -> %s: %w", e.From, e.To, err)
		}
	}

	topo, leftover, err := kahnOrder(g, names)
	if err != nil {
		return nil, err
	}

	cycles, err := cycleGroups(g, leftover)
	if err != nil {
		return nil, err
	}

	return &PackageGraph{
		Nodes:       names,
		Edges:       edges,
		Topological: topo,
		Cycles:      cycles,
	}, nil
}

// kahnOrder peels zero in-degree nodes in lexicographic order and returns
// the peeled sequence plus the set of nodes that were never peeled.
func kahnOrder(g dgraph.Graph[string, string], names []string) ([]string, map[string]bool, error) {
	pred, err := g.PredecessorMap()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute predecessor map: %w", err)
	}
	adj, err := g.AdjacencyMap()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute adjacency map: %w", err)
	}

	inDegree := make(map[string]int, len(names))
	for _, n := range names {
		inDegree[n] = len(pred[n])
	}

	var queue []string
	for _, n := range names {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	topo := make([]string, 0, len(names))
	for len(queue) > 0 {
		sort.Strings(queue)
		n := queue[0]
		queue = queue[1:]
		topo = append(topo, n)

		for succ := range adj[n] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	leftover := make(map[string]bool)
	for _, n := range names {
		if inDegree[n] > 0 {
			leftover[n] = true
		}
	}
	return topo, leftover, nil
}

// cycleGroups groups cycle members using strongly connected components, so
// diagnostics can name each cycle instead of one flat list. Leftover nodes
// that merely sit downstream of a cycle are excluded from the topological
// order but are not cycle members themselves.
func cycleGroups(g dgraph.Graph[string, string], leftover map[string]bool) ([][]string, error) {
	if len(leftover) == 0 {
		return nil, nil
	}

	sccs, err := dgraph.StronglyConnectedComponents(g)
	if err != nil {
		return nil, fmt.Errorf("failed to compute strongly connected components: %w", err)
	}
	adj, err := g.AdjacencyMap()
	if err != nil {
		return nil, fmt.Errorf("failed to compute adjacency map: %w", err)
	}

	var cycles [][]string
	for _, comp := range sccs {
		if len(comp) == 1 {
			// A singleton component is a cycle only if it loops on itself
			n := comp[0]
			if _, selfLoop := adj[n][n]; !selfLoop {
				continue
			}
		}
		members := append([]string(nil), comp...)
		sort.Strings(members)
		cycles = append(cycles, members)
	}

	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i][0] < cycles[j][0]
	})
	return cycles, nil
}
