// Package network implements the network manager's two layers (§4.9):
// routing (control plane, writes the forwarding table) and the
// reservation protocol (hop-by-hop path reservation with REJECT
// unwind) built on top of it.
package network

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Router computes the quantum path between two node names (§4.9).
type Router interface {
	Path(src, dst string) ([]string, error)
}

// StaticRouter is the default routing protocol: a topology-derived
// shortest path weighted by link distance, cached graph-wide as an
// all-pairs shortest-path structure invalidated on every AddEdge
// (grounded on the teacher's routes.go buildConnGraph/getSPTree
// pattern, generalized from integer device ids to node names).
type StaticRouter struct {
	nameToID map[string]int64
	idToName map[int64]string
	nextID   int64
	g        *simple.WeightedUndirectedGraph
	all      *path.AllShortest
}

// NewStaticRouter constructs an empty router; call AddEdge to build up
// the topology graph before calling Path.
func NewStaticRouter() *StaticRouter {
	return &StaticRouter{
		nameToID: make(map[string]int64),
		idToName: make(map[int64]string),
		g:        simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
	}
}

func (r *StaticRouter) id(name string) int64 {
	if id, ok := r.nameToID[name]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.nameToID[name] = id
	r.idToName[id] = name
	r.g.AddNode(simple.Node(id))
	return id
}

// AddEdge registers an undirected quantum link between a and b,
// weighted by distance (§4.9: "topology-derived shortest path by
// length").
func (r *StaticRouter) AddEdge(a, b string, distance float64) {
	idA, idB := r.id(a), r.id(b)
	w := simple.WeightedEdge{F: simple.Node(idA), T: simple.Node(idB), W: distance}
	r.g.SetWeightedEdge(w)
	r.all = nil
}

// Path returns the shortest route from src to dst, inclusive of both
// endpoints. When several paths tie for shortest length, the one that
// is lexicographically smallest hop-by-hop is returned, so ties are
// broken deterministically by alphabetical node name (§4.9) rather
// than by gonum's internal tree-building order.
func (r *StaticRouter) Path(src, dst string) ([]string, error) {
	if src == dst {
		return []string{src}, nil
	}
	srcID, ok := r.nameToID[src]
	if !ok {
		return nil, fmt.Errorf("network: unknown node %q", src)
	}
	dstID, ok := r.nameToID[dst]
	if !ok {
		return nil, fmt.Errorf("network: unknown node %q", dst)
	}
	if r.all == nil {
		all := path.DijkstraAllPaths(r.g)
		r.all = &all
	}
	paths, weight := r.all.AllBetween(srcID, dstID)
	if math.IsInf(weight, 1) || len(paths) == 0 {
		return nil, fmt.Errorf("network: no path from %q to %q", src, dst)
	}
	best := r.names(paths[0])
	for _, p := range paths[1:] {
		if cand := r.names(p); lexLess(cand, best) {
			best = cand
		}
	}
	return best, nil
}

func (r *StaticRouter) names(nodes []graph.Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = r.idToName[n.ID()]
	}
	return names
}

// lexLess reports whether a sorts before b when compared hop by hop;
// used to pick the alphabetically earliest among equal-length paths.
func lexLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

var _ Router = (*StaticRouter)(nil)
var _ graph.Graph = (*simple.WeightedUndirectedGraph)(nil)
