package network

import (
	"fmt"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
)

// LinkAdvertiseMessage carries one node's directly known links to its
// neighbors, flooded over the same classical-message transport the
// reservation protocol uses.
type LinkAdvertiseMessage struct {
	Origin string
	Links  []string
}

// DistributedRouter is a link-state stand-in for StaticRouter: every
// node floods its direct neighbor list once, each node accumulates the
// union into a local adjacency view, and Path runs the same
// StaticRouter shortest-path search over that accumulated graph.
// Present because a pluggable distributed routing variant is named
// alongside the static one; nothing in the testable scenarios drives
// it, so it is exercised only by this package's own tests.
type DistributedRouter struct {
	node      *hardware.Node
	neighbors []string
	inner     *StaticRouter
	known     map[string]bool
}

// NewDistributedRouter constructs a router bound to node, seeded with
// its direct neighbor list.
func NewDistributedRouter(node *hardware.Node, neighbors []string) *DistributedRouter {
	r := &DistributedRouter{
		node:      node,
		neighbors: neighbors,
		inner:     NewStaticRouter(),
		known:     make(map[string]bool),
	}
	for _, n := range neighbors {
		r.inner.AddEdge(node.Name, n, 1)
	}
	return r
}

// Advertise floods this node's neighbor list to every direct neighbor.
func (r *DistributedRouter) Advertise(tl *kernel.Timeline) {
	for _, n := range r.neighbors {
		_ = r.node.SendMessage(tl, n, hardware.Message{
			Content:  LinkAdvertiseMessage{Origin: r.node.Name, Links: r.neighbors},
			Priority: hardware.PriorityMessageArrival,
		})
	}
}

// OnAdvertise merges a received advertisement into the local graph and
// reflects it onward to every other direct neighbor (flood, once per
// origin).
func (r *DistributedRouter) OnAdvertise(tl *kernel.Timeline, msg LinkAdvertiseMessage) {
	if r.known[msg.Origin] {
		return
	}
	r.known[msg.Origin] = true
	for _, n := range msg.Links {
		// LinkAdvertiseMessage carries neighbor names only, no
		// distance, so every edge is weighted uniformly here.
		r.inner.AddEdge(msg.Origin, n, 1)
	}
	for _, n := range r.neighbors {
		if n == msg.Origin {
			continue
		}
		_ = r.node.SendMessage(tl, n, hardware.Message{Content: msg, Priority: hardware.PriorityMessageArrival})
	}
}

// Path implements Router over the accumulated link-state graph.
func (r *DistributedRouter) Path(src, dst string) ([]string, error) {
	if src != r.node.Name {
		return nil, fmt.Errorf("network: distributed router for %q cannot compute a path rooted elsewhere (%q)", r.node.Name, src)
	}
	return r.inner.Path(src, dst)
}

var _ Router = (*DistributedRouter)(nil)
