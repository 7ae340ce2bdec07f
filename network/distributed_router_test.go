package network

import (
	"testing"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/stretchr/testify/assert"
)

func buildDistributedTriangle(t *testing.T) (*kernel.Timeline, map[string]*DistributedRouter) {
	tl := kernel.NewTimeline(1, kernel.Infinity)
	names := []string{"r1", "r2", "r3"}
	nodes := make(map[string]*hardware.Node)
	for _, n := range names {
		node, err := hardware.NewNode(tl, n)
		assert.NoError(t, err)
		nodes[n] = node
	}
	link := func(a, b string) {
		ab := hardware.NewClassicalChannel(a+"->"+b, nodes[a], b, 0, 10)
		nodes[a].AddClassicalChannel(ab)
		ba := hardware.NewClassicalChannel(b+"->"+a, nodes[b], a, 0, 10)
		nodes[b].AddClassicalChannel(ba)
	}
	link("r1", "r2")
	link("r2", "r3")

	routers := make(map[string]*DistributedRouter)
	routers["r1"] = NewDistributedRouter(nodes["r1"], []string{"r2"})
	routers["r2"] = NewDistributedRouter(nodes["r2"], []string{"r1", "r3"})
	routers["r3"] = NewDistributedRouter(nodes["r3"], []string{"r2"})

	for name, node := range nodes {
		r := routers[name]
		node.SetMessageHandler(func(tl *kernel.Timeline, src string, msg hardware.Message) {
			if adv, ok := msg.Content.(LinkAdvertiseMessage); ok {
				r.OnAdvertise(tl, adv)
			}
		})
	}
	return tl, routers
}

func TestDistributedRouter_FloodedAdvertisementsConvergeToFullPath(t *testing.T) {
	tl, routers := buildDistributedTriangle(t)
	for _, r := range routers {
		r.Advertise(tl)
	}
	tl.Run()

	p, err := routers["r1"].Path("r1", "r3")
	assert.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, p)
}

func TestDistributedRouter_RejectsPathRootedElsewhere(t *testing.T) {
	_, routers := buildDistributedTriangle(t)
	_, err := routers["r1"].Path("r2", "r3")
	assert.Error(t, err)
}
