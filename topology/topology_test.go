package topology

import (
	"testing"

	"github.com/iti/qns/kernel"
	"github.com/iti/qns/network"
	"github.com/iti/qns/qkd"
	"github.com/iti/qns/resource"
	"github.com/stretchr/testify/assert"
)

func baseOptions() Options {
	return Options{
		Seed: 7,
		Entanglement: network.EntanglementParams{
			RawFidelity:       0.95,
			SwapSuccessProb:   1.0,
			SwapDegradation:   1.0,
			GenerationRetries: 3,
		},
		DetectorEfficiency: 1.0,
		BSMHeraldAmbiguity: 0,
	}
}

// twoRouterConfig builds r1 - m - r2, the §8 scenario 1 shape: two
// QuantumRouters joined through a single BSMNode, plus the classical
// links every hop needs for pairing/heralding.
func twoRouterConfig() *Config {
	return &Config{
		StopTime: StopTime(kernel.Infinity),
		Nodes: []NodeConfig{
			{Name: "r1", Type: TypeQuantumRouter, MemoSize: 2},
			{Name: "m", Type: TypeBSMNode},
			{Name: "r2", Type: TypeQuantumRouter, MemoSize: 2},
		},
		QConnections: []QConnConfig{
			{Node1: "r1", Node2: "m", Attenuation: 0, Distance: 0},
			{Node1: "m", Node2: "r2", Attenuation: 0, Distance: 0},
		},
		CConnections: []CConnConfig{
			{Node1: "r1", Node2: "m", Delay: 1000},
			{Node1: "m", Node2: "r2", Delay: 1000},
			{Node1: "r1", Node2: "r2", Delay: 2000},
		},
	}
}

func TestBuild_TwoRoutersThroughBSM_WiresLinkMiddleAndRouting(t *testing.T) {
	top, err := Build(twoRouterConfig(), baseOptions())
	assert.NoError(t, err)

	assert.Contains(t, top.Nodes, "r1")
	assert.Contains(t, top.Nodes, "m")
	assert.Contains(t, top.Nodes, "r2")

	r1nm := top.Managers["r1"]
	assert.NotNil(t, r1nm)
	assert.Equal(t, "r2", r1nm.Forwarding["r2"])

	path, err := top.Router.Path("r1", "r2")
	assert.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, path, "BSM node must never appear as a routing hop")
}

func TestBuild_RejectsBSMNodeWithoutTwoQuantumNeighbors(t *testing.T) {
	cfg := &Config{
		StopTime: StopTime(kernel.Infinity),
		Nodes: []NodeConfig{
			{Name: "r1", Type: TypeQuantumRouter, MemoSize: 1},
			{Name: "m", Type: TypeBSMNode},
		},
		QConnections: []QConnConfig{
			{Node1: "r1", Node2: "m"},
		},
	}
	_, err := Build(cfg, baseOptions())
	assert.Error(t, err)
}

func TestBuild_EndToEndReservationGeneratesEntanglement(t *testing.T) {
	top, err := Build(twoRouterConfig(), baseOptions())
	assert.NoError(t, err)

	tl := top.Timeline
	r1nm := top.Managers["r1"]
	err = r1nm.Request(tl, "r2", tl.Now(), kernel.Infinity, 1, 0.5)
	assert.NoError(t, err)

	tl.Run()

	mm1 := top.MemoryManagers["r1"]
	mm2 := top.MemoryManagers["r2"]

	found := false
	for _, mi := range mm1.All() {
		if mi.State == resource.StateEntangled {
			found = true
		}
	}
	assert.True(t, found, "r1 should end with at least one entangled memory slot")

	_ = mm2
}

func qkdConfig() *Config {
	return &Config{
		StopTime: StopTime(kernel.Infinity),
		Nodes: []NodeConfig{
			{Name: "alice", Type: TypeQKDNode},
			{Name: "bob", Type: TypeQKDNode},
		},
		QConnections: []QConnConfig{
			{Node1: "alice", Node2: "bob", Attenuation: 0, Distance: 0, PolarizationFidelity: 0.97},
		},
		CConnections: []CConnConfig{
			{Node1: "alice", Node2: "bob", Delay: 1000},
		},
	}
}

func TestBuild_QKDNodesProduceMatchingSiftedKeys(t *testing.T) {
	opts := baseOptions()
	opts.CascadeBlockSize = 8
	top, err := Build(qkdConfig(), opts)
	assert.NoError(t, err)

	assert.InDelta(t, 0.97, top.BB84["alice"].PolarizationFidelity, 1e-9)
	assert.NotNil(t, top.Cascades["alice"])
	assert.NotNil(t, top.Cascades["bob"])

	var aliceKeys, bobKeys [][]int
	top.Cascades["alice"].Upper = qkd.KeyConsumerFunc(func(tl *kernel.Timeline, key []int) {
		aliceKeys = append(aliceKeys, key)
	})
	top.Cascades["bob"].Upper = qkd.KeyConsumerFunc(func(tl *kernel.Timeline, key []int) {
		bobKeys = append(bobKeys, key)
	})

	top.BB84["alice"].Push(top.Timeline, 16, 1)
	top.Timeline.Run()

	assert.Len(t, aliceKeys, 1)
	assert.Len(t, bobKeys, 1)
	assert.Equal(t, aliceKeys, bobKeys)
}
