package entanglement

import (
	"testing"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/qstate"
	"github.com/iti/qns/resource"
	"github.com/stretchr/testify/assert"
)

func TestWernerDistill_PerfectFidelityIsFixedPoint(t *testing.T) {
	assert.InDelta(t, 1.0, wernerDistill(1.0), 1e-9)
}

func TestPauliCorrection_CoversAllFourOutcomes(t *testing.T) {
	assert.Equal(t, "I", pauliCorrection(0, 0))
	assert.Equal(t, "Z", pauliCorrection(0, 1))
	assert.Equal(t, "X", pauliCorrection(1, 0))
	assert.Equal(t, "XZ", pauliCorrection(1, 1))
}

func newMemory(t *testing.T, tl *kernel.Timeline, node *hardware.Node, qsm *qstate.Manager, name string) *hardware.Memory {
	mem, err := hardware.NewMemory(tl, node.Entity, qsm, hardware.MemoryParams{
		Name: name, RawFidelity: 1, Frequency: 1e6, Efficiency: 1, CoherenceTime: kernel.Infinity, Wavelength: 1550,
	})
	assert.NoError(t, err)
	node.AddComponent(mem)
	return mem
}

func TestSwapProtocol_PerfectSwapReleasesIntermediateMemories(t *testing.T) {
	tl := kernel.NewTimeline(1, kernel.Infinity)
	qsm, err := qstate.NewManager(qstate.VariantKet, 16)
	assert.NoError(t, err)

	nodeA, err := hardware.NewNode(tl, "mid")
	assert.NoError(t, err)
	memA := newMemory(t, tl, nodeA, qsm, "mA")
	memB := newMemory(t, tl, nodeA, qsm, "mB")

	mm := resource.NewMemoryManager("mid", []string{"mA", "mB"})
	mm.Update(tl, "mA", func(mi *resource.MemoryInfo) {
		mi.State = resource.StateEntangled
		mi.RemoteNode = "rA"
		mi.RemoteMemo = "r0"
		mi.Fidelity = 0.9
	})
	mm.Update(tl, "mB", func(mi *resource.MemoryInfo) {
		mi.State = resource.StateEntangled
		mi.RemoteNode = "rB"
		mi.RemoteMemo = "r0"
		mi.Fidelity = 0.8
	})

	sp := NewSwapProtocol("sp1", nodeA, mm, qsm, SwapParams{
		ReservationID:      "res1",
		MemoryToRemoteA:    "mA",
		MemoryToRemoteB:    "mB",
		RemoteA:            "rA",
		RemoteB:            "rB",
		SuccessProbability: 1,
		Degradation:        1,
	})
	sp.Run(tl)

	infoA, _ := mm.Get("mA")
	infoB, _ := mm.Get("mB")
	assert.Equal(t, resource.StateRaw, infoA.State)
	assert.Equal(t, resource.StateRaw, infoB.State)
	_ = memA
	_ = memB
}

func TestSwapBCorrection_AppliesFidelityAndRemotePointer(t *testing.T) {
	tl := kernel.NewTimeline(1, kernel.Infinity)
	qsm, err := qstate.NewManager(qstate.VariantKet, 16)
	assert.NoError(t, err)

	nodeB, err := hardware.NewNode(tl, "rA")
	assert.NoError(t, err)
	newMemory(t, tl, nodeB, qsm, "mR")

	mm := resource.NewMemoryManager("rA", []string{"mR"})
	sb := NewSwapBCorrection("sb1", "res1", nodeB, mm, "mR", "mid")

	sb.OnMessage(tl, "mid", SwapCorrectionMessage{
		Correction: "I",
		OtherNode:  "rB",
		OtherMemo:  "r1",
		Fidelity:   0.81,
	})

	info, _ := mm.Get("mR")
	assert.Equal(t, resource.StateEntangled, info.State)
	assert.Equal(t, "rB", info.RemoteNode)
	assert.InDelta(t, 0.81, info.Fidelity, 1e-9)
}

func TestDistillationProtocol_AgreeingBitsPurifyAndKeep(t *testing.T) {
	tl := kernel.NewTimeline(7, kernel.Infinity)
	qsm, err := qstate.NewManager(qstate.VariantKet, 16)
	assert.NoError(t, err)

	node, err := hardware.NewNode(tl, "r1")
	assert.NoError(t, err)
	newMemory(t, tl, node, qsm, "keep")
	newMemory(t, tl, node, qsm, "sac")

	mm := resource.NewMemoryManager("r1", []string{"keep", "sac"})
	mm.Update(tl, "keep", func(mi *resource.MemoryInfo) {
		mi.State = resource.StateEntangled
		mi.RemoteNode = "r2"
		mi.Fidelity = 0.9
	})
	mm.Update(tl, "sac", func(mi *resource.MemoryInfo) {
		mi.State = resource.StateEntangled
		mi.RemoteNode = "r2"
		mi.Fidelity = 0.9
	})

	dp := NewDistillationProtocol("dp1", node, mm, qsm, DistillationParams{
		ReservationID: "res1", KeepMemory: "keep", SacrificeMemory: "sac", RemoteNode: "r2",
	})
	dp.remoteProtocol = "dp1-remote"
	dp.runLocal(tl)
	// Simulate the remote side reporting the same bit back.
	dp.OnMessage(tl, "r2", DistillationBitMessage{ForProtocol: "dp1", Bit: dp.localBit})

	sac, _ := mm.Get("sac")
	assert.Equal(t, resource.StateRaw, sac.State)

	keep, _ := mm.Get("keep")
	if dp.haveRemote && dp.localBit == dp.remoteBit {
		assert.Equal(t, resource.StatePurified, keep.State)
	}
}
