package qkd

import (
	"testing"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/qstate"
	"github.com/stretchr/testify/assert"
)

func buildBB84Pair(t *testing.T, fidelity float64) (*kernel.Timeline, *BB84, *BB84) {
	tl := kernel.NewTimeline(1, kernel.Infinity)
	qsm, err := qstate.NewManager(qstate.VariantKet, 64)
	assert.NoError(t, err)

	alice, err := hardware.NewNode(tl, "alice")
	assert.NoError(t, err)
	bob, err := hardware.NewNode(tl, "bob")
	assert.NoError(t, err)

	qcAB := hardware.NewQuantumChannel("qc-ab", alice, "bob", 0, 0, 1e14)
	alice.AddQuantumChannel(qcAB)
	qcBA := hardware.NewQuantumChannel("qc-ba", bob, "alice", 0, 0, 1e14)
	bob.AddQuantumChannel(qcBA)
	ccAB := hardware.NewClassicalChannel("cc-ab", alice, "bob", 0, 1000)
	alice.AddClassicalChannel(ccAB)
	ccBA := hardware.NewClassicalChannel("cc-ba", bob, "alice", 0, 1000)
	bob.AddClassicalChannel(ccBA)

	ls, err := hardware.NewLightSource(tl, alice.Entity, qsm, "alice-laser", 1.0, 1e9, 1550)
	assert.NoError(t, err)

	a, err := NewBB84(tl, alice, qsm, RoleAlice, "bob", ls)
	assert.NoError(t, err)
	a.PolarizationFidelity = fidelity
	b, err := NewBB84(tl, bob, qsm, RoleBob, "alice", nil)
	assert.NoError(t, err)
	b.PolarizationFidelity = fidelity

	alice.SetMessageHandler(func(tl *kernel.Timeline, src string, msg hardware.Message) { a.OnMessage(tl, src, msg.Content) })
	bob.SetMessageHandler(func(tl *kernel.Timeline, src string, msg hardware.Message) { b.OnMessage(tl, src, msg.Content) })

	return tl, a, b
}

func TestBB84_IdealChannelProducesMatchingKeys(t *testing.T) {
	tl, a, b := buildBB84Pair(t, 1.0)

	var aliceKeys, bobKeys [][]int
	a.Upper = KeyConsumerFunc(func(tl *kernel.Timeline, key []int) { aliceKeys = append(aliceKeys, key) })
	b.Upper = KeyConsumerFunc(func(tl *kernel.Timeline, key []int) { bobKeys = append(bobKeys, key) })

	a.Push(tl, 16, 2)
	tl.Run()

	assert.Len(t, aliceKeys, 2)
	assert.Len(t, bobKeys, 2)
	for i := range aliceKeys {
		assert.Equal(t, aliceKeys[i], bobKeys[i])
	}
}

func TestCascade_CorrectsNoisySiftedKey(t *testing.T) {
	tl, a, b := buildBB84Pair(t, 0.9)

	ca := NewCascade(a.node, a, RoleAlice, "bob", 8)
	cb := NewCascade(b.node, b, RoleBob, "alice", 8)

	aliceMsgHandler := func(tl *kernel.Timeline, src string, content any) {
		switch content.(type) {
		case beginPulseMsg, receivedQubitsMsg, basisListMsg, matchingIndicesMsg:
			a.OnMessage(tl, src, content)
		default:
			ca.OnMessage(tl, src, content)
		}
	}
	bobMsgHandler := func(tl *kernel.Timeline, src string, content any) {
		switch content.(type) {
		case beginPulseMsg, receivedQubitsMsg, basisListMsg, matchingIndicesMsg:
			b.OnMessage(tl, src, content)
		default:
			cb.OnMessage(tl, src, content)
		}
	}
	a.node.SetMessageHandler(func(tl *kernel.Timeline, src string, msg hardware.Message) { aliceMsgHandler(tl, src, msg.Content) })
	b.node.SetMessageHandler(func(tl *kernel.Timeline, src string, msg hardware.Message) { bobMsgHandler(tl, src, msg.Content) })

	var aliceKeys, bobKeys [][]int
	ca.Upper = KeyConsumerFunc(func(tl *kernel.Timeline, key []int) { aliceKeys = append(aliceKeys, key) })
	cb.Upper = KeyConsumerFunc(func(tl *kernel.Timeline, key []int) { bobKeys = append(bobKeys, key) })

	ca.Push(tl, 32, 3)
	tl.Run()

	assert.Len(t, aliceKeys, 3)
	assert.Len(t, bobKeys, 3)
	for i := range aliceKeys {
		assert.Equal(t, len(aliceKeys[i]), len(bobKeys[i]))
		weight := 0
		for j := range aliceKeys[i] {
			if aliceKeys[i][j] != bobKeys[i][j] {
				weight++
			}
		}
		assert.Zero(t, weight, "corrected keys must agree bit-for-bit at index %d", i)
	}
}
