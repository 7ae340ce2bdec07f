package network

import (
	"testing"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/qstate"
	"github.com/iti/qns/resource"
	"github.com/stretchr/testify/assert"
)

func buildTwoHopManagers(t *testing.T, capacity1, capacity2 int) (*kernel.Timeline, *NetworkManager, *NetworkManager) {
	tl := kernel.NewTimeline(1, kernel.Infinity)
	qsm, err := qstate.NewManager(qstate.VariantKet, 16)
	assert.NoError(t, err)

	n1, err := hardware.NewNode(tl, "req1")
	assert.NoError(t, err)
	n2, err := hardware.NewNode(tl, "req2")
	assert.NoError(t, err)

	cc12 := hardware.NewClassicalChannel("cc12", n1, "req2", 0, 1000)
	n1.AddClassicalChannel(cc12)
	cc21 := hardware.NewClassicalChannel("cc21", n2, "req1", 0, 1000)
	n2.AddClassicalChannel(cc21)

	mm1 := resource.NewMemoryManager("req1", memoryNames(capacity1))
	mm2 := resource.NewMemoryManager("req2", memoryNames(capacity2))
	engine1 := resource.NewRuleEngine(n1)
	engine2 := resource.NewRuleEngine(n2)
	mm1.AttachEngine(engine1)
	mm2.AttachEngine(engine2)

	router := NewStaticRouter()
	router.AddEdge("req1", "req2", 1)

	nm1 := NewNetworkManager(n1, mm1, engine1, qsm, router, LinkMiddle{"req2": "mid"}, capacity1, EntanglementParams{RawFidelity: 0.9})
	nm2 := NewNetworkManager(n2, mm2, engine2, qsm, router, LinkMiddle{"req1": "mid"}, capacity2, EntanglementParams{RawFidelity: 0.9})

	n1.SetMessageHandler(func(tl *kernel.Timeline, src string, msg hardware.Message) { nm1.HandleMessage(tl, src, msg.Content) })
	n2.SetMessageHandler(func(tl *kernel.Timeline, src string, msg hardware.Message) { nm2.HandleMessage(tl, src, msg.Content) })

	return tl, nm1, nm2
}

func memoryNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = "m" + string(rune('0'+i))
	}
	return names
}

func TestReservation_SucceedsWhenCapacityAvailable(t *testing.T) {
	tl, nm1, _ := buildTwoHopManagers(t, 1, 1)

	var accepted *bool
	nm1.OnReserveRes = func(id string, ok bool) { accepted = &ok }

	err := nm1.Request(tl, "req2", 0, 1000, 1, 0.5)
	assert.NoError(t, err)
	tl.Run()

	assert.NotNil(t, accepted)
	assert.True(t, *accepted)
}

func TestReservation_RejectsWhenCapacityExceeded(t *testing.T) {
	tl, nm1, _ := buildTwoHopManagers(t, 2, 1)

	var accepted *bool
	nm1.OnReserveRes = func(id string, ok bool) { accepted = &ok }

	err := nm1.Request(tl, "req2", 0, 1000, 2, 0.5)
	assert.NoError(t, err)
	tl.Run()

	assert.NotNil(t, accepted)
	assert.False(t, *accepted)
	assert.Empty(t, nm1.reservedSlots)
}
