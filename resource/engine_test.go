package resource

import (
	"testing"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/stretchr/testify/assert"
)

func newTestNode(t *testing.T, tl *kernel.Timeline, name string) *hardware.Node {
	n, err := hardware.NewNode(tl, name)
	assert.NoError(t, err)
	return n
}

func TestRuleEngine_ConditionGatesAction(t *testing.T) {
	tl := kernel.NewTimeline(1, kernel.Infinity)
	node := newTestNode(t, tl, "r1")
	mm := NewMemoryManager("r1", []string{"m0"})
	engine := NewRuleEngine(node)
	mm.AttachEngine(engine)

	fired := false
	engine.InstallRule(&Rule{
		ID:       "eg",
		Kind:     KindEG,
		Priority: 0,
		Condition: func(infos []*MemoryInfo) []*MemoryInfo {
			var out []*MemoryInfo
			for _, mi := range infos {
				if mi.State == StateRaw {
					out = append(out, mi)
				}
			}
			return out
		},
		Action: func(tl *kernel.Timeline, candidates []*MemoryInfo, args any) ActionResult {
			fired = true
			for _, mi := range candidates {
				mi.State = StateOccupied
			}
			return ActionResult{}
		},
	})

	mm.Update(tl, "m0", func(mi *MemoryInfo) {})
	assert.True(t, fired)

	info, _ := mm.Get("m0")
	assert.Equal(t, StateOccupied, info.State)
}

func TestExpireRulesByReservation_TerminatesOwnedProtocols(t *testing.T) {
	tl := kernel.NewTimeline(1, kernel.Infinity)
	node := newTestNode(t, tl, "r1")
	engine := NewRuleEngine(node)

	terminated := false
	p := &stubProtocol{name: "p1", reservation: "res-1", onTerminate: func() { terminated = true }}
	engine.activeProtocols["p1"] = p
	engine.InstallRule(&Rule{ID: "r", ReservationID: "res-1", Condition: func([]*MemoryInfo) []*MemoryInfo { return nil }})

	engine.ExpireRulesByReservation(tl, "res-1")

	assert.True(t, terminated)
	_, ok := engine.ActiveProtocol("p1")
	assert.False(t, ok)
	assert.Empty(t, engine.rules)
}

type stubProtocol struct {
	name        string
	reservation string
	onTerminate func()
}

func (s *stubProtocol) Name() string                                          { return s.name }
func (s *stubProtocol) ReservationID() string                                 { return s.reservation }
func (s *stubProtocol) OnPaired(*kernel.Timeline, string, string)             {}
func (s *stubProtocol) OnPairResponse(*kernel.Timeline, string, bool, string) {}
func (s *stubProtocol) OwnsMemory(string) bool                               { return false }
func (s *stubProtocol) MemoryExpire(*kernel.Timeline, string)                 {}
func (s *stubProtocol) Terminate(*kernel.Timeline) {
	if s.onTerminate != nil {
		s.onTerminate()
	}
}
