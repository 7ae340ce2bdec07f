package entanglement

import (
	"fmt"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/qstate"
	"github.com/iti/qns/resource"
	"github.com/sirupsen/logrus"
)

// SwapParams configures an entanglement-swap instance at the
// intermediate node (role A): two local memories, each entangled with
// a different remote node, and the parameters the swap applies
// (§4.7).
type SwapParams struct {
	ReservationID      string
	MemoryToRemoteA    string // entangled with RemoteA
	MemoryToRemoteB    string // entangled with RemoteB
	RemoteA, RemoteB   string
	SuccessProbability float64
	Degradation        float64
}

// SwapCorrectionMessage is sent by the role-A node to each role-B
// remote after a successful local BSM, carrying the Pauli correction
// that remote's memory must apply and the other end's identity so the
// two remote memories can be marked entangled with each other.
type SwapCorrectionMessage struct {
	Correction string // "I", "X", "Z", or "XZ"
	OtherNode  string
	OtherMemo  string
	Fidelity   float64
}

// SwapProtocol is the role-A instance: it owns both local memories,
// performs the joint BSM, and on success reports corrections to the
// two remote role-B ends. It never pairs with a remote protocol (the
// two memories are already local), so OnPaired/OnPairResponse are
// no-ops; it runs to completion synchronously inside Action.
type SwapProtocol struct {
	id     string
	params SwapParams
	node   *hardware.Node
	mm     *resource.MemoryManager
	qsm    *qstate.Manager
	done   bool
	log    *logrus.Entry
}

func NewSwapProtocol(id string, node *hardware.Node, mm *resource.MemoryManager, qsm *qstate.Manager, p SwapParams) *SwapProtocol {
	return &SwapProtocol{id: id, params: p, node: node, mm: mm, qsm: qsm, log: logrus.WithField("component", "swap").WithField("protocol", id)}
}

func (s *SwapProtocol) Name() string          { return s.id }
func (s *SwapProtocol) ReservationID() string { return s.params.ReservationID }
func (s *SwapProtocol) OnPaired(*kernel.Timeline, string, string)             {}
func (s *SwapProtocol) OnPairResponse(*kernel.Timeline, string, bool, string) {}

// Run performs the local BSM and reports to both remotes. Called
// directly from the installing rule's Action, since a role-A swap
// needs no remote rendezvous.
func (s *SwapProtocol) Run(tl *kernel.Timeline) {
	infoA, okA := s.mm.Get(s.params.MemoryToRemoteA)
	infoB, okB := s.mm.Get(s.params.MemoryToRemoteB)
	compA, ok1 := s.node.GetComponentByName(s.params.MemoryToRemoteA)
	compB, ok2 := s.node.GetComponentByName(s.params.MemoryToRemoteB)
	memA, ok3 := compA.(*hardware.Memory)
	memB, ok4 := compB.(*hardware.Memory)
	if !okA || !okB || !ok1 || !ok2 || !ok3 || !ok4 {
		s.fail(tl)
		return
	}

	sample := memA.Entity().Rng().RandU01()
	if sample > s.params.SuccessProbability {
		s.fail(tl)
		return
	}

	circuit := (&qstate.Circuit{}).AddGate("CNOT", 0, 1).AddGate("H", 0).AddMeasure(0, 1)
	outcomes, err := s.qsm.RunCircuit(circuit, []qstate.Key{memA.QSMKey, memB.QSMKey}, sample)
	if err != nil {
		s.fail(tl)
		return
	}
	bitA := outcomes[memA.QSMKey]
	bitB := outcomes[memB.QSMKey]

	correctionForRemoteA := pauliCorrection(bitB, bitA)
	correctionForRemoteB := pauliCorrection(bitA, bitB)
	fidelity := infoA.Fidelity * infoB.Fidelity * s.params.Degradation

	_ = s.node.SendMessage(tl, s.params.RemoteA, hardware.Message{
		Content: SwapCorrectionMessage{
			Correction: correctionForRemoteA,
			OtherNode:  s.params.RemoteB,
			OtherMemo:  infoB.RemoteMemo,
			Fidelity:   fidelity,
		},
		Priority: hardware.PriorityMessageArrival,
	})
	_ = s.node.SendMessage(tl, s.params.RemoteB, hardware.Message{
		Content: SwapCorrectionMessage{
			Correction: correctionForRemoteB,
			OtherNode:  s.params.RemoteA,
			OtherMemo:  infoA.RemoteMemo,
			Fidelity:   fidelity,
		},
		Priority: hardware.PriorityMessageArrival,
	})

	s.mm.Update(tl, s.params.MemoryToRemoteA, func(mi *resource.MemoryInfo) { mi.Reset() })
	s.mm.Update(tl, s.params.MemoryToRemoteB, func(mi *resource.MemoryInfo) { mi.Reset() })
	s.done = true
	s.log.Debug("swap succeeded locally, corrections sent")
}

// pauliCorrection picks the Pauli byte string a role-B end applies
// given the two local BSM outcome bits, using the standard
// CNOT+H measurement-basis convention: bit from the partner's
// control position selects a bit flip, the local qubit's bit selects
// a phase flip.
func pauliCorrection(controlBit, targetBit int) string {
	switch {
	case controlBit == 0 && targetBit == 0:
		return "I"
	case controlBit == 0 && targetBit == 1:
		return "Z"
	case controlBit == 1 && targetBit == 0:
		return "X"
	default:
		return "XZ"
	}
}

func (s *SwapProtocol) fail(tl *kernel.Timeline) {
	s.done = true
	s.mm.Update(tl, s.params.MemoryToRemoteA, func(mi *resource.MemoryInfo) { mi.Reset() })
	s.mm.Update(tl, s.params.MemoryToRemoteB, func(mi *resource.MemoryInfo) { mi.Reset() })
	s.log.Debug("swap failed")
}

func (s *SwapProtocol) OwnsMemory(memoryName string) bool {
	return memoryName == s.params.MemoryToRemoteA || memoryName == s.params.MemoryToRemoteB
}
func (s *SwapProtocol) MemoryExpire(*kernel.Timeline, string) { s.done = true }
func (s *SwapProtocol) Terminate(tl *kernel.Timeline) {
	if !s.done {
		s.fail(tl)
	}
}

// SwapBCorrection is the role-B instance that lives at each remote
// end: it waits for a SwapCorrectionMessage from the role-A
// intermediate, applies the named Pauli correction to its memory, and
// marks it entangled with the new counterpart (§4.7).
type SwapBCorrection struct {
	id            string
	reservationID string
	node          *hardware.Node
	mm            *resource.MemoryManager
	memory        string
	middleNode    string // the role-A node this waits on
	done          bool
	log           *logrus.Entry
}

func NewSwapBCorrection(id, reservationID string, node *hardware.Node, mm *resource.MemoryManager, memory, middleNode string) *SwapBCorrection {
	return &SwapBCorrection{id: id, reservationID: reservationID, node: node, mm: mm, memory: memory, middleNode: middleNode, log: logrus.WithField("component", "swap_b").WithField("protocol", id)}
}

func (s *SwapBCorrection) Name() string          { return s.id }
func (s *SwapBCorrection) ReservationID() string { return s.reservationID }
func (s *SwapBCorrection) OnPaired(*kernel.Timeline, string, string)             {}
func (s *SwapBCorrection) OnPairResponse(*kernel.Timeline, string, bool, string) {}

func (s *SwapBCorrection) OnMessage(tl *kernel.Timeline, src string, content any) {
	msg, ok := content.(SwapCorrectionMessage)
	if !ok || src != s.middleNode || s.done {
		return
	}
	comp, ok := s.node.GetComponentByName(s.memory)
	mem, ok2 := comp.(*hardware.Memory)
	if ok && ok2 {
		for _, gate := range correctionGates(msg.Correction) {
			_ = mem.ApplyCorrection(gate)
		}
	}
	s.mm.Update(tl, s.memory, func(mi *resource.MemoryInfo) {
		mi.State = resource.StateEntangled
		mi.RemoteNode = msg.OtherNode
		mi.RemoteMemo = msg.OtherMemo
		mi.Fidelity = msg.Fidelity
		mi.EntangleTime = tl.Now()
	})
	s.done = true
	s.log.Debug("swap correction applied")
}

func correctionGates(c string) []string {
	switch c {
	case "X":
		return []string{"X"}
	case "Z":
		return []string{"Z"}
	case "XZ":
		return []string{"X", "Z"}
	default:
		return nil
	}
}

func (s *SwapBCorrection) OwnsMemory(memoryName string) bool { return memoryName == s.memory }
func (s *SwapBCorrection) MemoryExpire(*kernel.Timeline, string) { s.done = true }
func (s *SwapBCorrection) Terminate(tl *kernel.Timeline) {
	if !s.done {
		s.mm.Update(tl, s.memory, func(mi *resource.MemoryInfo) { mi.Reset() })
	}
}

// NewESARule builds the role-A swap rule: its Condition looks for two
// ENTANGLED memories pointed at the two distinct remote ends.
func NewESARule(ruleID string, priority int, node *hardware.Node, mm *resource.MemoryManager, qsm *qstate.Manager, p SwapParams) *resource.Rule {
	nextID := 0
	return &resource.Rule{
		ID:            ruleID,
		Kind:          resource.KindESA,
		Priority:      priority,
		ReservationID: p.ReservationID,
		Condition: func(infos []*resource.MemoryInfo) []*resource.MemoryInfo {
			var a, b *resource.MemoryInfo
			for _, mi := range infos {
				if mi.MemoryName == p.MemoryToRemoteA && mi.State == resource.StateEntangled && mi.RemoteNode == p.RemoteA {
					a = mi
				}
				if mi.MemoryName == p.MemoryToRemoteB && mi.State == resource.StateEntangled && mi.RemoteNode == p.RemoteB {
					b = mi
				}
			}
			if a == nil || b == nil {
				return nil
			}
			return []*resource.MemoryInfo{a, b}
		},
		Action: func(tl *kernel.Timeline, candidates []*resource.MemoryInfo, args any) resource.ActionResult {
			nextID++
			sp := NewSwapProtocol(fmt.Sprintf("%s/esa/%d", p.ReservationID, nextID), node, mm, qsm, p)
			sp.Run(tl)
			return resource.ActionResult{Protocol: sp}
		},
	}
}

// NewESBRule installs a standing role-B protocol that waits for swap
// corrections from middleNode; it has no Condition-driven trigger
// beyond being installed once at reservation setup, so its Condition
// always declines (the protocol is created directly and registered).
func NewESBRule(ruleID string, priority int, node *hardware.Node, mm *resource.MemoryManager, reservationID, memory, middleNode string) (*resource.Rule, *SwapBCorrection) {
	sb := NewSwapBCorrection(fmt.Sprintf("%s/esb", reservationID), reservationID, node, mm, memory, middleNode)
	rule := &resource.Rule{
		ID:            ruleID,
		Kind:          resource.KindESB,
		Priority:      priority,
		ReservationID: reservationID,
		Condition:     func([]*resource.MemoryInfo) []*resource.MemoryInfo { return nil },
		Action:        func(*kernel.Timeline, []*resource.MemoryInfo, any) resource.ActionResult { return resource.ActionResult{} },
	}
	return rule, sb
}
