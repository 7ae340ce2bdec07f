// Package entanglement implements the three protocols that drive
// memories from RAW to ENTANGLED and back: heralded generation,
// BBPSSW distillation, and swapping (§4.5-§4.7). Each protocol
// implements resource.Protocol so the rule engine can pair, message,
// and tear them down uniformly; the rule-builder constructors in this
// package (NewEGRule, NewEPRule, NewESARule, NewESBRule) are what the
// network manager installs on each hop after a reservation succeeds
// (§4.9).
package entanglement

import (
	"fmt"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/resource"
	"github.com/sirupsen/logrus"
)

// GenerationState is the end-node state machine of §4.5.
type GenerationState int

const (
	StateNegotiating GenerationState = iota
	StateEmit1
	StateWait1
	StateEmit2
	StateWait2
	StateSuccess
	StateFail
)

// GenerationParams groups the per-request configuration a generation
// protocol instance needs.
type GenerationParams struct {
	ReservationID   string
	LocalMemory     string
	MiddleNode      string // the BSM node between the two end-nodes
	RemoteNode      string
	RawFidelity     float64
	MaxPairRetries  int
	MaxRoundRetries int
	RetryDelay      kernel.Time
}

// GenerationProtocol is the end-node half of heralded generation
// (§4.5). The same type runs on both end-nodes; which one applies the
// phase correction on a mismatched-sign success is decided by
// alphabetically comparing node names, so exactly one side corrects.
type GenerationProtocol struct {
	id     string
	params GenerationParams

	node   *hardware.Node
	mm     *resource.MemoryManager
	engine *resource.RuleEngine

	remoteProtocol string
	state          GenerationState
	heralds        []hardware.BSMHerald
	pairRetries    int
	roundRetries   int

	log *logrus.Entry
}

// NewGenerationProtocol constructs a protocol instance in
// StateNegotiating; NewEGRule's Action calls sendPairingRequest
// immediately after construction.
func NewGenerationProtocol(id string, node *hardware.Node, mm *resource.MemoryManager, engine *resource.RuleEngine, p GenerationParams) *GenerationProtocol {
	if p.MaxPairRetries == 0 {
		p.MaxPairRetries = 5
	}
	if p.MaxRoundRetries == 0 {
		p.MaxRoundRetries = 3
	}
	if p.RetryDelay == 0 {
		p.RetryDelay = kernel.Time(1e6) // 1 microsecond in ps-scale units, a reasonable classical RTT default
	}
	return &GenerationProtocol{
		id:     id,
		params: p,
		node:   node,
		mm:     mm,
		engine: engine,
		state:  StateNegotiating,
		log:    logrus.WithField("component", "generation").WithField("protocol", id),
	}
}

// Name, ReservationID satisfy resource.Protocol.
func (g *GenerationProtocol) Name() string          { return g.id }
func (g *GenerationProtocol) ReservationID() string { return g.params.ReservationID }

// PairingRequirement builds the resource.RemoteRequirement the
// installing rule's Action should return alongside this protocol.
func (g *GenerationProtocol) PairingRequirement() resource.RemoteRequirement {
	return resource.RemoteRequirement{
		RemoteNode:  g.params.RemoteNode,
		Matcher:     matchGeneration,
		MatcherArgs: g.node.Name,
	}
}

func matchGeneration(p resource.Protocol, args any) bool {
	gp, ok := p.(*GenerationProtocol)
	if !ok {
		return false
	}
	wantsUs, _ := args.(string)
	return gp.state == StateNegotiating && gp.params.RemoteNode == wantsUs
}

// OnPaired is called when a remote pairing request matches us while we
// are still negotiating: we adopt the remote's protocol name and begin
// the first emission round, mirroring OnPairResponse's success path.
func (g *GenerationProtocol) OnPaired(tl *kernel.Timeline, remoteNode, remoteProtocolName string) {
	if g.state != StateNegotiating {
		return
	}
	g.remoteProtocol = remoteProtocolName
	g.state = StateEmit1
	g.beginRound(tl)
}

// OnPairResponse handles the answer to our own pairing request.
func (g *GenerationProtocol) OnPairResponse(tl *kernel.Timeline, remoteNode string, accepted bool, remoteProtocolName string) {
	if g.state != StateNegotiating {
		return
	}
	if accepted {
		g.remoteProtocol = remoteProtocolName
		g.state = StateEmit1
		g.beginRound(tl)
		return
	}
	g.pairRetries++
	if g.pairRetries >= g.params.MaxPairRetries {
		g.fail(tl)
		return
	}
	g.schedule(tl, g.sendPairingRequest)
}

// sendPairingRequest transmits a pairing message toward RemoteNode.
// NewEGRule's Action uses it for the first attempt and OnPairResponse
// schedules it for each retry.
func (g *GenerationProtocol) sendPairingRequest(tl *kernel.Timeline) {
	req := g.PairingRequirement()
	_ = g.node.SendMessage(tl, req.RemoteNode, hardware.Message{
		Content: resource.PairingMessage{
			FromNode:     g.node.Name,
			FromProtocol: g.id,
			Matcher:      req.Matcher,
			MatcherArgs:  req.MatcherArgs,
		},
		Priority: hardware.PriorityMessageArrival,
	})
}

func (g *GenerationProtocol) beginRound(tl *kernel.Timeline) {
	mi, ok := g.mm.Get(g.params.LocalMemory)
	if !ok {
		g.fail(tl)
		return
	}
	mi.State = resource.StateOccupied
	comp, ok := g.node.GetComponentByName(g.params.LocalMemory)
	if !ok {
		g.fail(tl)
		return
	}
	mem, ok := comp.(*hardware.Memory)
	if !ok {
		g.fail(tl)
		return
	}
	if mem.PhysState == hardware.PhysGround {
		mem.UpdateState([]complex128{1, 0})
	}
	photon := mem.Excite(g.params.MiddleNode)
	if err := g.node.SendQubit(tl, g.params.MiddleNode, photon); err != nil {
		g.fail(tl)
		return
	}
	switch g.state {
	case StateEmit1:
		g.state = StateWait1
	case StateEmit2:
		g.state = StateWait2
	}
}

// OnMessage implements resource.MessageHandlingProtocol, consuming the
// BSM apparatus's herald reports (§4.5).
func (g *GenerationProtocol) OnMessage(tl *kernel.Timeline, src string, content any) {
	herald, ok := content.(hardware.BSMHeraldMessage)
	if !ok || src != g.params.MiddleNode {
		return
	}
	switch g.state {
	case StateWait1:
		g.heralds = append(g.heralds, herald.Herald)
		if herald.Herald == hardware.HeraldNone {
			g.retryOrFail(tl)
			return
		}
		g.state = StateEmit2
		g.beginRound(tl)
	case StateWait2:
		g.heralds = append(g.heralds, herald.Herald)
		if herald.Herald == hardware.HeraldNone {
			g.retryOrFail(tl)
			return
		}
		g.succeed(tl)
	}
}

func (g *GenerationProtocol) retryOrFail(tl *kernel.Timeline) {
	g.roundRetries++
	if g.roundRetries >= g.params.MaxRoundRetries {
		g.fail(tl)
		return
	}
	g.heralds = nil
	g.state = StateEmit1
	g.schedule(tl, g.beginRound)
}

func (g *GenerationProtocol) succeed(tl *kernel.Timeline) {
	phaseFlip := g.heralds[0] != g.heralds[1]
	g.state = StateSuccess
	if phaseFlip && g.node.Name > g.params.RemoteNode {
		// Exactly one side applies the Z correction for a mismatched
		// pair of herald signs, chosen alphabetically so both sides
		// agree without a further message exchange.
		if comp, ok := g.node.GetComponentByName(g.params.LocalMemory); ok {
			if mem, ok := comp.(*hardware.Memory); ok {
				_ = mem.ApplyCorrection("Z")
			}
		}
	}
	g.mm.Update(tl, g.params.LocalMemory, func(mi *resource.MemoryInfo) {
		mi.State = resource.StateEntangled
		mi.RemoteNode = g.params.RemoteNode
		mi.RemoteMemo = g.remoteMemoryGuess()
		mi.Fidelity = g.params.RawFidelity
		mi.EntangleTime = tl.Now()
	})
	g.log.WithFields(logrus.Fields{"phase_flip": phaseFlip}).Debug("generation succeeded")
}

// remoteMemoryGuess names the counterpart memory by convention: the
// entanglement protocols never learn the remote memory's name over
// the wire in this design (pairing exchanges protocol identity, not
// memory identity), so the remote memory is addressed by the shared
// reservation's per-slot naming convention instead.
func (g *GenerationProtocol) remoteMemoryGuess() string {
	return fmt.Sprintf("%s:%s", g.params.ReservationID, g.params.LocalMemory)
}

func (g *GenerationProtocol) fail(tl *kernel.Timeline) {
	g.state = StateFail
	g.mm.Update(tl, g.params.LocalMemory, func(mi *resource.MemoryInfo) { mi.Reset() })
	g.log.Debug("generation failed")
}

func (g *GenerationProtocol) schedule(tl *kernel.Timeline, fn func(tl *kernel.Timeline)) {
	_, _ = tl.Schedule(tl.Now()+g.params.RetryDelay, hardware.PriorityMessageArrival, kernel.Process{
		Owner:     kernel.HandlerFunc(func(tl *kernel.Timeline, operation string, args any) any { fn(tl); return nil }),
		Operation: "generation_retry",
	})
}

// OwnsMemory, MemoryExpire, Terminate satisfy resource.Protocol.
func (g *GenerationProtocol) OwnsMemory(memoryName string) bool { return memoryName == g.params.LocalMemory }

func (g *GenerationProtocol) MemoryExpire(tl *kernel.Timeline, memoryName string) {
	g.state = StateFail
}

func (g *GenerationProtocol) Terminate(tl *kernel.Timeline) {
	if g.state != StateSuccess {
		g.mm.Update(tl, g.params.LocalMemory, func(mi *resource.MemoryInfo) { mi.Reset() })
	}
}

// NewEGRule builds the generation rule a node installs for a
// reservation: its Condition looks for a RAW memory, and its Action
// constructs a GenerationProtocol and kicks off its pairing request.
func NewEGRule(ruleID string, priority int, node *hardware.Node, mm *resource.MemoryManager, engine *resource.RuleEngine, p GenerationParams) *resource.Rule {
	nextID := 0
	return &resource.Rule{
		ID:            ruleID,
		Kind:          resource.KindEG,
		Priority:      priority,
		ReservationID: p.ReservationID,
		Condition: func(infos []*resource.MemoryInfo) []*resource.MemoryInfo {
			var out []*resource.MemoryInfo
			for _, mi := range infos {
				if mi.MemoryName == p.LocalMemory && mi.State == resource.StateRaw {
					out = append(out, mi)
				}
			}
			return out
		},
		Action: func(tl *kernel.Timeline, candidates []*resource.MemoryInfo, args any) resource.ActionResult {
			nextID++
			gp := NewGenerationProtocol(fmt.Sprintf("%s/eg/%d", p.ReservationID, nextID), node, mm, engine, p)
			gp.sendPairingRequest(tl)
			return resource.ActionResult{Protocol: gp}
		},
	}
}
