package resource

import (
	"sort"

	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
)

// RuleKind tags a Rule by which entanglement role it drives, matching
// the tagged-variant rule kinds referenced in §4.8/§9 (EGRule, EPRule,
// ESRuleA, ESRuleB).
type RuleKind string

const (
	KindEG  RuleKind = "EG"  // entanglement generation
	KindEP  RuleKind = "EP"  // entanglement purification (distillation)
	KindESA RuleKind = "ESA" // entanglement swapping, role A (performs the BSM)
	KindESB RuleKind = "ESB" // entanglement swapping, role B (applies the correction)
)

// Protocol is any entanglement-protocol instance a rule's action can
// produce. The engine only needs enough surface to route pairing
// traffic and tear protocols down; the protocol's actual physics live
// in the entanglement package.
type Protocol interface {
	Name() string
	ReservationID() string
	OnPaired(tl *kernel.Timeline, remoteNode, remoteProtocolName string)
	OnPairResponse(tl *kernel.Timeline, remoteNode string, accepted bool, remoteProtocolName string)
	OwnsMemory(memoryName string) bool
	MemoryExpire(tl *kernel.Timeline, memoryName string)
	Terminate(tl *kernel.Timeline)
}

// MessageHandlingProtocol is implemented by protocols that exchange
// further classical messages beyond the pairing handshake (BSM
// heralds, distillation measurement-bit exchange, swap corrections).
type MessageHandlingProtocol interface {
	Protocol
	OnMessage(tl *kernel.Timeline, src string, content any)
}

// MatcherFunc decides whether a remote rule engine's active protocol
// p satisfies a pairing request carrying args (§4.8).
type MatcherFunc func(p Protocol, args any) bool

// RemoteRequirement names a remote node a newly created protocol needs
// paired against, and the matcher the remote engine should apply to
// its own active protocols.
type RemoteRequirement struct {
	RemoteNode  string
	Matcher     MatcherFunc
	MatcherArgs any
}

// ActionResult is what a Rule's Action produces: a protocol instance
// (nil if the action declined to act) plus zero or more remote pairing
// requirements.
type ActionResult struct {
	Protocol     Protocol
	Requirements []RemoteRequirement
}

// Condition selects, from the full memory-info snapshot, the
// candidate infos (if any) this rule should act on.
type Condition func(infos []*MemoryInfo) []*MemoryInfo

// Action builds a protocol instance (and its pairing requirements)
// from the candidates a Condition selected.
type Action func(tl *kernel.Timeline, candidates []*MemoryInfo, args any) ActionResult

// Rule binds a Condition/Action pair under a priority and a
// reservation tag (§4.8).
type Rule struct {
	ID            string
	Kind          RuleKind
	Priority      int
	ReservationID string
	Condition     Condition
	Action        Action
	ActionArgs    any
}

// PairingMessage is sent to a remote node after a rule's action
// declares a RemoteRequirement (§4.8).
type PairingMessage struct {
	FromNode     string
	FromProtocol string
	Matcher      MatcherFunc
	MatcherArgs  any
}

// PairingResponse answers a PairingMessage.
type PairingResponse struct {
	ForProtocol    string // the requester's protocol name, so it knows which pairing this answers
	Accepted       bool
	RemoteProtocol string
}

// RuleEngine is the condition/action dispatcher living on each node's
// resource manager (§4.8).
type RuleEngine struct {
	node  *hardware.Node
	rules []*Rule

	activeProtocols map[string]Protocol
}

// NewRuleEngine constructs an engine bound to node for sending pairing
// traffic.
func NewRuleEngine(node *hardware.Node) *RuleEngine {
	return &RuleEngine{
		node:            node,
		activeProtocols: make(map[string]Protocol),
	}
}

// RegisterProtocol adds a standing protocol instance directly, for
// roles that do not arise from a Condition/Action firing (e.g. a
// swap role-B correction handler installed once at reservation
// setup and driven entirely by incoming messages).
func (re *RuleEngine) RegisterProtocol(p Protocol) {
	re.activeProtocols[p.Name()] = p
}

// InstallRule adds r, keeping rules sorted by ascending Priority
// (lower priority value scans first, mirroring the kernel's
// lower-is-sooner convention).
func (re *RuleEngine) InstallRule(r *Rule) {
	re.rules = append(re.rules, r)
	sort.SliceStable(re.rules, func(i, j int) bool { return re.rules[i].Priority < re.rules[j].Priority })
}

// RemoveRule removes the rule with the given id, if present.
func (re *RuleEngine) RemoveRule(id string) {
	out := re.rules[:0]
	for _, r := range re.rules {
		if r.ID != id {
			out = append(out, r)
		}
	}
	re.rules = out
}

// ExpireRulesByReservation removes every rule tagged with
// reservationID and terminates any protocol it owns (§4.8).
func (re *RuleEngine) ExpireRulesByReservation(tl *kernel.Timeline, reservationID string) {
	kept := re.rules[:0]
	for _, r := range re.rules {
		if r.ReservationID != reservationID {
			kept = append(kept, r)
		}
	}
	re.rules = kept

	var dead []string
	for name, p := range re.activeProtocols {
		if p.ReservationID() == reservationID {
			dead = append(dead, name)
		}
	}
	sortByName(dead)
	for _, name := range dead {
		re.activeProtocols[name].Terminate(tl)
		delete(re.activeProtocols, name)
	}
}

// OnMemoryUpdate scans rules in priority order; each whose Condition
// returns a non-empty candidate set has its Action invoked, and any
// resulting protocol's pairing requirements are sent out (§4.8).
func (re *RuleEngine) OnMemoryUpdate(tl *kernel.Timeline, infos []*MemoryInfo) {
	for _, r := range re.rules {
		candidates := r.Condition(infos)
		if len(candidates) == 0 {
			continue
		}
		result := r.Action(tl, candidates, r.ActionArgs)
		if result.Protocol == nil {
			continue
		}
		re.activeProtocols[result.Protocol.Name()] = result.Protocol
		for _, req := range result.Requirements {
			msg := hardware.Message{
				Content: PairingMessage{
					FromNode:     re.node.Name,
					FromProtocol: result.Protocol.Name(),
					Matcher:      req.Matcher,
					MatcherArgs:  req.MatcherArgs,
				},
				Priority: hardware.PriorityMessageArrival,
			}
			_ = re.node.SendMessage(tl, req.RemoteNode, msg)
		}
	}
}

// Dispatch routes an incoming classical message to the pairing
// handshake or, failing that, to whichever active protocol implements
// MessageHandlingProtocol (§4.8, §4.5-§4.7).
func (re *RuleEngine) Dispatch(tl *kernel.Timeline, src string, msg hardware.Message) {
	switch c := msg.Content.(type) {
	case PairingMessage:
		re.onPairingMessage(tl, src, c)
	case PairingResponse:
		re.onPairingResponse(tl, src, c)
	default:
		names := make([]string, 0, len(re.activeProtocols))
		for name := range re.activeProtocols {
			names = append(names, name)
		}
		sortByName(names)
		for _, name := range names {
			if mp, ok := re.activeProtocols[name].(MessageHandlingProtocol); ok {
				mp.OnMessage(tl, src, msg.Content)
			}
		}
	}
}

func (re *RuleEngine) onPairingMessage(tl *kernel.Timeline, src string, msg PairingMessage) {
	names := make([]string, 0, len(re.activeProtocols))
	for name := range re.activeProtocols {
		names = append(names, name)
	}
	sortByName(names)
	for _, name := range names {
		p := re.activeProtocols[name]
		if msg.Matcher(p, msg.MatcherArgs) {
			p.OnPaired(tl, src, msg.FromProtocol)
			_ = re.node.SendMessage(tl, src, hardware.Message{
				Content:  PairingResponse{ForProtocol: msg.FromProtocol, Accepted: true, RemoteProtocol: p.Name()},
				Priority: hardware.PriorityMessageArrival,
			})
			return
		}
	}
	_ = re.node.SendMessage(tl, src, hardware.Message{
		Content:  PairingResponse{ForProtocol: msg.FromProtocol, Accepted: false},
		Priority: hardware.PriorityMessageArrival,
	})
}

func (re *RuleEngine) onPairingResponse(tl *kernel.Timeline, src string, msg PairingResponse) {
	p, ok := re.activeProtocols[msg.ForProtocol]
	if !ok {
		return
	}
	p.OnPairResponse(tl, src, msg.Accepted, msg.RemoteProtocol)
}

// ActiveProtocol returns a currently active protocol by name, used by
// tests and by network-layer rule installation helpers.
func (re *RuleEngine) ActiveProtocol(name string) (Protocol, bool) {
	p, ok := re.activeProtocols[name]
	return p, ok
}

// OnMemoryExpire notifies, and then drops, any active protocol that
// owns memoryName (the memory-coherence-expiry error kind of §7:
// "converts ENTANGLED -> RAW, notifies the resource manager, which
// cancels dependent rules").
func (re *RuleEngine) OnMemoryExpire(tl *kernel.Timeline, memoryName string) {
	var dead []string
	for name, p := range re.activeProtocols {
		if p.OwnsMemory(memoryName) {
			dead = append(dead, name)
		}
	}
	sortByName(dead)
	for _, name := range dead {
		p := re.activeProtocols[name]
		p.MemoryExpire(tl, memoryName)
		p.Terminate(tl)
		delete(re.activeProtocols, name)
	}
}
