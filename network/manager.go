package network

import (
	"fmt"

	"github.com/iti/qns/entanglement"
	"github.com/iti/qns/hardware"
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/qstate"
	"github.com/iti/qns/resource"
	"github.com/sirupsen/logrus"
)

// LinkMiddle names, for each neighboring router on this node's quantum
// links, the BSM node physically between the two (§4.5: "Topology: r1
// — m — r2"; m never appears as a network_manager routing hop, only as
// the apparatus a pair of routers emits toward).
type LinkMiddle map[string]string

// EntanglementParams bundles the physical parameters the network
// manager needs to install generation/distillation/swap rules on a
// reservation's hops, since the reservation protocol itself carries
// only path and memory-count/fidelity targets (§4.9 derives these from
// each hop's position: end, intermediate-one-hop, intermediate-multi-hop).
type EntanglementParams struct {
	RawFidelity        float64
	SwapSuccessProb    float64
	SwapDegradation    float64
	GenerationRetries  int
}

// NetworkManager is the control+data plane installed on one node
// (§4.9). The reservation protocol lives here; routing writes
// Forwarding, forwarding reads it (kept as a plain map per the spec's
// "separate data-plane table" instruction, even though this
// implementation resolves reservations directly against Path rather
// than re-deriving next hops from Forwarding on every message).
type NetworkManager struct {
	node   *hardware.Node
	mm     *resource.MemoryManager
	engine *resource.RuleEngine
	qsm    *qstate.Manager
	router Router
	middle LinkMiddle
	params EntanglementParams

	Forwarding map[string]string

	reservations  map[string]*Reservation
	reservedSlots map[string]int
	totalMemories int

	OnReserveRes func(reservationID string, accepted bool)
	OnMemory     func(info *resource.MemoryInfo)

	log *logrus.Entry
}

// NewNetworkManager constructs a manager bound to node.
func NewNetworkManager(node *hardware.Node, mm *resource.MemoryManager, engine *resource.RuleEngine, qsm *qstate.Manager, router Router, middle LinkMiddle, totalMemories int, p EntanglementParams) *NetworkManager {
	return &NetworkManager{
		node:          node,
		mm:            mm,
		engine:        engine,
		qsm:           qsm,
		router:        router,
		middle:        middle,
		params:        p,
		Forwarding:    make(map[string]string),
		reservations:  make(map[string]*Reservation),
		reservedSlots: make(map[string]int),
		totalMemories: totalMemories,
		log:           logrus.WithField("component", "network_manager").WithField("node", node.Name),
	}
}

// RecomputeForwarding runs the routing protocol for every known
// destination, writing the data-plane table (§4.9 routing/forwarding
// split). Each destination's entry is the second node of the router's
// path to it; destinations with no path are left unset. Topology build
// calls it once; a distributed router would call it again on
// link-state change.
func (nm *NetworkManager) RecomputeForwarding(destinations []string) {
	for _, dst := range destinations {
		if dst == nm.node.Name {
			continue
		}
		p, err := nm.router.Path(nm.node.Name, dst)
		if err != nil || len(p) < 2 {
			continue
		}
		nm.Forwarding[dst] = p[1]
	}
}

// Request implements network_manager.request (§6.2): computes the
// path to responder and begins the hop-by-hop reservation.
func (nm *NetworkManager) Request(tl *kernel.Timeline, responder string, start, end kernel.Time, memorySize int, targetFidelity float64) error {
	p, err := nm.router.Path(nm.node.Name, responder)
	if err != nil {
		if nm.OnReserveRes != nil {
			nm.OnReserveRes("", false)
		}
		return err
	}
	id := fmt.Sprintf("%s->%s@%d", nm.node.Name, responder, int64(tl.Now()))
	res := &Reservation{
		ID: id, Initiator: nm.node.Name, Responder: responder,
		Start: start, End: end, MemorySize: memorySize, TargetFidelity: targetFidelity,
		Path: p, HopIndex: 0,
	}
	nm.reservations[id] = res
	nm.tryReserveLocally(tl, res)
	return nil
}

// HandleMessage dispatches an incoming classical message that carries
// reservation-protocol content. Non-reservation content should be
// routed to the resource-manager's RuleEngine.Dispatch instead; the
// node-level message handler that wires both together lives in the
// topology package, which owns the combined node.
func (nm *NetworkManager) HandleMessage(tl *kernel.Timeline, src string, content any) {
	switch c := content.(type) {
	case ReservationRequest:
		res := &Reservation{
			ID: c.ID, Initiator: c.Initiator, Responder: c.Responder,
			Start: c.Start, End: c.End, MemorySize: c.MemorySize, TargetFidelity: c.TargetFidelity,
			Path: c.Path, HopIndex: c.HopIndex,
		}
		nm.reservations[res.ID] = res
		nm.tryReserveLocally(tl, res)
	case ReservationApprove:
		nm.onApprove(tl, c.ID)
	case ReservationReject:
		nm.onReject(tl, c.ID)
	}
}

func (nm *NetworkManager) capacityAvailable() int {
	used := 0
	for _, c := range nm.reservedSlots {
		used += c
	}
	return nm.totalMemories - used
}

func (nm *NetworkManager) tryReserveLocally(tl *kernel.Timeline, res *Reservation) {
	if nm.capacityAvailable() < res.MemorySize {
		nm.sendReject(tl, res)
		return
	}
	nm.reservedSlots[res.ID] = res.MemorySize
	nm.installRulesForHop(res)
	// Scan once on installation so the new rules can act on memories
	// that already satisfy their conditions.
	nm.engine.OnMemoryUpdate(tl, nm.mm.All())

	if res.HopIndex == len(res.Path)-1 {
		nm.sendApprove(tl, res)
		return
	}
	nextHop := res.Path[res.HopIndex+1]
	req := ReservationRequest{
		ID: res.ID, Initiator: res.Initiator, Responder: res.Responder,
		Start: res.Start, End: res.End, MemorySize: res.MemorySize, TargetFidelity: res.TargetFidelity,
		Path: res.Path, HopIndex: res.HopIndex + 1,
	}
	_ = nm.node.SendMessage(tl, nextHop, hardware.Message{Content: req, Priority: hardware.PriorityMessageArrival})
}

func (nm *NetworkManager) sendApprove(tl *kernel.Timeline, res *Reservation) {
	if res.HopIndex == 0 {
		if nm.OnReserveRes != nil {
			nm.OnReserveRes(res.ID, true)
		}
		return
	}
	prevHop := res.Path[res.HopIndex-1]
	_ = nm.node.SendMessage(tl, prevHop, hardware.Message{Content: ReservationApprove{ID: res.ID}, Priority: hardware.PriorityMessageArrival})
}

func (nm *NetworkManager) onApprove(tl *kernel.Timeline, id string) {
	res, ok := nm.reservations[id]
	if !ok {
		return
	}
	if res.HopIndex == 0 {
		if nm.OnReserveRes != nil {
			nm.OnReserveRes(id, true)
		}
		return
	}
	prevHop := res.Path[res.HopIndex-1]
	_ = nm.node.SendMessage(tl, prevHop, hardware.Message{Content: ReservationApprove{ID: id}, Priority: hardware.PriorityMessageArrival})
}

func (nm *NetworkManager) sendReject(tl *kernel.Timeline, res *Reservation) {
	if res.HopIndex == 0 {
		if nm.OnReserveRes != nil {
			nm.OnReserveRes(res.ID, false)
		}
		return
	}
	prevHop := res.Path[res.HopIndex-1]
	_ = nm.node.SendMessage(tl, prevHop, hardware.Message{Content: ReservationReject{ID: res.ID}, Priority: hardware.PriorityMessageArrival})
}

func (nm *NetworkManager) onReject(tl *kernel.Timeline, id string) {
	res, ok := nm.reservations[id]
	if !ok {
		return
	}
	delete(nm.reservedSlots, id)
	nm.engine.ExpireRulesByReservation(tl, id)
	delete(nm.reservations, id)

	if res.HopIndex == 0 {
		if nm.OnReserveRes != nil {
			nm.OnReserveRes(id, false)
		}
		return
	}
	prevHop := res.Path[res.HopIndex-1]
	_ = nm.node.SendMessage(tl, prevHop, hardware.Message{Content: ReservationReject{ID: id}, Priority: hardware.PriorityMessageArrival})
}

// installRulesForHop installs the generation/distillation/swapping
// rules this hop needs, derived from its position in res.Path (§4.9).
func (nm *NetworkManager) installRulesForHop(res *Reservation) {
	idx := res.HopIndex
	n := len(res.Path)
	switch {
	case n == 1:
		// initiator == responder: nothing to entangle.
	case idx == 0:
		nm.installEndRules(res, res.Path[1], n > 2)
	case idx == n-1:
		nm.installEndRules(res, res.Path[idx-1], n > 2)
	default:
		nm.installIntermediateRules(res, res.Path[idx-1], res.Path[idx+1])
	}
}

func (nm *NetworkManager) installEndRules(res *Reservation, neighbor string, hasSwap bool) {
	memories := nm.mm.FirstInState(resource.StateRaw, res.MemorySize)
	middle, ok := nm.middle[neighbor]
	if !ok {
		return
	}
	for i, mem := range memories {
		ruleID := fmt.Sprintf("%s/eg/%d", res.ID, i)
		rule := entanglement.NewEGRule(ruleID, 10, nm.node, nm.mm, nm.engine, entanglement.GenerationParams{
			ReservationID:   res.ID,
			LocalMemory:     mem,
			MiddleNode:      middle,
			RemoteNode:      neighbor,
			RawFidelity:     nm.params.RawFidelity,
			MaxRoundRetries: nm.params.GenerationRetries,
		})
		nm.engine.InstallRule(rule)

		if hasSwap {
			esbRuleID := fmt.Sprintf("%s/esb/%d", res.ID, i)
			esbRule, sb := entanglement.NewESBRule(esbRuleID, 20, nm.node, nm.mm, res.ID, mem, neighbor)
			nm.engine.InstallRule(esbRule)
			nm.engine.RegisterProtocol(sb)
		}
	}
}

func (nm *NetworkManager) installIntermediateRules(res *Reservation, left, right string) {
	leftMemories := nm.mm.FirstInState(resource.StateRaw, res.MemorySize)
	rightMemories := nm.mm.FirstInState(resource.StateRaw, 2*res.MemorySize)
	if len(rightMemories) < 2*res.MemorySize {
		return
	}
	rightMemories = rightMemories[res.MemorySize:]

	leftMiddle, lok := nm.middle[left]
	rightMiddle, rok := nm.middle[right]
	if !lok || !rok {
		return
	}

	for i := 0; i < res.MemorySize; i++ {
		leftID := fmt.Sprintf("%s/eg-left/%d", res.ID, i)
		nm.engine.InstallRule(entanglement.NewEGRule(leftID, 10, nm.node, nm.mm, nm.engine, entanglement.GenerationParams{
			ReservationID: res.ID, LocalMemory: leftMemories[i], MiddleNode: leftMiddle, RemoteNode: left,
			RawFidelity: nm.params.RawFidelity, MaxRoundRetries: nm.params.GenerationRetries,
		}))
		rightID := fmt.Sprintf("%s/eg-right/%d", res.ID, i)
		nm.engine.InstallRule(entanglement.NewEGRule(rightID, 10, nm.node, nm.mm, nm.engine, entanglement.GenerationParams{
			ReservationID: res.ID, LocalMemory: rightMemories[i], MiddleNode: rightMiddle, RemoteNode: right,
			RawFidelity: nm.params.RawFidelity, MaxRoundRetries: nm.params.GenerationRetries,
		}))
		swapID := fmt.Sprintf("%s/esa/%d", res.ID, i)
		nm.engine.InstallRule(entanglement.NewESARule(swapID, 20, nm.node, nm.mm, nm.qsm, entanglement.SwapParams{
			ReservationID: res.ID, MemoryToRemoteA: leftMemories[i], MemoryToRemoteB: rightMemories[i],
			RemoteA: left, RemoteB: right, SuccessProbability: nm.params.SwapSuccessProb, Degradation: nm.params.SwapDegradation,
		}))
	}
}
