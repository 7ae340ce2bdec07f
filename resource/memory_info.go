// Package resource implements the per-node resource manager (§4.8):
// memory bookkeeping plus a condition/action rule engine that reacts
// to bookkeeping changes by instantiating entanglement protocols.
package resource

import (
	"math"

	"github.com/iti/qns/kernel"
)

// MemoryState is the logical state machine a memory slot moves
// through under resource-manager control, distinct from the physical
// hardware.MemoryPhysState (§3.5, §4.8).
type MemoryState int

const (
	StateRaw MemoryState = iota
	StateOccupied
	StateEntangled
	StatePurified
)

func (s MemoryState) String() string {
	switch s {
	case StateRaw:
		return "RAW"
	case StateOccupied:
		return "OCCUPIED"
	case StateEntangled:
		return "ENTANGLED"
	case StatePurified:
		return "PURIFIED"
	default:
		return "UNKNOWN"
	}
}

// MemoryInfo is the resource manager's bookkeeping record for one
// memory slot (§4.8). RAW -> OCCUPIED on protocol claim, OCCUPIED ->
// ENTANGLED on success, ENTANGLED -> PURIFIED on successful
// distillation, and any state -> RAW on failure, release, or expiry.
type MemoryInfo struct {
	MemoryName    string
	State         MemoryState
	RemoteNode    string
	RemoteMemo    string
	Fidelity      float64
	ReservationID string

	// CoherenceTime is the owning memory's physical coherence time,
	// stamped by MemoryManager.SetCoherenceTime, which topology build
	// calls once right after constructing the manager; zero means decay
	// is disabled. EntangleTime is
	// the timeline instant entanglement most recently succeeded, used
	// together with CoherenceTime by DecayedFidelity (§3.5, §3.8).
	CoherenceTime kernel.Time
	EntangleTime  kernel.Time
}

// Reset returns the info to RAW, clearing entanglement bookkeeping
// (failure, release, and expiry all funnel through this).
func (mi *MemoryInfo) Reset() {
	mi.State = StateRaw
	mi.RemoteNode = ""
	mi.RemoteMemo = ""
	mi.Fidelity = 0
	mi.ReservationID = ""
	mi.EntangleTime = 0
}

// DecayedFidelity returns the fidelity this slot's entanglement would
// have at now, decaying exponentially from Fidelity toward the
// fully-mixed floor of 0.25 as elapsed time since EntangleTime grows
// relative to CoherenceTime (§3.5: "a memory's fidelity decays with
// elapsed time since entanglement according to its coherence time").
// Slots that are not entangled, or have no configured coherence time,
// report the stored Fidelity unchanged.
func (mi *MemoryInfo) DecayedFidelity(now kernel.Time) float64 {
	if mi.State != StateEntangled && mi.State != StatePurified {
		return mi.Fidelity
	}
	elapsed := float64(now - mi.EntangleTime)
	if elapsed <= 0 || mi.CoherenceTime <= 0 {
		return mi.Fidelity
	}
	const floor = 0.25
	decay := math.Exp(-elapsed / float64(mi.CoherenceTime))
	return floor + (mi.Fidelity-floor)*decay
}
