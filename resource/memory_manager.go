package resource

import (
	"github.com/iti/qns/kernel"
	"golang.org/x/exp/slices"
)

// MemoryManager is the memory half of a node's resource manager: a
// list of MemoryInfo, one per memory slot, that notifies an attached
// rule engine on every update (§4.8).
type MemoryManager struct {
	nodeName string
	infos    map[string]*MemoryInfo
	order    []string
	engine   *RuleEngine
}

// NewMemoryManager builds a MemoryManager owning one MemoryInfo per
// name in memoryNames, all initially RAW.
func NewMemoryManager(nodeName string, memoryNames []string) *MemoryManager {
	mm := &MemoryManager{
		nodeName: nodeName,
		infos:    make(map[string]*MemoryInfo, len(memoryNames)),
		order:    append([]string(nil), memoryNames...),
	}
	for _, name := range memoryNames {
		mm.infos[name] = &MemoryInfo{MemoryName: name, State: StateRaw}
	}
	return mm
}

// AttachEngine wires the rule engine that reacts to bookkeeping
// changes on this manager.
func (mm *MemoryManager) AttachEngine(e *RuleEngine) { mm.engine = e }

// SetCoherenceTime stamps every owned MemoryInfo with the physical
// coherence time its memory was built with, so DecayedFidelity has a
// decay constant to use (§3.5).
func (mm *MemoryManager) SetCoherenceTime(ct kernel.Time) {
	for _, mi := range mm.infos {
		mi.CoherenceTime = ct
	}
}

// Get returns the bookkeeping record for name.
func (mm *MemoryManager) Get(name string) (*MemoryInfo, bool) {
	mi, ok := mm.infos[name]
	return mi, ok
}

// All returns every MemoryInfo in stable slot order.
func (mm *MemoryManager) All() []*MemoryInfo {
	out := make([]*MemoryInfo, 0, len(mm.order))
	for _, name := range mm.order {
		out = append(out, mm.infos[name])
	}
	return out
}

// CountInState returns the number of memory slots in the given state.
// The reservation protocol does not use it: it counts committed slots
// in its own per-reservation table.
func (mm *MemoryManager) CountInState(s MemoryState) int {
	n := 0
	for _, mi := range mm.infos {
		if mi.State == s {
			n++
		}
	}
	return n
}

// FirstInState returns up to n memory names currently in state s, in
// stable order, used to claim slots for a new reservation.
func (mm *MemoryManager) FirstInState(s MemoryState, n int) []string {
	var out []string
	for _, name := range mm.order {
		if mm.infos[name].State == s {
			out = append(out, name)
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// Update applies mutate to the named memory's info and, if an engine
// is attached, re-runs the rule engine over the full bookkeeping
// snapshot (§4.8: "on every memory-info update ... the engine scans
// rules in priority order").
func (mm *MemoryManager) Update(tl *kernel.Timeline, name string, mutate func(*MemoryInfo)) {
	mi, ok := mm.infos[name]
	if !ok {
		return
	}
	mutate(mi)
	if mm.engine != nil {
		mm.engine.OnMemoryUpdate(tl, mm.All())
	}
}

// sortByName is a small helper used where deterministic iteration
// over a map is required (e.g. active-protocol termination order).
func sortByName(names []string) {
	slices.Sort(names)
}
