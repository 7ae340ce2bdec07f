package qstate

import "fmt"

// cachedApplyGate wraps ops.applyGate with the gate-kind LRU keyed by
// (state, qubit-index list). On a hit the cached output state is
// reused without recomputation (§4.2).
func (m *Manager) cachedApplyGate(s stateValue, gate Gate, qubits []int) stateValue {
	key := fmt.Sprintf("%s|%v|%s", gate.Name, qubits, m.ops.cacheKey(s))
	if v, ok := m.gateCache.Get(key); ok {
		return v.(stateValue)
	}
	m.gateCache.Reserve(key)
	out := m.ops.applyGate(s, gate, qubits)
	m.gateCache.Put(key, out)
	return out
}

// cachedMeasure wraps ops.measureBranches with the measurement LRU,
// keyed on (qubits, state) alone so a structurally identical state
// (e.g. retried generation rounds) reuses the same cached branch table
// across every sample drawn against it (§4.2, §5). Picking which branch
// sample lands in happens outside the cache on every call, so a cache
// hit never returns a result computed for a different sample.
func (m *Manager) cachedMeasure(s stateValue, qubits []int, sample float64) ([]int, stateValue, []int) {
	key := fmt.Sprintf("%v|%s", qubits, m.ops.cacheKey(s))
	var branches []measureBranch
	if v, ok := m.measureCache.Get(key); ok {
		branches = v.([]measureBranch)
	} else {
		m.measureCache.Reserve(key)
		branches = m.ops.measureBranches(s, qubits)
		m.measureCache.Put(key, branches)
	}
	b := pickBranch(branches, sample)
	return b.bits, b.remainder, b.remainingLocal
}
