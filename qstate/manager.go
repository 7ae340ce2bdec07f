package qstate

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknownState and ErrUnknownGate are the manager's two failure
// kinds: an unregistered key and a gate outside the gate table.
var ErrUnknownState = errors.New("qstate: unknown-state")
var ErrUnknownGate = errors.New("qstate: unknown-gate")

// Key is the manager-assigned identifier for a qubit slot (§3.6).
type Key int64

// stateRecord is a joint state and the ordered list of keys that
// co-own it; record.keys[i] occupies local qubit position i.
type stateRecord struct {
	keys  []Key
	value stateValue
}

// StateView is returned by Get: the current amplitude view of a key's
// joint state and the full list of keys co-owning it.
type StateView struct {
	Amplitudes []complex128
	Keys       []Key
}

// Manager is the process-wide quantum state store (§4.2). Its formalism
// is selected once at construction and immutable thereafter.
type Manager struct {
	variant string
	ops     *formalismOps

	nextKey     Key
	keyToRecord map[Key]*stateRecord

	gateCache    *lru
	measureCache *lru
}

// NewManager selects one of the registered formalism variants and
// freezes the choice; cacheSize bounds both the gate-application and
// measurement LRU caches (§4.2: "cache size is fixed at startup").
func NewManager(variant string, cacheSize int) (*Manager, error) {
	ops, ok := registry[variant]
	if !ok {
		return nil, fmt.Errorf("qstate: unregistered formalism variant %q", variant)
	}
	return &Manager{
		variant:      variant,
		ops:          ops,
		keyToRecord:  make(map[Key]*stateRecord),
		gateCache:    newLRU(cacheSize),
		measureCache: newLRU(cacheSize),
	}, nil
}

// Variant reports the frozen formalism name.
func (m *Manager) Variant() string { return m.variant }

// New allocates a fresh key bound to a new state built from
// initial_amplitudes.
func (m *Manager) New(initialAmplitudes []complex128) Key {
	m.nextKey++
	k := m.nextKey
	val := m.ops.newFromAmplitudes(initialAmplitudes)
	m.keyToRecord[k] = &stateRecord{keys: []Key{k}, value: val}
	return k
}

// Set replaces the state shared by keys with one built from amplitudes.
// Every key that previously co-owned any of the states being replaced
// is unbound, including ones not present in the keys argument.
func (m *Manager) Set(keys []Key, amplitudes []complex128) {
	touched := make(map[*stateRecord]bool)
	for _, k := range keys {
		if rec, ok := m.keyToRecord[k]; ok {
			touched[rec] = true
		}
	}
	for rec := range touched {
		for _, k := range rec.keys {
			delete(m.keyToRecord, k)
		}
	}
	val := m.ops.newFromAmplitudes(amplitudes)
	rec := &stateRecord{keys: append([]Key(nil), keys...), value: val}
	for _, k := range keys {
		m.keyToRecord[k] = rec
	}
}

// Get returns the current amplitude view of key's joint state and the
// full list of keys co-owning it.
func (m *Manager) Get(key Key) (StateView, error) {
	rec, ok := m.keyToRecord[key]
	if !ok {
		return StateView{}, ErrUnknownState
	}
	return StateView{Amplitudes: m.ops.amplitudes(rec.value), Keys: append([]Key(nil), rec.keys...)}, nil
}

// DensityMatrixSnapshot returns key's joint state as a gonum
// mat.CDense, for formalisms that track a full density matrix (§6.4:
// this is what the persistence layer snapshots into a .qu file).
// ErrUnknownState is returned for an unbound key; a plain error is
// returned if the manager's formalism has no density representation.
func (m *Manager) DensityMatrixSnapshot(key Key) (*mat.CDense, error) {
	rec, ok := m.keyToRecord[key]
	if !ok {
		return nil, ErrUnknownState
	}
	d, ok := rec.value.(*densityRepr)
	if !ok {
		return nil, fmt.Errorf("qstate: formalism %q has no density-matrix representation", m.variant)
	}
	return d.Dense(), nil
}

// Remove unbinds key. If its state has other keys they remain bound;
// otherwise the state is dropped.
func (m *Manager) Remove(key Key) {
	rec, ok := m.keyToRecord[key]
	if !ok {
		return
	}
	delete(m.keyToRecord, key)
	rem := make([]Key, 0, len(rec.keys)-1)
	for _, k := range rec.keys {
		if k != key {
			rem = append(rem, k)
		}
	}
	rec.keys = rem
}

// RunCircuit prepares a joint state over keys (composing underlying
// states and permuting so keys[i] sits at local position i), applies
// circuit.Ops in order, then measures circuit.Measure using meas_sample,
// returning classical outcomes per measured key (§4.2).
func (m *Manager) RunCircuit(circuit *Circuit, keys []Key, measSample float64) (map[Key]int, error) {
	for _, k := range keys {
		if _, ok := m.keyToRecord[k]; !ok {
			return nil, ErrUnknownState
		}
	}
	for _, op := range circuit.Ops {
		if _, ok := LookupGate(op.Gate); !ok {
			return nil, ErrUnknownGate
		}
	}

	// gather distinct records in order of first appearance among keys
	var records []*stateRecord
	seen := make(map[*stateRecord]bool)
	for _, k := range keys {
		rec := m.keyToRecord[k]
		if !seen[rec] {
			seen[rec] = true
			records = append(records, rec)
		}
	}

	// compose all distinct records into one joint state, tracking the
	// flattened label ordering as we go
	joint := records[0].value
	labels := append([]Key(nil), records[0].keys...)
	for _, rec := range records[1:] {
		joint = m.ops.compose(joint, rec.value)
		labels = append(labels, rec.keys...)
	}

	// build the permutation putting keys[i] at position i, extras after
	perm := make([]int, len(labels))
	used := make([]bool, len(labels))
	labelIndex := func(k Key) int {
		for i, l := range labels {
			if l == k {
				return i
			}
		}
		return -1
	}
	for i, k := range keys {
		idx := labelIndex(k)
		perm[i] = idx
		used[idx] = true
	}
	pos := len(keys)
	for i := range labels {
		if !used[i] {
			perm[pos] = i
			pos++
		}
	}
	joint = m.ops.permute(joint, perm)

	// the permuted label ordering now matches perm: position t holds
	// the qubit that was at labels[perm[t]]
	newLabels := make([]Key, len(labels))
	for t, old := range perm {
		newLabels[t] = labels[old]
	}
	labels = newLabels

	for _, op := range circuit.Ops {
		gate, _ := LookupGate(op.Gate)
		joint = m.cachedApplyGate(joint, gate, op.Qubits)
	}

	outcomes := make(map[Key]int)
	if len(circuit.Measure) > 0 {
		bits, remainder, remainingLocal := m.cachedMeasure(joint, circuit.Measure, measSample)
		for i, localIdx := range circuit.Measure {
			outcomes[labels[localIdx]] = bits[i]
		}

		measuredSet := make(map[int]bool)
		for _, idx := range circuit.Measure {
			measuredSet[idx] = true
		}

		// singleton states for measured keys (formalisms that can
		// represent a single qubit; bell-diagonal consumes the pair
		// wholesale and leaves the keys unbound instead)
		if m.variant != VariantBellDiagonal {
			for i, localIdx := range circuit.Measure {
				amp := []complex128{1, 0}
				if bits[i] == 1 {
					amp = []complex128{0, 1}
				}
				k := labels[localIdx]
				m.keyToRecord[k] = &stateRecord{keys: []Key{k}, value: m.ops.newFromAmplitudes(amp)}
			}
		} else {
			for _, localIdx := range circuit.Measure {
				delete(m.keyToRecord, labels[localIdx])
			}
		}

		if len(remainingLocal) > 0 {
			remKeys := make([]Key, len(remainingLocal))
			for i, localIdx := range remainingLocal {
				remKeys[i] = labels[localIdx]
			}
			rec := &stateRecord{keys: remKeys, value: remainder}
			for _, k := range remKeys {
				m.keyToRecord[k] = rec
			}
		}
	} else {
		rec := &stateRecord{keys: append([]Key(nil), labels...), value: joint}
		for _, k := range labels {
			m.keyToRecord[k] = rec
		}
	}

	return outcomes, nil
}
