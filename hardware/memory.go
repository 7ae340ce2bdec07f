package hardware

import (
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/qstate"
	"github.com/sirupsen/logrus"
)

// MemoryPhysState is the physical excitation state machine of a single
// memory, distinct from the resource manager's logical MemoryInfo tag
// (§3.5, §3.8: the two are mirrored but not the same thing).
type MemoryPhysState int

const (
	PhysGround MemoryPhysState = iota
	PhysExcited
)

// EntangledPointer names the remote memory a memory is entangled with,
// or is the zero value (RemoteNode == "") when unentangled (§3.5).
type EntangledPointer struct {
	RemoteNode string
	RemoteMemo string
}

// Memory models a single quantum memory slot (§3.5).
type Memory struct {
	baseComponent

	Fidelity       float64
	RawFidelity    float64
	Frequency      float64 // max excite rate, Hz
	Efficiency     float64 // photon emission probability
	CoherenceTime  kernel.Time
	CutoffRatio    float64 // §9: exposed as configuration, not interpreted beyond cutoff>1 being legal
	Wavelength     float64
	GenerationTime kernel.Time
	PhysState      MemoryPhysState
	Entangled      EntangledPointer
	QSMKey         qstate.Key

	entity      *kernel.Entity
	qsm         *qstate.Manager
	expireEvent *kernel.Event
	log         *logrus.Entry
}

// MemoryParams groups the construction-time physical parameters of a
// Memory (teacher-style grouped-params constructor, cf. ITI-mrnes's
// *Desc structs in desc-topo.go).
type MemoryParams struct {
	Name          string
	RawFidelity   float64
	Frequency     float64
	Efficiency    float64
	CoherenceTime kernel.Time
	CutoffRatio   float64
	Wavelength    float64
}

// NewMemory constructs a Memory entity registered on tl, with its
// initial QSM key bound to the |0> ket.
func NewMemory(tl *kernel.Timeline, owner *kernel.Entity, qsm *qstate.Manager, p MemoryParams) (*Memory, error) {
	ent, err := kernel.NewEntity(tl, p.Name, owner)
	if err != nil {
		return nil, err
	}
	cutoff := p.CutoffRatio
	if cutoff == 0 {
		cutoff = 1.0
	}
	m := &Memory{
		baseComponent: baseComponent{name: p.Name, typ: "Memory"},
		Fidelity:      p.RawFidelity,
		RawFidelity:   p.RawFidelity,
		Frequency:     p.Frequency,
		Efficiency:    p.Efficiency,
		CoherenceTime: p.CoherenceTime,
		CutoffRatio:   cutoff,
		Wavelength:    p.Wavelength,
		entity:        ent,
		qsm:           qsm,
		log:           logrus.WithField("component", "memory").WithField("name", p.Name),
	}
	m.QSMKey = qsm.New([]complex128{1, 0})
	return m, nil
}

// Entity exposes the kernel entity backing this memory (RNG, name).
func (m *Memory) Entity() *kernel.Entity { return m.entity }

// Excite emits at most one photon carrying a reference to the memory's
// QSM key toward dstNodeName. It carries a null flag if the memory is
// in the ground state or lost to inefficiency (§4.4).
func (m *Memory) Excite(dstNodeName string) Photon {
	if m.PhysState == PhysGround {
		return Photon{SourceMemo: m.name, Null: true}
	}
	sample := m.entity.Rng().RandU01()
	if sample > m.Efficiency {
		return Photon{SourceMemo: m.name, Null: true}
	}
	return Photon{SourceMemo: m.name, QSMKey: m.QSMKey, Wavelength: m.Wavelength}
}

// UpdateState sets the memory's local single-qubit state and marks it
// excited.
func (m *Memory) UpdateState(amplitudes []complex128) {
	m.qsm.Set([]qstate.Key{m.QSMKey}, amplitudes)
	m.PhysState = PhysExcited
}

// ApplyCorrection runs a single-qubit gate (typically a Pauli
// correction after a heralded or swap operation) on this memory's QSM
// state in place.
func (m *Memory) ApplyCorrection(gate string) error {
	_, err := m.qsm.RunCircuit((&qstate.Circuit{}).AddGate(gate, 0), []qstate.Key{m.QSMKey}, 0)
	return err
}

// ScheduleExpire schedules the memory's decoherence event at
// generationTime + coherenceTime * cutoffRatio (§4.4).
func (m *Memory) ScheduleExpire(tl *kernel.Timeline, generationTime kernel.Time) error {
	m.GenerationTime = generationTime
	at := generationTime + kernel.Time(float64(m.CoherenceTime)*m.CutoffRatio)
	ev, err := tl.Schedule(at, PriorityExpire, kernel.Process{
		Owner:     kernel.HandlerFunc(m.expireHandler),
		Operation: "expire",
	})
	if err != nil {
		return err
	}
	m.expireEvent = ev
	return nil
}

// CancelExpire removes a previously scheduled expiry, used when the
// memory is released or reused before coherence would have run out.
func (m *Memory) CancelExpire(tl *kernel.Timeline) {
	if m.expireEvent != nil {
		tl.RemoveEvent(m.expireEvent)
		m.expireEvent = nil
	}
}

func (m *Memory) expireHandler(tl *kernel.Timeline, operation string, args any) any {
	m.expire(tl)
	return nil
}

// expire sets the memory's Fidelity to 0 and its physical state to
// ground, then notifies observers (§4.4). No decoherence map is applied
// to the memory's QSM state, which is left as it was. The
// entangled-memory pointer is nulled before any observer is notified,
// per the invariant in §3.5.
func (m *Memory) expire(tl *kernel.Timeline) {
	wasEntangled := m.Entangled
	m.Entangled = EntangledPointer{}
	m.Fidelity = 0
	m.PhysState = PhysGround
	m.log.WithFields(logrus.Fields{"was_entangled_with": wasEntangled.RemoteNode}).Debug("memory expired")
	m.entity.Notify(map[string]any{"time": int64(tl.Now()), "event": "expire"})
}

