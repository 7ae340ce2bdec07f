// Package hardware implements the physical-device models the core
// consumes: memories with coherence decay, classical and quantum
// channels with delay/attenuation/loss, light sources, detectors, and
// the BSM apparatus, plus the Node that owns a map of them (§3.4).
package hardware

import (
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/qstate"
)

// Component is any named piece of hardware a Node owns (memory,
// detector, light source, BSM, channel endpoint).
type Component interface {
	ComponentName() string
	ComponentType() string
	Owner() *Node
	SetOwner(n *Node)
}

// baseComponent is embedded by every concrete hardware component to
// satisfy the common half of the Component contract.
type baseComponent struct {
	name string
	typ  string
	node *Node
}

func (b *baseComponent) ComponentName() string { return b.name }
func (b *baseComponent) ComponentType() string { return b.typ }
func (b *baseComponent) Owner() *Node           { return b.node }
func (b *baseComponent) SetOwner(n *Node)       { b.node = n }

// Photon carries a reference to the quantum-state-manager key of the
// memory it was emitted from, plus optional loss/null flags.
type Photon struct {
	SourceMemo string
	QSMKey     qstate.Key
	Null       bool // true if the source memory had no excitation to carry
	Wavelength float64
}

// EventPriority values used across hardware dispatch so cross-channel
// arrivals at the same instant resolve deterministically (§4.5, §5).
const (
	PriorityQubitArrival   int64 = 10
	PriorityMessageArrival int64 = 20
	PriorityExpire         int64 = 30
)

var _ kernel.Handler = (*Node)(nil)
