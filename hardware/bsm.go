package hardware

import (
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/qstate"
	"github.com/sirupsen/logrus"
)

// BSMHerald is the outcome a BSM apparatus reports for one round of
// heralded generation (§4.5).
type BSMHerald string

const (
	HeraldNone     BSMHerald = "none"
	HeraldPsiPlus  BSMHerald = "psi_plus"
	HeraldPsiMinus BSMHerald = "psi_minus"
)

// BSMHeraldMessage is the classical-channel payload a BSM apparatus
// sends to both end-nodes once a round resolves.
type BSMHeraldMessage struct {
	Round  int64
	Herald BSMHerald
}

// BSMApparatus is the middle-node component of heralded entanglement
// generation (§4.5): it owns two detectors fed by the two end-node
// quantum channels, buffers the photon that arrives first in a round,
// and once both arrive performs the joint measurement that projects
// the pair onto the Bell basis. Detector clicks distinguish only
// psi_plus and psi_minus; the other two Bell outcomes (phi_plus,
// phi_minus) leave both detectors silent and the round heralds none,
// modeled here as HeraldAmbiguity, the intrinsic probability that an
// arriving non-null coincidence is resolvable at all.
type BSMApparatus struct {
	baseComponent

	LeftNode, RightNode string
	HeraldAmbiguity     float64 // probability a real coincidence still heralds none

	detA, detB *Detector
	qsm        *qstate.Manager
	entity     *kernel.Entity

	pending     map[string]Photon
	round       int64
	log         *logrus.Entry
}

// NewBSMApparatus constructs the apparatus with its two detectors and
// wires it to qsm for the joint Bell-basis measurement.
func NewBSMApparatus(tl *kernel.Timeline, owner *kernel.Entity, qsm *qstate.Manager, name, leftNode, rightNode string, detA, detB *Detector, heraldAmbiguity float64) (*BSMApparatus, error) {
	ent, err := kernel.NewEntity(tl, name, owner)
	if err != nil {
		return nil, err
	}
	return &BSMApparatus{
		baseComponent:   baseComponent{name: name, typ: "BSMApparatus"},
		LeftNode:        leftNode,
		RightNode:       rightNode,
		HeraldAmbiguity: heraldAmbiguity,
		detA:            detA,
		detB:            detB,
		qsm:             qsm,
		entity:          ent,
		pending:         make(map[string]Photon),
		log:             logrus.WithField("component", "bsm").WithField("name", name),
	}, nil
}

// Entity exposes the kernel entity backing this apparatus.
func (b *BSMApparatus) Entity() *kernel.Entity { return b.entity }

// OnPhotonArrive buffers a photon by sender; once both LeftNode and
// RightNode have supplied a photon for the current round it resolves
// the round and reports the herald to both ends, then advances to the
// next round. Intended to be wired as a Node's QubitHandler.
func (b *BSMApparatus) OnPhotonArrive(tl *kernel.Timeline, src string, photon Photon) {
	b.pending[src] = photon
	left, haveLeft := b.pending[b.LeftNode]
	right, haveRight := b.pending[b.RightNode]
	if !haveLeft || !haveRight {
		return
	}
	delete(b.pending, b.LeftNode)
	delete(b.pending, b.RightNode)
	round := b.round
	b.round++

	herald := b.resolve(tl, left, right)
	b.log.WithFields(logrus.Fields{"round": round, "herald": string(herald)}).Debug("bsm round resolved")

	owner := b.Owner()
	if owner == nil {
		return
	}
	msg := Message{Content: BSMHeraldMessage{Round: round, Herald: herald}, Priority: PriorityMessageArrival}
	_ = owner.SendMessage(tl, b.LeftNode, msg)
	_ = owner.SendMessage(tl, b.RightNode, msg)
}

func (b *BSMApparatus) resolve(tl *kernel.Timeline, left, right Photon) BSMHerald {
	if left.Null || right.Null {
		return HeraldNone
	}
	da := b.detA.Detect(tl, left)
	db := b.detB.Detect(tl, right)
	if !da.Clicked || !db.Clicked {
		return HeraldNone
	}
	if b.entity.Rng().RandU01() < b.HeraldAmbiguity {
		return HeraldNone
	}
	c := (&qstate.Circuit{}).AddGate("CNOT", 0, 1).AddGate("H", 0).AddMeasure(0, 1)
	outcomes, err := b.qsm.RunCircuit(c, []qstate.Key{left.QSMKey, right.QSMKey}, b.entity.Rng().RandU01())
	if err != nil {
		return HeraldNone
	}
	if outcomes[left.QSMKey] == outcomes[right.QSMKey] {
		return HeraldPsiPlus
	}
	return HeraldPsiMinus
}
