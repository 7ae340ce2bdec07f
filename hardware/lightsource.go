package hardware

import (
	"github.com/iti/qns/kernel"
	"github.com/iti/qns/qstate"
	"github.com/sirupsen/logrus"
)

// LightSource emits photons carrying freshly allocated QSM states,
// used by the BB84 sender role and by entanglement-generation schemes
// that prepare a photon directly rather than exciting a memory (§3.4,
// §4.10).
type LightSource struct {
	baseComponent

	Frequency  float64 // emission rate, Hz
	Efficiency float64 // probability an emission attempt yields a photon
	Wavelength float64

	entity *kernel.Entity
	qsm    *qstate.Manager
	log    *logrus.Entry
}

// NewLightSource constructs a LightSource registered as its own kernel
// entity.
func NewLightSource(tl *kernel.Timeline, owner *kernel.Entity, qsm *qstate.Manager, name string, efficiency, frequency, wavelength float64) (*LightSource, error) {
	ent, err := kernel.NewEntity(tl, name, owner)
	if err != nil {
		return nil, err
	}
	return &LightSource{
		baseComponent: baseComponent{name: name, typ: "LightSource"},
		Frequency:     frequency,
		Efficiency:    efficiency,
		Wavelength:    wavelength,
		entity:        ent,
		qsm:           qsm,
		log:           logrus.WithField("component", "lightsource").WithField("name", name),
	}, nil
}

// Entity exposes the kernel entity backing this light source.
func (l *LightSource) Entity() *kernel.Entity { return l.entity }

// Emit prepares a fresh qubit in the given amplitudes and returns a
// photon carrying it, or a null photon if the emission attempt fails
// against Efficiency.
func (l *LightSource) Emit(amplitudes []complex128) Photon {
	if l.entity.Rng().RandU01() > l.Efficiency {
		return Photon{SourceMemo: l.name, Null: true}
	}
	key := l.qsm.New(amplitudes)
	return Photon{SourceMemo: l.name, QSMKey: key, Wavelength: l.Wavelength}
}
