package hardware

import (
	"github.com/iti/qns/kernel"
	"github.com/sirupsen/logrus"
)

// Detector models a single-photon detector: it samples a click against
// its efficiency and dark-count rate, then notifies its observers
// (§4.4, §6.3). Detectors are the terminal component in both the BSM
// apparatus and a QKD node's receiving optics.
type Detector struct {
	baseComponent

	Efficiency    float64
	DarkCountRate float64 // probability of a dark-count click per Detect call that has no real click

	entity *kernel.Entity
	log    *logrus.Entry
}

// NewDetector constructs a Detector registered as its own kernel entity
// so it has a private RNG stream independent of its owning node's.
func NewDetector(tl *kernel.Timeline, owner *kernel.Entity, name string, efficiency, darkCountRate float64) (*Detector, error) {
	ent, err := kernel.NewEntity(tl, name, owner)
	if err != nil {
		return nil, err
	}
	return &Detector{
		baseComponent: baseComponent{name: name, typ: "Detector"},
		Efficiency:    efficiency,
		DarkCountRate: darkCountRate,
		entity:        ent,
		log:           logrus.WithField("component", "detector").WithField("name", name),
	}, nil
}

// Entity exposes the kernel entity backing this detector.
func (d *Detector) Entity() *kernel.Entity { return d.entity }

// DetectResult reports whether a photon produced a click, and whether
// that click was a dark count rather than a real detection.
type DetectResult struct {
	Clicked   bool
	DarkCount bool
}

// Detect samples whether photon (possibly null) registers a click.
// A null photon can still produce a dark-count click; a real photon
// is detected with probability Efficiency independent of dark counts.
func (d *Detector) Detect(tl *kernel.Timeline, photon Photon) DetectResult {
	if !photon.Null {
		if d.entity.Rng().RandU01() < d.Efficiency {
			d.entity.Notify(map[string]any{"time": int64(tl.Now()), "event": "click"})
			return DetectResult{Clicked: true}
		}
	}
	if d.DarkCountRate > 0 && d.entity.Rng().RandU01() < d.DarkCountRate {
		d.entity.Notify(map[string]any{"time": int64(tl.Now()), "event": "dark_count"})
		return DetectResult{Clicked: true, DarkCount: true}
	}
	return DetectResult{}
}
