package kernel

import (
	"fmt"

	"github.com/iti/rngstream"
)

// Entity is the base contract for every simulated object: a globally
// unique name, an owning timeline, an optional owner entity, lists of
// receivers and observers, and a local deterministic RNG.
type Entity struct {
	Name      string
	Timeline  *Timeline
	Owner     *Entity
	Receivers []*Entity
	Observers []Observer

	rng *rngstream.RngStream
}

// Observer is notified when an entity's state changes (memory state
// transitions, detector triggers). The info map mirrors the {"time": int}
// shape spec.md's callback contract describes (§6.3), generalized to a
// small payload any observer can pattern-match on.
type Observer interface {
	Trigger(source *Entity, info map[string]any)
}

// NewEntity registers a new entity on tl under name, deriving its RNG
// stream from (tl.Seed(), name) so reproducibility does not depend on
// entity-construction order (§3.3, §5).
func NewEntity(tl *Timeline, name string, owner *Entity) (*Entity, error) {
	e := &Entity{
		Name:     name,
		Timeline: tl,
		Owner:    owner,
		rng:      rngstream.New(fmt.Sprintf("%d:%s", tl.Seed(), name)),
	}
	if err := tl.registerEntity(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Rng returns the entity's private deterministic random stream.
func (e *Entity) Rng() *rngstream.RngStream { return e.rng }

// AddReceiver registers r as an entity this one may pass qubits to.
func (e *Entity) AddReceiver(r *Entity) { e.Receivers = append(e.Receivers, r) }

// Attach registers obs to be notified of this entity's state updates.
func (e *Entity) Attach(obs Observer) { e.Observers = append(e.Observers, obs) }

// Notify fans info out to every attached observer.
func (e *Entity) Notify(info map[string]any) {
	for _, obs := range e.Observers {
		obs.Trigger(e, info)
	}
}
