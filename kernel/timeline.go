package kernel

import (
	"container/heap"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ProgressFunc is invoked periodically during Run so a caller can report
// simulated-time progress without instrumenting every event handler.
type ProgressFunc func(now Time, dispatched int64)

// Timeline holds current simulated time, the event queue, and every
// registered entity. It is the sole owner of simulated time: entities
// never advance it directly, only through Schedule + Run.
type Timeline struct {
	now        Time
	stopTime   Time
	queue      eventHeap
	running    bool
	seed       int64
	counter    int64
	entities   map[string]*Entity
	dispatched int64

	// Progress reports every ProgressEvery dispatched events, if set.
	ProgressEvery int64
	Progress      ProgressFunc

	log *logrus.Entry
}

// NewTimeline constructs a Timeline with the given seed and stop time.
// A stop time of Infinity runs until the event queue is exhausted.
func NewTimeline(seed int64, stopTime Time) *Timeline {
	tl := &Timeline{
		seed:     seed,
		stopTime: stopTime,
		entities: make(map[string]*Entity),
		log:      logrus.WithField("component", "kernel"),
	}
	heap.Init(&tl.queue)
	return tl
}

// Seed returns the timeline's seed source, used by entities to derive
// their own deterministic RNG stream independent of construction order.
func (tl *Timeline) Seed() int64 { return tl.seed }

// Now returns the dispatch time of the last executed event, or the
// timeline's initial time (0) if Run has not yet executed an event.
func (tl *Timeline) Now() Time { return tl.now }

// StopTime returns the configured stop time.
func (tl *Timeline) StopTime() Time { return tl.stopTime }

// registerEntity records e under its name, fatally rejecting duplicates:
// entity-name collisions are a precondition violation, not a runtime
// condition a protocol can recover from.
func (tl *Timeline) registerEntity(e *Entity) error {
	if _, present := tl.entities[e.Name]; present {
		return fmt.Errorf("kernel: duplicate entity name %q", e.Name)
	}
	tl.entities[e.Name] = e
	return nil
}

// Entity looks up a registered entity by name.
func (tl *Timeline) Entity(name string) (*Entity, bool) {
	e, ok := tl.entities[name]
	return e, ok
}

// Schedule enqueues an event at the given absolute time and priority.
// Scheduling strictly before Now() is a precondition violation.
func (tl *Timeline) Schedule(t Time, priority int64, proc Process) (*Event, error) {
	if t < tl.now {
		return nil, fmt.Errorf("kernel: cannot schedule at t=%d, now=%d", t, tl.now)
	}
	tl.counter++
	ev := &Event{Time: t, Priority: priority, counter: tl.counter, Process: proc}
	heap.Push(&tl.queue, ev)
	return ev, nil
}

// ScheduleCounter forces the tie-break priority to the event's own
// insertion-counter value, so that among events colliding on (time,
// priority) this one sorts by submission order rather than by whatever
// priority value the caller happened to pass. Generation-protocol
// middle-node arbitration relies on this (§4.1, §9 open question on
// BSM-equidistant tie-breaking).
func (tl *Timeline) ScheduleCounter(t Time, proc Process) (*Event, error) {
	if t < tl.now {
		return nil, fmt.Errorf("kernel: cannot schedule at t=%d, now=%d", t, tl.now)
	}
	tl.counter++
	ev := &Event{Time: t, Priority: tl.counter, counter: tl.counter, Process: proc}
	heap.Push(&tl.queue, ev)
	return ev, nil
}

// RemoveEvent marks ev removed. A removed event is skipped on dispatch
// but still occupies queue space until popped, per §5.
func (tl *Timeline) RemoveEvent(ev *Event) {
	ev.removed = true
}

// Init resets dispatch bookkeeping without touching the seed or stop
// time; called once before the first Run.
func (tl *Timeline) Init() {
	tl.now = 0
	tl.dispatched = 0
	tl.running = false
}

// Stop halts Run after the currently dispatching event returns.
func (tl *Timeline) Stop() {
	tl.running = false
}

// Run pops and dispatches events in (time, priority, counter) order
// until the queue is empty, the next event's time is >= stop time, or
// Stop has been called. Current time advances monotonically: it is set
// to an event's time only as that event is dispatched, never rewound.
func (tl *Timeline) Run() {
	tl.running = true
	for tl.running && tl.queue.Len() > 0 {
		ev := heap.Pop(&tl.queue).(*Event)
		if ev.removed {
			continue
		}
		if ev.Time >= tl.stopTime {
			tl.running = false
			break
		}
		tl.now = ev.Time
		tl.dispatched++

		proc := ev.Process
		if proc.Owner != nil {
			proc.Owner.Handle(tl, proc.Operation, proc.Args)
		}

		if tl.ProgressEvery > 0 && tl.dispatched%tl.ProgressEvery == 0 {
			tl.log.WithFields(logrus.Fields{"now": int64(tl.now), "dispatched": tl.dispatched}).Debug("progress")
			if tl.Progress != nil {
				tl.Progress(tl.now, tl.dispatched)
			}
		}
	}
	tl.running = false
}
