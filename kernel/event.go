// Package kernel implements the discrete-event simulation core: a
// deterministic, seedable event scheduler and the Entity base contract
// every simulated object builds on.
package kernel

import "fmt"

// Time is an absolute simulated instant, in integer picoseconds.
type Time int64

// Infinity is used as a stop-time meaning "run until the queue drains".
const Infinity Time = 1<<63 - 1

// Process is the (owner, operation, args) triple an Event dispatches.
// Handler receives the timeline so it may itself schedule further events,
// and returns a value the caller of Schedule can ignore or inspect through
// a closure captured in args.
type Process struct {
	Owner     Handler
	Operation string
	Args      any
}

// Handler is implemented by any entity that can be the owner of a Process.
// Dispatch calls Handle with the event's operation name and argument.
type Handler interface {
	Handle(tl *Timeline, operation string, args any) any
}

// HandlerFunc adapts a plain function to Handler for owners that don't
// need a full method set (e.g. one-off callbacks scheduled by protocols).
type HandlerFunc func(tl *Timeline, operation string, args any) any

func (f HandlerFunc) Handle(tl *Timeline, operation string, args any) any {
	return f(tl, operation, args)
}

// Event binds a scheduled time, a tie-break priority, and a Process.
// Priority and Time are immutable once enqueued; only removed may change.
type Event struct {
	Time     Time
	Priority int64
	counter  int64 // insertion-order tie-breaker, assigned by Schedule
	removed  bool
	Process  Process
}

// Removed reports whether the event has been cancelled via RemoveEvent.
func (e *Event) Removed() bool { return e.removed }

// less implements the total (time, priority, counter) order from §4.1.
func (e *Event) less(o *Event) bool {
	if e.Time != o.Time {
		return e.Time < o.Time
	}
	if e.Priority != o.Priority {
		return e.Priority < o.Priority
	}
	return e.counter < o.counter
}

func (e *Event) String() string {
	return fmt.Sprintf("Event{t=%d pri=%d ctr=%d op=%s}", e.Time, e.Priority, e.counter, e.Process.Operation)
}

// eventHeap is a minimum-heap over Event.less, used by Timeline.
type eventHeap []*Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)         { *h = append(*h, x.(*Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
