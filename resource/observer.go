package resource

import "github.com/iti/qns/kernel"

// ExpireObserver implements kernel.Observer for a Memory's backing
// entity. On an "expire" trigger it resets the memory's bookkeeping to
// RAW and tells the rule engine to drop any protocol still holding that
// memory (§3.5, §4.8, §7). topology.Build does not attach it to any
// memory, and no protocol calls Memory.ScheduleExpire, so a built
// topology does not run this expiry path.
type ExpireObserver struct {
	MemoryName string
	Manager    *MemoryManager
	Engine     *RuleEngine
}

// Trigger implements kernel.Observer.
func (o *ExpireObserver) Trigger(source *kernel.Entity, info map[string]any) {
	if info["event"] != "expire" {
		return
	}
	tl := source.Timeline
	o.Manager.Update(tl, o.MemoryName, func(mi *MemoryInfo) { mi.Reset() })
	if o.Engine != nil {
		o.Engine.OnMemoryExpire(tl, o.MemoryName)
	}
}
