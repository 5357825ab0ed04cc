package voice

import (
	"time"

	"github.com/tbeaumont/voicebox/internal/note"
)

// slot is one unit of polyphony inside a pool.
type slot struct {
	assignment *note.VoiceAssignment // nil when free
	lastUsed   time.Time
}

// pool is the fixed-size voice table for one instrument. The available set
// mirrors the slots with a nil assignment; it is rebuilt from ground truth
// whenever it drifts or after any resize.
type pool struct {
	instrument  string
	slots       []slot
	available   map[int]struct{}
	stealCursor int
}

func newPool(instrument string, size int) *pool {
	if size < 1 {
		size = 1
	}
	p := &pool{
		instrument: instrument,
		slots:      make([]slot, size),
		available:  make(map[int]struct{}, size),
	}
	for i := range p.slots {
		p.available[i] = struct{}{}
	}
	return p
}

// takeFree claims any free slot in O(1). The second return is false when the
// pool is fully occupied.
func (p *pool) takeFree() (int, bool) {
	for idx := range p.available {
		delete(p.available, idx)
		return idx, true
	}
	return 0, false
}

// nextStealIndex advances the circular steal cursor and returns the slot to
// reclaim. Rotation keeps stealing O(1) instead of scanning for the oldest
// assignment.
func (p *pool) nextStealIndex() int {
	idx := p.stealCursor % len(p.slots)
	p.stealCursor++
	return idx
}

// free returns a slot to the available set and timestamps it.
func (p *pool) free(idx int, now time.Time) {
	if idx < 0 || idx >= len(p.slots) {
		return
	}
	p.slots[idx].assignment = nil
	p.slots[idx].lastUsed = now
	p.available[idx] = struct{}{}
	if len(p.available) > len(p.slots) {
		p.rebuildAvailable()
	}
}

// rebuildAvailable recomputes the available set from the slot table.
func (p *pool) rebuildAvailable() {
	p.available = make(map[int]struct{}, len(p.slots))
	for i := range p.slots {
		if p.slots[i].assignment == nil {
			p.available[i] = struct{}{}
		}
	}
}

// active counts live assignments.
func (p *pool) active() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].assignment != nil {
			n++
		}
	}
	return n
}

// resize grows or shrinks the slot table to target. Shrinking reports the
// assignments that sat at truncated indices; the caller must treat them as
// released in the same operation.
func (p *pool) resize(target int) []*note.VoiceAssignment {
	if target < 1 {
		target = 1
	}
	if target == len(p.slots) {
		return nil
	}
	var evicted []*note.VoiceAssignment
	if target < len(p.slots) {
		for i := target; i < len(p.slots); i++ {
			if a := p.slots[i].assignment; a != nil {
				evicted = append(evicted, a)
			}
		}
		p.slots = p.slots[:target]
		if p.stealCursor >= target {
			p.stealCursor = 0
		}
	} else {
		grown := make([]slot, target)
		copy(grown, p.slots)
		p.slots = grown
	}
	p.rebuildAvailable()
	return evicted
}
