package note

// Layer classifies where an event sits in an arrangement. Fusion can be
// enabled or disabled per layer; an empty layer counts as melodic.
type Layer string

const (
	LayerMelodic    Layer = "melodic"
	LayerHarmonic   Layer = "harmonic"
	LayerRhythmic   Layer = "rhythmic"
	LayerAmbient    Layer = "ambient"
	LayerPercussion Layer = "percussion"
)

// NoteEvent is one sound-trigger request. All fields are fixed at
// construction; the only mutable state is the triggered marker, which the
// scheduler sets exactly once per session.
type NoteEvent struct {
	Label      string
	Pitch      float64 // Hz, must be > 0
	Velocity   float64 // 0.0-1.0
	Timestamp  int64   // ms offset from sequence start
	Duration   float64 // seconds, must be > 0
	Layer      Layer
	Instrument string // empty = assigned at dispatch time

	triggered bool
}

// Valid reports whether the event can be dispatched at all.
func (e *NoteEvent) Valid() bool {
	return e != nil && e.Pitch > 0 && e.Duration > 0
}

// Triggered reports whether the scheduler already dispatched this event.
func (e *NoteEvent) Triggered() bool { return e.triggered }

// MarkTriggered sets the triggered marker and reports whether this call was
// the one that set it. A false return means the event was already dispatched.
func (e *NoteEvent) MarkTriggered() bool {
	if e.triggered {
		return false
	}
	e.triggered = true
	return true
}

// ResetTriggered clears the marker. Called on every entry at session start.
func (e *NoteEvent) ResetTriggered() { e.triggered = false }

// Clone returns a copy of the event with a fresh triggered marker. Voicing
// transforms use it to adjust pitch without touching the source event.
func (e *NoteEvent) Clone() *NoteEvent {
	c := *e
	c.triggered = false
	return &c
}

// ChordGroup is a fused multi-voice unit produced by the fusion engine.
// Notes are ordered by ascending pitch and the group is never mutated after
// creation.
type ChordGroup struct {
	Notes     []*NoteEvent
	Root      float64 // lowest pitch after processing
	Label     string  // chord-type label, or "direct" / "complex"
	Timestamp int64   // timestamp of the first buffered event
	Layer     Layer
}

// VoiceAssignment records one live claim on a voice slot.
type VoiceAssignment struct {
	RequesterID string
	Instrument  string
	Slot        int
}
