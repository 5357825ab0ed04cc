package fusion

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/tbeaumont/voicebox/internal/config"
	"github.com/tbeaumont/voicebox/internal/note"
)

// Output is one unit leaving the fusion stage: either a pass-through event
// or a fused chord, never both.
type Output struct {
	Note  *note.NoteEvent
	Chord *note.ChordGroup
}

// Engine buffers near-simultaneous events and merges them into chords.
// Windowing compares event timestamps, so the same stream produces the same
// groups whether it is fed live or as a batch pre-pass.
//
// A partially filled buffer produces nothing until a later event falls
// outside the window or Flush is called; feeding no further input and never
// flushing leaves it queued indefinitely. That is the caller's contract,
// not an internal timer.
type Engine struct {
	provider config.Provider
	pending  []*note.NoteEvent
	firstAt  int64
	log      zerolog.Logger
}

// NewEngine builds a fusion engine reading live settings from provider.
func NewEngine(provider config.Provider, logger zerolog.Logger) *Engine {
	return &Engine{provider: provider, log: logger}
}

// Feed offers one event to the engine. The boolean reports whether an
// output is ready: a pass-through when fusion does not apply to the event,
// or a drained unit when the event's timestamp closes the open window.
func (e *Engine) Feed(ev *note.NoteEvent) (Output, bool) {
	s := e.provider.Fusion()
	if !s.Enabled || !s.LayerEnabled(ev.Layer) {
		return Output{Note: ev}, true
	}
	if len(e.pending) > 0 && ev.Timestamp-e.firstAt >= s.Window.Milliseconds() {
		out := e.drain(s)
		e.push(ev)
		return out, true
	}
	e.push(ev)
	return Output{}, false
}

// Flush drains the buffer regardless of elapsed time, returning zero or one
// unit. A below-minimum buffer releases exactly one event per call, so
// callers drain in a loop at stream end.
func (e *Engine) Flush() (Output, bool) {
	if len(e.pending) == 0 {
		return Output{}, false
	}
	return e.drain(e.provider.Fusion()), true
}

// Reset clears buffered state without producing output.
func (e *Engine) Reset() {
	e.pending = nil
	e.firstAt = 0
}

// Pending reports how many events sit in the open window.
func (e *Engine) Pending() int { return len(e.pending) }

func (e *Engine) push(ev *note.NoteEvent) {
	if len(e.pending) == 0 {
		e.firstAt = ev.Timestamp
	}
	e.pending = append(e.pending, ev)
}

// drain processes the buffer into one output unit. Below the configured
// minimum it releases the oldest event unmerged and keeps the rest queued.
func (e *Engine) drain(s config.FusionSettings) Output {
	if len(e.pending) < s.MinNotes {
		ev := e.pending[0]
		e.pending = e.pending[1:]
		if len(e.pending) > 0 {
			e.firstAt = e.pending[0].Timestamp
		} else {
			e.pending = nil
		}
		return Output{Note: ev}
	}

	notes := e.pending
	e.pending = nil
	first := notes[0]
	sort.Slice(notes, func(i, j int) bool { return notes[i].Pitch < notes[j].Pitch })

	var label string
	if s.Mode == config.FusionDirect {
		label = "direct"
	} else {
		label = classify(notes)
		if len(notes) > s.ComplexityLimit {
			notes = notes[:s.ComplexityLimit]
		}
		notes = applyVoicing(s.Voicing, notes)
	}

	g := &note.ChordGroup{
		Notes:     notes,
		Root:      notes[0].Pitch,
		Label:     label,
		Timestamp: first.Timestamp,
		Layer:     first.Layer,
	}
	e.log.Debug().Str("label", g.Label).Int("notes", len(g.Notes)).
		Int64("at_ms", g.Timestamp).Msg("chord fused")
	return Output{Chord: g}
}
