package fusion

import (
	"sort"

	"github.com/tbeaumont/voicebox/internal/config"
	"github.com/tbeaumont/voicebox/internal/note"
)

// applyVoicing rearranges a pitch-ascending chord per the configured
// strategy. Transforms that move a voice clone the affected events so the
// source sequence keeps its original pitches; the result is re-sorted to
// keep the ascending invariant.
func applyVoicing(v config.Voicing, notes []*note.NoteEvent) []*note.NoteEvent {
	switch v {
	case config.VoicingSpread:
		if len(notes) < 3 {
			return notes
		}
		out := make([]*note.NoteEvent, len(notes))
		copy(out, notes)
		for i := 1; i < len(out)-1; i++ {
			raised := out[i].Clone()
			raised.Pitch *= 2
			out[i] = raised
		}
		return resorted(out)
	case config.VoicingDrop2:
		return dropVoice(notes, 2)
	case config.VoicingDrop3:
		if len(notes) < 4 {
			return notes
		}
		return dropVoice(notes, 3)
	default: // compact
		return notes
	}
}

// dropVoice lowers the nth-highest voice one octave.
func dropVoice(notes []*note.NoteEvent, nth int) []*note.NoteEvent {
	if len(notes) < nth {
		return notes
	}
	out := make([]*note.NoteEvent, len(notes))
	copy(out, notes)
	idx := len(out) - nth
	dropped := out[idx].Clone()
	dropped.Pitch /= 2
	out[idx] = dropped
	return resorted(out)
}

func resorted(notes []*note.NoteEvent) []*note.NoteEvent {
	sort.Slice(notes, func(i, j int) bool { return notes[i].Pitch < notes[j].Pitch })
	return notes
}
