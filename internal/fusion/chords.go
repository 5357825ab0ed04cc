package fusion

import (
	"math"

	"github.com/tbeaumont/voicebox/internal/note"
)

// chordPattern pairs a label with the pitch-class intervals (mod 12, from
// the lowest note) that identify it.
type chordPattern struct {
	label     string
	intervals []int
}

// chordTable is consulted in order; the first pattern whose full interval
// set is present wins.
var chordTable = []chordPattern{
	{"major", []int{0, 4, 7}},
	{"minor", []int{0, 3, 7}},
	{"diminished", []int{0, 3, 6}},
	{"augmented", []int{0, 4, 8}},
	{"dominant7", []int{0, 4, 7, 10}},
	{"major7", []int{0, 4, 7, 11}},
	{"minor7", []int{0, 3, 7, 10}},
	{"sus2", []int{0, 2, 7}},
	{"sus4", []int{0, 5, 7}},
}

// classify labels a pitch-ascending note list by its pitch-class interval
// set, or "complex" when no pattern matches.
func classify(notes []*note.NoteEvent) string {
	if len(notes) == 0 {
		return "complex"
	}
	present := intervalSet(notes)
	for _, pat := range chordTable {
		if containsAll(present, pat.intervals) {
			return pat.label
		}
	}
	return "complex"
}

// intervalSet computes the semitone pitch classes of each note relative to
// the lowest one.
func intervalSet(notes []*note.NoteEvent) map[int]bool {
	root := notes[0].Pitch
	set := make(map[int]bool, len(notes))
	for _, n := range notes {
		semis := int(math.Round(12 * math.Log2(n.Pitch/root)))
		set[((semis%12)+12)%12] = true
	}
	return set
}

func containsAll(set map[int]bool, intervals []int) bool {
	for _, iv := range intervals {
		if !set[iv] {
			return false
		}
	}
	return true
}
