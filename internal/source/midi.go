package source

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/tbeaumont/voicebox/internal/note"
)

// defaultDuration covers note-ons whose matching note-off never arrives.
const defaultDuration = 0.5

// LoadSMF reads a Standard MIDI File into a timestamp-ordered note
// sequence. Timing comes from the file's tempo map; channel 10 maps to the
// percussion layer, everything else to melodic.
func LoadSMF(path string) ([]*note.NoteEvent, error) {
	rd := smf.ReadTracks(path)
	events, err := collect(rd)
	if err != nil {
		return nil, fmt.Errorf("read midi file %s: %w", path, err)
	}
	return events, nil
}

// ReadSMF is LoadSMF over an in-memory stream.
func ReadSMF(r io.Reader) ([]*note.NoteEvent, error) {
	rd := smf.ReadTracksFrom(r)
	events, err := collect(rd)
	if err != nil {
		return nil, fmt.Errorf("read midi stream: %w", err)
	}
	return events, nil
}

func collect(rd *smf.TracksReader) ([]*note.NoteEvent, error) {
	type openKey struct {
		track int
		ch    uint8
		key   uint8
	}
	var events []*note.NoteEvent
	open := make(map[openKey]*note.NoteEvent)

	rd.Do(func(te smf.TrackEvent) {
		var ch, key, vel uint8
		switch {
		case te.Message.GetNoteStart(&ch, &key, &vel):
			ev := &note.NoteEvent{
				Label:     fmt.Sprintf("t%d.n%d", te.TrackNo, key),
				Pitch:     KeyToFreq(key),
				Velocity:  float64(vel) / 127,
				Timestamp: te.AbsMicroSeconds / 1000,
				Layer:     layerForChannel(ch),
			}
			open[openKey{te.TrackNo, ch, key}] = ev
			events = append(events, ev)
		case te.Message.GetNoteEnd(&ch, &key):
			k := openKey{te.TrackNo, ch, key}
			if ev, ok := open[k]; ok {
				ev.Duration = float64(te.AbsMicroSeconds/1000-ev.Timestamp) / 1000
				if ev.Duration <= 0 {
					ev.Duration = defaultDuration
				}
				delete(open, k)
			}
		}
	})
	if err := rd.Error(); err != nil {
		return nil, err
	}

	for _, ev := range open {
		ev.Duration = defaultDuration
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events, nil
}

// KeyToFreq converts a MIDI key number to equal-temperament Hz (A4 = 440).
func KeyToFreq(key uint8) float64 {
	return 440 * math.Pow(2, (float64(key)-69)/12)
}

// layerForChannel maps the GM percussion channel to the percussion layer.
func layerForChannel(ch uint8) note.Layer {
	if ch == 9 {
		return note.LayerPercussion
	}
	return note.LayerMelodic
}
