package voicebox

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbeaumont/voicebox/internal/config"
	"github.com/tbeaumont/voicebox/internal/note"
	"github.com/tbeaumont/voicebox/internal/synth"
	"github.com/tbeaumont/voicebox/internal/tuning"
	"github.com/tbeaumont/voicebox/internal/voice"
)

// renderBlock is the trigger granularity of the offline path, in frames.
const renderBlock = 256

// RenderSequence renders a note sequence through the full fusion,
// allocation, and conflict pipeline into interleaved stereo float32
// samples, sample-accurately instead of on a wall-clock tick. seconds <= 0
// sizes the buffer from the last note's end plus a one second tail.
func RenderSequence(events []*note.NoteEvent, provider config.Provider, sampleRate int, seconds float64) []float32 {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if provider == nil {
		provider = config.NewStatic(config.DefaultFusionSettings(), config.DefaultPerformanceSettings())
	}
	log := zerolog.Nop()
	steps := buildSteps(events, provider, log)
	perf := provider.Performance()

	manager := voice.NewManager(perf.MaxVoices, log)
	manager.SetQualityLevel(perf.Quality)
	eng := synth.New(sampleRate, synth.DefaultParams())
	eng.SetVoiceDoneFunc(manager.ReleaseVoice)

	// The conflict window must follow sequence time: rendering is much
	// faster than real time.
	var songMS int64
	base := time.Unix(0, 0)
	tuner := tuning.NewResolver()
	tuner.SetClock(func() time.Time {
		return base.Add(time.Duration(songMS) * time.Millisecond)
	})

	if seconds <= 0 {
		var end float64
		for _, st := range steps {
			for _, n := range st.Notes {
				if e := float64(st.Offset)/1000 + n.Duration; e > end {
					end = e
				}
			}
		}
		seconds = end + 1
	}
	frames := int(float64(sampleRate) * seconds)
	out := make([]float32, frames*2)

	nextStep := 0
	reqSeq := 0
	for frame := 0; frame < frames; frame += renderBlock {
		songMS = int64(float64(frame) / float64(sampleRate) * 1000)
		for nextStep < len(steps) && steps[nextStep].Offset <= songMS {
			st := steps[nextStep]
			nextStep++
			for _, n := range st.Notes {
				if !n.Valid() || !n.MarkTriggered() {
					continue
				}
				inst := n.Instrument
				if inst == "" {
					inst = manager.AssignInstrument(perf.Strategy, n.Label, n.Pitch, perf.Instruments)
				}
				if inst == "" {
					continue
				}
				reqSeq++
				rid := fmt.Sprintf("%s#%d", inst, reqSeq)
				manager.AllocateVoice(inst, rid)
				freq := n.Pitch
				if perf.DetuneEnabled {
					freq = tuner.Resolve(freq)
				}
				if err := eng.TriggerNamed(rid, inst, freq, n.Duration, base, n.Velocity); err != nil {
					manager.ReleaseVoice(rid)
				}
			}
		}
		end := frame + renderBlock
		if end > frames {
			end = frames
		}
		eng.Process(out[frame*2 : end*2])
	}
	return out
}
