package synth

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Params configures the engine-wide envelope and gain defaults. Instrument
// definitions override the envelope per family.
type Params struct {
	Polyphony  int
	MasterGain float64
	AttackSec  float64
	DecaySec   float64
	SustainLvl float64
	ReleaseSec float64
}

// DefaultParams returns sensible engine defaults.
func DefaultParams() Params {
	return Params{
		Polyphony:  32,
		MasterGain: 0.5,
		AttackSec:  0.005,
		DecaySec:   0.08,
		SustainLvl: 0.7,
		ReleaseSec: 0.25,
	}
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type waveKind int

const (
	waveSine waveKind = iota
	waveFM
	waveSaw
	waveSquare
	waveDetuned
	waveNoise
)

// instrumentDef binds a family name to an oscillator and envelope shape.
type instrumentDef struct {
	wave     waveKind
	attack   float64
	decay    float64
	sustain  float64
	release  float64
	modRatio float64 // FM modulator ratio, where applicable
	gain     float64
}

var instrumentDefs = map[string]instrumentDef{
	"piano":      {wave: waveFM, attack: 0.003, decay: 0.25, sustain: 0.35, release: 0.3, modRatio: 2, gain: 1},
	"bass":       {wave: waveSaw, attack: 0.008, decay: 0.12, sustain: 0.6, release: 0.2, gain: 1.1},
	"pad":        {wave: waveDetuned, attack: 0.08, decay: 0.2, sustain: 0.8, release: 0.5, gain: 0.8},
	"lead":       {wave: waveSquare, attack: 0.004, decay: 0.1, sustain: 0.65, release: 0.15, gain: 0.9},
	"bell":       {wave: waveFM, attack: 0.002, decay: 0.4, sustain: 0.15, release: 0.45, modRatio: 3.5, gain: 0.85},
	"percussion": {wave: waveNoise, attack: 0.001, decay: 0.12, sustain: 0, release: 0.06, gain: 1},
}

// voiceUnit is one sounding voice.
type voiceUnit struct {
	active    bool
	requester string
	freq      float64
	velocity  float64
	gain      float64
	wave      waveKind
	modRatio  float64
	phase     float64
	modPhase  float64
	filter    float64

	envState envState
	envLevel float64
	envFrom  float64 // level when release began
	envPos   int
	attack   int
	decay    int
	sustain  float64
	release  int

	remaining int // samples until auto-release
}

// Engine is the built-in synthesis sink: a fixed voice array rendered as
// interleaved stereo. It implements both the plain and named trigger
// contracts; named triggers report back through the voice-done callback
// when the envelope goes idle.
type Engine struct {
	mu         sync.Mutex
	sampleRate float64
	params     Params
	voices     []voiceUnit
	rng        *rand.Rand
	onDone     func(requesterID string)
	doneQueue  []string
	anonSeq    int
}

// New builds an engine at the given sample rate.
func New(sampleRate int, params Params) *Engine {
	if params.Polyphony <= 0 {
		params.Polyphony = DefaultParams().Polyphony
	}
	if params.MasterGain <= 0 {
		params.MasterGain = DefaultParams().MasterGain
	}
	return &Engine{
		sampleRate: float64(sampleRate),
		params:     params,
		voices:     make([]voiceUnit, params.Polyphony),
		rng:        rand.New(rand.NewSource(1)),
	}
}

// SetVoiceDoneFunc installs a callback invoked once per named voice when
// its envelope finishes. It runs on the render goroutine outside the
// engine lock.
func (e *Engine) SetVoiceDoneFunc(fn func(requesterID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDone = fn
}

// SetMasterGain adjusts the output gain.
func (e *Engine) SetMasterGain(gain float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gain > 0 {
		e.params.MasterGain = gain
	}
}

// Trigger starts a voice without a requester identity.
func (e *Engine) Trigger(instrument string, freq float64, duration float64, startTime time.Time, velocity float64) error {
	e.mu.Lock()
	e.anonSeq++
	name := fmt.Sprintf("anon#%d", e.anonSeq)
	e.mu.Unlock()
	return e.TriggerNamed(name, instrument, freq, duration, startTime, velocity)
}

// TriggerNamed starts a voice tagged with the requester id. startTime is
// informational; the voice begins sounding on the next rendered frame.
func (e *Engine) TriggerNamed(requesterID, instrument string, freq float64, duration float64, startTime time.Time, velocity float64) error {
	if freq <= 0 {
		return fmt.Errorf("synth: non-positive frequency %v", freq)
	}
	if duration <= 0 {
		return fmt.Errorf("synth: non-positive duration %v", duration)
	}
	def, ok := instrumentDefs[instrument]
	if !ok {
		def = instrumentDef{
			wave:    waveSine,
			attack:  e.params.AttackSec,
			decay:   e.params.DecaySec,
			sustain: e.params.SustainLvl,
			release: e.params.ReleaseSec,
			gain:    1,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	v := &e.voices[e.takeSlotLocked()]
	*v = voiceUnit{
		active:    true,
		requester: requesterID,
		freq:      freq,
		velocity:  clamp(velocity, 0, 1),
		gain:      def.gain,
		wave:      def.wave,
		modRatio:  def.modRatio,
		envState:  envAttack,
		attack:    e.samples(def.attack),
		decay:     e.samples(def.decay),
		sustain:   def.sustain,
		release:   e.samples(def.release),
		remaining: e.samples(duration),
	}
	return nil
}

// takeSlotLocked returns a free voice index, stealing the quietest active
// voice when the array is full.
func (e *Engine) takeSlotLocked() int {
	for i := range e.voices {
		if !e.voices[i].active {
			return i
		}
	}
	quiet := 0
	minEnv := e.voices[0].envLevel
	for i := 1; i < len(e.voices); i++ {
		if e.voices[i].envLevel < minEnv {
			minEnv = e.voices[i].envLevel
			quiet = i
		}
	}
	if e.voices[quiet].requester != "" {
		e.doneQueue = append(e.doneQueue, e.voices[quiet].requester)
	}
	return quiet
}

func (e *Engine) samples(seconds float64) int {
	n := int(seconds * e.sampleRate)
	if n < 1 {
		n = 1
	}
	return n
}

// ActiveVoiceCount reports voices still sounding, release tails included.
func (e *Engine) ActiveVoiceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for i := range e.voices {
		if e.voices[i].active {
			n++
		}
	}
	return n
}

// Process renders interleaved stereo frames into dst. Voice-done callbacks
// collected during the block fire after the lock is dropped.
func (e *Engine) Process(dst []float32) {
	e.mu.Lock()
	gain := e.params.MasterGain
	for i := 0; i+1 < len(dst); i += 2 {
		var sum float64
		for vi := range e.voices {
			sum += e.renderVoiceLocked(&e.voices[vi])
		}
		// Soft clip keeps chord stacks from wrapping.
		out := float32(math.Tanh(sum * gain))
		dst[i] = out
		dst[i+1] = out
	}
	done := e.doneQueue
	e.doneQueue = nil
	fn := e.onDone
	e.mu.Unlock()

	if fn != nil {
		for _, id := range done {
			fn(id)
		}
	}
}

// renderVoiceLocked advances one voice by one frame.
func (e *Engine) renderVoiceLocked(v *voiceUnit) float64 {
	if !v.active {
		return 0
	}
	if v.remaining > 0 {
		v.remaining--
		if v.remaining == 0 && v.envState != envRelease {
			v.envState = envRelease
			v.envFrom = v.envLevel
			v.envPos = 0
		}
	}

	var raw float64
	switch v.wave {
	case waveFM:
		mod := math.Sin(2 * math.Pi * v.modPhase)
		idx := 2.5 * v.envLevel
		raw = math.Sin(2*math.Pi*v.phase + idx*mod)
		v.modPhase += v.freq * v.modRatio / e.sampleRate
		if v.modPhase >= 1 {
			v.modPhase -= 1
		}
	case waveSaw:
		saw := 2*v.phase - 1
		cutoff := 0.35 - 0.2*v.envLevel
		v.filter += cutoff * (saw - v.filter)
		raw = v.filter
	case waveSquare:
		if v.phase < 0.5 {
			raw = 0.8
		} else {
			raw = -0.8
		}
	case waveDetuned:
		raw = 0.5*math.Sin(2*math.Pi*v.phase) + 0.5*math.Sin(2*math.Pi*v.modPhase)
		v.modPhase += v.freq * 1.004 / e.sampleRate
		if v.modPhase >= 1 {
			v.modPhase -= 1
		}
	case waveNoise:
		raw = e.rng.Float64()*2 - 1
	default:
		raw = math.Sin(2 * math.Pi * v.phase)
	}
	v.phase += v.freq / e.sampleRate
	if v.phase >= 1 {
		v.phase -= 1
	}

	env := v.stepEnvelope()
	if v.envState == envOff {
		v.active = false
		if v.requester != "" {
			e.doneQueue = append(e.doneQueue, v.requester)
			v.requester = ""
		}
		return 0
	}
	return raw * env * v.velocity * v.gain
}

func (v *voiceUnit) stepEnvelope() float64 {
	switch v.envState {
	case envAttack:
		if v.attack > 0 {
			v.envLevel = float64(v.envPos) / float64(v.attack)
		} else {
			v.envLevel = 1
		}
		v.envPos++
		if v.envPos >= v.attack {
			v.envState = envDecay
			v.envPos = 0
		}
	case envDecay:
		if v.decay > 0 {
			t := float64(v.envPos) / float64(v.decay)
			v.envLevel = 1 - t*(1-v.sustain)
		} else {
			v.envLevel = v.sustain
		}
		v.envPos++
		if v.envPos >= v.decay {
			if v.sustain > 0 {
				v.envState = envSustain
			} else {
				v.envState = envRelease
				v.envFrom = v.envLevel
			}
			v.envPos = 0
		}
	case envSustain:
		v.envLevel = v.sustain
		// Held until the nominal duration flips the state to release.
	case envRelease:
		if v.release > 0 {
			t := float64(v.envPos) / float64(v.release)
			v.envLevel = v.envFrom * (1 - t)
		} else {
			v.envLevel = 0
		}
		v.envPos++
		if v.envPos >= v.release || v.envLevel <= 0.001 {
			v.envState = envOff
			v.envLevel = 0
		}
	}
	return v.envLevel
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
