package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbeaumont/voicebox/internal/config"
	"github.com/tbeaumont/voicebox/internal/note"
	"github.com/tbeaumont/voicebox/internal/tuning"
	"github.com/tbeaumont/voicebox/internal/voice"
)

// ErrEmptySequence rejects a Start call with nothing dispatchable. It is
// fatal to that call only; the scheduler stays usable.
var ErrEmptySequence = errors.New("scheduler: empty note sequence")

// State is the session lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StatePlaying
	StateCompleted
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StatePlaying:
		return "playing"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Sink receives exactly-once triggers. Calls are fire-and-forget; a failed
// trigger is logged upstream and the session continues.
type Sink interface {
	Trigger(instrument string, freq float64, duration float64, startTime time.Time, velocity float64) error
}

// NamedSink is an optional Sink extension that accepts the requester id of
// the voice realizing the trigger, so the sink can report back when the
// sound actually ends.
type NamedSink interface {
	Sink
	TriggerNamed(requesterID, instrument string, freq float64, duration float64, startTime time.Time, velocity float64) error
}

// Step is one dispatch unit: a single note, or a fused chord whose notes
// sound together. One step is dispatched per tick, bounding fan-out to the
// sink.
type Step struct {
	Notes  []*note.NoteEvent
	Label  string // chord label, empty for plain notes
	Offset int64  // ms from session start
}

// end returns when the step's longest note finishes, in seconds from
// session start.
func (st *Step) end() float64 {
	end := float64(st.Offset) / 1000
	for _, n := range st.Notes {
		if e := float64(st.Offset)/1000 + n.Duration; e > end {
			end = e
		}
	}
	return end
}

func (st *Step) triggered() bool {
	return len(st.Notes) > 0 && st.Notes[0].Triggered()
}

// Config tunes the dispatch loop timing.
type Config struct {
	Tick           time.Duration // dispatch check interval
	EarlyLookahead time.Duration // how far ahead of nominal time a note may fire
	LatePadding    time.Duration // how far behind nominal time a note stays eligible
	MinSpacing     time.Duration // minimum gap between actual triggers
	TrailingBuffer time.Duration // extra time past the last note before completing
	CleanupEvery   int           // ticks between voice-manager cleanup sweeps
}

// DefaultConfig returns the standard dispatch timing.
func DefaultConfig() Config {
	return Config{
		Tick:           400 * time.Millisecond,
		EarlyLookahead: 600 * time.Millisecond,
		LatePadding:    400 * time.Millisecond,
		MinSpacing:     50 * time.Millisecond,
		TrailingBuffer: time.Second,
		CleanupEvery:   64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Tick <= 0 {
		c.Tick = d.Tick
	}
	if c.EarlyLookahead <= 0 {
		c.EarlyLookahead = d.EarlyLookahead
	}
	if c.LatePadding <= 0 {
		c.LatePadding = d.LatePadding
	}
	if c.MinSpacing < 0 {
		c.MinSpacing = d.MinSpacing
	}
	if c.TrailingBuffer <= 0 {
		c.TrailingBuffer = d.TrailingBuffer
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = d.CleanupEvery
	}
	return c
}

// EventKind identifies scheduler lifecycle events.
type EventKind int

const (
	EventStarted EventKind = iota
	EventTriggered
	EventCompleted
	EventStopped
	EventError
)

// Event is delivered to the session's event callback.
type Event struct {
	Kind EventKind
	Step *Step
	Err  error
}

// pendingRelease schedules a voice release once a note's nominal duration
// elapses. Nominal duration stands in for a missing "sound ended" signal;
// a NamedSink that reports completion releases earlier, and the manager's
// idle cleanup backstops both.
type pendingRelease struct {
	requesterID string
	due         time.Time
}

// Scheduler drives one session at a time through a fixed tick loop. All
// dispatch happens on the tick goroutine; Stop is synchronous and total.
type Scheduler struct {
	cfg      Config
	voices   *voice.Manager
	tuner    *tuning.Resolver
	provider config.Provider
	sink     Sink
	log      zerolog.Logger

	mu          sync.Mutex
	state       State
	steps       []*Step
	startedAt   time.Time
	lastTrigger time.Time
	endAt       float64 // seconds; max(offset+duration) over all steps
	releases    []pendingRelease
	ticker      *time.Ticker
	done        chan struct{}
	tickCount   int
	reqSeq      int
	onEvent     func(Event)
	now         func() time.Time
}

// New builds a scheduler over the given collaborators.
func New(voices *voice.Manager, tuner *tuning.Resolver, provider config.Provider, sink Sink, cfg Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		voices:   voices,
		tuner:    tuner,
		provider: provider,
		sink:     sink,
		log:      logger,
		state:    StateIdle,
		now:      time.Now,
	}
}

// SetEventFunc installs the lifecycle event callback. It is invoked with
// the scheduler lock held and must not call back in.
func (s *Scheduler) SetEventFunc(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// State returns the current lifecycle phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins dispatching the given steps. Any running session is stopped
// first. Steps with no valid notes are logged and dropped; a sequence with
// nothing dispatchable is rejected.
func (s *Scheduler) Start(steps []*Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePlaying || s.state == StateScheduled {
		s.haltLocked(StateStopped)
	}
	if len(steps) == 0 {
		return ErrEmptySequence
	}

	kept := make([]*Step, 0, len(steps))
	for _, st := range steps {
		valid := st.Notes[:0:0]
		for _, n := range st.Notes {
			if !n.Valid() {
				s.log.Warn().Str("label", n.Label).Float64("pitch", n.Pitch).
					Float64("duration", n.Duration).Msg("skipping malformed note")
				continue
			}
			valid = append(valid, n)
		}
		if len(valid) == 0 {
			continue
		}
		st.Notes = valid
		kept = append(kept, st)
	}
	if len(kept) == 0 {
		return ErrEmptySequence
	}

	s.steps = kept
	s.endAt = 0
	for _, st := range s.steps {
		for _, n := range st.Notes {
			n.ResetTriggered()
		}
		if e := st.end(); e > s.endAt {
			s.endAt = e
		}
	}

	s.state = StateScheduled
	s.startedAt = s.now()
	s.lastTrigger = time.Time{}
	s.tickCount = 0
	s.releases = nil
	s.done = make(chan struct{})
	s.ticker = time.NewTicker(s.cfg.Tick)
	s.state = StatePlaying

	go s.run(s.ticker, s.done)

	s.log.Info().Int("steps", len(s.steps)).Float64("end_s", s.endAt).Msg("session started")
	s.emitLocked(Event{Kind: EventStarted})
	return nil
}

func (s *Scheduler) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick executes one dispatch check. The ticker goroutine calls it every
// interval; tests call it directly.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return
	}

	now := s.now()
	elapsed := now.Sub(s.startedAt)
	s.tickCount++

	if s.tickCount%s.cfg.CleanupEvery == 0 {
		s.voices.Cleanup()
	}
	s.processReleasesLocked(now)

	if st := s.eligibleStepLocked(elapsed); st != nil {
		if !s.lastTrigger.IsZero() && now.Sub(s.lastTrigger) < s.cfg.MinSpacing {
			// Too soon after the previous trigger: skip this tick entirely,
			// the candidate stays eligible.
			s.log.Debug().Int64("offset_ms", st.Offset).Msg("tick skipped for spacing")
		} else {
			s.dispatchLocked(st, now)
		}
	}

	if elapsed > time.Duration(s.endAt*float64(time.Second))+s.cfg.TrailingBuffer {
		s.completeLocked()
	}
}

// eligibleStepLocked finds the first untriggered step whose nominal offset
// falls within (elapsed-latePadding, elapsed+earlyLookahead].
func (s *Scheduler) eligibleStepLocked(elapsed time.Duration) *Step {
	for _, st := range s.steps {
		if st.triggered() {
			continue
		}
		off := time.Duration(st.Offset) * time.Millisecond
		if off > elapsed-s.cfg.LatePadding && off <= elapsed+s.cfg.EarlyLookahead {
			return st
		}
	}
	return nil
}

// dispatchLocked realizes one step: marks it triggered, resolves instrument
// and frequency per note, and hands off to the sink. Marking happens before
// handoff so a slow sink cannot cause duplicate dispatch.
func (s *Scheduler) dispatchLocked(st *Step, now time.Time) {
	for _, n := range st.Notes {
		n.MarkTriggered()
	}
	s.lastTrigger = now

	perf := s.provider.Performance()
	for _, n := range st.Notes {
		inst := n.Instrument
		if inst == "" {
			inst = s.voices.AssignInstrument(perf.Strategy, n.Label, n.Pitch, perf.Instruments)
		}
		if inst == "" {
			s.log.Warn().Str("label", n.Label).Msg("no enabled instruments, note dropped")
			continue
		}

		s.reqSeq++
		rid := fmt.Sprintf("%s#%d", inst, s.reqSeq)
		s.voices.AllocateVoice(inst, rid)

		freq := n.Pitch
		if perf.DetuneEnabled {
			freq = s.tuner.Resolve(freq)
		}

		var err error
		if ns, ok := s.sink.(NamedSink); ok {
			err = ns.TriggerNamed(rid, inst, freq, n.Duration, now, n.Velocity)
		} else {
			err = s.sink.Trigger(inst, freq, n.Duration, now, n.Velocity)
		}
		if err != nil {
			s.log.Error().Err(err).Str("instrument", inst).Float64("freq", freq).
				Msg("sink trigger failed")
			s.voices.ReleaseVoice(rid)
			continue
		}

		s.releases = append(s.releases, pendingRelease{
			requesterID: rid,
			due:         now.Add(time.Duration(n.Duration * float64(time.Second))),
		})
		s.log.Debug().Str("instrument", inst).Float64("freq", freq).
			Float64("velocity", n.Velocity).Int64("offset_ms", st.Offset).Msg("note dispatched")
	}

	s.emitLocked(Event{Kind: EventTriggered, Step: st})
}

// processReleasesLocked frees voices whose nominal duration has elapsed and
// compacts the queue.
func (s *Scheduler) processReleasesLocked(now time.Time) {
	kept := s.releases[:0]
	for _, pr := range s.releases {
		if now.Before(pr.due) {
			kept = append(kept, pr)
			continue
		}
		s.voices.ReleaseVoice(pr.requesterID)
	}
	s.releases = kept
}

// Stop halts the session synchronously: the ticker is released, untriggered
// steps are discarded, and every live voice is told to release. Calling it
// while not playing is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying && s.state != StateScheduled {
		return
	}
	s.haltLocked(StateStopped)
	s.emitLocked(Event{Kind: EventStopped})
	s.log.Info().Msg("session stopped")
}

func (s *Scheduler) completeLocked() {
	s.haltLocked(StateCompleted)
	s.emitLocked(Event{Kind: EventCompleted})
	s.log.Info().Msg("session completed")
}

// failLocked records a terminal error, reports it, then settles in Stopped.
func (s *Scheduler) failLocked(err error) {
	s.state = StateError
	s.emitLocked(Event{Kind: EventError, Err: err})
	s.log.Error().Err(err).Msg("session error")
	s.haltLocked(StateStopped)
}

// haltLocked tears the running session down. Once it returns no further
// dispatch can occur: the state gate in Tick sees the new state even if a
// tick was already queued.
func (s *Scheduler) haltLocked(final State) {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	for _, pr := range s.releases {
		s.voices.ReleaseVoice(pr.requesterID)
	}
	s.releases = nil
	s.voices.ReleaseAll()
	s.steps = nil
	s.state = final
}

func (s *Scheduler) emitLocked(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}
