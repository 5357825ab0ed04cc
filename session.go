// Package voicebox turns streams of independently-timed note-trigger
// requests into bounded, conflict-free audio dispatch: fixed-capacity voice
// pools with round-robin stealing, sub-perceptual detuning of colliding
// frequencies, timing-windowed chord fusion, and a tick-driven scheduler
// that hands exactly-once triggers to a synthesis sink.
package voicebox

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tbeaumont/voicebox/internal/config"
	"github.com/tbeaumont/voicebox/internal/fusion"
	"github.com/tbeaumont/voicebox/internal/note"
	"github.com/tbeaumont/voicebox/internal/scheduler"
	"github.com/tbeaumont/voicebox/internal/tuning"
	"github.com/tbeaumont/voicebox/internal/voice"
)

// Sink receives exactly-once note triggers from the scheduler.
type Sink = scheduler.Sink

// SessionEvent carries lifecycle and trigger events from Watch().
type SessionEvent struct {
	Kind  int
	Label string // chord label on trigger events, when fused
	Notes int    // notes dispatched on trigger events
	Err   error
}

const (
	EventStarted int = iota
	EventTriggered
	EventCompleted
	EventStopped
	EventError
)

// Option adjusts session construction.
type Option func(*sessionConfig)

type sessionConfig struct {
	provider config.Provider
	sched    scheduler.Config
	logger   zerolog.Logger
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		provider: config.NewStatic(config.DefaultFusionSettings(), config.DefaultPerformanceSettings()),
		sched:    scheduler.DefaultConfig(),
		logger:   zerolog.Nop(),
	}
}

// WithProvider installs a live settings provider. Settings are re-read on
// every fusion decision and scheduler tick.
func WithProvider(p config.Provider) Option {
	return func(cfg *sessionConfig) {
		if p != nil {
			cfg.provider = p
		}
	}
}

// WithSchedulerConfig overrides the dispatch loop timing.
func WithSchedulerConfig(sc scheduler.Config) Option {
	return func(cfg *sessionConfig) { cfg.sched = sc }
}

// WithLogger routes subsystem logging to the given logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *sessionConfig) { cfg.logger = l }
}

// Session is the facade over voice allocation, conflict detuning, chord
// fusion, and scheduling. At most one sequence plays at a time; starting a
// new one stops the old one first.
type Session struct {
	mu       sync.Mutex
	provider config.Provider
	voices   *voice.Manager
	tuner    *tuning.Resolver
	sched    *scheduler.Scheduler
	log      zerolog.Logger

	eventChMu sync.Mutex
	eventCh   chan SessionEvent
}

// NewSession builds a session dispatching into sink. When the sink exposes
// SetVoiceDoneFunc (the built-in synth does), voices are released the
// moment their sound actually ends instead of waiting out the nominal
// duration.
func NewSession(sink Sink, opts ...Option) (*Session, error) {
	if sink == nil {
		return nil, errors.New("voicebox: nil sink")
	}
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	perf := cfg.provider.Performance()
	manager := voice.NewManager(perf.MaxVoices, cfg.logger)
	manager.SetQualityLevel(perf.Quality)
	for _, inst := range perf.Instruments {
		manager.CreatePool(inst, 0)
	}

	s := &Session{
		provider: cfg.provider,
		voices:   manager,
		tuner:    tuning.NewResolver(),
		log:      cfg.logger,
	}
	s.sched = scheduler.New(manager, s.tuner, cfg.provider, sink, cfg.sched, cfg.logger)
	s.sched.SetEventFunc(s.relayEvent)

	if rs, ok := sink.(interface{ SetVoiceDoneFunc(func(string)) }); ok {
		rs.SetVoiceDoneFunc(manager.ReleaseVoice)
	}
	return s, nil
}

// Start schedules a sequence of note events. A running session is stopped
// first. When fusion is enabled the sequence is pre-passed through the
// fusion engine in timestamp order, so near-simultaneous events sound as
// chords.
func (s *Session) Start(events []*note.NoteEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.Stop()
	return s.sched.Start(buildSteps(events, s.provider, s.log))
}

// Stop halts the active session. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.Stop()
}

// State reports the scheduler lifecycle phase.
func (s *Session) State() scheduler.State { return s.sched.State() }

// Metrics snapshots voice-pool usage.
func (s *Session) Metrics() voice.Metrics { return s.voices.Metrics() }

// SetQualityLevel rescales every voice pool, releasing assignments at
// truncated slots.
func (s *Session) SetQualityLevel(level config.QualityLevel) {
	s.voices.SetQualityLevel(level)
}

// SetAdaptiveLimits changes the base per-instrument voice capacity.
func (s *Session) SetAdaptiveLimits(maxVoices int) {
	s.voices.SetAdaptiveLimits(maxVoices)
}

// Watch returns a channel of session events. Each call installs a fresh
// channel; events are dropped rather than blocking dispatch.
func (s *Session) Watch() <-chan SessionEvent {
	ch := make(chan SessionEvent, 16)
	s.eventChMu.Lock()
	s.eventCh = ch
	s.eventChMu.Unlock()
	return ch
}

func (s *Session) relayEvent(ev scheduler.Event) {
	out := SessionEvent{Err: ev.Err}
	switch ev.Kind {
	case scheduler.EventStarted:
		out.Kind = EventStarted
	case scheduler.EventTriggered:
		out.Kind = EventTriggered
		if ev.Step != nil {
			out.Label = ev.Step.Label
			out.Notes = len(ev.Step.Notes)
		}
	case scheduler.EventCompleted:
		out.Kind = EventCompleted
	case scheduler.EventStopped:
		out.Kind = EventStopped
	case scheduler.EventError:
		out.Kind = EventError
	}
	s.sendEvent(out)
}

func (s *Session) sendEvent(ev SessionEvent) {
	s.eventChMu.Lock()
	ch := s.eventCh
	s.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop rather than stall the tick goroutine.
		}
	}
}

// buildSteps runs the fusion pre-pass and produces offset-ordered scheduler
// steps: one per pass-through event, one per fused chord.
func buildSteps(events []*note.NoteEvent, provider config.Provider, log zerolog.Logger) []*scheduler.Step {
	sorted := make([]*note.NoteEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	eng := fusion.NewEngine(provider, log)
	var steps []*scheduler.Step
	add := func(out fusion.Output) {
		switch {
		case out.Note != nil:
			steps = append(steps, &scheduler.Step{
				Notes:  []*note.NoteEvent{out.Note},
				Offset: out.Note.Timestamp,
			})
		case out.Chord != nil:
			steps = append(steps, &scheduler.Step{
				Notes:  out.Chord.Notes,
				Label:  out.Chord.Label,
				Offset: out.Chord.Timestamp,
			})
		}
	}
	for _, ev := range sorted {
		if out, ok := eng.Feed(ev); ok {
			add(out)
		}
	}
	for {
		out, ok := eng.Flush()
		if !ok {
			break
		}
		add(out)
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Offset < steps[j].Offset })
	return steps
}
