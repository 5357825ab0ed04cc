package voicebox

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbeaumont/voicebox/internal/config"
	"github.com/tbeaumont/voicebox/internal/note"
	"github.com/tbeaumont/voicebox/internal/scheduler"
)

type countingSink struct {
	mu    sync.Mutex
	calls int
	insts []string
}

func (c *countingSink) Trigger(instrument string, freq float64, duration float64, startTime time.Time, velocity float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.insts = append(c.insts, instrument)
	return nil
}

func (c *countingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type doneAwareSink struct {
	countingSink
	doneFn func(string)
}

func (d *doneAwareSink) SetVoiceDoneFunc(fn func(string)) { d.doneFn = fn }

// fastConfig keeps real-time session tests under a second.
func fastConfig() SchedulerConfig {
	return SchedulerConfig{
		Tick:           5 * time.Millisecond,
		EarlyLookahead: 30 * time.Millisecond,
		LatePadding:    50 * time.Millisecond,
		TrailingBuffer: 10 * time.Millisecond,
	}
}

func mkEvent(label string, pitch float64, atMS int64) *note.NoteEvent {
	return &note.NoteEvent{Label: label, Pitch: pitch, Velocity: 0.8, Timestamp: atMS, Duration: 0.01}
}

func TestNewSessionRejectsNilSink(t *testing.T) {
	if _, err := NewSession(nil); err == nil {
		t.Fatal("nil sink accepted")
	}
}

func TestStartEmptySequence(t *testing.T) {
	s, err := NewSession(&countingSink{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Start(nil); !errors.Is(err, scheduler.ErrEmptySequence) {
		t.Fatalf("Start(nil) = %v, want ErrEmptySequence", err)
	}
}

func TestSessionWiresVoiceDoneCallback(t *testing.T) {
	sink := &doneAwareSink{}
	if _, err := NewSession(sink); err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if sink.doneFn == nil {
		t.Fatal("sink exposing SetVoiceDoneFunc was not wired")
	}
	sink.doneFn("piano#1") // releasing an unknown requester must be harmless
}

func TestSessionPlaysSequenceToCompletion(t *testing.T) {
	sink := &countingSink{}
	s, err := NewSession(sink, WithSchedulerConfig(fastConfig()), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	events := s.Watch()

	// 400ms apart so the default fusion window leaves them separate.
	seq := []*note.NoteEvent{mkEvent("a", 261.63, 0), mkEvent("b", 329.63, 400)}
	if err := s.Start(seq); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	triggered := 0
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventTriggered:
				triggered++
			case EventCompleted:
				if triggered != 2 {
					t.Fatalf("completed after %d triggers, want 2", triggered)
				}
				if got := s.State(); got != StateCompleted {
					t.Fatalf("state = %v, want completed", got)
				}
				if sink.count() != 2 {
					t.Fatalf("sink saw %d calls, want 2", sink.count())
				}
				return
			case EventError:
				t.Fatalf("session error: %v", ev.Err)
			}
		case <-deadline:
			t.Fatalf("session never completed; %d triggers so far", triggered)
		}
	}
}

func TestSessionFusesClusterIntoChord(t *testing.T) {
	sink := &countingSink{}
	s, err := NewSession(sink, WithSchedulerConfig(fastConfig()))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	events := s.Watch()

	seq := []*note.NoteEvent{
		mkEvent("c", 261.63, 0),
		mkEvent("e", 329.63, 30),
		mkEvent("g", 392.00, 60),
	}
	if err := s.Start(seq); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind != EventTriggered {
				continue
			}
			if ev.Notes != 3 {
				t.Fatalf("chord trigger carried %d notes, want 3", ev.Notes)
			}
			if ev.Label != "major" {
				t.Fatalf("chord label = %q, want major", ev.Label)
			}
			return
		case <-deadline:
			t.Fatal("chord trigger never arrived")
		}
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	s, err := NewSession(&countingSink{}, WithSchedulerConfig(fastConfig()))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Start([]*note.NoteEvent{mkEvent("a", 440, 0)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()
	if got := s.State(); got != StateStopped {
		t.Fatalf("state = %v, want stopped", got)
	}
	if active := s.Metrics().Active; active != 0 {
		t.Fatalf("stop left %d live voices", active)
	}
}

func TestBuildStepsFusionPrePass(t *testing.T) {
	provider := config.NewStatic(config.DefaultFusionSettings(), config.DefaultPerformanceSettings())

	// Cluster at 0/30/60ms plus a lone note well past the 200ms window.
	evs := []*note.NoteEvent{
		mkEvent("g", 392.00, 60),
		mkEvent("c", 261.63, 0),
		mkEvent("e", 329.63, 30),
		mkEvent("lone", 220, 900),
	}
	steps := buildSteps(evs, provider, zerolog.Nop())

	if len(steps) != 2 {
		t.Fatalf("got %d steps, want chord + lone note", len(steps))
	}
	if len(steps[0].Notes) != 3 || steps[0].Label != "major" {
		t.Fatalf("first step = %d notes label %q, want 3-note major", len(steps[0].Notes), steps[0].Label)
	}
	if steps[0].Offset != 0 {
		t.Errorf("chord offset = %d, want 0 (first buffered event)", steps[0].Offset)
	}
	if len(steps[1].Notes) != 1 || steps[1].Offset != 900 {
		t.Fatalf("second step = %d notes at %d, want lone note at 900", len(steps[1].Notes), steps[1].Offset)
	}
}

func TestBuildStepsDisabledFusionPassesThrough(t *testing.T) {
	f := config.DefaultFusionSettings()
	f.Enabled = false
	provider := config.NewStatic(f, config.DefaultPerformanceSettings())

	evs := []*note.NoteEvent{
		mkEvent("c", 261.63, 0),
		mkEvent("e", 329.63, 30),
	}
	steps := buildSteps(evs, provider, zerolog.Nop())
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2 pass-through notes", len(steps))
	}
	for i, st := range steps {
		if len(st.Notes) != 1 {
			t.Fatalf("step %d has %d notes, want 1", i, len(st.Notes))
		}
	}
}
