package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbeaumont/voicebox/internal/config"
	"github.com/tbeaumont/voicebox/internal/note"
	"github.com/tbeaumont/voicebox/internal/tuning"
	"github.com/tbeaumont/voicebox/internal/voice"
)

type sinkCall struct {
	instrument string
	freq       float64
	duration   float64
	velocity   float64
}

type recordingSink struct {
	calls   []sinkCall
	failAll bool
}

func (r *recordingSink) Trigger(instrument string, freq float64, duration float64, startTime time.Time, velocity float64) error {
	if r.failAll {
		return errors.New("sink down")
	}
	r.calls = append(r.calls, sinkCall{instrument, freq, duration, velocity})
	return nil
}

// testScheduler builds a scheduler with a controllable clock and an inert
// ticker, so tests drive Tick directly.
func testScheduler(sink Sink, cfg Config) (*Scheduler, *time.Time, *[]Event) {
	manager := voice.NewManager(4, zerolog.Nop())
	tuner := tuning.NewResolver()
	provider := config.NewStatic(config.DefaultFusionSettings(), config.DefaultPerformanceSettings())
	if cfg.Tick == 0 {
		cfg.Tick = time.Hour // tests call Tick themselves
	}
	s := New(manager, tuner, provider, sink, cfg, zerolog.Nop())

	now := time.Unix(2000, 0)
	s.now = func() time.Time { return now }
	tuner.SetClock(s.now)

	var events []Event
	s.SetEventFunc(func(ev Event) { events = append(events, ev) })
	return s, &now, &events
}

func mkStep(offsetMS int64, pitch, duration float64) *Step {
	return &Step{
		Notes:  []*note.NoteEvent{{Label: "n", Pitch: pitch, Velocity: 0.8, Timestamp: offsetMS, Duration: duration}},
		Offset: offsetMS,
	}
}

func TestStartRejectsEmptySequence(t *testing.T) {
	s, _, _ := testScheduler(&recordingSink{}, Config{})
	if err := s.Start(nil); !errors.Is(err, ErrEmptySequence) {
		t.Fatalf("Start(nil) = %v, want ErrEmptySequence", err)
	}
	if got := s.State(); got != StateIdle {
		t.Fatalf("state after rejected start = %v, want idle", got)
	}
}

func TestMalformedNotesAreSkippedNotFatal(t *testing.T) {
	sink := &recordingSink{}
	s, now, _ := testScheduler(sink, Config{})
	steps := []*Step{
		mkStep(0, -5, 0.5), // invalid pitch
		mkStep(0, 440, 0),  // invalid duration
		mkStep(0, 440, 0.5),
	}
	if err := s.Start(steps); err != nil {
		t.Fatalf("Start = %v, want nil with malformed entries skipped", err)
	}
	*now = now.Add(100 * time.Millisecond)
	s.Tick()
	if len(sink.calls) != 1 {
		t.Fatalf("sink saw %d calls, want 1 (only the valid note)", len(sink.calls))
	}
	s.Stop()
}

func TestSequenceTriggersExactlyOnceAndCompletes(t *testing.T) {
	sink := &recordingSink{}
	s, now, events := testScheduler(sink, Config{})
	steps := []*Step{
		mkStep(0, 261.63, 0.5),
		mkStep(1000, 329.63, 0.5),
		mkStep(2000, 392.00, 0.5),
	}
	if err := s.Start(steps); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Walk elapsed time through the whole session in 400ms ticks, offset
	// from the note grid so ticks never land exactly on an offset boundary.
	*now = now.Add(100 * time.Millisecond)
	s.Tick()
	for i := 0; i < 9; i++ {
		*now = now.Add(400 * time.Millisecond)
		s.Tick()
	}

	if len(sink.calls) != 3 {
		t.Fatalf("sink saw %d calls, want 3", len(sink.calls))
	}
	for _, st := range steps {
		if !st.Notes[0].Triggered() {
			t.Fatalf("note at %dms never triggered", st.Offset)
		}
	}
	if got := s.State(); got != StateCompleted {
		t.Fatalf("state = %v, want completed (elapsed 4s > 2.5s end + 1s trail)", got)
	}
	last := (*events)[len(*events)-1]
	if last.Kind != EventCompleted {
		t.Fatalf("last event = %v, want EventCompleted", last.Kind)
	}
}

func TestOneStepPerTick(t *testing.T) {
	sink := &recordingSink{}
	s, now, _ := testScheduler(sink, Config{})
	if err := s.Start([]*Step{mkStep(0, 261.63, 0.3), mkStep(50, 329.63, 0.3)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	*now = now.Add(100 * time.Millisecond)
	s.Tick()
	if len(sink.calls) != 1 {
		t.Fatalf("one tick dispatched %d steps, want 1", len(sink.calls))
	}
	s.Tick()
	if len(sink.calls) != 2 {
		t.Fatalf("second tick dispatched %d total, want 2", len(sink.calls))
	}
	s.Stop()
}

func TestMinSpacingSkipsTickWithoutDroppingNote(t *testing.T) {
	sink := &recordingSink{}
	s, now, _ := testScheduler(sink, Config{MinSpacing: 300 * time.Millisecond})
	if err := s.Start([]*Step{mkStep(0, 261.63, 0.3), mkStep(100, 329.63, 0.3)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	*now = now.Add(100 * time.Millisecond)
	s.Tick()
	*now = now.Add(100 * time.Millisecond)
	s.Tick() // 200ms since last trigger: spacing violated, tick skipped
	if len(sink.calls) != 1 {
		t.Fatalf("spacing violation still dispatched: %d calls", len(sink.calls))
	}
	*now = now.Add(200 * time.Millisecond)
	s.Tick() // 400ms since last trigger: candidate still eligible
	if len(sink.calls) != 2 {
		t.Fatalf("candidate was dropped instead of deferred: %d calls", len(sink.calls))
	}
	s.Stop()
}

func TestSinkFailureContinuesSession(t *testing.T) {
	sink := &recordingSink{failAll: true}
	s, now, _ := testScheduler(sink, Config{})
	if err := s.Start([]*Step{mkStep(0, 261.63, 0.3)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	*now = now.Add(100 * time.Millisecond)
	s.Tick()
	if got := s.State(); got != StatePlaying {
		t.Fatalf("state after sink failure = %v, want still playing", got)
	}
	if active := s.voices.Metrics().Active; active != 0 {
		t.Fatalf("failed trigger left %d voices allocated", active)
	}
	s.Stop()
}

func TestVoicesReleasedAfterNominalDuration(t *testing.T) {
	sink := &recordingSink{}
	s, now, _ := testScheduler(sink, Config{})
	if err := s.Start([]*Step{mkStep(0, 261.63, 0.3)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	*now = now.Add(100 * time.Millisecond)
	s.Tick()
	if active := s.voices.Metrics().Active; active != 1 {
		t.Fatalf("active after dispatch = %d, want 1", active)
	}
	*now = now.Add(500 * time.Millisecond)
	s.Tick()
	if active := s.voices.Metrics().Active; active != 0 {
		t.Fatalf("active after nominal duration = %d, want 0", active)
	}
	s.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	s, _, events := testScheduler(sink, Config{})
	if err := s.Start([]*Step{mkStep(0, 261.63, 0.3)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	if got := s.State(); got != StateStopped {
		t.Fatalf("state = %v, want stopped", got)
	}
	before := len(*events)
	s.Stop()
	if len(*events) != before {
		t.Fatal("second Stop produced additional side effects")
	}
}

func TestStopDiscardsRemainingAndReleasesVoices(t *testing.T) {
	sink := &recordingSink{}
	s, now, _ := testScheduler(sink, Config{})
	steps := []*Step{mkStep(0, 261.63, 5), mkStep(1000, 329.63, 5)}
	if err := s.Start(steps); err != nil {
		t.Fatalf("Start: %v", err)
	}
	*now = now.Add(100 * time.Millisecond)
	s.Tick()
	s.Stop()
	if active := s.voices.Metrics().Active; active != 0 {
		t.Fatalf("stop left %d live voices", active)
	}
	*now = now.Add(2 * time.Second)
	s.Tick() // must be a no-op after stop
	if len(sink.calls) != 1 {
		t.Fatalf("dispatch after Stop: %d calls, want 1", len(sink.calls))
	}
}

func TestRestartResetsTriggeredMarkers(t *testing.T) {
	sink := &recordingSink{}
	s, now, _ := testScheduler(sink, Config{})
	st := mkStep(0, 261.63, 0.3)
	if err := s.Start([]*Step{st}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	*now = now.Add(100 * time.Millisecond)
	s.Tick()
	s.Stop()
	if err := s.Start([]*Step{st}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if st.Notes[0].Triggered() {
		t.Fatal("restart did not reset triggered marker")
	}
	s.Stop()
}

func TestErrorStateReportsThenSettlesStopped(t *testing.T) {
	sink := &recordingSink{}
	s, _, events := testScheduler(sink, Config{})
	if err := s.Start([]*Step{mkStep(0, 261.63, 0.3)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.mu.Lock()
	s.failLocked(errors.New("boom"))
	s.mu.Unlock()

	if got := s.State(); got != StateStopped {
		t.Fatalf("state after failure = %v, want stopped", got)
	}
	var sawError bool
	for _, ev := range *events {
		if ev.Kind == EventError && ev.Err != nil {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("error was never reported")
	}
}
