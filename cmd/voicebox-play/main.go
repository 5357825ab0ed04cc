package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbeaumont/voicebox"
	"github.com/tbeaumont/voicebox/internal/audio"
	"github.com/tbeaumont/voicebox/internal/source"
	"github.com/tbeaumont/voicebox/internal/synth"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		configPath = flag.String("config", "", "path to a TOML settings file")
		midiPath   = flag.String("midi", "", "path to a Standard MIDI File to play")
		tickMS     = flag.Int("tick", 400, "scheduler tick in milliseconds")
		volume     = flag.Float64("volume", 1.0, "master gain scalar")
		verbose    = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	logger := initLogger(*verbose)

	fus := voicebox.DefaultFusionSettings()
	perf := voicebox.DefaultPerformanceSettings()
	if *configPath != "" {
		var err error
		fus, perf, err = voicebox.LoadSettingsFile(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("settings file")
		}
	}

	events, err := loadEvents(*midiPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("event source")
	}

	engine := synth.New(*sampleRate, synth.DefaultParams())
	engine.SetMasterGain(0.5 * *volume)

	schedCfg := voicebox.DefaultSchedulerConfig()
	if *tickMS > 0 {
		schedCfg.Tick = time.Duration(*tickMS) * time.Millisecond
	}

	sess, err := voicebox.NewSession(engine,
		voicebox.WithProvider(voicebox.NewStaticProvider(fus, perf)),
		voicebox.WithSchedulerConfig(schedCfg),
		voicebox.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("session")
	}

	out, err := audio.NewOutput(*sampleRate, engine)
	if err != nil {
		logger.Fatal().Err(err).Msg("audio output")
	}
	defer out.Close()
	out.Start()

	ch := sess.Watch()
	if err := sess.Start(events); err != nil {
		logger.Fatal().Err(err).Msg("start")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			logger.Info().Msg("interrupted")
			sess.Stop()
		case ev := <-ch:
			switch ev.Kind {
			case voicebox.EventTriggered:
				if ev.Label != "" {
					fmt.Printf("chord %s (%d notes)\n", ev.Label, ev.Notes)
				}
			case voicebox.EventCompleted:
				fmt.Println("playback completed")
				waitForTails(engine)
				return
			case voicebox.EventStopped:
				fmt.Println("playback stopped")
				return
			case voicebox.EventError:
				logger.Error().Err(ev.Err).Msg("session error")
				return
			}
		}
	}
}

func initLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", "voicebox-play").Logger()
}

func loadEvents(midiPath string) ([]*voicebox.NoteEvent, error) {
	if midiPath != "" {
		return source.LoadSMF(midiPath)
	}
	return demoSequence(), nil
}

// demoSequence is a short built-in program: a C major arpeggio, then three
// near-simultaneous notes the fusion engine merges into one chord.
func demoSequence() []*voicebox.NoteEvent {
	mk := func(label string, pitch float64, at int64, dur float64) *voicebox.NoteEvent {
		return &voicebox.NoteEvent{Label: label, Pitch: pitch, Velocity: 0.8, Timestamp: at, Duration: dur, Layer: voicebox.LayerMelodic}
	}
	return []*voicebox.NoteEvent{
		mk("c4", 261.63, 0, 0.6),
		mk("e4", 329.63, 600, 0.6),
		mk("g4", 392.00, 1200, 0.6),
		mk("c5", 523.25, 1800, 0.9),
		// Cluster inside the fusion window.
		mk("c4", 261.63, 3000, 1.5),
		mk("e4", 329.63, 3040, 1.5),
		mk("g4", 392.00, 3080, 1.5),
	}
}

// waitForTails lets release envelopes finish before the process exits.
func waitForTails(engine *synth.Engine) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if engine.ActiveVoiceCount() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
