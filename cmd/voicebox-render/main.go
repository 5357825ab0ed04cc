package main

import (
	"flag"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/tbeaumont/voicebox"
	"github.com/tbeaumont/voicebox/internal/source"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		configPath = flag.String("config", "", "path to a TOML settings file")
		midiPath   = flag.String("midi", "", "path to a Standard MIDI File to render")
		outPath    = flag.String("o", "out.wav", "output WAV path")
		seconds    = flag.Float64("seconds", 0, "render length (0 = sequence length + tail)")
	)
	flag.Parse()

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Str("app", "voicebox-render").Logger()

	if *midiPath == "" {
		logger.Fatal().Msg("-midi is required")
	}

	fus := voicebox.DefaultFusionSettings()
	perf := voicebox.DefaultPerformanceSettings()
	if *configPath != "" {
		var err error
		fus, perf, err = voicebox.LoadSettingsFile(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("settings file")
		}
	}

	events, err := source.LoadSMF(*midiPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load midi")
	}
	logger.Info().Int("events", len(events)).Msg("sequence loaded")

	samples := voicebox.RenderSequence(events, voicebox.NewStaticProvider(fus, perf), *sampleRate, *seconds)

	if err := writeWAV(*outPath, samples, *sampleRate); err != nil {
		logger.Fatal().Err(err).Msg("write wav")
	}
	logger.Info().Str("path", *outPath).
		Float64("seconds", float64(len(samples)/2)/float64(*sampleRate)).Msg("rendered")
}

// writeWAV encodes interleaved stereo float32 samples as 16-bit PCM.
func writeWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
