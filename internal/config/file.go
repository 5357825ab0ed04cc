package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tbeaumont/voicebox/internal/note"
)

// fileConfig is the TOML key mapping for a voicebox settings file.
type fileConfig struct {
	Fusion      fusionFile `toml:"fusion"`
	Performance perfFile   `toml:"performance"`
}

type fusionFile struct {
	Enabled         bool     `toml:"enabled"`
	WindowMS        int      `toml:"window_ms"`
	MinNotes        int      `toml:"min_notes"`
	Mode            string   `toml:"mode"`
	ComplexityLimit int      `toml:"complexity_limit"`
	Voicing         string   `toml:"voicing"`
	DisabledLayers  []string `toml:"disabled_layers"`
}

type perfFile struct {
	DetuneEnabled bool     `toml:"detune_enabled"`
	Quality       string   `toml:"quality"`
	MaxVoices     int      `toml:"max_voices"`
	Instruments   []string `toml:"instruments"`
	Strategy      string   `toml:"strategy"`
}

// LoadFile reads a TOML settings file and overlays it onto the defaults.
// Keys absent from the file keep their default values; present keys are
// validated (clamped) on the way out.
func LoadFile(path string) (FusionSettings, PerformanceSettings, error) {
	f := DefaultFusionSettings()
	p := DefaultPerformanceSettings()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return FusionSettings{}, PerformanceSettings{}, fmt.Errorf("load settings: %w", err)
	}

	if meta.IsDefined("fusion", "enabled") {
		f.Enabled = raw.Fusion.Enabled
	}
	if meta.IsDefined("fusion", "window_ms") {
		f.Window = time.Duration(raw.Fusion.WindowMS) * time.Millisecond
	}
	if meta.IsDefined("fusion", "min_notes") {
		f.MinNotes = raw.Fusion.MinNotes
	}
	if meta.IsDefined("fusion", "mode") {
		f.Mode = FusionMode(raw.Fusion.Mode)
	}
	if meta.IsDefined("fusion", "complexity_limit") {
		f.ComplexityLimit = raw.Fusion.ComplexityLimit
	}
	if meta.IsDefined("fusion", "voicing") {
		f.Voicing = Voicing(raw.Fusion.Voicing)
	}
	if meta.IsDefined("fusion", "disabled_layers") {
		f.DisabledLayers = make(map[note.Layer]bool, len(raw.Fusion.DisabledLayers))
		for _, l := range raw.Fusion.DisabledLayers {
			f.DisabledLayers[note.Layer(l)] = true
		}
	}

	if meta.IsDefined("performance", "detune_enabled") {
		p.DetuneEnabled = raw.Performance.DetuneEnabled
	}
	if meta.IsDefined("performance", "quality") {
		p.Quality = QualityLevel(raw.Performance.Quality)
	}
	if meta.IsDefined("performance", "max_voices") {
		p.MaxVoices = raw.Performance.MaxVoices
	}
	if meta.IsDefined("performance", "instruments") {
		p.Instruments = raw.Performance.Instruments
	}
	if meta.IsDefined("performance", "strategy") {
		p.Strategy = AssignStrategy(raw.Performance.Strategy)
	}

	return f.Validate(), p.Validate(), nil
}
