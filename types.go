package voicebox

import (
	"github.com/tbeaumont/voicebox/internal/config"
	"github.com/tbeaumont/voicebox/internal/note"
	"github.com/tbeaumont/voicebox/internal/scheduler"
	"github.com/tbeaumont/voicebox/internal/voice"
)

// Aliases lifting the event model and settings types to the module surface,
// so callers never import internal packages.

type (
	NoteEvent  = note.NoteEvent
	ChordGroup = note.ChordGroup
	Layer      = note.Layer

	FusionSettings      = config.FusionSettings
	PerformanceSettings = config.PerformanceSettings
	SettingsProvider    = config.Provider
	LiveProvider        = config.Live
	QualityLevel        = config.QualityLevel

	SchedulerConfig = scheduler.Config
	State           = scheduler.State

	VoiceMetrics = voice.Metrics
)

const (
	LayerMelodic    = note.LayerMelodic
	LayerHarmonic   = note.LayerHarmonic
	LayerRhythmic   = note.LayerRhythmic
	LayerAmbient    = note.LayerAmbient
	LayerPercussion = note.LayerPercussion

	QualityLow    = config.QualityLow
	QualityMedium = config.QualityMedium
	QualityHigh   = config.QualityHigh

	StateIdle      = scheduler.StateIdle
	StatePlaying   = scheduler.StatePlaying
	StateCompleted = scheduler.StateCompleted
	StateStopped   = scheduler.StateStopped
)

// DefaultFusionSettings returns the baseline fusion configuration.
func DefaultFusionSettings() FusionSettings { return config.DefaultFusionSettings() }

// DefaultPerformanceSettings returns the baseline performance configuration.
func DefaultPerformanceSettings() PerformanceSettings { return config.DefaultPerformanceSettings() }

// DefaultSchedulerConfig returns the standard dispatch timing.
func DefaultSchedulerConfig() SchedulerConfig { return scheduler.DefaultConfig() }

// NewStaticProvider wraps fixed settings, validated once.
func NewStaticProvider(f FusionSettings, p PerformanceSettings) SettingsProvider {
	return config.NewStatic(f, p)
}

// NewLiveProvider wraps settings that may be swapped between ticks.
func NewLiveProvider(f FusionSettings, p PerformanceSettings) *LiveProvider {
	return config.NewLive(f, p)
}

// LoadSettingsFile reads a TOML settings file overlaid onto the defaults.
func LoadSettingsFile(path string) (FusionSettings, PerformanceSettings, error) {
	return config.LoadFile(path)
}
