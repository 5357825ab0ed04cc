package config

import (
	"sync"
	"time"

	"github.com/tbeaumont/voicebox/internal/note"
)

// FusionMode selects how the fusion engine treats a drained buffer.
type FusionMode string

const (
	FusionSmart  FusionMode = "smart"  // chord analysis, truncation, voicing
	FusionDirect FusionMode = "direct" // merge as-is, no analysis
)

// Voicing is the transform applied to a fused chord's pitches.
type Voicing string

const (
	VoicingCompact Voicing = "compact"
	VoicingSpread  Voicing = "spread"
	VoicingDrop2   Voicing = "drop2"
	VoicingDrop3   Voicing = "drop3"
)

// QualityLevel scales every voice pool's capacity.
type QualityLevel string

const (
	QualityLow    QualityLevel = "low"    // 0.5x
	QualityMedium QualityLevel = "medium" // 0.75x
	QualityHigh   QualityLevel = "high"   // 1x
)

// AssignStrategy picks how an unassigned event is mapped to an instrument.
type AssignStrategy string

const (
	AssignFrequency   AssignStrategy = "frequency"
	AssignRoundRobin  AssignStrategy = "round-robin"
	AssignConnections AssignStrategy = "connections"
)

// FusionSettings configures the chord fusion engine. Validated once at the
// settings boundary; invalid values are clamped, never errors.
type FusionSettings struct {
	Version         int
	Enabled         bool
	DisabledLayers  map[note.Layer]bool
	Window          time.Duration
	MinNotes        int
	Mode            FusionMode
	ComplexityLimit int
	Voicing         Voicing
}

// DefaultFusionSettings returns the baseline fusion configuration.
func DefaultFusionSettings() FusionSettings {
	return FusionSettings{
		Version:         1,
		Enabled:         true,
		Window:          200 * time.Millisecond,
		MinNotes:        2,
		Mode:            FusionSmart,
		ComplexityLimit: 6,
		Voicing:         VoicingCompact,
	}
}

// Validate clamps out-of-range values onto workable ones. Inconsistent
// settings degrade behavior rather than failing.
func (s FusionSettings) Validate() FusionSettings {
	if s.Version <= 0 {
		s.Version = 1
	}
	if s.Window <= 0 {
		s.Window = DefaultFusionSettings().Window
	}
	if s.MinNotes < 2 {
		s.MinNotes = 2
	}
	if s.ComplexityLimit < 2 {
		s.ComplexityLimit = DefaultFusionSettings().ComplexityLimit
	}
	switch s.Mode {
	case FusionSmart, FusionDirect:
	default:
		s.Mode = FusionSmart
	}
	switch s.Voicing {
	case VoicingCompact, VoicingSpread, VoicingDrop2, VoicingDrop3:
	default:
		s.Voicing = VoicingCompact
	}
	return s
}

// LayerEnabled reports whether fusion applies to events on the given layer.
func (s FusionSettings) LayerEnabled(l note.Layer) bool {
	if s.DisabledLayers == nil {
		return true
	}
	return !s.DisabledLayers[l]
}

// PerformanceSettings configures voice pools, detuning, and instrument
// assignment.
type PerformanceSettings struct {
	Version       int
	DetuneEnabled bool
	Quality       QualityLevel
	MaxVoices     int // base per-instrument pool capacity
	Instruments   []string
	Strategy      AssignStrategy
}

// DefaultPerformanceSettings returns the baseline performance configuration.
func DefaultPerformanceSettings() PerformanceSettings {
	return PerformanceSettings{
		Version:       1,
		DetuneEnabled: true,
		Quality:       QualityHigh,
		MaxVoices:     8,
		Instruments:   []string{"piano", "bass", "pad", "lead", "bell"},
		Strategy:      AssignFrequency,
	}
}

// Validate clamps out-of-range values onto workable ones.
func (s PerformanceSettings) Validate() PerformanceSettings {
	if s.Version <= 0 {
		s.Version = 1
	}
	switch s.Quality {
	case QualityLow, QualityMedium, QualityHigh:
	default:
		s.Quality = QualityHigh
	}
	if s.MaxVoices < 1 {
		s.MaxVoices = DefaultPerformanceSettings().MaxVoices
	}
	if len(s.Instruments) == 0 {
		s.Instruments = DefaultPerformanceSettings().Instruments
	}
	switch s.Strategy {
	case AssignFrequency, AssignRoundRobin, AssignConnections:
	default:
		s.Strategy = AssignFrequency
	}
	return s
}

// QualityMultiplier returns the pool capacity scale for a quality level.
func (q QualityLevel) QualityMultiplier() float64 {
	switch q {
	case QualityLow:
		return 0.5
	case QualityMedium:
		return 0.75
	default:
		return 1.0
	}
}

// Provider supplies live settings. Implementations may change values between
// scheduler ticks; consumers re-read on every call.
type Provider interface {
	Fusion() FusionSettings
	Performance() PerformanceSettings
}

// Static is a Provider with fixed settings, validated at construction.
type Static struct {
	fusion FusionSettings
	perf   PerformanceSettings
}

// NewStatic builds a Static provider from the given settings.
func NewStatic(f FusionSettings, p PerformanceSettings) *Static {
	return &Static{fusion: f.Validate(), perf: p.Validate()}
}

func (s *Static) Fusion() FusionSettings           { return s.fusion }
func (s *Static) Performance() PerformanceSettings { return s.perf }

// Live is a Provider whose settings can be swapped at runtime. Swaps take
// effect on the next read; validation happens on the way in.
type Live struct {
	mu     sync.RWMutex
	fusion FusionSettings
	perf   PerformanceSettings
}

// NewLive builds a Live provider seeded with the given settings.
func NewLive(f FusionSettings, p PerformanceSettings) *Live {
	return &Live{fusion: f.Validate(), perf: p.Validate()}
}

func (l *Live) Fusion() FusionSettings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fusion
}

func (l *Live) Performance() PerformanceSettings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.perf
}

// SetFusion swaps the fusion settings.
func (l *Live) SetFusion(f FusionSettings) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fusion = f.Validate()
}

// SetPerformance swaps the performance settings.
func (l *Live) SetPerformance(p PerformanceSettings) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perf = p.Validate()
}
