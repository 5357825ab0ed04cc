package voice

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbeaumont/voicebox/internal/config"
	"github.com/tbeaumont/voicebox/internal/note"
)

const (
	defaultPoolSize    = 8
	defaultIdleTimeout = 5 * time.Minute
	minPoolSize        = 2
)

// cpuPerVoice is the rough per-voice CPU share reported by Metrics, in
// percent. It only needs to rank instruments against each other.
const cpuPerVoice = 0.6

// PoolMetrics is the per-instrument slice of Metrics.
type PoolMetrics struct {
	Total       int
	Active      int
	Available   int
	CPUEstimate float64
}

// Metrics is a snapshot of manager-wide voice usage.
type Metrics struct {
	Instruments map[string]PoolMetrics
	Total       int
	Active      int
	CPUEstimate float64
}

// Manager owns a fixed-capacity voice pool per instrument. Allocation never
// fails: when a pool is saturated the next slot in rotation is stolen.
//
// The scheduler is the primary writer, but release notifications can arrive
// from the audio thread, so the manager carries its own lock.
type Manager struct {
	mu          sync.Mutex
	pools       map[string]*pool
	byRequester map[string]*note.VoiceAssignment
	rrCounter   uint64 // owned counter for round-robin assignment
	baseSize    int
	quality     config.QualityLevel
	idleTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger

	// OnSteal, when set, is invoked synchronously with the assignment that
	// was displaced by a steal. It runs under the manager lock and must not
	// call back into the Manager.
	OnSteal func(stolen note.VoiceAssignment)
}

// NewManager builds a manager with the given base pool capacity.
func NewManager(baseSize int, logger zerolog.Logger) *Manager {
	if baseSize < 1 {
		baseSize = defaultPoolSize
	}
	return &Manager{
		pools:       make(map[string]*pool),
		byRequester: make(map[string]*note.VoiceAssignment),
		baseSize:    baseSize,
		quality:     config.QualityHigh,
		idleTimeout: defaultIdleTimeout,
		now:         time.Now,
		log:         logger,
	}
}

// effectiveSize applies the quality multiplier to the base capacity.
func (m *Manager) effectiveSize() int {
	size := int(math.Floor(float64(m.baseSize) * m.quality.QualityMultiplier()))
	if size < minPoolSize {
		size = minPoolSize
	}
	return size
}

// CreatePool builds the pool for an instrument if it does not exist yet.
// size <= 0 uses the quality-scaled base capacity. Idempotent.
func (m *Manager) CreatePool(instrument string, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createPoolLocked(instrument, size)
}

func (m *Manager) createPoolLocked(instrument string, size int) {
	if _, ok := m.pools[instrument]; ok {
		return
	}
	if size <= 0 {
		size = m.effectiveSize()
	}
	m.pools[instrument] = newPool(instrument, size)
	m.log.Debug().Str("instrument", instrument).Int("size", size).Msg("voice pool created")
}

// AssignInstrument resolves which enabled instrument should realize a
// request. It is a pure selection: no pool state is touched.
func (m *Manager) AssignInstrument(strategy config.AssignStrategy, identity string, pitch float64, enabled []string) string {
	if len(enabled) == 0 {
		return ""
	}
	switch strategy {
	case config.AssignRoundRobin:
		m.mu.Lock()
		idx := m.rrCounter % uint64(len(enabled))
		m.rrCounter++
		m.mu.Unlock()
		return enabled[idx]
	case config.AssignConnections:
		h := fnv.New32a()
		h.Write([]byte(identity))
		return enabled[h.Sum32()%uint32(len(enabled))]
	default: // frequency
		for _, family := range familiesForPitch(pitch) {
			for _, inst := range enabled {
				if inst == family {
					return inst
				}
			}
		}
		return enabled[0]
	}
}

// familiesForPitch maps a pitch range to preferred instrument families, in
// preference order.
func familiesForPitch(pitch float64) []string {
	switch {
	case pitch <= 0:
		return nil
	case pitch < 131: // below ~C3
		return []string{"bass", "pad"}
	case pitch < 523: // up to ~C5
		return []string{"piano", "pad"}
	case pitch < 1047: // up to ~C6
		return []string{"lead", "piano"}
	default:
		return []string{"bell", "lead"}
	}
}

// AllocateVoice claims a slot for the requester, stealing one when the pool
// is full. It never fails. An unknown instrument lazily creates its pool;
// a requester that already holds a voice has its old claim released first.
func (m *Manager) AllocateVoice(instrument, requesterID string) note.VoiceAssignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createPoolLocked(instrument, 0)
	p := m.pools[instrument]
	m.releaseLocked(requesterID)

	idx, ok := p.takeFree()
	if !ok {
		idx = p.nextStealIndex()
		if old := p.slots[idx].assignment; old != nil {
			delete(m.byRequester, old.RequesterID)
			stolen := *old
			p.slots[idx].assignment = nil
			if m.OnSteal != nil {
				m.OnSteal(stolen)
			}
			m.log.Debug().Str("instrument", instrument).Int("slot", idx).
				Str("stolen_from", stolen.RequesterID).Msg("voice stolen")
		}
		delete(p.available, idx)
	}

	a := &note.VoiceAssignment{RequesterID: requesterID, Instrument: instrument, Slot: idx}
	p.slots[idx].assignment = a
	p.slots[idx].lastUsed = m.now()
	m.byRequester[requesterID] = a
	return *a
}

// ReleaseVoice frees the requester's slot. Unknown requesters are a no-op.
func (m *Manager) ReleaseVoice(requesterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(requesterID)
}

func (m *Manager) releaseLocked(requesterID string) {
	a, ok := m.byRequester[requesterID]
	if !ok {
		return
	}
	delete(m.byRequester, requesterID)
	p, ok := m.pools[a.Instrument]
	if !ok {
		return
	}
	if a.Slot < len(p.slots) && p.slots[a.Slot].assignment == a {
		p.free(a.Slot, m.now())
	}
}

// ReleaseAll frees every live assignment.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.byRequester {
		m.releaseLocked(id)
	}
}

// SetQualityLevel rescales every pool. Shrinking releases any assignment at
// a truncated index as part of the same operation.
func (m *Manager) SetQualityLevel(level config.QualityLevel) {
	switch level {
	case config.QualityLow, config.QualityMedium, config.QualityHigh:
	default:
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quality = level
	m.resizeAllLocked()
}

// SetAdaptiveLimits changes the base per-instrument capacity and rescales
// every pool.
func (m *Manager) SetAdaptiveLimits(baseSize int) {
	if baseSize < 1 {
		baseSize = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseSize = baseSize
	m.resizeAllLocked()
}

func (m *Manager) resizeAllLocked() {
	target := m.effectiveSize()
	for _, p := range m.pools {
		for _, a := range p.resize(target) {
			delete(m.byRequester, a.RequesterID)
		}
	}
	m.log.Debug().Int("capacity", target).Str("quality", string(m.quality)).Msg("voice pools resized")
}

// Metrics reports per-instrument and aggregate voice usage.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Metrics{Instruments: make(map[string]PoolMetrics, len(m.pools))}
	for name, p := range m.pools {
		active := p.active()
		pm := PoolMetrics{
			Total:       len(p.slots),
			Active:      active,
			Available:   len(p.slots) - active,
			CPUEstimate: float64(active) * cpuPerVoice,
		}
		out.Instruments[name] = pm
		out.Total += pm.Total
		out.Active += pm.Active
		out.CPUEstimate += pm.CPUEstimate
	}
	return out
}

// Cleanup rebuilds every available set from ground truth and releases
// assignments idle past the timeout. It recovers slots whose release
// notification never arrived.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, p := range m.pools {
		p.rebuildAvailable()
		for i := range p.slots {
			a := p.slots[i].assignment
			if a == nil {
				continue
			}
			if now.Sub(p.slots[i].lastUsed) > m.idleTimeout {
				m.log.Debug().Str("instrument", p.instrument).Int("slot", i).
					Str("requester", a.RequesterID).Msg("reclaiming idle voice")
				delete(m.byRequester, a.RequesterID)
				p.free(i, now)
			}
		}
	}
}
