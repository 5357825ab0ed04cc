package tuning

import (
	"math"
	"math/rand"
	"time"
)

const (
	// defaultWindow is the span within which two triggers of the same
	// rounded frequency are likely to phase-cancel or beat audibly.
	defaultWindow = 50 * time.Millisecond
	// staleAfter bounds memory: entries older than this are pruned.
	staleAfter = 200 * time.Millisecond
	// pruneEvery amortizes pruning over calls.
	pruneEvery = 32
	// maxDetune is the relative detune ceiling, 0.1%. Large enough to break
	// exact phase alignment, far below the ~0.6% pitch discrimination limit.
	maxDetune = 0.001
)

// Resolver detects near-simultaneous triggers of the same frequency and
// nudges the later one by a sub-perceptual random offset.
type Resolver struct {
	window   time.Duration
	lastUsed map[int64]time.Time // key: frequency rounded to 0.1 Hz
	calls    int
	now      func() time.Time
	rng      *rand.Rand
}

// NewResolver builds a resolver with the default 50 ms conflict window.
func NewResolver() *Resolver {
	return &Resolver{
		window:   defaultWindow,
		lastUsed: make(map[int64]time.Time),
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock replaces the time source. Offline rendering points it at the
// song clock so conflict windows follow sequence time, not render speed.
func (r *Resolver) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// roundKey quantizes a frequency to 0.1 Hz resolution.
func roundKey(freq float64) int64 {
	return int64(math.Round(freq * 10))
}

// Resolve returns the frequency to actually play. A frequency whose rounded
// value was used within the conflict window comes back detuned by up to
// ±0.1%; otherwise it passes through unchanged. Every call records its
// result, so a later identical request sees this one.
func (r *Resolver) Resolve(freq float64) float64 {
	if freq <= 0 {
		return freq
	}
	r.calls++
	now := r.now()
	if r.calls%pruneEvery == 0 {
		r.prune(now)
	}
	key := roundKey(freq)
	if last, ok := r.lastUsed[key]; ok && now.Sub(last) < r.window {
		detuned := freq * (1 + (r.rng.Float64()*2-1)*maxDetune)
		r.lastUsed[roundKey(detuned)] = now
		return detuned
	}
	r.lastUsed[key] = now
	return freq
}

func (r *Resolver) prune(now time.Time) {
	for key, last := range r.lastUsed {
		if now.Sub(last) > staleAfter {
			delete(r.lastUsed, key)
		}
	}
}
