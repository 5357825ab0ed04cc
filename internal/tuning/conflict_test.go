package tuning

import (
	"math"
	"testing"
	"time"
)

func newTestResolver() (*Resolver, *time.Time) {
	r := NewResolver()
	now := time.Unix(1000, 0)
	r.SetClock(func() time.Time { return now })
	return r, &now
}

func TestConflictingTriggersAreDetuned(t *testing.T) {
	r, now := newTestResolver()

	first := r.Resolve(440)
	if first != 440 {
		t.Fatalf("first trigger = %v, want exactly 440", first)
	}
	*now = now.Add(10 * time.Millisecond)
	second := r.Resolve(440)

	if second == first {
		t.Fatalf("conflicting trigger returned identical frequency %v", second)
	}
	if rel := math.Abs(second-440) / 440; rel > 0.001 {
		t.Fatalf("detune %v exceeds 0.1%%", rel)
	}
}

func TestSpacedTriggersPassThrough(t *testing.T) {
	r, now := newTestResolver()

	if got := r.Resolve(440); got != 440 {
		t.Fatalf("first trigger = %v, want 440", got)
	}
	*now = now.Add(500 * time.Millisecond)
	if got := r.Resolve(440); got != 440 {
		t.Fatalf("trigger 500ms later = %v, want exactly 440", got)
	}
}

func TestDistinctFrequenciesUnaffected(t *testing.T) {
	r, now := newTestResolver()
	r.Resolve(440)
	*now = now.Add(time.Millisecond)
	if got := r.Resolve(523.25); got != 523.25 {
		t.Fatalf("unrelated frequency = %v, want 523.25", got)
	}
}

func TestNonPositiveFrequencyPassesThrough(t *testing.T) {
	r, _ := newTestResolver()
	if got := r.Resolve(0); got != 0 {
		t.Fatalf("Resolve(0) = %v, want 0", got)
	}
}

func TestStaleEntriesArePruned(t *testing.T) {
	r, now := newTestResolver()
	for i := 0; i < 100; i++ {
		r.Resolve(100 + float64(i))
	}
	*now = now.Add(time.Second)
	// Drive enough calls to cross the amortized prune threshold.
	for i := 0; i < pruneEvery; i++ {
		r.Resolve(2000 + float64(i))
	}
	if len(r.lastUsed) > pruneEvery+1 {
		t.Fatalf("map holds %d entries after prune, stale entries retained", len(r.lastUsed))
	}
}
