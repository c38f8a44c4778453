// Package ewma tracks the exponentially weighted moving average of the
// compression ratio (compressed/original, lower is better) and decides when
// the dictionary should be retrained.
package ewma

import (
	"math"
	"sync/atomic"
	"time"
)

// Trigger explains why ShouldRetrain fired.
type Trigger int

const (
	TriggerNone Trigger = iota
	// TriggerBootstrap fires before the tracker has seen any observation,
	// or while the baseline is unusable.
	TriggerBootstrap
	// TriggerRise fires when the ratio degraded by at least the drop
	// threshold relative to the baseline.
	TriggerRise
	// TriggerDrop fires on the symmetric improvement, which signals a
	// workload shift the dictionary no longer matches.
	TriggerDrop
)

// init states for the seed CAS.
const (
	uninitialized uint32 = iota
	initializing
	ready
)

// Tracker holds the ratio EWMA and the retrain bookkeeping. All float fields
// are bit-cast into uint64 atomics so the hot path is a single CAS.
type Tracker struct {
	alpha    float64
	interval time.Duration
	minBytes uint64
	drop     float64

	ewma       atomic.Uint64 // Float64bits
	baseline   atomic.Uint64 // Float64bits; trainer-only writer
	initState  atomic.Uint32
	lastTrain  atomic.Int64 // unix nanos
	bytesSince atomic.Uint64
}

// New configures a tracker. alpha is clamped to [0,1]; drop is the relative
// band around the baseline that triggers retraining.
func New(alpha float64, interval time.Duration, minBytes uint64, drop float64) *Tracker {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return &Tracker{
		alpha:    alpha,
		interval: interval,
		minBytes: minBytes,
		drop:     drop,
	}
}

// OnObservation folds one (original, compressed) pair into the EWMA.
// Concurrent-safe; writers never block each other for long.
func (t *Tracker) OnObservation(originalBytes, compressedBytes uint64) {
	if originalBytes == 0 {
		return
	}
	ratio := float64(compressedBytes) / float64(originalBytes)
	t.bytesSince.Add(originalBytes)

	if t.initState.Load() != ready {
		if t.initState.CompareAndSwap(uninitialized, initializing) {
			t.ewma.Store(math.Float64bits(ratio))
			t.baseline.Store(math.Float64bits(ratio))
			t.initState.Store(ready)
			return
		}
		// Another writer is seeding; fold into the update loop below once
		// the seed is visible.
		for t.initState.Load() != ready {
		}
	}

	for {
		oldBits := t.ewma.Load()
		old := math.Float64frombits(oldBits)
		next := t.alpha*ratio + (1-t.alpha)*old
		if t.ewma.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

// ShouldRetrain reports whether a retrain is due at now, and why. Interval
// and byte-volume gates apply to every trigger, including bootstrap.
func (t *Tracker) ShouldRetrain(now time.Time) (bool, Trigger) {
	last := t.lastTrain.Load()
	if now.UnixNano()-last < int64(t.interval) {
		return false, TriggerNone
	}
	if t.bytesSince.Load() < t.minBytes {
		return false, TriggerNone
	}

	base := math.Float64frombits(t.baseline.Load())
	if t.initState.Load() != ready || base <= 0 {
		return true, TriggerBootstrap
	}

	rel := math.Float64frombits(t.ewma.Load())/base - 1
	switch {
	case rel >= t.drop:
		return true, TriggerRise
	case rel <= -t.drop:
		return true, TriggerDrop
	}
	return false, TriggerNone
}

// MarkRetrained records a successful train. Only the trainer calls this.
// The baseline only ever moves down, so a temporarily bad EWMA cannot raise
// the bar for future comparisons.
func (t *Tracker) MarkRetrained(now time.Time) {
	if t.initState.Load() == ready {
		base := math.Float64frombits(t.baseline.Load())
		cur := math.Float64frombits(t.ewma.Load())
		if base <= 0 || cur < base {
			t.baseline.Store(math.Float64bits(cur))
		}
	}
	t.bytesSince.Store(0)
	t.lastTrain.Store(now.UnixNano())
}

// Snapshot returns (ewma, baseline, bytes since last train) for reporting.
func (t *Tracker) Snapshot() (float64, float64, uint64) {
	if t.initState.Load() != ready {
		return 0, 0, t.bytesSince.Load()
	}
	return math.Float64frombits(t.ewma.Load()),
		math.Float64frombits(t.baseline.Load()),
		t.bytesSince.Load()
}
