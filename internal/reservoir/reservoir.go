// Package reservoir implements the bounded training corpus: classic
// Algorithm R over a byte budget, with a non-blocking producer side so the
// cache write path never stalls behind the trainer.
package reservoir

import (
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// minSampleBytes is the expected lower bound of a useful training sample;
// it sizes the slot array from the byte budget.
const minSampleBytes = 100

// Add result codes.
const (
	Rejected = 0
	Accepted = 1
)

// Reservoir is a byte- and optionally time-bounded sample reservoir.
//
// Producers call Add, which gives up instead of blocking when the reservoir
// is contended. The single consumer (the trainer) uses MaybeStartSession,
// Ready and Snapshot.
type Reservoir struct {
	budget   int
	maxItems int
	duration time.Duration

	lock atomic.Bool // spin lock; Add uses try-acquire only

	// All fields below are guarded by lock.
	startTS   time.Time // zero = session not started
	seen      uint64    // items observed since session start
	stored    int       // items currently held
	bytesUsed int
	frozen    bool
	rng       *rand.Rand
	slots     [][]byte

	now func() time.Time
}

// New creates a reservoir with the given byte budget, optional session
// duration (0 = unbounded) and RNG seed.
func New(budget int, duration time.Duration, seed uint64) *Reservoir {
	if budget < minSampleBytes {
		budget = minSampleBytes
	}
	maxItems := budget / minSampleBytes
	return &Reservoir{
		budget:   budget,
		maxItems: maxItems,
		duration: duration,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		slots:    make([][]byte, maxItems),
		now:      time.Now,
	}
}

func (r *Reservoir) tryLock() bool {
	return r.lock.CompareAndSwap(false, true)
}

func (r *Reservoir) unlock() {
	r.lock.Store(false)
}

func (r *Reservoir) spinLock() {
	for !r.tryLock() {
	}
}

// MaybeStartSession opens a sampling session if none is active. Gives up
// silently on lock contention.
func (r *Reservoir) MaybeStartSession() {
	if !r.tryLock() {
		return
	}
	defer r.unlock()
	if !r.startTS.IsZero() {
		return
	}
	r.resetLocked()
	r.startTS = r.now()
}

// Active reports whether a session is open and, when a duration bound is
// configured, still inside its window.
func (r *Reservoir) Active() bool {
	r.spinLock()
	defer r.unlock()
	return r.activeLocked()
}

func (r *Reservoir) activeLocked() bool {
	if r.startTS.IsZero() {
		return false
	}
	if r.duration == 0 {
		return true
	}
	return r.now().Sub(r.startTS) <= r.duration
}

// Add offers a payload to the reservoir. It never blocks: on lock contention
// the sample is dropped. Returns Accepted when the payload was stored.
func (r *Reservoir) Add(p []byte) int {
	if len(p) == 0 || len(p) > r.budget {
		return Rejected
	}
	if !r.tryLock() {
		return Rejected
	}
	defer r.unlock()

	if r.startTS.IsZero() {
		return Rejected
	}

	r.seen++

	// Warm-up: fill slots until either bound trips, then freeze. Once frozen
	// the stored count is the fixed k of Algorithm R.
	if !r.frozen {
		if r.stored < r.maxItems && r.bytesUsed+len(p) <= r.budget {
			buf := make([]byte, len(p))
			copy(buf, p)
			r.slots[r.stored] = buf
			r.stored++
			r.bytesUsed += len(p)
			return Accepted
		}
		r.frozen = true
	}

	k := r.stored
	if k == 0 {
		return Rejected
	}

	// Accept with probability k / seen.
	if r.rng.Uint64N(r.seen) >= uint64(k) {
		return Rejected
	}

	j := r.rng.IntN(k)
	old := r.slots[j]
	if r.bytesUsed-len(old)+len(p) > r.budget {
		return Rejected
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	r.slots[j] = buf
	r.bytesUsed += len(p) - len(old)
	return Accepted
}

// Ready reports whether the corpus is complete enough to train on.
func (r *Reservoir) Ready() bool {
	r.spinLock()
	defer r.unlock()

	if r.stored == 0 {
		return false
	}
	if r.duration == 0 {
		return r.frozen || r.stored == r.maxItems
	}
	return !r.startTS.IsZero() && r.now().Sub(r.startTS) >= r.duration
}

// Snapshot materializes the kept samples into one flat buffer plus a size
// array and resets the session. It spins for the lock: single consumer only.
func (r *Reservoir) Snapshot() ([]byte, []int) {
	r.spinLock()
	defer r.unlock()

	if r.stored == 0 {
		return nil, nil
	}

	flat := make([]byte, 0, r.bytesUsed)
	sizes := make([]int, 0, r.stored)
	for i := 0; i < r.stored; i++ {
		flat = append(flat, r.slots[i]...)
		sizes = append(sizes, len(r.slots[i]))
	}

	r.resetLocked()
	r.startTS = time.Time{}

	return flat, sizes
}

func (r *Reservoir) resetLocked() {
	for i := range r.slots {
		r.slots[i] = nil
	}
	r.seen = 0
	r.stored = 0
	r.bytesUsed = 0
	r.frozen = false
}

// Stats returns (stored items, bytes used) for reporting.
func (r *Reservoir) Stats() (int, int) {
	r.spinLock()
	defer r.unlock()
	return r.stored, r.bytesUsed
}
