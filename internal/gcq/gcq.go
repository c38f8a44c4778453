// Package gcq reclaims retired router tables. Tables are pushed onto a
// multi-producer single-consumer stack; a single collector goroutine frees
// their pool references after a cool-off period and unlinks dictionary
// files once their quarantine has elapsed.
package gcq

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/dictgo/internal/dictpool"
	"github.com/hupe1980/dictgo/internal/fs"
	"github.com/hupe1980/dictgo/internal/router"
)

const (
	backoffMin = 200 * time.Millisecond
	backoffMax = 2 * time.Second
)

// CurrentTable reports the table currently published by the engine; the
// collector uses it to detect metadata still referenced by live routing.
type CurrentTable func() *router.Table

type node struct {
	table     *router.Table
	retiredAt time.Time
	next      *node
}

// Config wires the collector's collaborators.
type Config struct {
	Current CurrentTable
	Pool    *dictpool.Pool
	Fsys    fs.FileSystem

	// CoolOff delays any reclamation after table retirement so in-flight
	// readers of the old table drain out.
	CoolOff time.Duration
	// Quarantine keeps dictionary files on disk after their dict retired.
	Quarantine time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Queue is the retirement queue plus its collector.
type Queue struct {
	cfg  Config
	head atomic.Pointer[node]

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// New creates a queue. Start must be called to run the collector.
func New(cfg Config) *Queue {
	if cfg.Fsys == nil {
		cfg.Fsys = fs.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Enqueue retires a table. Safe from any goroutine.
func (q *Queue) Enqueue(t *router.Table) {
	if t == nil {
		return
	}
	n := &node{table: t, retiredAt: q.cfg.Now()}
	for {
		h := q.head.Load()
		n.next = h
		if q.head.CompareAndSwap(h, n) {
			return
		}
	}
}

// Start launches the collector goroutine.
func (q *Queue) Start() {
	if q.started {
		return
	}
	q.started = true
	go q.run()
}

// Stop terminates the collector after one final drain and waits for it.
// Idempotent.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	if q.started {
		<-q.done
	}
}

func (q *Queue) run() {
	defer close(q.done)
	backoff := backoffMin
	for {
		select {
		case <-q.stop:
			q.Collect()
			return
		case <-time.After(backoff):
		}
		if q.Collect() > 0 {
			backoff = backoffMin
		} else if backoff *= 2; backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// Collect runs one collection cycle and returns the number of tables fully
// disposed. Exposed for deterministic testing; the collector goroutine calls
// it on its own schedule.
func (q *Queue) Collect() int {
	// Drain the whole stack, then reverse for fair FIFO treatment.
	batch := q.head.Swap(nil)
	var fifo *node
	for batch != nil {
		next := batch.next
		batch.next = fifo
		fifo = batch
		batch = next
	}

	disposed := 0
	now := q.cfg.Now()
	for n := fifo; n != nil; {
		next := n.next
		if q.dispose(n, now) {
			disposed++
		} else {
			q.requeue(n)
		}
		n = next
	}
	return disposed
}

// dispose processes one retired table. It returns true when every meta was
// fully reclaimed and the table can be dropped.
func (q *Queue) dispose(n *node, now time.Time) bool {
	if now.Sub(n.retiredAt) < q.cfg.CoolOff {
		return false
	}

	var current *router.Table
	if q.cfg.Current != nil {
		current = q.cfg.Current()
	}

	all := true
	for _, m := range n.table.Metas {
		if stillLive(current, m) {
			all = false
			continue
		}

		// Release at most once; requeued nodes see a nil entry here.
		if e := m.TakeEntry(); e != nil && q.cfg.Pool != nil {
			q.cfg.Pool.Release(e)
		}

		if m.Retired.IsZero() || now.Sub(m.Retired) < q.cfg.Quarantine {
			all = false
			continue
		}

		q.unlink(m.DictPath)
		q.unlink(m.MFPath)
	}
	if all {
		q.cfg.Logger.Debug("disposed retired table", "generation", n.table.Generation)
	}
	return all
}

// stillLive reports whether the current table routes the same id to the same
// on-disk artifact.
func stillLive(current *router.Table, m *router.Meta) bool {
	if current == nil {
		return false
	}
	c := current.LookupByID(m.ID)
	if c == nil {
		return false
	}
	return c.DictPath == m.DictPath || c.MFPath == m.MFPath
}

func (q *Queue) unlink(path string) {
	if path == "" {
		return
	}
	if err := q.cfg.Fsys.Remove(path); err != nil && !os.IsNotExist(err) {
		q.cfg.Logger.Warn("unlink failed", "path", path, "error", err)
	}
}

func (q *Queue) requeue(n *node) {
	for {
		h := q.head.Load()
		n.next = h
		if q.head.CompareAndSwap(h, n) {
			return
		}
	}
}

// Pending counts queued tables; intended for tests and stats.
func (q *Queue) Pending() int {
	count := 0
	for n := q.head.Load(); n != nil; n = n.next {
		count++
	}
	return count
}
