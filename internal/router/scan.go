package router

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	roaring "github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/dictgo/internal/dictpool"
	"github.com/hupe1980/dictgo/internal/fs"
	"github.com/hupe1980/dictgo/manifest"
)

// Config carries the collaborators and tuning for a directory scan.
type Config struct {
	Store *manifest.Store
	Pool  *dictpool.Pool
	Fsys  fs.FileSystem

	// Level is the Zstd level dictionaries are compiled at.
	Level int
	// Quarantine keeps the ids and files of recently retired dictionaries
	// reserved.
	Quarantine time.Duration
	// MaxPerNS caps active dictionaries per namespace; surplus ones are
	// retired during the scan.
	MaxPerNS int
	// CompileWorkers bounds the parallel dictionary compilation; zero means
	// GOMAXPROCS.
	CompileWorkers int

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Scan rebuilds the routing state from the dictionary directory: parse all
// manifests, assign missing ids, enforce per-namespace retention, compile
// the surviving dictionaries and assemble the table. The caller publishes
// the returned table atomically.
func Scan(cfg Config, generation uint64) (*Table, error) {
	log := cfg.logger()
	now := cfg.now()

	entries, err := cfg.Store.Scan(func(path string, err error) {
		log.Warn("skipping unreadable manifest", "path", path, "error", err)
	})
	if err != nil {
		return nil, err
	}

	metas := make([]*Meta, 0, len(entries))
	for _, e := range entries {
		metas = append(metas, &Meta{
			ID:        e.Manifest.ID,
			DictPath:  e.DictPath,
			MFPath:    e.MFPath,
			Created:   e.Manifest.Created,
			Retired:   e.Manifest.Retired,
			Level:     e.Manifest.Level,
			Prefixes:  e.Manifest.Namespaces,
			Signature: e.Manifest.Signature,
		})
	}

	if err := assignIDs(cfg, metas, now); err != nil {
		return nil, err
	}

	applyRetention(cfg, metas, now)

	compile(cfg, metas, now)

	return buildTable(metas, generation, now), nil
}

// assignIDs hands out the smallest free id to every entry that lacks one and
// persists the assignment. Used ids are those of active entries plus those
// of entries retired within the quarantine window.
func assignIDs(cfg Config, metas []*Meta, now time.Time) error {
	used := roaring.New()
	for _, m := range metas {
		if m.ID == 0 {
			continue
		}
		if m.Active() || now.Sub(m.Retired) < cfg.Quarantine {
			used.Add(uint32(m.ID))
		}
	}

	for _, m := range metas {
		if m.ID != 0 {
			continue
		}
		id := freeID(used)
		if id == 0 {
			return fmt.Errorf("router: no free dictionary id in [1, %d]", MaxDictID)
		}
		m.ID = id
		used.Add(uint32(id))
		if err := cfg.Store.Rewrite(m.MFPath, m.Manifest()); err != nil {
			return fmt.Errorf("router: persist id %d to %s: %w", id, m.MFPath, err)
		}
		cfg.logger().Info("assigned dictionary id", "id", id, "manifest", m.MFPath)
	}
	return nil
}

func freeID(used *roaring.Bitmap) uint16 {
	for id := uint32(1); id <= MaxDictID; id++ {
		if !used.Contains(id) {
			return uint16(id)
		}
	}
	return 0
}

// applyRetention retires surplus active dictionaries beyond MaxPerNS per
// namespace. The surplus entry is released from the pool once per namespace
// it is surplus in; when nothing references it anymore it is marked retired
// and the manifest rewritten.
func applyRetention(cfg Config, metas []*Meta, now time.Time) {
	if cfg.MaxPerNS <= 0 {
		return
	}
	log := cfg.logger()

	for _, ns := range groupByPrefix(activeOf(metas)) {
		for i, m := range ns.Dicts {
			if i < cfg.MaxPerNS || !m.Active() {
				continue
			}
			remaining := 0
			if e := cfg.Pool.Lookup(m.PoolKey()); e != nil {
				remaining = cfg.Pool.Release(e)
			}
			if remaining == 0 {
				m.Retired = now
				if err := cfg.Store.Rewrite(m.MFPath, m.Manifest()); err != nil {
					log.Error("persisting retirement failed", "manifest", m.MFPath, "error", err)
				} else {
					log.Info("retired surplus dictionary", "id", m.ID, "namespace", ns.Prefix)
				}
			}
		}
	}
}

func activeOf(metas []*Meta) []*Meta {
	out := make([]*Meta, 0, len(metas))
	for _, m := range metas {
		if m.Active() {
			out = append(out, m)
		}
	}
	return out
}

// compile loads and compiles every still-active dictionary and retains it in
// the pool. A dictionary that cannot be loaded is retired on the spot so a
// single bad file never takes down the reload.
func compile(cfg Config, metas []*Meta, now time.Time) {
	log := cfg.logger()
	workers := cfg.CompileWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var mu sync.Mutex // guards retirements below
	var g errgroup.Group
	g.SetLimit(workers)

	for _, m := range metas {
		if !m.Active() {
			continue
		}
		g.Go(func() error {
			if err := compileOne(cfg, m); err != nil {
				log.Error("dictionary load failed, retiring", "dict", m.DictPath, "error", err)
				mu.Lock()
				m.Retired = now
				if werr := cfg.Store.Rewrite(m.MFPath, m.Manifest()); werr != nil {
					log.Error("persisting retirement failed", "manifest", m.MFPath, "error", werr)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
}

func compileOne(cfg Config, m *Meta) error {
	raw, err := fs.ReadFile(cfg.Fsys, m.DictPath)
	if err != nil {
		return err
	}
	codec, err := dictpool.Compile(raw, cfg.Level)
	if err != nil {
		return err
	}
	entry, err := cfg.Pool.Retain(m.PoolKey(), codec, len(m.Prefixes))
	if err != nil {
		return err
	}
	m.DictSize = int64(len(raw))
	m.entry = entry
	return nil
}
