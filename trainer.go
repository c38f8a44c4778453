package dictgo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/dict"
	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/dictgo/internal/ewma"
	"github.com/hupe1980/dictgo/internal/router"
	"github.com/hupe1980/dictgo/manifest"
)

const (
	trainerTick    = time.Second
	publishTimeout = 30 * time.Second
)

// trainLoop is the master's background trainer. Every tick it refreshes the
// reservoir gauges, checks the retrain triggers and, once the reservoir is
// ready, runs one training pass.
func (e *Engine) trainLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(trainerTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		e.trainerTickOnce()
	}
}

func (e *Engine) trainerTickOnce() {
	blk := e.registry.Default()

	items, bytes := e.res.Stats()
	blk.ReservoirItems.Store(uint64(items))
	blk.ReservoirBytes.Store(uint64(bytes))

	now := e.now()
	if !e.trainPending.Load() {
		switch {
		case e.table.Load().DefaultDict() == nil:
			// Bootstrap: no dictionary serves the default namespace yet.
			e.trainPending.Store(true)
		case e.cfg.EnableTraining:
			due, trig := e.tracker.ShouldRetrain(now)
			if !due {
				return
			}
			switch trig {
			case ewma.TriggerRise:
				blk.TriggersRise.Add(1)
			case ewma.TriggerDrop:
				blk.TriggersDrop.Add(1)
			}
			e.trainPending.Store(true)
		default:
			return
		}
	}

	e.res.MaybeStartSession()
	if !e.res.Ready() {
		return
	}

	if !e.training.CompareAndSwap(false, true) {
		return
	}
	defer e.training.Store(false)

	blk.TrainerRuns.Add(1)
	start := time.Now()
	size, err := e.trainOnce(now)
	e.collector.RecordTrain(time.Since(start), size, err)
	if err != nil {
		// trainPending stays set: the next full reservoir retries.
		blk.TrainerErrs.Add(1)
		e.log.Error("dictionary training failed", "error", err)
		return
	}

	e.trainPending.Store(false)
	e.tracker.MarkRetrained(now)
	blk.RetrainCount.Add(1)
	blk.LastRetrainMS.Store(uint64(now.UnixMilli()))
	blk.TrainerMSLast.Store(uint64(time.Since(start).Milliseconds()))
}

// trainOnce drains the reservoir, builds a dictionary, persists it and
// publishes the resulting routing table. It returns the trained size.
func (e *Engine) trainOnce(now time.Time) (int, error) {
	flat, sizes := e.res.Snapshot()
	if len(sizes) == 0 {
		return 0, ErrNoSamples
	}
	samples := make([][]byte, 0, len(sizes))
	off := 0
	for _, n := range sizes {
		samples = append(samples, flat[off:off+n])
		off += n
	}

	opts := dict.Options{
		MaxDictSize:    e.cfg.DictSize,
		HashBytes:      6,
		ZstdDictCompat: true,
		ZstdLevel:      zstd.EncoderLevelFromZstd(e.cfg.ZstdLevel),
	}
	if e.cfg.TrainMode == TrainOptimize {
		opts.HashBytes = 8
	}
	raw, err := buildDict(samples, opts)
	if err != nil {
		return 0, err
	}
	if len(raw) < MinTrainedDictSize {
		return len(raw), ErrDictTooSmall
	}

	m := &manifest.Manifest{
		Namespaces: []string{router.DefaultNamespace},
		Created:    now.UTC(),
		Level:      e.cfg.ZstdLevel,
		Signature:  dictSignature(raw),
	}
	basename := uuid.NewString()
	entry, err := e.store.SaveNew(raw, m, basename)
	if err != nil {
		return len(raw), err
	}

	// With an external id provider the id is minted here and persisted, so
	// two masters can never assign the same id. Without one the next scan
	// assigns the smallest free local id.
	if e.idp != nil {
		if id, aerr := e.idp.Alloc(); aerr != nil {
			e.log.Warn("id allocation failed, deferring to scan", "error", aerr)
		} else {
			m.ID = id
			if werr := e.store.Rewrite(entry.MFPath, m); werr != nil {
				_ = e.idp.Release(id)
				m.ID = 0
			}
		}
	}

	if e.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if perr := e.publisher.PublishDict(ctx, m.ID, basename, raw, m.Render()); perr != nil {
			e.log.Warn("publishing dictionary failed", "basename", basename, "error", perr)
		}
		cancel()
	}

	if err := e.Reload(); err != nil {
		return len(raw), err
	}

	e.log.Info("trained dictionary",
		"basename", basename, "bytes", len(raw), "samples", len(samples))
	return len(raw), nil
}

// buildDict shields the trainer from panics inside the dictionary builder:
// a degenerate but valid corpus, such as one hot value sampled over and
// over, can trip it. The panic becomes an ordinary trainer error.
func buildDict(samples [][]byte, opts dict.Options) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw, err = nil, fmt.Errorf("dictionary builder: %v", r)
		}
	}()
	return dict.BuildZstdDict(samples, opts)
}

// dictSignature identifies dictionary content across renames and hosts.
func dictSignature(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
