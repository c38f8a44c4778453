package dictgo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/dictgo/internal/dictpool"
	"github.com/hupe1980/dictgo/internal/ewma"
	"github.com/hupe1980/dictgo/internal/fs"
	"github.com/hupe1980/dictgo/internal/gcq"
	"github.com/hupe1980/dictgo/internal/reservoir"
	"github.com/hupe1980/dictgo/internal/router"
	"github.com/hupe1980/dictgo/internal/spool"
	"github.com/hupe1980/dictgo/internal/stats"
	"github.com/hupe1980/dictgo/manifest"
)

// Engine is the compression layer. One Engine serves one dictionary
// directory; Encode and Decode are safe for concurrent use.
type Engine struct {
	cfg  Config
	log  *Logger
	fsys fs.FileSystem
	now  func() time.Time

	store    *manifest.Store
	pool     *dictpool.Pool
	registry *stats.Registry
	res      *reservoir.Reservoir
	tracker  *ewma.Tracker
	spooler  *spool.Spooler
	gc       *gcq.Queue

	idp       IDProvider
	publisher Publisher
	collector MetricsCollector

	table      atomic.Pointer[router.Table]
	generation atomic.Uint64
	role       atomic.Int32

	// plainEnc/plainDec serve frames without a dictionary (wire id 0).
	plainEnc *zstd.Encoder
	plainDec *zstd.Decoder

	trainerMu   sync.Mutex
	trainerStop chan struct{}
	trainerDone chan struct{}
	// trainPending sticks from the retrain trigger until a training run
	// succeeds, so a trigger is counted once and failures retry.
	trainPending atomic.Bool
	training     atomic.Bool

	closed atomic.Bool
}

// New creates an engine. An unusable configuration disables the affected
// subsystems instead of failing: a cache host must come up even when its
// compression settings are broken.
func New(cfg Config, optFns ...Option) (*Engine, error) {
	o := options{
		logger: NewLogger(nil),
		fsys:   fs.Default,
		now:    time.Now,
		seed:   uint64(time.Now().UnixNano()),
	}
	for _, fn := range optFns {
		fn(&o)
	}

	if !cfg.sanitize() {
		o.logger.Warn("configuration not usable, disabling compression subsystems")
		cfg.EnableComp = false
		cfg.EnableDict = false
		cfg.EnableSampling = false
		cfg.EnableTraining = false
	}

	plainEnc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.ZstdLevel)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}
	plainDec, err := zstd.NewReader(nil)
	if err != nil {
		plainEnc.Close()
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		log:       o.logger,
		fsys:      o.fsys,
		now:       o.now,
		pool:      dictpool.New(),
		registry:  stats.NewRegistry(),
		res:       reservoir.New(cfg.ReservoirBudget, cfg.TrainingWindow, o.seed),
		tracker:   ewma.New(cfg.EWMAAlpha, cfg.RetrainInterval, cfg.MinTrainingBytes, cfg.RetrainDrop),
		idp:       o.idp,
		publisher: o.publisher,
		collector: NoopMetricsCollector{},
		plainEnc:  plainEnc,
		plainDec:  plainDec,
	}
	if o.collector != nil {
		e.collector = o.collector
	}

	if cfg.EnableDict {
		e.store = manifest.NewStore(cfg.DictDir, o.fsys)
		e.gc = gcq.New(gcq.Config{
			Current:    e.currentTable,
			Pool:       e.pool,
			Fsys:       o.fsys,
			CoolOff:    cfg.GCCoolOff,
			Quarantine: cfg.GCQuarantine,
			Logger:     o.logger.Logger,
			Now:        o.now,
		})
		if err := e.Reload(); err != nil {
			plainEnc.Close()
			plainDec.Close()
			return nil, err
		}
		e.gc.Start()
	}

	if cfg.EnableSampling {
		e.spooler = spool.New(spool.Config{
			Dir:         cfg.SpoolDir,
			Fsys:        o.fsys,
			Probability: cfg.SampleP,
			MaxBytes:    cfg.SpoolMaxBytes,
			Window:      cfg.SampleWindow,
			BytesPerSec: cfg.SpoolBytesPerSec,
			Logger:      o.logger.Logger,
			Now:         o.now,
		})
		e.spooler.Start()
	}

	role := RoleMaster
	if o.roles != nil {
		role = o.roles.Role()
	}
	e.SetRole(role)

	return e, nil
}

func (e *Engine) currentTable() *router.Table {
	return e.table.Load()
}

// Role returns the node's current role.
func (e *Engine) Role() Role {
	return Role(e.role.Load())
}

// SetRole switches the node's role. Promoting to master starts the trainer;
// demoting stops it and waits for an in-flight run to finish.
func (e *Engine) SetRole(role Role) {
	e.trainerMu.Lock()
	defer e.trainerMu.Unlock()

	prev := Role(e.role.Swap(int32(role)))
	switch {
	case role == RoleMaster:
		e.startTrainerLocked()
	case prev == RoleMaster:
		e.stopTrainerLocked()
	}
	if prev != role {
		e.log.Info("role changed", "from", prev.String(), "to", role.String())
	}
}

// Reload rescans the dictionary directory and atomically publishes a fresh
// routing table. The previous table is handed to the garbage collector.
func (e *Engine) Reload() error {
	if !e.cfg.EnableDict {
		return nil
	}

	gen := e.generation.Add(1)
	t, err := router.Scan(router.Config{
		Store:      e.store,
		Pool:       e.pool,
		Fsys:       e.fsys,
		Level:      e.cfg.ZstdLevel,
		Quarantine: e.cfg.GCQuarantine,
		MaxPerNS:   e.cfg.DictRetainMax,
		Logger:     e.log.Logger,
		Now:        e.now,
	}, gen)
	if err != nil {
		return err
	}

	old := e.table.Swap(t)
	if old != nil {
		e.gc.Enqueue(old)
	}
	e.registry.Rebuild(t.Namespaces())

	e.log.WithGeneration(gen).Info("published routing table",
		"namespaces", len(t.Spaces), "dicts", len(t.Metas))
	return nil
}

// Generation returns the generation of the published routing table.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

func (e *Engine) startTrainerLocked() {
	if e.trainerStop != nil || !e.cfg.EnableDict || e.closed.Load() {
		return
	}
	e.trainerStop = make(chan struct{})
	e.trainerDone = make(chan struct{})
	go e.trainLoop(e.trainerStop, e.trainerDone)
}

func (e *Engine) stopTrainerLocked() {
	if e.trainerStop == nil {
		return
	}
	close(e.trainerStop)
	<-e.trainerDone
	e.trainerStop, e.trainerDone = nil, nil
}
