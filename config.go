package dictgo

import (
	"time"
)

// Configuration bounds. Values outside these are clamped, not rejected.
const (
	// MaxDictSize caps the trained dictionary size.
	MaxDictSize = 1 << 20
	// MinCompSizeFloor is the lowest allowed compression threshold.
	MinCompSizeFloor = 32
	// MinTrainedDictSize rejects degenerate training results.
	MinTrainedDictSize = 1 << 10
)

// TrainMode selects the dictionary builder variant.
type TrainMode string

const (
	// TrainFast is the default single-pass builder.
	TrainFast TrainMode = "fast"
	// TrainOptimize spends more effort on cover selection.
	TrainOptimize TrainMode = "optimize"
)

// Config is the engine configuration. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// EnableComp is the master switch; false makes Encode a no-op.
	EnableComp bool
	// EnableDict enables dictionary training and scanning. With it off the
	// engine still compresses, just without dictionaries.
	EnableDict bool

	// DictDir holds the <uuid>.dict / <uuid>.mf pairs.
	DictDir string

	// DictSize is the target dictionary size in bytes, capped at MaxDictSize.
	DictSize int
	// ZstdLevel is clamped to [1, 22].
	ZstdLevel int

	// MinCompSize / MaxCompSize bound the values considered for compression.
	MinCompSize int
	MaxCompSize int

	// EnableTraining gates the retrain decision entirely.
	EnableTraining bool
	// RetrainInterval is the minimum gap between trainings.
	RetrainInterval time.Duration
	// MinTrainingBytes is the observation volume required before a retrain.
	MinTrainingBytes uint64
	// EWMAAlpha is the smoothing factor of the ratio tracker.
	EWMAAlpha float64
	// RetrainDrop is the relative EWMA band that triggers retraining, in
	// both directions.
	RetrainDrop float64
	// TrainMode selects the dictionary builder.
	TrainMode TrainMode
	// TrainingWindow optionally bounds a reservoir session in time.
	TrainingWindow time.Duration
	// ReservoirBudget is the byte budget of the sample reservoir.
	ReservoirBudget int

	// GCCoolOff delays reclamation of retired tables.
	GCCoolOff time.Duration
	// GCQuarantine keeps retired dictionary files and ids reserved.
	GCQuarantine time.Duration

	// DictRetainMax caps active dictionaries per namespace, at least 1.
	DictRetainMax int

	// EnableSampling turns on the on-disk sample spooler.
	EnableSampling bool
	// SampleP is the Bernoulli probability per write.
	SampleP float64
	// SampleWindow bounds the spooling duration.
	SampleWindow time.Duration
	// SpoolDir receives the sample files.
	SpoolDir string
	// SpoolMaxBytes caps the spool volume.
	SpoolMaxBytes int64
	// SpoolBytesPerSec throttles spool writes; 0 disables the limiter.
	SpoolBytesPerSec float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		EnableComp:       true,
		EnableDict:       true,
		DictSize:         256 << 10,
		ZstdLevel:        3,
		MinCompSize:      32,
		MaxCompSize:      100 << 10,
		EnableTraining:   true,
		RetrainInterval:  2 * time.Hour,
		MinTrainingBytes: 0,
		EWMAAlpha:        0.05,
		RetrainDrop:      0.1,
		TrainMode:        TrainFast,
		ReservoirBudget:  1 << 20,
		GCCoolOff:        time.Hour,
		GCQuarantine:     7 * 24 * time.Hour,
		DictRetainMax:    10,
		SampleP:          0.02,
		SpoolMaxBytes:    64 << 20,
	}
}

// sanitize clamps out-of-range values in place and reports whether the
// configuration was usable at all. An unusable configuration disables the
// compression and dictionary subsystems but never fails startup.
func (c *Config) sanitize() bool {
	if c.DictSize <= 0 || c.DictSize > MaxDictSize {
		if c.DictSize > MaxDictSize {
			c.DictSize = MaxDictSize
		} else {
			c.DictSize = DefaultConfig().DictSize
		}
	}
	if c.ZstdLevel < 1 {
		c.ZstdLevel = 1
	}
	if c.ZstdLevel > 22 {
		c.ZstdLevel = 22
	}
	if c.MinCompSize < MinCompSizeFloor {
		c.MinCompSize = MinCompSizeFloor
	}
	if c.MaxCompSize <= 0 {
		c.MaxCompSize = DefaultConfig().MaxCompSize
	}
	if c.DictRetainMax < 1 {
		c.DictRetainMax = 1
	}
	if c.EWMAAlpha < 0 || c.EWMAAlpha > 1 {
		c.EWMAAlpha = DefaultConfig().EWMAAlpha
	}
	if c.RetrainDrop <= 0 {
		c.RetrainDrop = DefaultConfig().RetrainDrop
	}
	if c.SampleP < 0 || c.SampleP > 1 {
		c.SampleP = DefaultConfig().SampleP
	}
	if c.ReservoirBudget <= 0 {
		c.ReservoirBudget = DefaultConfig().ReservoirBudget
	}
	if c.TrainMode != TrainFast && c.TrainMode != TrainOptimize {
		c.TrainMode = TrainFast
	}

	// The size window must be coherent and, with dictionaries enabled, a
	// directory must be known. Anything else is a sanity failure.
	if c.MinCompSize > c.MaxCompSize {
		return false
	}
	if c.EnableDict && c.DictDir == "" {
		return false
	}
	if c.EnableSampling && c.SpoolDir == "" {
		return false
	}
	return true
}
