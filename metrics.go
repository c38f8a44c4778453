package dictgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational events from the engine. Implement it
// to integrate with monitoring systems like Prometheus; the per-namespace
// byte counters live in Stats and stay available either way.
type MetricsCollector interface {
	// RecordEncode is called after each Encode with the raw and stored
	// sizes. err is nil on success.
	RecordEncode(rawLen, storedLen int, err error)

	// RecordDecode is called after each Decode that reached a codec.
	RecordDecode(err error)

	// RecordTrain is called after each training run with the run duration
	// and the size of the trained dictionary (0 on failure).
	RecordTrain(duration time.Duration, dictBytes int, err error)
}

// NoopMetricsCollector discards all events.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordEncode(int, int, error)          {}
func (NoopMetricsCollector) RecordDecode(error)                    {}
func (NoopMetricsCollector) RecordTrain(time.Duration, int, error) {}

// BasicMetricsCollector counts events in memory. Useful for debugging and
// tests without an external monitoring system.
type BasicMetricsCollector struct {
	EncodeCount  atomic.Int64
	EncodeErrors atomic.Int64
	DecodeCount  atomic.Int64
	DecodeErrors atomic.Int64
	TrainCount   atomic.Int64
	TrainErrors  atomic.Int64
	TrainNanos   atomic.Int64
}

func (c *BasicMetricsCollector) RecordEncode(_, _ int, err error) {
	c.EncodeCount.Add(1)
	if err != nil {
		c.EncodeErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordDecode(err error) {
	c.DecodeCount.Add(1)
	if err != nil {
		c.DecodeErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordTrain(d time.Duration, _ int, err error) {
	c.TrainCount.Add(1)
	c.TrainNanos.Add(int64(d))
	if err != nil {
		c.TrainErrors.Add(1)
	}
}
