package dictgo

import (
	"fmt"

	"github.com/hupe1980/dictgo/internal/stats"
)

// StatsSnapshot is a point-in-time view of one namespace (or the global
// aggregate) plus engine-level gauges.
type StatsSnapshot struct {
	stats.Snapshot

	Namespace string `json:"namespace"`

	// EWMARatio and BaselineRatio describe the tracked compression ratio
	// (compressed/original); BytesSinceTrain is the observed volume since the
	// last training.
	EWMARatio       float64 `json:"ewma_ratio"`
	BaselineRatio   float64 `json:"baseline_ratio"`
	BytesSinceTrain uint64  `json:"bytes_since_train"`

	DefaultDictID uint16 `json:"default_dict_id"`
	ActiveDicts   int    `json:"active_dicts"`
	Generation    uint64 `json:"generation"`
	GCPending     int    `json:"gc_pending"`
}

// Stats returns the counters of one namespace. The empty string selects the
// global aggregate; unknown namespaces are an error.
func (e *Engine) Stats(namespace string) (*StatsSnapshot, error) {
	blk := e.registry.LookupByNS(namespace)
	if blk == nil {
		return nil, fmt.Errorf("unknown namespace %q", namespace)
	}

	s := &StatsSnapshot{
		Snapshot:  blk.Fill(),
		Namespace: namespace,
	}
	if namespace == "" {
		s.Namespace = "global"
	}

	s.EWMARatio, s.BaselineRatio, s.BytesSinceTrain = e.tracker.Snapshot()

	t := e.table.Load()
	if d := t.DefaultDict(); d != nil {
		s.DefaultDictID = d.ID
	}
	if t != nil {
		for _, m := range t.Metas {
			if m.Active() {
				s.ActiveDicts++
			}
		}
	}
	s.Generation = e.generation.Load()
	if e.gc != nil {
		s.GCPending = e.gc.Pending()
	}
	return s, nil
}

// StatsByKey resolves a cache key to its namespace counters, the way the hot
// path does.
func (e *Engine) StatsByKey(key string) *StatsSnapshot {
	blk := e.registry.LookupByKey(key)
	return &StatsSnapshot{Snapshot: blk.Fill()}
}

// Namespaces lists the configured non-default namespaces, most specific
// first.
func (e *Engine) Namespaces() []string {
	return e.registry.Namespaces()
}
