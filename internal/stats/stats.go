// Package stats keeps per-namespace counter blocks behind an immutable,
// atomically published registry table, so hot-path increments never take a
// lock and reload can swap the namespace set without stalling readers.
package stats

import (
	"sort"
	"strings"
	"sync/atomic"
)

// DefaultNamespace is always present and is the fallback for keys that match
// no configured namespace prefix.
const DefaultNamespace = "default"

// Block is one namespace's counters. All fields are independently atomic;
// cross-field consistency is not promised.
type Block struct {
	BytesRawTotal atomic.Uint64
	BytesCmpTotal atomic.Uint64
	WritesTotal   atomic.Uint64
	ReadsTotal    atomic.Uint64

	TriggersRise atomic.Uint64
	TriggersDrop atomic.Uint64

	RetrainCount  atomic.Uint64
	LastRetrainMS atomic.Uint64
	TrainerRuns   atomic.Uint64
	TrainerErrs   atomic.Uint64
	TrainerMSLast atomic.Uint64

	ReservoirBytes atomic.Uint64
	ReservoirItems atomic.Uint64

	CompressErrs   atomic.Uint64
	DecompressErrs atomic.Uint64
	DictMissErrs   atomic.Uint64

	SkippedMinSize      atomic.Uint64
	SkippedMaxSize      atomic.Uint64
	SkippedIncompress   atomic.Uint64
}

// Snapshot is a point-in-time copy of a block plus derived ratios.
type Snapshot struct {
	BytesRawTotal uint64 `json:"bytes_raw_total"`
	BytesCmpTotal uint64 `json:"bytes_cmp_total"`
	WritesTotal   uint64 `json:"writes_total"`
	ReadsTotal    uint64 `json:"reads_total"`

	// CRCurrent is raw/compressed; higher is better, 0 when nothing was
	// compressed yet.
	CRCurrent float64 `json:"cr_current"`

	TriggersRise uint64 `json:"triggers_rise"`
	TriggersDrop uint64 `json:"triggers_drop"`

	RetrainCount  uint64 `json:"retrain_count"`
	LastRetrainMS uint64 `json:"last_retrain_ms"`
	TrainerRuns   uint64 `json:"trainer_runs"`
	TrainerErrs   uint64 `json:"trainer_errs"`
	TrainerMSLast uint64 `json:"trainer_ms_last"`

	ReservoirBytes uint64 `json:"reservoir_bytes"`
	ReservoirItems uint64 `json:"reservoir_items"`

	CompressErrs   uint64 `json:"compress_errs"`
	DecompressErrs uint64 `json:"decompress_errs"`
	DictMissErrs   uint64 `json:"dict_miss_errs"`

	SkippedMinSize    uint64 `json:"skipped_comp_min_size"`
	SkippedMaxSize    uint64 `json:"skipped_comp_max_size"`
	SkippedIncompress uint64 `json:"skipped_comp_incomp"`
}

// Fill copies the block into a snapshot.
func (b *Block) Fill() Snapshot {
	s := Snapshot{
		BytesRawTotal:     b.BytesRawTotal.Load(),
		BytesCmpTotal:     b.BytesCmpTotal.Load(),
		WritesTotal:       b.WritesTotal.Load(),
		ReadsTotal:        b.ReadsTotal.Load(),
		TriggersRise:      b.TriggersRise.Load(),
		TriggersDrop:      b.TriggersDrop.Load(),
		RetrainCount:      b.RetrainCount.Load(),
		LastRetrainMS:     b.LastRetrainMS.Load(),
		TrainerRuns:       b.TrainerRuns.Load(),
		TrainerErrs:       b.TrainerErrs.Load(),
		TrainerMSLast:     b.TrainerMSLast.Load(),
		ReservoirBytes:    b.ReservoirBytes.Load(),
		ReservoirItems:    b.ReservoirItems.Load(),
		CompressErrs:      b.CompressErrs.Load(),
		DecompressErrs:    b.DecompressErrs.Load(),
		DictMissErrs:      b.DictMissErrs.Load(),
		SkippedMinSize:    b.SkippedMinSize.Load(),
		SkippedMaxSize:    b.SkippedMaxSize.Load(),
		SkippedIncompress: b.SkippedIncompress.Load(),
	}
	if s.BytesCmpTotal > 0 {
		s.CRCurrent = float64(s.BytesRawTotal) / float64(s.BytesCmpTotal)
	}
	return s
}

type entry struct {
	name  string
	block *Block
}

// table is the immutable namespace set. Entries are ordered longest name
// first so LookupByKey returns the most specific prefix match. The default
// namespace is never part of a table.
type table struct {
	entries []entry
	byName  map[string]*Block
}

// Registry is the process-wide stats singleton.
type Registry struct {
	cur          atomic.Pointer[table]
	global       Block
	defaultBlock *Block
	onlyDefault  atomic.Bool
}

// NewRegistry creates a registry holding only the default namespace.
func NewRegistry() *Registry {
	r := &Registry{defaultBlock: &Block{}}
	r.cur.Store(&table{byName: map[string]*Block{}})
	r.onlyDefault.Store(true)
	return r
}

// Default returns the always-present default block.
func (r *Registry) Default() *Block { return r.defaultBlock }

// Global aggregates every namespace block (default included) into the global
// block and returns it.
func (r *Registry) Global() *Block {
	r.syncGlobal()
	return &r.global
}

// LookupByKey resolves a cache key to the counter block of the namespace
// whose name is the longest prefix of the key, falling back to default.
func (r *Registry) LookupByKey(key string) *Block {
	if r.onlyDefault.Load() {
		return r.defaultBlock
	}
	t := r.cur.Load()
	for _, e := range t.entries {
		if len(e.name) <= len(key) && strings.HasPrefix(key, e.name) {
			return e.block
		}
	}
	return r.defaultBlock
}

// LookupByNS resolves a namespace by exact name. Empty means global,
// "default" means default; unknown names return nil.
func (r *Registry) LookupByNS(name string) *Block {
	switch name {
	case "":
		return r.Global()
	case DefaultNamespace:
		return r.defaultBlock
	}
	return r.cur.Load().byName[name]
}

// Rebuild replaces the namespace set. Counter blocks of surviving namespaces
// are carried over so reloads never reset statistics; blocks for removed
// names are simply dropped (the namespace may reappear with fresh counters).
// "default" and empty names in the list are ignored.
func (r *Registry) Rebuild(names []string) {
	old := r.cur.Load()
	neu := &table{byName: make(map[string]*Block, len(names))}
	for _, name := range names {
		if name == "" || name == DefaultNamespace {
			continue
		}
		if _, dup := neu.byName[name]; dup {
			continue
		}
		b := old.byName[name]
		if b == nil {
			b = &Block{}
		}
		neu.byName[name] = b
		neu.entries = append(neu.entries, entry{name: name, block: b})
	}
	sort.Slice(neu.entries, func(i, j int) bool {
		if len(neu.entries[i].name) != len(neu.entries[j].name) {
			return len(neu.entries[i].name) > len(neu.entries[j].name)
		}
		return neu.entries[i].name < neu.entries[j].name
	})
	r.cur.Store(neu)
	r.onlyDefault.Store(len(neu.entries) == 0)
}

// Namespaces lists the non-default namespace names, most specific first.
func (r *Registry) Namespaces() []string {
	t := r.cur.Load()
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.name)
	}
	return out
}

func (r *Registry) syncGlobal() {
	var raw, cmp, writes, reads uint64
	var cerr, derr, miss, smin, smax, sinc uint64

	add := func(b *Block) {
		raw += b.BytesRawTotal.Load()
		cmp += b.BytesCmpTotal.Load()
		writes += b.WritesTotal.Load()
		reads += b.ReadsTotal.Load()
		cerr += b.CompressErrs.Load()
		derr += b.DecompressErrs.Load()
		miss += b.DictMissErrs.Load()
		smin += b.SkippedMinSize.Load()
		smax += b.SkippedMaxSize.Load()
		sinc += b.SkippedIncompress.Load()
	}

	for _, e := range r.cur.Load().entries {
		add(e.block)
	}
	add(r.defaultBlock)

	r.global.BytesRawTotal.Store(raw)
	r.global.BytesCmpTotal.Store(cmp)
	r.global.WritesTotal.Store(writes)
	r.global.ReadsTotal.Store(reads)
	r.global.CompressErrs.Store(cerr)
	r.global.DecompressErrs.Store(derr)
	r.global.DictMissErrs.Store(miss)
	r.global.SkippedMinSize.Store(smin)
	r.global.SkippedMaxSize.Store(smax)
	r.global.SkippedIncompress.Store(sinc)
}
