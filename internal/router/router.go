// Package router builds and holds the namespace-to-dictionary routing
// tables. A table is an immutable snapshot produced by scanning the
// dictionary directory; the engine publishes it through an atomic pointer
// and retires the previous one to the garbage collector.
package router

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/dictgo/internal/dictpool"
	"github.com/hupe1980/dictgo/manifest"
)

// DefaultNamespace is the fallback prefix served by every deployment.
const DefaultNamespace = "default"

// MaxDictID is the largest assignable dictionary id. 0 means "no dict" in
// the wire header and 0xFFFF is the raw sentinel, so neither is ever used
// as an identity.
const MaxDictID = 0xFFFE

// Meta is one dictionary known to a table. The pool entry is a non-owning
// reference; the pool frees the compiled objects when the last table
// referencing them retires.
type Meta struct {
	ID        uint16
	DictPath  string
	MFPath    string
	Created   time.Time
	Retired   time.Time
	Level     int
	Prefixes  []string
	Signature string
	DictSize  int64

	entry *dictpool.Entry
}

// Active reports whether the dictionary has not been retired.
func (m *Meta) Active() bool { return m.Retired.IsZero() }

// Codec returns the shared compiled codec pair, zero when not compiled.
func (m *Meta) Codec() dictpool.Codec {
	if m.entry == nil {
		return dictpool.Codec{}
	}
	return m.entry.Codec()
}

// PoolEntry exposes the pool reference for release by the table owner.
func (m *Meta) PoolEntry() *dictpool.Entry { return m.entry }

// PoolKey is the identity under which this dictionary is pooled.
func (m *Meta) PoolKey() string { return dictpool.Key(m.Signature, m.DictPath) }

// Manifest rebuilds the persistable manifest record from the meta.
func (m *Meta) Manifest() *manifest.Manifest {
	return &manifest.Manifest{
		ID:         m.ID,
		DictFile:   filepath.Base(m.DictPath),
		Namespaces: m.Prefixes,
		Created:    m.Created,
		Level:      m.Level,
		Signature:  m.Signature,
		Retired:    m.Retired,
	}
}

// Namespace is one prefix and its dictionaries, newest first.
type Namespace struct {
	Prefix string
	Dicts  []*Meta
}

// Table is an immutable routing snapshot.
type Table struct {
	Spaces     []Namespace
	Metas      []*Meta
	Generation uint64
	BuiltAt    time.Time

	// byID is the dense id lookup over the full 16-bit space. Only active,
	// compiled dictionaries appear here.
	byID []*Meta
}

// LookupByID resolves a wire header id to its dictionary. Ids 0 and 0xFFFF
// carry special meaning in the header and never resolve.
func (t *Table) LookupByID(id uint16) *Meta {
	if t == nil || id == 0 || int(id) >= len(t.byID) {
		return nil
	}
	return t.byID[id]
}

// PickDict chooses the dictionary for a key: longest-prefix match across the
// non-default namespaces, falling back to the default namespace's newest
// dictionary. Nil means "compress without a dictionary".
func (t *Table) PickDict(key string) *Meta {
	if t == nil {
		return nil
	}
	var best *Meta
	bestLen := -1
	for i := range t.Spaces {
		ns := &t.Spaces[i]
		if ns.Prefix == DefaultNamespace || len(ns.Dicts) == 0 {
			continue
		}
		if len(ns.Prefix) > bestLen && strings.HasPrefix(key, ns.Prefix) {
			best = ns.Dicts[0]
			bestLen = len(ns.Prefix)
		}
	}
	if best != nil {
		return best
	}
	return t.DefaultDict()
}

// DefaultDict returns the newest dictionary of the default namespace, or nil.
func (t *Table) DefaultDict() *Meta {
	if t == nil {
		return nil
	}
	for i := range t.Spaces {
		if t.Spaces[i].Prefix == DefaultNamespace && len(t.Spaces[i].Dicts) > 0 {
			return t.Spaces[i].Dicts[0]
		}
	}
	return nil
}

// Namespaces lists the non-default prefixes present in the table.
func (t *Table) Namespaces() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.Spaces))
	for i := range t.Spaces {
		if t.Spaces[i].Prefix != DefaultNamespace {
			out = append(out, t.Spaces[i].Prefix)
		}
	}
	return out
}

// sortNewestFirst orders a namespace list by created descending, ties broken
// by the larger id.
func sortNewestFirst(dicts []*Meta) {
	sort.SliceStable(dicts, func(i, j int) bool {
		if !dicts[i].Created.Equal(dicts[j].Created) {
			return dicts[i].Created.After(dicts[j].Created)
		}
		return dicts[i].ID > dicts[j].ID
	})
}

// groupByPrefix builds sorted namespace lists from the given metas.
func groupByPrefix(metas []*Meta) []Namespace {
	byPrefix := make(map[string][]*Meta)
	for _, m := range metas {
		for _, p := range m.Prefixes {
			byPrefix[p] = append(byPrefix[p], m)
		}
	}
	prefixes := make([]string, 0, len(byPrefix))
	for p := range byPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	spaces := make([]Namespace, 0, len(prefixes))
	for _, p := range prefixes {
		dicts := byPrefix[p]
		sortNewestFirst(dicts)
		spaces = append(spaces, Namespace{Prefix: p, Dicts: dicts})
	}
	return spaces
}

// buildTable assembles the immutable snapshot from fully prepared metas.
// Only active metas enter the namespace lists and the id lookup; retired
// metas stay in the flat array so the GC can quarantine their files.
func buildTable(metas []*Meta, generation uint64, now time.Time) *Table {
	t := &Table{
		Metas:      metas,
		Generation: generation,
		BuiltAt:    now,
		byID:       make([]*Meta, 1<<16),
	}

	var active []*Meta
	for _, m := range metas {
		if !m.Active() {
			continue
		}
		active = append(active, m)
		if m.ID == 0 {
			continue
		}
		cur := t.byID[m.ID]
		if cur == nil || m.Created.After(cur.Created) {
			t.byID[m.ID] = m
		}
	}
	t.Spaces = groupByPrefix(active)
	return t
}

// ClonePlus builds a new table from an existing one plus one freshly trained
// dictionary. Namespace lists are rebuilt and truncated to maxPerNS as a
// view; surplus metas remain owned by the table and are not released here.
func ClonePlus(old *Table, newMeta *Meta, maxPerNS int, generation uint64, now time.Time) *Table {
	var metas []*Meta
	if old != nil {
		metas = make([]*Meta, 0, len(old.Metas)+1)
		for _, m := range old.Metas {
			cp := *m
			metas = append(metas, &cp)
		}
	}
	metas = append(metas, newMeta)

	t := buildTable(metas, generation, now)
	if maxPerNS > 0 {
		for i := range t.Spaces {
			if len(t.Spaces[i].Dicts) > maxPerNS {
				t.Spaces[i].Dicts = t.Spaces[i].Dicts[:maxPerNS]
			}
		}
	}
	return t
}

// WithEntry attaches a pool entry to a meta; used by the trainer when it
// compiles the new dictionary before publishing.
func (m *Meta) WithEntry(e *dictpool.Entry) *Meta {
	m.entry = e
	return m
}

// TakeEntry detaches and returns the pool reference. The GC uses this to
// release a meta exactly once even when its node is requeued.
func (m *Meta) TakeEntry() *dictpool.Entry {
	e := m.entry
	m.entry = nil
	return e
}
