// Package dictpool owns the compiled Zstd dictionary objects. A single
// dictionary often serves several namespaces and several overlapping router
// tables, so compiled encoders and decoders are shared through a refcounted
// pool and freed exactly once, when the last reference goes away.
package dictpool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// Codec bundles the encoder/decoder pair compiled for one dictionary.
// EncodeAll and DecodeAll on these are safe for concurrent use.
type Codec struct {
	Enc *zstd.Encoder
	Dec *zstd.Decoder
}

func (c Codec) valid() bool { return c.Enc != nil && c.Dec != nil }

func (c Codec) close() {
	if c.Enc != nil {
		c.Enc.Close()
	}
	if c.Dec != nil {
		c.Dec.Close()
	}
}

// Compile builds the codec pair for raw dictionary bytes at the given level.
func Compile(dict []byte, level int) (Codec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderDict(dict),
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return Codec{}, fmt.Errorf("compile encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderDicts(dict),
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		enc.Close()
		return Codec{}, fmt.Errorf("compile decoder: %w", err)
	}
	return Codec{Enc: enc, Dec: dec}, nil
}

// Key derives the pool key for a dictionary: its signature when present,
// otherwise the absolute dict path.
func Key(signature, dictPath string) string {
	if signature != "" {
		return signature
	}
	return dictPath
}

// Entry is one pooled dictionary. Holders keep a non-owning pointer and give
// it back through Release.
type Entry struct {
	key   string
	codec Codec
	refs  atomic.Int64
}

// Codec returns the shared compiled pair. Valid until the entry's refcount
// reaches zero.
func (e *Entry) Codec() Codec { return e.codec }

// Pool is the process-wide registry. The mutex only guards the map; Zstd
// objects are closed outside of it.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func New() *Pool {
	return &Pool{entries: make(map[string]*Entry)}
}

// Retain hands ownership of codec to the pool under key. If the key is
// already pooled, the provided codec is redundant and is closed, and the
// existing entry is returned without touching its refcount: the initial
// count already accounted for every prefix of the owning metadata.
// For a new key the codec must be valid and the entry starts at
// max(initialRefs, 1).
func (p *Pool) Retain(key string, codec Codec, initialRefs int) (*Entry, error) {
	var redundant Codec

	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		redundant = codec
	} else {
		if !codec.valid() {
			p.mu.Unlock()
			return nil, fmt.Errorf("dictpool: no compiled codec for new key %q", key)
		}
		if initialRefs < 1 {
			initialRefs = 1
		}
		e = &Entry{key: key, codec: codec}
		e.refs.Store(int64(initialRefs))
		p.entries[key] = e
	}
	p.mu.Unlock()

	redundant.close()
	return e, nil
}

// Release drops one reference and returns the remaining count. At zero the
// entry is unlinked and its Zstd objects are closed.
func (p *Pool) Release(e *Entry) int {
	if e == nil {
		return 0
	}
	remaining := e.refs.Add(-1)
	if remaining > 0 {
		return int(remaining)
	}
	if remaining < 0 {
		// Already freed by an earlier release; tolerated so overlapping
		// retired tables can release the same key independently.
		return 0
	}

	p.mu.Lock()
	if cur, ok := p.entries[e.key]; ok && cur == e {
		delete(p.entries, e.key)
	}
	p.mu.Unlock()

	e.codec.close()
	return 0
}

// Lookup returns the pooled entry for key, or nil. The caller does not gain
// a reference.
func (p *Pool) Lookup(key string) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries[key]
}

// Refcount snapshots the entry's reference count.
func (p *Pool) Refcount(e *Entry) int {
	if e == nil {
		return 0
	}
	return int(e.refs.Load())
}

// Len reports the number of pooled dictionaries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
