package dictgo

import (
	"bytes"
	"encoding/binary"

	"github.com/hupe1980/dictgo/internal/probe"
)

const (
	// headerSize is the dictionary-id prefix of every encoded frame.
	headerSize = 2
	// rawSentinel marks a value stored uncompressed behind a header, used
	// when compression would have grown the value.
	rawSentinel = 0xFFFF
	// minStoredLen is the smallest stored value that can carry a header plus
	// a zstd frame; anything shorter is raw by construction.
	minStoredLen = 7
)

// zstdMagic is the frame magic every zstd frame starts with.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Encode turns a cache value into its stored representation. With compression
// disabled the value passes through unchanged. Otherwise the result is either
// a two-byte dictionary-id header followed by a zstd frame, or the raw
// sentinel header followed by the unchanged value (too small, too large,
// likely incompressible, or compression expanded it).
func (e *Engine) Encode(key string, value []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	if !e.cfg.EnableComp {
		return value, nil
	}

	blk := e.registry.LookupByKey(key)
	blk.WritesTotal.Add(1)
	blk.BytesRawTotal.Add(uint64(len(value)))

	if len(value) < e.cfg.MinCompSize {
		blk.SkippedMinSize.Add(1)
		return rawStored(value), nil
	}
	if len(value) > e.cfg.MaxCompSize {
		blk.SkippedMaxSize.Add(1)
		return rawStored(value), nil
	}
	if probe.IsLikelyIncompressible(value) {
		// Skipped values are not sampled either; they would only poison the
		// training corpus.
		blk.SkippedIncompress.Add(1)
		return rawStored(value), nil
	}

	e.sample(key, value)

	meta := e.table.Load().PickDict(key)

	out := make([]byte, headerSize, headerSize+len(value))
	if meta != nil {
		if codec := meta.Codec(); codec.Enc != nil {
			binary.BigEndian.PutUint16(out, meta.ID)
			out = codec.Enc.EncodeAll(value, out)
		} else {
			meta = nil
		}
	}
	if meta == nil {
		out = e.plainEnc.EncodeAll(value, out)
	}

	if len(out) >= headerSize+len(value) {
		// Compression did not pay off; store raw behind the sentinel so the
		// value still round-trips through Decode.
		blk.SkippedIncompress.Add(1)
		out = rawStored(value)
		e.collector.RecordEncode(len(value), len(out), nil)
		return out, nil
	}

	if blk == e.registry.Default() {
		e.tracker.OnObservation(uint64(len(value)), uint64(len(out)-headerSize))
	}
	blk.BytesCmpTotal.Add(uint64(len(out)))
	e.collector.RecordEncode(len(value), len(out), nil)
	return out, nil
}

// rawStored wraps a value in the raw sentinel header so Decode can strip it
// unambiguously, even when the value itself happens to start with the
// sentinel bytes.
func rawStored(value []byte) []byte {
	out := make([]byte, headerSize+len(value))
	binary.BigEndian.PutUint16(out, rawSentinel)
	copy(out[headerSize:], value)
	return out
}

// sample feeds the training reservoir and the on-disk spooler. Both sides
// are non-blocking; a contended reservoir simply drops the sample.
func (e *Engine) sample(key string, value []byte) {
	if e.res.Active() {
		e.res.Add(value)
	}
	if e.spooler != nil {
		e.spooler.Offer(key, value)
	}
}

// Decode reverses Encode. Stored values that never went through compression
// come back unchanged; unknown dictionary ids return ErrUnknownDict, which
// callers must treat as "delete the entry and refetch".
func (e *Engine) Decode(key string, stored []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	blk := e.registry.LookupByKey(key)
	blk.ReadsTotal.Add(1)

	// The sentinel check has to run before the length cut: a sentinel-wrapped
	// short value is shorter than any compressed frame, and a raw value that
	// happens to start with the sentinel bytes must not lose them.
	if len(stored) >= headerSize &&
		binary.BigEndian.Uint16(stored[:headerSize]) == rawSentinel {
		return stored[headerSize:], nil
	}
	if len(stored) < minStoredLen {
		return stored, nil
	}

	id := binary.BigEndian.Uint16(stored[:headerSize])
	if !bytes.HasPrefix(stored[headerSize:], zstdMagic) {
		// No frame behind the header: the value was stored raw without one.
		return stored, nil
	}

	if id == 0 {
		out, err := e.plainDec.DecodeAll(stored[headerSize:], nil)
		if err != nil {
			blk.DecompressErrs.Add(1)
			e.collector.RecordDecode(err)
			return nil, ErrCorruptFrame
		}
		e.collector.RecordDecode(nil)
		return out, nil
	}

	meta := e.table.Load().LookupByID(id)
	if meta == nil {
		blk.DictMissErrs.Add(1)
		err := &ErrUnknownDict{ID: id}
		e.collector.RecordDecode(err)
		return nil, err
	}
	codec := meta.Codec()
	if codec.Dec == nil {
		blk.DictMissErrs.Add(1)
		err := &ErrUnknownDict{ID: id}
		e.collector.RecordDecode(err)
		return nil, err
	}

	out, err := codec.Dec.DecodeAll(stored[headerSize:], nil)
	if err != nil {
		blk.DecompressErrs.Add(1)
		e.collector.RecordDecode(err)
		return nil, ErrCorruptFrame
	}
	e.collector.RecordDecode(nil)
	return out, nil
}

// IsCompressed reports whether a stored value holds a zstd frame.
func IsCompressed(stored []byte) bool {
	if len(stored) < minStoredLen {
		return false
	}
	if binary.BigEndian.Uint16(stored[:headerSize]) == rawSentinel {
		return false
	}
	return bytes.HasPrefix(stored[headerSize:], zstdMagic)
}

// StoredDictID extracts the dictionary id of a stored value. The second
// return is false for values that are not compressed frames.
func StoredDictID(stored []byte) (uint16, bool) {
	if !IsCompressed(stored) {
		return 0, false
	}
	return binary.BigEndian.Uint16(stored[:headerSize]), true
}
