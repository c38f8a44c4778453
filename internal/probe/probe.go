// Package probe implements a fast heuristic that decides whether a payload
// is worth handing to the compressor at all. Already-compressed containers,
// media files and high-entropy blobs are rejected before any dictionary or
// level selection happens.
package probe

import (
	"bytes"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// sampleBytes bounds every heuristic to the head of the payload.
	sampleBytes = 512

	// asciiThreshold: at least this fraction printable ASCII means "text, compress".
	asciiThreshold = 0.85

	// entropySkip / entropyKeep: Shannon H8 decision band in bits per byte.
	entropySkip = 7.50
	entropyKeep = 7.00

	// probeMinGain: the level-1 micro probe must save at least this fraction.
	probeMinGain = 0.02
)

var (
	probeEnc     *zstd.Encoder
	probeEncOnce sync.Once
)

// fastestEncoder returns a shared level-1 encoder for the micro probe.
// EncodeAll is safe for concurrent use.
func fastestEncoder() *zstd.Encoder {
	probeEncOnce.Do(func() {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			panic("probe: zstd encoder init: " + err.Error())
		}
		probeEnc = enc
	})
	return probeEnc
}

// magicPrefixes are containers and codecs that never benefit from another pass.
var magicPrefixes = [][]byte{
	{0x28, 0xB5, 0x2F, 0xFD},             // zstd
	{0x1F, 0x8B},                         // gzip
	{0x04, 0x22, 0x4D, 0x18},             // lz4 frame
	{0x02, 0x21, 0x4C, 0x18},             // lz4 legacy
	{0x50, 0x4B, 0x03, 0x04},             // zip
	{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}, // xz
	[]byte("BZh"),                        // bzip2
	{0xFF, 0xD8},                         // jpeg
	{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}, // png
	[]byte("GIF87a"),
	[]byte("GIF89a"),
	[]byte("OggS"),
	[]byte("ID3"),    // mp3
	[]byte("%PDF-"),
}

// looksCompressedOrMedia sniffs well-known magic bytes.
func looksCompressedOrMedia(p []byte) bool {
	for _, sig := range magicPrefixes {
		if bytes.HasPrefix(p, sig) {
			return true
		}
	}
	// zlib: CMF/FLG pair with deflate method and valid check bits
	if len(p) >= 2 {
		cmf, flg := uint(p[0]), uint(p[1])
		if cmf&0x0F == 8 && (cmf<<8+flg)%31 == 0 {
			return true
		}
	}
	// webp: RIFF....WEBP
	if len(p) >= 12 && bytes.HasPrefix(p, []byte("RIFF")) && bytes.Equal(p[8:12], []byte("WEBP")) {
		return true
	}
	// mp4 / iso-bmff: size then "ftyp"
	if len(p) >= 8 && bytes.Equal(p[4:8], []byte("ftyp")) {
		return true
	}
	return false
}

func sample(p []byte) []byte {
	if len(p) > sampleBytes {
		return p[:sampleBytes]
	}
	return p
}

// asciiRatio returns the printable/whitespace fraction of the sample.
func asciiRatio(p []byte) float64 {
	s := sample(p)
	if len(s) == 0 {
		return 0
	}
	ascii := 0
	for _, c := range s {
		if c == '\t' || c == '\n' || c == '\r' || (c >= 32 && c <= 126) {
			ascii++
		}
	}
	return float64(ascii) / float64(len(s))
}

// entropyH8 computes the byte-wise Shannon entropy of the sample in bits per byte.
func entropyH8(p []byte) float64 {
	s := sample(p)
	if len(s) == 0 {
		return 8.0
	}
	var hist [256]uint16
	for _, c := range s {
		hist[c]++
	}
	h := 0.0
	n := float64(len(s))
	for _, cnt := range hist {
		if cnt == 0 {
			continue
		}
		pb := float64(cnt) / n
		h -= pb * math.Log2(pb)
	}
	return h
}

// looksBase64 flags blobs that are mostly base64 alphabet with little padding.
// These are typically already-compressed data wrapped in text.
func looksBase64(p []byte) bool {
	s := sample(p)
	if len(s) < 128 {
		return false
	}
	ok, eq := 0, 0
	for _, c := range s {
		b64 := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
			(c >= '0' && c <= '9') || c == '+' || c == '/' || c == '='
		if b64 {
			ok++
		}
		if c == '=' {
			eq++
		}
	}
	return float64(ok)/float64(len(s)) >= 0.90 && eq <= len(s)/4
}

// microProbeSaves compresses the sample at level 1 and reports whether it
// saved at least probeMinGain.
func microProbeSaves(p []byte) bool {
	s := sample(p)
	if len(s) == 0 {
		return false
	}
	cs := fastestEncoder().EncodeAll(s, nil)
	gain := 1.0 - float64(len(cs))/float64(len(s))
	return gain >= probeMinGain
}

// IsLikelyIncompressible reports whether compression should be skipped for p.
// The decision is pure and deterministic for a given buffer.
func IsLikelyIncompressible(p []byte) bool {
	// 1) magic sniff
	if looksCompressedOrMedia(p) {
		return true
	}

	// 2) obvious text
	if asciiRatio(p) >= asciiThreshold {
		return false
	}

	// 3) entropy band
	h := entropyH8(p)
	if h >= entropySkip {
		return true
	}
	if h <= entropyKeep {
		return false
	}

	// 4) base64-ish blobs
	if looksBase64(p) {
		return true
	}

	// 5) micro probe for the ambiguous middle
	if microProbeSaves(p) {
		return false
	}

	return false
}
