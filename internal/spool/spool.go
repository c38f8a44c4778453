// Package spool writes sampled key/value pairs to an on-disk spool file for
// offline analysis and dictionary experiments. Producers never block: a
// Bernoulli trial gates each offer and a full channel drops the sample.
package spool

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/time/rate"

	"github.com/hupe1980/dictgo/internal/fs"
)

const defaultQueueDepth = 256

// Config tunes the spooler.
type Config struct {
	Dir  string
	Fsys fs.FileSystem

	// Probability is the Bernoulli acceptance probability per offer.
	Probability float64
	// MaxBytes caps the uncompressed bytes written; the spooler stops when
	// the cap is hit. Zero means unlimited.
	MaxBytes int64
	// Window bounds the sampling duration from the first write. Zero means
	// unlimited.
	Window time.Duration
	// BytesPerSec throttles spool writes so sampling can never saturate the
	// disk. Zero disables throttling.
	BytesPerSec float64

	Logger *slog.Logger
	Now    func() time.Time
}

type record struct {
	key string
	val []byte
}

// Spooler is the background writer. One goroutine consumes the queue and
// owns the file handle.
type Spooler struct {
	cfg     Config
	ch      chan record
	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once

	records atomic.Uint64
	bytes   atomic.Int64
	dropped atomic.Uint64
	// exhausted flips when the byte cap or the window is hit; offers become
	// no-ops from then on.
	exhausted atomic.Bool
}

// New creates a spooler; Start launches its writer goroutine.
func New(cfg Config) *Spooler {
	if cfg.Fsys == nil {
		cfg.Fsys = fs.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Spooler{
		cfg:  cfg,
		ch:   make(chan record, defaultQueueDepth),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (s *Spooler) Start() {
	go s.run()
}

// Stop flushes and closes the spool file and waits for the writer.
// Idempotent.
func (s *Spooler) Stop() {
	s.stopped.Do(func() { close(s.stop) })
	<-s.done
}

// Offer samples one key/value pair. It copies the value before handing it to
// the writer; on a full queue the sample is dropped.
func (s *Spooler) Offer(key string, value []byte) {
	if s.exhausted.Load() {
		return
	}
	if s.cfg.Probability <= 0 || rand.Float64() >= s.cfg.Probability {
		return
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	select {
	case s.ch <- record{key: key, val: buf}:
	default:
		s.dropped.Add(1)
	}
}

// Stats returns (records written, uncompressed bytes, dropped offers).
func (s *Spooler) Stats() (uint64, int64, uint64) {
	return s.records.Load(), s.bytes.Load(), s.dropped.Load()
}

func (s *Spooler) run() {
	defer close(s.done)

	var (
		file    fs.File
		lzw     *lz4.Writer
		limiter *rate.Limiter
		started time.Time
	)
	if s.cfg.BytesPerSec > 0 {
		burst := int(s.cfg.BytesPerSec)
		if burst < 1024 {
			burst = 1024
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.BytesPerSec), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	finish := func() {
		if lzw != nil {
			if err := lzw.Close(); err != nil {
				s.cfg.Logger.Warn("closing spool stream", "error", err)
			}
			lzw = nil
		}
		if file != nil {
			file.Close()
			file = nil
		}
	}
	defer finish()

	for {
		var rec record
		select {
		case <-s.stop:
			return
		case rec = <-s.ch:
		}

		now := s.cfg.Now()
		if lzw == nil {
			started = now
			f, w, err := s.open(now)
			if err != nil {
				s.cfg.Logger.Error("opening spool file", "error", err)
				s.exhausted.Store(true)
				return
			}
			file, lzw = f, w
		}

		if s.cfg.Window > 0 && now.Sub(started) >= s.cfg.Window {
			s.cfg.Logger.Info("sampling window elapsed, stopping spooler")
			s.exhausted.Store(true)
			return
		}

		n := int64(8 + len(rec.key) + len(rec.val))
		if limiter != nil {
			if err := waitN(ctx, limiter, int(n)); err != nil {
				return
			}
		}
		if err := writeRecord(lzw, rec); err != nil {
			s.cfg.Logger.Error("spool write failed", "error", err)
			s.exhausted.Store(true)
			return
		}
		s.records.Add(1)
		total := s.bytes.Add(n)

		if s.cfg.MaxBytes > 0 && total >= s.cfg.MaxBytes {
			s.cfg.Logger.Info("spool byte cap reached", "bytes", total)
			s.exhausted.Store(true)
			return
		}
	}
}

// waitN reserves n bytes from the limiter, splitting reservations larger
// than the burst.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	for n > 0 {
		chunk := n
		if chunk > limiter.Burst() {
			chunk = limiter.Burst()
		}
		if err := limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// writeRecord emits the fixed 8-byte header (key length, value length, both
// little-endian) followed by the key and value bytes.
func writeRecord(w *lz4.Writer, rec record) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(rec.key)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(rec.val)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte(rec.key)); err != nil {
		return err
	}
	_, err := w.Write(rec.val)
	return err
}

func (s *Spooler) open(now time.Time) (fs.File, *lz4.Writer, error) {
	if err := s.cfg.Fsys.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return nil, nil, err
	}
	name := fmt.Sprintf("samples_%s.bin.lz4", now.UTC().Format("20060102_150405"))
	f, err := s.cfg.Fsys.OpenFile(filepath.Join(s.cfg.Dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	s.cfg.Logger.Info("spooling samples", "file", name)
	return f, lz4.NewWriter(f), nil
}

// ReadAll decodes a spool file back into key/value pairs; used by offline
// tooling and tests.
func ReadAll(fsys fs.FileSystem, path string) (keys []string, vals [][]byte, err error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := lz4.NewReader(f)
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return keys, vals, nil
			}
			return nil, nil, err
		}
		klen := binary.LittleEndian.Uint32(hdr[0:4])
		vlen := binary.LittleEndian.Uint32(hdr[4:8])
		key := make([]byte, klen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, nil, err
		}
		val := make([]byte, vlen)
		if _, err := io.ReadFull(r, val); err != nil {
			return nil, nil, err
		}
		keys = append(keys, string(key))
		vals = append(vals, val)
	}
}
