package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/dict"
	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/dictgo"
	"github.com/hupe1980/dictgo/internal/spool"
	"github.com/hupe1980/dictgo/manifest"
)

var CLI struct {
	Train      Train      `cmd:"" help:"train a dictionary from spooled samples"`
	List       List       `cmd:"" help:"list the dictionaries of a directory"`
	Inspect    Inspect    `cmd:"" help:"summarize a spool file"`
	Compress   Compress   `cmd:"" help:"compress stdin with the dictionaries of a directory"`
	Decompress Decompress `cmd:"" help:"decompress stdin with the dictionaries of a directory"`
	Publish    Publish    `cmd:"" help:"upload dictionary artifacts to object storage"`
}

type dictDir struct {
	Dir string `help:"dictionary directory" short:"d" required:""`
}

type Train struct {
	dictDir

	Spool      []string `arg:"" name:"spool-file" help:"lz4 spool files produced by the sampler"`
	Namespaces []string `help:"namespace prefixes the dictionary serves" default:"default"`
	Size       int      `help:"target dictionary size in bytes" default:"262144"`
	Level      int      `help:"zstd level the dictionary is tuned for" default:"3"`
	Optimize   bool     `help:"spend more effort on cover selection"`
}

func (t *Train) Run(_ *Context) error {
	var samples [][]byte
	for _, path := range t.Spool {
		_, vals, err := spool.ReadAll(nil, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		samples = append(samples, vals...)
	}
	if len(samples) == 0 {
		return fmt.Errorf("no samples in %d spool file(s)", len(t.Spool))
	}

	opts := dict.Options{
		MaxDictSize:    t.Size,
		HashBytes:      6,
		ZstdDictCompat: true,
		ZstdLevel:      zstd.EncoderLevelFromZstd(t.Level),
	}
	if t.Optimize {
		opts.HashBytes = 8
	}
	raw, err := dict.BuildZstdDict(samples, opts)
	if err != nil {
		return err
	}

	basename := uuid.NewString()
	store := manifest.NewStore(t.Dir, nil)
	entry, err := store.SaveNew(raw, &manifest.Manifest{
		Namespaces: t.Namespaces,
		Created:    time.Now().UTC(),
		Level:      t.Level,
	}, basename)
	if err != nil {
		return err
	}

	fmt.Printf("trained %d bytes from %d samples -> %s\n",
		len(raw), len(samples), entry.DictPath)
	return nil
}

type List struct {
	dictDir
}

func (l *List) Run(_ *Context) error {
	store := manifest.NewStore(l.Dir, nil)
	entries, err := store.Scan(func(path string, err error) {
		fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		m := e.Manifest
		state := "active"
		if !m.Active() {
			state = fmt.Sprintf("retired %s", m.Retired.Format(time.RFC3339))
		}
		fmt.Printf("%-5d %-40s level=%d created=%s namespaces=%v %s\n",
			m.ID, filepath.Base(e.DictPath), m.Level,
			m.Created.Format(time.RFC3339), m.Namespaces, state)
	}
	return nil
}

type Inspect struct {
	File string `arg:"" help:"spool file to summarize"`
}

func (i *Inspect) Run(_ *Context) error {
	keys, vals, err := spool.ReadAll(nil, i.File)
	if err != nil {
		return err
	}
	var bytes int
	for _, v := range vals {
		bytes += len(v)
	}
	fmt.Printf("%s: %d records, %d value bytes\n", i.File, len(keys), bytes)
	if len(vals) > 0 {
		fmt.Printf("mean value size: %d bytes\n", bytes/len(vals))
	}
	return nil
}

type codecCmd struct {
	dictDir

	Key string `help:"cache key used for namespace routing" default:"default"`
}

func (c *codecCmd) engine() (*dictgo.Engine, error) {
	cfg := dictgo.DefaultConfig()
	cfg.DictDir = c.Dir
	cfg.EnableTraining = false
	return dictgo.New(cfg,
		dictgo.WithRoleProvider(dictgo.StaticRole(dictgo.RoleReplica)),
	)
}

type Compress struct {
	codecCmd
}

func (c *Compress) Run(_ *Context) error {
	engine, err := c.engine()
	if err != nil {
		return err
	}
	defer engine.Close()

	value, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	stored, err := engine.Encode(c.Key, value)
	if err != nil {
		return err
	}
	if id, ok := dictgo.StoredDictID(stored); ok {
		fmt.Fprintf(os.Stderr, "%d -> %d bytes (dict %d)\n", len(value), len(stored), id)
	} else {
		fmt.Fprintf(os.Stderr, "%d -> %d bytes (raw)\n", len(value), len(stored))
	}
	_, err = os.Stdout.Write(stored)
	return err
}

type Decompress struct {
	codecCmd
}

func (d *Decompress) Run(_ *Context) error {
	engine, err := d.engine()
	if err != nil {
		return err
	}
	defer engine.Close()

	stored, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	value, err := engine.Decode(d.Key, stored)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(value)
	return err
}
