package gcq

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dictgo/internal/router"
)

var gcNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// tableWith builds a minimal retired table owning the given metas.
func tableWith(gen uint64, metas ...*router.Meta) *router.Table {
	return &router.Table{Metas: metas, Generation: gen, BuiltAt: gcNow}
}

func writeArtifacts(t *testing.T, dir, base string) (string, string) {
	t.Helper()
	dictPath := filepath.Join(dir, base+".dict")
	mfPath := filepath.Join(dir, base+".mf")
	require.NoError(t, os.WriteFile(dictPath, []byte("d"), 0o644))
	require.NoError(t, os.WriteFile(mfPath, []byte("m"), 0o644))
	return dictPath, mfPath
}

func newQueue(clk *clock, current CurrentTable) *Queue {
	return New(Config{
		Current:    current,
		CoolOff:    time.Hour,
		Quarantine: 24 * time.Hour,
		Now:        clk.now,
	})
}

func TestCoolOffDefersCollection(t *testing.T) {
	clk := &clock{t: gcNow}
	q := newQueue(clk, func() *router.Table { return nil })

	retired := gcNow.Add(-48 * time.Hour)
	m := &router.Meta{ID: 1, Retired: retired}
	q.Enqueue(tableWith(1, m))

	assert.Equal(t, 0, q.Collect(), "inside cool-off")
	assert.Equal(t, 1, q.Pending())

	clk.advance(2 * time.Hour)
	assert.Equal(t, 1, q.Collect())
	assert.Equal(t, 0, q.Pending())
}

func TestLiveMetaKeepsTable(t *testing.T) {
	clk := &clock{t: gcNow}

	live := &router.Meta{ID: 1, DictPath: "/d/a.dict", MFPath: "/d/a.mf", Retired: gcNow.Add(-72 * time.Hour)}
	// Build a current table that still routes id 1 to the same artifact.
	cp := *live
	cp.Retired = time.Time{}
	current := router.ClonePlus(nil, &cp, 0, 2, gcNow)

	q := newQueue(clk, func() *router.Table { return current })
	q.Enqueue(tableWith(1, live))

	clk.advance(2 * time.Hour)
	assert.Equal(t, 0, q.Collect(), "meta still live in current table")
	assert.Equal(t, 1, q.Pending())

	// Once the current table stops referencing it and quarantine elapsed,
	// the node is disposed.
	current = &router.Table{Generation: 3}
	clk.advance(72 * time.Hour)
	assert.Equal(t, 1, q.Collect())
}

func TestQuarantineGatesUnlink(t *testing.T) {
	clk := &clock{t: gcNow}
	dir := t.TempDir()
	dictPath, mfPath := writeArtifacts(t, dir, "a")

	m := &router.Meta{ID: 1, DictPath: dictPath, MFPath: mfPath, Retired: gcNow.Add(-2 * time.Hour)}
	q := newQueue(clk, func() *router.Table { return nil })
	q.Enqueue(tableWith(1, m))

	clk.advance(2 * time.Hour)
	assert.Equal(t, 0, q.Collect(), "quarantine not elapsed")
	assert.FileExists(t, dictPath)
	assert.FileExists(t, mfPath)

	clk.advance(24 * time.Hour)
	assert.Equal(t, 1, q.Collect())
	assert.NoFileExists(t, dictPath)
	assert.NoFileExists(t, mfPath)
}

func TestActiveMetaNeverUnlinked(t *testing.T) {
	clk := &clock{t: gcNow}
	dir := t.TempDir()
	dictPath, mfPath := writeArtifacts(t, dir, "a")

	// Not retired at all: files must stay, table must stay queued.
	m := &router.Meta{ID: 1, DictPath: dictPath, MFPath: mfPath}
	q := newQueue(clk, func() *router.Table { return nil })
	q.Enqueue(tableWith(1, m))

	clk.advance(100 * 24 * time.Hour)
	assert.Equal(t, 0, q.Collect())
	assert.FileExists(t, dictPath)
	assert.Equal(t, 1, q.Pending())
}

func TestMissingFilesTolerated(t *testing.T) {
	clk := &clock{t: gcNow}
	m := &router.Meta{
		ID:       1,
		DictPath: filepath.Join(t.TempDir(), "gone.dict"),
		MFPath:   filepath.Join(t.TempDir(), "gone.mf"),
		Retired:  gcNow.Add(-72 * time.Hour),
	}
	q := newQueue(clk, func() *router.Table { return nil })
	q.Enqueue(tableWith(1, m))

	clk.advance(2 * time.Hour)
	assert.Equal(t, 1, q.Collect(), "ENOENT on unlink is not an error")
}

func TestFIFOFairness(t *testing.T) {
	clk := &clock{t: gcNow}
	q := newQueue(clk, func() *router.Table { return nil })

	old := gcNow.Add(-72 * time.Hour)
	q.Enqueue(tableWith(1, &router.Meta{ID: 1, Retired: old}))
	q.Enqueue(tableWith(2, &router.Meta{ID: 2, Retired: old}))
	q.Enqueue(tableWith(3, &router.Meta{ID: 3, Retired: old}))

	clk.advance(2 * time.Hour)
	assert.Equal(t, 3, q.Collect(), "whole batch drained in one cycle")
}

func TestStopDrainsOnce(t *testing.T) {
	clk := &clock{t: gcNow}
	q := newQueue(clk, func() *router.Table { return nil })
	q.Enqueue(tableWith(1, &router.Meta{ID: 1, Retired: gcNow.Add(-72 * time.Hour)}))
	clk.advance(2 * time.Hour)

	q.Start()
	q.Stop()
	q.Stop() // idempotent
	assert.Equal(t, 0, q.Pending())
}
