package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/dict"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dictgo/internal/dictpool"
	"github.com/hupe1980/dictgo/manifest"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func trainDict(t *testing.T) []byte {
	t.Helper()
	var samples [][]byte
	for i := 0; i < 200; i++ {
		samples = append(samples, []byte(fmt.Sprintf(
			"{\"user\":%d,\"name\":\"player-%d\",\"flags\":[%d,%d],\"bio\":%q}",
			i, i, i%7, i%13, strings.Repeat("cache value payload ", 4+i%5))))
	}
	d, err := dict.BuildZstdDict(samples, dict.Options{
		MaxDictSize:    4096,
		HashBytes:      6,
		ZstdDictCompat: true,
		ZstdLevel:      3,
	})
	require.NoError(t, err)
	return d
}

type fixture struct {
	dir   string
	store *manifest.Store
	pool  *dictpool.Pool
	dict  []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		dir:   t.TempDir(),
		store: manifest.NewStore(t.TempDir(), nil),
		pool:  dictpool.New(),
		dict:  trainDict(t),
	}
}

func (f *fixture) config() Config {
	return Config{
		Store:      f.store,
		Pool:       f.pool,
		Level:      3,
		Quarantine: 7 * 24 * time.Hour,
		MaxPerNS:   10,
		Now:        func() time.Time { return testNow },
	}
}

// save persists a dictionary with the given shape and returns its manifest path.
func (f *fixture) save(t *testing.T, basename string, m *manifest.Manifest) string {
	t.Helper()
	e, err := f.store.SaveNew(f.dict, m, basename)
	require.NoError(t, err)
	if m.ID != 0 || !m.Retired.IsZero() {
		require.NoError(t, f.store.Rewrite(e.MFPath, m))
	}
	return e.MFPath
}

func TestScanEmptyDir(t *testing.T) {
	f := newFixture(t)
	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)
	assert.Empty(t, tbl.Metas)
	assert.Nil(t, tbl.PickDict("any"))
	assert.Equal(t, uint64(1), tbl.Generation)
}

func TestScanAssignsSmallestFreeID(t *testing.T) {
	f := newFixture(t)
	f.save(t, "a", &manifest.Manifest{ID: 1, Created: testNow.Add(-2 * time.Hour), Level: 3})
	f.save(t, "b", &manifest.Manifest{ID: 3, Created: testNow.Add(-1 * time.Hour), Level: 3})
	f.save(t, "c", &manifest.Manifest{Created: testNow, Level: 3})

	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)
	require.Len(t, tbl.Metas, 3)

	ids := map[uint16]bool{}
	for _, m := range tbl.Metas {
		ids[m.ID] = true
	}
	assert.True(t, ids[1] && ids[2] && ids[3], "gap id 2 is reused, got %v", ids)

	// The assignment is persisted: a second scan sees the same ids.
	tbl2, err := Scan(f.config(), 2)
	require.NoError(t, err)
	ids2 := map[uint16]bool{}
	for _, m := range tbl2.Metas {
		ids2[m.ID] = true
	}
	assert.Equal(t, ids, ids2)
}

func TestScanQuarantineReservesIDs(t *testing.T) {
	f := newFixture(t)
	recently := testNow.Add(-time.Hour)
	f.save(t, "old", &manifest.Manifest{ID: 1, Created: testNow.Add(-48 * time.Hour), Retired: recently, Level: 3})
	f.save(t, "new", &manifest.Manifest{Created: testNow, Level: 3})

	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)

	var fresh *Meta
	for _, m := range tbl.Metas {
		if m.Active() {
			fresh = m
		}
	}
	require.NotNil(t, fresh)
	assert.Equal(t, uint16(2), fresh.ID, "id 1 is quarantined")
}

func TestScanExpiredQuarantineFreesID(t *testing.T) {
	f := newFixture(t)
	longAgo := testNow.Add(-30 * 24 * time.Hour)
	f.save(t, "old", &manifest.Manifest{ID: 1, Created: longAgo, Retired: longAgo, Level: 3})
	f.save(t, "new", &manifest.Manifest{Created: testNow, Level: 3})

	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)

	var fresh *Meta
	for _, m := range tbl.Metas {
		if m.Active() {
			fresh = m
		}
	}
	require.NotNil(t, fresh)
	assert.Equal(t, uint16(1), fresh.ID)
}

func TestScanGroupsNewestFirst(t *testing.T) {
	f := newFixture(t)
	f.save(t, "a", &manifest.Manifest{ID: 1, Created: testNow.Add(-3 * time.Hour), Level: 3})
	f.save(t, "b", &manifest.Manifest{ID: 2, Created: testNow.Add(-1 * time.Hour), Level: 3})
	f.save(t, "c", &manifest.Manifest{ID: 3, Created: testNow.Add(-2 * time.Hour), Level: 3})

	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)
	require.Len(t, tbl.Spaces, 1)
	require.Equal(t, DefaultNamespace, tbl.Spaces[0].Prefix)

	got := []uint16{}
	for _, m := range tbl.Spaces[0].Dicts {
		got = append(got, m.ID)
	}
	assert.Equal(t, []uint16{2, 3, 1}, got)
	assert.Equal(t, uint16(2), tbl.DefaultDict().ID)
}

func TestScanRetiresSurplus(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.MaxPerNS = 2
	for i, base := range []string{"a", "b", "c", "d"} {
		f.save(t, base, &manifest.Manifest{
			ID:      uint16(i + 1),
			Created: testNow.Add(time.Duration(i) * time.Hour),
			Level:   3,
		})
	}

	tbl, err := Scan(cfg, 1)
	require.NoError(t, err)

	active := 0
	for _, m := range tbl.Metas {
		if m.Active() {
			active++
		}
	}
	assert.Equal(t, 2, active)
	require.Len(t, tbl.Spaces, 1)
	assert.Len(t, tbl.Spaces[0].Dicts, 2)
	// Newest two survive.
	assert.Equal(t, uint16(4), tbl.Spaces[0].Dicts[0].ID)
	assert.Equal(t, uint16(3), tbl.Spaces[0].Dicts[1].ID)

	// Retirement was persisted.
	tbl2, err := Scan(cfg, 2)
	require.NoError(t, err)
	active = 0
	for _, m := range tbl2.Metas {
		if m.Active() {
			active++
		}
	}
	assert.Equal(t, 2, active)
}

func TestScanRetiresUnloadableDict(t *testing.T) {
	f := newFixture(t)
	mfPath := f.save(t, "a", &manifest.Manifest{ID: 1, Created: testNow, Level: 3})

	// Corrupt the dictionary bytes on disk.
	m, err := manifest.Parse(mustRead(t, mfPath))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.store.DictPath(m), []byte("not a dictionary"), 0o644))

	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)
	require.Len(t, tbl.Metas, 1)
	assert.False(t, tbl.Metas[0].Active())
	assert.Nil(t, tbl.DefaultDict())
}

func TestScanCompilesAndPools(t *testing.T) {
	f := newFixture(t)
	f.save(t, "a", &manifest.Manifest{ID: 1, Created: testNow, Level: 3, Signature: "sig-a"})

	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)

	m := tbl.DefaultDict()
	require.NotNil(t, m)
	require.NotNil(t, m.PoolEntry())
	assert.Equal(t, int64(len(f.dict)), m.DictSize)
	assert.Equal(t, 1, f.pool.Len())

	codec := m.Codec()
	in := []byte(strings.Repeat("cache value payload ", 30))
	out, err := codec.Dec.DecodeAll(codec.Enc.EncodeAll(in, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPickDictLongestPrefix(t *testing.T) {
	f := newFixture(t)
	f.save(t, "a", &manifest.Manifest{ID: 1, Created: testNow, Level: 3, Namespaces: []string{"user:"}})
	f.save(t, "b", &manifest.Manifest{ID: 2, Created: testNow, Level: 3, Namespaces: []string{"user:profile:"}})
	f.save(t, "c", &manifest.Manifest{ID: 3, Created: testNow, Level: 3})

	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)

	assert.Equal(t, uint16(2), tbl.PickDict("user:profile:42").ID)
	assert.Equal(t, uint16(1), tbl.PickDict("user:42").ID)
	assert.Equal(t, uint16(3), tbl.PickDict("other:key").ID, "fallback to default")
	assert.Equal(t, []string{"user:", "user:profile:"}, tbl.Namespaces())
}

func TestLookupByID(t *testing.T) {
	f := newFixture(t)
	f.save(t, "a", &manifest.Manifest{ID: 7, Created: testNow, Level: 3})

	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)

	require.NotNil(t, tbl.LookupByID(7))
	assert.Nil(t, tbl.LookupByID(0))
	assert.Nil(t, tbl.LookupByID(8))
	assert.Nil(t, tbl.LookupByID(0xFFFF))
}

func TestClonePlus(t *testing.T) {
	f := newFixture(t)
	f.save(t, "a", &manifest.Manifest{ID: 1, Created: testNow.Add(-time.Hour), Level: 3})

	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)

	codec, err := dictpool.Compile(f.dict, 3)
	require.NoError(t, err)
	entry, err := f.pool.Retain("sig-new", codec, 1)
	require.NoError(t, err)

	fresh := (&Meta{
		ID:        2,
		DictPath:  filepath.Join(f.store.Dir(), "fresh.dict"),
		MFPath:    filepath.Join(f.store.Dir(), "fresh.mf"),
		Created:   testNow,
		Level:     3,
		Prefixes:  []string{DefaultNamespace},
		Signature: "sig-new",
	}).WithEntry(entry)

	neu := ClonePlus(tbl, fresh, 10, 2, testNow)
	assert.Equal(t, uint64(2), neu.Generation)
	require.Len(t, neu.Metas, 2)
	assert.Equal(t, uint16(2), neu.DefaultDict().ID, "new dict is newest")
	assert.NotNil(t, neu.LookupByID(1))
	assert.NotNil(t, neu.LookupByID(2))

	// Old table is untouched.
	assert.Len(t, tbl.Metas, 1)
	assert.Equal(t, uint16(1), tbl.DefaultDict().ID)
}

func TestClonePlusTruncates(t *testing.T) {
	f := newFixture(t)
	for i, base := range []string{"a", "b"} {
		f.save(t, base, &manifest.Manifest{ID: uint16(i + 1), Created: testNow.Add(time.Duration(i) * time.Hour), Level: 3})
	}
	tbl, err := Scan(f.config(), 1)
	require.NoError(t, err)

	fresh := &Meta{ID: 3, Created: testNow.Add(3 * time.Hour), Prefixes: []string{DefaultNamespace}}
	neu := ClonePlus(tbl, fresh, 2, 2, testNow)

	require.Len(t, neu.Spaces, 1)
	assert.Len(t, neu.Spaces[0].Dicts, 2, "namespace view truncated")
	assert.Len(t, neu.Metas, 3, "metas all stay owned by the table")
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
